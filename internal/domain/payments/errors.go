package payments

import "errors"

var (
	ErrNotFound       = errors.New("payment not found")
	ErrRefundNotFound = errors.New("refund not found")

	ErrAlreadyPaid        = errors.New("registration is already paid")
	ErrPaymentNotRequired = errors.New("event does not require payment")
	ErrSignatureMismatch  = errors.New("gateway signature mismatch")
	ErrUnknownGateway     = errors.New("unknown payment gateway")

	// ErrAlreadyProcessed is returned when a refund decision targets a
	// refund that is no longer pending.
	ErrAlreadyProcessed = errors.New("refund already processed")

	// ErrGatewayFailure wraps gateway-side refund failures; the refund row
	// is marked failed and remains retryable under the same idempotency key.
	ErrGatewayFailure = errors.New("gateway call failed")
)
