// Package gateway wraps the payment gateways (Razorpay, Stripe) behind one
// client interface. All signature verification happens here, before any
// payload content is trusted.
package gateway

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidSignature = errors.New("invalid gateway signature")
	ErrMalformedPayload = errors.New("malformed gateway payload")
	ErrUnknownGateway   = errors.New("unknown gateway")
)

// EventKind classifies webhook events the registration core reacts to.
type EventKind string

const (
	EventPaymentCompleted EventKind = "payment_completed"
	EventPaymentFailed    EventKind = "payment_failed"
	EventIgnored          EventKind = "ignored"
)

// Order is a gateway-side payment intent.
type Order struct {
	ID          string
	AmountCents int64
	Currency    string
}

type CreateOrderInput struct {
	AmountCents int64
	Currency    string
	// Receipt ties the order back to the registration for audit.
	Receipt string
}

// Proof is a client-submitted payment confirmation: the gateway's own fields
// plus a signature over them that only the gateway (or a holder of the
// secret) could have produced.
type Proof struct {
	OrderID       string
	TransactionID string
	Signature     string
}

// WebhookEvent is a parsed, signature-verified gateway notification.
type WebhookEvent struct {
	// EventID is the gateway's unique id for this delivery, used for
	// at-least-once dedup.
	EventID       string
	Kind          EventKind
	OrderID       string
	TransactionID string
	AmountCents   int64
	Raw           []byte
}

type RefundInput struct {
	TransactionID string
	AmountCents   int64
	// IdempotencyKey is the refund's ULID; retries reuse it unchanged so the
	// gateway never double-refunds.
	IdempotencyKey string
}

type RefundResult struct {
	RefundID string
}

// Client is one payment gateway.
type Client interface {
	Name() string
	CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error)
	// VerifyProof checks a client-submitted signature against the gateway
	// secret. It must be constant-time.
	VerifyProof(proof Proof) error
	// VerifyWebhook checks the signature header over the raw body. Callers
	// must not parse the body before this succeeds.
	VerifyWebhook(payload []byte, signatureHeader string) error
	ParseWebhook(payload []byte) (*WebhookEvent, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)
}

// Registry resolves gateway clients by name.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

func (r *Registry) Get(name string) (Client, error) {
	client, ok := r.clients[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return client, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
