package gateway

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	stripeBaseURL = "https://api.stripe.com/v1"
	stripeTimeout = 10 * time.Second

	// stripeSignatureTolerance bounds how old a webhook timestamp may be;
	// beyond it a valid signature is still rejected to stop replays.
	stripeSignatureTolerance = 5 * time.Minute
)

// Stripe implements Client against the Stripe PaymentIntents API.
type Stripe struct {
	httpClient    *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	now           func() time.Time
}

type StripeOption func(*Stripe)

func WithStripeHTTPClient(client *http.Client) StripeOption {
	return func(s *Stripe) { s.httpClient = client }
}

func WithStripeBaseURL(baseURL string) StripeOption {
	return func(s *Stripe) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithStripeClock overrides the clock used for signature tolerance checks.
func WithStripeClock(now func() time.Time) StripeOption {
	return func(s *Stripe) { s.now = now }
}

func NewStripe(secretKey, webhookSecret string, opts ...StripeOption) *Stripe {
	s := &Stripe{
		httpClient:    &http.Client{Timeout: stripeTimeout},
		baseURL:       stripeBaseURL,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stripe) Name() string { return "stripe" }

// CreateOrder creates a PaymentIntent; the intent id doubles as our order id.
func (s *Stripe) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(input.AmountCents, 10))
	form.Set("currency", strings.ToLower(input.Currency))
	form.Set("metadata[receipt]", input.Receipt)

	var resp struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := s.do(ctx, "/payment_intents", form, input.Receipt, &resp); err != nil {
		return nil, err
	}
	return &Order{ID: resp.ID, AmountCents: resp.Amount, Currency: strings.ToUpper(resp.Currency)}, nil
}

// VerifyProof checks a server-issued confirmation token:
// HMAC-SHA256(order_id + "|" + transaction_id) keyed with the webhook secret.
// Stripe's authoritative path is the webhook; the proof only lets the client
// short-cut the UI state.
func (s *Stripe) VerifyProof(proof Proof) error {
	payload := proof.OrderID + "|" + proof.TransactionID
	expected := hmacHex([]byte(payload), []byte(s.webhookSecret))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(proof.Signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyWebhook checks the Stripe-Signature header: "t=<unix>,v1=<hex>" where
// v1 = HMAC-SHA256("<t>.<body>") keyed with the webhook secret. Multiple v1
// entries are accepted if any matches (secret rotation).
func (s *Stripe) VerifyWebhook(payload []byte, signatureHeader string) error {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return ErrInvalidSignature
	}

	signed := timestamp + "." + string(payload)
	expected := hmacHex([]byte(signed), []byte(s.webhookSecret))
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(sig)))) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (s *Stripe) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope.ID == "" || envelope.Data.Object.ID == "" {
		return nil, ErrMalformedPayload
	}

	event := &WebhookEvent{
		EventID: envelope.ID,
		// The intent id is both our order id and the transaction id.
		OrderID:       envelope.Data.Object.ID,
		TransactionID: envelope.Data.Object.ID,
		AmountCents:   envelope.Data.Object.Amount,
		Raw:           payload,
	}
	switch envelope.Type {
	case "payment_intent.succeeded":
		event.Kind = EventPaymentCompleted
	case "payment_intent.payment_failed":
		event.Kind = EventPaymentFailed
	default:
		event.Kind = EventIgnored
	}
	return event, nil
}

func (s *Stripe) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", input.TransactionID)
	form.Set("amount", strconv.FormatInt(input.AmountCents, 10))

	var resp struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, "/refunds", form, input.IdempotencyKey, &resp); err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: resp.ID}, nil
}

func (s *Stripe) do(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stripe POST %s: status %d: %s", path, resp.StatusCode, truncate(data, 256))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode stripe response: %w", err)
		}
	}
	return nil
}
