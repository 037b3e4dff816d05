package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	razorpayBaseURL = "https://api.razorpay.com/v1"
	razorpayTimeout = 10 * time.Second
)

// Razorpay implements Client against the Razorpay Orders API. Amounts are in
// the currency's smallest unit, matching our cents representation.
type Razorpay struct {
	httpClient    *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
}

type RazorpayOption func(*Razorpay)

func WithRazorpayHTTPClient(client *http.Client) RazorpayOption {
	return func(r *Razorpay) { r.httpClient = client }
}

func WithRazorpayBaseURL(baseURL string) RazorpayOption {
	return func(r *Razorpay) { r.baseURL = strings.TrimRight(baseURL, "/") }
}

func NewRazorpay(keyID, keySecret, webhookSecret string, opts ...RazorpayOption) *Razorpay {
	r := &Razorpay{
		httpClient:    &http.Client{Timeout: razorpayTimeout},
		baseURL:       razorpayBaseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Razorpay) Name() string { return "razorpay" }

func (r *Razorpay) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   input.AmountCents,
		"currency": input.Currency,
		"receipt":  input.Receipt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	var resp struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := r.do(ctx, http.MethodPost, "/orders", body, "", &resp); err != nil {
		return nil, err
	}
	return &Order{ID: resp.ID, AmountCents: resp.Amount, Currency: resp.Currency}, nil
}

// VerifyProof checks the checkout callback signature:
// HMAC-SHA256(order_id + "|" + payment_id) keyed with the API secret.
func (r *Razorpay) VerifyProof(proof Proof) error {
	payload := proof.OrderID + "|" + proof.TransactionID
	expected := hmacHex([]byte(payload), []byte(r.keySecret))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(proof.Signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyWebhook checks X-Razorpay-Signature: HMAC-SHA256 of the raw body
// keyed with the webhook secret, hex encoded.
func (r *Razorpay) VerifyWebhook(payload []byte, signatureHeader string) error {
	expected := hmacHex(payload, []byte(r.webhookSecret))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signatureHeader)))) {
		return ErrInvalidSignature
	}
	return nil
}

func (r *Razorpay) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var envelope struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string `json:"id"`
					OrderID string `json:"order_id"`
					Amount  int64  `json:"amount"`
				} `json:"entity"`
			} `json:"payment"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	entity := envelope.Payload.Payment.Entity
	if envelope.Event == "" || entity.ID == "" {
		return nil, ErrMalformedPayload
	}

	event := &WebhookEvent{
		// Razorpay carries no stable delivery id in the body; the payment id
		// plus event name is the dedup key.
		EventID:       entity.ID + ":" + envelope.Event,
		OrderID:       entity.OrderID,
		TransactionID: entity.ID,
		AmountCents:   entity.Amount,
		Raw:           payload,
	}
	switch envelope.Event {
	case "payment.captured":
		event.Kind = EventPaymentCompleted
	case "payment.failed":
		event.Kind = EventPaymentFailed
	default:
		event.Kind = EventIgnored
	}
	return event, nil
}

func (r *Razorpay) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	body, err := json.Marshal(map[string]any{
		"amount":  input.AmountCents,
		"receipt": input.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("encode refund: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/payments/%s/refund", input.TransactionID)
	if err := r.do(ctx, http.MethodPost, path, body, input.IdempotencyKey, &resp); err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: resp.ID}, nil
}

func (r *Razorpay) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(r.keyID, r.keySecret)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Razorpay-Idempotency", idempotencyKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read razorpay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("razorpay %s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode razorpay response: %w", err)
		}
	}
	return nil
}

func hmacHex(payload, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
