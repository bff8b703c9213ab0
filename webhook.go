package netpro

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Receiver
// ============================================================================

// DefaultSignatureHeader carries the HMAC signature on incoming webhook
// requests unless overridden.
const DefaultSignatureHeader = "X-Webhook-Signature"

// WebhookEvent is the generic envelope of an incoming webhook payload.
// Data stays raw for the handler to decode.
type WebhookEvent struct {
	Event     string          `json:"event"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event's data payload into v.
func (e *WebhookEvent) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("webhook event %q has no data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode webhook data: %w", err)
	}
	return nil
}

// WebhookHandlerFunc handles a verified, parsed event. A non-nil return
// value is JSON-encoded as the response body; nil produces {"ok": true}.
type WebhookHandlerFunc func(event *WebhookEvent) (any, error)

// ── Standalone Functions ────────────────────────────────────────────

// SignPayload computes the hex HMAC-SHA256 signature of body.
func SignPayload(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an HMAC-SHA256 webhook signature in constant
// time. An optional "sha256=" prefix on the signature is accepted.
func VerifySignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	expected := SignPayload(body, secret)
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookEvent parses a raw webhook body into its envelope.
func ParseWebhookEvent(body string) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	return &event, nil
}

// ── Receiver ────────────────────────────────────────────────────────

// Receiver verifies, parses, and dispatches incoming webhook requests.
type Receiver struct {
	secret  string
	header  string
	onEvent WebhookHandlerFunc
}

// ReceiverOption customizes a Receiver.
type ReceiverOption func(*Receiver)

// WithSignatureHeader changes the header the signature is read from.
func WithSignatureHeader(name string) ReceiverOption {
	return func(r *Receiver) { r.header = name }
}

// NewReceiver builds a webhook receiver. The secret must be non-empty.
func NewReceiver(secret string, onEvent WebhookHandlerFunc, opts ...ReceiverOption) (*Receiver, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	r := &Receiver{
		secret:  secret,
		header:  DefaultSignatureHeader,
		onEvent: onEvent,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Verify checks a signature against the receiver's secret.
func (r *Receiver) Verify(body, signature string) bool {
	return VerifySignature(body, signature, r.secret)
}

// Parse parses a raw body into its event envelope.
func (r *Receiver) Parse(body string) (*WebhookEvent, error) {
	return ParseWebhookEvent(body)
}

// Handle runs the verify, parse, dispatch pipeline on one request and
// returns the status code and response body for the caller to write.
func (r *Receiver) Handle(body, signature string) (int, any) {
	if !r.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "invalid signature"}
	}

	event, err := r.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	reply, err := r.onEvent(event)
	if err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}

	if reply != nil {
		return http.StatusOK, reply
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler serving webhook requests.
//
// Example:
//
//	rcv, _ := netpro.NewReceiver("secret", handler)
//	http.Handle("/webhook", rcv.HTTPHandler())
func (r *Receiver) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")

		if req.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "failed to read body"})
			return
		}
		defer req.Body.Close()

		statusCode, data := r.Handle(string(bodyBytes), req.Header.Get(r.header))

		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (r *Receiver) HTTPHandlerFunc() http.HandlerFunc {
	return r.HTTPHandler().ServeHTTP
}
