package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

type ParseReason string

const (
	ReasonSignature ParseReason = "signature"
	ReasonPayload   ParseReason = "payload"
)

// ParseError is returned for every delivery that cannot be trusted or read.
type ParseError struct {
	Reason ParseReason
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("webhook %s: %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WebhookEvent is the part of a gateway event the reconciler acts on.
// IntentID is empty for events that are not about a payment intent.
type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
}

type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Parse verifies the Stripe-Signature header and decodes the event.
func (v *WebhookVerifier) Parse(payload []byte, signatureHeader string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if isSignatureError(err) {
			return WebhookEvent{}, &ParseError{Reason: ReasonSignature, Err: err}
		}
		return WebhookEvent{}, &ParseError{Reason: ReasonPayload, Err: err}
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") {
		return out, nil
	}
	if event.Data == nil {
		return WebhookEvent{}, &ParseError{Reason: ReasonPayload, Err: errors.New("event has no data")}
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, &ParseError{Reason: ReasonPayload, Err: fmt.Errorf("decode payment intent: %w", err)}
	}
	if pi.ID == "" {
		return WebhookEvent{}, &ParseError{Reason: ReasonPayload, Err: errors.New("payment intent without id")}
	}
	out.IntentID = pi.ID
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrInvalidHeader)
}
