package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/idempotency"
	"github.com/fjod/storefront/internal/payment"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

type WebhookParser interface {
	Parse(payload []byte, signatureHeader string) (payment.WebhookEvent, error)
}

type PaymentReconciler interface {
	HandleSucceeded(ctx context.Context, intentID string) (bool, error)
	HandleFailed(ctx context.Context, intentID string) (bool, error)
}

// EventClaims de-duplicates deliveries before they reach the database. An
// event is only marked done once it was handled.
type EventClaims interface {
	Claim(ctx context.Context, eventID string) (idempotency.State, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type WebhookHandler struct {
	parser     WebhookParser
	reconciler PaymentReconciler
	claims     EventClaims
	timeout    time.Duration
	log        *zap.Logger
}

func NewWebhookHandler(parser WebhookParser, reconciler PaymentReconciler, claims EventClaims, timeout time.Duration, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, reconciler: reconciler, claims: claims, timeout: timeout, log: log}
}

type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// HandlePayment answers 2xx for everything the gateway should not retry:
// applied events, duplicates, unmatched intents and event types we ignore.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "invalid_request", "payload too large")
		return
	}

	event, err := h.parser.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var perr *payment.ParseError
		if errors.As(err, &perr) && perr.Reason == payment.ReasonSignature {
			h.log.Warn("webhook signature rejected", zap.Error(err))
			respondError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
			return
		}
		h.log.Warn("webhook payload rejected", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid_payload", "cannot parse event")
		return
	}

	log := h.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	var handle func(context.Context, string) (bool, error)
	switch event.Type {
	case payment.EventIntentSucceeded:
		handle = h.reconciler.HandleSucceeded
	case payment.EventIntentFailed:
		handle = h.reconciler.HandleFailed
	default:
		respondJSON(w, http.StatusOK, WebhookAck{Received: true, Outcome: "ignored"})
		return
	}

	state, err := h.claims.Claim(ctx, event.ID)
	if err != nil {
		// the reconciler is idempotent on its own
		log.Warn("event claim unavailable", zap.Error(err))
		state = idempotency.Claimed
	}
	switch state {
	case idempotency.Done:
		log.Info("duplicate webhook delivery")
		respondJSON(w, http.StatusOK, WebhookAck{Received: true, Outcome: "duplicate"})
		return
	case idempotency.InProgress:
		// non-2xx so the gateway retries if the other delivery fails
		log.Info("webhook delivery already in progress")
		respondError(w, http.StatusConflict, "in_progress", "event is being processed")
		return
	}

	found, err := handle(ctx, event.IntentID)
	if err != nil {
		if relErr := h.claims.Release(context.WithoutCancel(ctx), event.ID); relErr != nil {
			log.Warn("failed to release event claim", zap.Error(relErr))
		}
		respondDomainError(w, log, err)
		return
	}
	if err := h.claims.Complete(context.WithoutCancel(ctx), event.ID); err != nil {
		log.Warn("failed to complete event claim", zap.Error(err))
	}
	if !found {
		log.Info("webhook for unknown intent", zap.String("intent_id", event.IntentID))
		respondJSON(w, http.StatusOK, WebhookAck{Received: true, Outcome: "unmatched"})
		return
	}
	respondJSON(w, http.StatusOK, WebhookAck{Received: true, Outcome: "applied"})
}
