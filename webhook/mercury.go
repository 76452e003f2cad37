package webhook

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"mercuryhooks/internal"
	"mercuryhooks/pkg/dispatch"
	"mercuryhooks/pkg/signature"
	"mercuryhooks/pkg/storage"
)

const provider = "mercury"

// MercuryOptions tunes the inbound Mercury handler.
type MercuryOptions struct {
	// DefaultTopic receives emitted events no rule matched. Empty drops them.
	DefaultTopic string
	MaxBodyBytes int64
	DebugEvents  bool
}

// MercuryHandler accepts Mercury webhook deliveries for one subscription per
// path, identified by the {id} path value.
type MercuryHandler struct {
	store      storage.Store
	dispatcher *dispatch.Dispatcher
	rules      *internal.RuleEngine
	publisher  internal.Publisher
	opts       MercuryOptions
	logger     *log.Logger
}

func NewMercuryHandler(store storage.Store, dispatcher *dispatch.Dispatcher, rules *internal.RuleEngine, publisher internal.Publisher, opts MercuryOptions, logger *log.Logger) *MercuryHandler {
	if logger == nil {
		logger = log.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &MercuryHandler{
		store:      store,
		dispatcher: dispatcher,
		rules:      rules,
		publisher:  publisher,
		opts:       opts,
		logger:     logger,
	}
}

func (h *MercuryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	w.Header().Set(requestIDHeader, reqID)
	logger := internal.WithRequestID(h.logger, reqID)
	internal.IncRequest(provider)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, ack{Status: "error", Error: "method not allowed"})
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusNotFound, ack{Status: "error", Error: "unknown subscription"})
		return
	}
	record, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		logger.Printf("load subscription %s failed: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, ack{Status: "error", Error: "internal error"})
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, ack{Status: "error", Error: "unknown subscription"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ack{Status: "error", Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ack{Status: "error", Error: "unreadable body"})
		return
	}

	sub := record.Subscription()
	outcome, err := h.dispatcher.Dispatch(
		dispatch.Request{Header: r.Header, Body: body},
		sub,
		dispatch.FilterFromParameters(sub.Parameters),
	)
	if err != nil {
		h.reject(w, logger, id, err)
		return
	}

	if outcome.Kind == dispatch.Skipped {
		internal.IncSkipped(outcome.EventType)
		logger.Printf("event skipped subscription=%s type=%s reason=%s", id, outcome.EventType, outcome.Reason)
		writeJSON(w, http.StatusOK, ack{Status: "ignored", Reason: outcome.Reason})
		return
	}

	internal.IncEmitted(outcome.EventType)
	payload, err := outcome.Variables.JSON()
	if err != nil {
		logger.Printf("encode trigger payload failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ack{Status: "error", Error: "internal error"})
		return
	}
	event := internal.Event{
		Provider:       provider,
		Name:           outcome.EventType,
		RequestID:      reqID,
		SubscriptionID: id,
		Environment:    record.Environment,
		Payload:        payload,
		Data:           internal.MergeData(flattenPayload(body), outcome.Variables.Map()),
		RawPayload:     body,
	}
	if h.opts.DebugEvents {
		logDebugEvent(logger, event)
	}

	if err := h.emit(r.Context(), logger, event); err != nil {
		// Non-2xx makes Mercury redeliver.
		writeJSON(w, http.StatusServiceUnavailable, ack{Status: "error", Error: "publish failed"})
		return
	}
	writeJSON(w, http.StatusOK, ack{Status: "ok", EventID: outcome.Variables.EventID})
}

func (h *MercuryHandler) reject(w http.ResponseWriter, logger *log.Logger, id string, err error) {
	var validationErr *dispatch.ValidationError
	if errors.As(err, &validationErr) {
		internal.IncVerificationFailure(verificationReason(err))
		logger.Printf("rejected delivery subscription=%s: %v", id, err)
		writeJSON(w, http.StatusUnauthorized, ack{Status: "error", Error: "invalid signature"})
		return
	}
	var dispatchErr *dispatch.DispatchError
	if errors.As(err, &dispatchErr) {
		internal.IncDispatchError(provider)
		logger.Printf("bad payload subscription=%s: %v", id, err)
		writeJSON(w, http.StatusBadRequest, ack{Status: "error", Error: dispatchErr.Message})
		return
	}
	logger.Printf("dispatch failed subscription=%s: %v", id, err)
	writeJSON(w, http.StatusInternalServerError, ack{Status: "error", Error: "internal error"})
}

func (h *MercuryHandler) emit(ctx context.Context, logger *log.Logger, event internal.Event) error {
	matches := h.rules.EvaluateWithLogger(event, logger)
	if len(matches) == 0 && h.opts.DefaultTopic != "" {
		matches = []internal.RuleMatch{{Topic: h.opts.DefaultTopic}}
	}
	logger.Printf("event provider=%s name=%s subscription=%s topics=%d", event.Provider, event.Name, event.SubscriptionID, len(matches))

	var err error
	for _, match := range matches {
		if publishErr := h.publisher.PublishForDrivers(ctx, match.Topic, event, match.Drivers); publishErr != nil {
			logger.Printf("publish %s failed: %v", match.Topic, publishErr)
			err = errors.Join(err, publishErr)
		}
	}
	return err
}

func verificationReason(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrMissingSignature):
		return "missing"
	case errors.Is(err, signature.ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, signature.ErrInvalidSecret):
		return "invalid_secret"
	case errors.Is(err, signature.ErrStaleTimestamp):
		return "stale"
	case errors.Is(err, signature.ErrSignatureMismatch):
		return "mismatch"
	default:
		return "other"
	}
}
