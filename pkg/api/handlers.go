package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercuryhooks/internal"
	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/providers/mercury"
	"mercuryhooks/pkg/storage"
	"mercuryhooks/pkg/subscription"
)

// SubscriptionsHandler manages trigger subscriptions: the remote Mercury
// webhook plus the local record the inbound handler looks up by id.
type SubscriptionsHandler struct {
	Store       storage.Store
	Manager     *subscription.Manager
	Credentials auth.Resolver
	// PublicBaseURL and WebhookPath build the endpoint Mercury delivers to.
	PublicBaseURL string
	WebhookPath   string
	Logger        *log.Logger

	locks keyedMutex
}

// Register mounts the lifecycle routes on mux.
func (h *SubscriptionsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/subscriptions", h.list)
	mux.HandleFunc("POST /api/subscriptions", h.create)
	mux.HandleFunc("GET /api/subscriptions/{id}", h.get)
	mux.HandleFunc("POST /api/subscriptions/{id}/refresh", h.refresh)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", h.delete)
}

type createRequest struct {
	Environment string     `json:"environment"`
	EventTypes  stringList `json:"event_types"`
	FilterPaths stringList `json:"filter_paths"`
}

// stringList accepts either a JSON array or a comma separated string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*l = subscription.ParseFilterPaths(text)
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return errors.New("expected a string or a list of strings")
	}
	*l = values
	return nil
}

type subscriptionView struct {
	ID          string    `json:"id"`
	Environment string    `json:"environment"`
	Endpoint    string    `json:"endpoint"`
	EventTypes  []string  `json:"event_types"`
	FilterPaths []string  `json:"filter_paths"`
	ExternalID  string    `json:"external_id,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewOf(record storage.SubscriptionRecord) subscriptionView {
	return subscriptionView{
		ID:          record.ID,
		Environment: record.Environment,
		Endpoint:    record.Endpoint,
		EventTypes:  nonNil(record.EventTypes),
		FilterPaths: nonNil(record.FilterPaths),
		ExternalID:  record.ExternalID,
		Status:      record.Status,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func (h *SubscriptionsHandler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListSubscriptions(r.Context())
	if err != nil {
		h.logf("list subscriptions failed: %v", err)
		writeError(w, http.StatusInternalServerError, "", "list subscriptions failed")
		return
	}
	views := make([]subscriptionView, 0, len(records))
	for _, record := range records {
		views = append(views, viewOf(record))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *SubscriptionsHandler) get(w http.ResponseWriter, r *http.Request) {
	record, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*record))
}

func (h *SubscriptionsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return
	}
	env := auth.Environment("")
	if strings.TrimSpace(req.Environment) != "" {
		parsed, err := auth.ParseEnvironment(req.Environment)
		if err != nil {
			writeError(w, http.StatusBadRequest, "", err.Error())
			return
		}
		env = parsed
	}

	id := uuid.NewString()
	endpoint, err := webhookEndpoint(h.PublicBaseURL, h.WebhookPath, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	creds, ok := h.credentials(w, r.Context(), env)
	if !ok {
		return
	}

	unlock := h.locks.Lock(id)
	defer unlock()

	sub, err := h.Manager.Create(r.Context(), creds, endpoint, subscription.Parameters{
		EventTypes:  req.EventTypes,
		FilterPaths: req.FilterPaths,
	})
	if err != nil {
		h.fail(w, "create", err)
		return
	}

	now := time.Now().UTC()
	record := storage.SubscriptionRecord{
		ID:          id,
		Environment: string(creds.Environment),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	record.Apply(sub)
	if err := h.Store.UpsertSubscription(r.Context(), record); err != nil {
		h.logf("persist subscription %s failed, removing remote webhook: %v", id, err)
		// The request may already be cancelled; the remote webhook must go regardless.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), mercury.DefaultTimeout)
		defer cancel()
		if _, rollbackErr := h.Manager.Delete(ctx, creds, sub); rollbackErr != nil {
			h.logf("rollback of mercury webhook %s failed: %v", sub.Properties.ExternalID, rollbackErr)
		}
		writeError(w, http.StatusInternalServerError, "", "persist subscription failed")
		return
	}
	internal.IncSubscriptionOp("create", "")
	writeJSON(w, http.StatusCreated, viewOf(record))
}

func (h *SubscriptionsHandler) refresh(w http.ResponseWriter, r *http.Request) {
	unlock := h.locks.Lock(r.PathValue("id"))
	defer unlock()

	record, ok := h.load(w, r)
	if !ok {
		return
	}
	creds, ok := h.credentials(w, r.Context(), auth.Environment(record.Environment))
	if !ok {
		return
	}
	sub, err := h.Manager.Refresh(r.Context(), creds, record.Subscription())
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	record.Apply(sub)
	record.UpdatedAt = time.Now().UTC()
	if err := h.Store.UpsertSubscription(r.Context(), *record); err != nil {
		h.logf("persist subscription %s failed: %v", record.ID, err)
		writeError(w, http.StatusInternalServerError, "", "persist subscription failed")
		return
	}
	internal.IncSubscriptionOp("refresh", "")
	writeJSON(w, http.StatusOK, viewOf(*record))
}

func (h *SubscriptionsHandler) delete(w http.ResponseWriter, r *http.Request) {
	unlock := h.locks.Lock(r.PathValue("id"))
	defer unlock()

	record, ok := h.load(w, r)
	if !ok {
		return
	}
	creds, ok := h.credentials(w, r.Context(), auth.Environment(record.Environment))
	if !ok {
		return
	}
	if _, err := h.Manager.Delete(r.Context(), creds, record.Subscription()); err != nil {
		h.fail(w, "delete", err)
		return
	}
	if err := h.Store.DeleteSubscription(r.Context(), record.ID); err != nil {
		h.logf("remove subscription %s failed: %v", record.ID, err)
		writeError(w, http.StatusInternalServerError, "", "remove subscription failed")
		return
	}
	internal.IncSubscriptionOp("delete", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": record.ID})
}

func (h *SubscriptionsHandler) load(w http.ResponseWriter, r *http.Request) (*storage.SubscriptionRecord, bool) {
	id := r.PathValue("id")
	record, err := h.Store.GetSubscription(r.Context(), id)
	if err != nil {
		h.logf("load subscription %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "", "load subscription failed")
		return nil, false
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "", "subscription not found")
		return nil, false
	}
	return record, true
}

// credentials resolves creds for env. Missing credentials are passed on empty
// so the manager reports MISSING_CREDENTIALS.
func (h *SubscriptionsHandler) credentials(w http.ResponseWriter, ctx context.Context, env auth.Environment) (auth.Credentials, bool) {
	creds, err := h.Credentials.Resolve(ctx, env)
	if err != nil && !errors.Is(err, auth.ErrNoCredentials) {
		h.logf("resolve credentials failed: %v", err)
		writeError(w, http.StatusInternalServerError, "", "resolve credentials failed")
		return auth.Credentials{}, false
	}
	return creds, true
}

func (h *SubscriptionsHandler) fail(w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	internal.IncSubscriptionOp(op, code)
	h.logf("%s subscription failed: %v", op, err)
	writeError(w, status, code, err.Error())
}

func (h *SubscriptionsHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

// statusFor maps lifecycle failures onto HTTP statuses and an error code.
func statusFor(err error) (int, string) {
	var credErr *subscription.CredentialValidationError
	if errors.As(err, &credErr) {
		return http.StatusUnprocessableEntity, "INVALID_CREDENTIALS"
	}
	code := subscription.Code(err)
	switch code {
	case subscription.CodeMissingCredentials:
		return http.StatusPreconditionFailed, string(code)
	case subscription.CodeNetworkError:
		return http.StatusGatewayTimeout, string(code)
	case subscription.CodeWebhookNotFound:
		return http.StatusGone, string(code)
	case subscription.CodeMissingProperties:
		return http.StatusConflict, string(code)
	case subscription.CodeWebhookCreationFailed, subscription.CodeWebhookRefreshFailed, subscription.CodeWebhookDeletionFailed:
		return http.StatusBadGateway, string(code)
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func webhookEndpoint(publicBaseURL, webhookPath, id string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		return "", errors.New("server.public_url is required for subscription management")
	}
	path := "/"
	if trimmed := strings.Trim(webhookPath, "/"); trimmed != "" {
		path += trimmed + "/"
	}
	return base + path + url.PathEscape(id), nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
