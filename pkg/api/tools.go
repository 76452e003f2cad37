package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/providers/mercury"
)

// ToolsHandler exposes read-only Mercury lookups to workflows.
type ToolsHandler struct {
	Credentials   auth.Resolver
	ClientOptions []mercury.Option
	Logger        *log.Logger
}

// Register mounts the tool routes on mux.
func (h *ToolsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/accounts", h.accounts)
	mux.HandleFunc("GET /api/transactions/{id}", h.transaction)
}

func (h *ToolsHandler) accounts(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	accounts, err := client.ListAccounts(r.Context())
	if err != nil {
		h.upstreamError(w, "list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (h *ToolsHandler) transaction(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	txn, err := client.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		h.upstreamError(w, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// client builds a Mercury client for the ?environment= query value, or the
// configured default environment.
func (h *ToolsHandler) client(w http.ResponseWriter, r *http.Request) (*mercury.Client, bool) {
	env := auth.Environment("")
	if value := strings.TrimSpace(r.URL.Query().Get("environment")); value != "" {
		parsed, err := auth.ParseEnvironment(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "", err.Error())
			return nil, false
		}
		env = parsed
	}
	creds, err := h.Credentials.Resolve(r.Context(), env)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredentials) {
			writeError(w, http.StatusPreconditionFailed, "MISSING_CREDENTIALS", err.Error())
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "", "resolve credentials failed")
		return nil, false
	}
	return mercury.NewClient(creds, h.ClientOptions...), true
}

func (h *ToolsHandler) upstreamError(w http.ResponseWriter, op string, err error) {
	if h.Logger != nil {
		h.Logger.Printf("%s failed: %v", op, err)
	}
	var apiErr *mercury.APIError
	switch {
	case errors.Is(err, mercury.ErrNotFound):
		writeError(w, http.StatusNotFound, "", "not found")
	case errors.Is(err, mercury.ErrUnauthorized):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_CREDENTIALS", "mercury rejected the access token")
	case errors.As(err, &apiErr) && apiErr.Transport():
		writeError(w, http.StatusGatewayTimeout, "NETWORK_ERROR", op+" failed")
	default:
		writeError(w, http.StatusBadGateway, "", op+" failed")
	}
}
