package mercury

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercuryhooks/pkg/auth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(auth.Credentials{AccessToken: "tok_123", Environment: auth.EnvironmentSandbox}, WithBaseURL(server.URL+"/api/v1"))
}

func TestBaseURLByEnvironment(t *testing.T) {
	if BaseURL(auth.EnvironmentSandbox) != SandboxBaseURL {
		t.Fatalf("expected sandbox base url")
	}
	if BaseURL(auth.EnvironmentProduction) != ProductionBaseURL {
		t.Fatalf("expected production base url")
	}
	if BaseURL("") != ProductionBaseURL {
		t.Fatalf("expected production base url for empty environment")
	}
}

func TestValidateTokenSendsHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/accounts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok_123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json;charset=utf-8" {
			t.Errorf("unexpected accept header %q", got)
		}
		_, _ = w.Write([]byte(`{"accounts":[]}`))
	})

	if err := client.ValidateToken(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateTokenUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid token"}`))
	})

	err := client.ValidateToken(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message() != "invalid token" {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestValidateTokenOtherError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	})

	err := client.ValidateToken(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Body != "forbidden" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("403 must not match ErrUnauthorized")
	}
}

func TestCreateWebhook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/webhooks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json;charset=utf-8" {
			t.Errorf("unexpected content type %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["url"] != "https://hooks.example.com/webhooks/mercury/sub_1" {
			t.Errorf("unexpected url %v", body["url"])
		}
		if _, ok := body["filterPaths"]; ok {
			t.Errorf("expected filterPaths to be omitted")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"wh_1","secret":"c2VjcmV0","status":"active","url":"https://hooks.example.com/webhooks/mercury/sub_1"}`))
	})

	hook, err := client.CreateWebhook(context.Background(), CreateWebhookRequest{
		URL:        "https://hooks.example.com/webhooks/mercury/sub_1",
		EventTypes: []string{"transaction.created"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if hook.ID != "wh_1" || hook.Secret != "c2VjcmV0" || hook.Status != "active" {
		t.Fatalf("unexpected webhook %+v", hook)
	}
}

func TestCreateWebhookFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"url must be https"}`))
	})

	_, err := client.CreateWebhook(context.Background(), CreateWebhookRequest{URL: "http://insecure"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 api error, got %v", err)
	}
}

func TestGetWebhookNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/webhooks/wh_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetWebhook(context.Background(), "wh_1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteWebhookStatuses(t *testing.T) {
	cases := []struct {
		status   int
		wantErr  bool
		notFound bool
	}{
		{status: http.StatusOK},
		{status: http.StatusNoContent},
		{status: http.StatusNotFound, wantErr: true, notFound: true},
		{status: http.StatusInternalServerError, wantErr: true},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				t.Errorf("expected DELETE, got %s", r.Method)
			}
			w.WriteHeader(tc.status)
		})
		err := client.DeleteWebhook(context.Background(), "wh_1")
		if (err != nil) != tc.wantErr {
			t.Fatalf("status %d: unexpected error %v", tc.status, err)
		}
		if errors.Is(err, ErrNotFound) != tc.notFound {
			t.Fatalf("status %d: unexpected not found match %v", tc.status, err)
		}
	}
}

func TestTimeoutHasNoStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()
	client := NewClient(auth.Credentials{AccessToken: "tok"}, WithBaseURL(server.URL), WithTimeout(20*time.Millisecond))

	_, err := client.GetWebhook(context.Background(), "wh_1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.Transport() || apiErr.StatusCode != 0 || apiErr.Err == nil {
		t.Fatalf("expected transport failure without status, got %+v", apiErr)
	}
}

func TestListAccountsAndTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/accounts":
			_, _ = w.Write([]byte(`{"accounts":[{"id":"acc_1","name":"Ops","type":"checking","availableBalance":1200.50,"currentBalance":1300}]}`))
		case "/api/v1/transactions/txn_1":
			_, _ = w.Write([]byte(`{"id":"txn_1","amount":-150.00,"status":"posted","counterpartyName":"Staples"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	accounts, err := client.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AvailableBalance.String() != "1200.5" {
		t.Fatalf("unexpected accounts %+v", accounts)
	}

	txn, err := client.GetTransaction(context.Background(), "txn_1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txn.Amount.String() != "-150" || txn.CounterpartyName != "Staples" {
		t.Fatalf("unexpected transaction %+v", txn)
	}

	if _, err := client.GetTransaction(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
