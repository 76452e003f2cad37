package dispatch_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercuryhooks/pkg/dispatch"
	"mercuryhooks/pkg/signature"
	"mercuryhooks/pkg/subscription"
)

var (
	secret = base64.StdEncoding.EncodeToString([]byte("dispatch-test-secret"))
	now    = time.Unix(1735689600, 0)
)

const createdBody = `{"id":"evt_1","resourceType":"transaction","operationType":"created","resourceId":"txn_1","mergePatch":{"accountId":"acc_1","amount":-150.00,"status":"posted","postedAt":"2025-01-01T00:00:00Z","counterpartyName":"Staples","bankDescription":"DEBIT CARD","type":"debit"}}`

func newDispatcher() *dispatch.Dispatcher {
	return dispatch.NewDispatcher(signature.NewVerifier(signature.DefaultTolerance).WithClock(func() time.Time { return now }))
}

func activeSubscription() subscription.Subscription {
	return subscription.Subscription{
		Endpoint: "https://hooks.example.com/webhooks/mercury/sub_1",
		Properties: subscription.Properties{
			ExternalID:    "wh_1",
			WebhookSecret: subscription.Secret(secret),
			Status:        subscription.StatusActive,
		},
	}
}

func signedRequest(t *testing.T, body string) dispatch.Request {
	t.Helper()
	header, err := signature.Sign([]byte(body), secret, now)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("mercury-signature", header)
	return dispatch.Request{Header: h, Body: []byte(body)}
}

func TestDispatch_EndToEnd(t *testing.T) {
	outcome, err := newDispatcher().Dispatch(signedRequest(t, createdBody), activeSubscription(), dispatch.Filter{})
	require.NoError(t, err)
	require.Equal(t, dispatch.Emitted, outcome.Kind)
	assert.Equal(t, "transaction.created", outcome.EventType)

	assert.Equal(t, map[string]string{
		"event_id":          "evt_1",
		"transaction_id":    "txn_1",
		"operation_type":    "created",
		"account_id":        "acc_1",
		"amount":            "-150.00",
		"status":            "posted",
		"posted_at":         "2025-01-01T00:00:00Z",
		"counterparty_name": "Staples",
		"bank_description":  "DEBIT CARD",
		"note":              "",
		"category":          "",
		"transaction_type":  "debit",
	}, outcome.Variables.Strings())

	assert.True(t, outcome.Variables.Amount.Decimal.IsNegative())
	assert.Equal(t, []string{"accountId", "amount", "bankDescription", "counterpartyName", "postedAt", "status", "type"}, outcome.Event.ChangedFields)
}

func TestDispatch_PayloadJSON(t *testing.T) {
	outcome, err := newDispatcher().Dispatch(signedRequest(t, createdBody), activeSubscription(), dispatch.Filter{})
	require.NoError(t, err)

	payload, err := outcome.Variables.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event_id":"evt_1","transaction_id":"txn_1","operation_type":"created",
		"account_id":"acc_1","amount":-150.00,"status":"posted",
		"posted_at":"2025-01-01T00:00:00Z","counterparty_name":"Staples",
		"bank_description":"DEBIT CARD","note":"","category":"","transaction_type":"debit"
	}`, string(payload))
	assert.Contains(t, string(payload), `"amount":-150.00`)
}

func TestDispatch_MissingAmountIsNull(t *testing.T) {
	body := `{"id":"evt_2","resourceType":"transaction","operationType":"updated","resourceId":"txn_1","mergePatch":{"note":"lunch"}}`
	outcome, err := newDispatcher().Dispatch(signedRequest(t, body), activeSubscription(), dispatch.Filter{})
	require.NoError(t, err)

	payload, err := outcome.Variables.JSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Nil(t, decoded["amount"])
	assert.Equal(t, "lunch", decoded["note"])
	assert.Equal(t, "", decoded["status"])
	assert.Nil(t, outcome.Variables.Map()["amount"])
}

func TestDispatch_EventTypeFilterSkips(t *testing.T) {
	body := `{"id":"evt_3","resourceType":"transaction","operationType":"updated","resourceId":"txn_1","mergePatch":{"status":"posted"}}`
	filter := dispatch.FilterFromParameters(subscription.Parameters{EventTypes: []string{"transaction.created"}})

	outcome, err := newDispatcher().Dispatch(signedRequest(t, body), activeSubscription(), filter)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Skipped, outcome.Kind)
	assert.Nil(t, outcome.Event)
	assert.Equal(t, "transaction.updated", outcome.EventType)
}

func TestDispatch_EventTypeFilterMatches(t *testing.T) {
	filter := dispatch.FilterFromParameters(subscription.Parameters{EventTypes: []string{"Transaction.Created"}})

	outcome, err := newDispatcher().Dispatch(signedRequest(t, createdBody), activeSubscription(), filter)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Emitted, outcome.Kind)
}

func TestDispatch_FilterPathAbsentSkips(t *testing.T) {
	body := `{"id":"evt_4","resourceType":"transaction","operationType":"created","resourceId":"txn_1","mergePatch":{"note":"x"}}`
	filter := dispatch.Filter{EventTypes: []string{"transaction.created"}, FilterPaths: []string{"status"}}

	outcome, err := newDispatcher().Dispatch(signedRequest(t, body), activeSubscription(), filter)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Skipped, outcome.Kind)
}

func TestDispatch_FilterPaths(t *testing.T) {
	body := `{"id":"evt_5","resourceType":"transaction","operationType":"updated","resourceId":"txn_1","mergePatch":{"note":null,"counterparty":{"name":"Acme"}}}`

	tests := []struct {
		name  string
		paths []string
		want  dispatch.Kind
	}{
		{name: "null value counts as changed", paths: []string{"note"}, want: dispatch.Emitted},
		{name: "any of several", paths: []string{"status", "note"}, want: dispatch.Emitted},
		{name: "nested path", paths: []string{"counterparty.name"}, want: dispatch.Emitted},
		{name: "nested missing", paths: []string{"counterparty.id"}, want: dispatch.Skipped},
		{name: "jsonpath expression", paths: []string{"$.counterparty.name"}, want: dispatch.Emitted},
		{name: "none present", paths: []string{"status", "amount"}, want: dispatch.Skipped},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := newDispatcher().Dispatch(signedRequest(t, body), activeSubscription(), dispatch.Filter{FilterPaths: tc.paths})
			require.NoError(t, err)
			assert.Equal(t, tc.want, outcome.Kind)
		})
	}
}

func TestDispatch_UnknownResourceTypeSkips(t *testing.T) {
	body := `{"id":"evt_6","resourceType":"checkingAccount","operationType":"updated","resourceId":"acc_1","mergePatch":{}}`

	outcome, err := newDispatcher().Dispatch(signedRequest(t, body), activeSubscription(), dispatch.Filter{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Skipped, outcome.Kind)
	assert.Contains(t, outcome.Reason, "checkingAccount")
}

func TestDispatch_SignatureFailures(t *testing.T) {
	valid := signedRequest(t, createdBody)

	tampered := signedRequest(t, createdBody)
	tampered.Body = []byte(createdBody[:len(createdBody)-2] + ` }}`)

	stale := dispatch.Request{Header: http.Header{}, Body: []byte(createdBody)}
	staleHeader, err := signature.Sign([]byte(createdBody), secret, now.Add(-10*time.Minute))
	require.NoError(t, err)
	stale.Header.Set(signature.HeaderName, staleHeader)

	malformed := dispatch.Request{Header: http.Header{}, Body: []byte(createdBody)}
	malformed.Header.Set(signature.HeaderName, "v1=abc")

	noSecret := activeSubscription()
	noSecret.Properties.WebhookSecret = ""

	tests := []struct {
		name string
		req  dispatch.Request
		sub  subscription.Subscription
		want error
	}{
		{name: "missing header", req: dispatch.Request{Header: http.Header{}, Body: []byte(createdBody)}, sub: activeSubscription(), want: dispatch.ErrMissingSignature},
		{name: "tampered body", req: tampered, sub: activeSubscription(), want: signature.ErrSignatureMismatch},
		{name: "stale", req: stale, sub: activeSubscription(), want: signature.ErrStaleTimestamp},
		{name: "malformed", req: malformed, sub: activeSubscription(), want: signature.ErrMalformedHeader},
		{name: "no secret", req: valid, sub: noSecret, want: signature.ErrInvalidSecret},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newDispatcher().Dispatch(tc.req, tc.sub, dispatch.Filter{})
			var validationErr *dispatch.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDispatch_BadPayloads(t *testing.T) {
	bodies := map[string]string{
		"empty":             ``,
		"not json":          `hello`,
		"array":             `[1,2]`,
		"truncated":         `{"id":"evt_1",`,
		"patch not object":  `{"id":"evt_1","resourceType":"transaction","operationType":"created","resourceId":"txn_1","mergePatch":[1]}`,
		"amount not number": `{"id":"evt_1","resourceType":"transaction","operationType":"created","resourceId":"txn_1","mergePatch":{"amount":"lots"}}`,
		"status not string": `{"id":"evt_1","resourceType":"transaction","operationType":"created","resourceId":"txn_1","mergePatch":{"status":7}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := newDispatcher().Dispatch(signedRequest(t, body), activeSubscription(), dispatch.Filter{})
			var dispatchErr *dispatch.DispatchError
			require.ErrorAs(t, err, &dispatchErr)
		})
	}
}

func TestAmount_StringForm(t *testing.T) {
	amount, err := dispatch.NewAmount("1200.50")
	require.NoError(t, err)
	assert.Equal(t, "1200.50", amount.String())

	var quoted dispatch.Amount
	require.NoError(t, json.Unmarshal([]byte(`"-12.5"`), &quoted))
	assert.Equal(t, "-12.5", quoted.String())

	var padded dispatch.Amount
	require.NoError(t, json.Unmarshal([]byte(`" -150.00 "`), &padded))
	assert.Equal(t, "-150.00", padded.String())
	out, err := json.Marshal(padded)
	require.NoError(t, err)
	assert.Equal(t, "-150.00", string(out))

	var bare dispatch.Amount
	require.NoError(t, json.Unmarshal([]byte(`".5"`), &bare))
	assert.Equal(t, ".5", bare.String())
	out, err = json.Marshal(bare)
	require.NoError(t, err)
	assert.Equal(t, "0.5", string(out))

	var absent dispatch.Amount
	assert.Equal(t, "", absent.String())
}
