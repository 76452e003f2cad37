package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"mercuryhooks/pkg/signature"
	"mercuryhooks/pkg/subscription"
)

// Request is an inbound webhook as received by the host.
type Request struct {
	Header http.Header
	Body   []byte
}

// Filter is the per-subscription event policy. Empty fields disable the check.
type Filter struct {
	EventTypes  []string
	FilterPaths []string
}

// FilterFromParameters builds the Filter for a subscription's parameters.
func FilterFromParameters(params subscription.Parameters) Filter {
	return Filter{
		EventTypes:  subscription.NormalizeEventTypes(params.EventTypes),
		FilterPaths: params.FilterPaths,
	}
}

// Kind tells an emitted event apart from a policy skip.
type Kind int

const (
	Skipped Kind = iota
	Emitted
)

func (k Kind) String() string {
	if k == Emitted {
		return "emitted"
	}
	return "skipped"
}

// Outcome is the result of a request that passed verification. Skips are not
// errors: the request was authentic but filtered out.
type Outcome struct {
	Kind      Kind
	Reason    string
	EventType string
	Event     *TransactionEvent
	Variables Variables
}

// Dispatcher authenticates, decodes and filters inbound webhooks.
type Dispatcher struct {
	verifier *signature.Verifier
}

// NewDispatcher returns a Dispatcher verifying with v. A nil verifier uses
// the default tolerance.
func NewDispatcher(v *signature.Verifier) *Dispatcher {
	if v == nil {
		v = signature.NewVerifier(signature.DefaultTolerance)
	}
	return &Dispatcher{verifier: v}
}

// Dispatch turns req into an Outcome. A *ValidationError means the request is
// not authentic; a *DispatchError means its payload is unusable.
func (d *Dispatcher) Dispatch(req Request, sub subscription.Subscription, filter Filter) (Outcome, error) {
	header := req.Header.Get(signature.HeaderName)
	if header == "" {
		return Outcome{}, &ValidationError{Err: ErrMissingSignature}
	}
	if err := d.verifier.Verify(header, req.Body, string(sub.Properties.WebhookSecret)); err != nil {
		return Outcome{}, &ValidationError{Err: err}
	}

	env, err := decodeEnvelope(req.Body)
	if err != nil {
		return Outcome{}, err
	}
	if !env.ResourceType.Known() {
		return Outcome{Kind: Skipped, Reason: "unsupported resource type " + strconv.Quote(string(env.ResourceType))}, nil
	}

	event, fields, err := decodeTransaction(env)
	if err != nil {
		return Outcome{}, err
	}
	eventType := event.EventType()

	if len(filter.EventTypes) > 0 && !contains(filter.EventTypes, eventType) {
		return Outcome{Kind: Skipped, Reason: "event type " + eventType + " not subscribed", EventType: eventType}, nil
	}
	if len(filter.FilterPaths) > 0 && !anyPathPresent(fields, filter.FilterPaths) {
		return Outcome{Kind: Skipped, Reason: "no filtered field changed", EventType: eventType}, nil
	}

	return Outcome{
		Kind:      Emitted,
		EventType: eventType,
		Event:     event,
		Variables: Normalize(*event),
	}, nil
}

func decodeEnvelope(body []byte) (envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return envelope{}, &DispatchError{Message: "empty payload"}
	}
	if trimmed[0] != '{' {
		return envelope{}, &DispatchError{Message: "payload is not a JSON object"}
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return envelope{}, &DispatchError{Message: "invalid JSON payload", Err: err}
	}
	return env, nil
}

func decodeTransaction(env envelope) (*TransactionEvent, map[string]interface{}, error) {
	event := &TransactionEvent{
		ID:            env.ID,
		ResourceType:  env.ResourceType,
		OperationType: env.OperationType,
		ResourceID:    env.ResourceID,
	}
	raw := bytes.TrimSpace(env.MergePatch)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return event, map[string]interface{}{}, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, &DispatchError{Message: "mergePatch is not a JSON object", Err: err}
	}
	if err := json.Unmarshal(raw, &event.Patch); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, nil, &DispatchError{Message: "invalid mergePatch field " + typeErr.Field, Err: err}
		}
		return nil, nil, &DispatchError{Message: "invalid mergePatch", Err: err}
	}

	event.ChangedFields = make([]string, 0, len(fields))
	for key := range fields {
		event.ChangedFields = append(event.ChangedFields, key)
	}
	sort.Strings(event.ChangedFields)
	return event, fields, nil
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}

func anyPathPresent(fields map[string]interface{}, paths []string) bool {
	for _, path := range paths {
		if pathPresent(fields, path) {
			return true
		}
	}
	return false
}

// pathPresent reports whether path names a key in the patch. A key set to
// null counts as changed. Dotted paths walk nested objects; paths starting
// with "$" are used as JSONPath expressions directly.
func pathPresent(fields map[string]interface{}, path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	expr := path
	if !strings.HasPrefix(path, "$") {
		var b strings.Builder
		b.WriteString("$")
		for _, segment := range strings.Split(path, ".") {
			b.WriteString("[")
			b.WriteString(strconv.Quote(segment))
			b.WriteString("]")
		}
		expr = b.String()
	}
	_, err := jsonpath.Get(expr, fields)
	return err == nil
}
