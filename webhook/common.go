package webhook

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"mercuryhooks/internal"
)

const requestIDHeader = "X-Request-Id"

// requestID returns the caller supplied request id or a new one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func flattenPayload(raw []byte) map[string]interface{} {
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	objectMap, ok := out.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return internal.Flatten(objectMap)
}

func logDebugEvent(logger *log.Logger, event internal.Event) {
	logger.Printf("debug event name=%s subscription=%s payload=%s raw=%s",
		event.Name, event.SubscriptionID, event.Payload, event.RawPayload)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type ack struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}
