package subscription

import (
	"strings"
)

// Status is the provider-reported state of a remote webhook.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusUnknown  Status = "unknown"
)

// ParseStatus maps a Mercury webhook status onto Status.
func ParseStatus(value string) Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "active", "enabled":
		return StatusActive
	case "inactive", "disabled", "paused", "deleted":
		return StatusInactive
	default:
		return StatusUnknown
	}
}

// Secret is webhook signing material. It formats as a placeholder so it never
// ends up in logs.
type Secret string

func (Secret) String() string   { return "[redacted]" }
func (Secret) GoString() string { return "[redacted]" }

// Parameters are the user-chosen filters of a subscription.
type Parameters struct {
	EventTypes  []string `json:"event_types,omitempty"`
	FilterPaths []string `json:"filter_paths,omitempty"`
}

// Properties are assigned by Mercury when the webhook is created.
type Properties struct {
	ExternalID    string `json:"external_id,omitempty"`
	WebhookSecret Secret `json:"webhook_secret,omitempty"`
	Status        Status `json:"status,omitempty"`
}

// Subscription is one remote push registration. The host persists it between
// calls; the manager never caches it.
type Subscription struct {
	Endpoint   string     `json:"endpoint"`
	Parameters Parameters `json:"parameters"`
	Properties Properties `json:"properties"`
}

// Created reports whether a remote webhook was ever registered.
func (s Subscription) Created() bool {
	return s.Properties.ExternalID != ""
}

// ParseFilterPaths splits a comma separated list of merge-patch field paths.
func ParseFilterPaths(value string) []string {
	return splitList(value)
}

// ParseEventTypes splits a comma separated list of event types and drops duplicates.
func ParseEventTypes(value string) []string {
	return NormalizeEventTypes(splitList(value))
}

// NormalizeEventTypes trims, lowercases and de-duplicates event types, preserving order.
func NormalizeEventTypes(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
