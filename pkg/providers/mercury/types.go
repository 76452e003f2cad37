package mercury

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateWebhookRequest is the body of POST /webhooks. Empty filters are omitted
// so Mercury delivers every event type.
type CreateWebhookRequest struct {
	URL         string   `json:"url"`
	EventTypes  []string `json:"eventTypes,omitempty"`
	FilterPaths []string `json:"filterPaths,omitempty"`
}

// Webhook is a Mercury webhook endpoint. Secret is only returned on creation.
type Webhook struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Status      string   `json:"status"`
	Secret      string   `json:"secret,omitempty"`
	EventTypes  []string `json:"eventTypes,omitempty"`
	FilterPaths []string `json:"filterPaths,omitempty"`
}

// Account is the subset of a Mercury account exposed to workflows.
type Account struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	Currency         string          `json:"currency,omitempty"`
}

// Transaction is a Mercury transaction record.
type Transaction struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"accountId,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	PostedAt         string          `json:"postedAt,omitempty"`
	CreatedAt        string          `json:"createdAt,omitempty"`
	CounterpartyName string          `json:"counterpartyName"`
	BankDescription  string          `json:"bankDescription,omitempty"`
	Note             string          `json:"note,omitempty"`
	Category         string          `json:"category,omitempty"`
	Kind             string          `json:"kind,omitempty"`
	Type             string          `json:"type,omitempty"`
}

func errorMessage(body string) string {
	if body == "" {
		return ""
	}
	var parsed struct {
		Message string `json:"message"`
		Errors  struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return strings.TrimSpace(parsed.Message)
	}
	return strings.TrimSpace(parsed.Errors.Message)
}
