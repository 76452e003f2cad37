package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ResourceType is the closed set of Mercury resources this package understands.
// Anything else is skipped.
type ResourceType string

const (
	ResourceTransaction ResourceType = "transaction"
)

// Known reports whether r is a supported resource type.
func (r ResourceType) Known() bool {
	switch r {
	case ResourceTransaction:
		return true
	default:
		return false
	}
}

// Operation types Mercury sends for transactions.
const (
	OperationCreated = "created"
	OperationUpdated = "updated"
)

// envelope is the wire shape of a Mercury webhook body.
type envelope struct {
	ID            string          `json:"id"`
	ResourceType  ResourceType    `json:"resourceType"`
	OperationType string          `json:"operationType"`
	ResourceID    string          `json:"resourceId"`
	MergePatch    json.RawMessage `json:"mergePatch"`
}

// TransactionEvent is a verified and decoded transaction webhook.
type TransactionEvent struct {
	ID            string
	ResourceType  ResourceType
	OperationType string
	ResourceID    string
	Patch         TransactionPatch
	// ChangedFields lists the top-level mergePatch keys, sorted.
	ChangedFields []string
}

// EventType is the filterable name of the event, e.g. "transaction.created".
func (e TransactionEvent) EventType() string {
	return string(e.ResourceType) + "." + strings.ToLower(e.OperationType)
}

// TransactionPatch holds the transaction fields carried by mergePatch. Absent
// fields stay empty.
type TransactionPatch struct {
	AccountID        string `json:"accountId"`
	Amount           Amount `json:"amount"`
	Status           string `json:"status"`
	PostedAt         string `json:"postedAt"`
	CounterpartyName string `json:"counterpartyName"`
	BankDescription  string `json:"bankDescription"`
	Note             string `json:"note"`
	Category         string `json:"category"`
	Type             string `json:"type"`
}

// Amount is a signed decimal amount, negative for debits. The textual form
// received on the wire is kept so "-150.00" stays "-150.00".
type Amount struct {
	Decimal decimal.Decimal
	Valid   bool
	text    string
}

// NewAmount parses a decimal string into an Amount.
func NewAmount(value string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Decimal: d, Valid: true, text: value}, nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", s, err)
		}
		*a = Amount{Decimal: d, Valid: true, text: s}
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", data, err)
	}
	*a = Amount{Decimal: d, Valid: true, text: string(data)}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	// Quoted wire forms such as ".5" are not JSON numbers.
	if text := []byte(a.String()); json.Valid(text) {
		return text, nil
	}
	return []byte(a.Decimal.String()), nil
}

// String returns the amount as received, or "" when absent.
func (a Amount) String() string {
	if !a.Valid {
		return ""
	}
	if a.text != "" {
		return a.text
	}
	return a.Decimal.String()
}
