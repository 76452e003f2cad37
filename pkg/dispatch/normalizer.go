package dispatch

import "encoding/json"

// Variables is the fixed set of workflow variables produced for one
// transaction event. Every field other than Amount is a string and is empty,
// never omitted, when the payload lacks it.
type Variables struct {
	EventID          string `json:"event_id"`
	TransactionID    string `json:"transaction_id"`
	OperationType    string `json:"operation_type"`
	AccountID        string `json:"account_id"`
	Amount           Amount `json:"amount"`
	Status           string `json:"status"`
	PostedAt         string `json:"posted_at"`
	CounterpartyName string `json:"counterparty_name"`
	BankDescription  string `json:"bank_description"`
	Note             string `json:"note"`
	Category         string `json:"category"`
	TransactionType  string `json:"transaction_type"`
}

// Normalize maps a decoded event onto Variables.
func Normalize(event TransactionEvent) Variables {
	p := event.Patch
	return Variables{
		EventID:          event.ID,
		TransactionID:    event.ResourceID,
		OperationType:    event.OperationType,
		AccountID:        p.AccountID,
		Amount:           p.Amount,
		Status:           p.Status,
		PostedAt:         p.PostedAt,
		CounterpartyName: p.CounterpartyName,
		BankDescription:  p.BankDescription,
		Note:             p.Note,
		Category:         p.Category,
		TransactionType:  p.Type,
	}
}

// Map returns the variables keyed by output name. amount is a float64 so it
// can be compared in rule expressions, or nil when absent.
func (v Variables) Map() map[string]interface{} {
	var amount interface{}
	if v.Amount.Valid {
		amount = v.Amount.Decimal.InexactFloat64()
	}
	return map[string]interface{}{
		"event_id":          v.EventID,
		"transaction_id":    v.TransactionID,
		"operation_type":    v.OperationType,
		"account_id":        v.AccountID,
		"amount":            amount,
		"status":            v.Status,
		"posted_at":         v.PostedAt,
		"counterparty_name": v.CounterpartyName,
		"bank_description":  v.BankDescription,
		"note":              v.Note,
		"category":          v.Category,
		"transaction_type":  v.TransactionType,
	}
}

// Strings renders every variable as text, amount included.
func (v Variables) Strings() map[string]string {
	return map[string]string{
		"event_id":          v.EventID,
		"transaction_id":    v.TransactionID,
		"operation_type":    v.OperationType,
		"account_id":        v.AccountID,
		"amount":            v.Amount.String(),
		"status":            v.Status,
		"posted_at":         v.PostedAt,
		"counterparty_name": v.CounterpartyName,
		"bank_description":  v.BankDescription,
		"note":              v.Note,
		"category":          v.Category,
		"transaction_type":  v.TransactionType,
	}
}

// JSON encodes the variables as the trigger payload.
func (v Variables) JSON() ([]byte, error) {
	return json.Marshal(v)
}
