package controllers

import (
	"context"
	"log"

	"mercuryhooks/pkg/worker"
)

// HandleTransactionCreated logs new transactions and, for debits, loads the
// full record from Mercury.
func HandleTransactionCreated(ctx context.Context, evt *worker.Event) error {
	vars := evt.Variables
	log.Printf("transaction created id=%s account=%s amount=%s counterparty=%q",
		vars.TransactionID, vars.AccountID, vars.Amount, vars.CounterpartyName)
	if !evt.Debit() || evt.Client == nil {
		return nil
	}
	txn, err := evt.FetchTransaction(ctx)
	if err != nil {
		return err
	}
	log.Printf("debit id=%s kind=%s bank_description=%q", txn.ID, txn.Kind, txn.BankDescription)
	return nil
}

func HandleTransactionUpdated(ctx context.Context, evt *worker.Event) error {
	vars := evt.Variables
	log.Printf("transaction updated id=%s status=%s note=%q category=%q",
		vars.TransactionID, vars.Status, vars.Note, vars.Category)
	return nil
}
