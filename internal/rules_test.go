package internal

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

const transactionBody = `{"id":"evt_1","resourceType":"transaction","operationType":"created","resourceId":"txn_1","mergePatch":{"accountId":"acc_1","amount":-150.00,"status":"posted","counterpartyName":"Staples","tags":["office","card"]}}`

func mustEngine(t *testing.T, cfg RulesConfig) *RuleEngine {
	t.Helper()
	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	return engine
}

// TestRuleEngineEvaluate tests that simple rules over the flattened payload match.
func TestRuleEngineEvaluate(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: `operationType == "created"`, Emit: EmitList{"mercury.transaction.created"}},
			{When: `operationType == "updated"`, Emit: EmitList{"mercury.transaction.updated"}},
		},
	})

	matches := engine.Evaluate(Event{Provider: "mercury", Name: "transaction.created", RawPayload: []byte(transactionBody)})
	if len(matches) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(matches))
	}
	if matches[0].Topic != "mercury.transaction.created" {
		t.Fatalf("expected created topic, got %q", matches[0].Topic)
	}
}

// TestRuleEngineEvaluateData tests that explicit event data takes precedence over the raw payload.
func TestRuleEngineEvaluateData(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: `amount < 0 && transaction_type == "debit"`, Emit: EmitList{"mercury.debits"}},
		},
	})

	event := Event{
		Provider: "mercury",
		Name:     "transaction.created",
		Data:     map[string]interface{}{"amount": -150.0, "transaction_type": "debit"},
	}
	if matches := engine.Evaluate(event); len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

// TestRuleEngineEvaluateMissingField tests that a missing field evaluates as nil outside strict mode.
func TestRuleEngineEvaluateMissingField(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: "missing == true", Emit: EmitList{"never"}},
			{When: "missing != true", Emit: EmitList{"always"}},
		},
	})

	matches := engine.Evaluate(Event{Provider: "mercury", RawPayload: []byte(`{}`)})
	if len(matches) != 1 || matches[0].Topic != "always" {
		t.Fatalf("expected only the negated rule to match, got %+v", matches)
	}
}

// TestRuleEngineStrictMissing tests that strict mode skips rules with missing fields.
func TestRuleEngineStrictMissing(t *testing.T) {
	var buf bytes.Buffer
	engine := mustEngine(t, RulesConfig{
		Rules:  []Rule{{When: "missing_field != true", Emit: EmitList{"never"}}},
		Strict: true,
		Logger: log.New(&buf, "", 0),
	})

	matches := engine.Evaluate(Event{Provider: "mercury", RawPayload: []byte(transactionBody)})
	if len(matches) != 0 {
		t.Fatalf("expected no matches in strict mode, got %d", len(matches))
	}
	if !strings.Contains(buf.String(), "missing_field") {
		t.Fatalf("expected skipped rule to be logged, got %q", buf.String())
	}
}

// TestRuleEngineWithDrivers tests that drivers and multiple topics are carried on matches.
func TestRuleEngineWithDrivers(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: `resourceType == "transaction"`, Emit: EmitList{"a", "b"}, Drivers: []string{"amqp", "riverqueue"}},
		},
	})

	matches := engine.Evaluate(Event{Provider: "mercury", RawPayload: []byte(transactionBody)})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[1].Topic != "b" || len(matches[1].Drivers) != 2 {
		t.Fatalf("unexpected match: %+v", matches[1])
	}
}

// TestRuleEngineDottedPaths tests bare dotted and indexed paths against flattened keys.
func TestRuleEngineDottedPaths(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: `mergePatch.status == "posted" && mergePatch.amount < -100`, Emit: EmitList{"large.posted"}},
			{When: `mergePatch.tags[0] == "office"`, Emit: EmitList{"office"}},
		},
	})

	matches := engine.Evaluate(Event{Provider: "mercury", RawPayload: []byte(transactionBody)})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

// TestRuleEngineJSONPath tests JSONPath references evaluated against the raw payload.
func TestRuleEngineJSONPath(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: `$.mergePatch.counterpartyName == "Staples"`, Emit: EmitList{"vendor.staples"}},
			{When: `$.mergePatch.tags[1] == "card"`, Emit: EmitList{"card"}},
			{When: `$.mergePatch.note == "x"`, Emit: EmitList{"never"}},
		},
	})

	matches := engine.Evaluate(Event{Provider: "mercury", RawPayload: []byte(transactionBody)})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

// TestRuleEngineStringLiteralsUntouched tests that dotted text inside quotes is not rewritten.
func TestRuleEngineStringLiteralsUntouched(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: `resourceId == "txn_1" && "a.b" == "a.b"`, Emit: EmitList{"literal"}},
		},
	})

	matches := engine.Evaluate(Event{Provider: "mercury", RawPayload: []byte(transactionBody)})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestRuleEngineFunctions(t *testing.T) {
	engine := mustEngine(t, RulesConfig{
		Rules: []Rule{
			{When: `contains(mergePatch.tags, "card")`, Emit: EmitList{"tag.card"}},
			{When: `like(mergePatch.counterpartyName, "Sta%")`, Emit: EmitList{"vendor.sta"}},
			{When: `lower(mergePatch.status) == "posted"`, Emit: EmitList{"posted"}},
		},
	})

	matches := engine.Evaluate(Event{Provider: "mercury", RawPayload: []byte(transactionBody)})
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
}

func TestNewRuleEngineInvalidExpression(t *testing.T) {
	if _, err := NewRuleEngine(RulesConfig{Rules: []Rule{{When: "amount <", Emit: EmitList{"x"}}}}); err == nil {
		t.Fatalf("expected compile error")
	}
}
