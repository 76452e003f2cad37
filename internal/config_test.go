package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadConfigDefaults tests the values filled in for an empty file.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Mercury.Environment != "production" {
		t.Fatalf("expected production environment, got %q", cfg.Mercury.Environment)
	}
	if cfg.Mercury.Timeout() != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.Mercury.Timeout())
	}
	if cfg.Mercury.SignatureTolerance() != 5*time.Minute {
		t.Fatalf("expected 5m tolerance, got %s", cfg.Mercury.SignatureTolerance())
	}
	if cfg.Mercury.WebhookPath != "/webhooks/mercury/" {
		t.Fatalf("expected default webhook path, got %q", cfg.Mercury.WebhookPath)
	}
	if cfg.Storage.Driver != "sqlite" || !cfg.Storage.AutoMigrate {
		t.Fatalf("expected sqlite storage with auto migrate, got %+v", cfg.Storage)
	}
	if cfg.Storage.CacheTTL() != 30*time.Second || cfg.Storage.CacheEntries != 10000 {
		t.Fatalf("expected default subscription cache, got %+v", cfg.Storage)
	}
	if cfg.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default watermill driver, got %q", cfg.Watermill.Driver)
	}
	if cfg.Watermill.DefaultTopic != "mercury.transaction" {
		t.Fatalf("expected default topic, got %q", cfg.Watermill.DefaultTopic)
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer != 64 {
		t.Fatalf("expected default gochannel output buffer, got %d", cfg.Watermill.GoChannel.OutputChannelBuffer)
	}
	if cfg.Watermill.RiverQueue.Kind != "mercury.trigger" {
		t.Fatalf("expected default river kind, got %q", cfg.Watermill.RiverQueue.Kind)
	}
}

// TestLoadConfigExpandsEnv tests that ${VAR} references are expanded before parsing.
func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("MERCURY_TOKEN", "secret-token:abc")
	content := "mercury:\n  environment: sandbox\n  access_token: ${MERCURY_TOKEN}\n  webhook_path: /hooks/mercury\n"

	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Mercury.AccessToken != "secret-token:abc" {
		t.Fatalf("expected expanded token, got %q", cfg.Mercury.AccessToken)
	}
	if cfg.Mercury.Environment != "sandbox" {
		t.Fatalf("expected sandbox, got %q", cfg.Mercury.Environment)
	}
	if cfg.Mercury.WebhookPath != "/hooks/mercury/" {
		t.Fatalf("expected trailing slash on webhook path, got %q", cfg.Mercury.WebhookPath)
	}
}

func TestLoadConfigRejectsUnknownEnvironment(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "mercury:\n  environment: staging\n")); err == nil {
		t.Fatalf("expected error for unknown environment")
	}
}

func TestLoadConfigRejectsRelativePublicURL(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "server:\n  public_url: hooks.example.com\n")); err == nil {
		t.Fatalf("expected error for public_url without scheme")
	}
}

// TestLoadConfigInvalidRule tests that loading a config with an invalid rule returns an error.
func TestLoadConfigInvalidRule(t *testing.T) {
	content := "rules:\n  - when: operationType == \"created\"\n"
	if _, err := LoadConfig(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for missing emit")
	}
}

// TestLoadConfigTrimsFields tests that the fields in a rule are trimmed correctly.
func TestLoadConfigTrimsFields(t *testing.T) {
	content := "rules:\n  - when: \"  amount < 0  \"\n    emit: \"  mercury.debit  \"\n    drivers: [\" amqp \", \"\"]\n"

	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load rules config: %v", err)
	}
	if cfg.Rules[0].When != "amount < 0" {
		t.Fatalf("expected trimmed when, got %q", cfg.Rules[0].When)
	}
	if len(cfg.Rules[0].Emit) != 1 || cfg.Rules[0].Emit[0] != "mercury.debit" {
		t.Fatalf("expected trimmed emit, got %q", cfg.Rules[0].Emit)
	}
	if len(cfg.Rules[0].Drivers) != 1 || cfg.Rules[0].Drivers[0] != "amqp" {
		t.Fatalf("expected trimmed drivers, got %q", cfg.Rules[0].Drivers)
	}
}

func TestLoadRulesConfigEmitList(t *testing.T) {
	content := "rules_strict: true\nrules:\n  - when: amount < 0\n    emit: [mercury.debit, mercury.all]\n"

	cfg, err := LoadRulesConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load rules config: %v", err)
	}
	if !cfg.Strict {
		t.Fatalf("expected strict rules")
	}
	if len(cfg.Rules[0].Emit) != 2 || cfg.Rules[0].Emit[1] != "mercury.all" {
		t.Fatalf("unexpected emit list: %v", cfg.Rules[0].Emit)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := LoadConfig("../config.yaml")
	if err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	if _, err := NewRuleEngine(RulesConfig{Rules: cfg.Rules, Strict: cfg.RulesStrict}); err != nil {
		t.Fatalf("sample rules do not compile: %v", err)
	}
	if cfg.Watermill.RiverQueue.Kind != RiverJobKind {
		t.Fatalf("unexpected river kind %q", cfg.Watermill.RiverQueue.Kind)
	}
}
