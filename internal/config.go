package internal

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/providers/mercury"
)

// Defaults shared with the worker binaries.
const (
	DefaultTopic = "mercury.transaction"
	RiverJobKind = "mercury.trigger"
)

// AppConfig is everything in the config file except the rules.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Mercury   MercuryConfig   `yaml:"mercury"`
	Storage   StorageConfig   `yaml:"storage"`
	Watermill WatermillConfig `yaml:"watermill"`
}

// Config is the whole config file.
type Config struct {
	AppConfig   `yaml:",inline"`
	Rules       []Rule `yaml:"rules"`
	RulesStrict bool   `yaml:"rules_strict"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
	WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
	ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	MaxConnections int    `yaml:"max_connections"`
	RateLimitRPS   int64  `yaml:"rate_limit_rps"`
	RateLimitBurst int64  `yaml:"rate_limit_burst"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path"`
	// PublicURL is the externally reachable base URL Mercury delivers to.
	PublicURL   string `yaml:"public_url"`
	DebugEvents bool   `yaml:"debug_events"`
}

// MercuryConfig configures the Mercury API client and inbound webhooks.
type MercuryConfig struct {
	auth.Config          `yaml:",inline"`
	BaseURL              string `yaml:"base_url"`
	TimeoutMS            int64  `yaml:"timeout_ms"`
	SignatureToleranceMS int64  `yaml:"signature_tolerance_ms"`
	WebhookPath          string `yaml:"webhook_path"`
}

func (m MercuryConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

func (m MercuryConfig) SignatureTolerance() time.Duration {
	return time.Duration(m.SignatureToleranceMS) * time.Millisecond
}

// ClientOptions are the Mercury client options implied by the config.
func (m MercuryConfig) ClientOptions() []mercury.Option {
	opts := []mercury.Option{mercury.WithTimeout(m.Timeout())}
	if m.BaseURL != "" {
		opts = append(opts, mercury.WithBaseURL(m.BaseURL))
	}
	return opts
}

// StorageConfig configures the GORM subscription store and the lookup cache
// in front of it. A negative cache_ttl_ms disables the cache.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Dialect      string `yaml:"dialect"`
	Table        string `yaml:"table"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
	CacheTTLMS   int64  `yaml:"cache_ttl_ms"`
	CacheEntries int64  `yaml:"cache_entries"`
}

func (s StorageConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLMS) * time.Millisecond
}

// WatermillConfig is read by both the publishing server and the workers.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	DefaultTopic string             `yaml:"default_topic"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig is shared by the publisher and the worker; ConsumerGroup only
// matters to the latter.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig configures NATS streaming. Workers connect as ClientID plus
// ClientIDSuffix so they never collide with the server's connection.
type NATSConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	ClientID       string `yaml:"client_id"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	URL            string `yaml:"url"`
	Durable        string `yaml:"durable"`
}

type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig points watermill-sql at postgres or mysql.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	ConsumerGroup        string `yaml:"consumer_group"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig posts each message to the topic itself (topic_url) or to
// base_url/topic (base_url).
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig inserts triggers as River jobs instead of broker messages.
type RiverQueueConfig struct {
	DSN         string   `yaml:"dsn"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// LoadConfig reads path with environment variables expanded, fills in
// defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg.AppConfig)
	if err := validate(cfg.AppConfig); err != nil {
		return cfg, err
	}
	var err error
	cfg.Rules, err = normalizeRules(cfg.Rules)
	return cfg, err
}

// RulesConfig is the subset of the config file the rule engine needs.
type RulesConfig struct {
	Rules  []Rule `yaml:"rules"`
	Strict bool   `yaml:"rules_strict"`
	Logger *log.Logger
}

// LoadRulesConfig reads only the rules from path.
func LoadRulesConfig(path string) (RulesConfig, error) {
	var cfg RulesConfig
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	var err error
	cfg.Rules, err = normalizeRules(cfg.Rules)
	return cfg, err
}

func readYAML(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// orDefault stores def in *field when the field is unset.
func orDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

func applyDefaults(cfg *AppConfig) {
	srv := &cfg.Server
	orDefault(&srv.Port, 8080)
	orDefault(&srv.ReadTimeoutMS, 5000)
	// Lifecycle calls wait on the Mercury API timeout.
	orDefault(&srv.WriteTimeoutMS, 45000)
	orDefault(&srv.IdleTimeoutMS, 60000)
	orDefault(&srv.ReadHeaderMS, 5000)
	orDefault(&srv.MaxBodyBytes, 1<<20)
	orDefault(&srv.MetricsPath, "/metrics")

	m := &cfg.Mercury
	orDefault(&m.Environment, string(auth.EnvironmentProduction))
	orDefault(&m.TimeoutMS, 30000)
	orDefault(&m.SignatureToleranceMS, 300000)
	orDefault(&m.WebhookPath, "/webhooks/mercury/")
	if !strings.HasSuffix(m.WebhookPath, "/") {
		m.WebhookPath += "/"
	}

	if cfg.Storage.Driver == "" && cfg.Storage.Dialect == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "file:mercuryhooks.db"
		cfg.Storage.AutoMigrate = true
	}
	orDefault(&cfg.Storage.CacheTTLMS, 30000)
	orDefault(&cfg.Storage.CacheEntries, 10000)

	wm := &cfg.Watermill
	orDefault(&wm.Driver, "gochannel")
	orDefault(&wm.DefaultTopic, DefaultTopic)
	orDefault(&wm.GoChannel.OutputChannelBuffer, 64)
	orDefault(&wm.HTTP.Mode, "topic_url")
	orDefault(&wm.RiverQueue.Queue, "default")
	orDefault(&wm.RiverQueue.Kind, RiverJobKind)
	orDefault(&wm.RiverQueue.MaxAttempts, 25)
	orDefault(&wm.PublishRetry.Attempts, 3)
	orDefault(&wm.PublishRetry.DelayMS, 500)
}

func validate(cfg AppConfig) error {
	if _, err := auth.ParseEnvironment(cfg.Mercury.Environment); err != nil {
		return err
	}
	if cfg.Mercury.SignatureToleranceMS < 0 {
		return fmt.Errorf("mercury signature_tolerance_ms must not be negative")
	}
	if cfg.Server.PublicURL != "" && !strings.HasPrefix(cfg.Server.PublicURL, "http://") && !strings.HasPrefix(cfg.Server.PublicURL, "https://") {
		return fmt.Errorf("server public_url must be an http(s) URL: %s", cfg.Server.PublicURL)
	}
	return nil
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Emit = trimAll(rule.Emit)
		if rule.When == "" || len(rule.Emit) == 0 {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		rule.Drivers = trimAll(rule.Drivers)
		out = append(out, rule)
	}
	return out, nil
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
