package worker

import (
	"strings"

	"mercuryhooks/internal"
)

// LoadSubscriberConfig reads the watermill section of a server config file
// and applies the worker's own defaults on top.
func LoadSubscriberConfig(path string) (SubscriberConfig, error) {
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return SubscriberConfig{}, err
	}
	return SubscriberSettings(cfg.Watermill), nil
}

// SubscriberSettings adapts the publisher settings for consuming. The NATS
// client id gets a suffix so the worker does not take over the server's
// streaming connection.
func SubscriberSettings(cfg internal.WatermillConfig) SubscriberConfig {
	if cfg.NATS.ClientIDSuffix == "" {
		cfg.NATS.ClientIDSuffix = "-worker"
	}
	if cfg.GoChannel.OutputChannelBuffer == 0 {
		cfg.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.DefaultTopic == "" {
		cfg.DefaultTopic = internal.DefaultTopic
	}
	return cfg
}

// LoadTopicsFromConfig returns every topic the server may publish to.
func LoadTopicsFromConfig(path string) ([]string, error) {
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Topics(cfg), nil
}

// Topics lists the emit topics of all rules followed by the default topic.
func Topics(cfg internal.Config) []string {
	var topics []string
	for _, rule := range cfg.Rules {
		for _, topic := range rule.Emit {
			topics = append(topics, strings.TrimSpace(topic))
		}
	}
	return unique(append(topics, SubscriberSettings(cfg.Watermill).DefaultTopic))
}
