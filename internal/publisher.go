package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Publisher hands trigger events to the workflow side.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error
	Close() error
}

// PublisherFactory builds a watermill publisher for a driver name.
type PublisherFactory func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var publisherFactories = map[string]PublisherFactory{
	"gochannel": buildGoChannelPublisher,
	"http":      buildHTTPPublisher,
	"kafka":     buildKafkaPublisher,
	"nats":      buildNATSPublisher,
	"amqp":      buildAMQPPublisher,
	"sql":       buildSQLPublisher,
}

// RegisterPublisherDriver adds or replaces a publisher driver.
func RegisterPublisherDriver(name string, factory PublisherFactory) {
	if name == "" || factory == nil {
		return
	}
	publisherFactories[strings.ToLower(name)] = factory
}

// GoChannelPublisher exposes the in-process pub/sub of a publisher built with
// the gochannel driver so an embedded worker can subscribe to it.
type GoChannelPublisher interface {
	GoChannel() *gochannel.GoChannel
}

// NewPublisher builds every configured driver. Drivers that fail to start are
// logged and skipped; at least one must succeed.
func NewPublisher(cfg WatermillConfig) (Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := cfg.Drivers
	if len(drivers) == 0 && cfg.Driver != "" {
		drivers = []string{cfg.Driver}
	}
	if len(drivers) == 0 {
		drivers = []string{"gochannel"}
	}

	mux := &publisherMux{
		publishers: make(map[string]*watermillPublisher, len(drivers)),
		retry:      cfg.PublishRetry,
	}
	for _, driver := range drivers {
		key := strings.ToLower(strings.TrimSpace(driver))
		pub, err := newSinglePublisher(cfg, key, logger)
		if err != nil {
			logger.Error("publisher init failed, skipping driver", err, watermill.LogFields{"driver": key})
			continue
		}
		mux.publishers[key] = pub
		mux.defaultDrivers = append(mux.defaultDrivers, key)
	}
	if len(mux.publishers) == 0 {
		return nil, errors.New("no publishers available")
	}
	return mux, nil
}

func newSinglePublisher(cfg WatermillConfig, driver string, logger watermill.LoggerAdapter) (*watermillPublisher, error) {
	factory, ok := publisherFactories[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported watermill driver: %s", driver)
	}
	pub, closeFn, err := factory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &watermillPublisher{driver: driver, publisher: pub, closeFn: closeFn}, nil
}

type watermillPublisher struct {
	driver    string
	publisher message.Publisher
	closeFn   func() error
}

// newMessage builds the broker message: the trigger payload as body and the
// routing fields as metadata.
func newMessage(ctx context.Context, topic string, event Event) (*message.Message, error) {
	payload := []byte(event.Payload)
	if len(payload) == 0 {
		encoded, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		payload = encoded
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("provider", event.Provider)
	msg.Metadata.Set("event", event.Name)
	msg.Metadata.Set("topic", topic)
	if event.RequestID != "" {
		msg.Metadata.Set("request_id", event.RequestID)
	}
	if event.SubscriptionID != "" {
		msg.Metadata.Set("subscription_id", event.SubscriptionID)
	}
	if event.Environment != "" {
		msg.Metadata.Set("environment", event.Environment)
	}
	return msg, nil
}

func (w *watermillPublisher) publish(ctx context.Context, topic string, event Event) error {
	msg, err := newMessage(ctx, topic, event)
	if err != nil {
		return err
	}
	return w.publisher.Publish(topic, msg)
}

func (w *watermillPublisher) Close() error {
	if w.publisher == nil {
		return nil
	}
	err := w.publisher.Close()
	if w.closeFn != nil {
		return errors.Join(err, w.closeFn())
	}
	return err
}

type publisherMux struct {
	publishers     map[string]*watermillPublisher
	defaultDrivers []string
	retry          PublishRetryConfig
}

func (m *publisherMux) Publish(ctx context.Context, topic string, event Event) error {
	return m.PublishForDrivers(ctx, topic, event, nil)
}

// PublishForDrivers publishes to the named drivers, or to every configured
// driver when drivers is empty. Failures are joined; one failing driver does
// not stop the others.
func (m *publisherMux) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	targets := drivers
	if len(targets) == 0 {
		targets = m.defaultDrivers
	}

	var err error
	for _, driver := range targets {
		key := strings.ToLower(driver)
		pub, ok := m.publishers[key]
		if !ok {
			err = errors.Join(err, fmt.Errorf("unknown driver %s", driver))
			continue
		}
		if publishErr := m.publishWithRetry(ctx, pub, topic, event); publishErr != nil {
			IncPublishError(key)
			err = errors.Join(err, fmt.Errorf("%s: %w", key, publishErr))
		}
	}
	return err
}

func (m *publisherMux) publishWithRetry(ctx context.Context, pub *watermillPublisher, topic string, event Event) error {
	attempts := m.retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := time.Duration(m.retry.DelayMS) * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if err = pub.publish(ctx, topic, event); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

func (m *publisherMux) Close() error {
	var err error
	for _, pub := range m.publishers {
		err = errors.Join(err, pub.Close())
	}
	return err
}

func (m *publisherMux) GoChannel() *gochannel.GoChannel {
	pub, ok := m.publishers["gochannel"]
	if !ok {
		return nil
	}
	goChannel, _ := pub.publisher.(*gochannel.GoChannel)
	return goChannel
}

func buildGoChannelPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	return cfg.GoChannel.NewGoChannel(logger), nil, nil
}

func buildHTTPPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if _, err := httpTargetURL(cfg.HTTP, "check"); err != nil {
		return nil, nil, err
	}
	pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
			target, err := httpTargetURL(cfg.HTTP, topic)
			if err != nil {
				return nil, err
			}
			return wmhttp.DefaultMarshalMessageFunc(target, msg)
		},
	}, logger)
	return pub, nil, err
}

func buildKafkaPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil, errors.New("kafka brokers are required")
	}
	pub, err := RetryConnect(func() (message.Publisher, error) {
		return wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
	})
	return pub, nil, err
}

func buildNATSPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if err := cfg.NATS.validate(); err != nil {
		return nil, nil, err
	}
	pub, err := RetryConnect(func() (message.Publisher, error) {
		return wmnats.NewStreamingPublisher(wmnats.StreamingPublisherConfig{
			ClusterID:   cfg.NATS.ClusterID,
			ClientID:    cfg.NATS.ClientID,
			StanOptions: cfg.NATS.StanOptions(),
			Marshaler:   wmnats.GobMarshaler{},
		}, logger)
	})
	return pub, nil, err
}

func buildAMQPPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	amqpCfg, err := cfg.AMQP.Watermill()
	if err != nil {
		return nil, nil, err
	}
	pub, err := RetryConnect(func() (message.Publisher, error) {
		return wmamqp.NewPublisher(amqpCfg, logger)
	})
	return pub, nil, err
}

func buildSQLPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	schema, _, err := cfg.SQL.Schema()
	if err != nil {
		return nil, nil, err
	}
	db, err := cfg.SQL.Open()
	if err != nil {
		return nil, nil, err
	}
	pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
		SchemaAdapter:        schema,
		AutoInitializeSchema: cfg.SQL.CreateSchema(),
	}, logger)
	if err != nil {
		return nil, nil, errors.Join(err, db.Close())
	}
	return pub, db.Close, nil
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", errors.New("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", errors.New("http base_url is empty")
		}
		base := strings.TrimRight(cfg.BaseURL, "/")
		if topic == "" {
			return base, nil
		}
		return base + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
