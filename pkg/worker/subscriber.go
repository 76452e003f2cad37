package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"

	"mercuryhooks/internal"
)

// DriverMetadataKey is set on messages received through a fan-in subscriber.
const DriverMetadataKey = "driver"

type subscriberBuilder func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error)

var subscriberBuilders = map[string]subscriberBuilder{
	"gochannel": func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return cfg.GoChannel.NewGoChannel(logger), nil
	},
	"amqp":  buildAMQPSubscriber,
	"nats":  buildNATSSubscriber,
	"kafka": buildKafkaSubscriber,
	"sql":   buildSQLSubscriber,
}

// NewFromConfig creates a worker subscribed through the configured drivers.
func NewFromConfig(cfg SubscriberConfig, opts ...Option) (*Worker, error) {
	sub, err := BuildSubscriber(cfg)
	if err != nil {
		return nil, err
	}
	return New(append(opts, WithSubscriber(sub))...), nil
}

// BuildSubscriber creates a subscriber for one driver, or a fan-in of several
// when Drivers is set. Drivers takes precedence over Driver, as it does for
// the publisher. With several drivers, those that fail to start are skipped.
func BuildSubscriber(cfg SubscriberConfig) (message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := cfg.Drivers
	if len(drivers) == 0 {
		drivers = []string{cfg.Driver}
	}
	drivers = normalizeDrivers(append([]string(nil), drivers...))
	switch len(drivers) {
	case 0:
		return connect(cfg, logger, "gochannel")
	case 1:
		return connect(cfg, logger, drivers[0])
	}

	fan := &fanIn{buffer: int(cfg.GoChannel.OutputChannelBuffer)}
	for _, driver := range drivers {
		sub, err := connect(cfg, logger, driver)
		if err != nil {
			logger.Error("subscriber init failed, skipping driver", err, watermill.LogFields{"driver": driver})
			continue
		}
		fan.drivers = append(fan.drivers, driver)
		fan.subs = append(fan.subs, sub)
	}
	if len(fan.subs) == 0 {
		return nil, errors.New("no subscriber driver could be started")
	}
	return fan, nil
}

func connect(cfg SubscriberConfig, logger watermill.LoggerAdapter, driver string) (message.Subscriber, error) {
	build, ok := subscriberBuilders[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported subscriber driver: %s", driver)
	}
	return internal.RetryConnect(func() (message.Subscriber, error) {
		return build(cfg, logger)
	})
}

func buildAMQPSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	amqpCfg, err := cfg.AMQP.Watermill()
	if err != nil {
		return nil, err
	}
	return wmamqp.NewSubscriber(amqpCfg, logger)
}

func buildNATSSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, errors.New("nats cluster_id and client_id are required")
	}
	return wmnats.NewStreamingSubscriber(wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID + cfg.NATS.ClientIDSuffix,
		DurableName: cfg.NATS.Durable,
		StanOptions: cfg.NATS.StanOptions(),
		Unmarshaler: wmnats.GobMarshaler{},
	}, logger)
}

func buildKafkaSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}, nil, wmkafka.DefaultMarshaler{}, logger)
}

func buildSQLSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	schema, offsets, err := cfg.SQL.Schema()
	if err != nil {
		return nil, err
	}
	db, err := cfg.SQL.Open()
	if err != nil {
		return nil, err
	}
	sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.SQL.ConsumerGroup,
		SchemaAdapter:    schema,
		OffsetsAdapter:   offsets,
		InitializeSchema: cfg.SQL.CreateSchema(),
	}, logger)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &ownedDB{Subscriber: sub, db: db.Close}, nil
}

// ownedDB closes the *sql.DB opened for a SQL subscriber along with it.
type ownedDB struct {
	message.Subscriber
	db func() error
}

func (o *ownedDB) Close() error {
	return errors.Join(o.Subscriber.Close(), o.db())
}

// fanIn merges the same topic from several drivers into one channel.
type fanIn struct {
	drivers []string
	subs    []message.Subscriber
	buffer  int
}

func (f *fanIn) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	inputs := make([]<-chan *message.Message, 0, len(f.subs))
	for i, sub := range f.subs {
		ch, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s on %s: %w", topic, f.drivers[i], err)
		}
		inputs = append(inputs, ch)
	}

	buffer := f.buffer
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan *message.Message, buffer)
	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for i := range inputs {
		go func(driver string, in <-chan *message.Message) {
			defer wg.Done()
			forward(ctx, driver, in, out)
		}(f.drivers[i], inputs[i])
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func forward(ctx context.Context, driver string, in <-chan *message.Message, out chan<- *message.Message) {
	for {
		var msg *message.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		if msg.Metadata == nil {
			msg.Metadata = message.Metadata{}
		}
		msg.Metadata.Set(DriverMetadataKey, driver)
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (f *fanIn) Close() error {
	var err error
	for _, sub := range f.subs {
		err = errors.Join(err, sub.Close())
	}
	return err
}

func normalizeDrivers(values []string) []string {
	for i := range values {
		values[i] = strings.ToLower(strings.TrimSpace(values[i]))
	}
	return unique(values)
}
