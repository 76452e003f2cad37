package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	stan "github.com/nats-io/stan.go"
)

// Broker settings shared by the publishing server and the subscribing worker.

// Brokers may still be starting when either process boots.
var (
	BrokerConnectAttempts = 10
	BrokerConnectDelay    = 2 * time.Second
)

// RetryConnect calls connect until it succeeds or the attempts run out.
func RetryConnect[T any](connect func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= BrokerConnectAttempts; attempt++ {
		if out, err = connect(); err == nil {
			return out, nil
		}
		if attempt < BrokerConnectAttempts {
			time.Sleep(BrokerConnectDelay)
		}
	}
	return out, err
}

// NewGoChannel returns the in-process pub/sub described by c.
func (c GoChannelConfig) NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            c.OutputChannelBuffer,
		Persistent:                     c.Persistent,
		BlockPublishUntilSubscriberAck: c.BlockPublishUntilSubscriberAck,
	}, logger)
}

// Watermill maps Mode onto one of the watermill-amqp topologies. An empty
// mode is a durable queue.
func (c AMQPConfig) Watermill() (wmamqp.Config, error) {
	if c.URL == "" {
		return wmamqp.Config{}, errors.New("amqp url is required")
	}
	switch strings.ToLower(c.Mode) {
	case "", "durable_queue":
		return wmamqp.NewDurableQueueConfig(c.URL), nil
	case "nondurable_queue":
		return wmamqp.NewNonDurableQueueConfig(c.URL), nil
	case "durable_pubsub":
		return wmamqp.NewDurablePubSubConfig(c.URL, nil), nil
	case "nondurable_pubsub":
		return wmamqp.NewNonDurablePubSubConfig(c.URL, nil), nil
	}
	return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", c.Mode)
}

func (c NATSConfig) validate() error {
	if c.ClusterID == "" || c.ClientID == "" {
		return errors.New("nats cluster_id and client_id are required")
	}
	return nil
}

// StanOptions returns the connection options for the streaming client.
func (c NATSConfig) StanOptions() []stan.Option {
	if c.URL == "" {
		return nil
	}
	return []stan.Option{stan.NatsURL(c.URL)}
}

// Schema picks the watermill-sql table layout for the dialect.
func (c SQLConfig) Schema() (wmsql.SchemaAdapter, wmsql.OffsetsAdapter, error) {
	switch strings.ToLower(c.Dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}, nil
	}
	return nil, nil, fmt.Errorf("unsupported sql dialect: %s", c.Dialect)
}

// Open validates the settings and opens the database. The caller owns the
// returned handle.
func (c SQLConfig) Open() (*sql.DB, error) {
	if c.Driver == "" || c.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	return sql.Open(c.Driver, c.DSN)
}

// CreateSchema reports whether watermill should create its tables.
func (c SQLConfig) CreateSchema() bool {
	return c.InitializeSchema || c.AutoInitializeSchema
}
