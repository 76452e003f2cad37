package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

func init() {
	RegisterPublisherDriver("riverqueue", buildRiverQueuePublisher)
}

// triggerJobArgs carries a trigger payload as the job args verbatim.
type triggerJobArgs struct {
	kind    string
	payload json.RawMessage
}

func (a triggerJobArgs) Kind() string { return a.kind }

func (a triggerJobArgs) MarshalJSON() ([]byte, error) {
	if len(a.payload) == 0 {
		return []byte("{}"), nil
	}
	return a.payload, nil
}

// riverQueuePublisher inserts every message as a River job using an
// insert-only client; jobs are worked by cmd/river-worker.
type riverQueuePublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverQueueConfig
}

func buildRiverQueuePublisher(cfg WatermillConfig, _ watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	pub, err := newRiverQueuePublisher(context.Background(), cfg.RiverQueue)
	if err != nil {
		return nil, nil, err
	}
	return pub, nil, nil
}

func newRiverQueuePublisher(ctx context.Context, cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, errors.New("riverqueue dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &riverQueuePublisher{pool: pool, client: client, cfg: cfg}, nil
}

func (p *riverQueuePublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		opts, err := p.insertOpts(topic, msg)
		if err != nil {
			return err
		}
		args := triggerJobArgs{kind: p.cfg.Kind, payload: json.RawMessage(msg.Payload)}
		if _, err := p.client.Insert(msg.Context(), args, opts); err != nil {
			return err
		}
	}
	return nil
}

func (p *riverQueuePublisher) insertOpts(topic string, msg *message.Message) (*river.InsertOpts, error) {
	metadata := make(map[string]string, len(msg.Metadata)+1)
	for key, value := range msg.Metadata {
		metadata[key] = value
	}
	metadata["topic"] = topic
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return &river.InsertOpts{
		Queue:       p.cfg.Queue,
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
		Tags:        p.cfg.Tags,
		Metadata:    encoded,
	}, nil
}

func (p *riverQueuePublisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
