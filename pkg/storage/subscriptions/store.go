package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mercuryhooks/pkg/storage"
)

const defaultTable = "mercuryhooks_subscriptions"

var errNotOpen = errors.New("subscription store is not open")

// Config selects the database for the subscriptions table. Driver wins over
// Dialect when both are set.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
}

// Store implements storage.Store on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

// row is the table layout. It must stay field-for-field convertible to
// storage.SubscriptionRecord. List columns are JSON so values may contain commas.
type row struct {
	ID            string    `gorm:"column:id;size:64;primaryKey"`
	Environment   string    `gorm:"column:environment;size:16;not null"`
	Endpoint      string    `gorm:"column:endpoint;size:512;not null"`
	EventTypes    []string  `gorm:"column:event_types;type:text;serializer:json"`
	FilterPaths   []string  `gorm:"column:filter_paths;type:text;serializer:json"`
	ExternalID    string    `gorm:"column:external_id;size:128;index"`
	WebhookSecret string    `gorm:"column:webhook_secret;type:text"`
	Status        string    `gorm:"column:status;size:16"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// upsertColumns are overwritten when the id already exists; created_at is not.
var upsertColumns = []string{
	"environment", "endpoint", "event_types", "filter_paths",
	"external_id", "webhook_secret", "status", "updated_at",
}

// Open connects to the configured database.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open subscription store: %w", err)
	}

	store := &Store{db: db, table: cfg.Table}
	if store.table == "" {
		store.table = defaultTable
	}
	if cfg.AutoMigrate {
		if err := db.Table(store.table).AutoMigrate(&row{}); err != nil {
			return nil, errors.Join(fmt.Errorf("migrate %s: %w", store.table, err), store.Close())
		}
	}
	return store, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	name := cfg.Driver
	if name == "" {
		name = cfg.Dialect
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(cfg.DSN), nil
	case "":
		return nil, errors.New("storage driver or dialect is required")
	}
	return nil, fmt.Errorf("unsupported storage driver: %s", name)
}

func (s *Store) query(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errNotOpen
	}
	return s.db.WithContext(ctx).Table(s.table), nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertSubscription inserts record or replaces the stored one with the same
// id, keeping its original creation time.
func (s *Store) UpsertSubscription(ctx context.Context, record storage.SubscriptionRecord) error {
	if record.ID == "" {
		return errors.New("subscription id is required")
	}
	q, err := s.query(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data := row(record)
	return q.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&data).Error
}

// GetSubscription returns nil, nil when id is unknown.
func (s *Store) GetSubscription(ctx context.Context, id string) (*storage.SubscriptionRecord, error) {
	q, err := s.query(ctx)
	if err != nil {
		return nil, err
	}
	var data row
	switch err := q.Where("id = ?", id).Take(&data).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	record := storage.SubscriptionRecord(data)
	return &record, nil
}

// ListSubscriptions lists every subscription, newest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]storage.SubscriptionRecord, error) {
	q, err := s.query(ctx)
	if err != nil {
		return nil, err
	}
	var data []row
	if err := q.Order("created_at desc").Find(&data).Error; err != nil {
		return nil, err
	}
	records := make([]storage.SubscriptionRecord, len(data))
	for i := range data {
		records[i] = storage.SubscriptionRecord(data[i])
	}
	return records, nil
}

// DeleteSubscription removes a subscription record. Missing rows are ignored.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	q, err := s.query(ctx)
	if err != nil {
		return err
	}
	return q.Where("id = ?", id).Delete(&row{}).Error
}
