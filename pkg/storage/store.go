package storage

import (
	"context"
	"time"

	"mercuryhooks/pkg/subscription"
)

// SubscriptionRecord is the persisted state of one trigger subscription.
type SubscriptionRecord struct {
	ID            string
	Environment   string
	Endpoint      string
	EventTypes    []string
	FilterPaths   []string
	ExternalID    string
	WebhookSecret string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Subscription converts the record into the lifecycle representation.
func (r SubscriptionRecord) Subscription() subscription.Subscription {
	return subscription.Subscription{
		Endpoint: r.Endpoint,
		Parameters: subscription.Parameters{
			EventTypes:  r.EventTypes,
			FilterPaths: r.FilterPaths,
		},
		Properties: subscription.Properties{
			ExternalID:    r.ExternalID,
			WebhookSecret: subscription.Secret(r.WebhookSecret),
			Status:        subscription.Status(r.Status),
		},
	}
}

// Apply copies the lifecycle state of sub onto the record.
func (r *SubscriptionRecord) Apply(sub subscription.Subscription) {
	r.Endpoint = sub.Endpoint
	r.EventTypes = sub.Parameters.EventTypes
	r.FilterPaths = sub.Parameters.FilterPaths
	r.ExternalID = sub.Properties.ExternalID
	r.WebhookSecret = string(sub.Properties.WebhookSecret)
	r.Status = string(sub.Properties.Status)
}

// Store defines the persistence interface for subscription records. Get
// returns nil, nil when the record does not exist.
type Store interface {
	UpsertSubscription(ctx context.Context, record SubscriptionRecord) error
	GetSubscription(ctx context.Context, id string) (*SubscriptionRecord, error)
	ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error)
	DeleteSubscription(ctx context.Context, id string) error
	Close() error
}
