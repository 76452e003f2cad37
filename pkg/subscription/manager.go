package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"

	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/providers/mercury"
)

// API is the part of the Mercury client the manager depends on.
type API interface {
	ValidateToken(ctx context.Context) error
	CreateWebhook(ctx context.Context, input mercury.CreateWebhookRequest) (*mercury.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*mercury.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

// ClientFactory builds an API client for a set of credentials.
type ClientFactory func(creds auth.Credentials) API

// MercuryClientFactory returns a factory producing real Mercury clients.
func MercuryClientFactory(opts ...mercury.Option) ClientFactory {
	return func(creds auth.Credentials) API {
		return mercury.NewClient(creds, opts...)
	}
}

// Manager drives the lifecycle of a remote Mercury webhook. Every method is a
// single synchronous attempt; the caller owns retries and persistence.
type Manager struct {
	clients ClientFactory
	logger  *log.Logger
}

// NewManager creates a Manager.
func NewManager(clients ClientFactory, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{clients: clients, logger: logger}
}

// Create validates creds and registers endpoint with Mercury. Nothing is
// created remotely when the token is rejected.
func (m *Manager) Create(ctx context.Context, creds auth.Credentials, endpoint string, params Parameters) (Subscription, error) {
	if creds.Empty() {
		return Subscription{}, &SubscriptionError{
			Code:    CodeMissingCredentials,
			Message: "mercury API access token is required",
		}
	}
	if endpoint == "" {
		return Subscription{}, &SubscriptionError{
			Code:    CodeWebhookCreationFailed,
			Message: "webhook endpoint is required",
		}
	}
	client := m.clients(creds)

	if err := client.ValidateToken(ctx); err != nil {
		return Subscription{}, validationFailure(err)
	}

	params = Parameters{
		EventTypes:  NormalizeEventTypes(params.EventTypes),
		FilterPaths: params.FilterPaths,
	}
	hook, err := client.CreateWebhook(ctx, mercury.CreateWebhookRequest{
		URL:         endpoint,
		EventTypes:  params.EventTypes,
		FilterPaths: params.FilterPaths,
	})
	if err != nil {
		subErr := &SubscriptionError{
			Code:    CodeWebhookCreationFailed,
			Message: "failed to create mercury webhook: " + remoteMessage(err),
			Err:     err,
		}
		fillRemote(err, &subErr.StatusCode, &subErr.Response)
		return Subscription{}, subErr
	}
	if hook.ID == "" || hook.Secret == "" {
		return Subscription{}, &SubscriptionError{
			Code:    CodeWebhookCreationFailed,
			Message: "mercury webhook response is missing id or secret",
		}
	}

	status := StatusActive
	if hook.Status != "" {
		status = ParseStatus(hook.Status)
	}
	m.logger.Printf("mercury webhook created id=%s env=%s status=%s", hook.ID, creds.Environment, status)
	return Subscription{
		Endpoint:   endpoint,
		Parameters: params,
		Properties: Properties{
			ExternalID:    hook.ID,
			WebhookSecret: Secret(hook.Secret),
			Status:        status,
		},
	}, nil
}

// Refresh re-reads the remote webhook status. On WEBHOOK_NOT_FOUND the input
// subscription is returned unchanged; the host decides how to remediate.
func (m *Manager) Refresh(ctx context.Context, creds auth.Credentials, sub Subscription) (Subscription, error) {
	if !sub.Created() {
		return sub, &SubscriptionError{
			Code:    CodeMissingProperties,
			Message: "subscription has no mercury webhook id",
		}
	}
	if creds.Empty() {
		return sub, &SubscriptionError{
			Code:    CodeMissingCredentials,
			Message: "mercury API access token is required",
		}
	}

	hook, err := m.clients(creds).GetWebhook(ctx, sub.Properties.ExternalID)
	if err != nil {
		subErr := &SubscriptionError{
			Code:    CodeWebhookRefreshFailed,
			Message: fmt.Sprintf("failed to refresh mercury webhook %s: %s", sub.Properties.ExternalID, remoteMessage(err)),
			Err:     err,
		}
		if errors.Is(err, mercury.ErrNotFound) {
			subErr.Code = CodeWebhookNotFound
			subErr.Message = fmt.Sprintf("mercury webhook %s no longer exists; create a new subscription", sub.Properties.ExternalID)
		}
		fillRemote(err, &subErr.StatusCode, &subErr.Response)
		return sub, subErr
	}

	updated := sub
	updated.Properties.Status = ParseStatus(hook.Status)
	return updated, nil
}

// Delete removes the remote webhook. A subscription that was never created, or
// whose webhook is already gone, is deleted successfully. The returned
// subscription never carries the old id or secret.
func (m *Manager) Delete(ctx context.Context, creds auth.Credentials, sub Subscription) (Subscription, error) {
	if !sub.Created() {
		return cleared(sub), nil
	}
	if creds.Empty() {
		return sub, &UnsubscribeError{
			Code:    CodeMissingCredentials,
			Message: "mercury API access token is required",
		}
	}

	id := sub.Properties.ExternalID
	err := m.clients(creds).DeleteWebhook(ctx, id)
	switch {
	case err == nil:
		m.logger.Printf("mercury webhook deleted id=%s", id)
	case errors.Is(err, mercury.ErrNotFound):
		m.logger.Printf("mercury webhook %s already deleted", id)
	default:
		unsubErr := &UnsubscribeError{
			Code:    CodeWebhookDeletionFailed,
			Message: fmt.Sprintf("failed to delete mercury webhook %s: %s", id, remoteMessage(err)),
			Err:     err,
		}
		fillRemote(err, &unsubErr.StatusCode, &unsubErr.Response)
		return sub, unsubErr
	}
	return cleared(sub), nil
}

func cleared(sub Subscription) Subscription {
	sub.Properties = Properties{Status: StatusInactive}
	return sub
}

func validationFailure(err error) error {
	var apiErr *mercury.APIError
	if errors.As(err, &apiErr) && apiErr.Transport() {
		return &SubscriptionError{
			Code:    CodeNetworkError,
			Message: "network error while validating credentials: " + apiErr.Err.Error(),
			Err:     err,
		}
	}
	credErr := &CredentialValidationError{Message: remoteMessage(err), Err: err}
	if errors.Is(err, mercury.ErrUnauthorized) {
		credErr.Message = "invalid or expired mercury API access token"
	}
	if apiErr != nil {
		credErr.StatusCode = apiErr.StatusCode
	}
	return credErr
}

func remoteMessage(err error) string {
	var apiErr *mercury.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Transport() {
			return apiErr.Err.Error()
		}
		if msg := apiErr.Message(); msg != "" {
			return fmt.Sprintf("status %d: %s", apiErr.StatusCode, msg)
		}
		return fmt.Sprintf("status %d", apiErr.StatusCode)
	}
	return err.Error()
}

func fillRemote(err error, status *int, body *string) {
	var apiErr *mercury.APIError
	if errors.As(err, &apiErr) {
		*status = apiErr.StatusCode
		*body = apiErr.Body
	}
}
