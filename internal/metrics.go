package internal

import "expvar"

var (
	requestsTotal      = expvar.NewMap("mercuryhooks_requests_total")
	verifyFailures     = expvar.NewMap("mercuryhooks_verification_failures_total")
	dispatchErrors     = expvar.NewMap("mercuryhooks_dispatch_errors_total")
	eventsSkipped      = expvar.NewMap("mercuryhooks_events_skipped_total")
	eventsEmitted      = expvar.NewMap("mercuryhooks_events_emitted_total")
	publishErrors      = expvar.NewMap("mercuryhooks_publish_errors_total")
	subscriptionOps    = expvar.NewMap("mercuryhooks_subscription_operations_total")
	subscriptionErrors = expvar.NewMap("mercuryhooks_subscription_errors_total")
)

func IncRequest(provider string) {
	requestsTotal.Add(provider, 1)
}

// IncVerificationFailure counts rejected signatures by reason.
func IncVerificationFailure(reason string) {
	verifyFailures.Add(reason, 1)
}

func IncDispatchError(provider string) {
	dispatchErrors.Add(provider, 1)
}

func IncSkipped(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	eventsSkipped.Add(eventType, 1)
}

func IncEmitted(eventType string) {
	eventsEmitted.Add(eventType, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

// IncSubscriptionOp counts lifecycle operations; code is empty on success.
func IncSubscriptionOp(op, code string) {
	subscriptionOps.Add(op, 1)
	if code != "" {
		subscriptionErrors.Add(op+":"+code, 1)
	}
}
