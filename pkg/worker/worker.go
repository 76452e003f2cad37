package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/semaphore"
)

// Worker consumes trigger payloads and runs the handler registered for the
// topic, or failing that, for the event type.
type Worker struct {
	subscriber     message.Subscriber
	codec          Codec
	retry          RetryPolicy
	logger         Logger
	clientProvider ClientProvider
	middleware     []Middleware
	listeners      []Listener
	concurrency    int

	// topics is everything Run subscribes to; allowed is non-nil only when
	// WithTopics restricted the set.
	topics  topicSet
	allowed topicSet

	byTopic map[string]Handler
	byType  map[string]Handler
}

func New(opts ...Option) *Worker {
	w := &Worker{
		codec:       TriggerCodec{},
		retry:       NoRetry{},
		logger:      defaultWorkerLogger,
		concurrency: 1,
		topics:      topicSet{},
		byTopic:     make(map[string]Handler),
		byType:      make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleTopic registers h for every message on topic and subscribes to it.
func (w *Worker) HandleTopic(topic string, h Handler) {
	if h == nil || topic == "" {
		return
	}
	if w.allowed != nil && !w.allowed.has(topic) {
		w.logger.Printf("handler topic not subscribed: %s", topic)
		return
	}
	w.byTopic[topic] = h
	w.topics.add(topic)
}

// HandleType registers h for an event type such as "transaction.created".
func (w *Worker) HandleType(eventType string, h Handler) {
	if h != nil && eventType != "" {
		w.byType[eventType] = h
	}
}

// Run subscribes to every topic and handles messages until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if len(w.topics) == 0 {
		return errors.New("at least one topic is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.notify(func(l Listener) {
		if l.OnStart != nil {
			l.OnStart(ctx)
		}
	})
	defer w.notify(func(l Listener) {
		if l.OnExit != nil {
			l.OnExit(ctx)
		}
	})

	slots := semaphore.NewWeighted(int64(w.concurrency))
	var inflight sync.WaitGroup
	for _, topic := range w.topics.list() {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			w.notifyError(ctx, nil, err)
			cancel()
			inflight.Wait()
			return err
		}
		inflight.Add(1)
		go func(topic string) {
			defer inflight.Done()
			w.consume(ctx, topic, msgs, slots, &inflight)
		}(topic)
	}

	<-ctx.Done()
	inflight.Wait()
	return nil
}

// consume drains one topic, taking a slot per message so at most
// concurrency messages are in flight across all topics.
func (w *Worker) consume(ctx context.Context, topic string, msgs <-chan *message.Message, slots *semaphore.Weighted, inflight *sync.WaitGroup) {
	for {
		var msg *message.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			msg = m
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			msg.Nack()
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer slots.Release(1)
			w.handleMessage(ctx, topic, msg)
		}()
	}
}

// Close closes the subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

func (w *Worker) handleMessage(ctx context.Context, topic string, msg *message.Message) {
	evt, err := w.prepare(ctx, topic, msg)
	if err != nil {
		w.settle(ctx, msg, evt, err)
		return
	}

	w.logger.Printf("request_id=%s topic=%s type=%s subscription=%s event_id=%s",
		evt.RequestID, evt.Topic, evt.Type, evt.SubscriptionID, evt.Variables.EventID)
	w.notify(func(l Listener) {
		if l.OnMessageStart != nil {
			l.OnMessageStart(ctx, evt)
		}
	})

	handler, ok := w.route(topic, evt.Type)
	if !ok {
		w.logger.Printf("no handler for topic=%s type=%s", topic, evt.Type)
		w.finish(ctx, evt, nil)
		msg.Ack()
		return
	}

	err = w.wrap(handler)(ctx, evt)
	w.finish(ctx, evt, err)
	if err != nil {
		w.settle(ctx, msg, evt, err)
		return
	}
	msg.Ack()
}

// prepare decodes msg and attaches a Mercury client when a provider is set.
// The returned event is nil when decoding failed.
func (w *Worker) prepare(ctx context.Context, topic string, msg *message.Message) (*Event, error) {
	evt, err := w.codec.Decode(topic, msg)
	if err != nil {
		w.logger.Printf("decode failed topic=%s uuid=%s: %v", topic, msg.UUID, err)
		return nil, err
	}
	if w.clientProvider == nil {
		return evt, nil
	}
	client, err := w.clientProvider.Client(ctx, evt)
	if err != nil {
		w.logger.Printf("mercury client init failed subscription=%s: %v", evt.SubscriptionID, err)
		return evt, err
	}
	evt.Client = client
	return evt, nil
}

// route prefers the topic handler over the type handler.
func (w *Worker) route(topic, eventType string) (Handler, bool) {
	if h, ok := w.byTopic[topic]; ok {
		return h, true
	}
	h, ok := w.byType[eventType]
	return h, ok
}

// settle reports a failure and acks or nacks msg as the retry policy decides.
func (w *Worker) settle(ctx context.Context, msg *message.Message, evt *Event, err error) {
	w.notifyError(ctx, evt, err)
	if decision := w.retry.OnError(ctx, evt, err); decision.Retry || decision.Nack {
		msg.Nack()
		return
	}
	msg.Ack()
}

func (w *Worker) wrap(h Handler) Handler {
	for i := len(w.middleware) - 1; i >= 0; i-- {
		h = w.middleware[i](h)
	}
	return h
}

func (w *Worker) finish(ctx context.Context, evt *Event, err error) {
	w.notify(func(l Listener) {
		if l.OnMessageFinish != nil {
			l.OnMessageFinish(ctx, evt, err)
		}
	})
}

func (w *Worker) notifyError(ctx context.Context, evt *Event, err error) {
	w.notify(func(l Listener) {
		if l.OnError != nil {
			l.OnError(ctx, evt, err)
		}
	})
}

func (w *Worker) notify(fn func(Listener)) {
	for _, listener := range w.listeners {
		fn(listener)
	}
}

// unique drops empty and repeated values, keeping first occurrences.
func unique(values []string) []string {
	set := topicSet{}
	set.add(values...)
	return set.list()
}
