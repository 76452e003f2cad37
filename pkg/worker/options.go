package worker

import "github.com/ThreeDotsLabs/watermill/message"

// Option configures a Worker.
type Option func(*Worker)

// set assigns v unless it is the zero value, so a nil option argument keeps
// the default.
func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) { w.subscriber = sub }
}

// WithTopics subscribes to topics. Once set, HandleTopic only accepts these.
func WithTopics(topics ...string) Option {
	return func(w *Worker) {
		if w.allowed == nil {
			w.allowed = topicSet{}
		}
		w.allowed.add(topics...)
		w.topics.add(topics...)
	}
}

// WithConcurrency bounds the number of messages handled at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithCodec(c Codec) Option { return func(w *Worker) { set(&w.codec, c) } }

func WithRetry(policy RetryPolicy) Option { return func(w *Worker) { set(&w.retry, policy) } }

func WithLogger(l Logger) Option { return func(w *Worker) { set(&w.logger, l) } }

// WithMiddleware appends middleware; the first one added runs outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) { w.middleware = append(w.middleware, mw...) }
}

// WithClientProvider attaches a Mercury client to every event before it is handled.
func WithClientProvider(provider ClientProvider) Option {
	return func(w *Worker) { w.clientProvider = provider }
}

func WithListener(listener Listener) Option {
	return func(w *Worker) { w.listeners = append(w.listeners, listener) }
}

// topicSet keeps insertion order so subscriptions happen deterministically.
type topicSet map[string]int

func (s topicSet) add(topics ...string) {
	for _, topic := range topics {
		if _, ok := s[topic]; !ok && topic != "" {
			s[topic] = len(s)
		}
	}
}

func (s topicSet) has(topic string) bool {
	_, ok := s[topic]
	return ok
}

func (s topicSet) list() []string {
	out := make([]string, len(s))
	for topic, i := range s {
		out[i] = topic
	}
	return out
}
