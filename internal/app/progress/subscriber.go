// Package progress manages the subscription to the backend progress topic.
package progress

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cantovox/internal/domain/voice"
)

// Handler receives progress events from a source.
type Handler func(voice.ProgressEvent)

// Subscription is a live subscription that can be released.
type Subscription interface {
	Unsubscribe() error
}

// Source establishes subscriptions to a named topic.
type Source interface {
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
}

// Sink observes progress events. It must not block.
type Sink interface {
	Observe(voice.ProgressEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(voice.ProgressEvent)

// Observe implements Sink.
func (f SinkFunc) Observe(e voice.ProgressEvent) { f(e) }

type subscriberState int

const (
	stateInactive subscriberState = iota
	stateSubscribing
	stateActive
)

// Subscriber keeps at most one subscription to the topic alive between
// Activate and Deactivate.
type Subscriber struct {
	source Source
	sink   Sink
	topic  string

	mu     sync.Mutex
	state  subscriberState
	epoch  uint64 // advanced on every activation and deactivation
	sub    Subscription
	latest *voice.ProgressEvent
}

// NewSubscriber creates an inactive subscriber. A nil sink discards events.
func NewSubscriber(source Source, topic string, sink Sink) *Subscriber {
	if topic == "" {
		topic = voice.ProgressTopic
	}
	if sink == nil {
		sink = SinkFunc(func(voice.ProgressEvent) {})
	}
	return &Subscriber{
		source: source,
		sink:   sink,
		topic:  topic,
	}
}

// Activate establishes the subscription. It is a no-op when a subscription is
// already active or being established.
func (s *Subscriber) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateInactive {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	epoch := s.epoch
	s.state = stateSubscribing
	s.latest = nil
	s.mu.Unlock()

	sub, err := s.source.Subscribe(ctx, s.topic, s.handlerFor(epoch))

	s.mu.Lock()
	if err != nil {
		if s.epoch == epoch {
			s.state = stateInactive
		}
		s.mu.Unlock()
		return errors.Wrapf(err, "failed to subscribe to %s", s.topic)
	}
	if s.epoch != epoch {
		// deactivated while the subscribe call was in flight
		s.mu.Unlock()
		zlog.Debug().Msgf("progress subscription to %s released after late establishment", s.topic)
		if uerr := sub.Unsubscribe(); uerr != nil {
			zlog.Warn().Err(uerr).Msgf("failed to release progress subscription to %s", s.topic)
		}
		return nil
	}
	s.sub = sub
	s.state = stateActive
	s.mu.Unlock()

	zlog.Debug().Msgf("subscribed to %s", s.topic)
	return nil
}

// Deactivate tears the subscription down unconditionally. A subscribe call
// still in flight has its result released as soon as it returns.
func (s *Subscriber) Deactivate() error {
	s.mu.Lock()
	s.epoch++
	sub := s.sub
	s.sub = nil
	s.state = stateInactive
	s.latest = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return errors.Wrapf(err, "failed to unsubscribe from %s", s.topic)
	}
	zlog.Debug().Msgf("unsubscribed from %s", s.topic)
	return nil
}

// Active reports whether a subscription is currently held.
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

// Latest returns the most recent event received during the current activation.
// It reports false once the subscriber is deactivated.
func (s *Subscriber) Latest() (voice.ProgressEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return voice.ProgressEvent{}, false
	}
	return *s.latest, true
}

// Topic returns the subscribed topic name.
func (s *Subscriber) Topic() string {
	return s.topic
}

func (s *Subscriber) handlerFor(epoch uint64) Handler {
	return func(e voice.ProgressEvent) {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		ev := e
		s.latest = &ev
		s.mu.Unlock()

		s.sink.Observe(e)
	}
}
