// Package notification fans progress events out to topic subscribers.
package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	voicev1 "github.com/osa030/cantovox/internal/api/voicev1"
)

const sendTimeout = 500 * time.Millisecond

var (
	errSubscriberBusy   = errors.New("subscriber busy")
	errSubscriberClosed = errors.New("subscriber closed")
)

// Stream represents a progress stream for a subscriber.
// Send is never called concurrently for one subscription.
type Stream interface {
	Send(*voicev1.ProgressEvent) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id      string
	topic   string
	stream  Stream
	sending chan struct{} // Holds a token while a send is in flight
	closed  atomic.Bool
}

func newSubscription(id, topic string, stream Stream) *subscription {
	return &subscription{
		id:      id,
		topic:   topic,
		stream:  stream,
		sending: make(chan struct{}, 1),
	}
}

// send delivers event unless another send is still in flight or the
// subscription has been closed. The slot stays held until Send returns, even
// if the caller stops waiting.
func (s *subscription) send(ctx context.Context, event *voicev1.ProgressEvent) error {
	select {
	case s.sending <- struct{}{}:
	default:
		return errSubscriberBusy
	}
	if s.closed.Load() {
		<-s.sending
		return errSubscriberClosed
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-s.sending }()
		done <- s.stream.Send(event)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops further sends and waits briefly for one in flight.
func (s *subscription) close() {
	s.closed.Store(true)
	t := time.NewTimer(sendTimeout)
	defer t.Stop()
	select {
	case s.sending <- struct{}{}:
		<-s.sending
	case <-t.C:
		zlog.Warn().Msgf("progress subscriber closed with send in flight: id=%s", s.id)
	}
}

// Manager manages progress subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	now           func() time.Time
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		now:           time.Now,
	}
}

// Subscribe adds a subscription to topic and returns its ID.
func (m *Manager) Subscribe(topic string, stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = newSubscription(id, topic, stream)
	zlog.Debug().Msgf("progress subscriber added: id=%s topic=%s", id, topic)
	return id
}

// Unsubscribe removes a subscription. Once it returns, the stream is not sent
// to again unless a send was already stuck past the timeout.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	sub, ok := m.subscriptions[subscriptionID]
	delete(m.subscriptions, subscriptionID)
	m.mu.Unlock()

	if ok {
		sub.close()
		zlog.Debug().Msgf("progress subscriber removed: id=%s", subscriptionID)
	}
}

// nextSequenceNo returns the next sequence number.
func (m *Manager) nextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Publish sends an event with payload to every subscriber of topic.
// Each send runs in its own goroutine with a timeout so a slow subscriber
// cannot stall the publisher; a subscriber still busy with an earlier event
// misses this one. It returns the number of subscribers reached.
func (m *Manager) Publish(topic string, payload map[string]any) int {
	var body *structpb.Struct
	if payload != nil {
		var err error
		body, err = structpb.NewStruct(payload)
		if err != nil {
			zlog.Error().Msgf("progress payload not encodable: topic=%s err=%v", topic, err)
			return 0
		}
	}
	event := &voicev1.ProgressEvent{
		Topic:      topic,
		SequenceNo: m.nextSequenceNo(),
		Payload:    body,
		Timestamp:  timestamppb.New(m.now()),
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.topic == topic {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reached int
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			if err := s.send(ctx, event); err != nil {
				zlog.Debug().Msgf("progress send skipped: id=%s err=%v", s.id, err)
				return
			}
			mu.Lock()
			reached++
			mu.Unlock()
		}(sub)
	}

	wg.Wait()
	return reached
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
