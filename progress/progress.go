package progress

import (
	"context"
	"sync"

	"github.com/nijaru/yt-script/models"
	"github.com/sirupsen/logrus"
)

const DefaultBuffer = 64

// Publisher receives every progress event a run emits.
type Publisher interface {
	Publish(ctx context.Context, event models.ProgressEvent) error
}

// Subscription is one listener registered on a Hub.
type Subscription struct {
	Key    string
	events chan models.ProgressEvent
	once   sync.Once
}

func (s *Subscription) Events() <-chan models.ProgressEvent {
	return s.events
}

// Hub fans events out to subscribers keyed by client id or run id. Sends
// never block: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *logrus.Entry
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logrus.WithField("component", "progress_hub"),
	}
}

func (h *Hub) Subscribe(key string) *Subscription {
	sub := &Subscription{
		Key:    key,
		events: make(chan models.ProgressEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[key] == nil {
		h.subs[key] = make(map[*Subscription]struct{})
	}
	h.subs[key][sub] = struct{}{}

	h.logger.WithFields(logrus.Fields{
		"key":         key,
		"subscribers": len(h.subs[key]),
	}).Debug("Subscriber added")
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Calling it
// more than once is safe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.Key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.Key)
		}
	}
	sub.once.Do(func() { close(sub.events) })
}

// Close ends every subscription. Streams blocked on Events return.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.events) })
		}
		delete(h.subs, key)
	}
}

func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// Publish delivers the event to subscribers of its client id and of its run id.
func (h *Hub) Publish(ctx context.Context, event models.ProgressEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Subscription]struct{})
	for _, key := range []string{event.ClientID, event.RunID} {
		if key == "" {
			continue
		}
		for sub := range h.subs[key] {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}

			select {
			case sub.events <- event:
			default:
				h.logger.WithFields(logrus.Fields{
					"key":    key,
					"run_id": event.RunID,
					"step":   event.Step,
				}).Warn("Subscriber buffer full, dropping progress event")
			}
		}
	}
	return nil
}

// Multi publishes to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event models.ProgressEvent) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Noop struct{}

func (Noop) Publish(context.Context, models.ProgressEvent) error { return nil }
