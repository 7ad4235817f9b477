// Package stream manages the live alert feed: an explicit registry of
// subscribers, each with its own bounded queue, that HTTP handlers attach to
// for server-sent events.
package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
	"github.com/procuresight/procuresight/internal/notification"
)

const defaultSubscriberBuffer = 16

// Subscriber is one connected stream client. Events arrives on C until
// Unsubscribe closes it.
type Subscriber struct {
	ID    string
	OrgID string
	C     chan notification.StreamEvent
}

// Registry tracks connected subscribers and broadcasts alert events to them.
// A slow subscriber only ever loses its own events; broadcasting never
// blocks on any queue.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	buffer int
	logger *zap.Logger
}

// NewRegistry creates an empty subscriber registry.
func NewRegistry(buffer int, logger *zap.Logger) *Registry {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Registry{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new client scoped to an org and returns its handle.
func (r *Registry) Subscribe(orgID string) *Subscriber {
	sub := &Subscriber{
		ID:    uuid.NewString(),
		OrgID: orgID,
		C:     make(chan notification.StreamEvent, r.buffer),
	}
	r.mu.Lock()
	r.subs[sub.ID] = sub
	count := len(r.subs)
	r.mu.Unlock()

	r.logger.Debug("Stream subscriber connected",
		zap.String("subscriber_id", sub.ID),
		zap.Int("subscribers", count))
	return sub
}

// Unsubscribe removes a client and closes its channel. Safe to call for an
// already removed subscriber.
func (r *Registry) Unsubscribe(sub *Subscriber) {
	r.mu.Lock()
	if _, ok := r.subs[sub.ID]; ok {
		delete(r.subs, sub.ID)
		close(sub.C)
	}
	count := len(r.subs)
	r.mu.Unlock()

	r.logger.Debug("Stream subscriber disconnected",
		zap.String("subscriber_id", sub.ID),
		zap.Int("subscribers", count))
}

// Broadcast delivers an event to every subscriber in the event's org,
// dropping it for subscribers whose queue is full.
func (r *Registry) Broadcast(orgID string, event notification.StreamEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		if sub.OrgID != orgID {
			continue
		}
		select {
		case sub.C <- event:
		default:
			r.logger.Warn("Stream subscriber queue full, dropping event",
				zap.String("subscriber_id", sub.ID),
				zap.String("alert_id", event.AlertID))
		}
	}
}

// Len reports the current subscriber count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Sink adapts the registry into an alert delivery sink so the dispatcher
// treats the live stream like any other destination.
type Sink struct {
	registry *Registry
}

// NewSink wraps a registry.
func NewSink(registry *Registry) *Sink {
	return &Sink{registry: registry}
}

// Name identifies the sink in dispatcher logs.
func (s *Sink) Name() string { return "live_stream" }

// Deliver broadcasts the alert to connected subscribers. Never fails; a
// stream with no listeners is a valid state.
func (s *Sink) Deliver(_ context.Context, alert models.Alert) error {
	s.registry.Broadcast(alert.OrgID, notification.NewStreamEvent(alert))
	return nil
}
