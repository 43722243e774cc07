// Package events fans swap lifecycle notifications out to in-process
// subscribers and external sinks.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/pkg/errors"
	"github.com/Aidin1998/swapengine/pkg/metrics"
)

// Type names an event.
type Type string

const (
	SwapCompleted  Type = "swap.completed"
	SwapRolledBack Type = "swap.rolled_back"
	SwapFailed     Type = "swap.failed"
	// RollbackFailed is the fatal reconciliation signal: a filled leg could
	// not be compensated and an operator must intervene.
	RollbackFailed Type = "rollback.failed"
	EngineStarted  Type = "engine.started"
	EngineStopped  Type = "engine.stopped"
)

// ForStatus returns the event emitted when a swap reaches status.
func ForStatus(status model.SwapStatus) Type {
	switch status {
	case model.SwapCompleted:
		return SwapCompleted
	case model.SwapRolledBack:
		return SwapRolledBack
	default:
		return SwapFailed
	}
}

// Event is one notification.
type Event struct {
	ID      uuid.UUID   `json:"id"`
	Type    Type        `json:"type"`
	Fatal   bool        `json:"fatal"`
	Time    time.Time   `json:"time"`
	SwapID  uuid.UUID   `json:"swap_id,omitempty"`
	Swap    *model.Swap `json:"swap,omitempty"`
	Legs    []model.Leg `json:"legs,omitempty"`
	Message string      `json:"message,omitempty"`
}

// New stamps an event of type t.
func New(t Type) Event {
	return Event{
		ID:    uuid.New(),
		Type:  t,
		Fatal: t == RollbackFailed,
		Time:  time.Now(),
	}
}

// ForSwap builds the terminal event of s.
func ForSwap(s model.Swap) Event {
	e := New(ForStatus(s.Status))
	e.SwapID = s.ID
	e.Swap = &s
	e.Message = s.Error
	return e
}

// Publisher accepts events.
type Publisher interface {
	Publish(e Event)
}

// Sink delivers events outside the process.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
	Close() error
}

// Bus delivers every published event to each subscriber without blocking
// and to each sink in order.
type Bus struct {
	logger *zap.Logger
	sinks  []Sink

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates a bus writing to sinks.
func NewBus(logger *zap.Logger, sinks ...Sink) *Bus {
	return &Bus{
		logger: logger.Named("events"),
		sinks:  sinks,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber with the given buffer. Events arriving
// while the buffer is full are dropped for that subscriber. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish implements Publisher.
func (b *Bus) Publish(e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("event_id", e.ID.String()),
	}
	if e.SwapID != uuid.Nil {
		fields = append(fields, zap.String("swap_id", e.SwapID.String()))
	}
	if e.Fatal {
		fields = append(fields, zap.Any("legs", e.Legs))
		b.logger.Error("Fatal event: "+e.Message, fields...)
	} else {
		b.logger.Debug("Event published", fields...)
	}

	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			metrics.EventsDropped.WithLabelValues("subscriber_full").Inc()
		}
	}
	b.mu.RUnlock()

	for _, sink := range b.sinks {
		if err := sink.Deliver(context.Background(), e); err != nil {
			metrics.EventsDropped.WithLabelValues("sink_error").Inc()
			b.logger.Warn("Failed to deliver event",
				zap.String("event", string(e.Type)),
				zap.Error(err))
		}
	}
}

// Close closes every sink.
func (b *Bus) Close() error {
	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
