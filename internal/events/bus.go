// Package events carries the relay's escrow and settlement hooks to
// pluggable sinks. Delivery is fire-and-forget: no hook blocks a protocol
// handler.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hook event types emitted by the reputation ledger and settlement paths.
const (
	EscrowCreated        = "escrow:created"
	EscrowReleased       = "escrow:released"
	SettlementCompletion = "settlement:completion"
	SettlementDispute    = "settlement:dispute"
)

// Emitter is the interface settlement code publishes through. Both the
// in-process Bus and the Redis sink satisfy it.
type Emitter interface {
	Emit(eventType, subject string, data map[string]any)
}

// Event is the envelope delivered to subscribers and external sinks.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Subject string         `json:"subject,omitempty"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data"`
}

// NewEvent builds a hook event envelope.
func NewEvent(eventType, subject string, data map[string]any) *Event {
	return &Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Subject: subject,
		Time:    time.Now(),
		Data:    data,
	}
}

// JSON serialises the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Bus is an in-process pub/sub hook bus. Subscribers with full channels
// miss events rather than block the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
	allSubs     []chan *Event
	bufferSize  int
}

// NewBus creates an in-process hook bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no types are passed.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		filtered := make([]chan *Event, 0, len(subs))
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[et] = filtered
	}

	filtered := make([]chan *Event, 0, len(b.allSubs))
	for _, s := range b.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.allSubs = filtered

	close(ch)
}

// Publish fans an event out to matching subscribers without blocking.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit creates and publishes an event.
func (b *Bus) Emit(eventType, subject string, data map[string]any) {
	b.Publish(NewEvent(eventType, subject, data))
}

// Tee fans each Emit out to several emitters.
type Tee []Emitter

func (t Tee) Emit(eventType, subject string, data map[string]any) {
	for _, e := range t {
		e.Emit(eventType, subject, data)
	}
}
