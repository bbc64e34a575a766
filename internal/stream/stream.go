// Package stream fans out change notifications to principal-scoped subscribers.
package stream

import (
	"context"
	"sync"
	"time"
)

// Kind names a change notification.
type Kind string

const (
	KindBalanceChanged    Kind = "balance.changed"
	KindPerkChanged       Kind = "perk.changed"
	KindRedemptionChanged Kind = "redemption.changed"
	KindRoleChanged       Kind = "role.changed"
)

// Event is a single change notification. PrincipalID scopes delivery;
// an empty PrincipalID is broadcast to every subscriber.
type Event struct {
	Kind        Kind           `json:"kind"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Filter restricts which events a subscriber receives.
type Filter struct {
	PrincipalID string
	Kinds       []Kind
}

func (f Filter) matches(evt Event) bool {
	if f.PrincipalID != "" && evt.PrincipalID != "" && evt.PrincipalID != f.PrincipalID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == evt.Kind {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans out events to all matching subscribers (SSE/WebSocket clients and
// live reward views).
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	buffer int
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]subscriber), buffer: 16}
}

// Subscribe registers a subscriber and returns a channel which will receive
// matching events. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) <-chan Event {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every matching subscriber.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.matches(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking publishers.
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// BalanceChanged builds the event published after a ledger write.
func BalanceChanged(principalID string, balance int64) Event {
	return Event{
		Kind:        KindBalanceChanged,
		PrincipalID: principalID,
		Payload:     map[string]any{"balance": balance},
	}
}

// PerkChanged builds the event published after a perk insert or decision.
func PerkChanged(principalID, perkID, status string) Event {
	return Event{
		Kind:        KindPerkChanged,
		PrincipalID: principalID,
		Payload:     map[string]any{"perk_id": perkID, "status": status},
	}
}
