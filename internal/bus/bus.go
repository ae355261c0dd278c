// Package bus routes incoming room-scoped and global events to registered
// handlers, decoupling the transport layer from its consumers.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/events"
)

// Global is the reserved channel for events that are not scoped to a room.
const Global = "global"

// Handler consumes a delivered event. Transports are at-least-once, so
// handlers must be idempotent with respect to duplicates (see
// events.Envelope.Identity).
type Handler func(evt events.Envelope)

// SubscriptionID identifies a registration for later removal.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	channel string
	handler Handler
}

// Bus fans events out to room-specific and global subscribers. Delivery
// happens on the publisher's goroutine in arrival order; a single transport
// read loop therefore serializes all deliveries, which is what the session
// layer relies on for atomic state mutation.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string][]*subscription // channel -> ordered subscribers
	index map[SubscriptionID]string  // id -> channel
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:  make(map[string][]*subscription),
		index: make(map[SubscriptionID]string),
	}
}

// Subscribe registers a handler on a channel, either a room id or Global.
func (b *Bus) Subscribe(channel string, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      SubscriptionID(uuid.New().String()),
		channel: channel,
		handler: handler,
	}
	b.subs[channel] = append(b.subs[channel], sub)
	b.index[sub.id] = channel

	log.Debug().
		Str("channel", channel).
		Str("subscription_id", string(sub.id)).
		Int("subscribers", len(b.subs[channel])).
		Msg("subscription registered")

	return sub.id
}

// Unsubscribe removes a registration. Unknown or already-removed ids are a
// no-op, so calling it multiple times is safe.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channel, ok := b.index[id]
	if !ok {
		return
	}
	delete(b.index, id)

	subs := b.subs[channel]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}

	log.Debug().
		Str("channel", channel).
		Str("subscription_id", string(id)).
		Msg("subscription removed")
}

// Publish validates the envelope and delivers it to the room channel and the
// global channel. The two deliveries are independent: a subscriber on both
// sees the event twice. Invalid envelopes are dropped with a log entry so
// malformed traffic never reaches consumers.
func (b *Bus) Publish(evt events.Envelope) {
	if err := evt.Validate(); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", evt.RoomID).
			Str("event_type", string(evt.Type)).
			Msg("dropping invalid event")
		return
	}

	b.mu.RLock()
	// Snapshot subscribers so handlers run without the lock held.
	var targets []*subscription
	if evt.RoomID != "" {
		targets = append(targets, b.subs[evt.RoomID]...)
	}
	targets = append(targets, b.subs[Global]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.handler(evt)
	}

	log.Debug().
		Str("event_type", string(evt.Type)).
		Str("room_id", evt.RoomID).
		Int("deliveries", len(targets)).
		Msg("event published")
}
