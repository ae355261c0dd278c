package session

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/bus"
	"github.com/flipgg/flipsync/internal/commitment"
	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/events"
)

// Manager owns the live sessions and their bus subscriptions. One session
// per room; commitments are room-keyed, so sessions for different rooms
// never contend.
type Manager struct {
	cfg     Config
	clock   clockwork.Clock
	bus     *bus.Bus
	store   commitment.Store
	monitor *connmon.Monitor
	sender  Sender

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session *Session
	subID   bus.SubscriptionID
}

// NewManager wires the engine's collaborators together.
func NewManager(cfg Config, clock clockwork.Clock, b *bus.Bus, store commitment.Store,
	monitor *connmon.Monitor, sender Sender) *Manager {
	return &Manager{
		cfg:      cfg,
		clock:    clock,
		bus:      b,
		store:    store,
		monitor:  monitor,
		sender:   sender,
		sessions: make(map[string]*entry),
	}
}

// Open creates (or returns) the session for a room and subscribes it to the
// room's event channel.
func (m *Manager) Open(roomID, localPlayer string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[roomID]; ok {
		return e.session
	}

	s := newSession(roomID, localPlayer, m.cfg, m.clock, m.store, m.monitor, m.sender)
	subID := m.bus.Subscribe(roomID, s.HandleEvent)
	m.sessions[roomID] = &entry{session: s, subID: subID}

	log.Info().
		Str("room_id", roomID).
		Str("player", localPlayer).
		Msg("session opened")
	return s
}

// Close unsubscribes and drops the session for a room. Unsubscribing is the
// only cancellation primitive: in-flight transport calls are not cancelled,
// their eventual results are ignored by the closed session. Idempotent.
func (m *Manager) Close(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[roomID]
	if !ok {
		return
	}
	m.bus.Unsubscribe(e.subID)

	e.session.mu.Lock()
	e.session.closed = true
	e.session.mu.Unlock()

	delete(m.sessions, roomID)
	log.Info().Str("room_id", roomID).Msg("session closed")
}

// Get returns the session for a room, if open.
func (m *Manager) Get(roomID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[roomID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// RoomView returns the merged view for a room, if open. This is the read
// surface the local gateway serves to presentation.
func (m *Manager) RoomView(roomID string) (View, bool) {
	s, ok := m.Get(roomID)
	if !ok {
		return View{}, false
	}
	return s.View(), true
}

// The room-scoped intents below resolve the session and delegate. They are
// the surface the local gateway exposes to presentation.

func (m *Manager) MakeSelection(ctx context.Context, roomID string, choice events.CoinSide) (string, error) {
	s, ok := m.Get(roomID)
	if !ok {
		return "", ErrRoomNotOpen
	}
	return s.MakeSelection(ctx, choice)
}

func (m *Manager) RevealChoice(ctx context.Context, roomID string) (string, error) {
	s, ok := m.Get(roomID)
	if !ok {
		return "", ErrRoomNotOpen
	}
	return s.RevealChoice(ctx)
}

func (m *Manager) HandleTimeout(ctx context.Context, roomID string) (string, error) {
	s, ok := m.Get(roomID)
	if !ok {
		return "", ErrRoomNotOpen
	}
	return s.HandleTimeout(ctx)
}

func (m *Manager) RejoinRoom(ctx context.Context, roomID string) (string, error) {
	s, ok := m.Get(roomID)
	if !ok {
		return "", ErrRoomNotOpen
	}
	return s.RejoinRoom(ctx)
}

// Refresh requests a resync for a room, full when the local cache should be
// discarded first.
func (m *Manager) Refresh(ctx context.Context, roomID string, full bool) error {
	s, ok := m.Get(roomID)
	if !ok {
		return ErrRoomNotOpen
	}
	if full {
		return s.ForceRefresh(ctx)
	}
	return s.Refresh(ctx)
}
