package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/commitment"
	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/events"
)

// Session tracks one room the local player participates in. All mutation
// funnels through the mutex, so every event delivery and intent is atomic
// with respect to observers: no reader ever sees a half-applied update.
type Session struct {
	roomID      string
	localPlayer string

	cfg     Config
	clock   clockwork.Clock
	store   commitment.Store
	monitor *connmon.Monitor
	sender  Sender

	mu     sync.Mutex
	closed bool

	phase      Phase
	players    []string
	online     map[string]bool
	selections map[string]bool
	revealed   map[string]bool
	result     *Result

	commitmentLost  bool
	storageDegraded bool
	lastUpdateAt    time.Time

	selectionDeadline time.Time
	expiryDeadline    time.Time

	// Last authoritative snapshots: the rollback target when an optimistic
	// action fails.
	authOnline     map[string]bool
	authSelections map[string]bool
	authRevealed   map[string]bool

	pending map[string]*PendingAction
	seen    map[string]struct{} // processed event identities
}

func newSession(roomID, localPlayer string, cfg Config, clock clockwork.Clock,
	store commitment.Store, monitor *connmon.Monitor, sender Sender) *Session {
	return &Session{
		roomID:         roomID,
		localPlayer:    localPlayer,
		cfg:            cfg,
		clock:          clock,
		store:          store,
		monitor:        monitor,
		sender:         sender,
		phase:          PhaseWaiting,
		online:         make(map[string]bool),
		selections:     make(map[string]bool),
		revealed:       make(map[string]bool),
		authOnline:     make(map[string]bool),
		authSelections: make(map[string]bool),
		authRevealed:   make(map[string]bool),
		pending:        make(map[string]*PendingAction),
		seen:           make(map[string]struct{}),
	}
}

// View returns an immutable snapshot of the merged room state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		RoomID:            s.roomID,
		Phase:             s.phase,
		Players:           append([]string(nil), s.players...),
		Online:            cloneBoolMap(s.online),
		Selections:        cloneBoolMap(s.selections),
		Revealed:          cloneBoolMap(s.revealed),
		Result:            s.result,
		CommitmentLost:    s.commitmentLost,
		StorageDegraded:   s.storageDegraded,
		Connection:        s.monitor.Snapshot(),
		PendingActions:    len(s.pending),
		Stale:             s.staleLocked(),
		LastUpdateAt:      s.lastUpdateAt,
		SelectionDeadline: s.selectionDeadline,
		ExpiryDeadline:    s.expiryDeadline,
	}
}

// MakeSelection commits the local player to a coin side. The secret is
// generated here, persisted before anything leaves the process, and only the
// commitment hash goes over the wire. Applies the selection optimistically.
func (s *Session) MakeSelection(ctx context.Context, choice events.CoinSide) (string, error) {
	if err := s.monitor.Allow(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if s.phase != PhaseSelecting {
		s.mu.Unlock()
		return "", fmt.Errorf("make selection in phase %s: %w", s.phase, ErrWrongPhase)
	}
	s.mu.Unlock()

	secret, err := commitment.GenerateSecret()
	if err != nil {
		return "", err
	}
	rec := commitment.Record{
		RoomID:    s.roomID,
		Choice:    choice,
		Secret:    secret,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		// Storage trouble degrades the flow instead of aborting it: the
		// commit proceeds, reveal may later fail with commitment-lost.
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("commitment not persisted")
		s.mu.Lock()
		s.storageDegraded = true
		s.mu.Unlock()
	}

	hash := commitment.Hash(choice, secret)
	payload := events.SelectionMadePayload{
		Player:     s.localPlayer,
		Commitment: hex.EncodeToString(hash[:]),
	}
	return s.submit(ctx, ActionSelect, payload)
}

// RevealChoice opens the local commitment during Resolving. An absent record
// is the distinct commitment-lost condition: it blocks reveal but leaves the
// timeout/refund path available.
func (s *Session) RevealChoice(ctx context.Context) (string, error) {
	if err := s.monitor.Allow(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if s.phase != PhaseResolving {
		s.mu.Unlock()
		return "", fmt.Errorf("reveal in phase %s: %w", s.phase, ErrWrongPhase)
	}
	s.mu.Unlock()

	rec, ok, err := s.store.Get(ctx, s.roomID)
	if err != nil {
		return "", fmt.Errorf("load commitment: %w", err)
	}
	if !ok {
		s.mu.Lock()
		s.commitmentLost = true
		s.mu.Unlock()
		log.Warn().Str("room_id", s.roomID).Msg("commitment record absent at reveal")
		return "", ErrCommitmentLost
	}

	payload := events.ChoiceRevealedPayload{
		Player: s.localPlayer,
		Choice: rec.Choice,
		Secret: rec.Secret,
	}
	return s.submit(ctx, ActionReveal, payload)
}

// HandleTimeout requests cancellation/refund once the room's expiry window
// has elapsed. The ledger validates the deadline; the engine just submits.
func (s *Session) HandleTimeout(ctx context.Context) (string, error) {
	if err := s.monitor.Allow(); err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if s.phase.terminal() {
		s.mu.Unlock()
		return "", fmt.Errorf("timeout in phase %s: %w", s.phase, ErrWrongPhase)
	}
	s.mu.Unlock()
	return s.submit(ctx, ActionCancel, nil)
}

// RejoinRoom re-announces the local player and requests a full resync, used
// after reloads or device switches.
func (s *Session) RejoinRoom(ctx context.Context) (string, error) {
	if err := s.monitor.Allow(); err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.mu.Unlock()

	id, err := s.submit(ctx, ActionJoin, events.PlayerJoinedPayload{Player: s.localPlayer})
	if err != nil {
		return "", err
	}
	if err := s.sender.RequestSync(ctx, s.roomID, true); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("resync request failed after rejoin")
	}
	return id, nil
}

// submit implements the optimistic path: apply the local delta immediately,
// register the pending action, then fire the transport call. The action id
// is collision-resistant within a session: kind, timestamp, random suffix.
func (s *Session) submit(ctx context.Context, kind ActionKind, payload interface{}) (string, error) {
	actionID := fmt.Sprintf("%s-%d-%s", kind, s.clock.Now().UnixMilli(), uuid.New().String()[:8])

	s.mu.Lock()
	s.applyDeltaLocked(kind)
	s.pending[actionID] = &PendingAction{
		ID:          actionID,
		Kind:        kind,
		SubmittedAt: s.clock.Now(),
	}
	s.mu.Unlock()

	log.Debug().
		Str("room_id", s.roomID).
		Str("action_id", actionID).
		Str("kind", string(kind)).
		Msg("optimistic action applied")

	go func() {
		if err := s.sender.SendAction(ctx, s.roomID, actionID, kind, payload); err != nil {
			s.monitor.RecordFailure()
			s.rollback(actionID, err)
			return
		}
		s.monitor.RecordSuccess()
	}()

	return actionID, nil
}

// applyDeltaLocked applies the optimistic delta for an action kind. A second
// action of the same kind before the first resolves overwrites the previous
// delta (last-write-wins locally); the authoritative event is the source of
// truth regardless.
func (s *Session) applyDeltaLocked(kind ActionKind) {
	switch kind {
	case ActionSelect:
		s.selections[s.localPlayer] = true
	case ActionReveal:
		s.revealed[s.localPlayer] = true
	case ActionJoin:
		s.online[s.localPlayer] = true
	case ActionCancel:
		// No local delta; cancellation only takes effect via its event.
	}
}

// rollback removes a failed pending action and restores the affected
// sub-state from the last authoritative snapshot, then re-applies the deltas
// of actions still in flight.
func (s *Session) rollback(actionID string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	p, ok := s.pending[actionID]
	if !ok {
		return
	}
	delete(s.pending, actionID)

	s.online = cloneBoolMap(s.authOnline)
	s.selections = cloneBoolMap(s.authSelections)
	s.revealed = cloneBoolMap(s.authRevealed)
	for _, remaining := range s.pending {
		s.applyDeltaLocked(remaining.Kind)
	}

	log.Warn().
		Err(cause).
		Str("room_id", s.roomID).
		Str("action_id", actionID).
		Str("kind", string(p.Kind)).
		Msg("optimistic action rolled back")
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
