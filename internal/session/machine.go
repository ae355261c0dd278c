package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/events"
)

// HandleEvent applies an authoritative event to the room state. It is the
// bus handler for this session's room channel. Duplicate deliveries are
// absorbed by identity tracking; out-of-order and repeated transitions are
// absorbed by the phase guards below.
func (s *Session) HandleEvent(evt events.Envelope) {
	payload, err := evt.Payload()
	if err != nil {
		// The bus validates before delivery; this only fires if a handler
		// is invoked directly with a bad envelope.
		log.Error().Err(err).Str("room_id", s.roomID).Msg("undecodable event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	identity := evt.Identity()
	if _, dup := s.seen[identity]; dup {
		log.Debug().
			Str("room_id", s.roomID).
			Str("event_type", string(evt.Type)).
			Msg("duplicate event ignored")
		return
	}
	s.seen[identity] = struct{}{}
	s.lastUpdateAt = s.clock.Now()

	switch p := payload.(type) {
	case events.GameCreatedPayload:
		s.applyGameCreated(evt, p)
	case events.PlayerJoinedPayload:
		s.applyPlayerJoined(evt, p)
	case events.PlayerLeftPayload:
		s.authOnline[p.Player] = false
		s.online[p.Player] = false
	case events.SelectionMadePayload:
		s.applySelectionMade(p)
	case events.ChoiceRevealedPayload:
		s.applyChoiceRevealed(p)
	case events.GameResolvedPayload:
		s.applyGameResolved(p)
	case events.GameCancelledPayload:
		s.applyCancelled(p.ActionID, ActionCancel)
	case events.TimeoutPayload:
		s.applyCancelled("", ActionCancel)
	}
}

func (s *Session) applyGameCreated(evt events.Envelope, p events.GameCreatedPayload) {
	if len(s.players) > 0 {
		return
	}
	s.players = []string{p.PlayerA}
	s.authOnline[p.PlayerA] = true
	s.online[p.PlayerA] = true
	s.expiryDeadline = evt.Timestamp.Add(s.cfg.ExpiryWindow)
}

func (s *Session) applyPlayerJoined(evt events.Envelope, p events.PlayerJoinedPayload) {
	s.authOnline[p.Player] = true
	s.online[p.Player] = true
	if !containsPlayer(s.players, p.Player) && len(s.players) < 2 {
		s.players = append(s.players, p.Player)
	}
	s.resolvePendingLocked(p.ActionID, ActionJoin, p.Player)

	if s.phase == PhaseWaiting && len(s.players) == 2 {
		s.transitionLocked(PhaseSelecting)
		s.selectionDeadline = evt.Timestamp.Add(s.cfg.SelectionWindow)
	}
}

func (s *Session) applySelectionMade(p events.SelectionMadePayload) {
	s.authSelections[p.Player] = true
	s.selections[p.Player] = true
	s.resolvePendingLocked(p.ActionID, ActionSelect, p.Player)

	if s.phase == PhaseSelecting && len(s.players) == 2 && s.allSelectedLocked() {
		s.transitionLocked(PhaseResolving)
		s.checkCommitmentLocked()
	}
}

func (s *Session) applyChoiceRevealed(p events.ChoiceRevealedPayload) {
	s.authRevealed[p.Player] = true
	s.revealed[p.Player] = true
	s.resolvePendingLocked(p.ActionID, ActionReveal, p.Player)
}

func (s *Session) applyGameResolved(p events.GameResolvedPayload) {
	if s.phase == PhaseCompleted {
		// Second delivery of the same resolution is a no-op.
		return
	}
	if s.phase == PhaseCancelled {
		log.Warn().Str("room_id", s.roomID).Msg("resolution after cancellation ignored")
		return
	}
	s.transitionLocked(PhaseCompleted)
	s.result = &Result{
		Winner:       p.Winner,
		CoinResult:   p.CoinResult,
		WinnerPayout: p.WinnerPayout,
		HouseFee:     p.HouseFee,
		ResolvedAt:   p.ResolvedAt,
	}
	s.settleLocked()
}

func (s *Session) applyCancelled(actionID string, kind ActionKind) {
	s.resolvePendingLocked(actionID, kind, s.localPlayer)
	if s.phase.terminal() {
		return
	}
	s.transitionLocked(PhaseCancelled)
	s.settleLocked()
}

// settleLocked runs terminal-phase cleanup: the commitment record is spent,
// and any still-pending optimistic actions are moot because the authoritative
// outcome supersedes them.
func (s *Session) settleLocked() {
	s.pending = make(map[string]*PendingAction)
	s.selectionDeadline = time.Time{}
	s.expiryDeadline = time.Time{}
	if err := s.store.Remove(context.Background(), s.roomID); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("commitment cleanup failed")
	}
}

func (s *Session) transitionLocked(next Phase) {
	log.Info().
		Str("room_id", s.roomID).
		Str("from", string(s.phase)).
		Str("to", string(next)).
		Msg("phase transition")
	s.phase = next
}

// resolvePendingLocked clears the pending action confirmed by an
// authoritative event. Matching is strictly by action id when the event
// carries one, so a confirmation for a different in-flight action can never
// clear the wrong entry. Without an id, semantic matching applies: same
// kind, local player as actor.
func (s *Session) resolvePendingLocked(actionID string, kind ActionKind, actor string) {
	if actionID != "" {
		if _, ok := s.pending[actionID]; ok {
			delete(s.pending, actionID)
			log.Debug().
				Str("room_id", s.roomID).
				Str("action_id", actionID).
				Msg("pending action confirmed by id")
		}
		return
	}
	if actor != s.localPlayer {
		return
	}
	for id, p := range s.pending {
		if p.Kind == kind {
			delete(s.pending, id)
			log.Debug().
				Str("room_id", s.roomID).
				Str("action_id", id).
				Str("kind", string(kind)).
				Msg("pending action confirmed semantically")
			break
		}
	}
}

// checkCommitmentLocked runs when the room enters Resolving: an absent local
// record becomes the distinct commitment-lost condition instead of a crash
// at reveal time.
func (s *Session) checkCommitmentLocked() {
	_, ok, err := s.store.Get(context.Background(), s.roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("commitment check failed")
		s.commitmentLost = true
		return
	}
	if !ok {
		log.Warn().Str("room_id", s.roomID).Msg("entering resolution without local commitment")
		s.commitmentLost = true
	}
}

func (s *Session) allSelectedLocked() bool {
	for _, player := range s.players {
		if !s.authSelections[player] {
			return false
		}
	}
	return true
}

func containsPlayer(players []string, player string) bool {
	for _, p := range players {
		if p == player {
			return true
		}
	}
	return false
}
