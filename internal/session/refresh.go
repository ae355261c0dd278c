package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// staleLocked reports whether the cached state has gone without a confirming
// event for longer than the staleness threshold. A room that never received
// an event is not stale, just empty.
func (s *Session) staleLocked() bool {
	if s.lastUpdateAt.IsZero() || s.phase.terminal() {
		return false
	}
	return s.clock.Since(s.lastUpdateAt) > s.cfg.StaleThreshold
}

// Refresh requests an incremental resync from the transport. Rejected while
// the circuit is open; no transport I/O happens in that case.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.monitor.Allow(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if err := s.sender.RequestSync(ctx, s.roomID, false); err != nil {
		s.monitor.RecordFailure()
		return fmt.Errorf("refresh room %s: %w", s.roomID, err)
	}
	s.monitor.RecordSuccess()
	return nil
}

// ForceRefresh discards the cached room state and requests a full resync.
// The commitment store is untouched: commitments outlive cache resets by
// design of the reveal flow. Rejected while the circuit is open.
func (s *Session) ForceRefresh(ctx context.Context) error {
	if err := s.monitor.Allow(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.phase = PhaseWaiting
	s.players = nil
	s.online = make(map[string]bool)
	s.selections = make(map[string]bool)
	s.revealed = make(map[string]bool)
	s.authOnline = make(map[string]bool)
	s.authSelections = make(map[string]bool)
	s.authRevealed = make(map[string]bool)
	s.result = nil
	s.commitmentLost = false
	s.pending = make(map[string]*PendingAction)
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	log.Info().Str("room_id", s.roomID).Msg("local cache discarded, requesting full resync")

	if err := s.sender.RequestSync(ctx, s.roomID, true); err != nil {
		s.monitor.RecordFailure()
		return fmt.Errorf("force refresh room %s: %w", s.roomID, err)
	}
	s.monitor.RecordSuccess()
	return nil
}
