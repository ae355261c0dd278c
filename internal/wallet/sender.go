package wallet

import (
	"context"
	"fmt"

	"github.com/flipgg/flipsync/internal/events"
	"github.com/flipgg/flipsync/internal/session"
)

// Syncer is the transport's resync surface.
type Syncer interface {
	RequestSync(ctx context.Context, roomID string, full bool) error
}

// Sender routes session actions: every action is a signed ledger
// transaction and goes through the bridge; resync requests go back to the
// event transport. It implements session.Sender.
type Sender struct {
	bridge *Bridge
	syncer Syncer
}

// NewSender combines a bridge client with a transport syncer.
func NewSender(bridge *Bridge, syncer Syncer) *Sender {
	return &Sender{bridge: bridge, syncer: syncer}
}

// SendAction submits the transaction for an optimistic action. An error here
// is what triggers the session's rollback.
func (s *Sender) SendAction(ctx context.Context, roomID, actionID string, kind session.ActionKind, payload interface{}) error {
	switch kind {
	case session.ActionJoin:
		_, err := s.bridge.JoinGame(ctx, roomID)
		return err
	case session.ActionSelect:
		p, ok := payload.(events.SelectionMadePayload)
		if !ok {
			return fmt.Errorf("action %s: unexpected payload %T", actionID, payload)
		}
		_, err := s.bridge.MakeCommitment(ctx, roomID, p.Commitment, actionID)
		return err
	case session.ActionReveal:
		p, ok := payload.(events.ChoiceRevealedPayload)
		if !ok {
			return fmt.Errorf("action %s: unexpected payload %T", actionID, payload)
		}
		_, err := s.bridge.RevealChoice(ctx, roomID, string(p.Choice), p.Secret, actionID)
		return err
	case session.ActionCancel:
		_, err := s.bridge.CancelGame(ctx, roomID, actionID)
		return err
	default:
		return fmt.Errorf("action %s: unknown kind %q", actionID, kind)
	}
}

// RequestSync delegates to the event transport.
func (s *Sender) RequestSync(ctx context.Context, roomID string, full bool) error {
	return s.syncer.RequestSync(ctx, roomID, full)
}
