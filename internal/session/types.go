// Package session owns the per-room game state: the phase machine fed by
// authoritative events, the optimistic action layer, and staleness/refresh
// policy. Presentation reads the merged View and issues intents; everything
// else stays internal.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/events"
)

// Phase is the authoritative game phase for a room.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseSelecting Phase = "selecting"
	PhaseResolving Phase = "resolving"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
)

// terminal reports whether a phase accepts no further transitions.
func (p Phase) terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// ActionKind tags an optimistic action.
type ActionKind string

const (
	ActionJoin   ActionKind = "join"
	ActionSelect ActionKind = "select"
	ActionReveal ActionKind = "reveal"
	ActionCancel ActionKind = "cancel"
)

var (
	// ErrCommitmentLost means the local secret for a room is unavailable at
	// reveal time. Recoverable only through the timeout/refund path.
	ErrCommitmentLost = errors.New("commitment lost: local secret unavailable")

	// ErrWrongPhase means the intent is not legal in the room's phase.
	ErrWrongPhase = errors.New("action not allowed in current phase")

	// ErrSessionClosed means the session was unmounted; late results are
	// ignored rather than applied.
	ErrSessionClosed = errors.New("session closed")

	// ErrRoomNotOpen means no session exists for the room yet.
	ErrRoomNotOpen = errors.New("room not open")
)

// Result is the authoritative outcome of a completed room.
type Result struct {
	Winner       string          `json:"winner"`
	CoinResult   events.CoinSide `json:"coin_result"`
	WinnerPayout uint64          `json:"winner_payout"`
	HouseFee     uint64          `json:"house_fee"`
	ResolvedAt   time.Time       `json:"resolved_at"`
}

// PendingAction is an optimistic action awaiting its authoritative event or
// an explicit failure.
type PendingAction struct {
	ID          string
	Kind        ActionKind
	SubmittedAt time.Time
}

// View is the merged room state the presentation collaborator renders: the
// last authoritative state with pending optimistic deltas applied, plus
// connection and staleness flags. It is an immutable snapshot.
type View struct {
	RoomID            string          `json:"room_id"`
	Phase             Phase           `json:"phase"`
	Players           []string        `json:"players"`
	Online            map[string]bool `json:"online"`
	Selections        map[string]bool `json:"selections"`
	Revealed          map[string]bool `json:"revealed"`
	Result            *Result         `json:"result,omitempty"`
	CommitmentLost    bool            `json:"commitment_lost"`
	StorageDegraded   bool            `json:"storage_degraded"`
	Connection        connmon.State   `json:"connection"`
	PendingActions    int             `json:"pending_actions"`
	Stale             bool            `json:"stale"`
	LastUpdateAt      time.Time       `json:"last_update_at"`
	SelectionDeadline time.Time       `json:"selection_deadline,omitempty"`
	ExpiryDeadline    time.Time       `json:"expiry_deadline,omitempty"`
}

// Sender is what the session needs from the transport layer: submit an
// action frame and request a resync. Implementations must not block forever;
// the session treats an error as grounds for rollback.
type Sender interface {
	SendAction(ctx context.Context, roomID, actionID string, kind ActionKind, payload interface{}) error
	RequestSync(ctx context.Context, roomID string, full bool) error
}

// Config carries the timing policy the engine displays and enforces locally.
// The ledger enforces the real deadlines; these values only drive countdowns
// and staleness detection.
type Config struct {
	SelectionWindow time.Duration
	ExpiryWindow    time.Duration
	StaleThreshold  time.Duration
}

// DefaultConfig mirrors the ledger's windows: an hour before a room can be
// cancelled, five minutes to select.
func DefaultConfig() Config {
	return Config{
		SelectionWindow: 5 * time.Minute,
		ExpiryWindow:    time.Hour,
		StaleThreshold:  30 * time.Second,
	}
}
