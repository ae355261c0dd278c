package events

import "time"

// Payload schemas mirror the ledger bridge's event feed. Fields named
// ActionID correlate an authoritative event back to the optimistic action
// that produced it; the bridge echoes the id when the submitting client
// supplied one.

// GameCreatedPayload announces a freshly created room.
type GameCreatedPayload struct {
	GameID    uint64 `json:"game_id"`
	PlayerA   string `json:"player_a"`
	BetAmount uint64 `json:"bet_amount"`
}

// PlayerJoinedPayload announces the second player entering the room.
type PlayerJoinedPayload struct {
	Player   string `json:"player"`
	ActionID string `json:"action_id,omitempty"`
}

// PlayerLeftPayload reports a presence drop. It does not change the game
// phase; an absent opponent can still reveal or time out.
type PlayerLeftPayload struct {
	Player string `json:"player"`
}

// SelectionMadePayload records that a player's commitment landed on the
// ledger. The commitment hash is included; the underlying choice stays
// hidden until reveal.
type SelectionMadePayload struct {
	Player     string `json:"player"`
	Commitment string `json:"commitment"` // hex-encoded 32-byte hash
	ActionID   string `json:"action_id,omitempty"`
}

// ChoiceRevealedPayload carries a player's opened commitment.
type ChoiceRevealedPayload struct {
	Player   string   `json:"player"`
	Choice   CoinSide `json:"choice"`
	Secret   uint64   `json:"secret"`
	ActionID string   `json:"action_id,omitempty"`
}

// GameResolvedPayload carries the authoritative outcome.
type GameResolvedPayload struct {
	Winner       string    `json:"winner"`
	CoinResult   CoinSide  `json:"coin_result"`
	WinnerPayout uint64    `json:"winner_payout"`
	HouseFee     uint64    `json:"house_fee"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// GameCancelledPayload reports a refunded room.
type GameCancelledPayload struct {
	CancelledAt   time.Time `json:"cancelled_at"`
	FeesCollected uint64    `json:"fees_collected"`
	ActionID      string    `json:"action_id,omitempty"`
}

// TimeoutPayload reports that a per-phase deadline elapsed on the ledger
// side. The engine reacts to it; it never enforces the deadline itself.
type TimeoutPayload struct {
	Phase      string    `json:"phase"`
	DeadlineAt time.Time `json:"deadline_at"`
}
