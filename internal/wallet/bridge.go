// Package wallet talks to the wallet bridge that signs and submits ledger
// transactions. The engine only consumes the result: success puts an event
// on the feed eventually, failure triggers optimistic rollback upstream.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Bet bounds enforced by the ledger program, checked client-side so obvious
// mistakes fail before a signing round trip. Amounts are in lamports.
const (
	MinBetAmount uint64 = 10_000_000      // 0.01 SOL
	MaxBetAmount uint64 = 100_000_000_000 // 100 SOL
)

// Bridge is an HTTP JSON client for the wallet bridge.
type Bridge struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewBridge creates a bridge client against baseURL.
func NewBridge(baseURL string) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader adds a header to every request (auth tokens and the like).
func (b *Bridge) SetHeader(key, value string) {
	b.headers[key] = value
}

// TxResult is the bridge's acknowledgement of a submitted transaction. The
// authoritative outcome still arrives via the event feed.
type TxResult struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

type createGameRequest struct {
	BetAmount uint64 `json:"bet_amount"`
}

type joinGameRequest struct {
	RoomID string `json:"room_id"`
}

type commitRequest struct {
	RoomID     string `json:"room_id"`
	Commitment string `json:"commitment"` // hex-encoded 32-byte hash
	ActionID   string `json:"action_id,omitempty"`
}

type revealRequest struct {
	RoomID   string `json:"room_id"`
	Choice   string `json:"choice"`
	Secret   uint64 `json:"secret"`
	ActionID string `json:"action_id,omitempty"`
}

type cancelRequest struct {
	RoomID   string `json:"room_id"`
	ActionID string `json:"action_id,omitempty"`
}

// CreateGame opens a new room with the given stake.
func (b *Bridge) CreateGame(ctx context.Context, betAmount uint64) (TxResult, error) {
	if betAmount < MinBetAmount {
		return TxResult{}, fmt.Errorf("bet %d below minimum %d", betAmount, MinBetAmount)
	}
	if betAmount > MaxBetAmount {
		return TxResult{}, fmt.Errorf("bet %d above maximum %d", betAmount, MaxBetAmount)
	}
	return b.post(ctx, "/v1/games", createGameRequest{BetAmount: betAmount})
}

// JoinGame enters an existing room as the second player.
func (b *Bridge) JoinGame(ctx context.Context, roomID string) (TxResult, error) {
	return b.post(ctx, "/v1/games/join", joinGameRequest{RoomID: roomID})
}

// MakeCommitment submits the commitment hash for the local player.
func (b *Bridge) MakeCommitment(ctx context.Context, roomID, commitmentHex, actionID string) (TxResult, error) {
	return b.post(ctx, "/v1/games/commit", commitRequest{
		RoomID:     roomID,
		Commitment: commitmentHex,
		ActionID:   actionID,
	})
}

// RevealChoice opens the local commitment on-chain.
func (b *Bridge) RevealChoice(ctx context.Context, roomID, choice string, secret uint64, actionID string) (TxResult, error) {
	return b.post(ctx, "/v1/games/reveal", revealRequest{
		RoomID:   roomID,
		Choice:   choice,
		Secret:   secret,
		ActionID: actionID,
	})
}

// CancelGame requests the timeout/refund path for an expired room.
func (b *Bridge) CancelGame(ctx context.Context, roomID, actionID string) (TxResult, error) {
	return b.post(ctx, "/v1/games/cancel", cancelRequest{RoomID: roomID, ActionID: actionID})
}

func (b *Bridge) post(ctx context.Context, endpoint string, body interface{}) (TxResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return TxResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return TxResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range b.headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return TxResult{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return TxResult{}, fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	var result TxResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return TxResult{}, fmt.Errorf("decode response: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("signature", result.Signature).
		Msg("bridge transaction accepted")
	return result, nil
}
