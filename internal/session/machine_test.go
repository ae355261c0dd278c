package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipgg/flipsync/internal/events"
)

func resolvedPayload() events.GameResolvedPayload {
	return events.GameResolvedPayload{
		Winner:       opponent,
		CoinResult:   events.Tails,
		WinnerPayout: 93_000_000,
		HouseFee:     7_000_000,
		ResolvedAt:   time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestSecondPlayerJoinMovesWaitingToSelecting(t *testing.T) {
	f := newFixture(t)

	f.session.HandleEvent(mustEvent(t, "created", events.EventTypeGameCreated,
		events.GameCreatedPayload{GameID: 7, PlayerA: localPlayer, BetAmount: 50_000_000}))
	view := f.session.View()
	require.Equal(t, PhaseWaiting, view.Phase)
	require.Equal(t, []string{localPlayer}, view.Players)

	f.session.HandleEvent(mustEvent(t, "joined", events.EventTypePlayerJoined,
		events.PlayerJoinedPayload{Player: opponent}))
	view = f.session.View()
	assert.Equal(t, PhaseSelecting, view.Phase)
	assert.Equal(t, []string{localPlayer, opponent}, view.Players, "insertion order is join order")
	assert.False(t, view.SelectionDeadline.IsZero())
}

func TestBothSelectionsMoveSelectingToResolving(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	f.session.HandleEvent(mustEvent(t, "sel-a", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: localPlayer, Commitment: "ab"}))
	require.Equal(t, PhaseSelecting, f.session.View().Phase, "one selection is not enough")

	f.session.HandleEvent(mustEvent(t, "sel-b", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: opponent, Commitment: "cd"}))
	assert.Equal(t, PhaseResolving, f.session.View().Phase)
}

func TestOptimisticSelectionAloneNeverAdvancesPhase(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	// Local belief: both selected. Authoritative stream: only the opponent.
	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)
	f.session.HandleEvent(mustEvent(t, "sel-b", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: opponent, Commitment: "cd"}))

	assert.Equal(t, PhaseSelecting, f.session.View().Phase,
		"transition waits for the recorded selection, not local belief")
}

func TestResolvedEventCompletesRoom(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)
	require.True(t, f.store.has(roomID))

	f.session.HandleEvent(mustEvent(t, "resolved", events.EventTypeGameResolved, resolvedPayload()))

	view := f.session.View()
	assert.Equal(t, PhaseCompleted, view.Phase)
	require.NotNil(t, view.Result)
	assert.Equal(t, opponent, view.Result.Winner)
	assert.Equal(t, events.Tails, view.Result.CoinResult)
	assert.Zero(t, view.PendingActions, "authoritative outcome supersedes in-flight actions")
	assert.False(t, f.store.has(roomID), "spent commitment is removed")
}

func TestDuplicateResolvedEventsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	f.session.HandleEvent(mustEvent(t, "resolved", events.EventTypeGameResolved, resolvedPayload()))
	want := f.session.View()

	// Same delivery repeated, and the same resolution under a fresh id.
	f.session.HandleEvent(mustEvent(t, "resolved", events.EventTypeGameResolved, resolvedPayload()))
	f.session.HandleEvent(mustEvent(t, "resolved-redelivery", events.EventTypeGameResolved, resolvedPayload()))

	got := f.session.View()
	assert.Equal(t, want.Phase, got.Phase)
	assert.Equal(t, want.Result, got.Result)
}

func TestTimeoutCancelsRegardlessOfSelections(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	f.session.HandleEvent(mustEvent(t, "sel-a", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: localPlayer, Commitment: "ab"}))
	f.session.HandleEvent(mustEvent(t, "timeout", events.EventTypeTimeout,
		events.TimeoutPayload{Phase: "selecting", DeadlineAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)}))

	assert.Equal(t, PhaseCancelled, f.session.View().Phase)
}

func TestTimeoutAfterCompletionIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	f.session.HandleEvent(mustEvent(t, "resolved", events.EventTypeGameResolved, resolvedPayload()))
	f.session.HandleEvent(mustEvent(t, "timeout", events.EventTypeTimeout,
		events.TimeoutPayload{Phase: "resolving", DeadlineAt: time.Now()}))

	assert.Equal(t, PhaseCompleted, f.session.View().Phase)
}

func TestCancellationEventMarksRoomCancelled(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	f.session.HandleEvent(mustEvent(t, "cancelled", events.EventTypeGameCancelled,
		events.GameCancelledPayload{CancelledAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), FeesCollected: 2_000_000}))

	assert.Equal(t, PhaseCancelled, f.session.View().Phase)
}

func TestDuplicateDeliveryIsDroppedByIdentity(t *testing.T) {
	f := newFixture(t)

	f.session.HandleEvent(mustEvent(t, "created", events.EventTypeGameCreated,
		events.GameCreatedPayload{GameID: 7, PlayerA: localPlayer, BetAmount: 50_000_000}))
	joined := mustEvent(t, "joined", events.EventTypePlayerJoined,
		events.PlayerJoinedPayload{Player: opponent})
	f.session.HandleEvent(joined)
	f.session.HandleEvent(joined)

	view := f.session.View()
	assert.Len(t, view.Players, 2)
	assert.Equal(t, PhaseSelecting, view.Phase)
}

func TestOpponentPresenceIsIndependentOfPhase(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	f.session.HandleEvent(mustEvent(t, "sel-b", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: opponent, Commitment: "cd"}))
	f.session.HandleEvent(mustEvent(t, "left", events.EventTypePlayerLeft,
		events.PlayerLeftPayload{Player: opponent}))

	view := f.session.View()
	assert.False(t, view.Online[opponent], "opponent offline after leaving")
	assert.True(t, view.Selections[opponent], "their recorded selection stands")
	assert.Equal(t, PhaseSelecting, view.Phase)
}

func TestResolutionAfterCancellationIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	f.session.HandleEvent(mustEvent(t, "timeout", events.EventTypeTimeout,
		events.TimeoutPayload{Phase: "selecting", DeadlineAt: time.Now()}))
	f.session.HandleEvent(mustEvent(t, "resolved", events.EventTypeGameResolved, resolvedPayload()))

	view := f.session.View()
	assert.Equal(t, PhaseCancelled, view.Phase)
	assert.Nil(t, view.Result)
}
