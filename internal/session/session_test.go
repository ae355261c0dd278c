package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipgg/flipsync/internal/commitment"
	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/events"
)

const (
	roomID      = "room-1"
	localPlayer = "alice"
	opponent    = "bob"
)

// fakeSender records transport calls and fails on demand.
type fakeSender struct {
	mu        sync.Mutex
	actionErr error
	actions   []ActionKind
	syncCalls int
	fullSyncs int
}

func (f *fakeSender) SendAction(ctx context.Context, room, actionID string, kind ActionKind, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, kind)
	return f.actionErr
}

func (f *fakeSender) RequestSync(ctx context.Context, room string, full bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	if full {
		f.fullSyncs++
	}
	return nil
}

func (f *fakeSender) actionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.actions)
}

func (f *fakeSender) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls
}

// memStore is an in-memory commitment.Store.
type memStore struct {
	mu     sync.Mutex
	recs   map[string]commitment.Record
	putErr error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]commitment.Record)}
}

func (m *memStore) Put(ctx context.Context, rec commitment.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.recs[rec.RoomID] = rec
	return nil
}

func (m *memStore) Get(ctx context.Context, room string) (commitment.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[room]
	return rec, ok, nil
}

func (m *memStore) Remove(ctx context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, room)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[room]
	return ok
}

type fixture struct {
	session *Session
	sender  *fakeSender
	store   *memStore
	monitor *connmon.Monitor
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sender := &fakeSender{}
	store := newMemStore()
	monitor := connmon.NewWithClock(connmon.Config{FailureThreshold: 3, Cooldown: time.Minute}, clock)
	monitor.MarkConnected()
	s := newSession(roomID, localPlayer, DefaultConfig(), clock, store, monitor, sender)
	return &fixture{session: s, sender: sender, store: store, monitor: monitor, clock: clock}
}

func mustEvent(t *testing.T, id string, typ events.EventType, payload interface{}) events.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Envelope{
		ID:        id,
		RoomID:    roomID,
		Type:      typ,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Data:      data,
	}
}

// toSelecting drives a fresh session through creation and the second join.
func (f *fixture) toSelecting(t *testing.T) {
	t.Helper()
	f.session.HandleEvent(mustEvent(t, "created", events.EventTypeGameCreated,
		events.GameCreatedPayload{GameID: 7, PlayerA: localPlayer, BetAmount: 50_000_000}))
	f.session.HandleEvent(mustEvent(t, "joined", events.EventTypePlayerJoined,
		events.PlayerJoinedPayload{Player: opponent}))
	require.Equal(t, PhaseSelecting, f.session.View().Phase)
}

func TestMakeSelectionAppliesOptimisticallyBeforeEvent(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)

	view := f.session.View()
	assert.True(t, view.Selections[localPlayer], "selection shows before any event arrives")
	assert.Equal(t, 1, view.PendingActions)
	assert.True(t, f.store.has(roomID), "secret persisted at commit time")
}

func TestMatchingEventClearsPendingAndKeepsState(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	actionID, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)

	f.session.HandleEvent(mustEvent(t, "sel-a", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: localPlayer, Commitment: "ab", ActionID: actionID}))

	view := f.session.View()
	assert.Zero(t, view.PendingActions)
	assert.True(t, view.Selections[localPlayer], "authoritative state supersedes, already correct")
}

func TestSemanticMatchClearsPendingWithoutActionID(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)

	f.session.HandleEvent(mustEvent(t, "sel-a", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: localPlayer, Commitment: "ab"}))

	assert.Zero(t, f.session.View().PendingActions)
}

func TestForeignActionIDNeverClearsWrongPending(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)

	// A confirmation carrying someone else's action id must not clear the
	// local pending entry, even though room and kind line up.
	f.session.HandleEvent(mustEvent(t, "sel-x", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: localPlayer, Commitment: "cd", ActionID: "select-0-deadbeef"}))

	assert.Equal(t, 1, f.session.View().PendingActions)
}

func TestOpponentEventLeavesLocalPendingAlone(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)

	f.session.HandleEvent(mustEvent(t, "sel-b", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: opponent, Commitment: "ef"}))

	view := f.session.View()
	assert.Equal(t, 1, view.PendingActions)
	assert.True(t, view.Selections[opponent])
}

func TestTransportFailureRollsBackSelections(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)
	f.sender.actionErr = errors.New("rpc unavailable")

	before := f.session.View().Selections
	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view := f.session.View()
		return view.PendingActions == 0 && !view.Selections[localPlayer]
	}, time.Second, 5*time.Millisecond, "rollback restores pre-submission selections")

	assert.Equal(t, before, f.session.View().Selections)
}

func TestTransportFailureRollsBackJoinPresence(t *testing.T) {
	f := newFixture(t)
	f.sender.actionErr = errors.New("rpc unavailable")

	_, err := f.session.RejoinRoom(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view := f.session.View()
		return view.PendingActions == 0 && !view.Online[localPlayer]
	}, time.Second, 5*time.Millisecond, "rollback restores pre-submission presence")
}

func TestJoinRollbackKeepsAuthoritativePresence(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)
	f.sender.actionErr = errors.New("rpc unavailable")

	_, err := f.session.RejoinRoom(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.session.View().PendingActions == 0
	}, time.Second, 5*time.Millisecond)

	// Both players joined via events before the failed rejoin; the rollback
	// must not erase that.
	view := f.session.View()
	assert.True(t, view.Online[localPlayer])
	assert.True(t, view.Online[opponent])
}

func TestMakeSelectionRejectedOutsideSelecting(t *testing.T) {
	f := newFixture(t)

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.Zero(t, f.sender.actionCount())
}

func TestStorageFailureDegradesInsteadOfAborting(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)
	f.store.putErr = errors.New("quota exceeded")

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err, "commit flow continues despite storage trouble")

	view := f.session.View()
	assert.True(t, view.StorageDegraded)
	assert.True(t, view.Selections[localPlayer])
}

func TestRevealChoiceWithoutRecordIsCommitmentLost(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	// Both selections arrive from the feed but the local record is absent,
	// e.g. a different device committed.
	f.session.HandleEvent(mustEvent(t, "sel-a", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: localPlayer, Commitment: "ab"}))
	f.session.HandleEvent(mustEvent(t, "sel-b", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: opponent, Commitment: "cd"}))

	view := f.session.View()
	require.Equal(t, PhaseResolving, view.Phase)
	assert.True(t, view.CommitmentLost, "surfaced as state, not a crash")

	_, err := f.session.RevealChoice(context.Background())
	assert.ErrorIs(t, err, ErrCommitmentLost)

	// The refund path stays open.
	_, err = f.session.HandleTimeout(context.Background())
	assert.NoError(t, err)
}

func TestRevealChoiceOpensStoredCommitment(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	_, err := f.session.MakeSelection(context.Background(), events.Tails)
	require.NoError(t, err)

	f.session.HandleEvent(mustEvent(t, "sel-a", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: localPlayer, Commitment: "ab"}))
	f.session.HandleEvent(mustEvent(t, "sel-b", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: opponent, Commitment: "cd"}))
	require.Equal(t, PhaseResolving, f.session.View().Phase)

	_, err = f.session.RevealChoice(context.Background())
	require.NoError(t, err)
	assert.True(t, f.session.View().Revealed[localPlayer], "reveal applied optimistically")
	assert.False(t, f.session.View().CommitmentLost)
}

func TestCircuitOpenRejectsActionsAndRefresh(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	for i := 0; i < 3; i++ {
		f.monitor.RecordFailure()
	}

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	assert.ErrorIs(t, err, connmon.ErrCircuitOpen)

	assert.ErrorIs(t, f.session.Refresh(context.Background()), connmon.ErrCircuitOpen)
	assert.ErrorIs(t, f.session.ForceRefresh(context.Background()), connmon.ErrCircuitOpen)

	assert.Zero(t, f.sender.actionCount(), "fail-fast: no transport I/O attempted")
	assert.Zero(t, f.sender.syncCount())
}

func TestStalenessFlipsWithClock(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)
	require.False(t, f.session.View().Stale)

	f.clock.Advance(DefaultConfig().StaleThreshold + time.Second)
	assert.True(t, f.session.View().Stale)

	f.session.HandleEvent(mustEvent(t, "sel-b", events.EventTypeSelectionMade,
		events.SelectionMadePayload{Player: opponent, Commitment: "cd"}))
	assert.False(t, f.session.View().Stale, "fresh event resets staleness")
}

func TestForceRefreshDiscardsCacheButKeepsCommitment(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	_, err := f.session.MakeSelection(context.Background(), events.Heads)
	require.NoError(t, err)
	require.True(t, f.store.has(roomID))

	require.NoError(t, f.session.ForceRefresh(context.Background()))

	view := f.session.View()
	assert.Equal(t, PhaseWaiting, view.Phase)
	assert.Empty(t, view.Players)
	assert.Zero(t, view.PendingActions)
	assert.True(t, f.store.has(roomID), "commitments outlive cache resets")

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Equal(t, 1, f.sender.fullSyncs)
}

func TestRefreshRequestsIncrementalSync(t *testing.T) {
	f := newFixture(t)
	f.toSelecting(t)

	require.NoError(t, f.session.Refresh(context.Background()))

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Equal(t, 1, f.sender.syncCalls)
	assert.Zero(t, f.sender.fullSyncs)
}
