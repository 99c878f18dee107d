// internal/match/manager_test.go
package match

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peslobby/teamplay/internal/models"
)

// mockBroadcaster collects broadcast payloads instead of writing to
// connections.
type mockBroadcaster struct {
	mu       sync.Mutex
	messages []map[string]any
}

func (mb *mockBroadcaster) Broadcast(v any, _ string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if m, ok := v.(map[string]any); ok {
		mb.messages = append(mb.messages, m)
	}
}

func (mb *mockBroadcaster) lastOfType(msgType string) map[string]any {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i := len(mb.messages) - 1; i >= 0; i-- {
		if mb.messages[i]["type"] == msgType {
			return mb.messages[i]
		}
	}
	return nil
}

func fullRoster(prefix string) models.Roster {
	r := make(models.Roster, len(models.Positions))
	for i, pos := range models.Positions {
		r[pos] = fmt.Sprintf("%s%d", prefix, i)
	}
	return r
}

func newTestManager() (*Manager, *mockBroadcaster) {
	m := NewManager(Config{
		HalfDuration:       300 * time.Second,
		FullDuration:       600 * time.Second,
		RatingGapThreshold: 100,
		Ports:              models.MatchPorts{Home: 50000, Away: 50001},
	}, nil)
	mb := &mockBroadcaster{}
	m.SetBroadcaster(mb)
	return m, mb
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	m, _ := newTestManager()
	first := m.Create(fullRoster("h"), fullRoster("a"))
	second := m.Create(fullRoster("x"), fullRoster("y"))
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, models.MatchPorts{Home: 50000, Away: 50001}, first.Ports)
	assert.Equal(t, "4-4-2", first.Formations[models.TeamHome])
}

func TestInitializeBroadcastsSyncRequired(t *testing.T) {
	m, mb := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))

	settings := map[string]any{"weather": "rain"}
	require.True(t, m.Initialize(mt.ID, settings))

	msg := mb.lastOfType("sync_required")
	require.NotNil(t, msg)
	assert.Equal(t, mt.ID, msg["match_id"])
	assert.Equal(t, settings, msg["settings"])

	assert.False(t, m.Initialize(mt.ID, nil), "only from waiting")
	assert.False(t, m.Initialize(999, nil))
}

func TestStartPromotesToActive(t *testing.T) {
	m, mb := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))

	require.True(t, m.Start(mt.ID))
	assert.Equal(t, 1, m.ActiveCount())
	assert.NotNil(t, mb.lastOfType("match_state_update"))

	assert.False(t, m.Start(mt.ID), "double start rejected")
	assert.False(t, m.Start(999))
}

func TestTickAllHalfTimeAndFinish(t *testing.T) {
	m, mb := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))
	clock := newFakeClock()
	mt.State.SetClock(clock.now)
	require.True(t, m.Start(mt.ID))

	clock.advance(300 * time.Second)
	m.TickAll()
	msg := mb.lastOfType("match_update")
	require.NotNil(t, msg)
	assert.Equal(t, "half_time", msg["action"])

	clock.advance(300 * time.Second)
	m.TickAll()
	finished := mb.lastOfType("match_finished")
	require.NotNil(t, finished)
	assert.Equal(t, mt.ID, finished["match_id"])

	// Finished matches are removed from live storage entirely.
	_, exists := m.Get(mt.ID)
	assert.False(t, exists)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestUpdateScoreAndFormation(t *testing.T) {
	m, _ := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))
	require.True(t, m.Start(mt.ID))

	assert.True(t, m.UpdateScore(mt.ID, models.TeamHome, 1))
	assert.False(t, m.UpdateScore(999, models.TeamHome, 1))
	assert.Equal(t, [2]int{1, 0}, mt.State.Score())

	assert.True(t, m.UpdateFormation(mt.ID, models.TeamAway, "4-3-3"))
	assert.False(t, m.UpdateFormation(mt.ID, models.TeamAway, ""))
	assert.False(t, m.UpdateFormation(mt.ID, models.TeamNone, "4-3-3"))
}

func TestAddEventOnlyWhileActive(t *testing.T) {
	m, _ := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))

	assert.False(t, m.AddEvent(mt.ID, "goal", nil), "not active yet")
	require.True(t, m.Start(mt.ID))
	assert.True(t, m.AddEvent(mt.ID, "goal", map[string]any{"scorer": "h9"}))
	assert.Len(t, mt.Events, 1)
	assert.Equal(t, "goal", mt.Events[0].Type)
}

func TestDisconnectThenReconnectRestoresSlot(t *testing.T) {
	m, _ := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))
	require.True(t, m.Start(mt.ID))

	rec, ok := m.HandleDisconnect("h0")
	require.True(t, ok)
	assert.Equal(t, mt.ID, rec.MatchID)
	assert.Equal(t, models.TeamHome, rec.Team)
	assert.Equal(t, "GK", rec.Position)
	assert.Empty(t, mt.Home["GK"], "slot freed while away")

	got, ok := m.HandleReconnect("h0")
	require.True(t, ok)
	assert.Equal(t, rec, got)
	assert.Equal(t, "h0", mt.Home["GK"])

	_, ok = m.HandleReconnect("h0")
	assert.False(t, ok, "record consumed")
}

func TestDisconnectUnknownPlayer(t *testing.T) {
	m, _ := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))
	require.True(t, m.Start(mt.ID))

	_, ok := m.HandleDisconnect("stranger")
	assert.False(t, ok)
}

func TestReconnectAfterMatchEndedFails(t *testing.T) {
	m, _ := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))
	require.True(t, m.Start(mt.ID))

	_, ok := m.HandleDisconnect("a3")
	require.True(t, ok)

	m.Finish(mt.ID)

	_, ok = m.HandleReconnect("a3")
	assert.False(t, ok)
	_, ok = m.HandleReconnect("a3")
	assert.False(t, ok, "stale record discarded, not retried")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m, _ := newTestManager()
	mt := m.Create(fullRoster("h"), fullRoster("a"))
	clock := newFakeClock()
	mt.State.SetClock(clock.now)
	require.True(t, m.Start(mt.ID))
	clock.advance(150 * time.Second)
	require.True(t, m.UpdateScore(mt.ID, models.TeamAway, 2))
	require.True(t, m.UpdateFormation(mt.ID, models.TeamHome, "3-5-2"))
	mt.Stats.Record(models.TeamHome, "shots", 4)

	snap := m.Snapshot()
	require.Len(t, snap.Matches, 1)
	assert.Equal(t, []int{mt.ID}, snap.ActiveIDs)

	restored, _ := newTestManager()
	restored.Restore(snap)

	got, ok := restored.Get(mt.ID)
	require.True(t, ok)
	assert.Equal(t, mt.Home, got.Home)
	assert.Equal(t, StatusActive, got.State.Status())
	assert.Equal(t, [2]int{0, 2}, got.State.Score())
	assert.Equal(t, "3-5-2", got.Formations[models.TeamHome])
	assert.Equal(t, 4, got.Stats.Report().Home.Shots)
	assert.InDelta(t, 150, got.State.Elapsed().Seconds(), 1)
	assert.Equal(t, 1, restored.ActiveCount())

	// New matches pick up after the restored ids.
	next := restored.Create(fullRoster("x"), fullRoster("y"))
	assert.Equal(t, mt.ID+1, next.ID)
}

func TestCreateFromPoolFillsAllPositions(t *testing.T) {
	m, _ := newTestManager()
	candidates := make([]Candidate, 22)
	for i := range candidates {
		candidates[i] = Candidate{PlayerID: fmt.Sprintf("p%d", i), Rating: 1000 + i*10}
	}
	mt, err := m.CreateFromPool(candidates)
	require.NoError(t, err)
	assert.True(t, mt.Home.Complete())
	assert.True(t, mt.Away.Complete())

	_, err = m.CreateFromPool(candidates[:5])
	assert.ErrorIs(t, err, ErrPoolSize)
}
