// internal/lobby/lobby_test.go
package lobby

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peslobby/teamplay/internal/models"
)

func TestJoinCapacity(t *testing.T) {
	l := New("test", nil)
	for i := 0; i < MaxPlayers; i++ {
		require.NoError(t, l.Join(fmt.Sprintf("p%d", i), 1000))
	}
	assert.ErrorIs(t, l.Join("overflow", 1000), ErrLobbyFull)
	assert.ErrorIs(t, l.Join("p0", 1000), ErrAlreadyJoined)
}

func TestPositionUniqueness(t *testing.T) {
	l := New("test", nil)
	require.NoError(t, l.Join("alice", 0))
	require.NoError(t, l.Join("bob", 0))
	require.NoError(t, l.AssignTeam("alice", models.TeamHome))
	require.NoError(t, l.AssignTeam("bob", models.TeamHome))

	require.NoError(t, l.AssignPosition("alice", "GK"))
	assert.ErrorIs(t, l.AssignPosition("bob", "GK"), ErrPositionTaken)

	// Moving alice frees GK for bob.
	require.NoError(t, l.AssignPosition("alice", "CF1"))
	require.NoError(t, l.AssignPosition("bob", "GK"))

	home, _ := l.Rosters()
	assert.Equal(t, "alice", home["CF1"])
	assert.Equal(t, "bob", home["GK"])
	assert.Len(t, home, 2)
}

func TestAssignPositionValidation(t *testing.T) {
	l := New("test", nil)
	require.NoError(t, l.Join("alice", 0))

	assert.ErrorIs(t, l.AssignPosition("alice", "GK"), ErrInvalidTeam)
	assert.ErrorIs(t, l.AssignPosition("ghost", "GK"), ErrNoSuchPlayer)

	require.NoError(t, l.AssignTeam("alice", models.TeamAway))
	assert.ErrorIs(t, l.AssignPosition("alice", "ST"), ErrInvalidPosition)
}

func TestAssignTeamVacatesOldSlot(t *testing.T) {
	l := New("test", nil)
	require.NoError(t, l.Join("alice", 0))
	require.NoError(t, l.AssignTeam("alice", models.TeamHome))
	require.NoError(t, l.AssignPosition("alice", "GK"))

	require.NoError(t, l.AssignTeam("alice", models.TeamAway))
	home, away := l.Rosters()
	assert.Empty(t, home)
	assert.Empty(t, away)

	p, ok := l.Player("alice")
	require.True(t, ok)
	assert.Equal(t, models.TeamAway, p.Team)
	assert.Empty(t, p.Position)
}

func TestTeamCap(t *testing.T) {
	l := New("test", nil)
	for i := 0; i < MaxPerTeam+1; i++ {
		require.NoError(t, l.Join(fmt.Sprintf("p%d", i), 0))
	}
	for i := 0; i < MaxPerTeam; i++ {
		require.NoError(t, l.AssignTeam(fmt.Sprintf("p%d", i), models.TeamHome))
	}
	assert.ErrorIs(t, l.AssignTeam(fmt.Sprintf("p%d", MaxPerTeam), models.TeamHome), ErrTeamFull)
}

func TestIsReady(t *testing.T) {
	l := New("test", nil)
	assert.False(t, l.IsReady(), "empty lobby is never ready")

	require.NoError(t, l.Join("alice", 0))
	require.NoError(t, l.SetReady("alice", true))
	assert.False(t, l.IsReady(), "a single player is never ready")

	require.NoError(t, l.Join("bob", 0))
	require.NoError(t, l.AssignTeam("alice", models.TeamHome))
	require.NoError(t, l.AssignTeam("bob", models.TeamAway))
	assert.False(t, l.IsReady(), "bob has not flagged ready")

	require.NoError(t, l.SetReady("bob", true))
	assert.True(t, l.IsReady())

	// A third player on home breaks the balance beyond one.
	require.NoError(t, l.Join("carol", 0))
	require.NoError(t, l.Join("dave", 0))
	require.NoError(t, l.AssignTeam("carol", models.TeamHome))
	require.NoError(t, l.AssignTeam("dave", models.TeamHome))
	require.NoError(t, l.SetReady("carol", true))
	require.NoError(t, l.SetReady("dave", true))
	assert.False(t, l.IsReady(), "team sizes differ by more than one")
}

func TestIsMatchReady(t *testing.T) {
	l := New("test", nil)
	for i, pos := range models.Positions {
		h := fmt.Sprintf("h%d", i)
		a := fmt.Sprintf("a%d", i)
		require.NoError(t, l.Join(h, 0))
		require.NoError(t, l.Join(a, 0))
		require.NoError(t, l.AssignTeam(h, models.TeamHome))
		require.NoError(t, l.AssignTeam(a, models.TeamAway))
		require.NoError(t, l.AssignPosition(h, pos))
		if pos != "CF2" {
			require.NoError(t, l.AssignPosition(a, pos))
		}
	}
	assert.False(t, l.IsMatchReady(), "away is missing CF2")

	require.NoError(t, l.AssignPosition(fmt.Sprintf("a%d", len(models.Positions)-1), "CF2"))
	assert.True(t, l.IsMatchReady())
}

func TestRemoveFreesSlot(t *testing.T) {
	l := New("test", nil)
	require.NoError(t, l.Join("alice", 0))
	require.NoError(t, l.AssignTeam("alice", models.TeamHome))
	require.NoError(t, l.AssignPosition("alice", "GK"))
	require.NoError(t, l.SetCaptain(models.TeamHome, "alice"))

	assert.True(t, l.Remove("alice"))
	assert.False(t, l.Remove("alice"), "second remove is a no-op")

	home, _ := l.Rosters()
	assert.Empty(t, home)
	_, ok := l.Player("alice")
	assert.False(t, ok)
}

func TestResetRosters(t *testing.T) {
	l := New("test", nil)
	require.NoError(t, l.Join("alice", 0))
	require.NoError(t, l.AssignTeam("alice", models.TeamHome))
	require.NoError(t, l.AssignPosition("alice", "GK"))
	require.NoError(t, l.SetReady("alice", true))

	l.ResetRosters()

	home, away := l.Rosters()
	assert.Empty(t, home)
	assert.Empty(t, away)
	p, ok := l.Player("alice")
	require.True(t, ok, "players stay joined across roster resets")
	assert.Equal(t, models.TeamNone, p.Team)
	assert.False(t, p.Ready)
}

func TestStoreListing(t *testing.T) {
	s := NewStore(nil)
	l := s.Create("alpha")
	s.Create("beta")

	got, ok := s.Get(l.ID)
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name)

	statuses := s.List()
	assert.Len(t, statuses, 2)

	s.Delete(l.ID)
	_, ok = s.Get(l.ID)
	assert.False(t, ok)
}
