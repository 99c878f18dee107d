// internal/match/statistics.go
package match

import (
	"math"
	"sync"
	"time"

	"github.com/peslobby/teamplay/internal/models"
)

// TeamStats holds one side's event counters.
type TeamStats struct {
	Shots         int `json:"shots"`
	ShotsOnTarget int `json:"shots_on_target"`
	Passes        int `json:"passes"`
	Fouls         int `json:"fouls"`
}

// StatsReport is the broadcast form of the statistics, with possession
// expressed as percentages.
type StatsReport struct {
	Home       TeamStats          `json:"home"`
	Away       TeamStats          `json:"away"`
	Possession map[string]float64 `json:"possession"`
}

// Statistics accumulates per-team counters and possession time for one
// match. A possession-changed event credits the interval since the last
// change to the previous possessor.
type Statistics struct {
	mu sync.Mutex

	teams map[models.Team]*TeamStats

	possession     map[models.Team]time.Duration
	lastPossession models.Team
	lastChange     time.Time

	now func() time.Time
}

// NewStatistics creates a zeroed accumulator.
func NewStatistics() *Statistics {
	return &Statistics{
		teams: map[models.Team]*TeamStats{
			models.TeamHome: {},
			models.TeamAway: {},
		},
		possession: map[models.Team]time.Duration{
			models.TeamHome: 0,
			models.TeamAway: 0,
		},
		now: time.Now,
	}
}

// SetClock replaces the clock source. Test hook.
func (st *Statistics) SetClock(now func() time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.now = now
}

// Record bumps a named counter for team by delta. Unknown counters are
// ignored and reported false.
func (st *Statistics) Record(team models.Team, stat string, delta int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	ts, ok := st.teams[team]
	if !ok {
		return false
	}
	switch stat {
	case "shots":
		ts.Shots += delta
	case "shots_on_target":
		ts.ShotsOnTarget += delta
	case "passes":
		ts.Passes += delta
	case "fouls":
		ts.Fouls += delta
	default:
		return false
	}
	return true
}

// UpdatePossession credits elapsed time to the previous possessor and marks
// team as the new one.
func (st *Statistics) UpdatePossession(team models.Team) bool {
	if !team.Valid() {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	if st.lastPossession.Valid() {
		st.possession[st.lastPossession] += now.Sub(st.lastChange)
	}
	st.lastPossession = team
	st.lastChange = now
	return true
}

// PossessionPercent derives the split from accumulated time, 50/50 when no
// possession event has occurred yet. Values are rounded to one decimal.
func (st *Statistics) PossessionPercent() map[string]float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	total := st.possession[models.TeamHome] + st.possession[models.TeamAway]
	if total == 0 {
		return map[string]float64{"home": 50, "away": 50}
	}
	homePct := float64(st.possession[models.TeamHome]) / float64(total) * 100
	return map[string]float64{
		"home": round1(homePct),
		"away": round1(100 - homePct),
	}
}

// Report snapshots the full statistics payload.
func (st *Statistics) Report() StatsReport {
	possession := st.PossessionPercent()
	st.mu.Lock()
	defer st.mu.Unlock()
	return StatsReport{
		Home:       *st.teams[models.TeamHome],
		Away:       *st.teams[models.TeamAway],
		Possession: possession,
	}
}

// restoreCounts reloads persisted counters after a restart.
func (st *Statistics) restoreCounts(home, away TeamStats) {
	st.mu.Lock()
	defer st.mu.Unlock()
	*st.teams[models.TeamHome] = home
	*st.teams[models.TeamAway] = away
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
