// internal/match/snapshot.go
package match

import (
	"time"

	"github.com/peslobby/teamplay/internal/models"
)

// PersistedMatch is the durable form of one match for the autosave
// contract. Possession timing is intentionally not persisted; it restarts
// on the next possession event after a restore.
type PersistedMatch struct {
	ID             int                    `json:"match_id"`
	Home           models.Roster          `json:"home_team"`
	Away           models.Roster          `json:"away_team"`
	Status         Status                 `json:"status"`
	CurrentHalf    int                    `json:"current_half"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	Score          [2]int                 `json:"score"`
	Formations     map[models.Team]string `json:"formations"`
	Settings       map[string]any         `json:"settings,omitempty"`
	Ports          models.MatchPorts      `json:"ports"`
	HomeStats      TeamStats              `json:"home_stats"`
	AwayStats      TeamStats              `json:"away_stats"`
}

// Snapshot is the full persisted state: every live match plus which of
// them are active.
type Snapshot struct {
	NextID    int              `json:"next_id"`
	Matches   []PersistedMatch `json:"matches"`
	ActiveIDs []int            `json:"active_ids"`
	SavedAt   time.Time        `json:"saved_at"`
}

// Snapshot captures the manager's live tables for autosave.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		NextID:  m.nextID,
		SavedAt: time.Now(),
	}
	for id, mt := range m.matches {
		report := mt.Stats.Report()
		snap.Matches = append(snap.Matches, PersistedMatch{
			ID:             mt.ID,
			Home:           mt.Home.Clone(),
			Away:           mt.Away.Clone(),
			Status:         mt.State.Status(),
			CurrentHalf:    mt.State.CurrentHalf(),
			ElapsedSeconds: mt.State.Elapsed().Seconds(),
			Score:          mt.State.Score(),
			Formations:     mt.Formations,
			Settings:       mt.Settings,
			Ports:          mt.Ports,
			HomeStats:      report.Home,
			AwayStats:      report.Away,
		})
		if _, active := m.active[id]; active {
			snap.ActiveIDs = append(snap.ActiveIDs, id)
		}
	}
	return snap
}

// Restore rebuilds the live tables from a snapshot, re-anchoring each
// match's elapsed time to the current clock. Called once at startup before
// any connection is served.
func (m *Manager) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeSet := make(map[int]bool, len(snap.ActiveIDs))
	for _, id := range snap.ActiveIDs {
		activeSet[id] = true
	}

	for _, pm := range snap.Matches {
		st := NewState(m.cfg.HalfDuration, m.cfg.FullDuration)
		st.restore(pm.Status, pm.CurrentHalf, time.Duration(pm.ElapsedSeconds*float64(time.Second)), pm.Score)

		stats := NewStatistics()
		stats.restoreCounts(pm.HomeStats, pm.AwayStats)

		formations := pm.Formations
		if formations == nil {
			formations = map[models.Team]string{
				models.TeamHome: "4-4-2",
				models.TeamAway: "4-4-2",
			}
		}

		mt := &Match{
			ID:         pm.ID,
			Home:       pm.Home,
			Away:       pm.Away,
			Ports:      pm.Ports,
			State:      st,
			Stats:      stats,
			Formations: formations,
			Settings:   pm.Settings,
		}
		m.matches[pm.ID] = mt
		if activeSet[pm.ID] {
			m.active[pm.ID] = mt
		}
		if pm.ID >= m.nextID {
			m.nextID = pm.ID + 1
		}
	}
	if snap.NextID > m.nextID {
		m.nextID = snap.NextID
	}
	m.logger.WithField("matches", len(snap.Matches)).Info("match state restored")
}
