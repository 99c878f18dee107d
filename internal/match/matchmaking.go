// internal/match/matchmaking.go
package match

import (
	"errors"
	"sort"
)

// ErrPoolSize rejects candidate pools that cannot fill two 11-player teams.
var ErrPoolSize = errors.New("exactly 22 candidates required for an 11v11 match")

// Candidate is one unassigned player in a matchmaking pool.
type Candidate struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

// BalanceTeams splits 22 candidates into two skill-balanced groups.
// Candidates are sorted by rating descending and dealt in an ABBA pattern
// over groups of four (indices 0 and 3 of each group go home, 1 and 2 go
// away). If the resulting average-rating gap exceeds gapThreshold the two
// groups are swapped wholesale, once, and accepted regardless of the
// post-swap gap. A cheap heuristic, not an optimizer.
func BalanceTeams(candidates []Candidate, gapThreshold float64) (home, away []Candidate, err error) {
	if len(candidates) != 22 {
		return nil, nil, ErrPoolSize
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rating > sorted[j].Rating
	})

	home = make([]Candidate, 0, 11)
	away = make([]Candidate, 0, 11)
	for i, c := range sorted {
		if i%4 == 0 || i%4 == 3 {
			home = append(home, c)
		} else {
			away = append(away, c)
		}
	}

	if gap := averageRating(home) - averageRating(away); gap > gapThreshold || gap < -gapThreshold {
		home, away = away, home
	}
	return home, away, nil
}

func averageRating(group []Candidate) float64 {
	if len(group) == 0 {
		return 0
	}
	sum := 0
	for _, c := range group {
		sum += c.Rating
	}
	return float64(sum) / float64(len(group))
}
