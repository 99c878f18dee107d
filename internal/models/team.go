// internal/models/team.go
package models

// Team identifies one side of a match.
type Team string

const (
	TeamHome Team = "home"
	TeamAway Team = "away"
	TeamNone Team = ""
)

// Valid reports whether t is an actual side.
func (t Team) Valid() bool {
	return t == TeamHome || t == TeamAway
}

// Opponent returns the other side, or TeamNone for an invalid team.
func (t Team) Opponent() Team {
	switch t {
	case TeamHome:
		return TeamAway
	case TeamAway:
		return TeamHome
	}
	return TeamNone
}

// Positions is the fixed 11-role set every roster must fill, in the order
// matchmaking assigns them.
var Positions = []string{
	"GK", "LB", "CB1", "CB2", "RB",
	"LM", "CM1", "CM2", "RM",
	"CF1", "CF2",
}

// ValidPosition reports whether pos is one of the enumerated roles.
func ValidPosition(pos string) bool {
	for _, p := range Positions {
		if p == pos {
			return true
		}
	}
	return false
}

// Roster maps position to the occupying player id. At most one player per
// position; a player appears at most once.
type Roster map[string]string

// Clone returns an independent copy.
func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for pos, pid := range r {
		out[pos] = pid
	}
	return out
}

// Complete reports whether every enumerated position is filled.
func (r Roster) Complete() bool {
	for _, pos := range Positions {
		if r[pos] == "" {
			return false
		}
	}
	return true
}
