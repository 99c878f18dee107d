// internal/match/state.go
package match

import (
	"sync"
	"time"

	"github.com/peslobby/teamplay/internal/models"
)

// Status is the lifecycle state of a match.
type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusHalfTime     Status = "half_time"
	StatusFinished     Status = "finished"
)

// EventKind tags an automatic transition produced by a tick.
type EventKind string

const (
	EventHalfTime EventKind = "half_time"
	EventMatchEnd EventKind = "match_end"
)

// Summary is the state payload broadcast to participants.
type Summary struct {
	Status      Status  `json:"status"`
	CurrentHalf int     `json:"current_half"`
	MatchTime   float64 `json:"match_time"`
	Score       [2]int  `json:"score"`
}

// State is the per-match lifecycle state machine. Elapsed time derives from
// a start instant adjusted forward for every pause, so paused intervals
// never count. The clock is injected for tests; time.Time's monotonic
// reading makes the arithmetic immune to wall-clock adjustment.
type State struct {
	mu sync.Mutex

	status      Status
	currentHalf int

	startTime time.Time
	pauseTime time.Time

	score [2]int

	finalElapsed time.Duration

	halfDuration time.Duration
	fullDuration time.Duration

	now func() time.Time
}

// NewState creates a waiting-state machine with the given half/full
// thresholds.
func NewState(halfDuration, fullDuration time.Duration) *State {
	return &State{
		status:       StatusWaiting,
		currentHalf:  1,
		halfDuration: halfDuration,
		fullDuration: fullDuration,
		now:          time.Now,
	}
}

// SetClock replaces the clock source. Test hook.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Initialize moves waiting -> initializing when match settings arrive.
func (s *State) Initialize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return false
	}
	s.status = StatusInitializing
	return true
}

// Start records kickoff. Allowed from waiting or initializing.
func (s *State) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting && s.status != StatusInitializing {
		return false
	}
	s.status = StatusActive
	s.startTime = s.now()
	return true
}

// Pause suspends the running clock.
func (s *State) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningUnsafe() {
		return false
	}
	s.status = StatusPaused
	s.pauseTime = s.now()
	return true
}

// Resume shifts the start instant forward by the pause duration, so elapsed
// time at the instant of resume equals elapsed time at the instant of pause.
func (s *State) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return false
	}
	pauseDuration := s.now().Sub(s.pauseTime)
	s.startTime = s.startTime.Add(pauseDuration)
	s.status = StatusActive
	s.pauseTime = time.Time{}
	return true
}

// Tick evaluates the automatic transitions. At most one fires per call;
// the finish threshold is authoritative and checked first, half-time only
// triggers while in the first half. Returns the transition kind or "".
func (s *State) Tick() EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningUnsafe() {
		return ""
	}
	elapsed := s.now().Sub(s.startTime)

	if elapsed >= s.fullDuration {
		s.status = StatusFinished
		s.finalElapsed = elapsed
		return EventMatchEnd
	}
	if s.currentHalf == 1 && elapsed >= s.halfDuration {
		s.currentHalf = 2
		s.status = StatusHalfTime
		return EventHalfTime
	}
	return ""
}

// Elapsed returns match time with paused intervals excluded.
func (s *State) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedUnsafe()
}

// SetScore sets one team's absolute score. Accepted in any live state;
// score changes never drive transitions.
func (s *State) SetScore(team models.Team, score int) bool {
	if score < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch team {
	case models.TeamHome:
		s.score[0] = score
	case models.TeamAway:
		s.score[1] = score
	default:
		return false
	}
	return true
}

// Score returns the (home, away) score pair.
func (s *State) Score() [2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// Status returns the current lifecycle state.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CurrentHalf returns 1 or 2.
func (s *State) CurrentHalf() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentHalf
}

// Summary builds the broadcast payload.
func (s *State) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Status:      s.status,
		CurrentHalf: s.currentHalf,
		MatchTime:   s.elapsedUnsafe().Seconds(),
		Score:       s.score,
	}
}

// restore rebuilds a state machine from a persisted snapshot. Elapsed time
// is re-anchored to the current clock; a match saved mid-pause comes back
// paused at the same elapsed offset.
func (s *State) restore(status Status, currentHalf int, elapsed time.Duration, score [2]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.currentHalf = currentHalf
	s.score = score
	now := s.now()
	switch status {
	case StatusActive, StatusHalfTime:
		s.startTime = now.Add(-elapsed)
	case StatusPaused:
		s.startTime = now.Add(-elapsed)
		s.pauseTime = now
	case StatusFinished:
		s.finalElapsed = elapsed
	}
}

// runningUnsafe reports whether match time is accruing. The half-time
// announcement does not stop the clock: the second half runs until the
// finish threshold, matching the emulated client's expectations.
func (s *State) runningUnsafe() bool {
	return s.status == StatusActive || s.status == StatusHalfTime
}

func (s *State) elapsedUnsafe() time.Duration {
	switch {
	case s.runningUnsafe():
		return s.now().Sub(s.startTime)
	case s.status == StatusPaused:
		return s.pauseTime.Sub(s.startTime)
	case s.status == StatusFinished:
		return s.finalElapsed
	default:
		return 0
	}
}
