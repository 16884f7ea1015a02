// Package battle owns one supervised engine match: picking a spec, starting
// the engine through a Launcher, polling for the terminal result, and
// applying exactly one outcome to the statistics store.
package battle

import (
	"errors"

	"mugen-arena/server/watcher"
)

var (
	// ErrNoEligibleEntrants means the enabled combatant or arena set is empty.
	ErrNoEligibleEntrants = errors.New("battle: no eligible entrants")
	// ErrInsufficientParticipants means the chosen mode needs more distinct
	// entrants than are enabled.
	ErrInsufficientParticipants = errors.New("battle: insufficient participants")
	// ErrLaunch wraps supervisor failures to produce a runnable engine.
	ErrLaunch = errors.New("battle: launch failed")
	// ErrTiedScores is surfaced when the score feed reports a tie. The feed
	// is assumed to never tie; when it does, the match is replayed rather
	// than silently awarding one side.
	ErrTiedScores = errors.New("battle: tied score pair")
	// ErrNoResult means the engine left the process table without a result
	// line ever appearing (crash or manual close).
	ErrNoResult = errors.New("battle: engine exited without reporting a result")
)

// Mode is the tagged battle variant. Exactly Single or Team.
type Mode interface{ isMode() }

// Single is one combatant per side.
type Single struct {
	P1 string
	P2 string
}

// Team is a simultaneous-team battle with an ordered member list per side.
type Team struct {
	SideA []string
	SideB []string
}

func (Single) isMode() {}
func (Team) isMode()   {}

// Spec describes one match. Immutable once produced; consumed exactly once
// by the supervisor.
type Spec struct {
	Mode        Mode
	Arena       string
	Rounds      int
	ColorOffset int
}

// Sides returns the ordered participant lists for each side.
func (s Spec) Sides() (side1, side2 []string) {
	switch m := s.Mode.(type) {
	case Single:
		return []string{m.P1}, []string{m.P2}
	case Team:
		return m.SideA, m.SideB
	}
	return nil, nil
}

// Validate checks the structural preconditions of a spec: both sides
// populated and all participants distinct.
func (s Spec) Validate() error {
	side1, side2 := s.Sides()
	if len(side1) == 0 || len(side2) == 0 {
		return ErrInsufficientParticipants
	}
	seen := map[string]struct{}{}
	for _, name := range append(append([]string{}, side1...), side2...) {
		if name == "" {
			return ErrInsufficientParticipants
		}
		if _, dup := seen[name]; dup {
			return ErrInsufficientParticipants
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Outcome is the terminal result of one battle. Winners × Losers is the
// full cross-product the statistics store is updated with.
type Outcome struct {
	Winners []string
	Losers  []string
	Scores  watcher.Scores
}

// deriveOutcome maps a terminal score pair onto the spec's sides. The
// strictly greater score wins; a tie is an explicit error, not a default.
func deriveOutcome(spec Spec, sc watcher.Scores) (Outcome, error) {
	side1, side2 := spec.Sides()
	switch {
	case sc.P1 > sc.P2:
		return Outcome{Winners: side1, Losers: side2, Scores: sc}, nil
	case sc.P2 > sc.P1:
		return Outcome{Winners: side2, Losers: side1, Scores: sc}, nil
	}
	return Outcome{}, ErrTiedScores
}
