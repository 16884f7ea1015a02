package battle

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mugen-arena/server/stats"
	"mugen-arena/server/watcher"
)

// State is the session lifecycle. Transitions only move forward; Aborted is
// reachable from any non-terminal state.
type State int

const (
	Idle State = iota
	Preparing
	Running
	ResultPending
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Running:
		return "running"
	case ResultPending:
		return "result-pending"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Launcher starts the engine plus its watcher companion for one spec.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// Handle is a running engine process.
type Handle interface {
	// Running reports whether the engine is still in the process table.
	Running() bool
	// Stop terminates the engine and its companions.
	Stop() error
}

// ResultSource reads the terminal result channel without blocking the
// writer. watcher.Reader satisfies it.
type ResultSource interface {
	TryReadLatest() (watcher.Scores, bool, error)
	Remove() error
}

// Session runs one battle from spec to applied outcome.
type Session struct {
	ID uuid.UUID

	launcher Launcher
	results  ResultSource
	store    *stats.Store

	state     State
	spec      Spec
	handle    Handle
	startedAt time.Time

	// processed guards outcome application: the stats update happens at
	// most once even if Poll observes the same terminal result twice.
	processed atomic.Bool
	outcome   *Outcome
}

// NewSession builds an idle session.
func NewSession(launcher Launcher, results ResultSource, store *stats.Store) *Session {
	return &Session{
		ID:       uuid.New(),
		launcher: launcher,
		results:  results,
		store:    store,
		state:    Idle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Spec returns the prepared spec.
func (s *Session) Spec() Spec { return s.spec }

// Outcome returns the applied outcome, nil before completion.
func (s *Session) Outcome() *Outcome { return s.outcome }

// StartedAt is the launch time, zero before Start.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Prepare draws a random spec from the policy and arms the session.
func (s *Session) Prepare(policy *Policy) (Spec, error) {
	spec, err := policy.Pick()
	if err != nil {
		return Spec{}, err
	}
	if err := s.PrepareSpec(spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// PrepareSpec arms the session with an externally built spec, as the
// tournament scheduler does.
func (s *Session) PrepareSpec(spec Spec) error {
	if s.state != Idle {
		return fmt.Errorf("battle: prepare in state %s", s.state)
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	s.spec = spec
	s.state = Preparing
	return nil
}

// Start launches the engine for the prepared spec. A launch failure aborts
// the session; nothing is recorded.
func (s *Session) Start(ctx context.Context) error {
	if s.state != Preparing {
		return fmt.Errorf("battle: start in state %s", s.state)
	}
	h, err := s.launcher.Launch(ctx, s.spec)
	if err != nil {
		s.state = Aborted
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	s.handle = h
	s.startedAt = time.Now()
	s.state = Running
	return nil
}

// Poll advances the session one observation. It returns (nil, nil) while the
// battle is still in progress, the applied outcome once terminal, or an
// error when the session aborts. Safe to call repeatedly after completion.
func (s *Session) Poll() (*Outcome, error) {
	switch s.state {
	case Completed:
		return s.outcome, nil
	case Running, ResultPending:
	default:
		return nil, fmt.Errorf("battle: poll in state %s", s.state)
	}

	sc, ok, err := s.results.TryReadLatest()
	if err != nil {
		log.Printf("battle %s: result read: %v", s.ID, err)
		ok = false
	}
	if ok {
		return s.complete(sc)
	}

	if s.handle.Running() {
		// Engine alive, no result yet. Next Poll tries again.
		return nil, nil
	}

	if s.state == Running {
		// Engine gone before a result was seen. The watcher may still be
		// flushing the final line; take one more look before giving up.
		s.state = ResultPending
		return nil, nil
	}

	s.abortCleanup()
	return nil, ErrNoResult
}

// complete applies the outcome exactly once and tears down the battle.
func (s *Session) complete(sc watcher.Scores) (*Outcome, error) {
	if !s.processed.CompareAndSwap(false, true) {
		return s.outcome, nil
	}

	out, err := deriveOutcome(s.spec, sc)
	if err != nil {
		s.abortCleanup()
		return nil, err
	}

	elapsed := time.Since(s.startedAt)
	for _, w := range out.Winners {
		for _, l := range out.Losers {
			s.store.RecordOutcome(w, l, sc.P1, sc.P2)
		}
	}
	s.store.RecordArenaUse(s.spec.Arena, time.Now(), elapsed)
	if err := s.store.Save(); err != nil {
		// Persistence failure never voids an already-fought battle.
		log.Printf("battle %s: stats save: %v", s.ID, err)
	}

	s.teardown()
	s.outcome = &out
	s.state = Completed
	return s.outcome, nil
}

// Cancel aborts a session from any non-terminal state. No statistics are
// touched.
func (s *Session) Cancel() {
	if s.state == Completed || s.state == Aborted {
		return
	}
	s.processed.Store(true)
	s.abortCleanup()
}

func (s *Session) abortCleanup() {
	s.teardown()
	s.state = Aborted
}

func (s *Session) teardown() {
	if s.handle != nil {
		if err := s.handle.Stop(); err != nil {
			log.Printf("battle %s: stop: %v", s.ID, err)
		}
	}
	if err := s.results.Remove(); err != nil {
		log.Printf("battle %s: result cleanup: %v", s.ID, err)
	}
}
