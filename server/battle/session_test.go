package battle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"mugen-arena/server/stats"
	"mugen-arena/server/watcher"
)

type fakeHandle struct {
	running bool
	stopped int
}

func (h *fakeHandle) Running() bool { return h.running }
func (h *fakeHandle) Stop() error   { h.stopped++; h.running = false; return nil }

type fakeLauncher struct {
	handle *fakeHandle
	err    error
	calls  int
}

func (l *fakeLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.handle, nil
}

type fakeResults struct {
	scores  watcher.Scores
	ok      bool
	err     error
	removed int
}

func (r *fakeResults) TryReadLatest() (watcher.Scores, bool, error) {
	return r.scores, r.ok, r.err
}

func (r *fakeResults) Remove() error { r.removed++; return nil }

func testStore(t *testing.T) *stats.Store {
	t.Helper()
	return stats.New(filepath.Join(t.TempDir(), "stats.json"))
}

func singleSpec() Spec {
	return Spec{Mode: Single{P1: "kfm", P2: "suave"}, Arena: "stage0", Rounds: 2}
}

func TestSessionCompletesAndRecords(t *testing.T) {
	handle := &fakeHandle{running: true}
	launcher := &fakeLauncher{handle: handle}
	results := &fakeResults{}
	store := testStore(t)
	s := NewSession(launcher, results, store)

	if err := s.PrepareSpec(singleSpec()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if out, err := s.Poll(); err != nil || out != nil {
		t.Fatalf("mid-battle poll = (%v, %v), want (nil, nil)", out, err)
	}

	results.scores, results.ok = watcher.Scores{P1: 2, P2: 1}, true
	out, err := s.Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if out == nil || out.Winners[0] != "kfm" || out.Losers[0] != "suave" {
		t.Fatalf("outcome = %+v", out)
	}
	if s.State() != Completed {
		t.Fatalf("state = %s, want completed", s.State())
	}
	cs, okStat := store.Combatant("kfm")
	if !okStat || cs.Wins != 1 {
		t.Fatalf("kfm stats = %+v", cs)
	}
	if handle.stopped == 0 || results.removed == 0 {
		t.Fatalf("teardown not run: stops=%d removes=%d", handle.stopped, results.removed)
	}
}

func TestSessionOutcomeAppliedOnce(t *testing.T) {
	handle := &fakeHandle{running: true}
	results := &fakeResults{scores: watcher.Scores{P1: 2, P2: 0}, ok: true}
	store := testStore(t)
	s := NewSession(&fakeLauncher{handle: handle}, results, store)

	if err := s.PrepareSpec(singleSpec()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := s.Poll()
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	second, err := s.Poll()
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if first != second {
		t.Fatalf("second poll returned a different outcome")
	}
	cs, _ := store.Combatant("kfm")
	if cs.Wins != 1 {
		t.Fatalf("wins = %d, want 1 after repeated polls", cs.Wins)
	}
}

func TestSessionTeamCrossProduct(t *testing.T) {
	handle := &fakeHandle{running: true}
	results := &fakeResults{scores: watcher.Scores{P1: 0, P2: 2}, ok: true}
	store := testStore(t)
	s := NewSession(&fakeLauncher{handle: handle}, results, store)

	spec := Spec{
		Mode:   Team{SideA: []string{"a1", "a2"}, SideB: []string{"b1", "b2", "b3"}},
		Arena:  "stage0",
		Rounds: 2,
	}
	if err := s.PrepareSpec(spec); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := s.Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(out.Winners) != 3 || out.Winners[0] != "b1" {
		t.Fatalf("winners = %v", out.Winners)
	}
	// Each winner beat each loser.
	for _, w := range []string{"b1", "b2", "b3"} {
		cs, ok := store.Combatant(w)
		if !ok || cs.Wins != 2 {
			t.Fatalf("%s wins = %d, want 2", w, cs.Wins)
		}
	}
	for _, l := range []string{"a1", "a2"} {
		cs, ok := store.Combatant(l)
		if !ok || cs.Losses != 3 {
			t.Fatalf("%s losses = %d, want 3", l, cs.Losses)
		}
	}
}

func TestSessionLaunchFailureAborts(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("exec format error")}
	results := &fakeResults{}
	store := testStore(t)
	s := NewSession(launcher, results, store)

	if err := s.PrepareSpec(singleSpec()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	err := s.Start(context.Background())
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("start error = %v, want ErrLaunch", err)
	}
	if s.State() != Aborted {
		t.Fatalf("state = %s, want aborted", s.State())
	}
	if len(store.Combatants()) != 0 {
		t.Fatalf("stats recorded after aborted launch")
	}
}

func TestSessionTieAborts(t *testing.T) {
	handle := &fakeHandle{running: true}
	results := &fakeResults{scores: watcher.Scores{P1: 1, P2: 1}, ok: true}
	store := testStore(t)
	s := NewSession(&fakeLauncher{handle: handle}, results, store)

	if err := s.PrepareSpec(singleSpec()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := s.Poll()
	if !errors.Is(err, ErrTiedScores) {
		t.Fatalf("poll error = %v, want ErrTiedScores", err)
	}
	if s.State() != Aborted {
		t.Fatalf("state = %s, want aborted", s.State())
	}
	if len(store.Combatants()) != 0 {
		t.Fatalf("stats recorded for a tie")
	}
}

func TestSessionEngineDeathWithoutResult(t *testing.T) {
	handle := &fakeHandle{running: false}
	results := &fakeResults{}
	store := testStore(t)
	s := NewSession(&fakeLauncher{handle: handle}, results, store)

	if err := s.PrepareSpec(singleSpec()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// First poll sees the dead engine and waits for a final flush.
	if out, err := s.Poll(); err != nil || out != nil {
		t.Fatalf("first poll = (%v, %v), want (nil, nil)", out, err)
	}
	if s.State() != ResultPending {
		t.Fatalf("state = %s, want result-pending", s.State())
	}
	_, err := s.Poll()
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("second poll error = %v, want ErrNoResult", err)
	}
	if s.State() != Aborted {
		t.Fatalf("state = %s, want aborted", s.State())
	}
}

func TestSessionCancel(t *testing.T) {
	handle := &fakeHandle{running: true}
	results := &fakeResults{}
	store := testStore(t)
	s := NewSession(&fakeLauncher{handle: handle}, results, store)

	if err := s.PrepareSpec(singleSpec()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Cancel()
	if s.State() != Aborted {
		t.Fatalf("state = %s, want aborted", s.State())
	}
	if handle.stopped == 0 {
		t.Fatalf("engine not stopped on cancel")
	}
	if len(store.Combatants()) != 0 {
		t.Fatalf("stats recorded on cancel")
	}
}

func TestPrepareSpecRejectsDuplicates(t *testing.T) {
	s := NewSession(&fakeLauncher{}, &fakeResults{}, testStore(t))
	spec := Spec{Mode: Single{P1: "kfm", P2: "kfm"}, Arena: "stage0", Rounds: 2}
	if err := s.PrepareSpec(spec); !errors.Is(err, ErrInsufficientParticipants) {
		t.Fatalf("err = %v, want ErrInsufficientParticipants", err)
	}
}

func TestPolicyErrors(t *testing.T) {
	p := NewPolicy(nil, []string{"stage0"}, 2, 4, 0, 1)
	if _, err := p.PickSingle(); !errors.Is(err, ErrNoEligibleEntrants) {
		t.Fatalf("empty combatants: %v", err)
	}
	p = NewPolicy([]string{"kfm"}, []string{"stage0"}, 2, 4, 0, 1)
	if _, err := p.PickSingle(); !errors.Is(err, ErrInsufficientParticipants) {
		t.Fatalf("one combatant: %v", err)
	}
	p = NewPolicy([]string{"a", "b", "c"}, []string{"stage0"}, 2, 4, 0, 1)
	if _, err := p.PickTeam(2, 2); !errors.Is(err, ErrInsufficientParticipants) {
		t.Fatalf("undersized team pool: %v", err)
	}
}

func TestPolicyPickDistinct(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f"}
	p := NewPolicy(names, []string{"stage0", "stage1"}, 2, 3, 0, 42)
	for i := 0; i < 50; i++ {
		spec, err := p.PickSingle()
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		m := spec.Mode.(Single)
		if m.P1 == m.P2 {
			t.Fatalf("pick %d drew %s against itself", i, m.P1)
		}
		if spec.ColorOffset < 0 || spec.ColorOffset >= 12 {
			t.Fatalf("pick %d color offset %d out of range", i, spec.ColorOffset)
		}
	}
	spec, err := p.PickTeam(2, 3)
	if err != nil {
		t.Fatalf("team pick: %v", err)
	}
	tm := spec.Mode.(Team)
	if len(tm.SideA) != 2 || len(tm.SideB) != 3 {
		t.Fatalf("team sizes = %d/%d", len(tm.SideA), len(tm.SideB))
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("team spec invalid: %v", err)
	}
}
