package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"mugen-arena/server/battle"
	"mugen-arena/server/config"
	"mugen-arena/server/roster"
	"mugen-arena/server/stats"
	"mugen-arena/server/store"
	"mugen-arena/server/supervisor"
	"mugen-arena/server/tournament"
	"mugen-arena/server/watcher"
)

//
// ===== bootstrap =====
//

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func atoiDef(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
func floatDef(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
func asBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

var stopFlag atomic.Bool

var errStopped = errors.New("stop requested")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var migrate, battles, tourney bool
	for _, a := range os.Args[1:] {
		switch a {
		case "--migrate":
			migrate = true
		case "--battle":
			battles = true
		case "--tournament":
			tourney = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	gracefulOnly := !asBool(os.Getenv("STOP_IMMEDIATE"))
	maxSeconds := atoiDef(os.Getenv("MAX_SECONDS"), 0)
	stopFile := os.Getenv("STOP_FILE")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)

	var deadline time.Time
	if maxSeconds > 0 {
		deadline = time.Now().Add(time.Duration(maxSeconds) * time.Second)
	}
	checkStop := func() bool {
		select {
		case <-ctx.Done():
			stopFlag.Store(true)
		default:
		}
		if stopFlag.Load() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			stopFlag.Store(true)
			return true
		}
		if stopFile != "" {
			if _, err := os.Stat(stopFile); err == nil {
				stopFlag.Store(true)
				return true
			}
		}
		return false
	}

	if migrate {
		if cfg.DatabaseURL == "" {
			log.Fatal("Missing DATABASE_URL. Put it in .env (dev) or set it on the host (prod).")
		}
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close(context.Background())
		if err := store.Migrate(context.Background(), db); err != nil {
			log.Fatal(err)
		}
		log.Println("migrated")
		return
	}

	st := stats.Load(cfg.StatsFile)

	// DB optional: battles archive when configured, run fine without.
	var db *store.DB
	if cfg.DatabaseURL != "" {
		p, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Printf("DB disabled (open failed): %v", err)
		} else {
			db = p
			defer db.Close(context.Background())
			if asBool(os.Getenv("AUTO_MIGRATE")) {
				if err := store.Migrate(context.Background(), db); err != nil {
					log.Printf("migrate failed (continuing without DB): %v", err)
					db = nil
				}
			}
		}
	}

	if battles || tourney {
		a, err := newArena(cfg, st, db, gracefulOnly)
		if err != nil {
			log.Fatal(err)
		}
		if tourney {
			runTournament(ctx, a, checkStop)
		} else {
			runBattles(ctx, a, checkStop)
		}
		return
	}

	// server (snapshot API)
	r := Router(st, cfg)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second}
	log.Printf("listening on http://localhost:%s (Ctrl+C to stop)", cfg.Port)
	log.Fatal(srv.ListenAndServe())
}

func watchSignals(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	stopFlag.Store(true)
	cancel()
}

//
// ===== battle driving =====
//

// arena bundles the collaborators one battle needs: the enabled roster, the
// supervisor, the result reader, and the stores.
type arena struct {
	cfg          config.Config
	st           *stats.Store
	db           *store.DB
	sup          *supervisor.Supervisor
	reader       *watcher.Reader
	combatants   []string
	arenas       []string
	gracefulOnly bool
}

func newArena(cfg config.Config, st *stats.Store, db *store.DB, gracefulOnly bool) (*arena, error) {
	combatants, err := roster.Combatants(cfg.CharsDir)
	if err != nil {
		return nil, err
	}
	arenas, err := roster.Arenas(cfg.StagesDir)
	if err != nil {
		return nil, err
	}
	reader := watcher.NewReader(cfg.ResultLog, cfg.RemoveRetries, cfg.RemoveDelay)
	return &arena{
		cfg:          cfg,
		st:           st,
		db:           db,
		sup:          supervisor.New(cfg, reader),
		reader:       reader,
		combatants:   config.Enabled(combatants, cfg.Roster.Combatants.Disabled),
		arenas:       config.Enabled(arenas, cfg.Roster.Arenas.Disabled),
		gracefulOnly: gracefulOnly,
	}, nil
}

// engineLauncher adapts the supervisor to the session's Launcher interface.
type engineLauncher struct{ sup *supervisor.Supervisor }

func (l engineLauncher) Launch(ctx context.Context, spec battle.Spec) (battle.Handle, error) {
	h, err := l.sup.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func sideLabel(names []string) string { return strings.Join(names, "/") }

func specLabel(spec battle.Spec) string {
	side1, side2 := spec.Sides()
	return sideLabel(side1) + " vs " + sideLabel(side2) + " on " + spec.Arena
}

// runSession drives one battle from spec to outcome, polling at the
// configured interval. A stop request with STOP_IMMEDIATE set cancels the
// session mid-fight; otherwise the current battle is allowed to finish.
func (a *arena) runSession(ctx context.Context, spec battle.Spec, tid *uuid.UUID, round *int, checkStop func() bool) (*battle.Outcome, error) {
	s := battle.NewSession(engineLauncher{a.sup}, a.reader, a.st)
	if err := s.PrepareSpec(spec); err != nil {
		return nil, err
	}
	log.Printf("battle %s: %s", s.ID, specLabel(spec))
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if checkStop != nil && checkStop() && !a.gracefulOnly {
			s.Cancel()
			return nil, errStopped
		}
		out, err := s.Poll()
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		log.Printf("battle %s: %s beats %s (%d-%d)", s.ID,
			sideLabel(out.Winners), sideLabel(out.Losers), out.Scores.P1, out.Scores.P2)
		a.archive(ctx, s, out, tid, round)
		return out, nil
	}
}

// archive records the battle in Postgres when configured. Any failure
// disables the archive for the rest of the run; the battle itself stands.
func (a *arena) archive(ctx context.Context, s *battle.Session, out *battle.Outcome, tid *uuid.UUID, round *int) {
	if a.db == nil {
		return
	}
	mode := "single"
	if _, ok := s.Spec().Mode.(battle.Team); ok {
		mode = "team"
	}
	winScore, loseScore := out.Scores.P1, out.Scores.P2
	if loseScore > winScore {
		winScore, loseScore = loseScore, winScore
	}
	rec := store.BattleRecord{
		SessionID:    s.ID,
		Mode:         mode,
		Winners:      out.Winners,
		Losers:       out.Losers,
		ScoreWinner:  winScore,
		ScoreLoser:   loseScore,
		Arena:        s.Spec().Arena,
		Duration:     time.Since(s.StartedAt()),
		TournamentID: tid,
		Round:        round,
		FoughtAt:     s.StartedAt(),
	}
	if err := a.db.InsertBattle(ctx, rec); err != nil {
		log.Printf("archive failed (disabling DB for this run): %v", err)
		a.db = nil
	}
}

// runBattles plays BATTLES consecutive random battles (0 = until stopped),
// persisting statistics after each.
func runBattles(ctx context.Context, a *arena, checkStop func() bool) {
	n := atoiDef(os.Getenv("BATTLES"), 0)
	teamChance := floatDef(os.Getenv("TEAM_CHANCE"), 0.25)
	policy := battle.NewPolicy(a.combatants, a.arenas, a.cfg.Rounds, a.cfg.MaxTeamSize, teamChance, 0)

	for i := 0; n == 0 || i < n; i++ {
		if checkStop() {
			log.Println("stop requested; ending battle loop")
			return
		}
		spec, err := policy.Pick()
		if err != nil {
			log.Printf("battle loop: %v", err)
			return
		}
		if _, err := a.runSession(ctx, spec, nil, nil, checkStop); err != nil {
			switch {
			case errors.Is(err, errStopped), errors.Is(err, context.Canceled):
				return
			case errors.Is(err, battle.ErrTiedScores):
				log.Println("tied battle discarded")
			default:
				log.Printf("battle failed: %v", err)
				if errors.Is(err, battle.ErrLaunch) {
					// Broken engine setup will not fix itself mid-loop.
					return
				}
			}
		}
	}
}

// matchRunner plays one bracket match per call.
type matchRunner struct {
	a         *arena
	tid       uuid.UUID
	checkStop func() bool
}

func (r *matchRunner) RunMatch(ctx context.Context, m *tournament.Match) (string, error) {
	if r.checkStop() {
		return "", errStopped
	}
	spec := battle.Spec{
		Mode:   battle.Single{P1: m.A, P2: m.B},
		Arena:  m.Arena,
		Rounds: r.a.cfg.Rounds,
	}
	round := m.Round
	out, err := r.a.runSession(ctx, spec, &r.tid, &round, r.checkStop)
	if err != nil {
		return "", err
	}
	return out.Winners[0], nil
}

// runTournament builds a single-elimination bracket over every enabled
// combatant and plays it to a champion.
func runTournament(ctx context.Context, a *arena, checkStop func() bool) {
	b, err := tournament.New(a.combatants, a.arenas, 0)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("tournament %s: %d entrants, %d round-0 matches",
		b.ID, len(a.combatants), len(b.Rounds[0]))
	if a.db != nil {
		if err := a.db.InsertTournament(ctx, b.ID, len(a.combatants), time.Now()); err != nil {
			log.Printf("archive failed (disabling DB for this run): %v", err)
			a.db = nil
		}
	}

	champion, err := b.Run(ctx, &matchRunner{a: a, tid: b.ID, checkStop: checkStop})
	if err != nil {
		if errors.Is(err, errStopped) || errors.Is(err, context.Canceled) {
			log.Println("tournament stopped before a champion was decided")
			return
		}
		log.Fatalf("tournament: %v", err)
	}
	log.Printf("tournament %s: champion %s", b.ID, champion)
	if a.db != nil {
		if err := a.db.FinishTournament(ctx, b.ID, champion); err != nil {
			log.Printf("archive failed: %v", err)
		}
	}
}
