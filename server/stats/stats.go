// Package stats owns the durable win/loss record for combatants and the
// usage counters for arenas. One store instance backs one battle pipeline;
// only the battle session's outcome application mutates it.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"
)

// maxRecentDurations bounds the rolling ring of battle durations.
const maxRecentDurations = 1000

const neverUsed = "Never"

// timeLayout matches the human-readable stamp the stats file has always used.
const timeLayout = "2006-01-02 15:04:05"

// ErrPersistence wraps any failure to write the stats file durably. The
// caller logs it and keeps running; the prior on-disk version is restored.
var ErrPersistence = errors.New("stats: persistence failed")

type Matchup struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

type CombatantStats struct {
	Wins         int                `json:"wins"`
	Losses       int                `json:"losses"`
	Elo          float64            `json:"elo"`
	Matchups     map[string]Matchup `json:"matchups"`
	MostDefeated map[string]int     `json:"mostDefeated"`
	MostLostTo   map[string]int     `json:"mostLostTo"`
}

type ArenaStats struct {
	TimesUsed     int     `json:"timesUsed"`
	LastUsed      string  `json:"lastUsed"`
	TotalDuration float64 `json:"totalDuration"`
}

// Store holds all counters in memory between saves.
type Store struct {
	path       string
	combatants map[string]*CombatantStats
	arenas     map[string]*ArenaStats
	durations  []float64
	lastSave   string
}

type fileFormat struct {
	CombatantStats  map[string]*CombatantStats `json:"combatantStats"`
	ArenaStats      map[string]*ArenaStats     `json:"arenaStats"`
	RecentDurations []float64                  `json:"recentDurations"`
	LastSave        string                     `json:"lastSave"`
}

// New returns an empty store that will persist to path.
func New(path string) *Store {
	return &Store{
		path:       path,
		combatants: map[string]*CombatantStats{},
		arenas:     map[string]*ArenaStats{},
	}
}

// Load reads the stats file at path, repairing missing or malformed fields
// to safe defaults. A missing file yields a fresh store. An unreadable main
// file falls back to the .bak copy; if both are unusable the store starts
// fresh rather than failing.
func Load(path string) *Store {
	s := New(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("stats: read %s: %v (trying backup)", path, err)
			raw, err = os.ReadFile(backupPath(path))
			if err != nil {
				return s
			}
		} else {
			return s
		}
	}
	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Printf("stats: malformed %s: %v (trying backup)", path, err)
		raw, berr := os.ReadFile(backupPath(path))
		if berr != nil || json.Unmarshal(raw, &f) != nil {
			return s
		}
	}
	s.applyFile(f)
	return s
}

func (s *Store) applyFile(f fileFormat) {
	if f.CombatantStats != nil {
		s.combatants = f.CombatantStats
	}
	if f.ArenaStats != nil {
		s.arenas = f.ArenaStats
	}
	for name, c := range s.combatants {
		if c == nil {
			s.combatants[name] = newCombatant()
			continue
		}
		repairCombatant(c)
	}
	for name, a := range s.arenas {
		if a == nil {
			s.arenas[name] = &ArenaStats{LastUsed: neverUsed}
			continue
		}
		if a.LastUsed == "" {
			a.LastUsed = neverUsed
		}
	}
	s.durations = f.RecentDurations
	if len(s.durations) > maxRecentDurations {
		s.durations = s.durations[len(s.durations)-maxRecentDurations:]
	}
	s.lastSave = f.LastSave
}

func newCombatant() *CombatantStats {
	return &CombatantStats{
		Elo:          eloStart,
		Matchups:     map[string]Matchup{},
		MostDefeated: map[string]int{},
		MostLostTo:   map[string]int{},
	}
}

func repairCombatant(c *CombatantStats) {
	if c.Matchups == nil {
		c.Matchups = map[string]Matchup{}
	}
	if c.MostDefeated == nil {
		c.MostDefeated = map[string]int{}
	}
	if c.MostLostTo == nil {
		c.MostLostTo = map[string]int{}
	}
	if c.Elo == 0 {
		c.Elo = eloStart
	}
}

func (s *Store) combatant(name string) *CombatantStats {
	c, ok := s.combatants[name]
	if !ok {
		c = newCombatant()
		s.combatants[name] = c
	}
	return c
}

func (s *Store) arena(name string) *ArenaStats {
	a, ok := s.arenas[name]
	if !ok {
		a = &ArenaStats{LastUsed: neverUsed}
		s.arenas[name] = a
	}
	return a
}

// RecordOutcome applies one winner/loser pair. Team battles call this once
// per cross-product pair. Scores feed the Elo margin scaling only.
func (s *Store) RecordOutcome(winner, loser string, winScore, loseScore int) {
	w := s.combatant(winner)
	l := s.combatant(loser)

	w.Wins++
	l.Losses++

	mw := w.Matchups[loser]
	mw.Wins++
	w.Matchups[loser] = mw

	ml := l.Matchups[winner]
	ml.Losses++
	l.Matchups[winner] = ml

	w.MostDefeated[loser]++
	l.MostLostTo[winner]++

	updateElo(w, l, winScore-loseScore)
}

// RecordArenaUse bumps the arena counters and appends the battle duration to
// the bounded ring.
func (s *Store) RecordArenaUse(name string, when time.Time, elapsed time.Duration) {
	a := s.arena(name)
	a.TimesUsed++
	a.LastUsed = when.Format(timeLayout)
	secs := elapsed.Seconds()
	a.TotalDuration += secs

	s.durations = append(s.durations, secs)
	if len(s.durations) > maxRecentDurations {
		s.durations = s.durations[len(s.durations)-maxRecentDurations:]
	}
}

// ResetAll drops every counter. Entries are never deleted individually.
func (s *Store) ResetAll() {
	s.combatants = map[string]*CombatantStats{}
	s.arenas = map[string]*ArenaStats{}
	s.durations = nil
}

// Save writes the store durably: back up the prior file, write a temp file,
// then rename over the target. On failure the backup is restored and the
// error (wrapping ErrPersistence) is returned for logging.
func (s *Store) Save() error {
	s.lastSave = time.Now().Format(timeLayout)
	f := fileFormat{
		CombatantStats:  s.combatants,
		ArenaStats:      s.arenas,
		RecentDurations: s.durations,
		LastSave:        s.lastSave,
	}
	blob, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}

	bak := backupPath(s.path)
	hadPrior := false
	if err := copyFile(s.path, bak); err == nil {
		hadPrior = true
	} else if !os.IsNotExist(err) {
		log.Printf("stats: backup %s: %v", bak, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		s.restoreBackup(hadPrior)
		return fmt.Errorf("%w: write temp: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		s.restoreBackup(hadPrior)
		return fmt.Errorf("%w: rename: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) restoreBackup(hadPrior bool) {
	if !hadPrior {
		return
	}
	if err := copyFile(backupPath(s.path), s.path); err != nil {
		log.Printf("stats: restore backup: %v", err)
	}
}

func backupPath(path string) string { return path + ".bak" }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Combatant returns a snapshot of one combatant's counters.
func (s *Store) Combatant(name string) (CombatantStats, bool) {
	c, ok := s.combatants[name]
	if !ok {
		return CombatantStats{}, false
	}
	return cloneCombatant(c), true
}

// Combatants returns a snapshot of every combatant's counters.
func (s *Store) Combatants() map[string]CombatantStats {
	out := make(map[string]CombatantStats, len(s.combatants))
	for name, c := range s.combatants {
		out[name] = cloneCombatant(c)
	}
	return out
}

// Arenas returns a snapshot of every arena's counters.
func (s *Store) Arenas() map[string]ArenaStats {
	out := make(map[string]ArenaStats, len(s.arenas))
	for name, a := range s.arenas {
		out[name] = *a
	}
	return out
}

// RecentDurations returns a copy of the rolling duration ring, oldest first.
func (s *Store) RecentDurations() []float64 {
	out := make([]float64, len(s.durations))
	copy(out, s.durations)
	return out
}

// LastSave reports the stamp of the most recent successful save ("" if none).
func (s *Store) LastSave() string { return s.lastSave }

// MostDefeated reports the opponent this combatant has beaten most often.
func (s *Store) MostDefeated(name string) (string, int) {
	c, ok := s.combatants[name]
	if !ok {
		return "", 0
	}
	return argmax(c.MostDefeated)
}

// MostLostTo reports the opponent this combatant has lost to most often.
func (s *Store) MostLostTo(name string) (string, int) {
	c, ok := s.combatants[name]
	if !ok {
		return "", 0
	}
	return argmax(c.MostLostTo)
}

func argmax(m map[string]int) (string, int) {
	best, bestN := "", 0
	for k, n := range m {
		if n > bestN || (n == bestN && best != "" && k < best) {
			best, bestN = k, n
		}
	}
	return best, bestN
}

// LeaderboardEntry is one row of the Elo-ordered standings.
type LeaderboardEntry struct {
	Name   string  `json:"name"`
	Elo    float64 `json:"elo"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
}

// Leaderboard returns combatants ordered by Elo, then wins, then name.
func (s *Store) Leaderboard() []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(s.combatants))
	for name, c := range s.combatants {
		out = append(out, LeaderboardEntry{Name: name, Elo: c.Elo, Wins: c.Wins, Losses: c.Losses})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Elo != out[j].Elo {
			return out[i].Elo > out[j].Elo
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func cloneCombatant(c *CombatantStats) CombatantStats {
	out := *c
	out.Matchups = make(map[string]Matchup, len(c.Matchups))
	for k, v := range c.Matchups {
		out.Matchups[k] = v
	}
	out.MostDefeated = make(map[string]int, len(c.MostDefeated))
	for k, v := range c.MostDefeated {
		out.MostDefeated[k] = v
	}
	out.MostLostTo = make(map[string]int, len(c.MostLostTo))
	for k, v := range c.MostLostTo {
		out.MostLostTo[k] = v
	}
	return out
}
