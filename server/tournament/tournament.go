// Package tournament schedules a single-elimination bracket over a pool of
// combatants: pad to a power of two, resolve byes for free, drive one battle
// per real match, and advance rounds until a single winner stands.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"mugen-arena/server/battle"
)

var (
	// ErrPoolTooSmall means fewer than two entrants were supplied.
	ErrPoolTooSmall = errors.New("tournament: need at least two entrants")
	// ErrNoArenas means there is nowhere to fight.
	ErrNoArenas = errors.New("tournament: no arenas")
)

// Match is one bracket slot pairing. B is empty for a bye, in which case the
// match is born completed with A as winner. A completed match is never
// mutated again.
type Match struct {
	Round     int
	Slot      int
	A         string
	B         string
	Winner    string
	Completed bool
	Arena     string
}

// Bye reports whether the match has only one real participant.
func (m *Match) Bye() bool { return m.B == "" }

// Bracket is the full tournament state. Rounds are built lazily: round r+1
// exists only once every match of round r is completed.
type Bracket struct {
	ID     uuid.UUID
	Rounds [][]*Match

	arenas  []string
	current int
	rng     *rand.Rand
}

// New builds round zero from a pool of distinct entrants. The pool is padded
// to the next power of two with byes, the real entrants shuffled, and slot i
// paired against slot size-1-i so the bye tail lands opposite real entrants
// instead of other byes.
func New(pool, arenas []string, seed int64) (*Bracket, error) {
	if len(pool) < 2 {
		return nil, ErrPoolTooSmall
	}
	if len(arenas) == 0 {
		return nil, ErrNoArenas
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	b := &Bracket{
		ID:     uuid.New(),
		arenas: arenas,
		rng:    rand.New(rand.NewSource(seed)),
	}

	size := 1
	for size < len(pool) {
		size *= 2
	}
	slots := make([]string, size)
	for i, j := range b.rng.Perm(len(pool)) {
		slots[i] = pool[j]
	}

	round := make([]*Match, 0, size/2)
	for i := 0; i < size/2; i++ {
		round = append(round, b.newMatch(0, i, slots[i], slots[size-1-i]))
	}
	b.Rounds = append(b.Rounds, round)
	return b, nil
}

func (b *Bracket) newMatch(round, slot int, a, bSide string) *Match {
	// A bye slot always sits on the B side.
	if a == "" {
		a, bSide = bSide, a
	}
	m := &Match{
		Round: round,
		Slot:  slot,
		A:     a,
		B:     bSide,
		Arena: b.arenas[b.rng.Intn(len(b.arenas))],
	}
	if m.Bye() {
		m.Winner = a
		m.Completed = true
	}
	return m
}

// NextMatch returns the first incomplete match of the current round,
// advancing rounds as they fill in. Nil means the tournament is over.
func (b *Bracket) NextMatch() *Match {
	for {
		for _, m := range b.Rounds[b.current] {
			if !m.Completed {
				return m
			}
		}
		if !b.CheckCurrent() {
			return nil
		}
	}
}

// CheckCurrent builds the successor round when the current round is fully
// complete. It returns false when there is nothing further to build, either
// because a match is still pending or because the final is done.
func (b *Bracket) CheckCurrent() bool {
	round := b.Rounds[b.current]
	var winners []string
	for _, m := range round {
		if !m.Completed {
			return false
		}
		winners = append(winners, m.Winner)
	}
	if len(winners) < 2 {
		return false
	}

	next := make([]*Match, 0, (len(winners)+1)/2)
	for i := 0; i+1 < len(winners); i += 2 {
		next = append(next, b.newMatch(b.current+1, i/2, winners[i], winners[i+1]))
	}
	if len(winners)%2 == 1 {
		// Cannot happen off a power-of-two round zero, but an odd winner
		// count must still resolve instead of dropping the leftover.
		next = append(next, b.newMatch(b.current+1, len(winners)/2, winners[len(winners)-1], ""))
	}
	b.Rounds = append(b.Rounds, next)
	b.current++
	return true
}

// Complete records a match winner. The winner must be a participant and the
// match must still be open.
func (b *Bracket) Complete(m *Match, winner string) error {
	if m.Completed {
		return fmt.Errorf("tournament: match %d/%d already completed", m.Round, m.Slot)
	}
	if winner != m.A && winner != m.B {
		return fmt.Errorf("tournament: %q did not fight in match %d/%d", winner, m.Round, m.Slot)
	}
	m.Winner = winner
	m.Completed = true
	return nil
}

// Done reports whether the final has been played.
func (b *Bracket) Done() bool {
	last := b.Rounds[len(b.Rounds)-1]
	return len(last) == 1 && last[0].Completed
}

// Winner returns the champion once the final is complete.
func (b *Bracket) Winner() (string, bool) {
	last := b.Rounds[len(b.Rounds)-1]
	if len(last) == 1 && last[0].Completed {
		return last[0].Winner, true
	}
	return "", false
}

// Runner plays one scheduled match to completion and reports the winner.
type Runner interface {
	RunMatch(ctx context.Context, m *Match) (string, error)
}

// Run drives the bracket to its champion. Tied results replay the same
// match; any other battle error aborts the tournament.
func (b *Bracket) Run(ctx context.Context, runner Runner) (string, error) {
	for {
		m := b.NextMatch()
		if m == nil {
			winner, ok := b.Winner()
			if !ok {
				return "", errors.New("tournament: bracket stalled without a winner")
			}
			return winner, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		winner, err := runner.RunMatch(ctx, m)
		if errors.Is(err, battle.ErrTiedScores) {
			log.Printf("tournament %s: match %d/%d tied, replaying", b.ID, m.Round, m.Slot)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("match %d/%d (%s vs %s): %w", m.Round, m.Slot, m.A, m.B, err)
		}
		if err := b.Complete(m, winner); err != nil {
			return "", err
		}
	}
}
