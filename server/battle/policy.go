package battle

import (
	"math/rand"
	"time"
)

const paletteSlots = 12

// Policy picks random battle specs out of the enabled roster. One policy is
// built per run from config and reused across battles; it is not safe for
// concurrent use.
type Policy struct {
	Combatants  []string
	Arenas      []string
	Rounds      int
	MaxTeamSize int
	// TeamChance in [0,1] is the probability a pick produces a team battle
	// when enough entrants exist. Zero means singles only.
	TeamChance float64

	rng *rand.Rand
}

// NewPolicy seeds a policy with the enabled roster. Passing seed 0 seeds
// from the clock.
func NewPolicy(combatants, arenas []string, rounds, maxTeamSize int, teamChance float64, seed int64) *Policy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Policy{
		Combatants:  combatants,
		Arenas:      arenas,
		Rounds:      rounds,
		MaxTeamSize: maxTeamSize,
		TeamChance:  teamChance,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Pick produces the next random spec. Singles need two distinct entrants;
// team battles sample each side's size independently in [2, MaxTeamSize]
// and draw all members without replacement.
func (p *Policy) Pick() (Spec, error) {
	if len(p.Combatants) == 0 || len(p.Arenas) == 0 {
		return Spec{}, ErrNoEligibleEntrants
	}
	if p.TeamChance > 0 && p.MaxTeamSize >= 2 && p.rng.Float64() < p.TeamChance {
		sizeA := 2 + p.rng.Intn(p.MaxTeamSize-1)
		sizeB := 2 + p.rng.Intn(p.MaxTeamSize-1)
		if spec, err := p.PickTeam(sizeA, sizeB); err == nil {
			return spec, nil
		}
		// Not enough entrants for the drawn sizes; fall back to a single.
	}
	return p.PickSingle()
}

// PickSingle draws a one-on-one spec.
func (p *Policy) PickSingle() (Spec, error) {
	if len(p.Combatants) == 0 || len(p.Arenas) == 0 {
		return Spec{}, ErrNoEligibleEntrants
	}
	if len(p.Combatants) < 2 {
		return Spec{}, ErrInsufficientParticipants
	}
	picks := p.sample(2)
	return p.finish(Single{P1: picks[0], P2: picks[1]}), nil
}

// PickTeam draws a team spec with the given side sizes.
func (p *Policy) PickTeam(sizeA, sizeB int) (Spec, error) {
	if len(p.Combatants) == 0 || len(p.Arenas) == 0 {
		return Spec{}, ErrNoEligibleEntrants
	}
	if sizeA < 1 || sizeB < 1 || len(p.Combatants) < sizeA+sizeB {
		return Spec{}, ErrInsufficientParticipants
	}
	picks := p.sample(sizeA + sizeB)
	return p.finish(Team{SideA: picks[:sizeA], SideB: picks[sizeA:]}), nil
}

func (p *Policy) finish(m Mode) Spec {
	return Spec{
		Mode:        m,
		Arena:       p.Arenas[p.rng.Intn(len(p.Arenas))],
		Rounds:      p.Rounds,
		ColorOffset: p.rng.Intn(paletteSlots),
	}
}

// sample draws n distinct combatants.
func (p *Policy) sample(n int) []string {
	idx := p.rng.Perm(len(p.Combatants))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = p.Combatants[j]
	}
	return out
}
