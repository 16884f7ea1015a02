package stats

import "math"

// Rating update applied alongside win/loss counters. Score margin tempers
// the K factor so a 2-0 sweep moves ratings more than a 2-1 squeaker.
const (
	eloStart = 1500.0
	eloK     = 24.0
)

func eloExpect(a, b float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (b-a)/400.0))
}

func updateElo(w, l *CombatantStats, margin int) {
	ew := eloExpect(w.Elo, l.Elo)
	k := eloK * marginScale(margin)
	d := k * (1.0 - ew)
	w.Elo += d
	l.Elo -= d
}

func marginScale(margin int) float64 {
	if margin < 0 {
		margin = -margin
	}
	return 1.0 + 0.35*math.Tanh(float64(margin)/4.0) // ≤ ~1.35
}
