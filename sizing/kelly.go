// Package sizing converts an edge estimate into a capital fraction and a
// share quantity.
package sizing

import "math"

func validFraction(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// FromEdge returns the Kelly fraction f* = (w·b − (1−w)) / b, optionally
// halved, clamped to [0, cap]. Invalid inputs yield 0. A cap above 1 is
// treated as 1.
func FromEdge(winRate, payoffRatio, cap float64, half bool) float64 {
	if !validFraction(winRate) || !validFraction(payoffRatio) || !validFraction(cap) {
		return 0
	}
	if winRate < 0 || winRate > 1 || payoffRatio <= 0 || cap <= 0 {
		return 0
	}
	if cap > 1 {
		cap = 1
	}

	f := (winRate*payoffRatio - (1 - winRate)) / payoffRatio
	if half {
		f /= 2
	}
	return clamp(f, 0, cap)
}

// FromHistory estimates win rate and payoff from realized fractional
// returns and applies half-Kelly. Zero returns carry no information and
// are skipped.
func FromHistory(returns []float64, cap float64) float64 {
	var (
		wins, losses    int
		sumWin, sumLoss float64
	)
	for _, r := range returns {
		switch {
		case !validFraction(r), r == 0:
			continue
		case r > 0:
			wins++
			sumWin += r
		default:
			losses++
			sumLoss += -r
		}
	}

	n := wins + losses
	switch {
	case n == 0:
		return 0
	case losses == 0:
		return FromEdge(1, 1, cap, false)
	case wins == 0:
		return 0
	}

	w := float64(wins) / float64(n)
	b := (sumWin / float64(wins)) / (sumLoss / float64(losses))
	return FromEdge(w, b, cap, true)
}

// RR is the reward-to-risk ratio of a planned trade.
func RR(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
