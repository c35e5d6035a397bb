package risk

import "math"

// SafeDiv divides num by den with explicit rules for the degenerate cases:
// 0/0 is 0, and x/0 saturates to the signed infinity sentinel instead of
// relying on platform float behavior.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		switch {
		case num == 0:
			return 0
		case num > 0:
			return math.Inf(1)
		default:
			return math.Inf(-1)
		}
	}
	return num / den
}

// Clamp limits v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Annualize converts a per-period rate to an annualized rate given the number
// of periods per year (e.g. an 8-hour funding rate has 1095 periods).
func Annualize(ratePerPeriod, periodsPerYear float64) float64 {
	return ratePerPeriod * periodsPerYear
}
