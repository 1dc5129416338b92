package similarity

import "math"

// Scorer returns a lexical similarity in [0,1] for two strings.
type Scorer func(a, b string) float64

// DiceScore is the Sørensen–Dice coefficient over the word multisets of a and b.
// Either side having no words scores 0.
func DiceScore(a, b string) float64 {
	return dice(Tokens(a), Tokens(b))
}

func dice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, w := range a {
		counts[w]++
	}
	shared := 0
	for _, w := range b {
		if counts[w] > 0 {
			counts[w]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// Percent converts a score in [0,1] to an integer percentage, rounding half up.
func Percent(score float64) int {
	// The epsilon absorbs float error such as 0.285*100 = 28.499999.
	p := int(math.Floor(score*100 + 0.5 + 1e-9))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
