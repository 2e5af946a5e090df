package app

import (
	"math"
	"time"
)

// MaxScore is awarded for a correct answer given the instant the choices open.
const MaxScore = 1000

// Score rewards speed: a correct answer is worth MaxScore at zero elapsed time
// and falls linearly to 0 at the end of the answer window. Wrong answers score 0.
// A non-positive window disables the time penalty.
func Score(correct bool, elapsed, window time.Duration) int {
	if !correct {
		return 0
	}
	if window <= 0 {
		return MaxScore
	}
	frac := float64(elapsed) / float64(window)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return int(math.Round(MaxScore * (1 - frac)))
}
