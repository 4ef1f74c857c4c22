package opt

import (
	"math"
	"math/rand"
)

// temperatureFloor keeps the Metropolis exponent finite
const temperatureFloor = 1e-30

// metropolis decides whether a move changing the cost by delta is accepted at
// the given temperature. Improvements are always accepted. The comparison is
// done in log space, log(u) < -delta/T, so a tiny T cannot overflow.
func metropolis(delta, temperature float64, rng *rand.Rand) bool {
	if delta < 0 {
		return true
	}
	if temperature < temperatureFloor {
		temperature = temperatureFloor
	}
	// 1-Float64 is in (0,1], log never sees 0
	return math.Log(1-rng.Float64()) < -delta/temperature
}
