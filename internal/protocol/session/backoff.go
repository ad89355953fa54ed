package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay is the extra wait the handler worker adds to its interval
// after failures consecutive failed cycles (1-based). It grows by
// Multiplier up to MaxDelay; with Jitter it is scaled into [0.5, 1.5) of
// that, except after the first failure.
func NextBackoffDelay(cfg BackoffConfig, failures int, rng *rand.Rand) time.Duration {
	if failures <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	mult := math.Max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(failures-1))
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter {
		scale := 0.5
		if rng != nil {
			scale += rng.Float64()
		}
		delay *= scale
	}
	return time.Duration(delay)
}
