package session

import "time"

// BackoffConfig shapes the delay a failing handler worker adds to its interval.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines stream timing.
type Config struct {
	// HandlerInterval is the default wait between worker cycles.
	HandlerInterval time.Duration
	// PollTimeout bounds the single read a worker cycle makes.
	PollTimeout time.Duration
	// FillTimeout bounds each read when a latest-receive drains the source.
	FillTimeout time.Duration
	// DefaultTimeout applies to receives made without a timeout.
	DefaultTimeout time.Duration
	// Backoff is added to the interval after consecutive failed cycles.
	Backoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		HandlerInterval: 500 * time.Millisecond,
		PollTimeout:     10 * time.Millisecond,
		FillTimeout:     10 * time.Millisecond,
		DefaultTimeout:  10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
