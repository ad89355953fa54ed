package config

import (
	"github.com/danmuck/rammbock/internal/library"
	"github.com/danmuck/rammbock/internal/protocol/frame"
	"github.com/danmuck/rammbock/internal/protocol/session"
)

func (c Config) Session() session.Config {
	cfg := session.DefaultConfig()
	cfg.HandlerInterval = c.HandlerInterval
	cfg.PollTimeout = c.PollTimeout
	cfg.FillTimeout = c.FillTimeout
	cfg.DefaultTimeout = c.DefaultTimeout
	cfg.Backoff.InitialDelay = c.ErrorBackoffInitial
	cfg.Backoff.MaxDelay = c.ErrorBackoffMax
	return cfg
}

func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}

func (c Config) Library() library.Config {
	return library.Config{Session: c.Session(), Limits: c.Limits()}
}
