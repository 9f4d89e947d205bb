package session

import (
	"time"

	"github.com/jrsteele09/go-auth-session/internal/clock"
	"github.com/rs/zerolog"
)

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLocation supplies the current page path, captured when a session
// ends so the user can be returned to it after logging in again.
func WithLocation(location func() string) Option {
	return func(m *Manager) {
		m.location = location
	}
}

func WithEventHandler(handler EventHandler) Option {
	return func(m *Manager) {
		m.handler = handler
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.interval = d
	}
}

func WithPaddingOffset(d time.Duration) Option {
	return func(m *Manager) {
		m.paddingOffset = d
	}
}

func WithReplyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.replyTimeout = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithTabID(tabID string) Option {
	return func(m *Manager) {
		m.tabID = tabID
	}
}
