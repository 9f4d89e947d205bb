package config

import "time"

const (
	defaultCheckInterval = 5 * time.Minute
	defaultPaddingOffset = 500 * time.Millisecond
	defaultReplyTimeout  = time.Second
)

type MonitorConfig interface {
	GetCheckInterval() time.Duration
	GetPaddingOffset() time.Duration
	GetReplyTimeout() time.Duration
}

type Monitor struct {
	CheckInterval time.Duration `env:"CHECK_INTERVAL" toml:"check_interval"`

	// Subtracted from CheckInterval to get the refresh padding.
	PaddingOffset time.Duration `env:"PADDING_OFFSET" toml:"padding_offset"`

	// How long a new tab waits for siblings to answer requesting_auth.
	ReplyTimeout time.Duration `env:"REPLY_TIMEOUT" toml:"reply_timeout"`
}

var _ MonitorConfig = Monitor{}

func (m Monitor) GetCheckInterval() time.Duration {
	return m.CheckInterval
}

func (m Monitor) GetPaddingOffset() time.Duration {
	return m.PaddingOffset
}

func (m Monitor) GetReplyTimeout() time.Duration {
	return m.ReplyTimeout
}
