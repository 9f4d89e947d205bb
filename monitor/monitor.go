// Package monitor keeps a credential fresh by re-checking its expiry on
// a fixed interval and refreshing it once it falls inside the padding
// window.
//
// The poll re-arms itself only after each check completes, so checks
// within one monitor never overlap. Every arm carries a generation
// number; Stop and Start bump it, which turns any timer or in-flight
// refresh from an earlier generation into a no-op.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval      = 5 * time.Minute
	DefaultPaddingOffset = 500 * time.Millisecond
)

// State is where the monitor is in its refresh cycle.
type State int

const (
	Idle State = iota
	Scheduled
	Refreshing
	Expired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Refreshing:
		return "refreshing"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Refresher is what the monitor keeps fresh.
type Refresher interface {
	// ExpiresAt returns the current token expiry, false when there is
	// no credential.
	ExpiresAt() (time.Time, bool)

	// Refresh replaces the credential. Any error ends the session.
	Refresh(ctx context.Context) error
}

// Monitor refreshes a credential before it expires.
type Monitor struct {
	refresher     Refresher
	clock         clock.Clock
	interval      time.Duration
	paddingOffset time.Duration
	onExpired     func(error)
	logger        zerolog.Logger

	mu            sync.Mutex
	state         State
	paused        bool
	generation    uint64
	timer         *clock.Timer
	cancelRefresh context.CancelFunc
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithPaddingOffset sets how much shorter than the interval the refresh
// padding is. The padding must still cover one interval of elapsed time
// plus the refresh round trip, so keep the offset small.
func WithPaddingOffset(d time.Duration) Option {
	return func(m *Monitor) {
		m.paddingOffset = d
	}
}

// WithOnExpired is called once for each Refreshing -> Expired transition,
// outside the monitor's lock.
func WithOnExpired(f func(error)) Option {
	return func(m *Monitor) {
		m.onExpired = f
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// New creates an Idle monitor for refresher.
func New(refresher Refresher, options ...Option) (*Monitor, error) {
	if refresher == nil {
		return nil, fmt.Errorf("[monitor.New] refresher is required")
	}

	m := &Monitor{
		refresher:     refresher,
		clock:         clock.Real(),
		interval:      DefaultInterval,
		paddingOffset: DefaultPaddingOffset,
		onExpired:     func(error) {},
		logger:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}

	if m.interval <= 0 {
		return nil, fmt.Errorf("[monitor.New] interval must be positive, got %s", m.interval)
	}
	if m.paddingOffset < 0 || m.paddingOffset >= m.interval {
		return nil, fmt.Errorf("[monitor.New] padding offset %s must be in [0, %s)", m.paddingOffset, m.interval)
	}
	return m, nil
}

// Padding is how far ahead of now a check looks for expiry.
func (m *Monitor) Padding() time.Duration {
	return m.interval - m.paddingOffset
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Start (re)starts monitoring. It checks immediately on its own
// goroutine and that check arms the first interval. Anything from a
// previous generation, including an in-flight refresh, is abandoned.
func (m *Monitor) Start() {
	m.mu.Lock()
	gen := m.resetLocked()
	m.state = Scheduled
	paused := m.paused
	m.mu.Unlock()

	m.logger.Debug().Uint64("generation", gen).Msg("freshness monitor started")
	if !paused {
		go m.check(gen)
	}
}

// Stop cancels any pending check and returns to Idle. Safe to call any
// number of times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Idle && m.timer == nil && m.cancelRefresh == nil {
		return
	}
	m.resetLocked()
	m.state = Idle
	m.logger.Debug().Msg("freshness monitor stopped")
}

// Pause suspends checks without touching the credential. A refresh
// already in flight is allowed to finish but will not re-arm.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.paused = true
	m.stopTimerLocked()
}

// Resume lifts a Pause and checks freshness straight away to catch up
// on time spent hidden.
func (m *Monitor) Resume() {
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = false
	if m.state != Scheduled {
		// Idle and Expired have nothing to check; Refreshing re-arms
		// itself when the call returns.
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	go m.check(gen)
}

// CheckNow runs a freshness check in the calling goroutine. It is a
// no-op unless the monitor is Scheduled and not paused.
func (m *Monitor) CheckNow() {
	m.mu.Lock()
	if m.state != Scheduled || m.paused {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	m.check(gen)
}

func (m *Monitor) check(gen uint64) {
	if !m.current(gen) {
		return
	}

	// The refresher is called without m.mu held: it takes its own locks
	// and may call back into Stop.
	expiresAt, ok := m.refresher.ExpiresAt()
	if !ok {
		m.mu.Lock()
		if m.isCurrentLocked(gen) {
			m.stopTimerLocked()
			m.state = Idle
		}
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	if expiresAt.After(now.Add(m.Padding())) {
		m.mu.Lock()
		if m.isCurrentLocked(gen) {
			m.armLocked(gen)
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if !m.isCurrentLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.state = Refreshing
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelRefresh = cancel
	m.mu.Unlock()

	m.logger.Info().Time("expires_at", expiresAt).Msg("refreshing token")
	err := m.refresher.Refresh(ctx)

	m.mu.Lock()
	if gen != m.generation {
		// Stopped or restarted while the call was in flight.
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancelRefresh = nil
	cancel()

	if err != nil {
		m.state = Expired
		onExpired := m.onExpired
		m.mu.Unlock()

		m.logger.Warn().Err(err).Msg("token refresh failed, session expired")
		onExpired(err)
		return
	}

	m.state = Scheduled
	if !m.paused {
		m.armLocked(gen)
	}
	m.mu.Unlock()
}

func (m *Monitor) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isCurrentLocked(gen)
}

func (m *Monitor) isCurrentLocked(gen uint64) bool {
	return gen == m.generation && m.state == Scheduled && !m.paused
}

func (m *Monitor) armLocked(gen uint64) {
	m.stopTimerLocked()
	m.timer = m.clock.AfterFunc(m.interval, func() { m.check(gen) })
}

func (m *Monitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// resetLocked abandons the current generation and returns the new one.
func (m *Monitor) resetLocked() uint64 {
	m.stopTimerLocked()
	if m.cancelRefresh != nil {
		m.cancelRefresh()
		m.cancelRefresh = nil
	}
	m.generation++
	return m.generation
}
