// Package session composes the credential store, freshness monitor and
// cross-tab coordinator into one tab's session manager.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/jrsteele09/go-auth-session/coordinator"
	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/jrsteele09/go-auth-session/internal/clock"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/monitor"
	"github.com/jrsteele09/go-auth-session/oauth2"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/rs/zerolog"
)

// announceTimeout bounds storage_sync sends made from background work.
const announceTimeout = 5 * time.Second

// API is the backend's login and refresh endpoints.
type API interface {
	Login(ctx context.Context, username, password string) (oauth2.TokenResponse, error)
	Refresh(ctx context.Context, authorizationHeader string) (oauth2.TokenResponse, error)
}

var _ API = (*api.Client)(nil)

// Deps are the collaborators a Manager is built from.
type Deps struct {
	API     API
	Store   *store.Store
	Channel broadcast.Channel
}

// Manager owns one tab's session. All transitions that touch the store
// and the monitor together happen under mu; events are emitted after
// it is released.
type Manager struct {
	api     API
	store   *store.Store
	channel broadcast.Channel

	monitor     *monitor.Monitor
	coordinator *coordinator.Coordinator

	clock         clock.Clock
	location      func() string
	handler       EventHandler
	interval      time.Duration
	paddingOffset time.Duration
	replyTimeout  time.Duration
	logger        zerolog.Logger
	tabID         string

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// New creates a Manager. Call Run to start listening to sibling tabs.
func New(deps Deps, options ...Option) (*Manager, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("[session.New] API is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("[session.New] Store is required")
	}
	if deps.Channel == nil {
		return nil, fmt.Errorf("[session.New] Channel is required")
	}

	m := &Manager{
		api:           deps.API,
		store:         deps.Store,
		channel:       deps.Channel,
		clock:         clock.Real(),
		location:      func() string { return "" },
		handler:       func(Event) {},
		interval:      monitor.DefaultInterval,
		paddingOffset: monitor.DefaultPaddingOffset,
		replyTimeout:  coordinator.DefaultReplyTimeout,
		logger:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.tabID == "" {
		m.tabID = uuid.New().String()
	}
	m.logger = m.logger.With().Str("tab", m.tabID).Logger()

	mon, err := monitor.New(refresher{m},
		monitor.WithClock(m.clock),
		monitor.WithInterval(m.interval),
		monitor.WithPaddingOffset(m.paddingOffset),
		monitor.WithOnExpired(m.expire),
		monitor.WithLogger(m.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[session.New] %w", err)
	}
	m.monitor = mon

	co, err := coordinator.New(m.tabID, m.channel, siblings{m},
		coordinator.WithClock(m.clock),
		coordinator.WithReplyTimeout(m.replyTimeout),
		coordinator.WithLogger(m.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[session.New] %w", err)
	}
	m.coordinator = co

	return m, nil
}

// TabID identifies this tab on the broadcast channel.
func (m *Manager) TabID() string {
	return m.tabID
}

// MonitorState reports the freshness monitor's state.
func (m *Manager) MonitorState() monitor.State {
	return m.monitor.State()
}

// Run serves sibling tabs until ctx is done or the channel closes.
// InitSessionStorage relies on it to receive replies.
func (m *Manager) Run(ctx context.Context) error {
	return m.coordinator.Run(ctx)
}

// Login exchanges a username and password for a credential. The result
// is not saved; pass it to SaveSession.
func (m *Manager) Login(ctx context.Context, username, password string) (credential.Credential, error) {
	tr, err := m.api.Login(ctx, username, password)
	if err != nil {
		return credential.Credential{}, err
	}
	cred, err := credential.FromTokenResponse(username, tr)
	if err != nil {
		return credential.Credential{}, &api.APIError{Message: "login returned an unusable token", Err: err}
	}
	return cred, nil
}

// SaveSession makes c the tab's session, starts keeping it fresh and
// shares it with sibling tabs.
func (m *Manager) SaveSession(ctx context.Context, c credential.Credential, meta LoginMeta) error {
	if !c.Complete() {
		return fmt.Errorf("saving session: %w", apperrors.ErrNoSession)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperrors.ErrClosed
	}
	if err := m.store.Persist(c); err != nil {
		m.logger.Err(err).Msg("persisting new session")
	}
	m.monitor.Start()
	m.mu.Unlock()

	if err := m.coordinator.Announce(ctx, credential.HasSession(c)); err != nil {
		m.logger.Err(err).Msg("announcing new session")
	}

	m.logger.Info().Str("username", c.Username).Msg("session saved")
	m.handler(LoggedIn{
		Credential:  c,
		FirstLogin:  meta.FirstLogin,
		APILogin:    meta.APILogin,
		RedirectURL: meta.RedirectURL,
	})
	return nil
}

// InitSessionStorage restores the tab's session, first from its own
// store and otherwise from a sibling tab. It resolves NoSession when
// neither has a usable credential.
func (m *Manager) InitSessionStorage(ctx context.Context) credential.Session {
	stored := m.store.RetrieveFromStore()
	if cred, ok := stored.Get(); ok {
		if cred.Valid(m.clock.Now()) {
			m.establish(cred)
			return stored
		}
		m.logger.Info().Msg("stored session has expired")
		if err := m.store.Revoke(); err != nil {
			m.logger.Err(err).Msg("clearing expired session")
		}
	}

	shared := m.coordinator.RequestSession(ctx)
	cred, ok := shared.Get()
	if !ok {
		m.logger.Debug().Msg("no sibling tab has a session")
		return credential.NoSession()
	}
	m.logger.Info().Str("username", cred.Username).Msg("adopted session from sibling tab")
	return m.establish(cred)
}

// establish installs cred unless a session arrived in the meantime.
func (m *Manager) establish(cred credential.Credential) credential.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return credential.NoSession()
	}
	if current := m.store.Current(); current.Present() {
		m.armLocked()
		return current
	}
	if err := m.store.Persist(cred); err != nil {
		m.logger.Err(err).Msg("persisting restored session")
	}
	m.monitor.Start()
	return credential.HasSession(cred)
}

// armLocked starts the monitor unless it is already watching the
// credential. Callers hold mu.
func (m *Manager) armLocked() {
	switch m.monitor.State() {
	case monitor.Scheduled, monitor.Refreshing:
		return
	}
	m.monitor.Start()
}

// Persist stores c as the current credential and starts keeping it fresh.
func (m *Manager) Persist(c credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return apperrors.ErrClosed
	}
	if err := m.store.Persist(c); err != nil {
		return err
	}
	m.armLocked()
	return nil
}

// RetrieveFromStore loads the credential kept in the tab's storage.
func (m *Manager) RetrieveFromStore() credential.Session {
	return m.store.RetrieveFromStore()
}

// Revoke clears the credential from memory and storage and stops the monitor.
func (m *Manager) Revoke() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.monitor.Stop()
	return m.store.Revoke()
}

// Current is the tab's in-memory credential.
func (m *Manager) Current() credential.Session {
	return m.store.Current()
}

// AuthorizationHeader is the header to attach to API requests.
func (m *Manager) AuthorizationHeader() (string, bool) {
	cred, ok := m.store.Current().Get()
	if !ok {
		return "", false
	}
	return cred.AuthorizationHeader, true
}

// Logout ends the session and tells sibling tabs to do the same.
// Repeated calls leave the same state and emit nothing further.
func (m *Manager) Logout(ctx context.Context, opts LogoutOptions) error {
	if !m.end(true) {
		return nil
	}

	if err := m.coordinator.Announce(ctx, credential.NoSession()); err != nil {
		m.logger.Err(err).Msg("announcing logout")
	}

	m.logger.Info().Msg("logged out")
	m.handler(LoggedOut{Redirect: opts.Redirect})
	return nil
}

// HandleUnauthorized is called when the API rejects the tab's
// credential. It ends the session and asks for a new login.
func (m *Manager) HandleUnauthorized() {
	location := m.location()
	if !m.end(true) {
		return
	}
	m.logger.Warn().Str("redirect", location).Msg("credential rejected by api")
	m.handler(NeedsLogin{RedirectURL: location})
}

// SetVisible pauses monitoring while the tab is hidden. Becoming
// visible triggers an immediate check.
func (m *Manager) SetVisible(visible bool) {
	if visible {
		m.monitor.Resume()
		return
	}
	m.monitor.Pause()
}

// Close stops all timers and leaves the broadcast channel. The stored
// credential is kept for the next run.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.monitor.Stop()
		m.mu.Unlock()
		err = m.channel.Close()
	})
	return err
}

// end clears the session. It reports whether there was one, which
// decides whether the caller emits an event.
func (m *Manager) end(stopMonitor bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	had := m.store.Current().Present()
	if stopMonitor {
		m.monitor.Stop()
	}
	if err := m.store.Revoke(); err != nil {
		m.logger.Err(err).Msg("revoking session")
	}
	return had
}

// expire is the monitor's terminal path. The monitor is left in its
// Expired state.
func (m *Manager) expire(err error) {
	location := m.location()
	if !m.end(false) {
		return
	}
	m.logger.Warn().Err(err).Str("redirect", location).Msg("session expired")
	m.handler(NeedsLogin{RedirectURL: location})
}

func (m *Manager) refresh(ctx context.Context) error {
	current, ok := m.store.Current().Get()
	if !ok {
		return apperrors.ErrNoSession
	}

	tr, err := m.api.Refresh(ctx, current.AuthorizationHeader)
	if err != nil {
		return err
	}
	next, err := credential.FromTokenResponse(current.Username, tr)
	if err != nil {
		return &api.APIError{Message: "refresh returned an unusable token", Err: err}
	}
	if next.TokenExpiresAt <= current.TokenExpiresAt {
		return fmt.Errorf("refresh: %w", apperrors.ErrNotMonotonic)
	}
	refreshed := current.WithToken(next.AuthorizationHeader, next.TokenExpiresAt)

	m.mu.Lock()
	if err := ctx.Err(); err != nil {
		// The monitor was stopped or restarted while the call was out.
		m.mu.Unlock()
		return err
	}
	if err := m.store.Persist(refreshed); err != nil {
		m.logger.Err(err).Msg("persisting refreshed session")
	}
	m.mu.Unlock()

	announceCtx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := m.coordinator.Announce(announceCtx, credential.HasSession(refreshed)); err != nil {
		m.logger.Err(err).Msg("announcing refreshed session")
	}

	m.logger.Info().Time("expires_at", refreshed.ExpiresAt()).Msg("token refreshed")
	return nil
}

// adopt applies a sibling's storage_sync.
func (m *Manager) adopt(from string, s credential.Session) {
	incoming, ok := s.Get()
	if !ok {
		location := m.location()
		if !m.end(true) {
			return
		}
		m.logger.Info().Str("from", from).Msg("session revoked by sibling tab")
		m.handler(NeedsLogin{RedirectURL: location})
		return
	}

	m.mu.Lock()
	if m.closed || !incoming.Valid(m.clock.Now()) {
		m.mu.Unlock()
		return
	}
	current, had := m.store.Current().Get()
	switch {
	case had && current.Username != incoming.Username:
		m.mu.Unlock()
		m.logger.Warn().Str("from", from).Msg("ignoring sibling session for a different user")
		return
	case had && incoming.TokenExpiresAt <= current.TokenExpiresAt:
		m.mu.Unlock()
		return
	}
	if err := m.store.Persist(incoming); err != nil {
		m.logger.Err(err).Msg("persisting sibling session")
	}
	m.monitor.Start()
	m.mu.Unlock()

	m.logger.Debug().Str("from", from).Msg("adopted sibling session")
	if !had {
		m.handler(LoggedIn{Credential: incoming})
	}
}

// refresher adapts the manager to monitor.Refresher.
type refresher struct {
	m *Manager
}

var _ monitor.Refresher = refresher{}

func (r refresher) ExpiresAt() (time.Time, bool) {
	cred, ok := r.m.store.Current().Get()
	if !ok {
		return time.Time{}, false
	}
	return cred.ExpiresAt(), true
}

func (r refresher) Refresh(ctx context.Context) error {
	return r.m.refresh(ctx)
}

// siblings adapts the manager to coordinator.SessionSource.
type siblings struct {
	m *Manager
}

var _ coordinator.SessionSource = siblings{}

func (s siblings) Current() credential.Session {
	return s.m.store.Current()
}

func (s siblings) Adopt(from string, session credential.Session) {
	s.m.adopt(from, session)
}
