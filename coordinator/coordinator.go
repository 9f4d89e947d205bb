// Package coordinator runs the cross-tab session protocol over a
// broadcast channel.
//
// A tab without a credential broadcasts requesting_auth and waits a
// bounded time for a sibling's responding_auth. The first reply that
// carries an unexpired credential settles the request; later replies
// and "no session" replies are discarded. storage_sync messages keep
// siblings in step after refreshes and logouts.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/jrsteele09/go-auth-session/internal/clock"
	"github.com/rs/zerolog"
)

const DefaultReplyTimeout = time.Second

// SessionSource is the tab's side of the protocol.
type SessionSource interface {
	// Current is the credential offered to siblings that ask for one.
	Current() credential.Session

	// Adopt receives a sibling's storage_sync. NoSession means the
	// sibling revoked the session.
	Adopt(from string, s credential.Session)
}

// Coordinator hands sessions between sibling tabs over a broadcast channel.
type Coordinator struct {
	tabID        string
	channel      broadcast.Channel
	source       SessionSource
	clock        clock.Clock
	replyTimeout time.Duration
	logger       zerolog.Logger

	lock    sync.Mutex
	pending map[string]chan credential.Credential
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

func WithReplyTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		co.replyTimeout = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(co *Coordinator) {
		co.logger = logger
	}
}

// New creates a Coordinator for tabID. Call Run to start serving siblings.
func New(tabID string, channel broadcast.Channel, source SessionSource, options ...Option) (*Coordinator, error) {
	if tabID == "" {
		return nil, fmt.Errorf("[coordinator.New] tabID is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("[coordinator.New] channel is required")
	}
	if source == nil {
		return nil, fmt.Errorf("[coordinator.New] source is required")
	}

	c := &Coordinator{
		tabID:        tabID,
		channel:      channel,
		source:       source,
		clock:        clock.Real(),
		replyTimeout: DefaultReplyTimeout,
		logger:       zerolog.Nop(),
		pending:      make(map[string]chan credential.Credential),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.replyTimeout <= 0 {
		return nil, fmt.Errorf("[coordinator.New] reply timeout must be positive, got %s", c.replyTimeout)
	}
	return c, nil
}

// Run handles incoming messages until ctx is done or the channel closes.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-c.channel.Messages():
			if !ok {
				return broadcast.ErrClosed
			}
			c.handle(ctx, m)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, m broadcast.Message) {
	if m.From == c.tabID {
		return
	}

	switch m.Type {
	case broadcast.RequestingAuth:
		reply := broadcast.Message{
			Type:      broadcast.RespondingAuth,
			From:      c.tabID,
			RequestID: m.RequestID,
			Auth:      c.offer().Pointer(),
		}
		if err := c.channel.Send(ctx, reply); err != nil {
			c.logger.Err(err).Str("request_id", m.RequestID).Msg("replying to session request")
		}
	case broadcast.RespondingAuth:
		c.resolve(m)
	case broadcast.StorageSync:
		c.source.Adopt(m.From, m.Session())
	}
}

// offer is the tab's current credential, or NoSession if it has expired.
func (c *Coordinator) offer() credential.Session {
	current := c.source.Current()
	cred, ok := current.Get()
	if !ok || !cred.Valid(c.clock.Now()) {
		return credential.NoSession()
	}
	return current
}

func (c *Coordinator) resolve(m broadcast.Message) {
	cred, ok := m.Session().Get()
	if !ok || !cred.Valid(c.clock.Now()) {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	waiter, ok := c.pending[m.RequestID]
	if !ok {
		c.logger.Debug().Str("request_id", m.RequestID).Str("from", m.From).Msg("discarding late session reply")
		return
	}
	delete(c.pending, m.RequestID)
	waiter <- cred
}

// RequestSession asks siblings for their credential. It resolves with the
// first valid reply, or NoSession once the reply timeout passes or ctx
// is done. A timeout is the normal way of learning no sibling has one.
func (c *Coordinator) RequestSession(ctx context.Context) credential.Session {
	requestID := uuid.New().String()
	waiter := make(chan credential.Credential, 1)

	c.lock.Lock()
	c.pending[requestID] = waiter
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		delete(c.pending, requestID)
		c.lock.Unlock()
	}()

	timeout := c.clock.After(c.replyTimeout)
	err := c.channel.Send(ctx, broadcast.Message{
		Type:      broadcast.RequestingAuth,
		From:      c.tabID,
		RequestID: requestID,
	})
	if err != nil {
		c.logger.Err(err).Msg("requesting session from sibling tabs")
		return credential.NoSession()
	}

	select {
	case cred := <-waiter:
		c.logger.Debug().Str("request_id", requestID).Msg("session received from sibling tab")
		return credential.HasSession(cred)
	case <-timeout:
		return credential.NoSession()
	case <-ctx.Done():
		return credential.NoSession()
	}
}

// Announce tells siblings about a new credential, or with NoSession,
// that the session is over.
func (c *Coordinator) Announce(ctx context.Context, s credential.Session) error {
	return c.channel.Send(ctx, broadcast.Message{
		Type: broadcast.StorageSync,
		From: c.tabID,
		Auth: s.Pointer(),
	})
}
