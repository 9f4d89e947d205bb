package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/jrsteele09/go-auth-session/coordinator"
	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/jrsteele09/go-auth-session/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const channelName = "btrix"

var epoch = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type adoption struct {
	from    string
	session credential.Session
}

type fakeSource struct {
	mu      sync.Mutex
	current credential.Session
	adopted chan adoption
}

func newSource(s credential.Session) *fakeSource {
	return &fakeSource{current: s, adopted: make(chan adoption, 8)}
}

func (f *fakeSource) Current() credential.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSource) Adopt(from string, s credential.Session) {
	f.adopted <- adoption{from: from, session: s}
}

func cred(user, token string, expiresAt time.Time) credential.Credential {
	return credential.Credential{
		Username:            user,
		AuthorizationHeader: "Bearer " + token,
		TokenExpiresAt:      expiresAt.UnixMilli(),
	}
}

func startTab(t *testing.T, hub *broadcast.Hub, c *clock.FakeClock, tabID string, source *fakeSource) *coordinator.Coordinator {
	t.Helper()
	channel := hub.Join(channelName)
	co, err := coordinator.New(tabID, channel, source, coordinator.WithClock(c))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = co.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = channel.Close()
	})
	return co
}

func receive(t *testing.T, ch broadcast.Channel) broadcast.Message {
	t.Helper()
	select {
	case m, ok := <-ch.Messages():
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no message received")
	}
	return broadcast.Message{}
}

func TestNew_Validation(t *testing.T) {
	hub := broadcast.NewHub()
	source := newSource(credential.NoSession())

	_, err := coordinator.New("", hub.Join(channelName), source)
	assert.Error(t, err)

	_, err = coordinator.New("tab", nil, source)
	assert.Error(t, err)

	_, err = coordinator.New("tab", hub.Join(channelName), nil)
	assert.Error(t, err)

	_, err = coordinator.New("tab", hub.Join(channelName), source, coordinator.WithReplyTimeout(0))
	assert.Error(t, err)
}

func TestRequestSession_AdoptsSiblingCredential(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	want := credential.Credential{
		Username:            "u@example.com",
		AuthorizationHeader: "Bearer abc",
		TokenExpiresAt:      epoch.UnixMilli() + 3600000,
	}

	startTab(t, hub, c, "tab-a", newSource(credential.HasSession(want)))
	b := startTab(t, hub, c, "tab-b", newSource(credential.NoSession()))

	got := b.RequestSession(context.Background())
	cr, ok := got.Get()
	require.True(t, ok)
	assert.Equal(t, want, cr)
}

func TestRequestSession_TimesOutWithoutSiblings(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	b := startTab(t, hub, c, "tab-b", newSource(credential.NoSession()))

	result := make(chan credential.Session, 1)
	go func() { result <- b.RequestSession(context.Background()) }()

	c.WaitForTimers(1)
	c.Advance(coordinator.DefaultReplyTimeout)

	select {
	case s := <-result:
		assert.False(t, s.Present())
	case <-time.After(2 * time.Second):
		require.FailNow(t, "request did not resolve after timeout")
	}
}

func TestRequestSession_ContextCancelled(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	b := startTab(t, hub, c, "tab-b", newSource(credential.NoSession()))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan credential.Session, 1)
	go func() { result <- b.RequestSession(ctx) }()

	c.WaitForTimers(1)
	cancel()

	select {
	case s := <-result:
		assert.False(t, s.Present())
	case <-time.After(2 * time.Second):
		require.FailNow(t, "request did not resolve after cancel")
	}
}

func TestRequestSession_FirstValidReplyWins(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	sibling := hub.Join(channelName)
	t.Cleanup(func() { _ = sibling.Close() })

	b := startTab(t, hub, c, "tab-b", newSource(credential.NoSession()))

	result := make(chan credential.Session, 1)
	go func() { result <- b.RequestSession(context.Background()) }()

	req := receive(t, sibling)
	require.Equal(t, broadcast.RequestingAuth, req.Type)
	require.NotEmpty(t, req.RequestID)

	expired := cred("u@example.com", "old", epoch.Add(-time.Minute))
	first := cred("u@example.com", "first", epoch.Add(time.Hour))
	second := cred("u@example.com", "second", epoch.Add(2*time.Hour))

	replies := []*credential.Credential{nil, &expired, &first, &second}
	for _, auth := range replies {
		require.NoError(t, sibling.Send(context.Background(), broadcast.Message{
			Type:      broadcast.RespondingAuth,
			From:      "tab-x",
			RequestID: req.RequestID,
			Auth:      auth,
		}))
	}

	select {
	case s := <-result:
		got, ok := s.Get()
		require.True(t, ok)
		assert.Equal(t, first, got)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "request did not resolve")
	}
}

func TestRequestSession_IgnoresRepliesForOtherRequests(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	sibling := hub.Join(channelName)
	t.Cleanup(func() { _ = sibling.Close() })

	b := startTab(t, hub, c, "tab-b", newSource(credential.NoSession()))

	result := make(chan credential.Session, 1)
	go func() { result <- b.RequestSession(context.Background()) }()

	req := receive(t, sibling)
	stale := cred("u@example.com", "stale", epoch.Add(time.Hour))
	require.NoError(t, sibling.Send(context.Background(), broadcast.Message{
		Type:      broadcast.RespondingAuth,
		From:      "tab-x",
		RequestID: "some-earlier-request",
		Auth:      &stale,
	}))

	c.WaitForTimers(1)
	c.Advance(coordinator.DefaultReplyTimeout)

	select {
	case s := <-result:
		assert.False(t, s.Present())
	case <-time.After(2 * time.Second):
		require.FailNow(t, "request did not resolve")
	}
	assert.NotEmpty(t, req.RequestID)
}

func TestRun_RepliesWithCurrentCredential(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	sibling := hub.Join(channelName)
	t.Cleanup(func() { _ = sibling.Close() })

	current := cred("u@example.com", "abc", epoch.Add(time.Hour))
	startTab(t, hub, c, "tab-a", newSource(credential.HasSession(current)))

	require.NoError(t, sibling.Send(context.Background(), broadcast.Message{
		Type:      broadcast.RequestingAuth,
		From:      "tab-x",
		RequestID: "req-1",
	}))

	reply := receive(t, sibling)
	assert.Equal(t, broadcast.RespondingAuth, reply.Type)
	assert.Equal(t, "tab-a", reply.From)
	assert.Equal(t, "req-1", reply.RequestID)
	require.NotNil(t, reply.Auth)
	assert.Equal(t, current, *reply.Auth)
}

func TestRun_NeverOffersExpiredCredential(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	sibling := hub.Join(channelName)
	t.Cleanup(func() { _ = sibling.Close() })

	stale := cred("u@example.com", "abc", epoch.Add(-time.Second))
	startTab(t, hub, c, "tab-a", newSource(credential.HasSession(stale)))

	require.NoError(t, sibling.Send(context.Background(), broadcast.Message{
		Type:      broadcast.RequestingAuth,
		From:      "tab-x",
		RequestID: "req-1",
	}))

	reply := receive(t, sibling)
	assert.Equal(t, broadcast.RespondingAuth, reply.Type)
	assert.Nil(t, reply.Auth)
}

func TestRun_ForwardsStorageSync(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	sibling := hub.Join(channelName)
	t.Cleanup(func() { _ = sibling.Close() })

	source := newSource(credential.NoSession())
	startTab(t, hub, c, "tab-a", source)

	refreshed := cred("u@example.com", "new", epoch.Add(time.Hour))
	require.NoError(t, sibling.Send(context.Background(), broadcast.Message{
		Type: broadcast.StorageSync,
		From: "tab-x",
		Auth: &refreshed,
	}))
	require.NoError(t, sibling.Send(context.Background(), broadcast.Message{
		Type: broadcast.StorageSync,
		From: "tab-x",
	}))

	for _, want := range []credential.Session{credential.HasSession(refreshed), credential.NoSession()} {
		select {
		case got := <-source.adopted:
			assert.Equal(t, "tab-x", got.from)
			assert.Equal(t, want, got.session)
		case <-time.After(2 * time.Second):
			require.FailNow(t, "storage_sync not forwarded")
		}
	}
}

func TestAnnounce(t *testing.T) {
	hub := broadcast.NewHub()
	c := clock.Fake(epoch)
	sibling := hub.Join(channelName)
	t.Cleanup(func() { _ = sibling.Close() })

	a := startTab(t, hub, c, "tab-a", newSource(credential.NoSession()))

	current := cred("u@example.com", "abc", epoch.Add(time.Hour))
	require.NoError(t, a.Announce(context.Background(), credential.HasSession(current)))

	m := receive(t, sibling)
	assert.Equal(t, broadcast.StorageSync, m.Type)
	assert.Equal(t, "tab-a", m.From)
	require.NotNil(t, m.Auth)
	assert.Equal(t, current, *m.Auth)

	require.NoError(t, a.Announce(context.Background(), credential.NoSession()))
	m = receive(t, sibling)
	assert.Nil(t, m.Auth)
}
