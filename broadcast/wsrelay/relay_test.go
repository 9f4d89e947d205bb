package wsrelay_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/jrsteele09/go-auth-session/broadcast/wsrelay"
	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, options ...wsrelay.ServerOption) (*wsrelay.Server, string) {
	t.Helper()
	relay := wsrelay.NewServer(options...)
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, baseURL, name string) *wsrelay.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := wsrelay.Dial(ctx, baseURL, name)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForPeers(t *testing.T, relay *wsrelay.Server, name string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return relay.Peers(name) == n }, 2*time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, c broadcast.Channel) broadcast.Message {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		require.True(t, ok)
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
	return broadcast.Message{}
}

func assertSilent(t *testing.T, c broadcast.Channel) {
	t.Helper()
	select {
	case m := <-c.Messages():
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelay_FansOutToOtherPeers(t *testing.T) {
	relay, url := startRelay(t)
	a := dial(t, url, "btrix")
	b := dial(t, url, "btrix")
	other := dial(t, url, "another")
	waitForPeers(t, relay, "btrix", 2)
	waitForPeers(t, relay, "another", 1)

	c := credential.Credential{Username: "u@example.com", AuthorizationHeader: "Bearer abc", TokenExpiresAt: 42}
	msg := broadcast.Message{Type: broadcast.RespondingAuth, From: "a", RequestID: "r1", Auth: &c}
	require.NoError(t, a.Send(context.Background(), msg))

	assert.Equal(t, msg, receive(t, b))
	assertSilent(t, a)
	assertSilent(t, other)
}

func TestRelay_DropsInvalidFrames(t *testing.T) {
	relay, url := startRelay(t)
	b := dial(t, url, "btrix")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, _, err := websocket.Dial(ctx, wsrelay.ChannelURL(url, "btrix"), nil)
	require.NoError(t, err)
	defer raw.Close(websocket.StatusNormalClosure, "")
	waitForPeers(t, relay, "btrix", 2)

	require.NoError(t, raw.Write(ctx, websocket.MessageText, []byte(`{"type":"chat","text":"hi"}`)))
	require.NoError(t, raw.Write(ctx, websocket.MessageText, []byte(`{"type":"storage_sync","from":"raw"}`)))

	m := receive(t, b)
	assert.Equal(t, broadcast.StorageSync, m.Type)
	assert.Equal(t, "raw", m.From)
}

func TestRelay_RateLimitsPerConnection(t *testing.T) {
	relay, url := startRelay(t, wsrelay.WithRateLimit(0.001, 2))
	a := dial(t, url, "btrix")
	b := dial(t, url, "btrix")
	waitForPeers(t, relay, "btrix", 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send(context.Background(), broadcast.Message{Type: broadcast.StorageSync, From: "a"}))
	}

	receive(t, b)
	receive(t, b)
	assertSilent(t, b)
}

func TestConn_CloseLeavesRelay(t *testing.T) {
	relay, url := startRelay(t)
	a := dial(t, url, "btrix")
	waitForPeers(t, relay, "btrix", 1)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	waitForPeers(t, relay, "btrix", 0)

	_, ok := <-a.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, a.Send(context.Background(), broadcast.Message{Type: broadcast.StorageSync}), broadcast.ErrClosed)
}

func TestChannelURL(t *testing.T) {
	assert.Equal(t, "ws://h:1/channels/btrix", wsrelay.ChannelURL("ws://h:1/", "btrix"))
	assert.Equal(t, "ws://h:1/channels/a%2Fb", wsrelay.ChannelURL("ws://h:1", "a/b"))
}
