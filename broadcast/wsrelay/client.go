package wsrelay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/rs/zerolog"
)

var _ broadcast.Channel = (*Conn)(nil)

// Conn is a broadcast.Channel over a relay connection.
type Conn struct {
	conn   *websocket.Conn
	inbox  chan broadcast.Message
	logger zerolog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type DialOption func(*Conn)

func WithDialLogger(logger zerolog.Logger) DialOption {
	return func(c *Conn) {
		c.logger = logger
	}
}

// ChannelURL joins a relay base URL ("ws://host:port") and a channel name.
func ChannelURL(baseURL, name string) string {
	return strings.TrimRight(baseURL, "/") + "/channels/" + url.PathEscape(name)
}

// Dial connects to the relay at baseURL and joins channel name. ctx
// only bounds the handshake.
func Dial(ctx context.Context, baseURL, name string, options ...DialOption) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, ChannelURL(baseURL, name), nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	ws.SetReadLimit(maxFrameBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:   ws,
		inbox:  make(chan broadcast.Message, peerQueueSize),
		logger: zerolog.Nop(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	go c.readLoop(readCtx)
	return c, nil
}

func (c *Conn) Send(ctx context.Context, m broadcast.Message) error {
	select {
	case <-c.done:
		return broadcast.ErrClosed
	default:
	}

	data, err := broadcast.Encode(m)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing to relay: %w", err)
	}
	return nil
}

func (c *Conn) Messages() <-chan broadcast.Message {
	return c.inbox
}

// Close leaves the channel. Messages() is closed once the reader exits.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		// The relay may already be gone; there is nothing useful to do
		// with a failed close handshake.
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
		<-c.done
	})
	return nil
}

// Done is closed when the connection has stopped reading.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.inbox)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("relay read ended")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		m, err := broadcast.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("ignoring relay message")
			continue
		}
		select {
		case c.inbox <- m:
		default:
			c.logger.Warn().Str("type", string(m.Type)).Msg("inbox full, dropping message")
		}
	}
}
