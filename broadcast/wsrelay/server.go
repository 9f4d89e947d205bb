// Package wsrelay carries broadcast channels between processes. The
// relay Server fans websocket text frames out to every other connection
// on the same channel name; Dial gives a process a broadcast.Channel
// backed by one such connection.
package wsrelay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// RoutePattern is where tabs connect; {name} is the channel name.
	RoutePattern = "GET /channels/{name}"

	// maxFrameBytes caps a single frame. Messages carry one credential,
	// far below this.
	maxFrameBytes = 64 * 1024

	peerQueueSize = 64
	writeTimeout  = 5 * time.Second

	defaultRateLimit = 50
	defaultBurst     = 100
)

type Server struct {
	mux    *http.ServeMux
	logger zerolog.Logger
	limit  rate.Limit
	burst  int

	lock     sync.RWMutex
	channels map[string]map[*peer]struct{}
}

type peer struct {
	id      string
	conn    *websocket.Conn
	queue   chan []byte
	limiter *rate.Limiter
}

type ServerOption func(*Server)

func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit sets the per-connection inbound message rate. Frames
// over the limit are dropped.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.limit = rate.Limit(perSecond)
		s.burst = burst
	}
}

func NewServer(options ...ServerOption) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		logger:   zerolog.Nop(),
		limit:    defaultRateLimit,
		burst:    defaultBurst,
		channels: make(map[string]map[*peer]struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	s.mux.HandleFunc(RoutePattern, s.handleChannel)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Peers returns the number of connections on the named channel.
func (s *Server) Peers(name string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.channels[name])
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "missing channel name", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Err(err).Str("channel", name).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	p := &peer{
		id:      uuid.New().String(),
		conn:    conn,
		queue:   make(chan []byte, peerQueueSize),
		limiter: rate.NewLimiter(s.limit, s.burst),
	}
	logger := s.logger.With().Str("channel", name).Str("peer", p.id).Logger()

	s.join(name, p)
	logger.Debug().Msg("peer joined")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, p, logger)
	}()

	s.readLoop(ctx, name, p, logger)

	s.leave(name, p)
	cancel()
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "")
	logger.Debug().Msg("peer left")
}

func (s *Server) readLoop(ctx context.Context, name string, p *peer, logger zerolog.Logger) {
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if !p.limiter.Allow() {
			logger.Warn().Msg("rate limit exceeded, dropping message")
			continue
		}
		if _, err := broadcast.Decode(data); err != nil {
			logger.Warn().Err(err).Msg("dropping invalid message")
			continue
		}
		s.publish(name, p, data)
	}
}

func (s *Server) writeLoop(ctx context.Context, p *peer, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-p.queue:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Debug().Err(err).Msg("write failed")
				return
			}
		}
	}
}

func (s *Server) join(name string, p *peer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	peers, ok := s.channels[name]
	if !ok {
		peers = make(map[*peer]struct{})
		s.channels[name] = peers
	}
	peers[p] = struct{}{}
}

func (s *Server) leave(name string, p *peer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	peers := s.channels[name]
	delete(peers, p)
	if len(peers) == 0 {
		delete(s.channels, name)
	}
}

func (s *Server) publish(name string, from *peer, data []byte) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for p := range s.channels[name] {
		if p == from {
			continue
		}
		select {
		case p.queue <- data:
		default:
			s.logger.Warn().Str("channel", name).Str("peer", p.id).Msg("peer queue full, dropping message")
		}
	}
}
