package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/api/apifake"
	"github.com/jrsteele09/go-auth-session/broadcast/wsrelay"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/store/boltstorage"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type runner struct {
	cfg    config.Config
	logger zerolog.Logger
}

func newRunner(cfg config.Config, logger zerolog.Logger) *runner {
	return &runner{cfg: cfg, logger: logger}
}

// Relay serves the websocket relay until the context is cancelled.
func (r *runner) Relay(ctx context.Context, cmd *cli.Command) error {
	relay := wsrelay.NewServer(
		wsrelay.WithLogger(r.logger),
		wsrelay.WithRateLimit(r.cfg.GetRelayRateLimit(), r.cfg.GetRelayBurst()),
	)
	return r.serve(ctx, &http.Server{Addr: cmd.String("addr"), Handler: relay})
}

// FakeAPI serves the fake backend until the context is cancelled.
func (r *runner) FakeAPI(ctx context.Context, cmd *cli.Command) error {
	backend := apifake.New(
		apifake.WithTokenLifetime(cmd.Duration("token-lifetime")),
		apifake.WithLoginPath(r.cfg.GetLoginPath()),
		apifake.WithRefreshPath(r.cfg.GetRefreshPath()),
		apifake.WithLogger(r.logger),
	)
	if err := backend.AddUser(cmd.String("username"), cmd.String("password")); err != nil {
		return err
	}
	r.logger.Info().Str("username", cmd.String("username")).Msg("demo user added")
	return r.serve(ctx, &http.Server{Addr: cmd.String("addr"), Handler: backend})
}

// Tab opens a tab and keeps it running until the context is cancelled
// or the relay goes away.
func (r *runner) Tab(ctx context.Context, cmd *cli.Command) error {
	t, err := r.openTab(ctx, cmd)
	if err != nil {
		return err
	}
	defer t.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.manager.Run(gctx)
	})

	if cmd.Bool("hidden") {
		t.manager.SetVisible(false)
	}

	restored := t.manager.InitSessionStorage(gctx)
	if cred, ok := restored.Get(); ok {
		r.logger.Info().Str("username", cred.Username).Time("expires_at", cred.ExpiresAt()).Msg("session restored")
	} else if username := cmd.String("username"); username != "" {
		cred, err := t.manager.Login(gctx, username, cmd.String("password"))
		if err != nil {
			return fmt.Errorf("logging in: %w", err)
		}
		if err := t.manager.SaveSession(gctx, cred, session.LoginMeta{FirstLogin: true}); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}
	} else {
		r.logger.Warn().Msg("no session to restore; pass --username and --password to log in")
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-t.conn.Done():
			return errors.New("relay connection closed")
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Logout restores a tab's session and logs it out, which revokes the
// session in every connected sibling.
func (r *runner) Logout(ctx context.Context, cmd *cli.Command) error {
	if cmd.String("tab-id") == "" {
		return errors.New("--tab-id is required")
	}
	t, err := r.openTab(ctx, cmd)
	if err != nil {
		return err
	}
	defer t.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = t.manager.Run(runCtx)
	}()

	if !t.manager.InitSessionStorage(ctx).Present() {
		r.logger.Info().Msg("no session to log out of")
		return nil
	}
	return t.manager.Logout(ctx, session.LogoutOptions{Redirect: true})
}

type tab struct {
	manager *session.Manager
	conn    *wsrelay.Conn
	storage *boltstorage.Storage
}

func (t *tab) close() {
	_ = t.manager.Close()
	_ = t.storage.Close()
}

func (r *runner) openTab(ctx context.Context, cmd *cli.Command) (*tab, error) {
	tabID := cmd.String("tab-id")
	if tabID == "" {
		tabID = uuid.New().String()
	}
	logger := r.logger.With().Str("tab", tabID).Logger()

	storage, err := boltstorage.Open(boltstorage.PathForTab(r.cfg.GetStoreDir(), tabID))
	if err != nil {
		return nil, err
	}
	st, err := store.New(storage, store.WithLogger(logger))
	if err != nil {
		storage.Close()
		return nil, err
	}

	client, err := api.NewClient(r.cfg.GetAPIBaseURL(),
		api.WithLoginPath(r.cfg.GetLoginPath()),
		api.WithRefreshPath(r.cfg.GetRefreshPath()),
	)
	if err != nil {
		storage.Close()
		return nil, err
	}

	conn, err := wsrelay.Dial(ctx, r.cfg.GetRelayURL(), r.cfg.GetChannelName(), wsrelay.WithDialLogger(logger))
	if err != nil {
		storage.Close()
		return nil, err
	}

	location := cmd.String("location")
	manager, err := session.New(session.Deps{API: client, Store: st, Channel: conn},
		session.WithTabID(tabID),
		session.WithInterval(r.cfg.GetCheckInterval()),
		session.WithPaddingOffset(r.cfg.GetPaddingOffset()),
		session.WithReplyTimeout(r.cfg.GetReplyTimeout()),
		session.WithLocation(func() string { return location }),
		session.WithEventHandler(func(e session.Event) { logEvent(logger, e) }),
		session.WithLogger(logger),
	)
	if err != nil {
		conn.Close()
		storage.Close()
		return nil, err
	}

	logger.Info().Str("relay", r.cfg.GetRelayURL()).Msg("tab opened")
	return &tab{manager: manager, conn: conn, storage: storage}, nil
}

func logEvent(logger zerolog.Logger, e session.Event) {
	ev := logger.Info().Str("event", e.Name())
	switch e := e.(type) {
	case session.LoggedIn:
		ev = ev.Str("username", e.Credential.Username).
			Time("expires_at", e.Credential.ExpiresAt()).
			Bool("first_login", e.FirstLogin)
	case session.NeedsLogin:
		ev = ev.Str("redirect", e.RedirectURL)
	case session.LoggedOut:
		ev = ev.Bool("redirect", e.Redirect)
	}
	ev.Msg("session event")
}

func (r *runner) serve(ctx context.Context, server *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server.ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server.Shutdown: %w", err)
		}
		r.logger.Info().Msg("server stopped")
		return nil
	})
	return g.Wait()
}
