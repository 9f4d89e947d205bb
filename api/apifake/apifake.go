// Package apifake is an in-process stand-in for the backend's JWT login
// and refresh endpoints. It issues real HS256 tokens so clients decode
// expiry the same way they do in production.
package apifake

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/internal/clock"
	"github.com/jrsteele09/go-auth-session/oauth2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenLifetime = time.Hour

	BadCredentials = "LOGIN_BAD_CREDENTIALS"
)

type Server struct {
	clock         clock.Clock
	tokenLifetime time.Duration
	signingKey    []byte
	loginPath     string
	refreshPath   string
	logger        zerolog.Logger
	mux           *http.ServeMux

	rotate  bool
	revoked *revokedTokens

	lock          sync.RWMutex
	users         map[string][]byte
	refreshStatus int

	refreshCount atomic.Int64
}

var _ http.Handler = (*Server)(nil)

type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

func WithTokenLifetime(d time.Duration) Option {
	return func(s *Server) {
		s.tokenLifetime = d
	}
}

func WithSigningKey(key []byte) Option {
	return func(s *Server) {
		s.signingKey = key
	}
}

func WithLoginPath(path string) Option {
	return func(s *Server) {
		s.loginPath = path
	}
}

func WithRefreshPath(path string) Option {
	return func(s *Server) {
		s.refreshPath = path
	}
}

// WithRotation revokes each token once it has been refreshed, so a
// token can be exchanged only once.
func WithRotation() Option {
	return func(s *Server) {
		s.rotate = true
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(options ...Option) *Server {
	s := &Server{
		clock:         clock.Real(),
		tokenLifetime: DefaultTokenLifetime,
		loginPath:     api.DefaultLoginPath,
		refreshPath:   api.DefaultRefreshPath,
		logger:        zerolog.Nop(),
		users:         make(map[string][]byte),
	}
	for _, opt := range options {
		opt(s)
	}
	s.revoked = newRevokedTokens(s.clock)
	if len(s.signingKey) == 0 {
		s.signingKey = make([]byte, 32)
		_, _ = rand.Read(s.signingKey)
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST "+s.loginPath, s.handleLogin)
	s.mux.HandleFunc("POST "+s.refreshPath, s.handleRefresh)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// AddUser registers a login. The hash uses the minimum bcrypt cost to
// keep tests fast.
func (s *Server) AddUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.users[username] = hash
	return nil
}

// FailRefresh makes every refresh answer with status. Zero restores
// normal behaviour.
func (s *Server) FailRefresh(status int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshStatus = status
}

// RefreshCount is the number of refresh requests received.
func (s *Server) RefreshCount() int {
	return int(s.refreshCount.Load())
}

// RevokeToken makes the backend reject raw from now on, as a server side
// logout would. Tokens it cannot parse are ignored.
func (s *Server) RevokeToken(raw string) {
	claims, err := s.parse(raw)
	if err != nil {
		return
	}
	s.revokeClaims(claims)
}

// RevokedCount is the number of revoked tokens that have not expired.
func (s *Server) RevokedCount() int {
	return s.revoked.len()
}

// IssueToken signs a token for username, as a successful login would.
func (s *Server) IssueToken(username string) (string, error) {
	now := s.clock.Now()
	claims := jwtlib.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenLifetime).Unix(),
		"jti": uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeDetail(w, http.StatusBadRequest, "invalid form body")
		return
	}

	var missing []api.FieldError
	for _, field := range []string{"username", "password"} {
		if r.PostForm.Get(field) == "" {
			missing = append(missing, api.FieldError{
				Loc:  []string{"body", field},
				Msg:  "field required",
				Type: "value_error.missing",
			})
		}
	}
	if len(missing) > 0 {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": missing})
		return
	}

	username := r.PostForm.Get("username")
	if !s.checkPassword(username, r.PostForm.Get("password")) {
		s.logger.Debug().Str("username", username).Msg("login rejected")
		s.writeDetail(w, http.StatusBadRequest, BadCredentials)
		return
	}

	s.writeToken(w, username)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCount.Add(1)

	s.lock.RLock()
	status := s.refreshStatus
	s.lock.RUnlock()
	if status != 0 {
		s.writeDetail(w, status, http.StatusText(status))
		return
	}

	username, err := s.verify(r.Header.Get("Authorization"))
	if err != nil {
		s.logger.Debug().Err(err).Msg("refresh rejected")
		s.writeDetail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	s.writeToken(w, username)
}

func (s *Server) checkPassword(username, password string) bool {
	s.lock.RLock()
	hash, ok := s.users[username]
	s.lock.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

func (s *Server) verify(authorization string) (string, error) {
	scheme, raw, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, string(oauth2.BearerTokenType)) {
		return "", errors.New("missing bearer token")
	}

	claims, err := s.parse(raw)
	if err != nil {
		return "", err
	}

	jti, _ := claims["jti"].(string)
	if jti == "" || s.revoked.isRevoked(jti) {
		return "", errors.New("token revoked")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}

	s.lock.RLock()
	_, known := s.users[sub]
	s.lock.RUnlock()
	if !known {
		return "", fmt.Errorf("unknown user %q", sub)
	}

	if s.rotate {
		s.revokeClaims(claims)
	}
	return sub, nil
}

func (s *Server) parse(raw string) (jwtlib.MapClaims, error) {
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return s.signingKey, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(s.clock.Now),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Server) revokeClaims(claims jwtlib.MapClaims) {
	jti, _ := claims["jti"].(string)
	exp, err := claims.GetExpirationTime()
	if jti == "" || err != nil || exp == nil {
		return
	}
	s.revoked.add(jti, exp.Time)
}

func (s *Server) writeToken(w http.ResponseWriter, username string) {
	signed, err := s.IssueToken(username)
	if err != nil {
		s.logger.Err(err).Msg("issuing token")
		s.writeDetail(w, http.StatusInternalServerError, "token error")
		return
	}
	s.writeJSON(w, http.StatusOK, oauth2.TokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokenLifetime.Seconds()),
	})
}

func (s *Server) writeDetail(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Err(err).Msg("writing response")
	}
}
