// Package store holds a tab's current credential and mirrors it to the
// tab's private storage.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/rs/zerolog"
)

// AuthKey is the storage key the credential is serialized under.
const AuthKey = "btrix.auth"

// Storage is a tab's private key/value area. Get returns (nil, nil)
// for a missing key. No other tab ever writes to it.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Store is the single authoritative holder of a tab's Credential. The
// persisted value is a mirror of the in-memory one: every write goes
// through memory first and the same value is serialized out.
type Store struct {
	storage Storage
	logger  zerolog.Logger

	mu      sync.RWMutex
	current credential.Session
}

type StoreOption func(*Store)

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a Store over storage. The in-memory value starts empty;
// call RetrieveFromStore to load what a previous run left behind.
func New(storage Storage, options ...StoreOption) (*Store, error) {
	if storage == nil {
		return nil, fmt.Errorf("[store.New] storage is required")
	}
	s := &Store{storage: storage, logger: zerolog.Nop()}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Persist makes c current and overwrites the stored value.
func (s *Store) Persist(c credential.Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = credential.HasSession(c)
	if err := s.storage.Set(AuthKey, data); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// RetrieveFromStore reads the stored credential. Missing, unreadable or
// malformed values are NoSession; it never fails.
func (s *Store) RetrieveFromStore() credential.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.storage.Get(AuthKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reading stored credential")
		return credential.NoSession()
	}
	if data == nil {
		return credential.NoSession()
	}

	var c credential.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed stored credential")
		return credential.NoSession()
	}
	return credential.HasSession(c)
}

// Revoke clears the in-memory credential and the stored entry.
func (s *Store) Revoke() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = credential.NoSession()
	if err := s.storage.Delete(AuthKey); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

// Current returns the in-memory credential.
func (s *Store) Current() credential.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
