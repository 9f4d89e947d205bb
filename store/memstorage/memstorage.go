package memstorage

import (
	"sync"

	"github.com/jrsteele09/go-auth-session/store"
)

var _ store.Storage = (*Storage)(nil)

// Storage keeps values in memory. It lives as long as the tab that
// owns it, like a browser's sessionStorage.
type Storage struct {
	values map[string][]byte
	lock   sync.RWMutex
}

func New() *Storage {
	return &Storage{values: make(map[string][]byte)}
}

func (s *Storage) Get(key string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *Storage) Set(key string, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *Storage) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.values, key)
	return nil
}
