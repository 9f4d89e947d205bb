// Package boltstorage keeps a tab's storage area in its own bbolt file,
// so a tab that restarts finds its credential again.
package boltstorage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/go-auth-session/store"
	bolt "go.etcd.io/bbolt"
)

const (
	dirPerm  = fs.FileMode(0o700)
	filePerm = fs.FileMode(0o600)

	// openTimeout bounds the wait for the file lock. Two processes
	// claiming the same tab file is a configuration error.
	openTimeout = 5 * time.Second
)

var sessionBucket = []byte("session")

var _ store.Storage = (*Storage)(nil)

type Storage struct {
	db *bolt.DB
}

// PathForTab returns the database file for tabID under dir.
func PathForTab(dir, tabID string) string {
	return filepath.Join(dir, "tab-"+tabID+".db")
}

// Open opens or creates the database at path.
func Open(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening storage db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing storage db: %w", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(key))
		if v != nil {
			// bbolt memory is only valid inside the transaction.
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

func (s *Storage) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(key), value)
	})
}

func (s *Storage) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(key))
	})
}
