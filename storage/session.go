package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"followmail/utils"

	"go.etcd.io/bbolt"
)

var sessionBucket = []byte("Sessions")

// SessionStorage is a fiber.Storage backed by a bbolt file. Each value is
// stored behind an 8-byte big-endian expiry (unix nanoseconds, 0 = never).
type SessionStorage struct {
	db   *bbolt.DB
	done chan struct{}
	once sync.Once
}

// NewSessionStorage opens (creating if needed) the session file at path and
// starts removing expired entries every gcInterval.
func NewSessionStorage(path string, gcInterval time.Duration) (*SessionStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %v", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %v", sessionBucket, err)
	}

	s := &SessionStorage{db: db, done: make(chan struct{})}
	if gcInterval > 0 {
		go s.gcLoop(gcInterval)
	}
	return s, nil
}

// Get returns nil, nil for missing and expired keys.
func (s *SessionStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}

	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(sessionBucket).Get([]byte(key))
		if len(raw) < 8 {
			return nil
		}
		if expired(raw, time.Now()) {
			return nil
		}
		value = append([]byte(nil), raw[8:]...)
		return nil
	})
	return value, err
}

// Set stores val under key; exp <= 0 keeps it until deleted.
func (s *SessionStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}

	var expiresAt int64
	if exp > 0 {
		expiresAt = time.Now().Add(exp).UnixNano()
	}

	raw := make([]byte, 8+len(val))
	binary.BigEndian.PutUint64(raw[:8], uint64(expiresAt))
	copy(raw[8:], val)

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(key), raw)
	})
}

// Delete removes key.
func (s *SessionStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(key))
	})
}

// Reset removes every session.
func (s *SessionStorage) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(sessionBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(sessionBucket)
		return err
	})
}

// Close stops garbage collection and closes the file.
func (s *SessionStorage) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.db.Close()
}

func (s *SessionStorage) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if n, err := s.gc(now); err != nil {
				utils.Log.Warn("Session cleanup failed: %v", err)
			} else if n > 0 {
				utils.Log.Debug("Removed %d expired sessions", n)
			}
		}
	}
}

func (s *SessionStorage) gc(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if len(v) < 8 || expired(v, now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func expired(raw []byte, now time.Time) bool {
	expiresAt := int64(binary.BigEndian.Uint64(raw[:8]))
	return expiresAt != 0 && now.UnixNano() >= expiresAt
}
