// Package memory is an in-process Store for single-instance runs and tests.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrKeyNotFound is returned by Get for a missing or expired key.
var ErrKeyNotFound = errors.New("key not found")

type entry struct {
	value   string
	hash    map[string]string
	expires time.Time
}

// Store keeps values in a map guarded by a mutex. Expired keys are dropped lazily.
type Store struct {
	mx   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

// Options configures a Store.
type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewStore creates an empty Store.
func NewStore(options *Options) *Store {
	s := &Store{data: make(map[string]*entry), now: time.Now}
	if options != nil && options.Now != nil {
		s.now = options.Now
	}
	return s
}

// lookup returns a live entry, dropping it when expired. Callers hold mx.
func (s *Store) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *Store) deadline(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return s.now().Add(expiration)
}

// Get returns the string value of key.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	e := s.lookup(key)
	if e == nil || e.hash != nil {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

// Set stores value under key. Zero expiration keeps it forever.
func (s *Store) Set(_ context.Context, key string, value string, expiration time.Duration) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.data[key] = &entry{value: value, expires: s.deadline(expiration)}
	return nil
}

// SetNX stores value only when key is absent.
func (s *Store) SetNX(_ context.Context, key string, value string, expiration time.Duration) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.lookup(key) != nil {
		return false, nil
	}
	s.data[key] = &entry{value: value, expires: s.deadline(expiration)}
	return true, nil
}

// Delete removes keys.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Expire sets a TTL on an existing key. Missing keys are ignored, as in Redis.
func (s *Store) Expire(_ context.Context, key string, expiration time.Duration) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if e := s.lookup(key); e != nil {
		e.expires = s.deadline(expiration)
	}
	return nil
}

// HSet merges values into the hash at key.
func (s *Store) HSet(_ context.Context, key string, values map[string]string) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	e := s.lookup(key)
	if e == nil {
		e = &entry{hash: make(map[string]string, len(values))}
		s.data[key] = e
	}
	if e.hash == nil {
		return errors.Errorf("key %q does not hold a hash", key)
	}
	maps.Copy(e.hash, values)
	return nil
}

// HGetAll returns a copy of the hash at key, empty when missing.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	e := s.lookup(key)
	if e == nil || e.hash == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(e.hash), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close drops all keys.
func (s *Store) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	clear(s.data)
	return nil
}
