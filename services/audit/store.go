// Package audit keeps the durable, indexed trail of external actions and
// their compensation state. Entries are written before the action runs
// and updated by the owning action's lifecycle; nothing is ever deleted
// except by TTL expiry or an explicit actor-data purge.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Store.Get for missing or expired keys.
var ErrNotFound = errors.New("audit: key not found")

// Store is the durable, TTL-capable key/value-and-set store the audit
// trail persists into. Every value write is keyed by a globally unique
// id and set writes are append-only member insertions, so concurrent
// writers never contend on read-modify-write.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// MemoryStore is an in-process Store for tests and single-node use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]memoryValue
	sets   map[string]map[string]time.Time
	now    func() time.Time
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: map[string]memoryValue{},
		sets:   map[string]map[string]time.Time{},
		now:    time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := memoryValue{data: append([]byte(nil), value...)}
	if ttl > 0 {
		v.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = v
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !v.expiresAt.IsZero() && s.now().After(v.expiresAt) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v.data...), nil
}

func (s *MemoryStore) SAdd(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = map[string]time.Time{}
		s.sets[key] = set
	}
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	set[member] = exp
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []string
	for m, exp := range s.sets[key] {
		if !exp.IsZero() && s.now().After(exp) {
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
		delete(s.sets, key)
	}
	return nil
}
