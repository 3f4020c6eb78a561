package memory

import (
	"context"
	"sync"
	"time"

	"github.com/postwire/postwire-backend/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface. Keys expire
// lazily on access and eagerly via an optional background janitor.
type Store struct {
	mu          sync.Mutex
	strings     map[string][]byte
	hashes      map[string]map[string][]byte
	sets        map[string]map[string]struct{}
	expirations map[string]time.Time

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// New creates a new in-memory store. A positive janitorInterval starts a
// background goroutine that evicts expired keys; zero disables it and relies
// on lazy eviction only.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		strings:     make(map[string][]byte),
		hashes:      make(map[string]map[string][]byte),
		sets:        make(map[string]map[string]struct{}),
		expirations: make(map[string]time.Time),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	} else {
		close(s.janitorDone)
	}

	return s
}

// NewStore creates an in-memory store without a janitor.
func NewStore() *Store {
	return New(0)
}

func (s *Store) janitor(interval time.Duration) {
	defer close(s.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteKeyLocked(key)
		}
	}
}

// expireIfDueLocked lazily evicts the key when its TTL has passed. Must hold the lock.
func (s *Store) expireIfDueLocked(key string) {
	if expiry, ok := s.expirations[key]; ok && time.Now().After(expiry) {
		s.deleteKeyLocked(key)
	}
}

// deleteKeyLocked removes a key from all data structures. Must hold the lock.
func (s *Store) deleteKeyLocked(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.sets, key)
	delete(s.expirations, key)
}

func (s *Store) existsLocked(key string) bool {
	if _, ok := s.strings[key]; ok {
		return true
	}
	if _, ok := s.hashes[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	return false
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteKeyLocked(key)
	s.strings[key] = value

	if len(ttl) > 0 && ttl[0] > 0 {
		s.expirations[key] = time.Now().Add(ttl[0])
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)

	value, exists := s.strings[key]
	if !exists {
		return nil, kv.ErrNotFound
	}

	return value, nil
}

func (s *Store) SetString(ctx context.Context, key string, value string, ttl ...time.Duration) error {
	return s.Set(ctx, key, []byte(value), ttl...)
}

func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		s.expireIfDueLocked(key)
		if s.existsLocked(key) {
			s.deleteKeyLocked(key)
			deleted++
		}
	}

	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, key := range keys {
		s.expireIfDueLocked(key)
		if s.existsLocked(key) {
			count++
		}
	}

	return count, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)
	if !s.existsLocked(key) {
		return false, nil
	}

	if ttl > 0 {
		s.expirations[key] = time.Now().Add(ttl)
	} else {
		delete(s.expirations, key)
	}

	return true, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)
	if !s.existsLocked(key) {
		return 0, kv.ErrNotFound
	}

	expiry, ok := s.expirations[key]
	if !ok {
		// No TTL set; mirrors the Redis convention of -1 for persistent keys
		return -1, nil
	}

	return time.Until(expiry), nil
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, fields map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)

	hash, exists := s.hashes[key]
	if !exists {
		hash = make(map[string][]byte, len(fields))
		s.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = value
	}

	return nil
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)

	hash, exists := s.hashes[key]
	if !exists {
		return nil, kv.ErrNotFound
	}
	value, exists := hash[field]
	if !exists {
		return nil, kv.ErrNotFound
	}

	return value, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)

	hash, exists := s.hashes[key]
	if !exists {
		return nil, kv.ErrNotFound
	}

	out := make(map[string][]byte, len(hash))
	for field, value := range hash {
		out[field] = value
	}

	return out, nil
}

// Set operations

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)

	set, exists := s.sets[key]
	if !exists {
		set = make(map[string]struct{}, len(members))
		s.sets[key] = set
	}

	var added int64
	for _, member := range members {
		m := string(member)
		if _, ok := set[m]; !ok {
			set[m] = struct{}{}
			added++
		}
	}

	return added, nil
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)

	set, exists := s.sets[key]
	if !exists {
		return 0, nil
	}

	var removed int64
	for _, member := range members {
		m := string(member)
		if _, ok := set[m]; ok {
			delete(set, m)
			removed++
		}
	}
	if len(set) == 0 {
		delete(s.sets, key)
		delete(s.expirations, key)
	}

	return removed, nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked(key)

	set, exists := s.sets[key]
	if !exists {
		return nil, kv.ErrNotFound
	}

	members := make([][]byte, 0, len(set))
	for member := range set {
		members = append(members, []byte(member))
	}

	return members, nil
}

// Ping always succeeds; the in-memory store is process-local.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor if one is running.
func (s *Store) Close() error {
	select {
	case <-s.janitorDone:
		// Janitor already stopped or never started
	default:
		close(s.janitorStop)
		<-s.janitorDone
	}
	return nil
}
