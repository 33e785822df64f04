package inflight

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps leases in process memory. It only excludes conversions run by the
// same process; use the postgres store when several workers share an account.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]Lease
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, leases: make(map[string]Lease)}
}

func (s *MemoryStore) TryAcquire(_ context.Context, key, holder string, ttl time.Duration) (Lease, bool, error) {
	if err := validate(key, holder, ttl); err != nil {
		return Lease{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	if cur, ok := s.leases[key]; ok {
		return cur, false, nil
	}
	l := Lease{Key: key, Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	s.leases[key] = l
	return l, true, nil
}

func (s *MemoryStore) Renew(_ context.Context, key, holder string, ttl time.Duration) (Lease, error) {
	if err := validate(key, holder, ttl); err != nil {
		return Lease{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur, ok := s.leases[key]
	switch {
	case !ok:
		return Lease{}, ErrNotFound
	case cur.Holder != holder:
		return Lease{}, ErrNotOwner
	case !cur.Live(now):
		delete(s.leases, key)
		return Lease{}, ErrExpired
	}
	cur.ExpiresAt = now.Add(ttl)
	s.leases[key] = cur
	return cur, nil
}

func (s *MemoryStore) Release(_ context.Context, key, holder string) error {
	if key == "" || holder == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.leases[key]
	if !ok {
		return nil
	}
	if cur.Holder != holder && cur.Live(s.now()) {
		return ErrNotOwner
	}
	delete(s.leases, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Lease, error) {
	if key == "" {
		return Lease{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.leases[key]
	if !ok || !cur.Live(s.now()) {
		return Lease{}, ErrNotFound
	}
	return cur, nil
}

// sweep drops lapsed leases left behind by conversions whose holder never released.
func (s *MemoryStore) sweep(now time.Time) {
	for k, l := range s.leases {
		if !l.Live(now) {
			delete(s.leases, k)
		}
	}
}
