package pending

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[common.Hash]Record
	order   []common.Hash

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[common.Hash]Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) RecordBurn(_ context.Context, b Burn) (Record, bool, error) {
	if err := b.Validate(); err != nil {
		return Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[b.BurntAmountHandle]; ok {
		if r.Burn != b {
			return Record{}, false, ErrBurnMismatch
		}
		return r, false, nil
	}
	now := s.now()
	r := Record{Burn: b, State: StateBurnt, CreatedAt: now, UpdatedAt: now}
	s.records[b.BurntAmountHandle] = r
	s.order = append(s.order, b.BurntAmountHandle)
	return r, true, nil
}

func (s *MemoryStore) MarkFinalized(_ context.Context, handle common.Hash, txHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[handle]
	if !ok {
		return ErrNotFound
	}
	switch r.State {
	case StateFinalized:
		if r.FinalizeTxHash == txHash {
			return nil
		}
		return ErrInvalidTransition
	case StateBurnt:
	default:
		return ErrInvalidTransition
	}
	r.State = StateFinalized
	r.FinalizeTxHash = txHash
	r.UpdatedAt = s.now()
	s.records[handle] = r
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, handle common.Hash, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[handle]
	if !ok {
		return ErrNotFound
	}
	if r.State != StateBurnt {
		return ErrInvalidTransition
	}
	r.Attempts++
	r.LastError = reason
	r.UpdatedAt = s.now()
	s.records[handle] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, handle common.Hash) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[handle]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListByState(_ context.Context, state State, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	out := make([]Record, 0, limit)
	for _, h := range s.order {
		r := s.records[h]
		if r.State != state {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRetryable(_ context.Context, chainID uint64, account common.Address, maxAttempts int, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || maxAttempts <= 0 {
		return nil, nil
	}
	out := make([]Record, 0, limit)
	for _, h := range s.order {
		r := s.records[h]
		if r.State != StateBurnt || r.Burn.ChainID != chainID || r.Burn.Account != account || r.Attempts >= maxAttempts {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
