package eth

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out nonces for the account a conversion saga signs with. An approve
// and its wrap are reserved back to back without waiting for the first to be mined.
//
// The pending nonce is read from the node only when nothing is cached. A nonce whose
// transaction never left the process is handed back with Return; any other failure
// calls Forget so the node's view wins on the next Reserve.
type NonceManager struct {
	backend PendingNoncer
	addr    common.Address

	mu     sync.Mutex
	next   uint64
	cached bool
}

func NewNonceManager(backend PendingNoncer, addr common.Address) *NonceManager {
	return &NonceManager{backend: backend, addr: addr}
}

func (m *NonceManager) Reserve(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cached {
		n, err := m.backend.PendingNonceAt(ctx, m.addr)
		if err != nil {
			return 0, err
		}
		m.next, m.cached = n, true
	}
	n := m.next
	m.next++
	return n, nil
}

// Return gives back n when it is the latest reservation. Returning an older nonce
// would leave a gap, so the cache is dropped instead.
func (m *NonceManager) Return(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached && m.next == n+1 {
		m.next = n
		return
	}
	m.cached = false
}

func (m *NonceManager) Forget() {
	m.mu.Lock()
	m.cached = false
	m.mu.Unlock()
}
