// Package saga provides the closed phase machine shared by the conversion sagas.
package saga

import (
	"errors"
	"fmt"
	"sync"
)

var ErrIllegalTransition = errors.New("saga: illegal transition")

// Machine tracks the current phase of one saga invocation and rejects any move that is
// not listed in its transition table.
type Machine[P comparable] struct {
	mu      sync.Mutex
	current P
	allowed map[P]map[P]struct{}
	onMove  func(from, to P)
}

// NewMachine builds a machine starting at initial. edges maps each phase to the phases
// it may move to; phases without an entry are terminal.
func NewMachine[P comparable](initial P, edges map[P][]P) *Machine[P] {
	allowed := make(map[P]map[P]struct{}, len(edges))
	for from, tos := range edges {
		set := make(map[P]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		allowed[from] = set
	}
	return &Machine[P]{current: initial, allowed: allowed}
}

// OnTransition registers fn to run after every accepted move.
func (m *Machine[P]) OnTransition(fn func(from, to P)) {
	m.mu.Lock()
	m.onMove = fn
	m.mu.Unlock()
}

func (m *Machine[P]) Phase() P {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Machine[P]) Can(to P) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.allowed[m.current][to]
	return ok
}

// Terminal reports whether the current phase has no outgoing edges.
func (m *Machine[P]) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allowed[m.current]) == 0
}

func (m *Machine[P]) To(to P) error {
	m.mu.Lock()
	from := m.current
	if _, ok := m.allowed[from][to]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v -> %v", ErrIllegalTransition, from, to)
	}
	m.current = to
	fn := m.onMove
	m.mu.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return nil
}
