// Package trade provides the keyed record collections of the simulated
// broker: open/closed positions with their margin map, historical orders,
// and historical deals.
//
// The containers carry no locks. They are mutated only by the engine, and
// engine mutations only run between barrier checkpoints, so access is
// already serialized by the control loop.
package trade

// Manager is a generic ticket-keyed collection with insertion-ordered
// iteration. It underlies the positions, orders and deals managers.
type Manager[T any] struct {
	keys  []int64
	items map[int64]T
}

// NewManager creates an empty collection.
func NewManager[T any]() *Manager[T] {
	return &Manager[T]{items: make(map[int64]T)}
}

// Get returns the record for a ticket.
func (m *Manager[T]) Get(ticket int64) (T, bool) {
	item, ok := m.items[ticket]
	return item, ok
}

// Set inserts or replaces the record for a ticket.
func (m *Manager[T]) Set(ticket int64, item T) {
	if _, ok := m.items[ticket]; !ok {
		m.keys = append(m.keys, ticket)
	}
	m.items[ticket] = item
}

// Update applies mutate to the record in place. Returns false for an
// unknown ticket.
func (m *Manager[T]) Update(ticket int64, mutate func(*T)) bool {
	item, ok := m.items[ticket]
	if !ok {
		return false
	}
	mutate(&item)
	m.items[ticket] = item
	return true
}

// Delete removes a record entirely.
func (m *Manager[T]) Delete(ticket int64) {
	if _, ok := m.items[ticket]; !ok {
		return
	}
	delete(m.items, ticket)
	for i, k := range m.keys {
		if k == ticket {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Contains reports whether a ticket exists.
func (m *Manager[T]) Contains(ticket int64) bool {
	_, ok := m.items[ticket]
	return ok
}

// Len returns the number of records.
func (m *Manager[T]) Len() int {
	return len(m.items)
}

// Keys returns all tickets in insertion order.
func (m *Manager[T]) Keys() []int64 {
	return append([]int64(nil), m.keys...)
}

// Values returns all records in insertion order.
func (m *Manager[T]) Values() []T {
	out := make([]T, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.items[k])
	}
	return out
}

// ToMap returns a copy of the collection keyed by ticket (snapshots).
func (m *Manager[T]) ToMap() map[int64]T {
	out := make(map[int64]T, len(m.items))
	for k, v := range m.items {
		out[k] = v
	}
	return out
}
