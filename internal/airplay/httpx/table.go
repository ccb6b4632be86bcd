package httpx

import "sync"

// Table is the registry of live connections, keyed by their stable opaque
// handle. It is the sole source of truth for the "exactly one PTTH
// connection" invariant via CountType.
type Table struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewTable creates an empty connection table.
func NewTable() *Table {
	return &Table{conns: make(map[string]*Connection)}
}

// Add registers c under its ID.
func (t *Table) Add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID()] = c
}

// Remove drops c from the table.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

// Get looks up a connection by its opaque handle.
func (t *Table) Get(id string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

// CountType returns how many live connections currently have the given
// Type, used to enforce that at most one PTTH connection exists.
func (t *Table) CountType(typ Type) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.conns {
		if c.Type() == typ {
			n++
		}
	}
	return n
}

// ReverseConnection returns the sole live PTTHReverse connection, if any.
func (t *Table) ReverseConnection() (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.conns {
		if c.Type() == PTTHReverse {
			return c, true
		}
	}
	return nil, false
}

// CloseAll closes every tracked connection, used by the server's graceful
// shutdown to unblock any goroutine still parked in ReadRequest.
func (t *Table) CloseAll() {
	t.mu.RLock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
