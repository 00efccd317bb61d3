package ledger

import "sync"

// lockTable hands out one mutex per market id so operations on different
// markets never contend. Entries are created on first use and kept for the
// process lifetime; the set of live markets is small relative to memory.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a market id, creating it if needed.
func (t *lockTable) get(marketID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[marketID] = l
	}
	return l
}
