package ledger

import "sync"

// keyLock serializes read-modify-write cycles per user. The file-era design
// relied on the dedup check alone, which leaves a lost-update window when a
// webhook and a redirect confirmation race on the same record; holding the
// per-user lock across the whole cycle closes it.
type keyLock struct {
	mu    sync.Mutex
	locks map[uint]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[uint]*lockEntry)}
}

func (k *keyLock) Lock(id uint) {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyLock) Unlock(id uint) {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		k.mu.Unlock()
		panic("ledger: unlock of unlocked user key")
	}
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, id)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
