package ledger

import (
	"sync"
	"testing"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	locks := newKeyLock()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock(1)
			defer locks.Unlock(1)
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("counter = %d, want 100", counter)
	}
}

func TestKeyLockIndependentKeys(t *testing.T) {
	locks := newKeyLock()

	locks.Lock(1)
	done := make(chan struct{})
	go func() {
		// Must not block on a different user's lock.
		locks.Lock(2)
		locks.Unlock(2)
		close(done)
	}()
	<-done
	locks.Unlock(1)
}

func TestKeyLockCleansUpEntries(t *testing.T) {
	locks := newKeyLock()
	locks.Lock(42)
	locks.Unlock(42)

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("expected lock table to be empty, has %d entries", len(locks.locks))
	}
}
