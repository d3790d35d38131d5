package reconcile

import "sync"

// Balances is the locally displayed balance pair.
type Balances struct {
	Normal        int64
	WatermarkFree int64
}

// Cache is the single owner of the balances shown to the user. The old
// client kept these in scattered module-level globals; here every read and
// write goes through one object, and interested views subscribe to changes
// instead of reaching into shared state.
type Cache struct {
	mu          sync.Mutex
	balances    Balances
	subscribers []func(Balances)
}

func NewCache() *Cache {
	return &Cache{}
}

// Subscribe registers a listener called after every balance change with the
// new snapshot.
func (c *Cache) Subscribe(fn func(Balances)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Balances returns the current snapshot.
func (c *Cache) Balances() Balances {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances
}

// Load replaces the snapshot wholesale, e.g. from persisted local state at
// startup.
func (c *Cache) Load(b Balances) {
	c.mu.Lock()
	c.balances = b
	c.mu.Unlock()
	c.notify()
}

// applyOptimistic bumps the normal balance before server confirmation and
// returns the new value, which becomes the cycle's floor.
func (c *Cache) applyOptimistic(delta int64) int64 {
	c.mu.Lock()
	c.balances.Normal += delta
	floor := c.balances.Normal
	c.mu.Unlock()
	c.notify()
	return floor
}

// mergeAuthoritative folds a server snapshot into the local one without ever
// regressing below the local value or the cycle's optimistic floor. A slow
// server read racing a fast local credit must not make the balance visibly
// drop.
func (c *Cache) mergeAuthoritative(server Balances, floor int64) {
	c.mu.Lock()
	if server.Normal > c.balances.Normal {
		c.balances.Normal = server.Normal
	}
	if floor > c.balances.Normal {
		c.balances.Normal = floor
	}
	if server.WatermarkFree > c.balances.WatermarkFree {
		c.balances.WatermarkFree = server.WatermarkFree
	}
	c.mu.Unlock()
	c.notify()
}

// setAuthoritative adopts the server value outright. Used after consume
// calls, where the balance legitimately goes down.
func (c *Cache) setAuthoritative(server Balances) {
	c.mu.Lock()
	c.balances = server
	c.mu.Unlock()
	c.notify()
}

// debitLocal decrements the local normal balance, flooring at zero. Offline
// fallback for consume when the server cannot be reached.
func (c *Cache) debitLocal(n int64) {
	c.mu.Lock()
	c.balances.Normal -= n
	if c.balances.Normal < 0 {
		c.balances.Normal = 0
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Cache) notify() {
	c.mu.Lock()
	subs := make([]func(Balances), len(c.subscribers))
	copy(subs, c.subscribers)
	snapshot := c.balances
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}
