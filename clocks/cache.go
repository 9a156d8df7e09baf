package clocks

import "sync/atomic"

// Reader answers "what is node n running at". Peripheral drivers depend on
// this rather than on a Config.
type Reader interface {
	KHz(n Node) (uint32, bool)
}

// Cache holds the frequencies of the last successful apply, one atomic slot
// per node. A single Sequencer writes it; any number of goroutines read it
// without locking. Readers racing an apply see each node either before or
// after, never torn.
type Cache struct {
	slots [NumNodes]atomic.Uint32
}

var _ Reader = (*Cache)(nil)

// NewCache returns a cache with every node not driven.
func NewCache() *Cache { return &Cache{} }

// KHz returns the last applied frequency of n.
func (c *Cache) KHz(n Node) (uint32, bool) {
	if n >= NumNodes {
		return 0, false
	}
	v := c.slots[n].Load()
	return v, v != 0
}

// Snapshot loads every slot. Slots are read one at a time.
func (c *Cache) Snapshot() Frequencies {
	var f Frequencies
	for n := range f {
		f[n] = c.slots[n].Load()
	}
	return f
}

func (c *Cache) publish(f Frequencies) {
	for n, v := range f {
		c.slots[n].Store(v)
	}
}
