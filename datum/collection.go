package datum

import "sync"

// Collection is an ordered name->Datum mapping, used to treat a task's entire
// output set as a composite handle (§3.2). It exposes the read-only subset of
// Datum's surface relevant to fan-in readiness checks: a Collection's State
// is the least-advanced state among its members, and its Hash aggregates
// member hashes in insertion order.
type Collection struct {
	mu    sync.Mutex
	order []string
	items map[string]Datum
}

// NewCollection returns an empty, ordered Datum collection.
func NewCollection() *Collection {
	return &Collection{items: make(map[string]Datum)}
}

// Set assigns name to d, appending name to the insertion order on first use.
func (c *Collection) Set(name string, d Datum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[name]; !exists {
		c.order = append(c.order, name)
	}
	c.items[name] = d
}

// Get returns the Datum bound to name, if any.
func (c *Collection) Get(name string) (Datum, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.items[name]
	return d, ok
}

// Names returns the bound names in insertion order.
func (c *Collection) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len reports the number of members.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// State reports the least-advanced state among members. An empty collection
// is vacuously AVAILABLE: there is nothing left to wait for.
func (c *Collection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	least := Available
	for _, name := range c.order {
		s := c.items[name].State()
		if s < least {
			least = s
		}
	}
	return least
}

// Hash aggregates member hashes in insertion order. Order-sensitivity is an
// explicit, documented choice (spec.md leaves this open): a Collection is an
// ordered structure throughout this package, so its hash respects that order.
func (c *Collection) Hash() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg := ""
	for _, name := range c.order {
		agg += name + ":" + c.items[name].Hash() + "|"
	}
	return agg
}
