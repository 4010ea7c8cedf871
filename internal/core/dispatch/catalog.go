// Package dispatch maps message types to typed functions. Functions are
// marked declaratively in a Catalog from init() and validated once, the first
// time a Table needs them.
package dispatch

import (
	"sync"
)

// Well-known categories.
const (
	// CategorySpawn marks func(M) (replication.Entity, error) constructors
	// used to create client proxies from spawn messages.
	CategorySpawn = "spawn"
	// CategoryHandle marks func(protocol.PeerID, M) error handlers absorbed by
	// handler.Registry.Scan.
	CategoryHandle = "handle"
	// CategoryServerHandle and CategoryClientHandle are handle marks scanned
	// by one endpoint role only.
	CategoryServerHandle = "handle.server"
	CategoryClientHandle = "handle.client"
)

// Mark is one declaratively registered function.
type Mark struct {
	Category string
	// Owner names the declaring code in diagnostics.
	Owner string
	Fn    any
}

// Catalog collects marks. Marking is expected at process start; scanning
// happens later, so a Catalog is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	marks []Mark
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// Default is the process catalog filled by package init functions.
var Default = NewCatalog()

// Mark records fn under category.
func (c *Catalog) Mark(category, owner string, fn any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks = append(c.marks, Mark{Category: category, Owner: owner, Fn: fn})
}

// Marks returns the marks of one category in registration order.
func (c *Catalog) Marks(category string) []Mark {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Mark
	for _, m := range c.marks {
		if m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.marks)
}

// MarkFunc records fn in the Default catalog.
func MarkFunc(category, owner string, fn any) {
	Default.Mark(category, owner, fn)
}
