package refresh

import (
	"fmt"
	"sync"
)

// Kind identifies the mutating operation a version counter tracks.
type Kind int

const (
	KindCreate Kind = iota
	KindDelete
	KindUpdate
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	case KindUpdate:
		return "update"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Versions is the derived cache key of the application list: one
// counter per mutation kind. Each field only ever grows.
type Versions struct {
	Create uint64 `json:"create"`
	Delete uint64 `json:"delete"`
	Update uint64 `json:"update"`
}

// Total is the number of mutations recorded so far. Because every bump
// happens under one lock, snapshots are totally ordered by Total.
func (v Versions) Total() uint64 {
	return v.Create + v.Delete + v.Update
}

func (v Versions) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.Create, v.Delete, v.Update)
}

// Counters holds the three version counters. Bump and Snapshot are
// atomic with respect to each other, so no reader ever observes a tuple
// that goes backward.
type Counters struct {
	mu sync.Mutex
	v  Versions
}

// Bump increments the counter for k and returns the resulting tuple.
func (c *Counters) Bump(k Kind) Versions {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch k {
	case KindCreate:
		c.v.Create++
	case KindDelete:
		c.v.Delete++
	case KindUpdate:
		c.v.Update++
	}
	return c.v
}

// Snapshot returns the current tuple.
func (c *Counters) Snapshot() Versions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}
