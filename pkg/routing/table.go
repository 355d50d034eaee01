// Package routing keeps the mesh routing table: one best next hop per
// destination, learned from observed traffic and hello summaries, aged out
// after a timeout and bounded in size.
//
// A Table is owned by a single goroutine and does no locking.
package routing

import (
	"sort"
	"time"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxRoutes    = 64
	DefaultRouteTimeout = 30 * time.Second
	DefaultStaleAfter   = 12 * time.Second
)

// Entry is one row of the table.
type Entry struct {
	Destination   protocol.NodeAddr
	NextHop       protocol.NodeAddr
	HopCount      uint8
	LastRefreshed time.Time
}

// Direct reports whether the destination is a neighbour.
func (e Entry) Direct() bool { return e.NextHop == e.Destination }

// Change describes what Observe did.
type Change int

const (
	Ignored Change = iota
	Inserted
	Replaced
	Refreshed
)

func (c Change) String() string {
	switch c {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Refreshed:
		return "refreshed"
	default:
		return "ignored"
	}
}

type Options struct {
	MaxRoutes    int
	RouteTimeout time.Duration
	// StaleAfter is the age past which an entry may be displaced by an
	// equal-cost path through a different neighbour.
	StaleAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRoutes <= 0 {
		o.MaxRoutes = DefaultMaxRoutes
	}
	if o.RouteTimeout <= 0 {
		o.RouteTimeout = DefaultRouteTimeout
	}
	if o.StaleAfter <= 0 {
		// same ratio as the defaults
		o.StaleAfter = o.RouteTimeout * 2 / 5
	}
	if o.StaleAfter > o.RouteTimeout {
		o.StaleAfter = o.RouteTimeout
	}
	return o
}

type Table struct {
	opts    Options
	entries map[protocol.NodeAddr]*Entry
}

func New(opts Options) *Table {
	opts = opts.withDefaults()
	return &Table{opts: opts, entries: make(map[protocol.NodeAddr]*Entry, opts.MaxRoutes)}
}

func (t *Table) Options() Options { return t.opts }

func (t *Table) Len() int { return len(t.entries) }

func (t *Table) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.LastRefreshed) > t.opts.RouteTimeout
}

// Observe records that dest is reachable through nextHop at hopCount hops.
// A strictly shorter path always wins. An equal or shorter path through a
// different neighbour wins only once the current entry is older than
// StaleAfter, which keeps two equal paths from flapping.
func (t *Table) Observe(dest, nextHop protocol.NodeAddr, hopCount uint8, now time.Time) Change {
	if dest == protocol.Broadcast || nextHop == protocol.Broadcast || hopCount == 0 {
		return Ignored
	}
	t.EvictExpired(now)

	cur, ok := t.entries[dest]
	if !ok {
		if len(t.entries) >= t.opts.MaxRoutes {
			t.evictOldest()
		}
		t.entries[dest] = &Entry{Destination: dest, NextHop: nextHop, HopCount: hopCount, LastRefreshed: now}
		return Inserted
	}
	if cur.NextHop == nextHop {
		// a neighbour stays one hop away whatever path the report took
		if !cur.Direct() {
			cur.HopCount = hopCount
		}
		cur.LastRefreshed = now
		return Refreshed
	}
	if hopCount < cur.HopCount || (hopCount <= cur.HopCount && now.Sub(cur.LastRefreshed) > t.opts.StaleAfter) {
		cur.NextHop = nextHop
		cur.HopCount = hopCount
		cur.LastRefreshed = now
		return Replaced
	}
	return Ignored
}

// Touch marks the live entry for dest as just confirmed without changing its
// next hop or hop count.
func (t *Table) Touch(dest protocol.NodeAddr, now time.Time) Change {
	t.EvictExpired(now)
	cur, ok := t.entries[dest]
	if !ok {
		return Ignored
	}
	cur.LastRefreshed = now
	return Refreshed
}

// Lookup returns the next hop towards dest.
func (t *Table) Lookup(dest protocol.NodeAddr, now time.Time) (protocol.NodeAddr, bool) {
	e, ok := t.Get(dest, now)
	if !ok {
		return 0, false
	}
	return e.NextHop, true
}

// Get returns a copy of the live entry for dest.
func (t *Table) Get(dest protocol.NodeAddr, now time.Time) (Entry, bool) {
	t.EvictExpired(now)
	e, ok := t.entries[dest]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// EvictExpired drops every entry older than RouteTimeout and returns how
// many were removed.
func (t *Table) EvictExpired(now time.Time) int {
	n := 0
	for k, e := range t.entries {
		if t.expired(e, now) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// evictOldest removes the least recently refreshed entry.
func (t *Table) evictOldest() {
	var victim *Entry
	for _, e := range t.entries {
		if victim == nil || e.LastRefreshed.Before(victim.LastRefreshed) ||
			(e.LastRefreshed.Equal(victim.LastRefreshed) && e.Destination < victim.Destination) {
			victim = e
		}
	}
	if victim != nil {
		delete(t.entries, victim.Destination)
	}
}

// Entries returns live entries ordered by hop count, then destination.
func (t *Table) Entries(now time.Time) []Entry {
	t.EvictExpired(now)
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HopCount != out[j].HopCount {
			return out[i].HopCount < out[j].HopCount
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}
