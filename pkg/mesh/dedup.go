package mesh

import (
	"hash/fnv"
	"time"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
)

const (
	DefaultDedupSlots  = 32
	DefaultDedupWindow = 30 * time.Second
)

type dedupKey struct {
	src    protocol.NodeAddr
	digest uint64
}

type dedupSlot struct {
	key  dedupKey
	at   time.Time
	used bool
}

// dedupRing remembers recent (source, content digest) pairs in a fixed ring.
// When full the oldest slot is overwritten, so an instance is suppressed for
// at most window and at least until slots newer instances have been seen.
type dedupRing struct {
	slots  []dedupSlot
	next   int
	window time.Duration
}

func newDedupRing(slots int, window time.Duration) *dedupRing {
	if slots <= 0 {
		slots = DefaultDedupSlots
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &dedupRing{slots: make([]dedupSlot, slots), window: window}
}

func keyOf(f protocol.MeshFrame) dedupKey {
	h := fnv.New64a()
	_, _ = h.Write([]byte{byte(f.Destination), byte(f.Kind)})
	_, _ = h.Write(f.Payload)
	return dedupKey{src: f.Source, digest: h.Sum64()}
}

// seen reports whether k was recorded within the window and records it
// otherwise.
func (d *dedupRing) seen(k dedupKey, now time.Time) bool {
	for i := range d.slots {
		s := &d.slots[i]
		if s.used && s.key == k && now.Sub(s.at) <= d.window {
			return true
		}
	}
	d.slots[d.next] = dedupSlot{key: k, at: now, used: true}
	d.next = (d.next + 1) % len(d.slots)
	return false
}
