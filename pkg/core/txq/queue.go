// Package txq is the outbound radio queue: one bounded FIFO shared by host
// transmits, forwarded frames and hello broadcasts, plus an airtime shaper.
package txq

import (
	"errors"
	"sync"
	"time"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
)

// Origin records who produced an outbound frame.
type Origin int

const (
	FromHost Origin = iota
	FromForward
	FromDiscovery
)

func (o Origin) String() string {
	switch o {
	case FromHost:
		return "host"
	case FromForward:
		return "forward"
	case FromDiscovery:
		return "discovery"
	default:
		return "unknown"
	}
}

type Item struct {
	Bytes   []byte // encoded frame
	NextHop protocol.NodeAddr
	Origin  Origin
	Arrived time.Time
}

var ErrQueueFull = errors.New("transmit queue full")

// Queue is a bounded FIFO. Enqueue never blocks: a full queue rejects.
type Queue struct {
	mu    sync.Mutex
	buf   []Item
	head  int
	n     int
	ready chan struct{} // one-slot wakeup for the consumer
}

const DefaultCapacity = 16

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]Item, capacity), ready: make(chan struct{}, 1)}
}

// Enqueue appends it or returns ErrQueueFull.
func (q *Queue) Enqueue(it Item) error {
	q.mu.Lock()
	if q.n == len(q.buf) {
		q.mu.Unlock()
		return ErrQueueFull
	}
	if it.Arrived.IsZero() {
		it.Arrived = time.Now()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = it
	q.n++
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// TryDequeue pops the oldest item without waiting.
func (q *Queue) TryDequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return Item{}, false
	}
	it := q.buf[q.head]
	q.buf[q.head] = Item{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return it, true
}

// Ready is signalled after an Enqueue. A consumer should drain with
// TryDequeue after every wakeup since signals coalesce.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *Queue) Cap() int { return len(q.buf) }
