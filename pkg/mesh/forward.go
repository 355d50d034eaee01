// Package mesh is the forwarding and routing layer of a LoRa node.
//
// An Engine decides the fate of every frame: delivered locally, forwarded
// toward its destination, or dropped. A Scheduler produces periodic Hello
// broadcasts. A Driver owns both together with the routing table and the
// radio sequencer, and runs them on one processing goroutine.
package mesh

import (
	"time"

	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/routing"
)

const DefaultMaxTTL = 5

// Disposition is the terminal outcome of one forwarding decision.
type Disposition int

const (
	Drop Disposition = iota
	Local
	Forward
)

func (d Disposition) String() string {
	switch d {
	case Local:
		return "local"
	case Forward:
		return "forward"
	default:
		return "drop"
	}
}

// DropReason says why a frame was dropped.
type DropReason int

const (
	NotDropped DropReason = iota
	DropLoop
	DropTTLExpired
	DropNotForUs
	DropDuplicate
	DropNoRoute
	DropNoConnectivity
	DropBadHello
	DropBadSource
	numDropReasons
)

func (r DropReason) String() string {
	switch r {
	case NotDropped:
		return "none"
	case DropLoop:
		return "loop"
	case DropTTLExpired:
		return "ttl_expired"
	case DropNotForUs:
		return "not_for_us"
	case DropDuplicate:
		return "duplicate"
	case DropNoRoute:
		return "no_route"
	case DropNoConnectivity:
		return "no_connectivity"
	case DropBadHello:
		return "bad_hello"
	case DropBadSource:
		return "bad_source"
	default:
		return "unknown"
	}
}

// Decision is what the engine wants done with a frame. The engine itself
// performs no I/O.
type Decision struct {
	Disposition Disposition
	Reason      DropReason
	// Deliver is set when Payload goes upward. An empty payload is still
	// delivered.
	Deliver bool
	Payload []byte
	From    protocol.NodeAddr
	// Out is the frame to enqueue for transmission, nil when none.
	Out *protocol.MeshFrame
	// Learned is the routing table change caused by passive observation.
	Learned routing.Change
}

// EngineConfig holds the forwarding parameters.
type EngineConfig struct {
	Self        protocol.NodeAddr
	MaxTTL      uint8
	DedupSlots  int
	DedupWindow time.Duration
}

// Engine makes forwarding decisions. It is not safe for concurrent use; the
// Driver calls it from its processing goroutine only.
type Engine struct {
	self   protocol.NodeAddr
	maxTTL uint8
	table  *routing.Table
	dedup  *dedupRing
}

func NewEngine(cfg EngineConfig, table *routing.Table) *Engine {
	if cfg.MaxTTL == 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	return &Engine{
		self:   cfg.Self,
		maxTTL: cfg.MaxTTL,
		table:  table,
		dedup:  newDedupRing(cfg.DedupSlots, cfg.DedupWindow),
	}
}

func (e *Engine) Self() protocol.NodeAddr { return e.self }
func (e *Engine) MaxTTL() uint8           { return e.maxTTL }
func (e *Engine) Table() *routing.Table   { return e.table }

// hopsFrom derives how far away the source is from the remaining TTL. Every
// originator starts at MaxTTL and every relay decrements once, so a frame
// heard with MaxTTL came straight from its source.
func (e *Engine) hopsFrom(f protocol.MeshFrame) uint8 {
	if f.Kind == protocol.KindHello || f.TTL >= e.maxTTL {
		return 1
	}
	return e.maxTTL - f.TTL + 1
}

// observe learns from any received frame. A frame straight from its source
// proves a direct link. A relayed frame names no previous hop and may have
// taken any path, so it only keeps an already known route to its source
// alive.
func (e *Engine) observe(f protocol.MeshFrame, now time.Time) routing.Change {
	if e.hopsFrom(f) == 1 {
		return e.table.Observe(f.Source, f.Source, 1, now)
	}
	return e.table.Touch(f.Source, now)
}

func drop(r DropReason) Decision { return Decision{Disposition: Drop, Reason: r} }

// Receive decides what to do with a frame that arrived over the air.
func (e *Engine) Receive(f protocol.MeshFrame, now time.Time) Decision {
	switch {
	case f.Source == e.self:
		return drop(DropLoop)
	case f.Source.IsBroadcast() || f.Source == protocol.Unassigned:
		return drop(DropBadSource)
	}

	learned := e.observe(f, now)
	d := e.decide(f, now)
	d.Learned = learned
	if d.Disposition == Drop {
		zap.L().Debug("frame dropped", zap.Stringer("frame", f), zap.Stringer("reason", d.Reason))
	}
	return d
}

func (e *Engine) decide(f protocol.MeshFrame, now time.Time) Decision {
	if f.TTL == 0 {
		return drop(DropTTLExpired)
	}
	if f.Kind == protocol.KindHello {
		return e.consumeHello(f, now)
	}
	if f.NextHop != e.self && !f.NextHop.IsBroadcast() {
		return drop(DropNotForUs)
	}
	if f.NextHop.IsBroadcast() && e.dedup.seen(keyOf(f), now) {
		return drop(DropDuplicate)
	}

	if f.Destination == e.self {
		return Decision{Disposition: Local, Deliver: true, Payload: f.Payload, From: f.Source}
	}

	ttl := f.TTL - 1
	if f.Destination.IsBroadcast() {
		d := Decision{Disposition: Local, Deliver: true, Payload: f.Payload, From: f.Source}
		if ttl > 0 {
			out := f
			out.TTL = ttl
			out.NextHop = protocol.Broadcast
			d.Disposition = Forward
			d.Out = &out
		}
		return d
	}

	if ttl == 0 {
		return drop(DropTTLExpired)
	}
	next, ok := e.table.Lookup(f.Destination, now)
	if !ok {
		return drop(DropNoRoute)
	}
	out := f
	out.TTL = ttl
	out.NextHop = next
	return Decision{Disposition: Forward, Out: &out}
}

// consumeHello folds a neighbour's advertised routes into the table. The
// sender itself was already learned as a direct neighbour by observe.
func (e *Engine) consumeHello(f protocol.MeshFrame, now time.Time) Decision {
	sum, err := protocol.DecodeHello(f.Payload)
	if err != nil {
		return drop(DropBadHello)
	}
	for _, r := range sum.Routes {
		switch {
		case r.Dest == e.self, r.Dest == f.Source, r.Dest.IsBroadcast(), r.Dest == protocol.Unassigned:
			continue
		case r.Via == e.self:
			// split horizon: the sender reaches it through us
			continue
		case r.Hops == 0 || r.Hops >= e.maxTTL:
			continue
		}
		e.table.Observe(r.Dest, f.Source, r.Hops+1, now)
	}
	return Decision{Disposition: Local, From: f.Source}
}

// Originate builds the frame for a locally submitted payload. A miss on a
// non-empty table floods one hop so the frame is not lost; with no
// neighbours at all it fails with ErrNoRoute.
func (e *Engine) Originate(dst protocol.NodeAddr, payload []byte, now time.Time) (Decision, error) {
	if len(payload) > protocol.MaxPayload {
		return drop(NotDropped), protocol.ErrPayloadTooLarge
	}
	body := append([]byte(nil), payload...)
	if dst == e.self {
		return Decision{Disposition: Local, Deliver: true, Payload: body, From: e.self}, nil
	}
	f := protocol.MeshFrame{
		Source:      e.self,
		Destination: dst,
		TTL:         e.maxTTL,
		Kind:        protocol.KindData,
		Payload:     body,
	}
	switch next, ok := e.table.Lookup(dst, now); {
	case dst.IsBroadcast():
		f.NextHop = protocol.Broadcast
	case ok:
		f.NextHop = next
	case e.table.Len() > 0:
		zap.L().Debug("no route, flooding one hop", zap.Stringer("dst", dst))
		f.NextHop = protocol.Broadcast
	default:
		return drop(DropNoConnectivity), ErrNoRoute
	}
	if f.NextHop.IsBroadcast() {
		e.dedup.seen(keyOf(f), now)
	}
	return Decision{Disposition: Forward, Out: &f}, nil
}
