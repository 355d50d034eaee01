package mesh

import (
	"time"

	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/routing"
)

const DefaultHelloInterval = 5 * time.Second

// SchedulerConfig controls Hello emission.
type SchedulerConfig struct {
	Self     protocol.NodeAddr
	Interval time.Duration
	MaxTTL   uint8
	// AdvertiseRoutes attaches the table summary to every Hello. When false
	// a Hello only announces the sender.
	AdvertiseRoutes bool
}

// Scheduler decides when a Hello is due. It has no timer of its own; the
// Driver calls Tick from its processing goroutine.
type Scheduler struct {
	cfg   SchedulerConfig
	table *routing.Table
	next  time.Time
	armed bool
}

func NewScheduler(cfg SchedulerConfig, table *routing.Table) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHelloInterval
	}
	if cfg.MaxTTL == 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	return &Scheduler{cfg: cfg, table: table}
}

func (s *Scheduler) Interval() time.Duration { return s.cfg.Interval }

// Tick ages the table and returns a Hello when one is due. The first call
// always emits; later ones emit once per interval.
func (s *Scheduler) Tick(now time.Time) (protocol.MeshFrame, bool) {
	if n := s.table.EvictExpired(now); n > 0 {
		zap.L().Debug("routes expired", zap.Int("count", n))
	}
	if s.armed && now.Before(s.next) {
		return protocol.MeshFrame{}, false
	}
	s.next = s.next.Add(s.cfg.Interval)
	if !s.armed || !s.next.After(now) {
		s.next = now.Add(s.cfg.Interval)
	}
	s.armed = true
	return s.hello(now), true
}

func (s *Scheduler) hello(now time.Time) protocol.MeshFrame {
	f := protocol.MeshFrame{
		Source:      s.cfg.Self,
		Destination: protocol.Broadcast,
		NextHop:     protocol.Broadcast,
		TTL:         1,
		Kind:        protocol.KindHello,
	}
	if !s.cfg.AdvertiseRoutes {
		return f
	}
	entries := s.table.Entries(now)
	routes := make([]protocol.HelloRoute, 0, len(entries))
	for _, e := range entries {
		if e.HopCount >= s.cfg.MaxTTL {
			continue
		}
		routes = append(routes, protocol.HelloRoute{Dest: e.Destination, Hops: e.HopCount, Via: e.NextHop})
	}
	if len(routes) == 0 {
		return f
	}
	b, err := protocol.EncodeHello(routes)
	if err != nil {
		zap.L().Warn("hello summary dropped", zap.Error(err))
		return f
	}
	f.Payload = b
	return f
}
