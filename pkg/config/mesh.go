package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NodeConfig identifies the local station.
type NodeConfig struct {
	// Addr is the one-byte mesh address, 0x01..0xFE.
	Addr int    `mapstructure:"addr"`
	Name string `mapstructure:"name"`
}

func (n *NodeConfig) validate() error {
	if n.Addr <= 0x00 || n.Addr >= 0xFF {
		return fmt.Errorf("invalid node.addr: %#x (0x00 and 0xff are reserved)", n.Addr)
	}
	if strings.TrimSpace(n.Name) == "" {
		n.Name = fmt.Sprintf("node-%02x", n.Addr)
	}
	return nil
}

// MeshConfig tunes routing and discovery.
type MeshConfig struct {
	HelloIntervalMS      int  `mapstructure:"hello_interval_ms"`
	HelloAdvertiseRoutes bool `mapstructure:"hello_advertise_routes"`
	RouteTimeoutMS       int  `mapstructure:"route_timeout_ms"`
	// RouteStaleMS is the age after which an equal-cost path may replace a route.
	RouteStaleMS  int `mapstructure:"route_stale_ms"`
	MaxRoutes     int `mapstructure:"max_routes"`
	MaxTTL        int `mapstructure:"max_ttl"`
	DedupSlots    int `mapstructure:"dedup_slots"`
	DedupWindowMS int `mapstructure:"dedup_window_ms"`
	RxQueue       int `mapstructure:"rx_queue"`
	CommandQueue  int `mapstructure:"command_queue"`
}

func defaultMesh() MeshConfig {
	return MeshConfig{
		HelloIntervalMS:      5000,
		HelloAdvertiseRoutes: true,
		RouteTimeoutMS:       30000,
		RouteStaleMS:         12000,
		MaxRoutes:            64,
		MaxTTL:               5,
		DedupSlots:           32,
		DedupWindowMS:        30000,
		RxQueue:              32,
		CommandQueue:         16,
	}
}

func seedMesh(v *viper.Viper, m MeshConfig) {
	v.SetDefault("mesh.hello_interval_ms", m.HelloIntervalMS)
	v.SetDefault("mesh.hello_advertise_routes", m.HelloAdvertiseRoutes)
	v.SetDefault("mesh.route_timeout_ms", m.RouteTimeoutMS)
	v.SetDefault("mesh.route_stale_ms", m.RouteStaleMS)
	v.SetDefault("mesh.max_routes", m.MaxRoutes)
	v.SetDefault("mesh.max_ttl", m.MaxTTL)
	v.SetDefault("mesh.dedup_slots", m.DedupSlots)
	v.SetDefault("mesh.dedup_window_ms", m.DedupWindowMS)
	v.SetDefault("mesh.rx_queue", m.RxQueue)
	v.SetDefault("mesh.command_queue", m.CommandQueue)
}

func (m *MeshConfig) validate() error {
	switch {
	case m.HelloIntervalMS <= 0:
		return fmt.Errorf("invalid mesh.hello_interval_ms: %d", m.HelloIntervalMS)
	case m.RouteTimeoutMS <= 0:
		return fmt.Errorf("invalid mesh.route_timeout_ms: %d", m.RouteTimeoutMS)
	case m.RouteStaleMS <= 0 || m.RouteStaleMS >= m.RouteTimeoutMS:
		return fmt.Errorf("invalid mesh.route_stale_ms: %d (must be below route_timeout_ms)", m.RouteStaleMS)
	case m.MaxRoutes <= 0 || m.MaxRoutes > 254:
		return fmt.Errorf("invalid mesh.max_routes: %d", m.MaxRoutes)
	case m.MaxTTL <= 0 || m.MaxTTL > 255:
		return fmt.Errorf("invalid mesh.max_ttl: %d", m.MaxTTL)
	}
	if m.DedupSlots <= 0 {
		m.DedupSlots = 32
	}
	if m.DedupWindowMS <= 0 {
		m.DedupWindowMS = 30000
	}
	return nil
}

func (m MeshConfig) HelloInterval() time.Duration { return ms(m.HelloIntervalMS) }
func (m MeshConfig) RouteTimeout() time.Duration  { return ms(m.RouteTimeoutMS) }
func (m MeshConfig) RouteStale() time.Duration    { return ms(m.RouteStaleMS) }
func (m MeshConfig) DedupWindow() time.Duration   { return ms(m.DedupWindowMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
