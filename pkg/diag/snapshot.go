// Package diag exports routing table snapshots for operators. The driver
// only writes them; loramesh-ctl reads them back.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/mesh"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol/codec"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/routing"
)

// Route is one exported table row.
type Route struct {
	Destination uint8 `json:"destination" cbor:"destination"`
	NextHop     uint8 `json:"next_hop" cbor:"next_hop"`
	Hops        uint8 `json:"hops" cbor:"hops"`
	AgeMS       int64 `json:"age_ms" cbor:"age_ms"`
}

// Snapshot is the exported state of one node.
type Snapshot struct {
	Node        uint8             `json:"node" cbor:"node"`
	Name        string            `json:"name" cbor:"name"`
	TakenUnixMS int64             `json:"taken_unix_ms" cbor:"taken_unix_ms"`
	Routes      []Route           `json:"routes" cbor:"routes"`
	Counters    map[string]uint64 `json:"counters,omitempty" cbor:"counters,omitempty"`
}

// Build assembles a snapshot from live entries and driver counters.
func Build(name string, self uint8, entries []routing.Entry, st mesh.Stats, now time.Time) Snapshot {
	s := Snapshot{Node: self, Name: name, TakenUnixMS: now.UnixMilli(), Routes: make([]Route, 0, len(entries))}
	for _, e := range entries {
		s.Routes = append(s.Routes, Route{
			Destination: uint8(e.Destination),
			NextHop:     uint8(e.NextHop),
			Hops:        e.HopCount,
			AgeMS:       now.Sub(e.LastRefreshed).Milliseconds(),
		})
	}
	s.Counters = map[string]uint64{
		"rx_frames":     st.RxFrames,
		"decode_errors": st.DecodeErrors,
		"delivered":     st.Delivered,
		"forwarded":     st.Forwarded,
		"originated":    st.Originated,
		"hellos_sent":   st.HellosSent,
		"tx_rejected":   st.TxRejected,
		"radio_tx":      st.Radio.TxFrames,
		"radio_faults":  st.Radio.TxFaults,
		"radio_rx_drop": st.Radio.RxDropped,
	}
	for reason, n := range st.Drops {
		s.Counters["drop_"+reason] = n
	}
	return s
}

// FormatFor picks a codec name from an explicit format or the file
// extension.
func FormatFor(path, format string) string {
	if format = strings.TrimSpace(format); format != "" {
		return format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor":
		return "cbor"
	case ".pb", ".proto", ".bin":
		return "proto"
	default:
		return "json"
	}
}

// Write encodes s and replaces path atomically.
func Write(path, format string, s Snapshot) error {
	c, err := lookup(FormatFor(path, format))
	if err != nil {
		return err
	}
	b, err := c.Marshal(s)
	if err != nil {
		return fmt.Errorf("diag: encode %s: %w", c.Name(), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".routes-*")
	if err != nil {
		return fmt.Errorf("diag: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("diag: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("diag: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Read loads a snapshot written by Write.
func Read(path, format string) (Snapshot, error) {
	var s Snapshot
	c, err := lookup(FormatFor(path, format))
	if err != nil {
		return s, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("diag: %w", err)
	}
	if err := c.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("diag: decode %s: %w", c.Name(), err)
	}
	return s, nil
}

func lookup(format string) (codec.Codec, error) {
	reg, err := codec.NewRegistry()
	if err != nil {
		return nil, err
	}
	return reg.Lookup(format)
}
