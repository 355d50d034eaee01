// Package mem is an in-process radio medium. Radios attached to a Medium
// hear each other only over explicit links, which lets tests build any
// topology (chains, stars, partitions) without hardware.
package mem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
)

// DropFunc decides whether a frame from one radio is lost on its way to
// another. Returning true drops it.
type DropFunc func(from, to string, frame []byte) bool

// Medium is an ideal shared channel: no collisions, no airtime, delivery in
// send order per sender.
type Medium struct {
	mu     sync.Mutex
	radios map[string]*Radio
	links  map[string]map[string]struct{}
	drop   DropFunc
}

func New() *Medium {
	return &Medium{radios: make(map[string]*Radio), links: make(map[string]map[string]struct{})}
}

// Attach registers a radio under name. Names are unique per medium.
func (m *Medium) Attach(name string) (*Radio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.radios[name]; ok {
		return nil, fmt.Errorf("mem: radio %q already attached", name)
	}
	r := &Radio{name: name, m: m, regs: radio.NewRegisterFile()}
	m.radios[name] = r
	return r, nil
}

// Link makes a and b hear each other.
func (m *Medium) Link(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.link(a, b)
	m.link(b, a)
}

// Unlink removes the link between a and b in both directions.
func (m *Medium) Unlink(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links[a], b)
	delete(m.links[b], a)
}

func (m *Medium) link(from, to string) {
	if from == to {
		return
	}
	set := m.links[from]
	if set == nil {
		set = make(map[string]struct{})
		m.links[from] = set
	}
	set[to] = struct{}{}
}

// SetDrop installs a loss model; nil restores the ideal channel.
func (m *Medium) SetDrop(fn DropFunc) {
	m.mu.Lock()
	m.drop = fn
	m.mu.Unlock()
}

func (m *Medium) neighbours(from string) ([]*Radio, DropFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Radio, 0, len(m.links[from]))
	for name := range m.links[from] {
		if r := m.radios[name]; r != nil {
			out = append(out, r)
		}
	}
	return out, m.drop
}

func (m *Medium) detach(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.radios, name)
}

// Radio is one attached transceiver. It implements radio.Transceiver with an
// emulated register file.
type Radio struct {
	name string
	m    *Medium
	regs *radio.RegisterFile

	mu     sync.Mutex
	h      radio.Handler
	closed bool
}

var _ radio.Transceiver = (*Radio)(nil)

func (r *Radio) Name() string { return r.name }

// Registers exposes the emulated register file for inspection.
func (r *Radio) Registers() *radio.RegisterFile { return r.regs }

func (r *Radio) SetHandler(h radio.Handler) {
	r.mu.Lock()
	r.h = h
	r.mu.Unlock()
}

func (r *Radio) handler() radio.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.h
}

func (r *Radio) ReadRegister(_ context.Context, addr uint8) (uint8, error) {
	if r.isClosed() {
		return 0, radio.ErrClosed
	}
	return r.regs.Read(addr), nil
}

func (r *Radio) WriteRegister(_ context.Context, addr, value uint8) error {
	if r.isClosed() {
		return radio.ErrClosed
	}
	r.regs.Write(addr, value)
	return nil
}

// SendFrame hands a copy of frame to every linked radio, then reports TxDone
// to the sender. Delivery happens on a separate goroutine.
func (r *Radio) SendFrame(_ context.Context, frame []byte) error {
	if r.isClosed() {
		return radio.ErrClosed
	}
	if len(frame) == 0 {
		return errors.New("mem: empty frame")
	}
	buf := append([]byte(nil), frame...)
	peers, drop := r.m.neighbours(r.name)
	go func() {
		for _, p := range peers {
			if drop != nil && drop(r.name, p.name, buf) {
				continue
			}
			p.receive(buf)
		}
		r.regs.Raise(radio.IrqTxDone)
		if h := r.handler(); h != nil {
			h.TxDone(nil)
		}
	}()
	return nil
}

func (r *Radio) receive(frame []byte) {
	h := r.handler()
	if h == nil {
		return
	}
	r.regs.Write(radio.RegRxNbBytes, uint8(len(frame)))
	r.regs.Raise(radio.IrqValidHeader | radio.IrqRxDone)
	h.RxStart()
	h.RxDone(append([]byte(nil), frame...), nil)
}

func (r *Radio) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close detaches the radio. Later calls fail with radio.ErrClosed.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.m.detach(r.name)
	return nil
}
