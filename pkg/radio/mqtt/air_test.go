package mqtt

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
)

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type sink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *sink) RxStart() {}

func (s *sink) RxDone(b []byte, _ error) {
	s.mu.Lock()
	s.frames = append(s.frames, b)
	s.mu.Unlock()
}

func (s *sink) TxDone(error) {}

func TestEnvelope(t *testing.T) {
	var id [idLen]byte
	copy(id[:], "node0001")
	b := encodeEnvelope(id, []byte{1, 2})
	gotID, frame, ok := decodeEnvelope(b)
	if !ok || gotID != id || !bytes.Equal(frame, []byte{1, 2}) {
		t.Fatalf("decode = %x %x %v", gotID, frame, ok)
	}
	if _, _, ok := decodeEnvelope(id[:]); ok {
		t.Fatalf("envelope without frame accepted")
	}
}

func TestOnMessageFiltersOwnEcho(t *testing.T) {
	a := newAir("mesh/868")
	s := &sink{}
	a.SetHandler(s)

	a.onMessage(nil, message{topic: a.topic, payload: encodeEnvelope(a.id, []byte{9})})
	other := a.id
	other[0] ^= 0xff
	a.onMessage(nil, message{topic: a.topic, payload: encodeEnvelope(other, []byte{7, 7})})
	a.onMessage(nil, message{topic: a.topic, payload: []byte{1}})

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) != 1 || !bytes.Equal(s.frames[0], []byte{7, 7}) {
		t.Fatalf("frames = %x", s.frames)
	}
	if a.regs.Read(radio.RegIrqFlags)&radio.IrqRxDone == 0 {
		t.Fatalf("rx done irq not raised")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	a := newAir("mesh/868")
	if err := a.SendFrame(context.Background(), []byte{1}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := a.WriteRegister(context.Background(), radio.RegSyncWord, 0x34); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.ReadRegister(context.Background(), radio.RegSyncWord); v != 0x34 {
		t.Fatalf("register = %#x", v)
	}
}
