package radio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/core/txq"
)

// fakeRadio records transactions and lets the test fire interrupts.
type fakeRadio struct {
	mu      sync.Mutex
	h       Handler
	regs    *RegisterFile
	sent    [][]byte
	sendErr error
	// busyDuring is set when a transaction hits the chip while the test
	// considers a receive in flight.
	receiving  bool
	busyDuring int
}

func newFakeRadio() *fakeRadio { return &fakeRadio{regs: NewRegisterFile()} }

func (f *fakeRadio) SetHandler(h Handler) { f.h = h }

func (f *fakeRadio) ReadRegister(_ context.Context, addr uint8) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiving {
		f.busyDuring++
	}
	return f.regs.Read(addr), nil
}

func (f *fakeRadio) WriteRegister(_ context.Context, addr, v uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiving {
		f.busyDuring++
	}
	f.regs.Write(addr, v)
	return nil
}

func (f *fakeRadio) SendFrame(_ context.Context, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiving {
		f.busyDuring++
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeRadio) setReceiving(v bool) {
	f.mu.Lock()
	f.receiving = v
	f.mu.Unlock()
}

func (f *fakeRadio) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startSeq(t *testing.T, f *fakeRadio, opts Options) *Sequencer {
	t.Helper()
	s := NewSequencer(f, opts)
	s.Start(context.Background())
	t.Cleanup(s.Close)
	return s
}

func TestSequencerTransmitCycle(t *testing.T) {
	f := newFakeRadio()
	s := startSeq(t, f, Options{})
	if err := s.Submit([]byte{1, 2, 3}, 2, txq.FromHost); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "transmitting", func() bool { return s.State() == Transmitting })
	if f.sentCount() != 1 {
		t.Fatalf("sent = %d", f.sentCount())
	}
	// second frame waits for TxDone of the first
	_ = s.Submit([]byte{4}, 2, txq.FromForward)
	time.Sleep(20 * time.Millisecond)
	if f.sentCount() != 1 {
		t.Fatalf("second frame sent before tx done")
	}
	f.h.TxDone(nil)
	waitFor(t, "second send", func() bool { return f.sentCount() == 2 })
	f.h.TxDone(nil)
	waitFor(t, "idle", func() bool { return s.State() == Idle })
	if st := s.Stats(); st.TxFrames != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSequencerDefersTransmitDuringReceive(t *testing.T) {
	f := newFakeRadio()
	var got [][]byte
	var mu sync.Mutex
	s := startSeq(t, f, Options{OnFrame: func(b []byte) bool {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
		return true
	}})

	f.setReceiving(true)
	f.h.RxStart()
	waitFor(t, "receiving", func() bool { return s.State() == Receiving })

	if err := s.Submit([]byte{9}, 3, txq.FromHost); err != nil {
		t.Fatalf("submit mid-receive must queue, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if f.sentCount() != 0 || s.QueueLen() != 1 {
		t.Fatalf("transmit not deferred: sent=%d queued=%d", f.sentCount(), s.QueueLen())
	}

	f.setReceiving(false)
	f.h.RxDone([]byte{0xAA}, nil)
	waitFor(t, "deferred send", func() bool { return f.sentCount() == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0][0] != 0xAA {
		t.Fatalf("frame not delivered: %v", got)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busyDuring != 0 {
		t.Fatalf("chip touched %d times during receive", f.busyDuring)
	}
}

func TestSequencerRegisterAccessWaitsForIdle(t *testing.T) {
	f := newFakeRadio()
	s := startSeq(t, f, Options{})

	f.setReceiving(true)
	f.h.RxStart()
	waitFor(t, "receiving", func() bool { return s.State() == Receiving })

	done := make(chan error, 1)
	go func() { done <- s.WriteRegister(context.Background(), RegSyncWord, 0x34) }()
	select {
	case err := <-done:
		t.Fatalf("register write ran during receive: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	f.setReceiving(false)
	f.h.RxDone(nil, errors.New("crc"))
	if err := <-done; err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := s.ReadRegister(context.Background(), RegSyncWord)
	if err != nil || v != 0x34 {
		t.Fatalf("read = %#x %v", v, err)
	}
	if st := s.Stats(); st.RxErrors != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSequencerQueueFull(t *testing.T) {
	f := newFakeRadio()
	s := NewSequencer(f, Options{QueueCapacity: 2})
	// not started: nothing drains the queue
	_ = s.Submit([]byte{1}, 1, txq.FromHost)
	_ = s.Submit([]byte{2}, 1, txq.FromHost)
	if err := s.Submit([]byte{3}, 1, txq.FromHost); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if s.Stats().QueueFull != 1 {
		t.Fatalf("queue full not counted")
	}
	s.Close()
	if err := s.Submit([]byte{4}, 1, txq.FromHost); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSequencerSendFault(t *testing.T) {
	f := newFakeRadio()
	f.sendErr = errors.New("spi nack")
	s := startSeq(t, f, Options{})
	_ = s.Submit([]byte{1}, 1, txq.FromHost)
	waitFor(t, "fault counted", func() bool { return s.Stats().TxFaults == 1 })
	if s.State() != Idle {
		t.Fatalf("state = %v after send failure", s.State())
	}
}

func TestSequencerTxTimeout(t *testing.T) {
	f := newFakeRadio()
	s := startSeq(t, f, Options{TxnTimeout: 30 * time.Millisecond})
	_ = s.Submit([]byte{1}, 1, txq.FromHost)
	waitFor(t, "timeout", func() bool { return s.Stats().TxTimeouts == 1 })
	waitFor(t, "idle", func() bool { return s.State() == Idle })
	// a late TxDone is ignored
	f.h.TxDone(nil)
	time.Sleep(10 * time.Millisecond)
	if s.Stats().TxFrames != 0 {
		t.Fatalf("late tx done counted")
	}
}

func TestConfigureProgramsChip(t *testing.T) {
	f := newFakeRadio()
	s := startSeq(t, f, Options{})
	p := DefaultParams()
	if err := Configure(context.Background(), s, p); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := f.regs.Read(RegOpMode); got != OpModeLoRa|OpModeRxContinuous {
		t.Fatalf("op mode = %#x", got)
	}
	if got := f.regs.Read(RegSyncWord); got != p.SyncWord {
		t.Fatalf("sync word = %#x", got)
	}
	// 868.1 MHz -> 0xD90666
	if f.regs.Read(RegFrfMsb) != 0xD9 || f.regs.Read(RegFrfMid) != 0x06 || f.regs.Read(RegFrfLsb) != 0x66 {
		t.Fatalf("frf = %02x%02x%02x", f.regs.Read(RegFrfMsb), f.regs.Read(RegFrfMid), f.regs.Read(RegFrfLsb))
	}
}

func TestConfigureRejectsUnknownChip(t *testing.T) {
	f := newFakeRadio()
	f.regs = &RegisterFile{}
	s := startSeq(t, f, Options{})
	if err := Configure(context.Background(), s, DefaultParams()); !errors.Is(err, ErrUnsupportedChip) {
		t.Fatalf("expected ErrUnsupportedChip, got %v", err)
	}
	bad := DefaultParams()
	bad.SpreadingFactor = 13
	if err := Configure(context.Background(), s, bad); err == nil {
		t.Fatalf("expected params validation error")
	}
}

func TestRegisterFileSemantics(t *testing.T) {
	rf := NewRegisterFile()
	rf.Write(RegVersion, 0x00)
	if rf.Read(RegVersion) != ChipVersion {
		t.Fatalf("version register must be read-only")
	}
	rf.Raise(IrqRxDone | IrqTxDone)
	rf.Write(RegIrqFlags, IrqTxDone)
	if rf.Read(RegIrqFlags) != IrqRxDone {
		t.Fatalf("irq flags = %#x", rf.Read(RegIrqFlags))
	}
}
