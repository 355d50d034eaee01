package mem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
)

type recorder struct {
	mu     sync.Mutex
	starts int
	frames [][]byte
	txDone int
}

func (r *recorder) RxStart() {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *recorder) RxDone(b []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.frames = append(r.frames, b)
	}
}

func (r *recorder) TxDone(error) {
	r.mu.Lock()
	r.txDone++
	r.mu.Unlock()
}

func (r *recorder) snapshot() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, len(r.frames), r.txDone
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

func attach(t *testing.T, m *Medium, name string) (*Radio, *recorder) {
	t.Helper()
	r, err := m.Attach(name)
	if err != nil {
		t.Fatalf("attach %s: %v", name, err)
	}
	rec := &recorder{}
	r.SetHandler(rec)
	return r, rec
}

func TestMediumDeliversOnlyOverLinks(t *testing.T) {
	m := New()
	a, ra := attach(t, m, "a")
	_, rb := attach(t, m, "b")
	_, rc := attach(t, m, "c")
	m.Link("a", "b")

	if err := a.SendFrame(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "tx done", func() bool { _, _, d := ra.snapshot(); return d == 1 })
	if s, n, _ := rb.snapshot(); s != 1 || n != 1 {
		t.Fatalf("b got starts=%d frames=%d", s, n)
	}
	if _, n, _ := rc.snapshot(); n != 0 {
		t.Fatalf("c is not linked but heard %d frames", n)
	}
	if _, n, _ := ra.snapshot(); n != 0 {
		t.Fatalf("sender heard itself")
	}
	if a.Registers().Read(radio.RegIrqFlags)&radio.IrqTxDone == 0 {
		t.Fatalf("tx done irq not raised")
	}
}

func TestMediumUnlinkAndDrop(t *testing.T) {
	m := New()
	a, ra := attach(t, m, "a")
	_, rb := attach(t, m, "b")
	m.Link("a", "b")
	m.SetDrop(func(from, to string, _ []byte) bool { return from == "a" && to == "b" })
	_ = a.SendFrame(context.Background(), []byte{1})
	waitFor(t, "tx done", func() bool { _, _, d := ra.snapshot(); return d == 1 })
	if _, n, _ := rb.snapshot(); n != 0 {
		t.Fatalf("dropped frame delivered")
	}
	m.SetDrop(nil)
	m.Unlink("a", "b")
	_ = a.SendFrame(context.Background(), []byte{2})
	waitFor(t, "tx done", func() bool { _, _, d := ra.snapshot(); return d == 2 })
	if _, n, _ := rb.snapshot(); n != 0 {
		t.Fatalf("unlinked radio heard frame")
	}
}

func TestMediumDeliveredBufferIsPrivate(t *testing.T) {
	m := New()
	a, ra := attach(t, m, "a")
	_, rb := attach(t, m, "b")
	m.Link("a", "b")
	src := []byte{7, 7}
	_ = a.SendFrame(context.Background(), src)
	src[0] = 0
	waitFor(t, "tx done", func() bool { _, _, d := ra.snapshot(); return d == 1 })
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.frames[0][0] != 7 {
		t.Fatalf("receiver saw caller mutation")
	}
}

func TestRadioCloseAndDuplicateAttach(t *testing.T) {
	m := New()
	a, _ := attach(t, m, "a")
	if _, err := m.Attach("a"); err == nil {
		t.Fatalf("duplicate attach accepted")
	}
	_ = a.Close()
	if err := a.SendFrame(context.Background(), []byte{1}); !errors.Is(err, radio.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := m.Attach("a"); err != nil {
		t.Fatalf("reattach after close: %v", err)
	}
}

func TestRadioDrivesSequencer(t *testing.T) {
	m := New()
	a, _ := m.Attach("a")
	b, _ := m.Attach("b")
	m.Link("a", "b")
	got := make(chan []byte, 1)
	sa := radio.NewSequencer(a, radio.Options{})
	sb := radio.NewSequencer(b, radio.Options{OnFrame: func(f []byte) bool { got <- f; return true }})
	ctx := context.Background()
	sa.Start(ctx)
	sb.Start(ctx)
	t.Cleanup(sa.Close)
	t.Cleanup(sb.Close)

	if err := radio.Configure(ctx, sa, radio.DefaultParams()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := sa.Submit([]byte{0xCA, 0xFE}, 0xFF, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case f := <-got:
		if len(f) != 2 || f[0] != 0xCA {
			t.Fatalf("frame = %x", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never arrived")
	}
	waitFor(t, "sender idle", func() bool { return sa.State() == radio.Idle && sa.Stats().TxFrames == 1 })
}
