package radio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/core/txq"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
)

// State of the half-duplex radio as seen by the sequencer.
type State int32

const (
	Idle State = iota
	Receiving
	Transmitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Transmitting:
		return "transmitting"
	default:
		return "unknown"
	}
}

type Options struct {
	// QueueCapacity bounds the shared outbound FIFO.
	QueueCapacity int
	// EventBuffer bounds the interrupt event channel.
	EventBuffer int
	// TxnTimeout returns a radio stuck in Receiving or Transmitting to
	// Idle. A transmit that times out is counted as a fault.
	TxnTimeout time.Duration
	// DutyCycleBytesPerSec limits airtime; 0 disables shaping.
	DutyCycleBytesPerSec int64
	// OnFrame receives captured frames. It must not block and returns false
	// when the frame had to be dropped.
	OnFrame func(frame []byte) bool
}

const (
	DefaultEventBuffer = 32
	DefaultTxnTimeout  = 5 * time.Second
)

// SequencerStats is a point-in-time copy of the counters.
type SequencerStats struct {
	TxFrames      uint64
	TxFaults      uint64
	TxTimeouts    uint64
	QueueFull     uint64
	RxFrames      uint64
	RxErrors      uint64
	RxDropped     uint64
	RxTimeouts    uint64
	EventsDropped uint64
}

type eventKind int

const (
	evRxStart eventKind = iota
	evRxDone
	evTxDone
)

type event struct {
	kind  eventKind
	frame []byte
	err   error
}

type regReq struct {
	write bool
	addr  uint8
	val   uint8
	reply chan regReply
}

type regReply struct {
	val uint8
	err error
}

// Sequencer is the single owner of a Transceiver. Interrupt notifications
// and transmit requests are funnelled into one goroutine (Run), so the chip
// sees at most one transaction at a time and is never re-entered.
type Sequencer struct {
	tr      Transceiver
	q       *txq.Queue
	shaper  *txq.TokenBucket
	events  chan event
	regs    chan regReq
	onFrame func([]byte) bool
	timeout time.Duration

	state atomic.Int32

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	started   atomic.Bool

	mTx, mTxFault, mTxTimeout, mQFull         atomic.Uint64
	mRx, mRxErr, mRxDrop, mRxTimeout, mEvDrop atomic.Uint64
}

// NewSequencer binds itself as tr's interrupt handler.
func NewSequencer(tr Transceiver, opts Options) *Sequencer {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.TxnTimeout <= 0 {
		opts.TxnTimeout = DefaultTxnTimeout
	}
	s := &Sequencer{
		tr:      tr,
		q:       txq.New(opts.QueueCapacity),
		shaper:  txq.NewTokenBucket(opts.DutyCycleBytesPerSec, 0),
		events:  make(chan event, opts.EventBuffer),
		regs:    make(chan regReq),
		onFrame: opts.OnFrame,
		timeout: opts.TxnTimeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	tr.SetHandler(s)
	return s
}

func (s *Sequencer) State() State { return State(s.state.Load()) }

func (s *Sequencer) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		zap.L().Debug("radio state", zap.Stringer("from", old), zap.Stringer("to", st))
	}
}

// QueueLen reports frames waiting for the radio.
func (s *Sequencer) QueueLen() int { return s.q.Len() }

func (s *Sequencer) Stats() SequencerStats {
	return SequencerStats{
		TxFrames:      s.mTx.Load(),
		TxFaults:      s.mTxFault.Load(),
		TxTimeouts:    s.mTxTimeout.Load(),
		QueueFull:     s.mQFull.Load(),
		RxFrames:      s.mRx.Load(),
		RxErrors:      s.mRxErr.Load(),
		RxDropped:     s.mRxDrop.Load(),
		RxTimeouts:    s.mRxTimeout.Load(),
		EventsDropped: s.mEvDrop.Load(),
	}
}

// ---- interrupt side: post and return ----

func (s *Sequencer) post(ev event) {
	select {
	case s.events <- ev:
	default:
		s.mEvDrop.Add(1)
	}
}

func (s *Sequencer) RxStart() { s.post(event{kind: evRxStart}) }
func (s *Sequencer) RxDone(frame []byte, err error) {
	s.post(event{kind: evRxDone, frame: frame, err: err})
}
func (s *Sequencer) TxDone(err error) { s.post(event{kind: evTxDone, err: err}) }

// ---- caller side ----

// Submit queues an encoded frame for transmission. It never blocks.
func (s *Sequencer) Submit(frame []byte, nextHop protocol.NodeAddr, origin txq.Origin) error {
	select {
	case <-s.stop:
		return ErrClosed
	default:
	}
	if err := s.q.Enqueue(txq.Item{Bytes: frame, NextHop: nextHop, Origin: origin}); err != nil {
		s.mQFull.Add(1)
		return err
	}
	return nil
}

func (s *Sequencer) ReadRegister(ctx context.Context, addr uint8) (uint8, error) {
	return s.doReg(ctx, regReq{addr: addr})
}

func (s *Sequencer) WriteRegister(ctx context.Context, addr, value uint8) error {
	_, err := s.doReg(ctx, regReq{write: true, addr: addr, val: value})
	return err
}

func (s *Sequencer) doReg(ctx context.Context, r regReq) (uint8, error) {
	r.reply = make(chan regReply, 1)
	select {
	case s.regs <- r:
	case <-s.stop:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case rep := <-r.reply:
		return rep.val, rep.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Start launches Run on its own goroutine.
func (s *Sequencer) Start(ctx context.Context) {
	s.started.Store(true)
	go s.Run(ctx)
}

// Close stops Run and waits for it when it was started.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

// ---- owner goroutine ----

// Run owns the transceiver until ctx is done or Close is called.
func (s *Sequencer) Run(ctx context.Context) {
	s.started.Store(true)
	defer close(s.done)

	var (
		pending []regReq
		held    *txq.Item
		shapeC  <-chan time.Time
		watch   = time.NewTimer(time.Hour)
	)
	watch.Stop()
	defer watch.Stop()

	for {
		if s.State() == Idle {
			for _, r := range pending {
				s.execReg(ctx, r)
			}
			pending = pending[:0]

			if held == nil {
				if it, ok := s.q.TryDequeue(); ok {
					held = &it
				}
			}
			if held != nil && shapeC == nil {
				if ok, wait := s.shaper.Allow(int64(len(held.Bytes))); ok {
					s.transmit(ctx, *held, watch)
					held = nil
				} else {
					shapeC = time.After(wait)
				}
			}
		}

		select {
		case <-ctx.Done():
			s.drainRegs(pending)
			return
		case <-s.stop:
			s.drainRegs(pending)
			return
		case ev := <-s.events:
			s.handle(ev, watch)
		case r := <-s.regs:
			pending = append(pending, r)
		case <-s.q.Ready():
		case <-shapeC:
			shapeC = nil
		case <-watch.C:
			s.onTimeout()
		}
	}
}

func (s *Sequencer) execReg(ctx context.Context, r regReq) {
	var rep regReply
	if r.write {
		rep.err = s.tr.WriteRegister(ctx, r.addr, r.val)
	} else {
		rep.val, rep.err = s.tr.ReadRegister(ctx, r.addr)
	}
	if rep.err != nil {
		rep.err = fmt.Errorf("%w: register %#02x: %v", ErrTransceiverFault, r.addr, rep.err)
	}
	r.reply <- rep
}

func (s *Sequencer) drainRegs(pending []regReq) {
	for _, r := range pending {
		r.reply <- regReply{err: ErrClosed}
	}
}

func (s *Sequencer) transmit(ctx context.Context, it txq.Item, watch *time.Timer) {
	s.setState(Transmitting)
	watch.Reset(s.timeout)
	if err := s.tr.SendFrame(ctx, it.Bytes); err != nil {
		watch.Stop()
		s.setState(Idle)
		s.mTxFault.Add(1)
		zap.L().Warn("radio send failed",
			zap.Stringer("next_hop", it.NextHop),
			zap.Stringer("origin", it.Origin),
			zap.Error(fmt.Errorf("%w: %v", ErrTransceiverFault, err)))
		return
	}
	zap.L().Debug("radio tx started", zap.Stringer("next_hop", it.NextHop), zap.Stringer("origin", it.Origin), zap.Int("bytes", len(it.Bytes)))
}

func (s *Sequencer) handle(ev event, watch *time.Timer) {
	switch ev.kind {
	case evRxStart:
		if s.State() == Idle {
			s.setState(Receiving)
			watch.Reset(s.timeout)
		}
	case evRxDone:
		if s.State() == Receiving {
			watch.Stop()
			s.setState(Idle)
		}
		if ev.err != nil {
			s.mRxErr.Add(1)
			zap.L().Debug("radio rx error", zap.Error(ev.err))
			return
		}
		s.mRx.Add(1)
		if s.onFrame != nil && !s.onFrame(ev.frame) {
			s.mRxDrop.Add(1)
			zap.L().Debug("rx queue full, frame dropped", zap.Int("bytes", len(ev.frame)))
		}
	case evTxDone:
		if s.State() != Transmitting {
			zap.L().Debug("spurious tx done", zap.Stringer("state", s.State()))
			return
		}
		watch.Stop()
		s.setState(Idle)
		if ev.err != nil {
			s.mTxFault.Add(1)
			zap.L().Warn("radio tx failed", zap.Error(fmt.Errorf("%w: %v", ErrTransceiverFault, ev.err)))
			return
		}
		s.mTx.Add(1)
	}
}

func (s *Sequencer) onTimeout() {
	switch s.State() {
	case Transmitting:
		s.mTxFault.Add(1)
		s.mTxTimeout.Add(1)
		zap.L().Warn("radio tx timed out", zap.Duration("after", s.timeout))
	case Receiving:
		s.mRxTimeout.Add(1)
		zap.L().Debug("radio rx timed out", zap.Duration("after", s.timeout))
	default:
		return
	}
	s.setState(Idle)
}
