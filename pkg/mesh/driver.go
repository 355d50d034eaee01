package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/core/txq"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/routing"
)

// Adapter is the host side of the driver.
type Adapter interface {
	// DeliverUpward hands a received payload to the host. It runs on the
	// processing goroutine and should return quickly.
	DeliverUpward(from protocol.NodeAddr, payload []byte)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(from protocol.NodeAddr, payload []byte)

func (f AdapterFunc) DeliverUpward(from protocol.NodeAddr, payload []byte) { f(from, payload) }

const (
	DefaultRxQueue  = 32
	DefaultCmdQueue = 16
)

// Options configure a Driver.
type Options struct {
	Self            protocol.NodeAddr
	MaxTTL          uint8
	HelloInterval   time.Duration
	AdvertiseRoutes bool
	Routing         routing.Options
	DedupSlots      int
	DedupWindow     time.Duration
	// RxQueue bounds frames captured by the radio and not yet processed.
	RxQueue int
	// CmdQueue bounds host requests waiting for the processing goroutine.
	CmdQueue int
	// Radio configures the sequencer. OnFrame is set by the driver.
	Radio radio.Options
	// Params are programmed into the chip on Start; nil means
	// radio.DefaultParams.
	Params *radio.Params
}

func (o Options) validate() error {
	if o.Self == protocol.Unassigned || o.Self.IsBroadcast() {
		return fmt.Errorf("%w: node address %s is reserved", ErrBadConfig, o.Self)
	}
	return nil
}

// Stats is a point-in-time copy of the driver counters.
type Stats struct {
	RxFrames     uint64
	DecodeErrors uint64
	Delivered    uint64
	Forwarded    uint64
	Originated   uint64
	HellosSent   uint64
	TxRejected   uint64
	Drops        map[string]uint64
	Radio        radio.SequencerStats
}

type cmdKind int

const (
	cmdTransmit cmdKind = iota
	cmdRoutes
)

type command struct {
	kind    cmdKind
	dst     protocol.NodeAddr
	payload []byte
	reply   chan result
}

type result struct {
	err    error
	routes []routing.Entry
}

// Driver is one mesh node: routing table, forwarding engine, discovery
// and the radio sequencer, owned by a single processing goroutine.
type Driver struct {
	self    protocol.NodeAddr
	seq     *radio.Sequencer
	table   *routing.Table
	engine  *Engine
	sched   *Scheduler
	adapter Adapter
	params  radio.Params

	rx   chan []byte
	cmds chan command

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	started   atomic.Bool

	now func() time.Time

	mRx, mDecodeErr, mDelivered, mForwarded atomic.Uint64
	mOriginated, mHellos, mTxRejected       atomic.Uint64
	mDrops                                  [numDropReasons]atomic.Uint64
}

// New builds a Driver on top of tr. Nothing runs until Start.
func New(opts Options, tr radio.Transceiver, adapter Adapter) (*Driver, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		adapter = AdapterFunc(func(protocol.NodeAddr, []byte) {})
	}
	if opts.MaxTTL == 0 {
		opts.MaxTTL = DefaultMaxTTL
	}
	if opts.RxQueue <= 0 {
		opts.RxQueue = DefaultRxQueue
	}
	if opts.CmdQueue <= 0 {
		opts.CmdQueue = DefaultCmdQueue
	}
	params := radio.DefaultParams()
	if opts.Params != nil {
		params = *opts.Params
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	table := routing.New(opts.Routing)
	d := &Driver{
		self:    opts.Self,
		table:   table,
		adapter: adapter,
		params:  params,
		rx:      make(chan []byte, opts.RxQueue),
		cmds:    make(chan command, opts.CmdQueue),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	d.engine = NewEngine(EngineConfig{
		Self:        opts.Self,
		MaxTTL:      opts.MaxTTL,
		DedupSlots:  opts.DedupSlots,
		DedupWindow: opts.DedupWindow,
	}, table)
	d.sched = NewScheduler(SchedulerConfig{
		Self:            opts.Self,
		Interval:        opts.HelloInterval,
		MaxTTL:          opts.MaxTTL,
		AdvertiseRoutes: opts.AdvertiseRoutes,
	}, table)

	ropts := opts.Radio
	ropts.OnFrame = d.capture
	d.seq = radio.NewSequencer(tr, ropts)
	return d, nil
}

func (d *Driver) Self() protocol.NodeAddr { return d.self }

// capture runs in the sequencer goroutine and only hands the frame over.
func (d *Driver) capture(frame []byte) bool {
	select {
	case d.rx <- frame:
		return true
	default:
		return false
	}
}

// Start programs the radio and launches the processing goroutine. The
// driver stops when ctx is done or Close is called.
func (d *Driver) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("mesh: driver already started")
	}
	d.seq.Start(ctx)
	if err := radio.Configure(ctx, d.seq, d.params); err != nil {
		d.seq.Close()
		close(d.done)
		return fmt.Errorf("configure radio: %w", err)
	}
	go d.run(ctx)
	zap.L().Info("mesh driver started",
		zap.Stringer("self", d.self),
		zap.Duration("hello_interval", d.sched.Interval()),
		zap.Uint8("max_ttl", d.engine.MaxTTL()))
	return nil
}

// Close stops the processing goroutine and the sequencer. The transceiver
// itself is left to its owner.
func (d *Driver) Close() {
	d.closeOnce.Do(func() { close(d.stop) })
	if d.started.Load() {
		<-d.done
	}
	d.seq.Close()
}

// Transmit sends payload to dst. It does not wait for the radio; it returns
// once the frame is queued, or with ErrQueueFull, ErrNoRoute or ErrClosed.
func (d *Driver) Transmit(ctx context.Context, dst protocol.NodeAddr, payload []byte) error {
	if len(payload) > protocol.MaxPayload {
		return protocol.ErrPayloadTooLarge
	}
	res, err := d.call(ctx, command{kind: cmdTransmit, dst: dst, payload: payload})
	if err != nil {
		return err
	}
	return res.err
}

// Routes returns a snapshot of the live routing table.
func (d *Driver) Routes(ctx context.Context) ([]routing.Entry, error) {
	res, err := d.call(ctx, command{kind: cmdRoutes})
	if err != nil {
		return nil, err
	}
	return res.routes, nil
}

func (d *Driver) call(ctx context.Context, c command) (result, error) {
	select {
	case <-d.stop:
		return result{}, ErrClosed
	default:
	}
	c.reply = make(chan result, 1)
	select {
	case d.cmds <- c:
	default:
		d.mTxRejected.Add(1)
		return result{}, ErrQueueFull
	}
	select {
	case r := <-c.reply:
		return r, nil
	case <-d.done:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (d *Driver) Stats() Stats {
	s := Stats{
		RxFrames:     d.mRx.Load(),
		DecodeErrors: d.mDecodeErr.Load(),
		Delivered:    d.mDelivered.Load(),
		Forwarded:    d.mForwarded.Load(),
		Originated:   d.mOriginated.Load(),
		HellosSent:   d.mHellos.Load(),
		TxRejected:   d.mTxRejected.Load(),
		Drops:        make(map[string]uint64),
		Radio:        d.seq.Stats(),
	}
	for r := DropReason(1); r < numDropReasons; r++ {
		if n := d.mDrops[r].Load(); n > 0 {
			s.Drops[r.String()] = n
		}
	}
	return s
}

// ---- processing goroutine ----

func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	d.tick()
	// started after the first tick so no fire lands before the next deadline
	t := time.NewTicker(d.sched.Interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case raw := <-d.rx:
			d.receive(raw)
		case c := <-d.cmds:
			d.command(c)
		case <-t.C:
			d.tick()
		}
	}
}

func (d *Driver) receive(raw []byte) {
	d.mRx.Add(1)
	f, err := protocol.Decode(raw)
	if err != nil {
		d.mDecodeErr.Add(1)
		zap.L().Debug("undecodable frame", zap.Int("bytes", len(raw)), zap.Error(err))
		return
	}
	dec := d.engine.Receive(f, d.now())
	if dec.Learned == routing.Inserted || dec.Learned == routing.Replaced {
		zap.L().Debug("route learned", zap.Stringer("dest", f.Source), zap.Stringer("change", dec.Learned))
	}
	_ = d.apply(dec, txq.FromForward)
}

func (d *Driver) command(c command) {
	switch c.kind {
	case cmdTransmit:
		dec, err := d.engine.Originate(c.dst, c.payload, d.now())
		if err == nil {
			d.mOriginated.Add(1)
			err = d.apply(dec, txq.FromHost)
		} else {
			d.mDrops[dec.Reason].Add(1)
		}
		c.reply <- result{err: err}
	case cmdRoutes:
		c.reply <- result{routes: d.table.Entries(d.now())}
	}
}

func (d *Driver) tick() {
	hello, ok := d.sched.Tick(d.now())
	if !ok {
		return
	}
	if err := d.submit(hello, txq.FromDiscovery); err != nil {
		zap.L().Debug("hello not sent", zap.Error(err))
		return
	}
	d.mHellos.Add(1)
}

// apply carries out a decision. Only the enqueue error is returned.
func (d *Driver) apply(dec Decision, origin txq.Origin) error {
	if dec.Disposition == Drop {
		d.mDrops[dec.Reason].Add(1)
		return nil
	}
	if dec.Deliver {
		d.mDelivered.Add(1)
		d.adapter.DeliverUpward(dec.From, dec.Payload)
	}
	if dec.Out == nil {
		return nil
	}
	if err := d.submit(*dec.Out, origin); err != nil {
		return err
	}
	if origin == txq.FromForward {
		d.mForwarded.Add(1)
		zap.L().Debug("frame forwarded", zap.Stringer("frame", *dec.Out))
	}
	return nil
}

func (d *Driver) submit(f protocol.MeshFrame, origin txq.Origin) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if err := d.seq.Submit(b, f.NextHop, origin); err != nil {
		if errors.Is(err, radio.ErrQueueFull) {
			d.mTxRejected.Add(1)
		}
		return err
	}
	return nil
}
