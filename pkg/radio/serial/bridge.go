// Package serial drives an SX1276 behind a UART-to-SPI bridge board. The
// bridge forwards register access and frame transmission, and pushes radio
// interrupts back as event messages.
//
// Message bodies start with an opcode:
//
//	0x01 addr          read register   -> 0x81 addr value
//	0x02 addr value    write register  -> 0x82 addr status
//	0x03 frame...      send frame      -> 0x83 status
//	0x10               rx start (event)
//	0x11 frame...      rx done (event)
//	0x12 code          rx error (event)
//	0x13 status        tx done (event)
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
)

const (
	OpReadReg   = 0x01
	OpWriteReg  = 0x02
	OpSendFrame = 0x03
	OpReply     = 0x80

	EvRxStart = 0x10
	EvRxDone  = 0x11
	EvRxError = 0x12
	EvTxDone  = 0x13

	DefaultBaud           = 115200
	DefaultRequestTimeout = time.Second
)

var (
	ErrBadReply = errors.New("serial: malformed bridge reply")
	ErrStatus   = errors.New("serial: bridge reported failure")
)

// Bridge implements radio.Transceiver over a byte stream.
type Bridge struct {
	stream  io.ReadWriteCloser
	timeout time.Duration

	reqMu sync.Mutex // one request in flight
	wmu   sync.Mutex
	reply chan []byte

	hmu sync.Mutex
	h   radio.Handler

	closed    chan struct{}
	closeOnce sync.Once
	readErr   error
}

var _ radio.Transceiver = (*Bridge)(nil)

// Open opens a serial port and starts a Bridge on it.
func Open(port string, baud int) (*Bridge, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	zap.L().Info("serial bridge opened", zap.String("port", port), zap.Int("baud", baud))
	return New(p), nil
}

// New starts a Bridge on an already open stream.
func New(stream io.ReadWriteCloser) *Bridge {
	b := &Bridge{
		stream:  stream,
		timeout: DefaultRequestTimeout,
		reply:   make(chan []byte, 1),
		closed:  make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// SetRequestTimeout bounds how long a request waits for its reply.
func (b *Bridge) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		b.timeout = d
	}
}

func (b *Bridge) SetHandler(h radio.Handler) {
	b.hmu.Lock()
	b.h = h
	b.hmu.Unlock()
}

func (b *Bridge) handler() radio.Handler {
	b.hmu.Lock()
	defer b.hmu.Unlock()
	return b.h
}

func (b *Bridge) ReadRegister(ctx context.Context, addr uint8) (uint8, error) {
	rep, err := b.request(ctx, []byte{OpReadReg, addr})
	if err != nil {
		return 0, err
	}
	if len(rep) != 3 || rep[1] != addr {
		return 0, ErrBadReply
	}
	return rep[2], nil
}

func (b *Bridge) WriteRegister(ctx context.Context, addr, value uint8) error {
	rep, err := b.request(ctx, []byte{OpWriteReg, addr, value})
	if err != nil {
		return err
	}
	if len(rep) != 3 || rep[1] != addr {
		return ErrBadReply
	}
	return statusErr(rep[2])
}

// SendFrame returns once the bridge has accepted the frame; TxDone follows
// as an event.
func (b *Bridge) SendFrame(ctx context.Context, frame []byte) error {
	if len(frame)+1 > MaxPDU {
		return ErrPDUTooLong
	}
	body := make([]byte, 1+len(frame))
	body[0] = OpSendFrame
	copy(body[1:], frame)
	rep, err := b.request(ctx, body)
	if err != nil {
		return err
	}
	if len(rep) != 2 {
		return ErrBadReply
	}
	return statusErr(rep[1])
}

func statusErr(code uint8) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("%w: status %#02x", ErrStatus, code)
}

func (b *Bridge) request(ctx context.Context, body []byte) ([]byte, error) {
	b.reqMu.Lock()
	defer b.reqMu.Unlock()
	select {
	case <-b.closed:
		return nil, b.closeErr()
	default:
	}
	// discard a late reply from an earlier timed-out request
	select {
	case <-b.reply:
	default:
	}
	if err := b.write(body); err != nil {
		return nil, err
	}
	t := time.NewTimer(b.timeout)
	defer t.Stop()
	for {
		select {
		case rep := <-b.reply:
			if rep[0] != body[0]|OpReply {
				zap.L().Debug("serial bridge: unexpected reply", zap.Uint8("op", rep[0]))
				continue
			}
			return rep, nil
		case <-t.C:
			return nil, fmt.Errorf("serial: bridge request %#02x timed out", body[0])
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.closed:
			return nil, b.closeErr()
		}
	}
}

func (b *Bridge) write(body []byte) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return WritePDU(b.stream, body)
}

func (b *Bridge) readLoop() {
	for {
		pdu, err := ReadPDU(b.stream)
		if err != nil {
			b.shutdown(err)
			return
		}
		if len(pdu) == 0 {
			continue
		}
		b.dispatch(pdu)
	}
}

func (b *Bridge) dispatch(pdu []byte) {
	op := pdu[0]
	if op&OpReply != 0 {
		select {
		case b.reply <- pdu:
		default:
			zap.L().Debug("serial bridge: reply dropped", zap.Uint8("op", op))
		}
		return
	}
	h := b.handler()
	if h == nil {
		return
	}
	switch op {
	case EvRxStart:
		h.RxStart()
	case EvRxDone:
		h.RxDone(pdu[1:], nil)
	case EvRxError:
		code := uint8(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		h.RxDone(nil, fmt.Errorf("serial: rx error %#02x", code))
	case EvTxDone:
		var err error
		if len(pdu) > 1 {
			err = statusErr(pdu[1])
		}
		h.TxDone(err)
	default:
		zap.L().Debug("serial bridge: unknown event", zap.Uint8("op", op))
	}
}

func (b *Bridge) shutdown(err error) {
	b.closeOnce.Do(func() {
		b.readErr = err
		close(b.closed)
		if err != nil && !errors.Is(err, io.EOF) {
			zap.L().Warn("serial bridge reader stopped", zap.Error(err))
		}
	})
}

func (b *Bridge) closeErr() error {
	if b.readErr != nil && !errors.Is(b.readErr, io.EOF) && !errors.Is(b.readErr, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %v", radio.ErrClosed, b.readErr)
	}
	return radio.ErrClosed
}

// Close closes the underlying stream; pending requests fail with
// radio.ErrClosed.
func (b *Bridge) Close() error {
	err := b.stream.Close()
	b.shutdown(nil)
	return err
}
