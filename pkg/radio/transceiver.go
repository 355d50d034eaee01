// Package radio sequences register and frame transactions against a
// half-duplex LoRa transceiver.
//
// Key concepts:
//   - Transceiver: the hardware capability (register access, frame send) and
//     the interrupt notifications it raises through a Handler
//   - Sequencer: the single owner of the chip; it never transmits while a
//     receive is in flight and runs register access only while idle
//   - Backends live in subpackages: mem (in-process medium), serial (UART
//     SPI bridge) and mqtt (virtual air over a broker)
package radio

import (
	"context"
	"errors"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/core/txq"
)

// Handler receives interrupt notifications. Implementations must not block.
type Handler interface {
	// RxStart signals that a frame is arriving (valid header detected).
	RxStart()
	// RxDone delivers a fully received frame, or err when the receive
	// failed (CRC error, timeout). The buffer is owned by the handler.
	RxDone(frame []byte, err error)
	// TxDone reports that the last SendFrame finished.
	TxDone(err error)
}

// Transceiver is the hardware capability. Calls are never issued
// concurrently by the Sequencer.
type Transceiver interface {
	ReadRegister(ctx context.Context, addr uint8) (uint8, error)
	WriteRegister(ctx context.Context, addr, value uint8) error
	// SendFrame starts a transmission; completion arrives via Handler.TxDone.
	SendFrame(ctx context.Context, frame []byte) error
	SetHandler(h Handler)
}

// RegisterAccess is what chip configuration needs.
type RegisterAccess interface {
	ReadRegister(ctx context.Context, addr uint8) (uint8, error)
	WriteRegister(ctx context.Context, addr, value uint8) error
}

var (
	// ErrQueueFull is returned when the outbound queue is at capacity.
	ErrQueueFull = txq.ErrQueueFull
	// ErrTransceiverFault wraps hardware errors. No reset is attempted.
	ErrTransceiverFault = errors.New("transceiver fault")
	ErrUnsupportedChip  = errors.New("unsupported radio chip")
	ErrClosed           = errors.New("radio sequencer closed")
)
