package mesh

import (
	"errors"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
)

var (
	// ErrNoRoute is returned by Transmit when the node has no route and no
	// neighbours to flood to.
	ErrNoRoute = errors.New("mesh: no route")
	ErrClosed  = errors.New("mesh: driver closed")
	// ErrQueueFull reports resource exhaustion on the host transmit path.
	ErrQueueFull = radio.ErrQueueFull
	ErrBadConfig = errors.New("mesh: invalid config")
)
