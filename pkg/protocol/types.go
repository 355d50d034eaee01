package protocol

import "strconv"

// NodeAddr is a single-byte mesh node identifier.
type NodeAddr uint8

const (
	// Unassigned is never a valid local address.
	Unassigned NodeAddr = 0x00
	// Broadcast addresses every node in radio range.
	Broadcast NodeAddr = 0xFF
)

func (a NodeAddr) IsBroadcast() bool { return a == Broadcast }

func (a NodeAddr) String() string {
	if a == Broadcast {
		return "bcast"
	}
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// Kind tags the frame type on the wire.
type Kind uint8

const (
	KindData  Kind = 0x01 // user payload
	KindHello Kind = 0x02 // neighbour discovery, never relayed
)

func (k Kind) Valid() bool { return k == KindData || k == KindHello }

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindHello:
		return "hello"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Wire limits
const (
	HeaderSize = 5
	MaxPayload = 256
	MaxFrame   = HeaderSize + MaxPayload
)
