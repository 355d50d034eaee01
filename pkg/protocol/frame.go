package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// Frame layout on the radio medium (5 header bytes + payload):
//
//	0  Source      NodeAddr
//	1  Destination NodeAddr
//	2  NextHop     NodeAddr
//	3  TTL         u8
//	4  Kind        u8
//	5.. Payload    0..256 bytes, length implied by the buffer
const (
	offSource = iota
	offDest
	offNextHop
	offTTL
	offKind
)

// MeshFrame is the unit exchanged over the air.
type MeshFrame struct {
	Source      NodeAddr
	Destination NodeAddr
	NextHop     NodeAddr
	TTL         uint8
	Kind        Kind
	Payload     []byte
}

var (
	ErrTooShort        = errors.New("frame too short")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidKind     = errors.New("invalid frame kind")
)

// DecodeError reports why a buffer could not be decoded. Unwrap yields one of
// ErrTooShort, ErrPayloadTooLarge or ErrInvalidKind.
type DecodeError struct {
	Reason error
	Len    int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", e.Len, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Reason }

// Encode serializes f. The only failure modes are an oversized payload and an
// unknown kind, both caught before any bytes are produced.
func Encode(f MeshFrame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("encode frame: %w (%d > %d)", ErrPayloadTooLarge, len(f.Payload), MaxPayload)
	}
	if !f.Kind.Valid() {
		return nil, fmt.Errorf("encode frame: %w (%d)", ErrInvalidKind, f.Kind)
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[offSource] = byte(f.Source)
	buf[offDest] = byte(f.Destination)
	buf[offNextHop] = byte(f.NextHop)
	buf[offTTL] = f.TTL
	buf[offKind] = byte(f.Kind)
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// Decode parses a raw radio buffer. It is total over every input, including
// nil, and never aliases buf in the returned frame.
func Decode(buf []byte) (MeshFrame, error) {
	if len(buf) < HeaderSize {
		return MeshFrame{}, &DecodeError{Reason: ErrTooShort, Len: len(buf)}
	}
	if len(buf)-HeaderSize > MaxPayload {
		return MeshFrame{}, &DecodeError{Reason: ErrPayloadTooLarge, Len: len(buf)}
	}
	k := Kind(buf[offKind])
	if !k.Valid() {
		return MeshFrame{}, &DecodeError{Reason: ErrInvalidKind, Len: len(buf)}
	}
	f := MeshFrame{
		Source:      NodeAddr(buf[offSource]),
		Destination: NodeAddr(buf[offDest]),
		NextHop:     NodeAddr(buf[offNextHop]),
		TTL:         buf[offTTL],
		Kind:        k,
	}
	if n := len(buf) - HeaderSize; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, buf[HeaderSize:])
	}
	return f, nil
}

// Equal compares frames field by field; nil and empty payloads are equal.
func (f MeshFrame) Equal(o MeshFrame) bool {
	return f.Source == o.Source && f.Destination == o.Destination &&
		f.NextHop == o.NextHop && f.TTL == o.TTL && f.Kind == o.Kind &&
		bytes.Equal(f.Payload, o.Payload)
}

func (f MeshFrame) String() string {
	return fmt.Sprintf("%s %s->%s via %s ttl=%d len=%d", f.Kind, f.Source, f.Destination, f.NextHop, f.TTL, len(f.Payload))
}
