package protocol

import (
	"errors"
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"
)

const helloVersion = 1

// HelloRoute advertises one destination the sender can reach.
type HelloRoute struct {
	_    struct{} `cbor:",toarray"`
	Dest NodeAddr
	Hops uint8
	Via  NodeAddr // sender's next hop, lets receivers apply split horizon
}

// HelloSummary is the CBOR payload of a Hello frame. An empty payload is a
// valid neighbour-only hello.
type HelloSummary struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Routes  []HelloRoute
}

var ErrBadHello = errors.New("malformed hello payload")

var (
	helloEnc cbor.EncMode
	helloDec cbor.DecMode
)

func init() {
	var err error
	if helloEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	helloDec, err = cbor.DecOptions{
		MaxArrayElements: MaxPayload,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeHello marshals routes into a payload that fits MaxPayload. Routes
// are kept in the given order and the tail is cut when space runs out, so
// callers should pass the most useful entries first.
func EncodeHello(routes []HelloRoute) ([]byte, error) {
	n := len(routes)
	for {
		b, err := helloEnc.Marshal(HelloSummary{Version: helloVersion, Routes: routes[:n]})
		if err != nil {
			return nil, fmt.Errorf("encode hello: %w", err)
		}
		if len(b) <= MaxPayload {
			return b, nil
		}
		// shrink proportionally, at least by one
		next := n * MaxPayload / len(b)
		if next >= n {
			next = n - 1
		}
		n = next
	}
}

// DecodeHello parses a Hello payload. A nil or empty payload yields an empty
// summary.
func DecodeHello(payload []byte) (HelloSummary, error) {
	var s HelloSummary
	if len(payload) == 0 {
		return s, nil
	}
	if err := helloDec.Unmarshal(payload, &s); err != nil {
		return HelloSummary{}, fmt.Errorf("%w: %v", ErrBadHello, err)
	}
	if s.Version != helloVersion {
		return HelloSummary{}, fmt.Errorf("%w: version %d", ErrBadHello, s.Version)
	}
	return s, nil
}
