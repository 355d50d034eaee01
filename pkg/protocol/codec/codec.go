// Package codec holds the serialization formats used for diagnostic exports
// such as route snapshots. Wire frames never go through here.
package codec

import (
	"fmt"
	"strings"
)

// Codec marshals typed values. Implementations are deterministic so two
// snapshots of the same table produce identical bytes.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps short names and content types to codecs.
type Registry struct{ byKey map[string]Codec }

// NewRegistry returns a registry with json, cbor and proto registered.
func NewRegistry() (*Registry, error) {
	r := &Registry{byKey: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

func (r *Registry) Register(c Codec) {
	r.byKey[c.Name()] = c
	r.byKey[c.ContentType()] = c
}

// Lookup accepts either a short name ("cbor") or a content type.
func (r *Registry) Lookup(key string) (Codec, error) {
	c, ok := r.byKey[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("codec: unknown format %q", key)
	}
	return c, nil
}
