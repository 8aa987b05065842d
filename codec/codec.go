// Package codec provides the pluggable application-level content serializer.
//
// The envelope and message layer (package message) already applies the
// classed-JSON wrapper to its own well-known payload kinds (methods,
// results, statuses). A Serializer is a further, optional layer that an
// application may use to pack/unpack the *content* carried inside a RESULT
// or REQUEST params list with its own class tags, e.g. "osrfObject" for a
// tagged domain object. The default serializer is a pass-through.
package codec

import "encoding/json"

// Serializer packs and unpacks application-level content values.
type Serializer interface {
	Pack(v json.RawMessage) (json.RawMessage, error)
	Unpack(v json.RawMessage) (json.RawMessage, error)
}

// PassThrough is the default Serializer: content travels as plain JSON,
// unmodified.
type PassThrough struct{}

func (PassThrough) Pack(v json.RawMessage) (json.RawMessage, error)   { return v, nil }
func (PassThrough) Unpack(v json.RawMessage) (json.RawMessage, error) { return v, nil }
