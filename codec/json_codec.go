package codec

import (
	"encoding/json"

	"github.com/opensrf-go/opensrf/message"
)

// ClassedSerializer tags content with a fixed class name using the same
// classed-JSON wrapper the envelope layer uses for its own payloads. Useful
// when an application wants its RESULT content to carry a type tag (e.g.
// "osrfObject") that a generic client can recognize without a schema.
type ClassedSerializer struct {
	Class string
}

func (c ClassedSerializer) Pack(v json.RawMessage) (json.RawMessage, error) {
	return message.Pack(c.Class, v)
}

func (c ClassedSerializer) Unpack(v json.RawMessage) (json.RawMessage, error) {
	_, payload, err := message.Unpack(v)
	return payload, err
}
