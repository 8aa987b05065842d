// Package message defines the envelope and message types exchanged over the
// bus, and the "classed JSON" wrapper ({"__c": class, "__p": payload}) used
// to tag each JSON value with a semantic type on the wire.
package message

import (
	"encoding/json"

	"github.com/opensrf-go/opensrf/errs"
)

// Type discriminates the kind of a Message.
type Type string

const (
	Connect    Type = "CONNECT"
	Disconnect Type = "DISCONNECT"
	Request    Type = "REQUEST"
	Result     Type = "RESULT"
	Status     Type = "STATUS"
)

// StatusCode is the numeric status carried by a Status message.
type StatusCode int

const (
	CodeContinue         StatusCode = 100
	CodeOk               StatusCode = 200
	CodeComplete         StatusCode = 205
	CodeBadRequest       StatusCode = 400
	CodeNotFound         StatusCode = 404
	CodeTimeout          StatusCode = 408
	CodeInternalError    StatusCode = 500
	CodeServiceNotFound  StatusCode = 480
)

// classed is the {"__c": class, "__p": payload} wrapper used recursively on
// the wire for any semantically-typed JSON value.
type classed struct {
	Class   string          `json:"__c"`
	Payload json.RawMessage `json:"__p"`
}

// Pack wraps a value in the classed-JSON envelope under the given class name.
func Pack(class string, v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrJSON, "packing %s: %v", class, err)
	}
	out, err := json.Marshal(classed{Class: class, Payload: payload})
	if err != nil {
		return nil, errs.Wrapf(errs.ErrJSON, "packing %s: %v", class, err)
	}
	return out, nil
}

// Unpack reads the class tag and payload out of a classed-JSON value.
func Unpack(raw json.RawMessage) (class string, payload json.RawMessage, err error) {
	var c classed
	if uerr := json.Unmarshal(raw, &c); uerr != nil {
		return "", nil, errs.Wrapf(errs.ErrJSON, "unpacking classed value: %v", uerr)
	}
	return c.Class, c.Payload, nil
}

// MethodPayload is the REQUEST payload: a method name and its arguments.
type MethodPayload struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// ResultPayload is the RESULT payload: one returned value.
type ResultPayload struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"statusCode"`
	Content    json.RawMessage `json:"content"`
}

// StatusPayload is the STATUS payload: a terminal or progress signal.
type StatusPayload struct {
	Status     string     `json:"status"`
	StatusCode StatusCode `json:"statusCode"`
}

// Message is one logical message inside a TransportMessage body.
type Message struct {
	ThreadTrace int    `json:"threadTrace"`
	MType       Type   `json:"type"`
	Locale      string `json:"locale,omitempty"`

	// Exactly one of these is populated, matching MType.
	Method  *MethodPayload `json:"-"`
	Result  *ResultPayload `json:"-"`
	Stat    *StatusPayload `json:"-"`
}

type wireMessage struct {
	ThreadTrace int             `json:"threadTrace"`
	MType       Type            `json:"type"`
	Locale      string          `json:"locale,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON packs the active payload field as classed JSON.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{ThreadTrace: m.ThreadTrace, MType: m.MType, Locale: m.Locale}

	var (
		raw json.RawMessage
		err error
	)
	switch {
	case m.Method != nil:
		raw, err = Pack("osrfMethod", m.Method)
	case m.Result != nil:
		raw, err = Pack("osrfResult", m.Result)
	case m.Stat != nil:
		raw, err = Pack("osrfConnectStatus", m.Stat)
	}
	if err != nil {
		return nil, err
	}
	w.Payload = raw
	return json.Marshal(w)
}

// UnmarshalJSON unpacks the classed payload into the field matching its class.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return errs.Wrapf(errs.ErrJSON, "decoding message: %v", err)
	}
	m.ThreadTrace, m.MType, m.Locale = w.ThreadTrace, w.MType, w.Locale

	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil
	}
	class, payload, err := Unpack(w.Payload)
	if err != nil {
		return err
	}
	switch class {
	case "osrfMethod":
		var p MethodPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errs.Wrapf(errs.ErrJSON, "decoding method payload: %v", err)
		}
		m.Method = &p
	case "osrfResult":
		var p ResultPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errs.Wrapf(errs.ErrJSON, "decoding result payload: %v", err)
		}
		m.Result = &p
	case "osrfConnectStatus":
		var p StatusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errs.Wrapf(errs.ErrJSON, "decoding status payload: %v", err)
		}
		m.Stat = &p
	}
	return nil
}

// NewRequest builds a REQUEST message.
func NewRequest(threadTrace int, method string, params []json.RawMessage) Message {
	return Message{ThreadTrace: threadTrace, MType: Request, Method: &MethodPayload{Method: method, Params: params}}
}

// NewResult builds a RESULT message carrying one returned value.
func NewResult(threadTrace int, content json.RawMessage) Message {
	return Message{
		ThreadTrace: threadTrace,
		MType:       Result,
		Result:      &ResultPayload{Status: "OK", StatusCode: int(CodeOk), Content: content},
	}
}

// NewStatus builds a STATUS message for the given code.
func NewStatus(threadTrace int, code StatusCode, text string) Message {
	return Message{
		ThreadTrace: threadTrace,
		MType:       Status,
		Stat:        &StatusPayload{Status: text, StatusCode: code},
	}
}

// NewConnect builds a CONNECT message.
func NewConnect(threadTrace int) Message {
	return Message{ThreadTrace: threadTrace, MType: Connect}
}

// NewDisconnect builds a DISCONNECT message.
func NewDisconnect(threadTrace int) Message {
	return Message{ThreadTrace: threadTrace, MType: Disconnect}
}

// TransportMessage is the outer envelope carried on the bus.
type TransportMessage struct {
	To            string    `json:"to"`
	From          string    `json:"from"`
	Thread        string    `json:"thread"`
	OsrfXid       string    `json:"osrf_xid,omitempty"`
	RouterCommand string    `json:"router_command,omitempty"`
	RouterClass   string    `json:"router_class,omitempty"`
	RouterReply   string    `json:"router_reply,omitempty"`
	Body          []Message `json:"body"`
}

// Encode serializes the envelope for writing to the bus.
func (t TransportMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrJSON, "encoding envelope: %v", err)
	}
	return data, nil
}

// Decode parses a bus payload into a TransportMessage.
func Decode(data []byte) (TransportMessage, error) {
	var t TransportMessage
	if err := json.Unmarshal(data, &t); err != nil {
		return TransportMessage{}, errs.Wrapf(errs.ErrJSON, "decoding envelope: %v", err)
	}
	if len(t.Body) == 0 {
		return TransportMessage{}, errs.Wrapf(errs.ErrJSON, "envelope has empty body")
	}
	return t, nil
}
