package worker

import (
	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/message"
)

// routerCommandEnvelope builds a register/unregister control envelope
// addressed to routerAddr, announcing workerAddr as a controller for
// service. The body carries a CONNECT placeholder since router control
// envelopes are never unpacked as method calls.
func routerCommandEnvelope(workerAddr, routerAddr addr.Address, command, service string) message.TransportMessage {
	return message.TransportMessage{
		From:          workerAddr.Full(),
		To:            routerAddr.Full(),
		Thread:        workerAddr.Full(),
		RouterCommand: command,
		RouterClass:   service,
		Body:          []message.Message{message.NewConnect(0)},
	}
}
