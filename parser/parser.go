// Package parser implements the Socket.IO protocol v5 packet codec.
//
// A packet is encoded as a single text frame
//
//	<type>[<attachments>-][<nsp>,][<ackid>][<json payload>]
//
// optionally followed by binary attachment frames. Binary arguments are
// replaced in the JSON payload by {"_placeholder":true,"num":n} objects and
// carried as the n-th attachment frame.
package parser

import (
	"errors"

	"github.com/phederal/sio/pkg/events"
)

var (
	ErrMalformedFrame       = errors.New("malformed frame")
	ErrUnknownPacketType    = errors.New("unknown packet type")
	ErrUnexpectedAttachment = errors.New("unexpected binary attachment")
)

type Encoder interface {
	// Encode serializes a packet into one text frame and zero or more
	// binary frames, in dispatch order.
	Encode(*Packet) ([]Frame, error)
}

// Decoder reassembles packets from transport frames. Decoded packets are
// emitted through the "decoded" event. A decoder instance is owned by a
// single connection and is not safe for concurrent use.
type Decoder interface {
	events.EventEmitter

	Add(data []byte, binary bool) error
	Destroy()
}

type Parser interface {
	NewEncoder() Encoder
	NewDecoder() Decoder
}

type parser struct{}

// NewParser returns the default JSON parser.
func NewParser() Parser {
	return &parser{}
}

func (*parser) NewEncoder() Encoder {
	return &encoder{}
}

func (*parser) NewDecoder() Decoder {
	return &decoder{EventEmitter: events.New()}
}
