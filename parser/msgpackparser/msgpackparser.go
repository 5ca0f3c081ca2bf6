// Package msgpackparser provides an alternate Socket.IO packet codec that
// serializes every packet, binary arguments included, into a single
// MessagePack frame. It trades interoperability with the default JSON
// parser for cheaper binary payload handling.
package msgpackparser

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/phederal/sio/parser"
	"github.com/phederal/sio/pkg/events"
)

type wirePacket struct {
	Type uint8   `msgpack:"type"`
	Nsp  string  `msgpack:"nsp"`
	Id   *uint64 `msgpack:"id,omitempty"`
	Data any     `msgpack:"data,omitempty"`
}

type msgpackParser struct{}

func NewParser() parser.Parser {
	return &msgpackParser{}
}

func (*msgpackParser) NewEncoder() parser.Encoder {
	return &encoder{}
}

func (*msgpackParser) NewDecoder() parser.Decoder {
	return &decoder{EventEmitter: events.New()}
}

type encoder struct{}

func (e *encoder) Encode(packet *parser.Packet) ([]parser.Frame, error) {
	if packet == nil || !packet.Type.Valid() {
		return nil, parser.ErrUnknownPacketType
	}
	nsp := packet.Nsp
	if nsp == "" {
		nsp = "/"
	}
	data, err := msgpack.Marshal(&wirePacket{
		Type: uint8(packet.Type),
		Nsp:  nsp,
		Id:   packet.Id,
		Data: packet.Data,
	})
	if err != nil {
		return nil, err
	}
	return []parser.Frame{{Data: data, Binary: true}}, nil
}

type decoder struct {
	events.EventEmitter
}

func (d *decoder) Add(data []byte, binary bool) error {
	if !binary {
		return parser.ErrMalformedFrame
	}
	var wire wirePacket
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", parser.ErrMalformedFrame, err)
	}
	packetType := parser.PacketType(wire.Type)
	if !packetType.Valid() {
		return parser.ErrUnknownPacketType
	}
	// the attachment mechanism of the JSON codec does not apply here
	if packetType == parser.BINARY_EVENT {
		packetType = parser.EVENT
	} else if packetType == parser.BINARY_ACK {
		packetType = parser.ACK
	}
	packet := &parser.Packet{
		Type: packetType,
		Nsp:  wire.Nsp,
		Id:   wire.Id,
		Data: normalize(wire.Data),
	}
	if packet.Nsp == "" {
		packet.Nsp = "/"
	}
	d.Emit("decoded", packet)
	return nil
}

func (d *decoder) Destroy() {
	d.Clear()
}

// normalize aligns msgpack decoding output with the shapes produced by
// encoding/json, so the dispatch layer sees one representation.
func normalize(data any) any {
	switch d := data.(type) {
	case map[any]any:
		out := make(map[string]any, len(d))
		for k, v := range d {
			out[fmt.Sprint(k)] = normalize(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(d))
		for k, v := range d {
			out[k] = normalize(v)
		}
		return out
	case []any:
		out := make([]any, len(d))
		for i, v := range d {
			out[i] = normalize(v)
		}
		return out
	case int8:
		return float64(d)
	case int16:
		return float64(d)
	case int32:
		return float64(d)
	case int64:
		return float64(d)
	case uint8:
		return float64(d)
	case uint16:
		return float64(d)
	case uint32:
		return float64(d)
	case uint64:
		return float64(d)
	case float32:
		return float64(d)
	default:
		return data
	}
}
