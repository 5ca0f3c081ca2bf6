package parser

import (
	"encoding/json"
	"fmt"

	"github.com/phederal/sio/pkg/events"
	"github.com/phederal/sio/pkg/log"
)

var decoder_log = log.NewLog("sio:parser")

type decoder struct {
	events.EventEmitter

	reconstructor *binaryReconstructor
}

func (d *decoder) Add(data []byte, binary bool) error {
	if binary {
		if d.reconstructor == nil {
			return ErrUnexpectedAttachment
		}
		packet, done := d.reconstructor.takeBinaryData(data)
		if done {
			d.reconstructor = nil
			if packet == nil {
				return ErrMalformedFrame
			}
			decoder_log.Debug("decoded %v", packet)
			d.Emit("decoded", packet)
		}
		return nil
	}

	if d.reconstructor != nil {
		// a text frame is not allowed while attachments are pending
		d.reconstructor = nil
		return ErrMalformedFrame
	}
	packet, err := d.decodeString(string(data))
	if err != nil {
		return err
	}
	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		d.reconstructor = newBinaryReconstructor(packet)
		return nil
	}
	decoder_log.Debug("decoded %v", packet)
	d.Emit("decoded", packet)
	return nil
}

func (d *decoder) Destroy() {
	d.reconstructor = nil
	d.Clear()
}

func (d *decoder) decodeString(str string) (*Packet, error) {
	if len(str) == 0 {
		return nil, ErrMalformedFrame
	}
	if str[0] < '0' || str[0] > '0'+byte(BINARY_ACK) {
		return nil, ErrUnknownPacketType
	}
	packet := &Packet{Type: PacketType(str[0] - '0'), Nsp: "/"}
	i := 1

	// attachment count, only for the binary variants
	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		start := i
		for i < len(str) && str[i] >= '0' && str[i] <= '9' {
			i++
		}
		if i == start || i == len(str) || str[i] != '-' {
			return nil, fmt.Errorf("%w: illegal attachment count", ErrMalformedFrame)
		}
		attachments, err := parseUint(str[start:i])
		if err != nil || attachments == 0 {
			return nil, fmt.Errorf("%w: illegal attachment count", ErrMalformedFrame)
		}
		packet.Attachments = &attachments
		i++
	}

	// namespace, present iff the next character is "/"
	if i < len(str) && str[i] == '/' {
		start := i
		for i < len(str) && str[i] != ',' {
			i++
		}
		packet.Nsp = str[start:i]
		if i < len(str) {
			i++
		}
	}

	// ack id
	if start := i; i < len(str) && str[i] >= '0' && str[i] <= '9' {
		for i < len(str) && str[i] >= '0' && str[i] <= '9' {
			i++
		}
		id, err := parseUint(str[start:i])
		if err != nil {
			return nil, fmt.Errorf("%w: illegal ack id", ErrMalformedFrame)
		}
		packet.Id = &id
	}

	if i < len(str) {
		var payload any
		if err := json.Unmarshal([]byte(str[i:]), &payload); err != nil {
			return nil, fmt.Errorf("%w: invalid payload", ErrMalformedFrame)
		}
		packet.Data = payload
	}
	if !isPayloadValid(packet.Type, packet.Data) {
		return nil, fmt.Errorf("%w: invalid payload for %s", ErrMalformedFrame, packet.Type)
	}
	return packet, nil
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrMalformedFrame
		}
		n = n*10 + uint64(s[i]-'0')
	}
	return n, nil
}

func isPayloadValid(t PacketType, data any) bool {
	switch t {
	case CONNECT:
		if data == nil {
			return true
		}
		_, ok := data.(map[string]any)
		return ok
	case DISCONNECT:
		return data == nil
	case CONNECT_ERROR:
		switch data.(type) {
		case map[string]any, string:
			return true
		}
		return false
	case EVENT, BINARY_EVENT:
		args, ok := data.([]any)
		if !ok || len(args) == 0 {
			return false
		}
		_, ok = args[0].(string)
		return ok
	case ACK, BINARY_ACK:
		_, ok := data.([]any)
		return ok || data == nil
	}
	return false
}

// binaryReconstructor buffers the attachments announced by a BINARY_EVENT or
// BINARY_ACK text frame until the packet is complete.
type binaryReconstructor struct {
	packet  *Packet
	buffers [][]byte
}

func newBinaryReconstructor(packet *Packet) *binaryReconstructor {
	return &binaryReconstructor{packet: packet}
}

func (r *binaryReconstructor) takeBinaryData(data []byte) (*Packet, bool) {
	r.buffers = append(r.buffers, data)
	if uint64(len(r.buffers)) < *r.packet.Attachments {
		return nil, false
	}
	reconstructed, err := ReconstructPacket(r.packet.Data, r.buffers)
	if err != nil {
		return nil, true
	}
	packet := r.packet
	packet.Data = reconstructed
	packet.Attachments = nil
	if packet.Type == BINARY_EVENT {
		packet.Type = EVENT
	} else {
		packet.Type = ACK
	}
	return packet, true
}
