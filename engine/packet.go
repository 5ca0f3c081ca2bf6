package engine

import (
	"encoding/json"
	"errors"
	"strconv"
)

// PacketType is the transport-level packet type, encoded as the leading
// character of a text frame. Binary frames carry message payloads directly
// and have no type prefix.
type PacketType byte

const (
	OPEN    PacketType = '0'
	CLOSE   PacketType = '1'
	PING    PacketType = '2'
	PONG    PacketType = '3'
	MESSAGE PacketType = '4'
	UPGRADE PacketType = '5'
	NOOP    PacketType = '6'
)

var ErrInvalidPacket = errors.New("invalid engine packet")

type Packet struct {
	Type PacketType
	Data []byte
}

func (p *Packet) Encode() []byte {
	out := make([]byte, 0, 1+len(p.Data))
	out = append(out, byte(p.Type))
	return append(out, p.Data...)
}

func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 || data[0] < byte(OPEN) || data[0] > byte(NOOP) {
		return nil, ErrInvalidPacket
	}
	return &Packet{Type: PacketType(data[0]), Data: data[1:]}, nil
}

func (t PacketType) String() string {
	switch t {
	case OPEN:
		return "open"
	case CLOSE:
		return "close"
	case PING:
		return "ping"
	case PONG:
		return "pong"
	case MESSAGE:
		return "message"
	case UPGRADE:
		return "upgrade"
	case NOOP:
		return "noop"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// HandshakeData is the payload of the OPEN packet sent to a client when its
// channel is accepted.
type HandshakeData struct {
	Sid          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

func encodeHandshake(data *HandshakeData) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return (&Packet{Type: OPEN, Data: payload}).Encode(), nil
}
