package parser

// PacketType is the Socket.IO protocol v5 packet type.
type PacketType byte

const (
	CONNECT PacketType = iota
	DISCONNECT
	EVENT
	ACK
	CONNECT_ERROR
	BINARY_EVENT
	BINARY_ACK
)

func (t PacketType) Valid() bool {
	return t <= BINARY_ACK
}

func (t PacketType) String() string {
	switch t {
	case CONNECT:
		return "CONNECT"
	case DISCONNECT:
		return "DISCONNECT"
	case EVENT:
		return "EVENT"
	case ACK:
		return "ACK"
	case CONNECT_ERROR:
		return "CONNECT_ERROR"
	case BINARY_EVENT:
		return "BINARY_EVENT"
	case BINARY_ACK:
		return "BINARY_ACK"
	}
	return "UNKNOWN"
}

// Packet is a decoded Socket.IO packet.
//
// For EVENT and BINARY_EVENT packets Data is a []any whose first element is
// the event name. For ACK and BINARY_ACK packets Data is the []any of
// response arguments. For CONNECT packets Data is the optional auth object,
// and for CONNECT_ERROR packets the error payload.
type Packet struct {
	Type        PacketType
	Nsp         string
	Id          *uint64
	Data        any
	Attachments *uint64
}

// Frame is a single transport frame produced by an Encoder or consumed by a
// Decoder. A packet with binary attachments spans one text frame followed by
// one binary frame per attachment, in order.
type Frame struct {
	Data   []byte
	Binary bool
}
