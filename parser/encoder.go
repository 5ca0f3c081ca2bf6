package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/phederal/sio/pkg/log"
)

var encoder_log = log.NewLog("sio:parser")

type encoder struct{}

func (e *encoder) Encode(packet *Packet) ([]Frame, error) {
	if packet == nil || !packet.Type.Valid() {
		return nil, ErrUnknownPacketType
	}
	encoder_log.Debug("encoding packet %v", packet)

	packetType := packet.Type
	data := packet.Data
	var attachments [][]byte

	// promote to the binary variant when any argument carries bytes,
	// demote when none do
	switch packetType {
	case EVENT, BINARY_EVENT:
		if HasBinary(data) {
			packetType = BINARY_EVENT
		} else {
			packetType = EVENT
		}
	case ACK, BINARY_ACK:
		if HasBinary(data) {
			packetType = BINARY_ACK
		} else {
			packetType = ACK
		}
	}

	if packetType == BINARY_EVENT || packetType == BINARY_ACK {
		data, attachments = DeconstructPacket(data)
	}

	var sb strings.Builder
	sb.WriteByte('0' + byte(packetType))
	if len(attachments) > 0 {
		sb.WriteString(strconv.Itoa(len(attachments)))
		sb.WriteByte('-')
	}
	if packet.Nsp != "" && packet.Nsp != "/" {
		sb.WriteString(packet.Nsp)
		sb.WriteByte(',')
	}
	if packet.Id != nil {
		sb.WriteString(strconv.FormatUint(*packet.Id, 10))
	}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		sb.Write(payload)
	}

	frames := make([]Frame, 0, 1+len(attachments))
	frames = append(frames, Frame{Data: []byte(sb.String())})
	for _, attachment := range attachments {
		frames = append(frames, Frame{Data: attachment, Binary: true})
	}
	return frames, nil
}
