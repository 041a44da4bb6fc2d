// Package control encodes RTMP protocol control messages. Only the two
// messages a send-only egress client actually announces are kept here —
// Set Chunk Size and Window Acknowledgement Size — since this repo never
// accepts inbound RTMP connections and so never needs to encode Abort
// Message, Acknowledgement, User Control, or Set Peer Bandwidth (those are
// either server-side or require reading back a peer's chunk stream, which
// egress never does).
package control

import (
	"encoding/binary"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// RTMP protocol control message type IDs this egress client emits.
const (
	TypeSetChunkSize          uint8 = 1
	TypeWindowAcknowledgement uint8 = 5
)

// newControlMessage builds a *chunk.Message with standard control channel fields.
func newControlMessage(typeID uint8, payload []byte) *chunk.Message {
	return &chunk.Message{
		CSID:            2, // protocol control channel
		Timestamp:       0, // control messages here use timestamp=0
		MessageLength:   uint32(len(payload)),
		TypeID:          typeID,
		MessageStreamID: 0, // always 0 for control
		Payload:         payload,
	}
}

// EncodeSetChunkSize creates a Type 1 Set Chunk Size control message.
func EncodeSetChunkSize(size uint32) *chunk.Message {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], size)
	return newControlMessage(TypeSetChunkSize, p[:])
}

// EncodeWindowAcknowledgementSize creates a Type 5 Window Acknowledgement Size control message.
func EncodeWindowAcknowledgementSize(size uint32) *chunk.Message {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], size)
	return newControlMessage(TypeWindowAcknowledgement, p[:])
}
