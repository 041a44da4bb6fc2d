// Package flv encodes video/audio packets into FLV tag bodies and, for the
// segment archiver, whole FLV container files. It is the encode-direction
// counterpart of a teacher parser: instead of sniffing an inbound RTMP
// payload's header bytes to learn the codec, this package is always told
// the codec up front (from codec.CodecInfo) and only ever writes.
package flv

import (
	"fmt"

	"github.com/alxayo/go-rtmp/internal/codec"
)

// Video FrameType/CodecID nibble values (FLV spec).
const (
	frameTypeKey   = 1
	frameTypeInter = 2

	codecIDAVC  = 7
	codecIDHEVC = 12
)

// AVCPacketType / AACPacketType values.
const (
	packetTypeSequenceHeader = 0
	packetTypeNALU           = 1
)

// Audio SoundFormat nibble values.
const (
	soundFormatAAC = 10
)

// EncodeVideoTag builds an FLV video tag body (the RTMP/FLV tag *data*, not
// the 11-byte tag header) for one Packet. avcc must already be in
// length-prefixed AVCC form (see NALUsToAVCC).
func EncodeVideoTag(p *codec.Packet, avcc []byte, codecID int) []byte {
	frameType := frameTypeInter
	if p.IsKeyframe {
		frameType = frameTypeKey
	}
	out := make([]byte, 5, 5+len(avcc))
	out[0] = byte(frameType<<4) | byte(codecID)
	out[1] = packetTypeNALU
	ct := int32(p.PTS - p.DTS)
	out[2] = byte(ct >> 16)
	out[3] = byte(ct >> 8)
	out[4] = byte(ct)
	return append(out, avcc...)
}

// EncodeVideoSequenceHeader builds the AVCDecoderConfigurationRecord tag
// body written once at the start of a segment (or once per egress session)
// so a player can configure its H.264/H.265 decoder without parsing SPS/PPS
// out of the elementary stream itself.
func EncodeVideoSequenceHeader(extradata []byte, codecID int) []byte {
	out := make([]byte, 5, 5+len(extradata))
	out[0] = byte(frameTypeKey<<4) | byte(codecID)
	out[1] = packetTypeSequenceHeader
	// composition time is always 0 for a sequence header
	return append(out, extradata...)
}

// EncodeAudioTag builds an FLV AAC audio tag body for one Packet. data is the
// raw ADTS-stripped AAC payload (raw AAC frame, not ADTS framed).
func EncodeAudioTag(data []byte) []byte {
	out := make([]byte, 2, 2+len(data))
	out[0] = byte(soundFormatAAC<<4) | 0x0F // 44.1kHz/16-bit/stereo flags, AAC ignores these
	out[1] = packetTypeNALU
	return append(out, data...)
}

// EncodeAudioSequenceHeader builds the AudioSpecificConfig tag body.
func EncodeAudioSequenceHeader(extradata []byte) []byte {
	out := make([]byte, 2, 2+len(extradata))
	out[0] = byte(soundFormatAAC<<4) | 0x0F
	out[1] = packetTypeSequenceHeader
	return append(out, extradata...)
}

// CodecIDForName maps a codec.CodecInfo.Name to the FLV numeric codec ID.
func CodecIDForName(name string) (int, error) {
	switch name {
	case "h264", "H264":
		return codecIDAVC, nil
	case "hevc", "h265", "H265", "HEVC":
		return codecIDHEVC, nil
	default:
		return 0, fmt.Errorf("flv: unsupported video codec %q", name)
	}
}
