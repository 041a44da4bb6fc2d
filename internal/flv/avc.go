package flv

import (
	"bytes"
	"encoding/binary"
)

// NALUsToAVCC rewrites an Annex-B elementary stream (NALUs separated by
// 0x000001 / 0x00000001 start codes, as RTSP/RTP H.264 delivers them) into
// AVCC form: each NALU prefixed by its 4-byte big-endian length. FLV/MP4
// players expect AVCC, not Annex-B.
func NALUsToAVCC(annexB []byte) []byte {
	nalus := splitAnnexB(annexB)
	var buf bytes.Buffer
	var lenPrefix [4]byte
	for _, n := range nalus {
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(n)))
		buf.Write(lenPrefix[:])
		buf.Write(n)
	}
	return buf.Bytes()
}

// splitAnnexB splits a byte stream on 3- or 4-byte start codes and returns
// the NALUs in between (start codes excluded, trailing emulation bytes
// intact — FLV/MP4 consumers don't need start-code emulation removed for
// whole-NALU length-prefixed framing).
func splitAnnexB(data []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		if len(data) == 0 {
			return nil
		}
		return [][]byte{data}
	}
	var nalus [][]byte
	for i, s := range starts {
		naluStart := s + 3
		naluEnd := len(data)
		if i+1 < len(starts) {
			naluEnd = starts[i+1]
		}
		// Trim a preceding 0x00 byte that turns a 3-byte start code into a 4-byte one.
		for naluEnd > naluStart && data[naluEnd-1] == 0 {
			if i+1 < len(starts) && starts[i+1]-1 == naluEnd-1 {
				naluEnd--
				continue
			}
			break
		}
		if naluEnd > naluStart {
			nalus = append(nalus, data[naluStart:naluEnd])
		}
	}
	return nalus
}

// BuildAVCDecoderConfigurationRecord wraps raw SPS/PPS NALUs (as produced by
// astiav's CodecParameters().ExtraData(), which FFmpeg already returns in
// avcC form for RTSP-sourced H.264) unchanged — astiav/libavformat populates
// extradata in the AVCDecoderConfigurationRecord layout already, so no
// conversion is required for the sequence header path.
func BuildAVCDecoderConfigurationRecord(extradata []byte) []byte {
	return extradata
}
