package flv

import (
	"testing"

	"github.com/alxayo/go-rtmp/internal/codec"
)

func TestCodecIDForName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"h264", codecIDAVC, false},
		{"H264", codecIDAVC, false},
		{"hevc", codecIDHEVC, false},
		{"H265", codecIDHEVC, false},
		{"mpeg4", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CodecIDForName(tc.name)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("CodecIDForName(%q) expected error, got nil", tc.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("CodecIDForName(%q) unexpected error: %v", tc.name, err)
			}
			if got != tc.want {
				t.Fatalf("CodecIDForName(%q) = %d, want %d", tc.name, got, tc.want)
			}
		})
	}
}

func TestEncodeVideoTagKeyframeVsInter(t *testing.T) {
	t.Parallel()

	avcc := []byte{0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB}

	key := EncodeVideoTag(&codec.Packet{IsKeyframe: true, PTS: 100, DTS: 100}, avcc, codecIDAVC)
	if got, want := key[0], byte(frameTypeKey<<4)|byte(codecIDAVC); got != want {
		t.Fatalf("keyframe tag byte0 = %#x, want %#x", got, want)
	}
	if key[1] != packetTypeNALU {
		t.Fatalf("keyframe AVCPacketType = %d, want %d", key[1], packetTypeNALU)
	}

	inter := EncodeVideoTag(&codec.Packet{IsKeyframe: false, PTS: 100, DTS: 100}, avcc, codecIDAVC)
	if got, want := inter[0], byte(frameTypeInter<<4)|byte(codecIDAVC); got != want {
		t.Fatalf("inter tag byte0 = %#x, want %#x", got, want)
	}

	if string(key[5:]) != string(avcc) || string(inter[5:]) != string(avcc) {
		t.Fatalf("expected avcc payload appended unchanged after the 5-byte tag prefix")
	}
}

func TestEncodeVideoTagCompositionTimeFromPTSMinusDTS(t *testing.T) {
	t.Parallel()

	p := &codec.Packet{IsKeyframe: true, PTS: 340, DTS: 300}
	tag := EncodeVideoTag(p, nil, codecIDAVC)

	ct := int32(tag[2])<<16 | int32(tag[3])<<8 | int32(tag[4])
	if ct != 40 {
		t.Fatalf("composition time = %d, want 40", ct)
	}
}

func TestEncodeVideoSequenceHeaderIsAlwaysKeyframeSequenceHeader(t *testing.T) {
	t.Parallel()

	extradata := []byte{0x01, 0x64, 0x00, 0x1F}
	tag := EncodeVideoSequenceHeader(extradata, codecIDAVC)

	if got, want := tag[0], byte(frameTypeKey<<4)|byte(codecIDAVC); got != want {
		t.Fatalf("sequence header byte0 = %#x, want %#x", got, want)
	}
	if tag[1] != packetTypeSequenceHeader {
		t.Fatalf("AVCPacketType = %d, want %d (sequence header)", tag[1], packetTypeSequenceHeader)
	}
	if string(tag[5:]) != string(extradata) {
		t.Fatalf("expected extradata appended unchanged after the 5-byte prefix")
	}
}

func TestEncodeAudioTagAndSequenceHeader(t *testing.T) {
	t.Parallel()

	data := []byte{0x21, 0x22}
	tag := EncodeAudioTag(data)
	if tag[0] != byte(soundFormatAAC<<4)|0x0F {
		t.Fatalf("audio tag byte0 = %#x", tag[0])
	}
	if tag[1] != packetTypeNALU {
		t.Fatalf("AACPacketType = %d, want %d (raw)", tag[1], packetTypeNALU)
	}
	if string(tag[2:]) != string(data) {
		t.Fatalf("expected raw AAC payload appended unchanged")
	}

	extradata := []byte{0x12, 0x10}
	hdr := EncodeAudioSequenceHeader(extradata)
	if hdr[1] != packetTypeSequenceHeader {
		t.Fatalf("AACPacketType = %d, want %d (sequence header)", hdr[1], packetTypeSequenceHeader)
	}
	if string(hdr[2:]) != string(extradata) {
		t.Fatalf("expected AudioSpecificConfig appended unchanged")
	}
}
