package control

import (
	"bytes"
	"testing"
)

func TestEncodeSetChunkSize(t *testing.T) {
	m := EncodeSetChunkSize(4096)
	if m.TypeID != TypeSetChunkSize || m.CSID != 2 || m.MessageStreamID != 0 || m.Timestamp != 0 {
		t.Fatalf("unexpected control channel fields: %+v", m)
	}
	want := []byte{0x00, 0x00, 0x10, 0x00} // 4096 big-endian
	if !bytes.Equal(m.Payload, want) {
		t.Fatalf("payload mismatch: got % X want % X", m.Payload, want)
	}
	if int(m.MessageLength) != len(want) {
		t.Fatalf("message length mismatch: got %d want %d", m.MessageLength, len(want))
	}
}

func TestEncodeWindowAcknowledgementSize(t *testing.T) {
	m := EncodeWindowAcknowledgementSize(2_500_000)
	if m.TypeID != TypeWindowAcknowledgement || m.CSID != 2 || m.MessageStreamID != 0 || m.Timestamp != 0 {
		t.Fatalf("unexpected control channel fields: %+v", m)
	}
	want := []byte{0x00, 0x26, 0x25, 0xA0} // 2,500,000 big-endian
	if !bytes.Equal(m.Payload, want) {
		t.Fatalf("payload mismatch: got % X want % X", m.Payload, want)
	}
}
