package flv

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWriterWritesFLVHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "segment.flv")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(header) {
		t.Fatalf("file contents = % X, want bare FLV header % X", got, header)
	}
}

func TestWriterWriteTagFraming(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "segment.flv")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	body := []byte{0xAA, 0xBB, 0xCC}
	// Segment self-timing (spec §8): the first tag of a freshly created
	// segment must carry timestamp 0 — the Archiver always rebases to the
	// group's minimum dts before calling WriteTag.
	if err := w.WriteTag(9, 0, body); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	rest := data[len(header):]
	if len(rest) != 11+len(body)+4 {
		t.Fatalf("tag region length = %d, want %d", len(rest), 11+len(body)+4)
	}

	tagType := rest[0]
	if tagType != 9 {
		t.Fatalf("tag type = %d, want 9 (video)", tagType)
	}
	dataSize := int(rest[1])<<16 | int(rest[2])<<8 | int(rest[3])
	if dataSize != len(body) {
		t.Fatalf("encoded data size = %d, want %d", dataSize, len(body))
	}
	ts := uint32(rest[4])<<16 | uint32(rest[5])<<8 | uint32(rest[6])
	tsExt := rest[7]
	if ts != 0 || tsExt != 0 {
		t.Fatalf("encoded timestamp = (%d, ext=%d), want (0, 0)", ts, tsExt)
	}

	gotBody := rest[11 : 11+len(body)]
	if string(gotBody) != string(body) {
		t.Fatalf("tag body = % X, want % X", gotBody, body)
	}

	prevTagSize := binary.BigEndian.Uint32(rest[11+len(body):])
	if want := uint32(11 + len(body)); prevTagSize != want {
		t.Fatalf("PreviousTagSize = %d, want %d", prevTagSize, want)
	}
}

func TestWriterWriteTagRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "segment.flv")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	oversized := make([]byte, 0x1000000+1)
	if err := w.WriteTag(9, 0, oversized); err == nil {
		t.Fatal("expected error for oversized tag body, got nil")
	}
}

func TestWriterBytesWrittenAccumulates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "segment.flv")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	if w.BytesWritten() != uint64(len(header)) {
		t.Fatalf("BytesWritten() after Create = %d, want %d", w.BytesWritten(), len(header))
	}

	body := []byte{0x01, 0x02}
	if err := w.WriteTag(8, 0, body); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	want := uint64(len(header)) + uint64(11+len(body)+4)
	if w.BytesWritten() != want {
		t.Fatalf("BytesWritten() after one tag = %d, want %d", w.BytesWritten(), want)
	}
}
