package flv

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
)

// header is the fixed 13-byte FLV file header: signature, version, flags
// (audio+video present), 9-byte header length, and the PreviousTagSize0
// placeholder.
var header = []byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}

// Writer streams FLV tags to a single on-disk segment file. Timestamps
// passed to WriteTag are expected to already be rebased to zero by the
// caller (the archiver subtracts the group's minimum dts before calling in).
type Writer struct {
	w            io.WriteCloser
	bytesWritten uint64
}

// Create opens path, truncating any existing file, and writes the FLV header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, rerrors.NewArchiveError("create", err)
	}
	w := &Writer{w: f}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	if _, err := w.w.Write(header); err != nil {
		_ = w.w.Close()
		return rerrors.NewArchiveError("write_header", err)
	}
	w.bytesWritten += uint64(len(header))
	return nil
}

// WriteTag writes one 11-byte tag header + body + 4-byte PreviousTagSize.
// tagType is 8 (audio) or 9 (video); timestampMS must already be segment-relative.
func (w *Writer) WriteTag(tagType uint8, timestampMS uint32, body []byte) error {
	dataSize := len(body)
	if dataSize > 0xFFFFFF {
		return rerrors.NewArchiveError("write_tag", fmt.Errorf("tag body too large: %d", dataSize))
	}
	var hdr [11]byte
	hdr[0] = tagType
	hdr[1] = byte(dataSize >> 16)
	hdr[2] = byte(dataSize >> 8)
	hdr[3] = byte(dataSize)
	hdr[4] = byte(timestampMS >> 16)
	hdr[5] = byte(timestampMS >> 8)
	hdr[6] = byte(timestampMS)
	hdr[7] = byte(timestampMS >> 24)

	if _, err := w.w.Write(hdr[:]); err != nil {
		return rerrors.NewArchiveError("write_tag_header", err)
	}
	if dataSize > 0 {
		if _, err := w.w.Write(body); err != nil {
			return rerrors.NewArchiveError("write_tag_body", err)
		}
	}
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(11+dataSize))
	if _, err := w.w.Write(sz[:]); err != nil {
		return rerrors.NewArchiveError("write_prev_tag_size", err)
	}
	w.bytesWritten += uint64(11 + dataSize + 4)
	return nil
}

// BytesWritten returns the total bytes written so far, including header and tag framing.
func (w *Writer) BytesWritten() uint64 { return w.bytesWritten }

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if w.w == nil {
		return nil
	}
	err := w.w.Close()
	w.w = nil
	return err
}
