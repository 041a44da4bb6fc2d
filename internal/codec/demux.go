package codec

import (
	"errors"
	"fmt"
	"io"

	astiav "github.com/asticode/go-astiav"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
)

// Source demuxes an RTSP URL into Packets, tracking which stream index is
// video and which (if any) is audio.
type Source struct {
	fc       *astiav.FormatContext
	videoIdx int
	audioIdx int

	videoStream *astiav.Stream
	audioStream *astiav.Stream

	pkt *astiav.Packet
}

// OpenSource dials the RTSP URL with the option set spec'd for the ingestor:
// transport=tcp, socket_timeout=5s, max_delay=5s, use_wallclock_as_timestamps=true,
// generate_pts=true.
func OpenSource(deviceID, rawURL string) (*Source, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, rerrors.NewIngestError(deviceID, "open", errors.New("astiav.AllocFormatContext returned nil"))
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("rtsp_transport", "tcp", 0)
	_ = opts.Set("stimeout", "5000000", 0)     // socket_timeout=5s, microseconds
	_ = opts.Set("max_delay", "5000000", 0)    // 5s, microseconds
	_ = opts.Set("use_wallclock_as_timestamps", "1", 0)
	_ = opts.Set("fflags", "+genpts", 0) // generate_pts=true

	if err := fc.OpenInput(rawURL, nil, opts); err != nil {
		fc.Free()
		return nil, rerrors.NewIngestError(deviceID, "open_input", err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, rerrors.NewIngestError(deviceID, "find_stream_info", err)
	}

	s := &Source{fc: fc, videoIdx: -1, audioIdx: -1}
	for i, st := range fc.Streams() {
		switch st.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if s.videoIdx == -1 {
				s.videoIdx = i
				s.videoStream = st
			}
		case astiav.MediaTypeAudio:
			if s.audioIdx == -1 {
				s.audioIdx = i
				s.audioStream = st
			}
		}
	}
	if s.videoIdx == -1 {
		fc.CloseInput()
		fc.Free()
		return nil, rerrors.NewIngestError(deviceID, "open", errors.New("no video stream in RTSP source"))
	}

	s.pkt = astiav.AllocPacket()
	return s, nil
}

// CodecInfo builds the Codec Info record for the video stream, including
// extradata so a historical decoder can configure an out-of-band decoder.
func (s *Source) CodecInfo() CodecInfo {
	par := s.videoStream.CodecParameters()
	tb := s.videoStream.TimeBase()
	dec := astiav.FindDecoder(par.CodecID())
	name, longName := "", ""
	if dec != nil {
		name = dec.Name()
		longName = dec.LongName()
	}
	return CodecInfo{
		Name:        name,
		LongName:    longName,
		Width:       par.Width(),
		Height:      par.Height(),
		PixFmt:      par.PixelFormat().String(),
		Extradata:   par.ExtraData(),
		TimeBaseNum: tb.Num(),
		TimeBaseDen: tb.Den(),
	}
}

// CodecParameters exposes the raw video stream codec parameters for a decoder
// to configure itself from, without leaking the *astiav.FormatContext itself.
func (s *Source) CodecParameters() *astiav.CodecParameters {
	return s.videoStream.CodecParameters()
}

// HasAudio reports whether the source carries an audio stream.
func (s *Source) HasAudio() bool { return s.audioIdx != -1 }

// AudioCodecParameters exposes the audio stream's codec parameters, valid only if HasAudio().
func (s *Source) AudioCodecParameters() *astiav.CodecParameters {
	if s.audioStream == nil {
		return nil
	}
	return s.audioStream.CodecParameters()
}

// ReadPacket blocks until the next demuxed packet is available, returning
// io.EOF when the stream ends. Packets from streams other than the first
// detected video/audio stream are skipped.
func (s *Source) ReadPacket() (*Packet, error) {
	for {
		if err := s.fc.ReadFrame(s.pkt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("codec: read frame: %w", err)
		}

		idx := s.pkt.StreamIndex()
		var st StreamType
		switch idx {
		case s.videoIdx:
			st = StreamTypeVideo
		case s.audioIdx:
			st = StreamTypeAudio
		default:
			s.pkt.Unref()
			continue
		}

		var tb astiav.Rational
		if st == StreamTypeVideo {
			tb = s.videoStream.TimeBase()
		} else {
			tb = s.audioStream.TimeBase()
		}

		data := s.pkt.Data()
		out := &Packet{
			Data:        append([]byte(nil), data...),
			PTS:         s.pkt.Pts(),
			DTS:         s.pkt.Dts(),
			TimeBaseNum: tb.Num(),
			TimeBaseDen: tb.Den(),
			Duration:    s.pkt.Duration(),
			IsKeyframe:  s.pkt.Flags()&astiav.PacketFlagKey != 0,
			IsCorrupt:   s.pkt.Flags()&astiav.PacketFlagCorrupt != 0,
			StreamType:  st,
		}
		s.pkt.Unref()
		return out, nil
	}
}

// Close releases the underlying format context and packet.
func (s *Source) Close() error {
	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}
	if s.fc != nil {
		s.fc.CloseInput()
		s.fc.Free()
		s.fc = nil
	}
	return nil
}
