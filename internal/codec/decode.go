package codec

import (
	"errors"
	"fmt"

	astiav "github.com/asticode/go-astiav"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
)

// Decoder decodes Packets of a single video stream into raw Frames, scaling
// through a software scale context to packed BGR24 on the way out.
type Decoder struct {
	ctx    *astiav.CodecContext
	frame  *astiav.Frame
	scaler *scaler
	scale  string // memory_scale filter expression, e.g. "-1:-1" or "640:-1"
}

// NewDecoderFromParameters configures a decoder directly from a live RTSP
// source's codec parameters.
func NewDecoderFromParameters(deviceID string, params *astiav.CodecParameters, scale string) (*Decoder, error) {
	dec := astiav.FindDecoder(params.CodecID())
	if dec == nil {
		return nil, rerrors.NewDecodeError(deviceID+".find_decoder", errors.New("no decoder for codec"))
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return nil, rerrors.NewDecodeError(deviceID+".alloc_context", errors.New("AllocCodecContext returned nil"))
	}
	if err := params.ToCodecContext(ctx); err != nil {
		ctx.Free()
		return nil, rerrors.NewDecodeError(deviceID+".to_codec_context", err)
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return nil, rerrors.NewDecodeError(deviceID+".open", err)
	}
	return &Decoder{ctx: ctx, frame: astiav.AllocFrame(), scale: scale}, nil
}

// NewDecoderFromCodecInfo configures a standalone decoder using only a
// previously-published Codec Info record (used by both the Live Decoder and
// the Historical Decoder, which read Codec Info from the Shared Store).
func NewDecoderFromCodecInfo(deviceID string, info CodecInfo, scale string) (*Decoder, error) {
	id := astiav.FindDecoderByName(info.Name)
	if id == nil {
		return nil, rerrors.NewDecodeError(deviceID+".find_decoder", fmt.Errorf("unknown codec name %q", info.Name))
	}
	ctx := astiav.AllocCodecContext(id)
	if ctx == nil {
		return nil, rerrors.NewDecodeError(deviceID+".alloc_context", errors.New("AllocCodecContext returned nil"))
	}
	ctx.SetWidth(info.Width)
	ctx.SetHeight(info.Height)
	if len(info.Extradata) > 0 {
		ctx.SetExtraData(info.Extradata)
	}
	ctx.SetTimeBase(astiav.NewRational(info.TimeBaseNum, info.TimeBaseDen))
	if err := ctx.Open(id, nil); err != nil {
		ctx.Free()
		return nil, rerrors.NewDecodeError(deviceID+".open", err)
	}
	return &Decoder{ctx: ctx, frame: astiav.AllocFrame(), scale: scale}, nil
}

// Decode feeds one compressed Packet to the decoder and returns every Frame
// it yields (usually zero or one per packet, occasionally more after a flush).
func (d *Decoder) Decode(p *Packet) ([]*Frame, error) {
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromData(p.Data); err != nil {
		return nil, fmt.Errorf("codec: packet from data: %w", err)
	}
	pkt.SetPts(p.PTS)
	pkt.SetDts(p.DTS)
	pkt.SetDuration(p.Duration)

	if err := d.ctx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("codec: send packet: %w", err)
	}

	var frames []*Frame
	for {
		if err := d.ctx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return frames, fmt.Errorf("codec: receive frame: %w", err)
		}
		f, err := d.toBGR24(d.frame, p)
		d.frame.Unref()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (d *Decoder) toBGR24(src *astiav.Frame, p *Packet) (*Frame, error) {
	if d.scaler == nil {
		sc, err := newScaler(src, d.scale)
		if err != nil {
			return nil, err
		}
		d.scaler = sc
	}
	w, h, pixels, err := d.scaler.convert(src)
	if err != nil {
		return nil, err
	}
	ft := FrameTypeInter
	if p.IsKeyframe {
		ft = FrameTypeKey
	}
	return &Frame{
		Width:     w,
		Height:    h,
		PixFmt:    "bgr24",
		Pixels:    pixels,
		PTS:       p.PTS,
		DTS:       p.DTS,
		TimeBase:  p.TimeBaseSeconds(),
		FrameType: ft,
		IsCorrupt: p.IsCorrupt,
	}, nil
}

// Close releases the decoder's libav resources.
func (d *Decoder) Close() {
	if d.scaler != nil {
		d.scaler.close()
		d.scaler = nil
	}
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
}
