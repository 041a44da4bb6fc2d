package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alxayo/go-rtmp/internal/codec"
	"github.com/alxayo/go-rtmp/internal/store"
)

const (
	livePacketQueueDepth = 64
	idleThreshold        = 10 * time.Second
)

// liveControl is the single-slot signal the Ingestor uses to tell the Live
// Decoder whether it should be decoding right now, and whether a keyframe
// just opened a new group. It replaces the teacher-domain's condition
// variable with a channel the decoder's main loop selects over alongside
// packet delivery.
type liveControl struct {
	keyframeReset bool
	decodeEnabled bool
	keyframeOnly  bool
}

// LiveDecoder decodes packets of the "current" Packet Group to raw images
// whenever a consumer has recently requested one (gated by the Ingestor),
// publishing each decoded frame to the Shared Store's live decoded ring
// (the `memory_decoded_{d}` stream, i.e. an empty request id).
type LiveDecoder struct {
	deviceID string
	st       *store.Store
	scale    string
	logger   *slog.Logger

	packets chan *codec.Packet
	control chan liveControl

	decoder       *codec.Decoder
	packetCount   int
	decodeEnabled bool
	keyframeOnly  bool
}

// NewLiveDecoder constructs a Live Decoder for one device.
func NewLiveDecoder(deviceID string, st *store.Store, scale string, logger *slog.Logger) *LiveDecoder {
	return &LiveDecoder{
		deviceID: deviceID,
		st:       st,
		scale:    scale,
		logger:   logger,
		packets:  make(chan *codec.Packet, livePacketQueueDepth),
		control:  make(chan liveControl, 1),
	}
}

// DeliverPacket hands a demuxed video packet to the decoder. If the
// decoder's backlog is full the packet is dropped rather than stalling the
// Ingestor — the ring self-heals on the next accepted packet.
func (d *LiveDecoder) DeliverPacket(pkt *codec.Packet) {
	select {
	case d.packets <- pkt:
	default:
		d.logger.Warn("live decoder backlog full, dropping packet", "device", d.deviceID)
	}
}

// Signal updates the decoder's enabled/keyframe-reset/keyframe-only state.
// It is single-slot: a pending, not-yet-observed signal is overwritten
// rather than queued, since only the latest state matters.
func (d *LiveDecoder) Signal(keyframeReset, decodeEnabled, keyframeOnly bool) {
	msg := liveControl{keyframeReset: keyframeReset, decodeEnabled: decodeEnabled, keyframeOnly: keyframeOnly}
	select {
	case <-d.control:
	default:
	}
	select {
	case d.control <- msg:
	default:
	}
}

// Run is the decoder's main task: a select over packet delivery and
// control signals, until ctx is cancelled.
func (d *LiveDecoder) Run(ctx context.Context) {
	defer func() {
		if d.decoder != nil {
			d.decoder.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.control:
			if msg.keyframeReset {
				d.packetCount = 0
			}
			d.decodeEnabled = msg.decodeEnabled
			d.keyframeOnly = msg.keyframeOnly
		case pkt, ok := <-d.packets:
			if !ok {
				return
			}
			d.handlePacket(ctx, pkt)
		}
	}
}

func (d *LiveDecoder) handlePacket(ctx context.Context, pkt *codec.Packet) {
	if pkt.IsKeyframe {
		d.packetCount = 0
	}
	d.packetCount++

	if !d.decodeEnabled {
		return
	}
	if !shouldDecodePacket(d.keyframeOnly, d.packetCount) {
		return
	}

	if d.decoder == nil {
		info, ok, err := d.st.CodecInfo(ctx)
		if err != nil || !ok {
			return
		}
		dec, err := codec.NewDecoderFromCodecInfo(d.deviceID, info, d.scale)
		if err != nil {
			d.logger.Warn("live decoder: failed to configure decoder", "device", d.deviceID, "error", err)
			return
		}
		d.decoder = dec
	}

	frames, err := d.decoder.Decode(pkt)
	if err != nil {
		d.logger.Warn("live decode failed", "device", d.deviceID, "error", err)
		return
	}
	for _, f := range frames {
		f.TimestampMS = time.Now().UnixMilli()
		if err := d.st.AppendDecodedFrame(ctx, "", f); err != nil {
			d.logger.Warn("failed to append live decoded frame", "device", d.deviceID, "error", err)
		}
	}
}

// shouldDecodePacket reports whether the Nth packet (1-indexed, reset on
// every keyframe) of the current group should be decoded: every packet
// normally, or only the group's opening keyframe when keyframeOnly is set.
func shouldDecodePacket(keyframeOnly bool, packetCountInGroup int) bool {
	if !keyframeOnly {
		return true
	}
	return packetCountInGroup == 1
}

// IsFresh reports whether lastQuery (unix ms) is within the idle threshold
// of now (unix ms) — the Ingestor calls this every packet to decide
// whether to wake or idle the Live Decoder (spec's "idle gating" invariant).
func IsFresh(lastQuery, now int64) bool {
	if lastQuery <= 0 {
		return false
	}
	return now-lastQuery < idleThreshold.Milliseconds()
}
