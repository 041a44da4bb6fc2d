package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/alxayo/go-rtmp/internal/codec"
	rerrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/flv"
	"github.com/alxayo/go-rtmp/internal/hooks"
	"github.com/alxayo/go-rtmp/internal/rtmp/egress"
	"github.com/alxayo/go-rtmp/internal/store"
)

const reconnectBackoff = time.Second

// Ingestor maintains a live demux of one camera's RTSP URL and fans its
// packets out to every downstream stage: the Packet-Group Assembler (held
// here as the open Group), the Archiver, the Compressed Ring/Keyframe
// Index, the Live Decoder, and — when enabled — the RTMP egress forwarder.
// It is the only stage that touches the RTSP source and is the sole writer
// of the device's compressed-ring/settings-gated state.
type Ingestor struct {
	deviceID     string
	rtspURL      string
	rtmpURL      string
	memoryBuffer int64

	st       *store.Store
	archiver *Archiver
	live     *LiveDecoder
	hookMgr  *hooks.HookManager
	logger   *slog.Logger

	forwarder       *egress.Forwarder
	sentVideoHeader bool
	sentAudioHeader bool
	egressStartMS   int64
}

// NewIngestor constructs the Ingestor for one device. rtmpURL may be empty,
// in which case egress is never attempted regardless of the proxy_rtmp
// setting.
func NewIngestor(deviceID, rtspURL, rtmpURL string, memoryBuffer int, st *store.Store, archiver *Archiver, live *LiveDecoder, hookMgr *hooks.HookManager, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		deviceID:     deviceID,
		rtspURL:      rtspURL,
		rtmpURL:      rtmpURL,
		memoryBuffer: int64(memoryBuffer),
		st:           st,
		archiver:     archiver,
		live:         live,
		hookMgr:      hookMgr,
		logger:       logger,
	}
}

// Run drives the reconnect loop: open the camera, demux until disconnect,
// sleep 1s, retry from scratch — until ctx is cancelled. It returns a
// non-nil error only when the shared store is unreachable for the
// per-session cleanup, the one class of failure spec §7 treats as
// configuration-fatal rather than an upstream-transient retry.
func (ig *Ingestor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := ig.st.Cleanup(ctx); err != nil {
			return rerrors.NewStoreError("ingestor.cleanup", err)
		}

		ig.runOnce(ctx)
		ig.closeEgress()

		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectBackoff):
		}
	}
}

// runOnce opens the camera, demuxes until disconnect or ctx cancellation,
// and returns. Every error it encounters is upstream-transient: logged,
// absorbed, and resolved by Run's reconnect loop.
func (ig *Ingestor) runOnce(ctx context.Context) {
	src, err := codec.OpenSource(ig.deviceID, ig.rtspURL)
	if err != nil {
		ig.logger.Warn("failed to open rtsp source, will retry", "device", ig.deviceID, "error", err)
		return
	}
	defer src.Close()

	info := src.CodecInfo()
	if err := ig.st.SetCodecInfo(ctx, info); err != nil {
		ig.logger.Warn("failed to publish codec info", "device", ig.deviceID, "error", err)
	}

	videoCodecID, err := flv.CodecIDForName(info.Name)
	if err != nil {
		ig.logger.Warn("unsupported video codec for archiving/egress", "device", ig.deviceID, "codec", info.Name, "error", err)
	}

	var audioExtradata []byte
	hasAudio := src.HasAudio()
	if hasAudio {
		if params := src.AudioCodecParameters(); params != nil {
			audioExtradata = params.ExtraData()
		}
	}

	if ig.hookMgr != nil {
		ig.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventDeviceConnect).WithDeviceID(ig.deviceID))
		ig.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventCodecDetected).
			WithDeviceID(ig.deviceID).WithData("codec", info.Name).WithData("width", info.Width).WithData("height", info.Height))
	}

	var group *Group
	seenFirstKeyframe := false
	proxyEnabled := false
	var lastSettings store.Settings

	for {
		if ctx.Err() != nil {
			return
		}

		pkt, err := src.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				ig.logger.Info("rtsp source ended", "device", ig.deviceID)
			} else {
				ig.logger.Warn("rtsp demux error, reconnecting", "device", ig.deviceID, "error", err)
			}
			if group != nil && ig.archiver != nil {
				ig.archiver.enqueueIfPresent(*group)
			}
			if ig.hookMgr != nil {
				ig.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventDeviceDisconnect).WithDeviceID(ig.deviceID))
			}
			return
		}

		if !pkt.HasValidDTS() {
			continue
		}

		if !seenFirstKeyframe {
			if pkt.StreamType != codec.StreamTypeVideo || !pkt.IsKeyframe {
				continue
			}
			seenFirstKeyframe = true
		}

		if pkt.StreamType == codec.StreamTypeVideo && pkt.IsKeyframe {
			if group != nil && ig.archiver != nil {
				ig.archiver.enqueueIfPresent(*group)
			}
			group = &Group{
				StartTimestamp: time.Now().UnixMilli(),
				CodecInfo:      info,
				AudioExtradata: audioExtradata,
				HasAudio:       hasAudio,
			}
		}

		if group == nil {
			continue
		}
		group.Packets = append(group.Packets, pkt)

		// The Compressed Ring and Keyframe Index are video-only (spec §3's GOP
		// invariant and the seek contract are defined purely over video
		// keyframes); audio packets are FFmpeg-flagged AV_PKT_FLAG_KEY by
		// convention and would otherwise pollute memory_iframe_list_{d} with
		// non-video entries the Historical Decoder's seek would land on.
		if pkt.StreamType == codec.StreamTypeVideo {
			if _, err := ig.st.AppendPacket(ctx, pkt, ig.memoryBuffer); err != nil {
				ig.logger.Warn("compressed ring append failed, ring will self-heal", "device", ig.deviceID, "error", err)
			}
		}

		settings, err := ig.st.Settings(ctx)
		if err != nil {
			ig.logger.Warn("failed to read device settings", "device", ig.deviceID, "error", err)
			settings = lastSettings
		}
		lastSettings = settings

		if pkt.StreamType == codec.StreamTypeVideo {
			// One combined signal per packet, not two: the control channel is
			// single-slot, so a keyframe-reset signal and a freshness-gated
			// wake/pause signal sent separately would race (the second
			// overwrites the first before the decoder observes it).
			fresh := IsFresh(settings.LastQuery, time.Now().UnixMilli())
			ig.live.Signal(pkt.IsKeyframe, fresh, settings.KeyframeOnly)
			ig.live.DeliverPacket(pkt)
		}

		if ig.rtmpURL != "" {
			if settings.ProxyRTMP && !proxyEnabled {
				ig.flushGroupToEgress(group, videoCodecID, info.Extradata)
				if ig.hookMgr != nil {
					ig.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventEgressEnabled).WithDeviceID(ig.deviceID))
				}
			} else if !settings.ProxyRTMP && proxyEnabled {
				ig.closeEgress()
				if ig.hookMgr != nil {
					ig.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventEgressDisabled).WithDeviceID(ig.deviceID))
				}
			}
			proxyEnabled = settings.ProxyRTMP

			if proxyEnabled {
				ig.muxToEgress(pkt, videoCodecID, info.Extradata, hasAudio, audioExtradata)
			}
		}
	}
}

// enqueueIfPresent hands off a group with at least one packet; an empty
// group (e.g. disconnect before any keyframe arrived) is dropped.
func (a *Archiver) enqueueIfPresent(g Group) {
	if len(g.Packets) == 0 {
		return
	}
	a.Enqueue(g)
}

// flushGroupToEgress re-muxes every packet of the in-flight group except
// the one that triggered the 0->1 transition (it is forwarded normally by
// the caller immediately afterward), keeping the downstream RTMP decoder
// fed from the group's opening keyframe instead of a mid-GOP packet.
func (ig *Ingestor) flushGroupToEgress(g *Group, videoCodecID int, videoExtradata []byte) {
	if len(g.Packets) <= 1 {
		return
	}
	fw, err := ig.ensureEgressConnected()
	if err != nil {
		ig.logger.Warn("egress connect failed", "device", ig.deviceID, "error", err)
		return
	}
	for _, p := range g.Packets[:len(g.Packets)-1] {
		ig.sendToEgress(fw, p, videoCodecID, videoExtradata, g.HasAudio, g.AudioExtradata)
	}
}

func (ig *Ingestor) muxToEgress(pkt *codec.Packet, videoCodecID int, videoExtradata []byte, hasAudio bool, audioExtradata []byte) {
	fw, err := ig.ensureEgressConnected()
	if err != nil {
		ig.logger.Warn("egress connect failed", "device", ig.deviceID, "error", err)
		return
	}
	ig.sendToEgress(fw, pkt, videoCodecID, videoExtradata, hasAudio, audioExtradata)
}

func (ig *Ingestor) ensureEgressConnected() (*egress.Forwarder, error) {
	if ig.forwarder == nil {
		fw, err := egress.New(ig.rtmpURL, ig.logger)
		if err != nil {
			return nil, err
		}
		ig.forwarder = fw
	}
	if ig.forwarder.Status() != egress.StatusConnected {
		if err := ig.forwarder.Connect(); err != nil {
			return nil, err
		}
		ig.sentVideoHeader = false
		ig.sentAudioHeader = false
		ig.egressStartMS = time.Now().UnixMilli()
	}
	return ig.forwarder, nil
}

// sendToEgress forwards one packet as an RTMP media message, timestamped
// relative to when the egress session connected — a continuous RTMP
// stream needs monotonic wall-clock timestamps, not the per-GOP
// zero-rebased ones the segment archiver uses.
func (ig *Ingestor) sendToEgress(fw *egress.Forwarder, p *codec.Packet, videoCodecID int, videoExtradata []byte, hasAudio bool, audioExtradata []byte) {
	ts := uint32(time.Now().UnixMilli() - ig.egressStartMS)

	switch p.StreamType {
	case codec.StreamTypeVideo:
		if videoCodecID == 0 {
			return
		}
		if !ig.sentVideoHeader {
			header := flv.EncodeVideoSequenceHeader(videoExtradata, videoCodecID)
			if err := fw.SendVideo(0, header); err != nil {
				ig.logger.Warn("egress video header send failed", "device", ig.deviceID, "error", err)
				return
			}
			ig.sentVideoHeader = true
		}
		avcc := flv.NALUsToAVCC(p.Data)
		tag := flv.EncodeVideoTag(p, avcc, videoCodecID)
		if err := fw.SendVideo(ts, tag); err != nil {
			ig.logger.Warn("egress video send failed", "device", ig.deviceID, "error", err)
		}
	case codec.StreamTypeAudio:
		if !hasAudio {
			return
		}
		if !ig.sentAudioHeader && len(audioExtradata) > 0 {
			header := flv.EncodeAudioSequenceHeader(audioExtradata)
			if err := fw.SendAudio(0, header); err != nil {
				ig.logger.Warn("egress audio header send failed", "device", ig.deviceID, "error", err)
				return
			}
			ig.sentAudioHeader = true
		}
		tag := flv.EncodeAudioTag(p.Data)
		if err := fw.SendAudio(ts, tag); err != nil {
			ig.logger.Warn("egress audio send failed", "device", ig.deviceID, "error", err)
		}
	}
}

func (ig *Ingestor) closeEgress() {
	if ig.forwarder == nil {
		return
	}
	if err := ig.forwarder.Close(); err != nil {
		ig.logger.Warn("egress close failed", "device", ig.deviceID, "error", err)
	}
	ig.forwarder = nil
	ig.sentVideoHeader = false
	ig.sentAudioHeader = false
}
