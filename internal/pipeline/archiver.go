package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alxayo/go-rtmp/internal/codec"
	rerrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/flv"
	"github.com/alxayo/go-rtmp/internal/hooks"
)

const archiverQueueDepth = 16

// Archiver writes each completed Packet Group to a self-contained FLV
// segment file named `<start_ts>_<duration_ms>.flv`. It runs as a
// dedicated worker consuming groups off a bounded queue, generalizing the
// teacher's media.Recorder tag framing from a live chunk.Message stream to
// a complete, already-assembled Group.
type Archiver struct {
	deviceID string
	diskRoot string
	jobs     chan Group
	hookMgr  *hooks.HookManager
	logger   *slog.Logger
}

// NewArchiver constructs an Archiver rooted at <diskRoot>/<deviceID>.
func NewArchiver(deviceID, diskRoot string, hookMgr *hooks.HookManager, logger *slog.Logger) *Archiver {
	return &Archiver{
		deviceID: deviceID,
		diskRoot: diskRoot,
		jobs:     make(chan Group, archiverQueueDepth),
		hookMgr:  hookMgr,
		logger:   logger,
	}
}

// Enqueue hands off a completed group. If the queue is full the group is
// dropped and logged rather than blocking the Ingestor.
func (a *Archiver) Enqueue(g Group) {
	select {
	case a.jobs <- g:
	default:
		a.logger.Warn("archiver queue full, dropping group", "device", a.deviceID, "start_ts", g.StartTimestamp)
	}
}

// Run consumes queued groups until ctx is cancelled, draining any
// remaining backlog before returning.
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case g := <-a.jobs:
			if err := a.archiveGroup(g); err != nil {
				a.logger.Error("failed to archive group", "device", a.deviceID, "error", err)
			}
		}
	}
}

func (a *Archiver) drain() {
	for {
		select {
		case g := <-a.jobs:
			if err := a.archiveGroup(g); err != nil {
				a.logger.Error("failed to archive group during shutdown", "device", a.deviceID, "error", err)
			}
		default:
			return
		}
	}
}

func (a *Archiver) archiveGroup(g Group) error {
	if len(g.Packets) == 0 {
		return nil
	}

	durationMS := g.DurationMS()
	name := fmt.Sprintf("%d_%d.flv", g.StartTimestamp, durationMS)
	dir := filepath.Join(a.diskRoot, a.deviceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rerrors.NewArchiveError("archive_group", err)
	}
	path := filepath.Join(dir, name)

	w, err := flv.Create(path)
	if err != nil {
		return rerrors.NewArchiveError("archive_group", err)
	}
	defer w.Close()

	videoCodecID, err := flv.CodecIDForName(g.CodecInfo.Name)
	if err != nil {
		return rerrors.NewArchiveError("archive_group", err)
	}

	minDTS := g.MinVideoDTS()
	wroteVideoHeader := false
	wroteAudioHeader := false

	for _, p := range g.Packets {
		ts := uint32(relativeMS(p, minDTS))

		switch p.StreamType {
		case codec.StreamTypeVideo:
			if !wroteVideoHeader {
				header := flv.EncodeVideoSequenceHeader(flv.BuildAVCDecoderConfigurationRecord(g.CodecInfo.Extradata), videoCodecID)
				if err := w.WriteTag(9, ts, header); err != nil {
					a.logger.Warn("failed to write video sequence header", "device", a.deviceID, "error", err)
				}
				wroteVideoHeader = true
			}
			avcc := flv.NALUsToAVCC(p.Data)
			tag := flv.EncodeVideoTag(p, avcc, videoCodecID)
			if err := w.WriteTag(9, ts, tag); err != nil {
				a.logger.Warn("failed to write video tag", "device", a.deviceID, "error", err)
			}
		case codec.StreamTypeAudio:
			if !g.HasAudio {
				continue
			}
			if !wroteAudioHeader && len(g.AudioExtradata) > 0 {
				header := flv.EncodeAudioSequenceHeader(g.AudioExtradata)
				if err := w.WriteTag(8, ts, header); err != nil {
					a.logger.Warn("failed to write audio sequence header", "device", a.deviceID, "error", err)
				}
				wroteAudioHeader = true
			}
			tag := flv.EncodeAudioTag(p.Data)
			if err := w.WriteTag(8, ts, tag); err != nil {
				a.logger.Warn("failed to write audio tag", "device", a.deviceID, "error", err)
			}
		}
	}

	if a.hookMgr != nil {
		a.hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventSegmentArchived).
			WithDeviceID(a.deviceID).
			WithData("path", path).
			WithData("duration_ms", durationMS))
	}

	return nil
}

func relativeMS(p *codec.Packet, minDTS int64) int64 {
	return int64(float64(p.DTS-minDTS) * p.TimeBaseSeconds() * 1000)
}
