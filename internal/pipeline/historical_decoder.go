package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alxayo/go-rtmp/internal/codec"
	"github.com/alxayo/go-rtmp/internal/hooks"
	"github.com/alxayo/go-rtmp/internal/store"
)

const historicalRangeBatchSize = 30

// HistoricalDispatcher subscribes to the Shared Store's historical-request
// pub/sub channel and spawns one short-lived worker per request so
// multiple queries against the same device proceed in parallel.
type HistoricalDispatcher struct {
	deviceID string
	st       *store.Store
	scale    string
	hookMgr  *hooks.HookManager
	logger   *slog.Logger
}

// NewHistoricalDispatcher constructs a dispatcher for one device.
func NewHistoricalDispatcher(deviceID string, st *store.Store, scale string, hookMgr *hooks.HookManager, logger *slog.Logger) *HistoricalDispatcher {
	return &HistoricalDispatcher{deviceID: deviceID, st: st, scale: scale, hookMgr: hookMgr, logger: logger}
}

// Run subscribes to the buffer channel and dispatches a worker per request
// addressed to this device, until ctx is cancelled.
func (h *HistoricalDispatcher) Run(ctx context.Context) {
	sub := h.st.SubscribeRequests(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			req, err := store.DecodeRequest(msg.Payload)
			if err != nil {
				h.logger.Warn("dropping malformed historical request", "device", h.deviceID, "error", err)
				continue
			}
			if req.DeviceID != h.deviceID {
				continue
			}
			go h.serve(context.Background(), req)
		}
	}
}

func (h *HistoricalDispatcher) serve(ctx context.Context, req store.Request) {
	if h.hookMgr != nil {
		h.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventHistoricalRequestStart).
			WithDeviceID(h.deviceID).WithRequestID(req.RequestID))
	}

	if err := h.runRequest(ctx, req); err != nil {
		h.logger.Warn("historical request failed", "device", h.deviceID, "request", req.RequestID, "error", err)
		if h.hookMgr != nil {
			h.hookMgr.TriggerEvent(ctx, *hooks.NewEvent(hooks.EventHistoricalRequestTimeout).
				WithDeviceID(h.deviceID).WithRequestID(req.RequestID))
		}
	}

	// Always emit the sentinel, success or failure, so a waiting consumer unblocks.
	if err := h.st.AppendDecodedFrame(ctx, req.RequestID, nil); err != nil {
		h.logger.Warn("failed to emit historical sentinel", "device", h.deviceID, "request", req.RequestID, "error", err)
	}
}

func (h *HistoricalDispatcher) runRequest(ctx context.Context, req store.Request) error {
	info, ok, err := h.st.CodecInfo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	dec, err := codec.NewDecoderFromCodecInfo(h.deviceID, info, h.scale)
	if err != nil {
		return err
	}
	defer dec.Close()

	toTS := req.ToTS
	if serverNow, err := h.st.ServerTime(ctx); err == nil && toTS > serverNow {
		toTS = serverNow
	}

	seekID, err := h.st.SeekID(ctx, req.FromTS)
	if err != nil {
		return err
	}

	afterID := seekID
	firstKeyframeSeen := false

	for {
		entries, err := h.st.RangeAfter(ctx, afterID, historicalRangeBatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		last := entries[len(entries)-1]
		afterID = last.ID

		for _, e := range entries {
			if !firstKeyframeSeen && !e.IsKeyframe {
				continue
			}
			firstKeyframeSeen = true

			frames, err := dec.Decode(e.Packet)
			if err != nil {
				h.logger.Warn("historical decode failed", "device", h.deviceID, "request", req.RequestID, "error", err)
				continue
			}
			for _, f := range frames {
				f.TimestampMS = idTimestampOrNow(e.ID)
				if err := h.st.AppendDecodedFrame(ctx, req.RequestID, f); err != nil {
					return err
				}
			}
		}

		lastTS, err := idTimestamp(last.ID)
		if err != nil {
			return err
		}
		if lastTS >= toTS {
			return nil
		}
	}
}

func idTimestampOrNow(id string) int64 {
	ts, err := idTimestamp(id)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return ts
}

// idTimestamp extracts the wall-clock millisecond leading component of a
// Redis stream ID ("<unix_ms>-<seq>"), mirroring the Compressed Ring's
// sequence_id format (spec §3).
func idTimestamp(id string) (int64, error) {
	tsPart, _, found := strings.Cut(id, "-")
	if !found {
		return 0, fmt.Errorf("malformed stream id %q", id)
	}
	return strconv.ParseInt(tsPart, 10, 64)
}
