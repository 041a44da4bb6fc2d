package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alxayo/go-rtmp/internal/hooks"
)

const retentionSweepInterval = 5 * time.Second

// RetentionScheduler periodically deletes segment files older than a
// configured age. Filename grammar (`<start_ts>_<duration_ms>.<ext>`) is
// the sole source of a segment's age; files that don't match are ignored.
type RetentionScheduler struct {
	deviceID     string
	dir          string
	retentionMS  int64
	hookMgr      *hooks.HookManager
	logger       *slog.Logger
	nowFunc      func() int64
}

// NewRetentionScheduler constructs a scheduler rooted at <diskRoot>/<deviceID>.
func NewRetentionScheduler(deviceID, diskRoot string, retention time.Duration, hookMgr *hooks.HookManager, logger *slog.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		deviceID:    deviceID,
		dir:         filepath.Join(diskRoot, deviceID),
		retentionMS: retention.Milliseconds(),
		hookMgr:     hookMgr,
		logger:      logger,
		nowFunc:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Run sweeps every retentionSweepInterval until ctx is cancelled.
func (r *RetentionScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *RetentionScheduler) sweep() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("retention sweep: list segment dir", "device", r.deviceID, "error", err)
		}
		return
	}

	now := r.nowFunc()
	purged := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		startTS, ok := parseSegmentStartTS(entry.Name())
		if !ok {
			continue
		}
		if now-startTS < r.retentionMS {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			r.logger.Warn("retention sweep: delete segment", "device", r.deviceID, "path", path, "error", err)
			continue
		}
		purged++
	}

	if purged > 0 && r.hookMgr != nil {
		r.hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventRetentionPurge).
			WithDeviceID(r.deviceID).
			WithData("purged", purged))
	}
}

// parseSegmentStartTS parses a `<start_ts>_<duration_ms>.<ext>` filename
// and returns its start timestamp. ok is false for any name that doesn't
// match the grammar.
func parseSegmentStartTS(name string) (int64, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	tsPart, _, found := strings.Cut(base, "_")
	if !found {
		return 0, false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
