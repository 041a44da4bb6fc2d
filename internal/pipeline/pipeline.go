// Package pipeline wires together the per-device stream pipeline: the
// Ingestor (camera demux + GOP assembly), the Archiver, the Retention
// Scheduler, the Live Decoder, and the Historical Decoder dispatcher, all
// coordinated through a single internal/store.Store handle. This is the
// core the specification covers; everything else in the repo is an
// ambient or external collaborator.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/codec"
	"github.com/alxayo/go-rtmp/internal/config"
	"github.com/alxayo/go-rtmp/internal/hooks"
	"github.com/alxayo/go-rtmp/internal/store"
)

// Pipeline owns every long-lived worker for one device and the Store
// handle they share. Run blocks until ctx is cancelled or the Ingestor
// hits a configuration-fatal error.
type Pipeline struct {
	DeviceID string

	st         *store.Store
	ingestor   *Ingestor
	archiver   *Archiver
	retention  *RetentionScheduler
	live       *LiveDecoder
	historical *HistoricalDispatcher
	hookMgr    *hooks.HookManager
	logger     *slog.Logger
}

// New constructs every stage for cfg.DeviceID against the given Store,
// ready to be started with Run. hookMgr may be nil to disable lifecycle
// hooks entirely.
func New(cfg *config.Device, st *store.Store, hookMgr *hooks.HookManager, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", cfg.DeviceID)

	live := NewLiveDecoder(cfg.DeviceID, st, cfg.MemoryScale, logger)
	historical := NewHistoricalDispatcher(cfg.DeviceID, st, cfg.MemoryScale, hookMgr, logger)

	var archiver *Archiver
	if cfg.ArchivingEnabled() {
		archiver = NewArchiver(cfg.DeviceID, cfg.DiskPath, hookMgr, logger)
	}

	var retention *RetentionScheduler
	if cfg.ArchivingEnabled() {
		retention = NewRetentionScheduler(cfg.DeviceID, cfg.DiskPath, cfg.DiskCleanupRate, hookMgr, logger)
	}

	ingestor := NewIngestor(cfg.DeviceID, cfg.RTSPURL, cfg.RTMPURL, cfg.MemoryBuffer, st, archiver, live, hookMgr, logger)

	return &Pipeline{
		DeviceID:   cfg.DeviceID,
		st:         st,
		ingestor:   ingestor,
		archiver:   archiver,
		retention:  retention,
		live:       live,
		historical: historical,
		hookMgr:    hookMgr,
		logger:     logger,
	}
}

// Run starts every stage and blocks until ctx is cancelled or the Ingestor
// reports a configuration-fatal error (the shared store is unreachable),
// in which case that error is returned so main can exit with status 1.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.ingestor.Run(ctx); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	if p.archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.archiver.Run(ctx)
		}()
	}
	if p.retention != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.retention.Run(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		p.live.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.historical.Run(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
		return nil
	case <-ctx.Done():
		<-done
		return nil
	}
}

// RequestHistorical publishes a historical-decode request for this device
// and blocks (polling every 100ms, consistent with the Shared Store's own
// back-pressure cadence) until the sentinel frame (HistoricalDispatcher's
// empty-Pixels marker, see historical_decoder.go) appears or ctx expires,
// returning every non-sentinel frame collected in store order.
func (p *Pipeline) RequestHistorical(ctx context.Context, requestID string, fromTS, toTS int64) ([]*codec.Frame, error) {
	if err := p.st.PublishRequest(ctx, store.Request{
		RequestID: requestID,
		DeviceID:  p.DeviceID,
		FromTS:    fromTS,
		ToTS:      toTS,
	}); err != nil {
		return nil, err
	}

	for {
		frames, err := p.st.DecodedFrames(ctx, requestID)
		if err != nil {
			return nil, err
		}
		for i, f := range frames {
			if f.Empty() {
				return frames[:i], nil
			}
		}

		select {
		case <-ctx.Done():
			return frames, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// pollInterval matches the Shared Store's own back-pressure poll cadence.
const pollInterval = 100 * time.Millisecond
