package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alxayo/go-rtmp/internal/config"
	"github.com/alxayo/go-rtmp/internal/hooks"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/pipeline"
	"github.com/alxayo/go-rtmp/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		// flag package already printed usage/error
		os.Exit(2)
	}

	logger.Init()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		fmt.Printf("warning: invalid log level %q, using default\n", cfg.LogLevel)
	}
	log := logger.WithDevice(logger.Logger(), cfg.DeviceID)

	hookMgr := initializeHookManager(cfg, log)
	registry := pipeline.NewDeviceRegistry()
	registry.Register(cfg.DeviceID, hookMgr)

	st := store.New(cfg.StoreAddr(), cfg.DeviceID)
	defer st.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := st.Ping(pingCtx); err != nil {
		log.Error("cannot reach shared store at startup", "addr", cfg.StoreAddr(), "error", err)
		os.Exit(1)
	}

	p := pipeline.New(cfg, st, hookMgr, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("pipeline starting",
		"rtsp", cfg.RTSPURL,
		"egress_configured", cfg.EgressConfigured(),
		"archiving_enabled", cfg.ArchivingEnabled())

	if err := p.Run(ctx); err != nil {
		log.Error("pipeline exited with fatal error", "error", err)
		os.Exit(1)
	}

	log.Info("pipeline stopped cleanly")
}

// initializeHookManager builds the lifecycle hook manager from cfg's
// hook-script/hook-webhook/hook-stdio-format flags, generalizing the
// teacher's cmd/rtmp-server wiring to this process's single-device config.
func initializeHookManager(cfg *config.Device, log *slog.Logger) *hooks.HookManager {
	hookConfig := hooks.HookConfig{
		Timeout:     cfg.HookTimeout,
		Concurrency: cfg.HookConcurrency,
		StdioFormat: cfg.HookStdioFormat,
	}
	if hookConfig.Timeout == "" {
		hookConfig.Timeout = "30s"
	}
	if hookConfig.Concurrency == 0 {
		hookConfig.Concurrency = 10
	}

	hookTimeout, err := time.ParseDuration(hookConfig.Timeout)
	if err != nil || hookTimeout <= 0 {
		hookTimeout = 30 * time.Second
	}

	mgr := hooks.NewHookManager(hookConfig, log)

	for i, script := range cfg.HookScripts {
		eventType, scriptPath, ok := splitHookSpec(script)
		if !ok {
			log.Error("invalid hook-script format, expected event_type=script_path", "value", script)
			continue
		}
		h := hooks.NewShellHook(fmt.Sprintf("shell_%d", i), scriptPath, hookTimeout)
		if err := mgr.RegisterHook(hooks.EventType(eventType), h); err != nil {
			log.Error("failed to register shell hook", "event_type", eventType, "error", err)
			continue
		}
		log.Info("registered shell hook", "event_type", eventType, "script_path", scriptPath)
	}

	for i, webhook := range cfg.HookWebhooks {
		eventType, url, ok := splitHookSpec(webhook)
		if !ok {
			log.Error("invalid hook-webhook format, expected event_type=webhook_url", "value", webhook)
			continue
		}
		h := hooks.NewWebhookHook(fmt.Sprintf("webhook_%d", i), url, hookTimeout)
		if err := mgr.RegisterHook(hooks.EventType(eventType), h); err != nil {
			log.Error("failed to register webhook hook", "event_type", eventType, "error", err)
			continue
		}
		log.Info("registered webhook hook", "event_type", eventType, "webhook_url", url)
	}

	return mgr
}

func splitHookSpec(spec string) (eventType, target string, ok bool) {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
