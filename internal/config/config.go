// Package config parses process-wide and per-device configuration for the
// edge video proxy, generalizing the teacher's cmd/.../flags.go pattern
// (flag.FlagSet, a validating parseFlags, stringSliceFlag for repeatables)
// to the fields enumerated in the external-interfaces section of the spec.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Device holds the fully-validated configuration for one camera pipeline.
type Device struct {
	DeviceID        string
	RTSPURL         string
	RTMPURL         string // empty disables egress
	MemoryBuffer    int
	MemoryScale     string
	DiskPath        string // empty disables archiving
	DiskCleanupRate time.Duration
	StoreHost       string
	StorePort       int
	LogLevel        string

	HookScripts     []string // event_type=script_path pairs
	HookWebhooks    []string // event_type=webhook_url pairs
	HookStdioFormat string   // "json", "env", or "" (disabled)
	HookTimeout     string
	HookConcurrency int
}

const (
	defaultMemoryBuffer    = 1024
	defaultMemoryScale     = "-1:-1"
	defaultDiskCleanupRate = time.Minute
	defaultStorePort       = 6379
)

// Parse parses args (normally os.Args[1:]) into a validated Device config.
func Parse(args []string) (*Device, error) {
	fs := flag.NewFlagSet("edge-video-proxy", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	d := &Device{}
	var memoryBuffer int
	var diskCleanupRate string
	var hookScripts stringSliceFlag
	var hookWebhooks stringSliceFlag

	fs.StringVar(&d.RTSPURL, "rtsp", "", "RTSP ingress URL (required)")
	fs.StringVar(&d.RTMPURL, "rtmp", "", "RTMP egress URL (optional; empty disables egress)")
	fs.StringVar(&d.DeviceID, "device-id", "", "Stable device identifier (required)")
	fs.IntVar(&memoryBuffer, "memory-buffer", defaultMemoryBuffer, "Compressed ring length in frames")
	fs.StringVar(&d.MemoryScale, "memory-scale", defaultMemoryScale, "Decoded frame scaler filter expression, e.g. -1:-1 or 640:-1")
	fs.StringVar(&d.DiskPath, "disk-path", "", "Segment root directory (empty disables archiving)")
	fs.StringVar(&diskCleanupRate, "disk-cleanup-rate", "1m", "Retention age: human duration (30m, 1h, 7d)")
	fs.StringVar(&d.StoreHost, "store-host", "127.0.0.1", "Shared store (Redis) host")
	fs.IntVar(&d.StorePort, "store-port", defaultStorePort, "Shared store (Redis) port")
	fs.StringVar(&d.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.Var(&hookScripts, "hook-script", "Hook script in format event_type=script_path (can be specified multiple times)")
	fs.Var(&hookWebhooks, "hook-webhook", "Hook webhook in format event_type=webhook_url (can be specified multiple times)")
	fs.StringVar(&d.HookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")
	fs.StringVar(&d.HookTimeout, "hook-timeout", "30s", "Timeout for hook execution")
	fs.IntVar(&d.HookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	d.HookScripts = []string(hookScripts)
	d.HookWebhooks = []string(hookWebhooks)

	d.MemoryBuffer = memoryBuffer

	if d.RTSPURL == "" {
		return nil, errors.New("config: -rtsp is required")
	}
	if _, err := url.Parse(d.RTSPURL); err != nil {
		return nil, fmt.Errorf("config: invalid -rtsp url: %w", err)
	}
	if d.DeviceID == "" {
		return nil, errors.New("config: -device-id is required")
	}
	if d.RTMPURL != "" {
		u, err := url.Parse(d.RTMPURL)
		if err != nil {
			return nil, fmt.Errorf("config: invalid -rtmp url: %w", err)
		}
		if u.Scheme != "rtmp" {
			return nil, fmt.Errorf("config: -rtmp must use rtmp:// scheme, got %s", u.Scheme)
		}
	}
	if d.MemoryBuffer <= 0 {
		return nil, fmt.Errorf("config: -memory-buffer must be positive, got %d", d.MemoryBuffer)
	}

	rate, err := parseRetention(diskCleanupRate)
	if err != nil {
		return nil, fmt.Errorf("config: invalid -disk-cleanup-rate: %w", err)
	}
	d.DiskCleanupRate = rate
	if d.DiskCleanupRate == 0 {
		d.DiskCleanupRate = defaultDiskCleanupRate
	}

	if d.StorePort <= 0 || d.StorePort > 65535 {
		return nil, fmt.Errorf("config: -store-port out of range: %d", d.StorePort)
	}

	return d, nil
}

// parseRetention parses a human-readable duration string (30m, 1h, 7d).
// time.ParseDuration already understands "m"/"h"; "d" (days) is not a
// stdlib unit so it's handled here, matching the retention-age strings the
// Retention Scheduler is configured with.
func parseRetention(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if s[len(s)-1] == 'd' {
		days, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q: %w", s, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// StoreAddr returns the "host:port" address go-redis expects.
func (d *Device) StoreAddr() string {
	return fmt.Sprintf("%s:%d", d.StoreHost, d.StorePort)
}

// ArchivingEnabled reports whether segment archiving is configured.
func (d *Device) ArchivingEnabled() bool { return d.DiskPath != "" }

// EgressConfigured reports whether an RTMP egress URL was configured at
// startup. Runtime enable/disable is still gated by the proxy_rtmp device
// setting (see internal/store); this only reflects whether a destination exists.
func (d *Device) EgressConfigured() bool { return d.RTMPURL != "" }

// stringSliceFlag implements flag.Value for a repeatable string flag.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}
