package config

import (
	"testing"
	"time"
)

func TestParseRequiredFields(t *testing.T) {
	_, err := Parse([]string{})
	if err == nil {
		t.Fatalf("expected error when -rtsp and -device-id are missing")
	}

	_, err = Parse([]string{"-rtsp", "rtsp://cam/stream"})
	if err == nil {
		t.Fatalf("expected error when -device-id is missing")
	}
}

func TestParseDefaults(t *testing.T) {
	d, err := Parse([]string{"-rtsp", "rtsp://cam/stream", "-device-id", "cam-1"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.MemoryBuffer != defaultMemoryBuffer {
		t.Errorf("expected default memory buffer %d, got %d", defaultMemoryBuffer, d.MemoryBuffer)
	}
	if d.MemoryScale != defaultMemoryScale {
		t.Errorf("expected default memory scale %q, got %q", defaultMemoryScale, d.MemoryScale)
	}
	if d.DiskCleanupRate != defaultDiskCleanupRate {
		t.Errorf("expected default disk cleanup rate %s, got %s", defaultDiskCleanupRate, d.DiskCleanupRate)
	}
	if d.ArchivingEnabled() {
		t.Errorf("expected archiving disabled when -disk-path is empty")
	}
	if d.EgressConfigured() {
		t.Errorf("expected egress unconfigured when -rtmp is empty")
	}
}

func TestParseInvalidRTMPScheme(t *testing.T) {
	_, err := Parse([]string{
		"-rtsp", "rtsp://cam/stream",
		"-device-id", "cam-1",
		"-rtmp", "http://example.com/live",
	})
	if err == nil {
		t.Fatalf("expected error for non-rtmp:// -rtmp url")
	}
}

func TestParseRetentionUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30m": 30 * time.Minute,
		"1h":  time.Hour,
		"7d":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseRetention(in)
		if err != nil {
			t.Fatalf("parseRetention(%s): %v", in, err)
		}
		if got != want {
			t.Errorf("parseRetention(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestParseHookFlags(t *testing.T) {
	d, err := Parse([]string{
		"-rtsp", "rtsp://cam/stream",
		"-device-id", "cam-1",
		"-log-level", "debug",
		"-hook-script", "segment_archived=/opt/hooks/archive.sh",
		"-hook-script", "device_connect=/opt/hooks/connect.sh",
		"-hook-webhook", "retention_purge=https://example.com/webhook",
		"-hook-stdio-format", "json",
		"-hook-concurrency", "5",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", d.LogLevel)
	}
	if len(d.HookScripts) != 2 {
		t.Fatalf("expected 2 hook scripts, got %d", len(d.HookScripts))
	}
	if len(d.HookWebhooks) != 1 {
		t.Fatalf("expected 1 hook webhook, got %d", len(d.HookWebhooks))
	}
	if d.HookStdioFormat != "json" {
		t.Errorf("expected hook stdio format json, got %q", d.HookStdioFormat)
	}
	if d.HookConcurrency != 5 {
		t.Errorf("expected hook concurrency 5, got %d", d.HookConcurrency)
	}
}

func TestParseDefaultHookFields(t *testing.T) {
	d, err := Parse([]string{"-rtsp", "rtsp://cam/stream", "-device-id", "cam-1"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", d.LogLevel)
	}
	if len(d.HookScripts) != 0 || len(d.HookWebhooks) != 0 {
		t.Errorf("expected no hooks by default")
	}
	if d.HookTimeout != "30s" {
		t.Errorf("expected default hook timeout 30s, got %q", d.HookTimeout)
	}
	if d.HookConcurrency != 10 {
		t.Errorf("expected default hook concurrency 10, got %d", d.HookConcurrency)
	}
}

func TestStoreAddr(t *testing.T) {
	d, err := Parse([]string{"-rtsp", "rtsp://cam/stream", "-device-id", "cam-1", "-store-host", "store.local", "-store-port", "6380"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.StoreAddr() != "store.local:6380" {
		t.Errorf("unexpected store addr: %s", d.StoreAddr())
	}
}
