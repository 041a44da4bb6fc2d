package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alxayo/go-rtmp/internal/hooks"
)

func TestDeviceRegistrySnapshotBeforeEvents(t *testing.T) {
	t.Parallel()

	r := NewDeviceRegistry()
	r.Register("cam-1", nil)

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 tracked device, got %d", len(snap))
	}
	if snap[0].DeviceID != "cam-1" {
		t.Fatalf("expected device id cam-1, got %s", snap[0].DeviceID)
	}
	if snap[0].Connected {
		t.Fatal("expected newly registered device to start disconnected")
	}
}

func TestDeviceRegistryTracksConnectDisconnect(t *testing.T) {
	t.Parallel()

	mgr := hooks.NewHookManager(hooks.DefaultHookConfig(), nil)
	defer mgr.Close()

	r := NewDeviceRegistry()
	r.Register("cam-1", mgr)

	mgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventDeviceConnect).WithDeviceID("cam-1"))
	waitForConnected(t, r, "cam-1", true)

	mgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventDeviceDisconnect).WithDeviceID("cam-1"))
	waitForConnected(t, r, "cam-1", false)
}

func TestDeviceRegistryNilHookManager(t *testing.T) {
	t.Parallel()

	r := NewDeviceRegistry()
	r.Register("cam-1", nil) // must not panic with no hook manager

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 tracked device, got %d", len(snap))
	}
}

func waitForConnected(t *testing.T, r *DeviceRegistry, deviceID string, want bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, s := range r.Snapshot() {
			if s.DeviceID == deviceID && s.Connected == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device %s did not reach connected=%v in time", deviceID, want)
}
