package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/hooks"
)

// funcHook adapts a plain callback to the hooks.Hook interface so the
// Registry can observe lifecycle events without its own hook subtype.
type funcHook struct {
	id string
	fn func(*hooks.Event) error
}

func (h funcHook) Execute(_ context.Context, event hooks.Event) error { return h.fn(&event) }
func (h funcHook) Type() string                                      { return "device_registry" }
func (h funcHook) ID() string                                        { return h.id }

// DeviceStatus is a point-in-time snapshot of one device's pipeline health,
// kept current by hook callbacks the Registry wires into the Ingestor's
// lifecycle events rather than by polling.
type DeviceStatus struct {
	DeviceID    string
	Connected   bool
	LastEventAt time.Time
	LastError   string
}

// DeviceRegistry tracks every running Pipeline's connect/disconnect state,
// generalizing the teacher's stream registry (map + RWMutex + per-entry
// mutex) from RTMP publish/subscribe bookkeeping to device health
// bookkeeping. One process normally runs a single device's Pipeline, but
// the Registry itself places no such limit, so a future multi-device
// process can share it unchanged.
type DeviceRegistry struct {
	mu       sync.RWMutex
	statuses map[string]*DeviceStatus
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{statuses: make(map[string]*DeviceStatus)}
}

// Register adds deviceID with an initial disconnected status and wires the
// registry's Observe method into hookMgr so device_connect/disconnect
// events keep it current. hookMgr may be nil, in which case the status
// stays at its initial value.
func (r *DeviceRegistry) Register(deviceID string, hookMgr *hooks.HookManager) {
	r.mu.Lock()
	r.statuses[deviceID] = &DeviceStatus{DeviceID: deviceID}
	r.mu.Unlock()

	if hookMgr == nil {
		return
	}
	_ = hookMgr.RegisterHook(hooks.EventDeviceConnect, funcHook{
		id: "registry-connect-" + deviceID,
		fn: func(_ *hooks.Event) error {
			r.setConnected(deviceID, true, "")
			return nil
		},
	})
	_ = hookMgr.RegisterHook(hooks.EventDeviceDisconnect, funcHook{
		id: "registry-disconnect-" + deviceID,
		fn: func(_ *hooks.Event) error {
			r.setConnected(deviceID, false, "")
			return nil
		},
	})
}

func (r *DeviceRegistry) setConnected(deviceID string, connected bool, lastErr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[deviceID]
	if !ok {
		s = &DeviceStatus{DeviceID: deviceID}
		r.statuses[deviceID] = s
	}
	s.Connected = connected
	s.LastEventAt = time.Now()
	if lastErr != "" {
		s.LastError = lastErr
	}
}

// Snapshot returns a copy of every tracked device's current status.
func (r *DeviceRegistry) Snapshot() []DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeviceStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, *s)
	}
	return out
}
