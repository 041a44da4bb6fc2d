package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseSegmentStartTS(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		wantTS  int64
		wantOK  bool
	}{
		{"1000_2000.flv", 1000, true},
		{"1753700000123_1999.flv", 1753700000123, true},
		{"0_0.flv", 0, true},
		{"not-a-segment.flv", 0, false},
		{"1000.flv", 0, false},
		{"abc_2000.flv", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, ok := parseSegmentStartTS(tc.name)
			if ok != tc.wantOK {
				t.Fatalf("parseSegmentStartTS(%q) ok = %v, want %v", tc.name, ok, tc.wantOK)
			}
			if ok && ts != tc.wantTS {
				t.Fatalf("parseSegmentStartTS(%q) ts = %d, want %d", tc.name, ts, tc.wantTS)
			}
		})
	}
}

// TestRetentionSweepDeletesOnlyExpiredSegments exercises spec §8's
// "Retention correctness" property test directly (scenario 6): with a
// 60s retention window and segments at now-{10,30,70,120}s, exactly the
// two newest (10s, 30s) must survive one sweep pass.
func TestRetentionSweepDeletesOnlyExpiredSegments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	deviceDir := filepath.Join(dir, "cam-1")
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	const nowMS int64 = 1_000_000_000
	ages := []int64{10_000, 30_000, 70_000, 120_000}
	for _, age := range ages {
		startTS := nowMS - age
		name := filepath.Join(deviceDir, fmt.Sprintf("%d_%d.flv", startTS, 1500))
		if err := os.WriteFile(name, []byte("flv"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	r := NewRetentionScheduler("cam-1", dir, 60*time.Second, nil, slog.Default())
	r.nowFunc = func() int64 { return nowMS }
	r.sweep()

	entries, err := os.ReadDir(deviceDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 surviving segments, got %d: %v", len(entries), entries)
	}
	for _, e := range entries {
		ts, ok := parseSegmentStartTS(e.Name())
		if !ok {
			t.Fatalf("unparseable survivor filename %q", e.Name())
		}
		if nowMS-ts >= 60_000 {
			t.Fatalf("survivor %q is older than the retention window (age=%dms)", e.Name(), nowMS-ts)
		}
	}
}

func TestRetentionSweepIgnoresNonMatchingFilenames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	deviceDir := filepath.Join(dir, "cam-1")
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(deviceDir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewRetentionScheduler("cam-1", dir, time.Second, nil, slog.Default())
	r.nowFunc = func() int64 { return 1_000_000_000 }
	r.sweep()

	if _, err := os.Stat(filepath.Join(deviceDir, "stray.txt")); err != nil {
		t.Fatalf("expected non-matching file to survive the sweep: %v", err)
	}
}

func TestRetentionSweepMissingDirIsNotFatal(t *testing.T) {
	t.Parallel()

	r := NewRetentionScheduler("cam-1", t.TempDir(), time.Second, nil, slog.Default())
	r.sweep() // must not panic when <diskRoot>/<deviceID> has never been created
}
