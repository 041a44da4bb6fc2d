package pipeline

import (
	"log/slog"
	"testing"

	"github.com/alxayo/go-rtmp/internal/codec"
)

func TestEnqueueIfPresentDropsEmptyGroup(t *testing.T) {
	t.Parallel()

	a := NewArchiver("cam-1", t.TempDir(), nil, slog.Default())

	a.enqueueIfPresent(Group{})

	select {
	case <-a.jobs:
		t.Fatal("expected empty group to be dropped, not enqueued")
	default:
	}
}

func TestEnqueueIfPresentForwardsNonEmptyGroup(t *testing.T) {
	t.Parallel()

	a := NewArchiver("cam-1", t.TempDir(), nil, slog.Default())

	g := Group{
		StartTimestamp: 1000,
		Packets:        []*codec.Packet{{IsKeyframe: true}},
	}
	a.enqueueIfPresent(g)

	select {
	case got := <-a.jobs:
		if got.StartTimestamp != g.StartTimestamp {
			t.Fatalf("expected start timestamp %d, got %d", g.StartTimestamp, got.StartTimestamp)
		}
	default:
		t.Fatal("expected non-empty group to be enqueued")
	}
}
