package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/alxayo/go-rtmp/internal/codec"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return FromClient(rdb, "cam-1"), mr
}

func TestCodecInfoRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.CodecInfo(ctx); err != nil || ok {
		t.Fatalf("expected no codec info yet, got ok=%v err=%v", ok, err)
	}

	want := codec.CodecInfo{
		Name: "h264", LongName: "H.264 / AVC", Width: 1920, Height: 1080,
		PixFmt: "yuv420p", Extradata: []byte{1, 2, 3, 4}, TimeBaseNum: 1, TimeBaseDen: 90000,
	}
	if err := s.SetCodecInfo(ctx, want); err != nil {
		t.Fatalf("SetCodecInfo: %v", err)
	}

	got, ok, err := s.CodecInfo(ctx)
	if err != nil || !ok {
		t.Fatalf("CodecInfo: ok=%v err=%v", ok, err)
	}
	if got.Name != want.Name || got.Width != want.Width || got.Height != want.Height {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestAppendPacketAndRangeAfter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var firstID string
	for i := 0; i < 5; i++ {
		pkt := &codec.Packet{Data: []byte{byte(i)}, DTS: int64(i), IsKeyframe: i == 0}
		id, err := s.AppendPacket(ctx, pkt, 1024)
		if err != nil {
			t.Fatalf("AppendPacket: %v", err)
		}
		if i == 0 {
			firstID = id
		}
	}

	entries, err := s.RangeAfter(ctx, firstID, 30)
	if err != nil {
		t.Fatalf("RangeAfter: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries after the keyframe, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Packet.DTS != int64(i+1) {
			t.Errorf("entry %d: expected dts %d, got %d", i, i+1, e.Packet.DTS)
		}
	}
}

func TestSeekIDPicksKeyframeBeforeFromTs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.AppendPacket(ctx, &codec.Packet{Data: []byte{1}, IsKeyframe: true}, 1024)
		if err != nil {
			t.Fatalf("AppendPacket: %v", err)
		}
		ids = append(ids, id)
	}

	seekID, err := s.SeekID(ctx, 999999999999)
	if err != nil {
		t.Fatalf("SeekID: %v", err)
	}
	if seekID == "" {
		t.Fatalf("expected non-empty seek id")
	}

	entries, err := s.RangeAfter(ctx, seekID, 30)
	if err != nil {
		t.Fatalf("RangeAfter: %v", err)
	}
	if len(entries) != len(ids) {
		t.Fatalf("expected seek to include all %d keyframes, got %d entries", len(ids), len(entries))
	}
}

func TestSeekIDEmptyIndexErrors(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.SeekID(context.Background(), 0); err == nil {
		t.Fatalf("expected error when keyframe index is empty")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if empty.ProxyRTMP || empty.KeyframeOnly || empty.LastQuery != 0 {
		t.Fatalf("expected zero-value settings, got %+v", empty)
	}

	want := Settings{LastQuery: 123456, ProxyRTMP: true, KeyframeOnly: true}
	if err := s.SetSettings(ctx, want); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	got, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAppendDecodedFrameSentinelAndDrain(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	frame := &codec.Frame{Width: 4, Height: 4, Pixels: make([]byte, 48), FrameType: codec.FrameTypeKey}
	if err := s.AppendDecodedFrame(ctx, "req-1", frame); err != nil {
		t.Fatalf("AppendDecodedFrame: %v", err)
	}
	if err := s.AppendDecodedFrame(ctx, "req-1", nil); err != nil {
		t.Fatalf("AppendDecodedFrame sentinel: %v", err)
	}

	frames, err := s.DecodedFrames(ctx, "req-1")
	if err != nil {
		t.Fatalf("DecodedFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !frames[1].Empty() {
		t.Fatalf("expected second frame to be the empty sentinel")
	}
}

func TestPublishAndDecodeRequest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := s.SubscribeRequests(ctx)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Receive (subscribe confirmation): %v", err)
	}
	ch := sub.Channel()

	want := Request{RequestID: "req-1", DeviceID: "cam-1", FromTS: 1000, ToTS: 5000}
	if err := s.PublishRequest(ctx, want); err != nil {
		t.Fatalf("PublishRequest: %v", err)
	}

	select {
	case msg := <-ch:
		got, err := DecodeRequest(msg.Payload)
		if err != nil {
			t.Fatalf("DecodeRequest: %v", err)
		}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published request")
	}
}

func TestDecodeRequestRejectsMalformed(t *testing.T) {
	if _, err := DecodeRequest(`{"from_ts": 1}`); err == nil {
		t.Fatalf("expected error for payload missing device_id/request_id")
	}
	if _, err := DecodeRequest(`not json`); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
