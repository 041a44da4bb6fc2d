// Package store implements the Shared Store: the single concurrency
// substrate every pipeline stage coordinates through (compressed ring,
// keyframe index, decoded ring, device settings, historical-request
// pub/sub). It is backed by Redis via go-redis, generalizing the wire
// patterns in the pack's go-redis reference (pipelines, JSON-encoded
// values, Sprintf-built keys) to the stream-heavy keyspace this proxy
// needs, with exact semantics (key roles, seek contract, back-pressure
// cap) grounded in original_source/python/inmemory_buffer.py.
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alxayo/go-rtmp/internal/bufpool"
	"github.com/alxayo/go-rtmp/internal/codec"
	rerrors "github.com/alxayo/go-rtmp/internal/errors"
)

// backpressurePollInterval and backpressureTimeout implement the decoded
// ring's consumer-stall watchdog (spec §4.6): wait for drain, give up
// after 10s and let the caller still emit its sentinel.
const (
	backpressurePollInterval = 100 * time.Millisecond
	backpressureTimeout      = 10 * time.Second
	decodedRingCap           = 10
)

// Request is the typed historical-decode dispatch message published on
// the buffer channel. JSON-encoded on the wire; malformed payloads are
// rejected by the subscriber rather than crashing a worker.
type Request struct {
	RequestID string `json:"request_id"`
	DeviceID  string `json:"device_id"`
	FromTS    int64  `json:"from_ts"`
	ToTS      int64  `json:"to_ts"`
}

// Settings mirrors the settings:{d} hash: last_query, proxy_rtmp, keyframe_only.
type Settings struct {
	LastQuery    int64
	ProxyRTMP    bool
	KeyframeOnly bool
}

// RingEntry is one decoded Compressed Ring row: its stream ID (carries the
// sequence_id) plus the packet it encodes.
type RingEntry struct {
	ID         string
	Packet     *codec.Packet
	IsKeyframe bool
}

// Store is a per-device handle onto the Shared Store. One Store per
// pipeline process, matching the one-device-per-process configuration model.
type Store struct {
	rdb      *redis.Client
	deviceID string
}

// New dials addr (host:port) and returns a Store scoped to deviceID. It does
// not verify connectivity; call Ping for that (startup should treat a Ping
// failure as fatal per spec §6's exit-code contract).
func New(addr, deviceID string) *Store {
	return &Store{
		rdb:      redis.NewClient(&redis.Options{Addr: addr}),
		deviceID: deviceID,
	}
}

// FromClient wraps an already-constructed redis.Client, used by tests to
// point a Store at a miniredis instance.
func FromClient(rdb *redis.Client, deviceID string) *Store {
	return &Store{rdb: rdb, deviceID: deviceID}
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return rerrors.NewStoreError("ping", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Cleanup deletes stale per-device ring/index state. Called once at
// Ingestor startup before codec info is (re)published.
func (s *Store) Cleanup(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.queueKey(), s.iframeKey()).Err(); err != nil {
		return rerrors.NewStoreError("cleanup", err)
	}
	return nil
}

// SetCodecInfo publishes the active stream's Codec Info, gob-encoded.
func (s *Store) SetCodecInfo(ctx context.Context, info codec.CodecInfo) error {
	data, err := gobEncode(&info, 64+len(info.Extradata))
	if err != nil {
		return rerrors.NewStoreError("set_codec_info", err)
	}
	if err := s.rdb.Set(ctx, codecVideoInfoKey, data, 0).Err(); err != nil {
		return rerrors.NewStoreError("set_codec_info", err)
	}
	return nil
}

// CodecInfo reads the current Codec Info. ok is false if nothing has been
// published yet (decoders must poll this, per spec §3's invariant).
func (s *Store) CodecInfo(ctx context.Context) (info codec.CodecInfo, ok bool, err error) {
	raw, err := s.rdb.Get(ctx, codecVideoInfoKey).Bytes()
	if err == redis.Nil {
		return codec.CodecInfo{}, false, nil
	}
	if err != nil {
		return codec.CodecInfo{}, false, rerrors.NewStoreError("codec_info", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&info); err != nil {
		return codec.CodecInfo{}, false, rerrors.NewStoreError("codec_info", err)
	}
	return info, true, nil
}

// AppendPacket appends a compressed packet to the Compressed Ring, and, if
// it is a keyframe, to the Keyframe Index as well. Both streams are capped
// at maxLen entries (approximate trim, matching the original's `maxlen=`).
// Returns the Compressed Ring entry's assigned stream ID.
func (s *Store) AppendPacket(ctx context.Context, pkt *codec.Packet, maxLen int64) (string, error) {
	data, err := gobEncode(pkt, 256+len(pkt.Data))
	if err != nil {
		return "", rerrors.NewStoreError("append_packet", err)
	}

	isKeyframe := "0"
	if pkt.IsKeyframe {
		isKeyframe = "1"
	}

	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.queueKey(),
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":        data,
			"is_keyframe": isKeyframe,
		},
	}).Result()
	if err != nil {
		return "", rerrors.NewStoreError("append_packet", err)
	}

	if pkt.IsKeyframe {
		if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: s.iframeKey(),
			MaxLen: maxLen,
			Approx: true,
			ID:     id,
			Values: map[string]interface{}{"keyframe": "1"},
		}).Err(); err != nil {
			return id, rerrors.NewStoreError("append_keyframe_index", err)
		}
	}

	return id, nil
}

// RangeAfter performs the bounded range-read the Historical Decoder drives:
// up to count entries strictly after afterID (exclusive lower bound).
func (s *Store) RangeAfter(ctx context.Context, afterID string, count int64) ([]RingEntry, error) {
	msgs, err := s.rdb.XRangeN(ctx, s.queueKey(), "("+afterID, "+", count).Result()
	if err != nil {
		return nil, rerrors.NewStoreError("range_after", err)
	}
	entries := make([]RingEntry, 0, len(msgs))
	for _, m := range msgs {
		e, err := decodeRingEntry(m)
		if err != nil {
			return entries, rerrors.NewStoreError("range_after", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeRingEntry(m redis.XMessage) (RingEntry, error) {
	raw, ok := m.Values["data"].(string)
	if !ok {
		return RingEntry{}, fmt.Errorf("ring entry %s missing data field", m.ID)
	}
	var pkt codec.Packet
	if err := gob.NewDecoder(strings.NewReader(raw)).Decode(&pkt); err != nil {
		return RingEntry{}, fmt.Errorf("decode ring entry %s: %w", m.ID, err)
	}
	isKeyframe, _ := m.Values["is_keyframe"].(string)
	return RingEntry{ID: m.ID, Packet: &pkt, IsKeyframe: isKeyframe == "1"}, nil
}

// SeekID implements the Keyframe Index seek contract (spec §4.4): find the
// most recent keyframe entry at-or-before fromTs (falling back to the
// oldest entry if none qualifies) and return seek_id one tick earlier, so
// an exclusive-lower-bound range read starting there includes it.
func (s *Store) SeekID(ctx context.Context, fromTs int64) (string, error) {
	msgs, err := s.rdb.XRange(ctx, s.iframeKey(), "-", "+").Result()
	if err != nil {
		return "", rerrors.NewStoreError("seek", err)
	}
	if len(msgs) == 0 {
		return "", rerrors.NewStoreError("seek", fmt.Errorf("keyframe index for device %s is empty", s.deviceID))
	}

	candidate := msgs[0].ID
	for i, m := range msgs {
		ts, err := idTimestamp(m.ID)
		if err != nil {
			return "", rerrors.NewStoreError("seek", err)
		}
		if i == 0 {
			candidate = m.ID
		}
		if ts > fromTs {
			break
		}
		candidate = m.ID
	}

	return decrementID(candidate)
}

func idTimestamp(id string) (int64, error) {
	ts, _, found := strings.Cut(id, "-")
	if !found {
		return 0, fmt.Errorf("malformed stream id %q", id)
	}
	return strconv.ParseInt(ts, 10, 64)
}

func decrementID(id string) (string, error) {
	tsPart, seqPart, found := strings.Cut(id, "-")
	if !found {
		return "", fmt.Errorf("malformed stream id %q", id)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return "", err
	}
	if ts > 0 {
		ts--
	}
	return fmt.Sprintf("%d-%s", ts, seqPart), nil
}

// Settings reads the device's settings hash.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	raw, err := s.rdb.HGetAll(ctx, s.settingsKey()).Result()
	if err != nil {
		return Settings{}, rerrors.NewStoreError("settings", err)
	}
	var out Settings
	if v, ok := raw["last_query"]; ok {
		out.LastQuery, _ = strconv.ParseInt(v, 10, 64)
	}
	out.ProxyRTMP = raw["proxy_rtmp"] == "1"
	out.KeyframeOnly = raw["keyframe_only"] == "true"
	return out, nil
}

// SetSettings writes the device's settings hash. Settings are normally
// written by an external consumer; this is exposed for tests and for
// processes that bootstrap their own defaults.
func (s *Store) SetSettings(ctx context.Context, settings Settings) error {
	proxyRTMP := "0"
	if settings.ProxyRTMP {
		proxyRTMP = "1"
	}
	keyframeOnly := "false"
	if settings.KeyframeOnly {
		keyframeOnly = "true"
	}
	err := s.rdb.HSet(ctx, s.settingsKey(), map[string]interface{}{
		"last_query":    strconv.FormatInt(settings.LastQuery, 10),
		"proxy_rtmp":    proxyRTMP,
		"keyframe_only": keyframeOnly,
	}).Err()
	if err != nil {
		return rerrors.NewStoreError("set_settings", err)
	}
	return nil
}

// AppendDecodedFrame appends a decoded frame (or, when frame is nil, the
// end-of-results sentinel) to the request-scoped decoded stream, applying
// the back-pressure watchdog: wait up to 10s (polling every 100ms) for a
// consumer to drain the stream below its cap before appending.
func (s *Store) AppendDecodedFrame(ctx context.Context, requestID string, frame *codec.Frame) error {
	key := s.decodedKey(requestID)

	deadline := time.Now().Add(backpressureTimeout)
	for {
		length, err := s.rdb.XLen(ctx, key).Result()
		if err != nil {
			return rerrors.NewStoreError("append_decoded_frame", err)
		}
		if length < decodedRingCap {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return rerrors.NewStoreError("append_decoded_frame", ctx.Err())
		case <-time.After(backpressurePollInterval):
		}
	}

	if frame == nil {
		frame = &codec.Frame{}
	}
	data, err := gobEncode(frame, 64+len(frame.Pixels))
	if err != nil {
		return rerrors.NewStoreError("append_decoded_frame", err)
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: decodedRingCap,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err()
	if err != nil {
		return rerrors.NewStoreError("append_decoded_frame", err)
	}
	return nil
}

// DecodedFrames reads the full request-scoped decoded stream from the start.
func (s *Store) DecodedFrames(ctx context.Context, requestID string) ([]*codec.Frame, error) {
	msgs, err := s.rdb.XRange(ctx, s.decodedKey(requestID), "-", "+").Result()
	if err != nil {
		return nil, rerrors.NewStoreError("decoded_frames", err)
	}
	frames := make([]*codec.Frame, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var f codec.Frame
		if err := gob.NewDecoder(strings.NewReader(raw)).Decode(&f); err != nil {
			return frames, rerrors.NewStoreError("decoded_frames", err)
		}
		frames = append(frames, &f)
	}
	return frames, nil
}

// PublishRequest dispatches a historical-decode request on the buffer channel.
func (s *Store) PublishRequest(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return rerrors.NewStoreError("publish_request", err)
	}
	if err := s.rdb.Publish(ctx, bufferChannel, payload).Err(); err != nil {
		return rerrors.NewStoreError("publish_request", err)
	}
	return nil
}

// SubscribeRequests subscribes to the buffer channel. Callers should range
// over the returned PubSub's Channel() and decode each message with
// DecodeRequest, rejecting malformed payloads rather than crashing.
func (s *Store) SubscribeRequests(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, bufferChannel)
}

// DecodeRequest decodes and validates one buffer-channel payload.
func DecodeRequest(payload string) (Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return Request{}, fmt.Errorf("malformed historical request: %w", err)
	}
	if req.DeviceID == "" || req.RequestID == "" {
		return Request{}, fmt.Errorf("malformed historical request: missing device_id or request_id")
	}
	return req, nil
}

// ServerTime returns the store's current time in milliseconds, used to
// clamp a historical request's to_ts so it never decodes into the future.
func (s *Store) ServerTime(ctx context.Context) (int64, error) {
	t, err := s.rdb.Time(ctx).Result()
	if err != nil {
		return 0, rerrors.NewStoreError("server_time", err)
	}
	return t.UnixMilli(), nil
}

func gobEncode(v interface{}, sizeHint int) ([]byte, error) {
	raw := bufpool.Get(sizeHint)
	buf := bytes.NewBuffer(raw[:0])
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		bufpool.Put(raw)
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	bufpool.Put(raw)
	return out, nil
}
