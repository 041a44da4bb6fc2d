// Package egress forwards a device's live packets to a single optional RTMP
// destination. It is the caller side of the RTMP publish handshake: dial,
// simple handshake, connect/createStream/publish AMF0 commands, then raw
// audio/video RTMP messages whose payload is FLV tag-body encoded.
//
// Narrowed from the teacher's multi-destination relay (internal/rtmp/relay)
// to exactly one destination, since the spec describes a single configured
// `rtmp` endpoint per device.
package egress

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
	"github.com/alxayo/go-rtmp/internal/rtmp/handshake"
)

// amf0CommandMessageTypeID is the RTMP message type ID for AMF0 command
// messages. Inlined here (rather than importing the dropped rpc package)
// since egress only ever sends commands, never parses them.
const amf0CommandMessageTypeID uint8 = 20

const dialTimeout = 5 * time.Second
const defaultChunkSize = 128

// egressChunkSize is the outbound chunk size this publish client announces
// right after the handshake, matching a real RTMP publisher's behavior of
// widening the chunk size before sending media (avoids excessive FMT3
// fragmentation of video tags, which routinely exceed 128 bytes).
const egressChunkSize = 4096

// egressWindowAckSize is the window acknowledgement size announced
// alongside the chunk size; this client never reads RTMP Acknowledgement
// (type 3) replies back since egress is send-only, but announcing a window
// is part of a standard publish handshake and some media servers reject
// publishers that skip it.
const egressWindowAckSize = 2500000

// Status represents the connection state of the egress destination.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Metrics tracks forwarding performance for the destination.
type Metrics struct {
	MessagesSent    uint64
	MessagesDropped uint64
	BytesSent       uint64
	LastSentTime    time.Time
	ConnectTime     time.Time
}

// Forwarder publishes a device's audio/video packets to one RTMP endpoint.
type Forwarder struct {
	rawURL    string
	app       string
	streamKey string
	host      string

	mu       sync.RWMutex
	conn     net.Conn
	writer   *chunk.Writer
	reader   *chunk.Reader
	streamID uint32
	status   Status
	lastErr  error
	metrics  Metrics

	trxMu sync.Mutex
	trxID float64

	logger *slog.Logger
}

// New parses an rtmp://host/app/stream URL and returns an unconnected Forwarder.
func New(rawURL string, log *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("egress: invalid url: %w", err)
	}
	if u.Scheme != "rtmp" {
		return nil, fmt.Errorf("egress: url must use rtmp:// scheme, got %s", u.Scheme)
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < 2 {
		return nil, fmt.Errorf("egress: url must be rtmp://host/app/stream")
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":1935"
	}
	if log == nil {
		log = logger.Logger()
	}
	return &Forwarder{
		rawURL:    rawURL,
		app:       parts[0],
		streamKey: strings.Join(parts[1:], "/"),
		host:      host,
		status:    StatusDisconnected,
		logger:    log.With("egress_url", rawURL),
	}, nil
}

// Connect dials the destination, performs the RTMP handshake, and issues
// connect/createStream/publish. Safe to call again after Close.
func (f *Forwarder) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status == StatusConnected {
		return nil
	}
	f.status = StatusConnecting

	conn, err := net.DialTimeout("tcp", f.host, dialTimeout)
	if err != nil {
		f.status = StatusError
		f.lastErr = err
		return rerrors.NewIngestError(f.streamKey, "egress.dial", err)
	}

	if err := handshake.ClientHandshake(conn); err != nil {
		_ = conn.Close()
		f.status = StatusError
		f.lastErr = err
		return err
	}

	f.conn = conn
	f.writer = chunk.NewWriter(conn, defaultChunkSize)
	f.reader = chunk.NewReader(conn, defaultChunkSize)

	if err := f.sendChunkSizeAndWindowAck(); err != nil {
		f.closeLocked()
		f.status = StatusError
		f.lastErr = err
		return err
	}

	if err := f.sendConnectAndWait(); err != nil {
		f.closeLocked()
		f.status = StatusError
		f.lastErr = err
		return err
	}
	if err := f.sendCreateStreamAndWait(); err != nil {
		f.closeLocked()
		f.status = StatusError
		f.lastErr = err
		return err
	}
	if err := f.sendPublish(); err != nil {
		f.closeLocked()
		f.status = StatusError
		f.lastErr = err
		return err
	}

	f.status = StatusConnected
	f.metrics.ConnectTime = time.Now()
	f.lastErr = nil
	f.logger.Info("egress connected", "app", f.app, "stream", f.streamKey)
	return nil
}

// sendChunkSizeAndWindowAck announces this client's outbound chunk size and
// window acknowledgement size, the two protocol-control messages a real RTMP
// publish client sends immediately after the handshake and before `connect`.
func (f *Forwarder) sendChunkSizeAndWindowAck() error {
	if err := f.writer.WriteMessage(control.EncodeSetChunkSize(egressChunkSize)); err != nil {
		return fmt.Errorf("egress: write set chunk size: %w", err)
	}
	f.writer.SetChunkSize(egressChunkSize)

	if err := f.writer.WriteMessage(control.EncodeWindowAcknowledgementSize(egressWindowAckSize)); err != nil {
		return fmt.Errorf("egress: write window ack size: %w", err)
	}
	return nil
}

func (f *Forwarder) nextTrx() float64 {
	f.trxMu.Lock()
	defer f.trxMu.Unlock()
	f.trxID++
	return f.trxID
}

func (f *Forwarder) sendConnectAndWait() error {
	trx := f.nextTrx()
	cmdObj := map[string]interface{}{
		"app":            f.app,
		"type":           "nonprivate",
		"tcUrl":          f.rawURL,
		"fpad":           false,
		"capabilities":   15.0,
		"audioCodecs":    0.0,
		"videoCodecs":    0.0,
		"videoFunction":  1.0,
		"flashVer":       "edge-video-proxy",
		"objectEncoding": 0.0,
	}
	payload, err := amf.EncodeAll("connect", trx, cmdObj)
	if err != nil {
		return fmt.Errorf("egress: encode connect: %w", err)
	}
	msg := &chunk.Message{CSID: 3, TypeID: amf0CommandMessageTypeID, MessageStreamID: 0, MessageLength: uint32(len(payload)), Payload: payload}
	if err := f.writer.WriteMessage(msg); err != nil {
		return fmt.Errorf("egress: write connect: %w", err)
	}
	return f.waitForResult("connect")
}

func (f *Forwarder) sendCreateStreamAndWait() error {
	trx := f.nextTrx()
	payload, err := amf.EncodeAll("createStream", trx, nil)
	if err != nil {
		return fmt.Errorf("egress: encode createStream: %w", err)
	}
	msg := &chunk.Message{CSID: 3, TypeID: amf0CommandMessageTypeID, MessageStreamID: 0, MessageLength: uint32(len(payload)), Payload: payload}
	if err := f.writer.WriteMessage(msg); err != nil {
		return fmt.Errorf("egress: write createStream: %w", err)
	}
	f.streamID = 1
	return f.waitForResult("createStream")
}

func (f *Forwarder) waitForResult(op string) error {
	for {
		msg, err := f.reader.ReadMessage()
		if err != nil {
			return fmt.Errorf("egress: %s read: %w", op, err)
		}
		if msg.TypeID != amf0CommandMessageTypeID {
			continue
		}
		args, err := amf.DecodeAll(msg.Payload)
		if err != nil || len(args) < 1 {
			continue
		}
		cmdName, ok := args[0].(string)
		if !ok {
			continue
		}
		switch cmdName {
		case "_result":
			if op == "createStream" && len(args) >= 4 {
				if sid, ok := args[3].(float64); ok {
					f.streamID = uint32(sid)
				}
			}
			return nil
		case "_error":
			return fmt.Errorf("egress: %s rejected by server", op)
		}
	}
}

func (f *Forwarder) sendPublish() error {
	payload, err := amf.EncodeAll("publish", float64(0), nil, f.streamKey, "live")
	if err != nil {
		return fmt.Errorf("egress: encode publish: %w", err)
	}
	msg := &chunk.Message{CSID: 3, TypeID: amf0CommandMessageTypeID, MessageStreamID: f.streamID, MessageLength: uint32(len(payload)), Payload: payload}
	return f.writer.WriteMessage(msg)
}

// SendAudio forwards an FLV-tag-encoded audio payload at the given RTMP timestamp.
func (f *Forwarder) SendAudio(ts uint32, payload []byte) error {
	return f.send(8, ts, payload)
}

// SendVideo forwards an FLV-tag-encoded video payload at the given RTMP timestamp.
func (f *Forwarder) SendVideo(ts uint32, payload []byte) error {
	return f.send(9, ts, payload)
}

func (f *Forwarder) send(typeID uint8, ts uint32, payload []byte) error {
	f.mu.RLock()
	status := f.status
	writer := f.writer
	streamID := f.streamID
	f.mu.RUnlock()

	if status != StatusConnected || writer == nil {
		f.mu.Lock()
		f.metrics.MessagesDropped++
		f.mu.Unlock()
		return fmt.Errorf("egress: not connected (status: %s)", status)
	}

	csid := uint32(6)
	if typeID == 9 {
		csid = 7
	}
	msg := &chunk.Message{CSID: csid, TypeID: typeID, MessageStreamID: streamID, Timestamp: ts, MessageLength: uint32(len(payload)), Payload: payload}
	if err := writer.WriteMessage(msg); err != nil {
		f.mu.Lock()
		f.status = StatusError
		f.lastErr = err
		f.metrics.MessagesDropped++
		f.mu.Unlock()
		return fmt.Errorf("egress: send: %w", err)
	}

	f.mu.Lock()
	f.metrics.MessagesSent++
	f.metrics.BytesSent += uint64(len(payload))
	f.metrics.LastSentTime = time.Now()
	f.mu.Unlock()
	return nil
}

// Status returns the current connection status.
func (f *Forwarder) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

// LastError returns the last error encountered.
func (f *Forwarder) LastError() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastErr
}

// GetMetrics returns a copy of the current metrics.
func (f *Forwarder) GetMetrics() Metrics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.metrics
}

// Close disconnects from the destination.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeLocked()
}

func (f *Forwarder) closeLocked() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	f.reader = nil
	f.writer = nil
	f.status = StatusDisconnected
	return err
}
