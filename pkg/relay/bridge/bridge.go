// Package bridge relays a single client websocket to the upstream speech
// service. Each accepted /live connection gets its own Bridge; bridges share
// only the logger and the metric set.
//
// The bridge starts dialing upstream immediately but accepts client traffic
// from the first moment. Messages that arrive before the upstream socket
// opens are queued in order and flushed as one batch when the dial completes;
// only then does the client receive the connected acknowledgment.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/voxlingua/voxlingua/pkg/relay/metrics"
	"github.com/voxlingua/voxlingua/pkg/relay/protocol"
)

const closeGrace = 2 * time.Second

// Conn is the subset of *websocket.Conn the bridge uses. Tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the upstream websocket for one bridge.
type Dialer func(ctx context.Context) (Conn, error)

// Bridge couples one client connection to one upstream connection.
type Bridge struct {
	client       Conn
	dial         Dialer
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	// mu guards upstream state and the pending queue. Upstream writes happen
	// under mu so queued messages cannot interleave with live ones.
	mu           sync.Mutex
	upstream     Conn
	upstreamOpen bool
	pending      [][]byte

	clientWMu sync.Mutex

	clientClosed   atomic.Bool
	upstreamClosed atomic.Bool
}

// New builds a bridge for an accepted client connection. A writeTimeout of
// zero disables write deadlines; the logger and metrics may be nil.
func New(client Conn, dial Dialer, writeTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:       client,
		dial:         dial,
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      m,
	}
}

// writeDeadline returns the deadline for a write starting now, or the zero
// time when deadlines are disabled.
func (b *Bridge) writeDeadline() time.Time {
	if b.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(b.writeTimeout)
}

// Run pumps both directions until either side closes. It always returns after
// both sockets are closed.
func (b *Bridge) Run(ctx context.Context) error {
	if b.metrics != nil {
		b.metrics.BridgesTotal.Inc()
		b.metrics.BridgesActive.Inc()
		defer b.metrics.BridgesActive.Dec()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.runUpstream(ctx) })
	g.Go(func() error { return b.runClient(ctx) })
	err := g.Wait()

	b.closeClient(websocket.CloseNormalClosure, "")
	b.closeUpstream(websocket.CloseNormalClosure)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runUpstream dials the upstream service, flushes the pending queue, then
// forwards every upstream message to the client verbatim.
func (b *Bridge) runUpstream(ctx context.Context) error {
	up, err := b.dial(ctx)
	if err != nil {
		if b.metrics != nil {
			b.metrics.UpstreamDialFails.Inc()
		}
		b.logger.Error("upstream dial failed", "error", err)
		b.writeClient(protocol.ErrorFrame("upstream connection failed"))
		b.closeClient(websocket.CloseInternalServerErr, "upstream unavailable")
		return err
	}

	b.mu.Lock()
	b.upstream = up
	b.upstreamOpen = true
	queued := b.pending
	b.pending = nil
	for _, frame := range queued {
		_ = up.SetWriteDeadline(b.writeDeadline())
		if werr := up.WriteMessage(websocket.TextMessage, frame); werr != nil {
			b.mu.Unlock()
			b.logger.Error("pending flush failed", "error", werr)
			b.failClient("upstream write failed")
			return werr
		}
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.PendingFlushSize.Observe(float64(len(queued)))
	}
	b.logger.Debug("upstream open", "flushed", len(queued))
	b.writeClient(protocol.ConnectedFrame())

	for {
		_, data, rerr := up.ReadMessage()
		if rerr != nil {
			b.upstreamClosed.Store(true)
			var ce *websocket.CloseError
			if errors.As(rerr, &ce) {
				b.logger.Info("upstream closed", "code", ce.Code, "reason", ce.Text)
				b.writeClient(protocol.ClosedFrame(ce.Code))
				b.closeClient(ce.Code, ce.Text)
				return nil
			}
			if b.clientClosed.Load() || ctx.Err() != nil {
				return nil
			}
			b.logger.Error("upstream read failed", "error", rerr)
			b.failClient("upstream connection lost")
			return rerr
		}
		if b.metrics != nil {
			b.metrics.UpstreamMessages.Inc()
		}
		if werr := b.writeClient(data); werr != nil {
			return werr
		}
	}
}

// runClient reads client frames, validates them, and forwards the translated
// upstream frames (queueing while the upstream socket is still opening).
func (b *Bridge) runClient(ctx context.Context) error {
	for {
		_, data, err := b.client.ReadMessage()
		if err != nil {
			b.clientClosed.Store(true)
			code := websocket.CloseInternalServerErr
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
				b.logger.Info("client closed", "code", ce.Code)
			} else if !b.upstreamClosed.Load() && ctx.Err() == nil {
				b.logger.Error("client read failed", "error", err)
			}
			b.closeUpstream(code)
			return nil
		}

		msg, derr := protocol.DecodeClientMessage(data)
		if derr != nil {
			var unknown *protocol.ErrUnknownType
			if errors.As(derr, &unknown) {
				b.logger.Debug("dropping unknown message", "type", unknown.Type)
				continue
			}
			if b.metrics != nil {
				b.metrics.ValidationErrors.Inc()
			}
			b.logger.Warn("invalid client frame", "error", derr)
			b.writeClient(protocol.ErrorFrame(derr.Error()))
			continue
		}

		frame, msgType, ferr := upstreamFrame(msg)
		if ferr != nil {
			b.logger.Error("frame encode failed", "error", ferr)
			b.writeClient(protocol.ErrorFrame("internal encoding error"))
			continue
		}
		if b.metrics != nil {
			b.metrics.ClientMessages.WithLabelValues(msgType).Inc()
		}
		if serr := b.sendUpstream(frame); serr != nil {
			b.logger.Error("upstream write failed", "error", serr)
			b.failClient("upstream write failed")
			return serr
		}
	}
}

func upstreamFrame(msg any) (frame []byte, msgType string, err error) {
	switch m := msg.(type) {
	case protocol.ClientSetup:
		frame, err = protocol.SetupFrame(m.Payload)
		return frame, "setup", err
	case protocol.ClientAudio:
		frame, err = protocol.AudioFrame(m.Data)
		return frame, "audio", err
	case protocol.ClientContent:
		if m.HasPayload() {
			frame, err = protocol.ContentFrame(m.Payload)
		} else {
			frame, err = protocol.TextTurnFrame(m.Text)
		}
		return frame, "client-content", err
	case protocol.ClientStopAudio:
		frame, err = protocol.AudioStreamEndFrame()
		return frame, "stop-audio", err
	default:
		return nil, "", errors.New("unreachable message type")
	}
}

// sendUpstream writes a frame to the upstream socket, or queues it while the
// dial is still in flight. Queue append and live write share one mutex so
// flush order is total.
func (b *Bridge) sendUpstream(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.upstreamOpen {
		b.pending = append(b.pending, frame)
		return nil
	}
	_ = b.upstream.SetWriteDeadline(b.writeDeadline())
	return b.upstream.WriteMessage(websocket.TextMessage, frame)
}

func (b *Bridge) writeClient(frame []byte) error {
	b.clientWMu.Lock()
	defer b.clientWMu.Unlock()
	_ = b.client.SetWriteDeadline(b.writeDeadline())
	return b.client.WriteMessage(websocket.TextMessage, frame)
}

// failClient reports an internal failure and closes the client with 1011.
func (b *Bridge) failClient(message string) {
	b.writeClient(protocol.ErrorFrame(message))
	b.closeClient(websocket.CloseInternalServerErr, message)
}

func (b *Bridge) closeClient(code int, reason string) {
	if !b.clientClosed.CompareAndSwap(false, true) {
		b.client.Close()
		return
	}
	deadline := time.Now().Add(closeGrace)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = b.client.WriteControl(websocket.CloseMessage, msg, deadline)
	b.client.Close()
}

func (b *Bridge) closeUpstream(code int) {
	b.mu.Lock()
	up := b.upstream
	open := b.upstreamOpen
	b.upstreamOpen = false
	b.mu.Unlock()
	if up == nil || !open {
		return
	}
	if b.upstreamClosed.CompareAndSwap(false, true) {
		deadline := time.Now().Add(closeGrace)
		msg := websocket.FormatCloseMessage(code, "")
		_ = up.WriteControl(websocket.CloseMessage, msg, deadline)
	}
	up.Close()
}
