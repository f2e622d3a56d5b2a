package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	in      chan readResult
	writeCh chan []byte
	done    chan struct{}
	once    sync.Once

	mu             sync.Mutex
	closeCodes     []int
	writeDeadlines []time.Time
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan readResult, 16),
		writeCh: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.in:
		if r.err != nil {
			return 0, nil, r.err
		}
		return websocket.TextMessage, r.data, nil
	case <-c.done:
		return 0, nil, io.ErrClosedPipe
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	c.writeCh <- data
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCodes = append(c.closeCodes, int(binary.BigEndian.Uint16(data[:2])))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadlines = append(c.writeDeadlines, t)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) lastWriteDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writeDeadlines) == 0 {
		return time.Time{}
	}
	return c.writeDeadlines[len(c.writeDeadlines)-1]
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) sentCloseCode(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		for _, code := range c.closeCodes {
			if code == want {
				c.mu.Unlock()
				return
			}
		}
		c.mu.Unlock()
		select {
		case <-deadline:
			c.mu.Lock()
			got := c.closeCodes
			c.mu.Unlock()
			t.Fatalf("close code %d not sent, got %v", want, got)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitWrite(t *testing.T, c *fakeConn) []byte {
	t.Helper()
	select {
	case data := <-c.writeCh:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
		return nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBridge(t *testing.T, client *fakeConn, dial Dialer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := New(client, dial, time.Second, testLogger(), nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	})
}

func TestPendingQueueFlushesInOrder(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	release := make(chan struct{})
	dial := func(ctx context.Context) (Conn, error) {
		<-release
		return upstream, nil
	}
	startBridge(t, client, dial)

	client.in <- readResult{data: []byte(`{"type":"setup","payload":{"model":"m1"}}`)}
	client.in <- readResult{data: []byte(`{"type":"audio","data":"QQ=="}`)}
	client.in <- readResult{data: []byte(`{"type":"audio","data":"Qg=="}`)}

	close(release)

	first := string(waitWrite(t, upstream))
	if first != `{"setup":{"model":"m1"}}` {
		t.Fatalf("first upstream frame = %s", first)
	}
	second := string(waitWrite(t, upstream))
	if !strings.Contains(second, `"data":"QQ=="`) {
		t.Fatalf("second upstream frame = %s", second)
	}
	third := string(waitWrite(t, upstream))
	if !strings.Contains(third, `"data":"Qg=="`) {
		t.Fatalf("third upstream frame = %s", third)
	}

	if got := string(waitWrite(t, client)); got != `{"type":"connected"}` {
		t.Fatalf("client frame = %s", got)
	}
}

func TestUpstreamMessagesForwardedVerbatim(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return upstream, nil }
	startBridge(t, client, dial)

	if got := string(waitWrite(t, client)); got != `{"type":"connected"}` {
		t.Fatalf("client frame = %s", got)
	}

	raw := `{"serverContent":{"turnComplete":true}}`
	upstream.in <- readResult{data: []byte(raw)}
	if got := string(waitWrite(t, client)); got != raw {
		t.Fatalf("forwarded frame = %s, want %s", got, raw)
	}
}

func TestUpstreamCloseMirroredToClient(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return upstream, nil }
	startBridge(t, client, dial)
	waitWrite(t, client) // connected

	upstream.in <- readResult{err: &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "done"}}

	if got := string(waitWrite(t, client)); got != `{"type":"closed","code":1000}` {
		t.Fatalf("client frame = %s", got)
	}
	client.sentCloseCode(t, websocket.CloseNormalClosure)
}

func TestDialFailureClosesClientWith1011(t *testing.T) {
	client := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) {
		return nil, errors.New("connection refused")
	}
	startBridge(t, client, dial)

	if got := string(waitWrite(t, client)); !strings.Contains(got, "upstream connection failed") {
		t.Fatalf("client frame = %s", got)
	}
	client.sentCloseCode(t, websocket.CloseInternalServerErr)
}

func TestInvalidFrameRepliesAndKeepsConnection(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return upstream, nil }
	startBridge(t, client, dial)
	waitWrite(t, client) // connected

	client.in <- readResult{data: []byte(`{"type":"audio"}`)}
	if got := string(waitWrite(t, client)); !strings.Contains(got, `"type":"error"`) {
		t.Fatalf("client frame = %s", got)
	}

	client.in <- readResult{data: []byte(`{"type":"audio","data":"QQ=="}`)}
	if got := string(waitWrite(t, upstream)); !strings.Contains(got, `"data":"QQ=="`) {
		t.Fatalf("upstream frame = %s", got)
	}
}

func TestUnknownTypeDroppedSilently(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return upstream, nil }
	startBridge(t, client, dial)
	waitWrite(t, client) // connected

	client.in <- readResult{data: []byte(`{"type":"ping"}`)}
	client.in <- readResult{data: []byte(`{"type":"stop-audio"}`)}

	// The stop-audio frame arrives upstream; nothing was written for ping.
	if got := string(waitWrite(t, upstream)); got != `{"realtimeInput":{"audioStreamEnd":true}}` {
		t.Fatalf("upstream frame = %s", got)
	}
	select {
	case extra := <-client.writeCh:
		t.Fatalf("unexpected client frame %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientContentNullPayloadUsesText(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return upstream, nil }
	startBridge(t, client, dial)
	waitWrite(t, client) // connected

	client.in <- readResult{data: []byte(`{"type":"client-content","payload":null,"text":"hi"}`)}

	got := string(waitWrite(t, upstream))
	if strings.Contains(got, `"clientContent":null`) {
		t.Fatalf("null payload forwarded upstream: %s", got)
	}
	if !strings.Contains(got, `"text":"hi"`) || !strings.Contains(got, `"turnComplete":true`) {
		t.Fatalf("upstream frame = %s, want synthesized user turn", got)
	}
}

func TestWriteDeadlinesAppliedOnBothSockets(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return upstream, nil }
	startBridge(t, client, dial)
	waitWrite(t, client) // connected

	if client.lastWriteDeadline().IsZero() {
		t.Fatal("no write deadline set before client write")
	}

	client.in <- readResult{data: []byte(`{"type":"audio","data":"QQ=="}`)}
	waitWrite(t, upstream)
	if upstream.lastWriteDeadline().IsZero() {
		t.Fatal("no write deadline set before upstream write")
	}
}

func TestClientCloseMirroredUpstream(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return upstream, nil }
	startBridge(t, client, dial)
	waitWrite(t, client) // connected

	client.in <- readResult{err: &websocket.CloseError{Code: websocket.CloseGoingAway}}
	upstream.sentCloseCode(t, websocket.CloseGoingAway)
}
