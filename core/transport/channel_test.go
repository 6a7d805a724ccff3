package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/protocol"
)

const sessionCreated = `{"type":"session.created","session":{"id":"sess_test","model":"test"}}`

type testServer struct {
	*httptest.Server
	url         string
	connections atomic.Int32
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int)) *testServer {
	t.Helper()

	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, int(ts.connections.Add(1)))
	}))
	ts.url = "ws" + strings.TrimPrefix(ts.Server.URL, "http")
	t.Cleanup(ts.Close)
	return ts
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func upgrade(t *testing.T, w http.ResponseWriter, r *http.Request) *websocket.Conn {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.Errorf("upgrade failed: %v", err)
		return nil
	}
	return conn
}

func drainUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.Reconnect = Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}
	return cfg
}

func nextEvent(t *testing.T, c *Channel) protocol.ServerEvent {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func nextStatus(t *testing.T, c *Channel) StatusEvent {
	t.Helper()
	select {
	case s, ok := <-c.Status():
		if !ok {
			t.Fatalf("status channel closed")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status")
	}
	return StatusEvent{}
}

func TestConnectSendsCredentialAndSurfacesSession(t *testing.T) {
	var gotAuth, gotBeta atomic.Value
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotBeta.Store(r.Header.Get("OpenAI-Beta"))
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		drainUntilClosed(conn)
	})

	cfg := testConfig()
	cfg.Headers = http.Header{"OpenAI-Beta": []string{"realtime=v1"}}
	c := NewChannel(WithConfig(cfg))
	defer c.Close()

	if err := c.Connect(context.Background(), srv.url, "secret"); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if got := gotAuth.Load(); got != "Bearer secret" {
		t.Fatalf("expected bearer credential, got %v", got)
	}
	if got := gotBeta.Load(); got != "realtime=v1" {
		t.Fatalf("expected configured header, got %v", got)
	}

	ev := nextEvent(t, c)
	if created, ok := ev.(protocol.SessionCreated); !ok || created.SessionID != "sess_test" {
		t.Fatalf("expected session.created, got %#v", ev)
	}
	if !c.Connected() {
		t.Fatalf("expected channel to report connected")
	}
}

func TestConnectRejectedByHTTPStatus(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()

	err := c.Connect(context.Background(), srv.url, "wrong")
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if c.Connected() {
		t.Fatalf("expected channel to stay disconnected")
	}
}

func TestConnectRejectedByErrorEvent(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"invalid_api_key","message":"nope"}}`))
		drainUntilClosed(conn)
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()

	err := c.Connect(context.Background(), srv.url, "wrong")
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	var serverErr protocol.ErrorEvent
	if !errors.As(err, &serverErr) || serverErr.Code != protocol.CodeInvalidAPIKey {
		t.Fatalf("expected wrapped server error, got %v", err)
	}
}

func TestConnectTimesOutWaitingForSession(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		drainUntilClosed(conn)
	})

	cfg := testConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	c := NewChannel(WithConfig(cfg))
	defer c.Close()

	start := time.Now()
	err := c.Connect(context.Background(), srv.url, "k")
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected bounded handshake wait, took %v", elapsed)
	}
}

func TestSendDeliversInEnqueueOrder(t *testing.T) {
	const count = 100
	received := make(chan byte, count)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type  string `json:"type"`
				Audio string `json:"audio"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "input_audio_buffer.append" {
				continue
			}
			pcm, _ := base64.StdEncoding.DecodeString(msg.Audio)
			if len(pcm) > 0 {
				received <- pcm[0]
			}
		}
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()
	if err := c.Connect(context.Background(), srv.url, "k"); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	for i := range count {
		frame := audio.NewFrame(uint64(i), audio.DirectionCapture, []byte{byte(i), 0})
		if err := c.Send(protocol.AudioAppend{Frame: frame}); err != nil {
			t.Fatalf("expected send %d to succeed, got %v", i, err)
		}
	}

	for i := range count {
		select {
		case got := <-received:
			if got != byte(i) {
				t.Fatalf("expected frame %d, got %d", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestSendWithoutConnectionFails(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	if err := c.Send(protocol.AudioCommit{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendRefusesWhenQueueIsFull(t *testing.T) {
	c := NewChannel()
	l := newLink(nil, protocol.SessionCreated{}, 1)
	c.current = l

	if err := c.Send(protocol.AudioCommit{}); err != nil {
		t.Fatalf("expected first send to be queued, got %v", err)
	}
	if err := c.Send(protocol.AudioCommit{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if len(l.out) != 1 {
		t.Fatalf("expected exactly one queued message, got %d", len(l.out))
	}
}

func TestMalformedEventIsSurfacedAsProtocolError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.updated"}`))
		drainUntilClosed(conn)
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()
	if err := c.Connect(context.Background(), srv.url, "k"); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	nextEvent(t, c)
	ev := nextEvent(t, c)
	if e, ok := ev.(protocol.ErrorEvent); !ok || e.Code != protocol.CodeProtocolError {
		t.Fatalf("expected protocol error event, got %#v", ev)
	}
	if _, ok := nextEvent(t, c).(protocol.SessionUpdated); !ok {
		t.Fatalf("expected channel to keep reading after a malformed frame")
	}
}

func TestReconnectsAfterUnexpectedClosure(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		if n == 1 {
			return
		}
		drainUntilClosed(conn)
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()
	if err := c.Connect(context.Background(), srv.url, "k"); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	if s := nextStatus(t, c); s.Status != StatusReconnecting || s.Attempt != 1 {
		t.Fatalf("expected first reconnect attempt, got %+v", s)
	}
	if s := nextStatus(t, c); s.Status != StatusReconnected {
		t.Fatalf("expected reconnected, got %+v", s)
	}

	nextEvent(t, c)
	if _, ok := nextEvent(t, c).(protocol.SessionCreated); !ok {
		t.Fatalf("expected a fresh session after reconnect")
	}
	if got := srv.connections.Load(); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n > 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		_ = conn.Close()
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()
	if err := c.Connect(context.Background(), srv.url, "k"); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		if s := nextStatus(t, c); s.Status != StatusReconnecting || s.Attempt != attempt {
			t.Fatalf("expected reconnect attempt %d, got %+v", attempt, s)
		}
	}
	s := nextStatus(t, c)
	if s.Status != StatusConnectionLost || !errors.Is(s.Err, ErrConnectionLost) {
		t.Fatalf("expected connection lost, got %+v", s)
	}
	if got := srv.connections.Load(); got != 4 {
		t.Fatalf("expected 1 connection and 3 retries, got %d requests", got)
	}
	if err := c.Send(protocol.AudioCommit{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected sends to fail after giving up, got %v", err)
	}
}

func TestReconnectStopsOnAuthRejection(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n > 1 {
			http.Error(w, "revoked", http.StatusForbidden)
			return
		}
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		_ = conn.Close()
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()
	if err := c.Connect(context.Background(), srv.url, "k"); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	nextStatus(t, c)
	s := nextStatus(t, c)
	if s.Status != StatusConnectionLost || !errors.Is(s.Err, ErrAuthRejected) {
		t.Fatalf("expected connection lost caused by auth rejection, got %+v", s)
	}
	if got := srv.connections.Load(); got != 2 {
		t.Fatalf("expected retries to stop after rejection, got %d requests", got)
	}
}

func TestDisconnectFlushesQueueAndAllowsReconnect(t *testing.T) {
	received := make(chan string, 16)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(data, &msg)
			received <- msg.Type
		}
	})

	c := NewChannel(WithConfig(testConfig()))
	defer c.Close()
	if err := c.Connect(context.Background(), srv.url, "k"); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if err := c.Send(protocol.AudioClear{}); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("expected disconnect to succeed, got %v", err)
	}

	select {
	case got := <-received:
		if got != "input_audio_buffer.clear" {
			t.Fatalf("expected queued clear to be flushed, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for flushed message")
	}

	if c.Connected() {
		t.Fatalf("expected channel to be disconnected")
	}
	if err := c.Connect(context.Background(), srv.url, "k"); err != nil {
		t.Fatalf("expected reconnect after disconnect to succeed, got %v", err)
	}
	if got := srv.connections.Load(); got != 2 {
		t.Fatalf("expected a second connection, got %d", got)
	}
}

func TestCloseDuringHandshakeRejectsLateConnection(t *testing.T) {
	upgraded := make(chan struct{})
	release := make(chan struct{})
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		close(upgraded)
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sessionCreated))
		drainUntilClosed(conn)
	})

	c := NewChannel(WithConfig(testConfig()))
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background(), srv.url, "secret") }()

	select {
	case <-upgraded:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the handshake")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	close(release)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connect")
	}
	if _, ok := <-c.Events(); ok {
		t.Fatalf("expected events channel closed")
	}
	if c.Connected() {
		t.Fatalf("expected no live connection after close")
	}
}
