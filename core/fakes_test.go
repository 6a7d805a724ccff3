package orchestration

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"github.com/koscakluka/ema-realtime/core/transport"
)

// callLog records the order in which the fakes were touched.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *callLog) index(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Index(l.entries, entry)
}

type testCapture struct {
	mu       sync.Mutex
	onFrame  func(audio.Frame)
	startErr error

	starts    atomic.Int32
	stops     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func (c *testCapture) Start(_ context.Context, onFrame func(audio.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.onFrame = onFrame
	c.starts.Add(1)
	n := c.active.Add(1)
	for {
		current := c.maxActive.Load()
		if n <= current || c.maxActive.CompareAndSwap(current, n) {
			break
		}
	}
	return nil
}

func (c *testCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onFrame != nil {
		c.active.Add(-1)
	}
	c.onFrame = nil
	c.stops.Add(1)
	return nil
}

// emit delivers a captured frame the way a device callback would. It reports
// whether a capture was running.
func (c *testCapture) emit(seq uint64) bool {
	c.mu.Lock()
	onFrame := c.onFrame
	c.mu.Unlock()
	if onFrame == nil {
		return false
	}
	onFrame(audio.NewFrame(seq, audio.DirectionCapture, []byte{byte(seq), 0}))
	return true
}

type testPlayback struct {
	log *callLog

	mu            sync.Mutex
	buffered      int
	enqueuedBytes int
	startErr      error

	starts  atomic.Int32
	stops   atomic.Int32
	flushes atomic.Int32
}

func (p *testPlayback) Start() error {
	if p.startErr != nil {
		return p.startErr
	}
	p.starts.Add(1)
	return nil
}

func (p *testPlayback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffered = 0
	p.stops.Add(1)
	return nil
}

func (p *testPlayback) Enqueue(frame audio.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffered += len(frame.Data)
	p.enqueuedBytes += len(frame.Data)
	p.log.add("enqueue")
}

func (p *testPlayback) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	discarded := p.buffered
	p.buffered = 0
	p.flushes.Add(1)
	p.log.add("flush")
	return discarded
}

func (p *testPlayback) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

// play simulates the device rendering n bytes.
func (p *testPlayback) play(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffered = max(p.buffered-n, 0)
}

func (p *testPlayback) enqueued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueuedBytes
}

type testTransport struct {
	log    *callLog
	events chan protocol.ServerEvent
	status chan transport.StatusEvent

	mu         sync.Mutex
	sent       []protocol.OutboundMessage
	connectErr error
	connected  bool
	closeOnce  sync.Once

	// disconnectHold, when set, keeps Disconnect blocked until it is closed.
	disconnectHold chan struct{}

	connects    atomic.Int32
	disconnects atomic.Int32
}

func newTestTransport(log *callLog) *testTransport {
	return &testTransport{
		log:    log,
		events: make(chan protocol.ServerEvent, 64),
		status: make(chan transport.StatusEvent, 8),
	}
}

func (t *testTransport) Connect(ctx context.Context, _, _ string) error {
	t.connects.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *testTransport) Send(msg protocol.OutboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return transport.ErrNotConnected
	}
	if appendMsg, ok := msg.(protocol.AudioAppend); ok {
		// The session releases frames after Send.
		data := append([]byte(nil), appendMsg.Frame.Data...)
		msg = protocol.AudioAppend{Frame: audio.NewFrame(appendMsg.Frame.Seq, appendMsg.Frame.Direction, data)}
	}
	t.sent = append(t.sent, msg)
	t.log.add("send:" + protocol.Name(msg))
	return nil
}

func (t *testTransport) Events() <-chan protocol.ServerEvent  { return t.events }
func (t *testTransport) Status() <-chan transport.StatusEvent { return t.status }

func (t *testTransport) Disconnect(ctx context.Context) error {
	t.disconnects.Add(1)
	if t.disconnectHold != nil {
		select {
		case <-t.disconnectHold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *testTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.events)
		close(t.status)
	})
	return nil
}

func (t *testTransport) setConnectErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

func (t *testTransport) sentMessages() []protocol.OutboundMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sent)
}

func (t *testTransport) appendedSeqs() []uint64 {
	var seqs []uint64
	for _, msg := range t.sentMessages() {
		if appendMsg, ok := msg.(protocol.AudioAppend); ok {
			seqs = append(seqs, appendMsg.Frame.Seq)
		}
	}
	return seqs
}

func (t *testTransport) countSent(name string) int {
	count := 0
	for _, msg := range t.sentMessages() {
		if protocol.Name(msg) == name {
			count++
		}
	}
	return count
}

type testHarness struct {
	session   *Session
	capture   *testCapture
	playback  *testPlayback
	transport *testTransport
	log       *callLog
}

func newTestHarness(t *testing.T, opts ...SessionOption) *testHarness {
	t.Helper()

	log := &callLog{}
	h := &testHarness{
		capture:   &testCapture{},
		playback:  &testPlayback{log: log},
		transport: newTestTransport(log),
		log:       log,
	}
	opts = append([]SessionOption{
		WithAudioCapture(h.capture),
		WithAudioPlayback(h.playback),
		WithTransport(h.transport),
		WithEndpoint("wss://realtime.test", "secret"),
	}, opts...)
	h.session = NewSession(opts...)
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *testHarness) stream(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.session.Connect(ctx); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if err := h.session.StartConversation(ctx); err != nil {
		t.Fatalf("expected conversation to start, got %v", err)
	}
	if got := h.session.State(); got != StateStreaming {
		t.Fatalf("expected state %s, got %s", StateStreaming, got)
	}
}

func (h *testHarness) push(events ...protocol.ServerEvent) {
	for _, ev := range events {
		h.transport.events <- ev
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// awaitEvent reads sub until an event of the given kind arrives.
func awaitEvent(t *testing.T, sub <-chan events.Event, kind events.Kind) events.Event {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", kind)
			}
			if ev.Kind() == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}
