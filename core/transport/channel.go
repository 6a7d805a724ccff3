package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Status int

const (
	StatusReconnecting Status = iota + 1
	StatusReconnected
	StatusConnectionLost
)

func (s Status) String() string {
	switch s {
	case StatusReconnecting:
		return "reconnecting"
	case StatusReconnected:
		return "reconnected"
	case StatusConnectionLost:
		return "connection_lost"
	}
	return "unknown"
}

// StatusEvent reports connection health changes the channel handles on its
// own. Only StatusConnectionLost is terminal.
type StatusEvent struct {
	Status  Status
	Attempt int
	Err     error
}

type Option func(*Channel)

func WithConfig(cfg Config) Option {
	return func(c *Channel) { c.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// Channel is a persistent websocket to the realtime service. Outbound
// messages are queued and written by a single writer in Send order; inbound
// events are decoded by a single reader and delivered in receipt order.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	events chan protocol.ServerEvent
	status chan StatusEvent

	mu         sync.Mutex
	current    *link
	active     bool
	cancelRun  context.CancelFunc
	endpoint   string
	credential protocol.Authenticate

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewChannel(opts ...Option) *Channel {
	c := &Channel{
		cfg:     DefaultConfig(),
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = c.cfg.withDefaults()
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{}
	}
	c.events = make(chan protocol.ServerEvent, c.cfg.EventBuffer)
	c.status = make(chan StatusEvent, 16)
	return c
}

// Events delivers server events in the order they were received. It is
// closed by Close.
func (c *Channel) Events() <-chan protocol.ServerEvent { return c.events }

// Status reports reconnects and the terminal connection loss. It is closed
// by Close.
func (c *Channel) Status() <-chan StatusEvent { return c.status }

// Connect dials endpoint presenting credential and waits for the server to
// open a session. It is attempted once; only connections that were
// established are retried after an unexpected closure.
func (c *Channel) Connect(ctx context.Context, endpoint, credential string) (err error) {
	ctx, span := tracer.Start(ctx, "transport connect", trace.WithAttributes(attribute.String("transport.endpoint", endpoint)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.isClosed() {
		return ErrClosed
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	auth := protocol.Authenticate{Credential: credential}
	l, err := c.dial(ctx, endpoint, auth)
	if err != nil {
		return err
	}

	// Close or another Connect may have won while dialing. Goroutines are
	// only started under mu so Close never waits on a group still growing.
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.isClosed():
		l.shutdown(nil)
		return ErrClosed
	case ctx.Err() != nil:
		l.shutdown(nil)
		return ctx.Err()
	case c.active:
		l.shutdown(nil)
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.endpoint = endpoint
	c.credential = auth
	c.current = l
	c.active = true
	c.cancelRun = cancel

	c.start(l)
	c.wg.Add(1)
	go c.supervise(runCtx, l)
	return nil
}

func (c *Channel) dial(ctx context.Context, endpoint string, auth protocol.Authenticate) (*link, error) {
	header := http.Header{}
	for k, v := range c.cfg.Headers {
		header[k] = append([]string(nil), v...)
	}
	if auth.Credential != "" {
		header.Set("Authorization", "Bearer "+auth.Credential)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: websocket dial failed (status %d): %w", ErrConnectFailed, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	stop := context.AfterFunc(dialCtx, func() { _ = ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	messageType, payload, err := ws.ReadMessage()
	if !stop() || err != nil {
		_ = ws.Close()
		if err == nil {
			err = dialCtx.Err()
		}
		return nil, fmt.Errorf("%w: waiting for session: %w", ErrConnectFailed, err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	if messageType != websocket.TextMessage {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: unexpected first frame type %d", ErrConnectFailed, messageType)
	}

	first, err := protocol.DecodeEvent(payload)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	switch e := first.(type) {
	case protocol.SessionCreated:
		return newLink(ws, first, c.cfg.QueueSize), nil
	case protocol.ErrorEvent:
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %w", ErrAuthRejected, e)
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("%w: unexpected first event %q", ErrConnectFailed, first.EventType())
	}
}

// start must be called with mu held.
func (c *Channel) start(l *link) {
	c.wg.Add(2)
	go c.readLoop(l)
	go c.writeLoop(l)
}

// Send queues msg for the writer without blocking. It fails with
// ErrNotConnected while there is no live connection and with ErrQueueFull
// when the writer is too far behind; in both cases msg is dropped.
func (c *Channel) Send(msg protocol.OutboundMessage) error {
	frames, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	l := c.current
	c.mu.Unlock()
	if l == nil || l.isDone() {
		return ErrNotConnected
	}

	select {
	case l.out <- outboundItem{name: protocol.Name(msg), frames: frames}:
		return nil
	default:
		droppedOutbound.Add(context.Background(), 1)
		return fmt.Errorf("%w: dropped %s", ErrQueueFull, protocol.Name(msg))
	}
}

// Connected reports whether a connection is currently usable.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.isDone()
}

// Disconnect closes the current connection after flushing what is queued,
// and stops any reconnect in progress. The channel can connect again.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	l := c.current
	cancel := c.cancelRun
	c.current = nil
	c.active = false
	c.cancelRun = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if l == nil {
		return nil
	}

	l.beginClose()
	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case <-l.done:
	case <-timer.C:
		l.shutdown(fmt.Errorf("close timed out"))
	case <-ctx.Done():
		l.shutdown(ctx.Err())
		return ctx.Err()
	}
	return nil
}

// Close disconnects and releases every goroutine. Events and Status are
// closed once it returns.
func (c *Channel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	err := c.Disconnect(ctx)

	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closeCh)
		l, cancelRun := c.current, c.cancelRun
		c.current = nil
		c.active = false
		c.cancelRun = nil
		c.mu.Unlock()

		if cancelRun != nil {
			cancelRun()
		}
		if l != nil {
			l.shutdown(ErrClosed)
		}
		c.wg.Wait()
		close(c.events)
		close(c.status)
	})
	return err
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Channel) emit(ev protocol.ServerEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closeCh:
		return false
	}
}

func (c *Channel) sendStatus(s StatusEvent) {
	select {
	case c.status <- s:
	case <-c.closeCh:
	}
}

func (c *Channel) readLoop(l *link) {
	defer c.wg.Done()

	if !c.emit(l.first) {
		return
	}

	for {
		messageType, data, err := l.ws.ReadMessage()
		if err != nil {
			l.shutdown(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			malformedInbound.Add(context.Background(), 1)
			c.logger.Warn("malformed server event", slog.Any("error", err))
			ev = protocol.ErrorEvent{Code: protocol.CodeProtocolError, Message: err.Error()}
		}
		if !c.emit(ev) {
			return
		}
	}
}

func (c *Channel) writeLoop(l *link) {
	defer c.wg.Done()

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.closing:
			c.flushAndClose(l)
			return
		case <-ping.C:
			if err := l.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				l.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		case item := <-l.out:
			if err := l.write(item, c.cfg.WriteTimeout); err != nil {
				l.shutdown(err)
				return
			}
		}
	}
}

func (c *Channel) flushAndClose(l *link) {
drain:
	for {
		select {
		case item := <-l.out:
			if err := l.write(item, c.cfg.WriteTimeout); err != nil {
				l.shutdown(err)
				return
			}
		default:
			break drain
		}
	}

	_ = l.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout),
	)
	l.shutdown(nil)
}

// supervise reconnects after unexpected closures until runCtx is cancelled
// or the retry budget is spent.
func (c *Channel) supervise(runCtx context.Context, l *link) {
	defer c.wg.Done()

	for {
		select {
		case <-l.done:
		case <-c.closeCh:
			return
		}
		if runCtx.Err() != nil || c.isClosed() {
			return
		}

		c.mu.Lock()
		if c.current == l {
			c.current = nil
		}
		endpoint, auth := c.endpoint, c.credential
		c.mu.Unlock()

		if dropped := len(l.out); dropped > 0 {
			droppedOutbound.Add(context.Background(), int64(dropped))
		}
		c.logger.Warn("connection closed unexpectedly, reconnecting",
			slog.Any("error", l.err), slog.Int("dropped_messages", len(l.out)))

		next, err := c.reconnect(runCtx, endpoint, auth, l.err)
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.active = false
			c.mu.Unlock()
			c.logger.Error("giving up on connection", slog.Any("error", err))
			c.sendStatus(StatusEvent{Status: StatusConnectionLost, Err: err})
			return
		}

		c.mu.Lock()
		if runCtx.Err() != nil || c.isClosed() {
			c.mu.Unlock()
			next.shutdown(nil)
			return
		}
		c.current = next
		c.start(next)
		c.mu.Unlock()

		c.sendStatus(StatusEvent{Status: StatusReconnected})
		l = next
	}
}

func (c *Channel) reconnect(ctx context.Context, endpoint string, auth protocol.Authenticate, cause error) (*link, error) {
	ctx, span := tracer.Start(ctx, "transport reconnect")
	defer span.End()

	policy := c.cfg.Reconnect
	delay := policy.Initial
	lastErr := cause
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		c.sendStatus(StatusEvent{Status: StatusReconnecting, Attempt: attempt, Err: lastErr})

		timer := time.NewTimer(policy.jittered(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		reconnectAttempts.Add(ctx, 1)
		l, err := c.dial(ctx, endpoint, auth)
		if err == nil {
			span.SetAttributes(attribute.Int("transport.reconnect.attempts", attempt))
			return l, nil
		}
		lastErr = err
		span.AddEvent("reconnect failed", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))
		if errors.Is(err, ErrAuthRejected) {
			break
		}
		delay = policy.next(delay)
	}

	err := fmt.Errorf("%w: %w", ErrConnectionLost, lastErr)
	if lastErr == nil {
		err = ErrConnectionLost
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}
