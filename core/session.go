package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"github.com/koscakluka/ema-realtime/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCaptureQueue = 64
	disconnectTimeout   = 5 * time.Second
	dropWarnInterval    = time.Second
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNotStreaming   = errors.New("no conversation in progress")
	ErrConnectAborted = errors.New("connect aborted by disconnect")
	errNoTransport    = errors.New("no transport configured")
)

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdReconnect
	cmdStart
	cmdStop
	cmdCommit
	cmdDisconnect
)

func (k commandKind) String() string {
	switch k {
	case cmdConnect:
		return "connect"
	case cmdReconnect:
		return "reconnect"
	case cmdStart:
		return "start"
	case cmdStop:
		return "stop"
	case cmdCommit:
		return "commit"
	case cmdDisconnect:
		return "disconnect"
	}
	return "unknown"
}

type command struct {
	kind  commandKind
	reply chan error
}

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
)

type opResult struct {
	kind opKind
	gen  uint64
	err  error
}

// response is the assistant turn audio is currently being accepted for.
type response struct {
	id           string
	itemID       string
	contentIndex int
	active       bool
	done         bool
}

// Session is the conversation state machine. A single goroutine owns the
// state: commands, server events, connection status and captured frames are
// all handled there in arrival order, and it is the only caller of the
// playback sink and of Transport.Send.
type Session struct {
	transport  Transport
	input      *audioInput
	output     *audioOutput
	endpoint   string
	credential string

	sessionConfig      protocol.SessionConfig
	greeting           *protocol.ResponseConfig
	allowInterruptions atomic.Bool
	transcript         *textBuffer
	encoding           audio.EncodingInfo

	logger  *slog.Logger
	emitter *eventEmitter

	state    atomic.Int32
	frames   chan audio.Frame
	commands chan command
	results  chan opResult

	baseCtx    context.Context
	cancelBase context.CancelFunc
	closeCh    chan struct{}
	closeOnce  sync.Once
	closeErr   error
	done       chan struct{}

	// Owned by the loop.
	opGen             uint64
	cancelOp          context.CancelFunc
	opDone            chan struct{}
	pendingConnect    []chan error
	pendingDisconnect []chan error
	current           response
	cancelled         map[string]struct{}
	playbackSeq       uint64
	lastDropWarn      time.Time
}

func NewSession(opts ...SessionOption) *Session {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		output:     newAudioOutput(),
		transcript: newTextBuffer(DefaultTranscriptLimit, DefaultTranscriptTrim),
		encoding:   audio.GetDefaultEncodingInfo(),
		logger:     logger,
		emitter:    newEventEmitter(),
		frames:     make(chan audio.Frame, defaultCaptureQueue),
		commands:   make(chan command),
		results:    make(chan opResult, 4),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
		cancelled:  map[string]struct{}{},
	}
	s.allowInterruptions.Store(true)
	s.input = newAudioInput(s.onCapturedFrame)

	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) AllowInterruptions() bool { return s.allowInterruptions.Load() }

// SetAllowInterruptions takes effect from the next captured frame or server
// event on.
func (s *Session) SetAllowInterruptions(allow bool) {
	if s.allowInterruptions.Swap(allow) != allow {
		s.logger.Info("interruptions toggled", slog.Bool("allowed", allow))
	}
}

// Transcript is the rolling assistant transcript.
func (s *Session) Transcript() string { return s.transcript.String() }

// Subscribe returns a stream of session events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (s *Session) Subscribe(buffer int) (<-chan events.Event, func()) {
	return s.emitter.subscribe(buffer)
}

// Connect opens the realtime connection and returns once the server has
// created a session or the handshake failed.
func (s *Session) Connect(ctx context.Context) error { return s.do(ctx, cmdConnect) }

// Reconnect recovers a failed session.
func (s *Session) Reconnect(ctx context.Context) error { return s.do(ctx, cmdReconnect) }

// StartConversation starts playback and capture and begins streaming.
func (s *Session) StartConversation(ctx context.Context) error { return s.do(ctx, cmdStart) }

// StopConversation releases the microphone, silences playback and cancels
// whatever the assistant was saying. The connection stays open.
func (s *Session) StopConversation(ctx context.Context) error { return s.do(ctx, cmdStop) }

// Commit ends the user turn when server voice detection is disabled.
func (s *Session) Commit(ctx context.Context) error { return s.do(ctx, cmdCommit) }

func (s *Session) Disconnect(ctx context.Context) error { return s.do(ctx, cmdDisconnect) }

// Close stops the session, its audio and its transport. The session cannot
// be used afterwards.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.done
	return s.closeErr
}

func (s *Session) do(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// onCapturedFrame runs on the capture device thread.
func (s *Session) onCapturedFrame(frame audio.Frame) {
	select {
	case s.frames <- frame:
	default:
		frame.Release()
		droppedCaptureFrames.Add(context.Background(), 1, droppedFrameReason("queue_full"))
	}
}

func (s *Session) run() {
	defer close(s.done)

	var inbound <-chan protocol.ServerEvent
	var status <-chan transport.StatusEvent
	if s.transport != nil {
		inbound = s.transport.Events()
		status = s.transport.Status()
	}

	for {
		select {
		case <-s.closeCh:
			s.shutdown()
			return
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		case res := <-s.results:
			s.handleResult(res)
		case ev, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.handleServerEvent(ev)
		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			s.handleStatus(st)
		case frame := <-s.frames:
			s.forwardFrame(frame)
		}
	}
}

func (s *Session) handleCommand(cmd command) {
	var err error
	switch cmd.kind {
	case cmdConnect:
		s.connect(cmd.reply, false)
		return
	case cmdReconnect:
		s.connect(cmd.reply, true)
		return
	case cmdDisconnect:
		s.disconnect(cmd.reply)
		return
	case cmdStart:
		err = s.startConversation()
	case cmdStop:
		err = s.stopConversation()
	case cmdCommit:
		err = s.commit()
	default:
		err = fmt.Errorf("unknown command %d", cmd.kind)
	}
	cmd.reply <- err
}

func (s *Session) connect(reply chan error, reconnect bool) {
	if s.transport == nil {
		reply <- errNoTransport
		return
	}

	state := s.State()
	if state == StateFailed {
		reconnect = true
	}
	if state == StateConnecting {
		s.pendingConnect = append(s.pendingConnect, reply)
		return
	}
	if !reconnect && state != StateDisconnected {
		if state == StateConnected || state.Active() {
			reply <- nil
			return
		}
		reply <- &InvalidTransitionError{From: state, To: StateConnecting}
		return
	}

	reason := ""
	if reconnect {
		reason = "reconnect requested"
	}
	if err := s.transition(StateConnecting, reason); err != nil {
		reply <- err
		return
	}

	s.pendingConnect = append(s.pendingConnect, reply)
	s.resetConversation()
	s.runOp(opConnect, func(ctx context.Context) error {
		if reconnect {
			disconnectCtx, cancel := context.WithTimeout(ctx, disconnectTimeout)
			_ = s.transport.Disconnect(disconnectCtx)
			cancel()
		}
		return s.transport.Connect(ctx, s.endpoint, s.credential)
	})
}

func (s *Session) disconnect(reply chan error) {
	switch s.State() {
	case StateDisconnected:
		reply <- nil
		return
	case StateClosing:
		s.pendingDisconnect = append(s.pendingDisconnect, reply)
		return
	case StateStreaming, StateInterrupted:
		if err := s.stopConversation(); err != nil {
			s.logger.Warn("failed to stop conversation before disconnect", slog.Any("error", err))
		}
	}

	// An in-flight handshake is cancelled; its result moves the session on.
	wasConnecting := s.State() == StateConnecting
	if err := s.transition(StateClosing, "disconnect requested"); err != nil {
		reply <- err
		return
	}
	s.pendingDisconnect = append(s.pendingDisconnect, reply)
	if wasConnecting {
		if s.cancelOp != nil {
			s.cancelOp()
		}
		return
	}
	s.beginDisconnect()
}

func (s *Session) beginDisconnect() {
	s.runOp(opDisconnect, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		defer cancel()
		return s.transport.Disconnect(ctx)
	})
}

// runOp runs a blocking transport operation off the loop and posts its
// result back. Operations run one after another; starting one cancels the
// previous.
func (s *Session) runOp(kind opKind, fn func(context.Context) error) {
	if s.cancelOp != nil {
		s.cancelOp()
	}

	s.opGen++
	gen := s.opGen
	ctx, cancel := context.WithCancel(s.baseCtx)
	prev := s.opDone
	done := make(chan struct{})
	s.cancelOp = cancel
	s.opDone = done

	go func() {
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		err := fn(ctx)
		select {
		case s.results <- opResult{kind: kind, gen: gen, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Session) handleResult(res opResult) {
	if res.gen != s.opGen {
		return
	}
	s.cancelOp = nil

	switch res.kind {
	case opConnect:
		s.onConnectResult(res.err)
	case opDisconnect:
		if res.err != nil {
			s.logger.Warn("transport disconnect failed", slog.Any("error", res.err))
		}
		if s.State() == StateClosing {
			_ = s.transition(StateDisconnected, "")
			replyAll(&s.pendingDisconnect, nil)
		}
	}
}

func (s *Session) onConnectResult(err error) {
	switch s.State() {
	case StateConnecting:
		if err != nil {
			s.logger.Error("failed to connect", slog.Any("error", err))
			s.fail(err.Error())
			replyAll(&s.pendingConnect, err)
			return
		}
		_ = s.transition(StateConnected, "")
		replyAll(&s.pendingConnect, nil)
	case StateClosing:
		replyAll(&s.pendingConnect, ErrConnectAborted)
		s.beginDisconnect()
	default:
		replyAll(&s.pendingConnect, ErrConnectAborted)
	}
}

func (s *Session) startConversation() (err error) {
	ctx, span := tracer.Start(s.baseCtx, "start conversation")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	state := s.State()
	if state.Active() {
		return nil
	}
	if state != StateConnected {
		return &InvalidTransitionError{From: state, To: StateStreaming}
	}

	if err := s.output.Start(); err != nil {
		err = fmt.Errorf("failed to start playback: %w", err)
		s.fail(err.Error())
		return err
	}
	if err := s.transition(StateStreaming, ""); err != nil {
		_ = s.output.Stop()
		return err
	}
	if err := s.input.Capture(ctx); err != nil {
		err = fmt.Errorf("failed to start capture: %w", err)
		s.fail(err.Error())
		return err
	}

	if s.greeting != nil {
		if err := s.transport.Send(protocol.ResponseCreate{Response: s.greeting}); err != nil {
			s.logger.Warn("failed to request greeting", slog.Any("error", err))
		}
	}
	return nil
}

func (s *Session) stopConversation() error {
	state := s.State()
	if !state.Active() {
		if state == StateConnected {
			return nil
		}
		return ErrNotStreaming
	}

	_, span := tracer.Start(s.baseCtx, "stop conversation")
	defer span.End()

	var errs error
	if err := s.input.StopCapture(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to stop capture: %w", err))
	}
	s.drainFrames()

	_, played := s.output.Flush()
	if s.current.active && !s.current.done {
		s.sendInterrupt(played, span)
	}
	if err := s.transport.Send(protocol.AudioClear{}); err != nil {
		s.logger.Warn("failed to clear input audio buffer", slog.Any("error", err))
	}
	if err := s.output.Stop(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to stop playback: %w", err))
	}
	s.current = response{}

	if err := s.transition(StateConnected, "conversation stopped"); err != nil {
		errs = errors.Join(errs, err)
	}
	if errs != nil {
		span.RecordError(errs)
		span.SetStatus(codes.Error, errs.Error())
	}
	return errs
}

func (s *Session) commit() error {
	if !s.State().Active() {
		return ErrNotStreaming
	}
	if err := s.transport.Send(protocol.AudioCommit{}); err != nil {
		return fmt.Errorf("failed to commit input audio: %w", err)
	}
	if err := s.transport.Send(protocol.ResponseCreate{}); err != nil {
		return fmt.Errorf("failed to request response: %w", err)
	}
	return nil
}

// fail releases the audio devices and then reports Failed, so nothing is
// left running on the device threads once a failure is observable.
func (s *Session) fail(reason string) {
	state := s.State()
	switch state {
	case StateFailed, StateDisconnected:
		return
	case StateClosing:
		// A disconnect is already under way and its result completes it.
		s.logger.Debug("ignoring failure while disconnecting", slog.String("reason", reason))
		return
	}

	_, span := tracer.Start(s.baseCtx, "session failed", trace.WithAttributes(attribute.String("reason", reason)))
	defer span.End()
	span.SetStatus(codes.Error, reason)

	if err := s.input.StopCapture(); err != nil {
		s.logger.Warn("failed to stop capture", slog.Any("error", err))
	}
	s.drainFrames()
	s.output.Flush()
	if err := s.output.Stop(); err != nil {
		s.logger.Warn("failed to stop playback", slog.Any("error", err))
	}
	s.current = response{}

	if err := s.transition(StateFailed, reason); err != nil {
		s.logger.Error("failed to report failure", slog.Any("error", err))
		return
	}
	replyAll(&s.pendingDisconnect, errors.New(reason))
	if state != StateConnecting {
		s.beginDisconnect()
	}
}

func (s *Session) forwardFrame(frame audio.Frame) {
	defer frame.Release()

	if !s.State().Active() {
		return
	}
	if !s.allowInterruptions.Load() && s.assistantSpeaking() {
		return
	}

	if err := s.transport.Send(protocol.AudioAppend{Frame: frame}); err != nil {
		droppedCaptureFrames.Add(context.Background(), 1, droppedFrameReason("transport"))
		if now := time.Now(); now.Sub(s.lastDropWarn) >= dropWarnInterval {
			s.lastDropWarn = now
			s.logger.Warn("dropping captured audio", slog.Any("error", err))
		}
	}
}

func (s *Session) drainFrames() {
	for {
		select {
		case frame := <-s.frames:
			frame.Release()
		default:
			return
		}
	}
}

// assistantSpeaking reports whether a response is still generating or its
// audio is still playing.
func (s *Session) assistantSpeaking() bool {
	return (s.current.active && !s.current.done) || s.output.Buffered() > 0
}

func (s *Session) resetConversation() {
	s.current = response{}
	clear(s.cancelled)
}

func (s *Session) transition(to SessionState, reason string) error {
	from := s.State()
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	s.state.Store(int32(to))

	attrs := []slog.Attr{slog.String("from", from.String()), slog.String("to", to.String())}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	level := slog.LevelInfo
	if to == StateFailed {
		level = slog.LevelError
	}
	s.logger.LogAttrs(s.baseCtx, level, "session state changed", attrs...)

	s.emitter.emit(events.NewSessionStateChanged(from.String(), to.String(), reason))
	return nil
}

func (s *Session) shutdown() {
	if s.cancelOp != nil {
		s.cancelOp()
	}

	if err := s.input.StopCapture(); err != nil {
		s.logger.Warn("failed to stop capture", slog.Any("error", err))
	}
	s.drainFrames()
	if s.output.IsConfigured() {
		s.output.Flush()
		if err := s.output.Stop(); err != nil {
			s.logger.Warn("failed to stop playback", slog.Any("error", err))
		}
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("failed to close transport", slog.Any("error", err))
			s.closeErr = fmt.Errorf("failed to close transport: %w", err)
		}
	}
	s.cancelBase()

	replyAll(&s.pendingConnect, ErrSessionClosed)
	replyAll(&s.pendingDisconnect, ErrSessionClosed)
	s.emitter.close()
}

func replyAll(pending *[]chan error, err error) {
	for _, reply := range *pending {
		reply <- err
	}
	*pending = nil
}

func droppedFrameReason(reason string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}
