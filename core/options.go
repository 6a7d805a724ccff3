package orchestration

import (
	"context"
	"log/slog"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"github.com/koscakluka/ema-realtime/core/transport"
)

type SessionOption func(*Session)

// AudioCaptureSource produces microphone frames. onFrame is called on the
// device thread and must not block.
type AudioCaptureSource interface {
	Start(ctx context.Context, onFrame func(audio.Frame)) error
	Stop() error
}

// AudioPlaybackSink renders assistant audio.
type AudioPlaybackSink interface {
	Start() error
	Stop() error
	Enqueue(frame audio.Frame)
	// Flush discards unplayed audio, returning the bytes discarded, and
	// returns once the device no longer renders them.
	Flush() int
	Buffered() int
}

// Transport carries protocol messages to and from the realtime service.
type Transport interface {
	Connect(ctx context.Context, endpoint, credential string) error
	Send(msg protocol.OutboundMessage) error
	Events() <-chan protocol.ServerEvent
	Status() <-chan transport.StatusEvent
	Disconnect(ctx context.Context) error
	Close() error
}

func WithAudioCapture(source AudioCaptureSource) SessionOption {
	return func(s *Session) {
		s.input.Set(source)
	}
}

func WithAudioPlayback(sink AudioPlaybackSink) SessionOption {
	return func(s *Session) {
		s.output.Set(sink)
	}
}

func WithTransport(t Transport) SessionOption {
	return func(s *Session) {
		s.transport = t
	}
}

// WithEndpoint sets the websocket URL and the credential presented to it.
func WithEndpoint(endpoint, credential string) SessionOption {
	return func(s *Session) {
		s.endpoint = endpoint
		s.credential = credential
	}
}

// WithSessionConfig sets what is sent in session.update whenever the server
// opens a session. A nil TurnDetection puts the session in manual turn mode.
func WithSessionConfig(cfg protocol.SessionConfig) SessionOption {
	return func(s *Session) {
		s.sessionConfig = cfg
	}
}

// WithGreeting makes every started conversation open with a response
// created from cfg.
func WithGreeting(cfg protocol.ResponseConfig) SessionOption {
	return func(s *Session) {
		s.greeting = &cfg
	}
}

// WithAllowInterruptions controls whether user speech may cut the assistant
// off. When disabled the microphone is not forwarded while the assistant is
// talking. Defaults to true.
func WithAllowInterruptions(allow bool) SessionOption {
	return func(s *Session) {
		s.allowInterruptions.Store(allow)
	}
}

// WithTranscriptLimit bounds the rolling assistant transcript. When it grows
// past limit, trim characters are dropped from the front.
func WithTranscriptLimit(limit, trim int) SessionOption {
	return func(s *Session) {
		s.transcript = newTextBuffer(limit, trim)
	}
}

// WithCaptureQueue sets how many captured frames may wait for the session
// before new ones are dropped.
func WithCaptureQueue(size int) SessionOption {
	return func(s *Session) {
		if size > 0 {
			s.frames = make(chan audio.Frame, size)
		}
	}
}

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventCallbacks registers typed callbacks invoked from the session
// loop. They must return quickly.
func WithEventCallbacks(callbacks EventCallbacks) SessionOption {
	return func(s *Session) {
		s.emitter.addCallbacks(callbacks)
	}
}
