package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"github.com/koscakluka/ema-realtime/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (s *Session) handleServerEvent(ev protocol.ServerEvent) {
	switch e := ev.(type) {
	case protocol.SessionCreated:
		s.logger.Info("realtime session created", slog.String("session_id", e.SessionID), slog.String("model", e.Model))
		if err := s.transport.Send(protocol.SessionUpdate{Session: s.sessionConfig}); err != nil {
			s.logger.Error("failed to configure session", slog.Any("error", err))
		}

	case protocol.SessionUpdated:
		s.logger.Debug("realtime session configured")

	case protocol.ResponseCreated:
		if !s.State().Active() {
			return
		}
		s.current = response{id: e.ResponseID, active: true}
		s.output.ResetResponse()
		s.emitter.emit(events.NewAssistantResponseStarted(e.ResponseID))

	case protocol.AudioDelta:
		s.onAudioDelta(e)

	case protocol.AudioDone:
		s.logger.Debug("assistant audio complete", slog.String("response_id", e.ResponseID))

	case protocol.TranscriptDelta:
		if s.isCancelled(e.ResponseID) || !s.State().Active() {
			return
		}
		transcript := s.transcript.AddChunk(e.Delta)
		s.emitter.emit(events.NewAssistantTranscriptSegment(e.ResponseID, e.Delta))
		s.emitter.emit(events.NewAssistantTranscriptUpdated(transcript))

	case protocol.InputTranscriptCompleted:
		s.emitter.emit(events.NewUserTranscriptFinal(e.ItemID, e.Transcript))

	case protocol.ResponseDone:
		if s.current.id == e.ResponseID {
			s.current.done = true
		}
		delete(s.cancelled, e.ResponseID)
		s.emitter.emit(events.NewAssistantResponseDone(e.ResponseID, e.Status))

	case protocol.SpeechStarted:
		s.emitter.emit(events.NewUserSpeechStarted(e.ItemID, e.AudioStartMS))
		if s.State() == StateStreaming && s.allowInterruptions.Load() && s.assistantSpeaking() {
			s.interrupt()
		}

	case protocol.SpeechStopped:
		s.emitter.emit(events.NewUserSpeechEnded(e.ItemID, e.AudioEndMS))
		if s.State() == StateInterrupted {
			_ = s.transition(StateStreaming, "user finished speaking")
		}

	case protocol.ItemTruncated:
		s.logger.Debug("assistant item truncated", slog.String("item_id", e.ItemID), slog.Int("audio_end_ms", e.AudioEndMS))

	case protocol.ErrorEvent:
		s.onServerError(e)

	case protocol.Unknown:
		s.logger.Debug("ignoring server event", slog.String("type", e.Type))
	}
}

func (s *Session) onAudioDelta(e protocol.AudioDelta) {
	// Audio for a cut-off turn must never reach the speaker.
	if s.State() != StateStreaming || s.isCancelled(e.ResponseID) {
		droppedAssistantDeltas.Add(context.Background(), 1)
		return
	}

	if e.ResponseID != s.current.id || !s.current.active {
		s.current = response{id: e.ResponseID, active: true}
		s.output.ResetResponse()
	}
	s.current.itemID = e.ItemID
	s.current.contentIndex = e.ContentIndex

	s.playbackSeq++
	s.output.Enqueue(s.playbackSeq, e.Audio)
}

func (s *Session) isCancelled(responseID string) bool {
	_, ok := s.cancelled[responseID]
	return ok
}

// interrupt silences the assistant first and only then tells the server, so
// no audio of the superseded turn is rendered after the user started talking.
func (s *Session) interrupt() {
	_, span := tracer.Start(s.baseCtx, "interrupt assistant")
	defer span.End()

	discarded, played := s.output.Flush()
	interrupted := s.current
	playedMS := s.sendInterrupt(played, span)

	if err := s.transition(StateInterrupted, "user started speaking"); err != nil {
		s.logger.Error("failed to enter interrupted state", slog.Any("error", err))
		return
	}

	interruptions.Add(context.Background(), 1)
	span.SetAttributes(
		attribute.String("response.id", interrupted.id),
		attribute.Int("playback.discarded_bytes", discarded),
		attribute.Int("playback.played_ms", playedMS),
	)
	s.logger.Info("assistant interrupted",
		slog.String("response_id", interrupted.id),
		slog.Int("discarded_bytes", discarded),
		slog.Int("played_ms", playedMS))
	s.emitter.emit(events.NewAssistantPlaybackInterrupted(interrupted.id, interrupted.itemID, discarded, playedMS))
}

// sendInterrupt cancels the current response and marks it so late deltas
// are discarded. It returns how many milliseconds of it were heard.
func (s *Session) sendInterrupt(playedBytes int, span trace.Span) int {
	playedMS := int(s.encoding.Duration(playedBytes) / time.Millisecond)

	current := s.current
	if current.id != "" {
		s.cancelled[current.id] = struct{}{}
	}
	s.current = response{}

	msg := protocol.InterruptResponse{
		ResponseID:   current.id,
		ItemID:       current.itemID,
		ContentIndex: current.contentIndex,
		AudioEndMS:   playedMS,
	}
	if current.done {
		// Nothing to cancel; only trim what was not heard.
		msg.ResponseID = ""
	}
	if err := s.transport.Send(msg); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to send interrupt", slog.Any("error", err))
	}
	span.AddEvent("interrupt sent", trace.WithAttributes(attribute.String("response.id", current.id)))
	return playedMS
}

func (s *Session) onServerError(e protocol.ErrorEvent) {
	switch {
	case e.Code == protocol.CodeResponseCancelNotActive:
		s.logger.Debug("nothing to cancel", slog.String("message", e.Message))
		return
	case protocol.IsAuthError(e):
		s.emitter.emit(events.NewSessionError(e.Code, e.Message))
		s.fail(transport.ErrAuthRejected.Error() + ": " + e.Message)
		return
	}

	s.logger.Warn("server error", slog.String("code", e.Code), slog.String("message", e.Message))
	s.emitter.emit(events.NewSessionError(e.Code, e.Message))
}

func (s *Session) handleStatus(st transport.StatusEvent) {
	switch st.Status {
	case transport.StatusReconnecting:
		s.logger.Warn("connection interrupted, reconnecting", slog.Int("attempt", st.Attempt), slog.Any("error", st.Err))
		s.abandonResponse()
	case transport.StatusReconnected:
		s.logger.Info("connection restored")
		s.abandonResponse()
	case transport.StatusConnectionLost:
		err := st.Err
		if err == nil {
			err = transport.ErrConnectionLost
		}
		if !errors.Is(err, transport.ErrConnectionLost) {
			err = errors.Join(transport.ErrConnectionLost, err)
		}
		s.fail(err.Error())
	}

	s.emitter.emit(events.NewConnectionStatus(st.Status.String(), st.Attempt, st.Err))
}

// abandonResponse forgets the in-flight response once the server session it
// belonged to is gone. The new session never finishes it.
func (s *Session) abandonResponse() {
	if !s.State().Active() {
		return
	}

	discarded, _ := s.output.Flush()
	if s.current.id != "" {
		s.cancelled[s.current.id] = struct{}{}
		s.logger.Debug("abandoned response after reconnect",
			slog.String("response_id", s.current.id),
			slog.Int("discarded_bytes", discarded))
	}
	s.current = response{}

	// The old session will not report the end of user speech either.
	if s.State() == StateInterrupted {
		_ = s.transition(StateStreaming, "connection restored")
	}
}
