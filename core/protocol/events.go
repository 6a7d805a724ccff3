package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ServerEvent is a decoded inbound event.
type ServerEvent interface {
	EventType() string
}

type SessionCreated struct {
	SessionID string
	Model     string
}

type SessionUpdated struct{}

// SpeechStarted is the server VAD detecting the user talking.
type SpeechStarted struct {
	ItemID       string
	AudioStartMS int
}

type SpeechStopped struct {
	ItemID     string
	AudioEndMS int
}

type ResponseCreated struct {
	ResponseID string
}

type AudioDelta struct {
	ResponseID   string
	ItemID       string
	OutputIndex  int
	ContentIndex int
	Audio        []byte
}

type AudioDone struct {
	ResponseID string
	ItemID     string
}

// TranscriptDelta is text of the assistant audio as it is generated.
type TranscriptDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

// InputTranscriptCompleted is the server transcription of a user turn.
type InputTranscriptCompleted struct {
	ItemID     string
	Transcript string
}

type ResponseDone struct {
	ResponseID string
	Status     string
}

type ItemTruncated struct {
	ItemID     string
	AudioEndMS int
}

type ErrorEvent struct {
	Code    string
	Message string
	Type    string
	Param   string
	EventID string
}

func (e ErrorEvent) Error() string {
	if e.Code == "" {
		return "server error: " + e.Message
	}
	return "server error " + e.Code + ": " + e.Message
}

// Unknown is any event type the client does not act on.
type Unknown struct {
	Type string
}

func (SessionCreated) EventType() string           { return "session.created" }
func (SessionUpdated) EventType() string           { return "session.updated" }
func (SpeechStarted) EventType() string            { return "input_audio_buffer.speech_started" }
func (SpeechStopped) EventType() string            { return "input_audio_buffer.speech_stopped" }
func (ResponseCreated) EventType() string          { return "response.created" }
func (AudioDelta) EventType() string               { return "response.audio.delta" }
func (AudioDone) EventType() string                { return "response.audio.done" }
func (TranscriptDelta) EventType() string          { return "response.audio_transcript.delta" }
func (InputTranscriptCompleted) EventType() string { return "conversation.item.input_audio_transcription.completed" }
func (ResponseDone) EventType() string             { return "response.done" }
func (ItemTruncated) EventType() string            { return "conversation.item.truncated" }
func (ErrorEvent) EventType() string               { return "error" }
func (u Unknown) EventType() string                { return u.Type }

type inboundWire struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
	Transcript   string `json:"transcript"`
	AudioStartMS int    `json:"audio_start_ms"`
	AudioEndMS   int    `json:"audio_end_ms"`

	Session *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"session"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
		EventID string `json:"event_id"`
	} `json:"error"`
}

// DecodeEvent parses one inbound text frame. Frames that are not JSON
// objects with a type, or whose payload is unusable, yield a *ProtocolError.
func DecodeEvent(data []byte) (ServerEvent, error) {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Reason: "invalid json", Err: err}
	}
	if w.Type == "" {
		return nil, &ProtocolError{Reason: "missing event type"}
	}

	switch w.Type {
	case "session.created":
		ev := SessionCreated{}
		if w.Session != nil {
			ev.SessionID, ev.Model = w.Session.ID, w.Session.Model
		}
		return ev, nil
	case "session.updated":
		return SessionUpdated{}, nil
	case "input_audio_buffer.speech_started":
		return SpeechStarted{ItemID: w.ItemID, AudioStartMS: w.AudioStartMS}, nil
	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{ItemID: w.ItemID, AudioEndMS: w.AudioEndMS}, nil
	case "response.created":
		if w.Response == nil {
			return nil, &ProtocolError{Reason: "response.created without response"}
		}
		return ResponseCreated{ResponseID: w.Response.ID}, nil
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(w.Delta)
		if err != nil {
			return nil, &ProtocolError{Reason: "invalid audio delta", Err: err}
		}
		return AudioDelta{
			ResponseID:   w.ResponseID,
			ItemID:       w.ItemID,
			OutputIndex:  w.OutputIndex,
			ContentIndex: w.ContentIndex,
			Audio:        pcm,
		}, nil
	case "response.audio.done":
		return AudioDone{ResponseID: w.ResponseID, ItemID: w.ItemID}, nil
	case "response.audio_transcript.delta", "response.text.delta":
		return TranscriptDelta{ResponseID: w.ResponseID, ItemID: w.ItemID, Delta: w.Delta}, nil
	case "conversation.item.input_audio_transcription.completed":
		return InputTranscriptCompleted{ItemID: w.ItemID, Transcript: w.Transcript}, nil
	case "response.done":
		if w.Response == nil {
			return nil, &ProtocolError{Reason: "response.done without response"}
		}
		return ResponseDone{ResponseID: w.Response.ID, Status: w.Response.Status}, nil
	case "conversation.item.truncated":
		return ItemTruncated{ItemID: w.ItemID, AudioEndMS: w.AudioEndMS}, nil
	case "error":
		if w.Error == nil {
			return nil, &ProtocolError{Reason: "error event without error"}
		}
		return ErrorEvent{
			Code:    w.Error.Code,
			Message: w.Error.Message,
			Type:    w.Error.Type,
			Param:   w.Error.Param,
			EventID: w.Error.EventID,
		}, nil
	}

	return Unknown{Type: w.Type}, nil
}

// AsProtocolError unwraps err to a *ProtocolError.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	ok := errors.As(err, &pe)
	return pe, ok
}
