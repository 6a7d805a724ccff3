package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-realtime/core/audio"
)

// OutboundMessage is one of Authenticate, AudioAppend, AudioCommit,
// AudioClear, InterruptResponse, SessionUpdate or ResponseCreate.
type OutboundMessage interface {
	outbound()
}

// Authenticate carries the credential. It travels as handshake headers and
// is never framed.
type Authenticate struct {
	Credential string
}

type AudioAppend struct {
	Frame audio.Frame
}

type AudioCommit struct{}

// AudioClear drops audio the server buffered but has not committed.
type AudioClear struct{}

// InterruptResponse cancels the in-flight response and, when ItemID is set,
// truncates the assistant item to what the user actually heard.
type InterruptResponse struct {
	ResponseID   string
	ItemID       string
	ContentIndex int
	AudioEndMS   int
}

type SessionUpdate struct {
	Session SessionConfig
}

// ResponseCreate asks the server for a response. Response may be nil to use
// the session defaults.
type ResponseCreate struct {
	Response *ResponseConfig
}

func (Authenticate) outbound()      {}
func (AudioAppend) outbound()       {}
func (AudioCommit) outbound()       {}
func (AudioClear) outbound()        {}
func (InterruptResponse) outbound() {}
func (SessionUpdate) outbound()     {}
func (ResponseCreate) outbound()    {}

// Name is used for logs and span attributes.
func Name(msg OutboundMessage) string {
	switch msg.(type) {
	case Authenticate:
		return "authenticate"
	case AudioAppend:
		return "input_audio_buffer.append"
	case AudioCommit:
		return "input_audio_buffer.commit"
	case AudioClear:
		return "input_audio_buffer.clear"
	case InterruptResponse:
		return "response.cancel"
	case SessionUpdate:
		return "session.update"
	case ResponseCreate:
		return "response.create"
	}
	return fmt.Sprintf("%T", msg)
}

type envelope struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func newEnvelope(eventType string) envelope {
	return envelope{EventID: "evt_" + uuid.NewString(), Type: eventType}
}

type audioAppendWire struct {
	envelope
	Audio string `json:"audio"`
}

type sessionUpdateWire struct {
	envelope
	Session SessionConfig `json:"session"`
}

type responseCreateWire struct {
	envelope
	Response *ResponseConfig `json:"response,omitempty"`
}

type responseCancelWire struct {
	envelope
	ResponseID string `json:"response_id,omitempty"`
}

type itemTruncateWire struct {
	envelope
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

// Encode renders msg as the websocket text frames to send, in order.
func Encode(msg OutboundMessage) ([][]byte, error) {
	var frames []any
	switch m := msg.(type) {
	case AudioAppend:
		frames = append(frames, audioAppendWire{
			envelope: newEnvelope("input_audio_buffer.append"),
			Audio:    base64.StdEncoding.EncodeToString(m.Frame.Data),
		})
	case AudioCommit:
		frames = append(frames, newEnvelope("input_audio_buffer.commit"))
	case AudioClear:
		frames = append(frames, newEnvelope("input_audio_buffer.clear"))
	case InterruptResponse:
		frames = append(frames, responseCancelWire{
			envelope:   newEnvelope("response.cancel"),
			ResponseID: m.ResponseID,
		})
		if m.ItemID != "" {
			frames = append(frames, itemTruncateWire{
				envelope:     newEnvelope("conversation.item.truncate"),
				ItemID:       m.ItemID,
				ContentIndex: m.ContentIndex,
				AudioEndMS:   max(m.AudioEndMS, 0),
			})
		}
	case SessionUpdate:
		frames = append(frames, sessionUpdateWire{
			envelope: newEnvelope("session.update"),
			Session:  m.Session,
		})
	case ResponseCreate:
		frames = append(frames, responseCreateWire{
			envelope: newEnvelope("response.create"),
			Response: m.Response,
		})
	case Authenticate:
		return nil, ErrNotWireMessage
	default:
		return nil, fmt.Errorf("unsupported outbound message %T", msg)
	}

	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		data, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", Name(msg), err)
		}
		out = append(out, data)
	}
	return out, nil
}
