package orchestration

import (
	"context"
	"sync"

	"github.com/koscakluka/ema-realtime/core/events"
)

// EventCallbacks are optional typed hooks mirroring the event stream.
type EventCallbacks struct {
	OnStateChange      func(from, to SessionState, reason string)
	OnUserSpeaking     func(isSpeaking bool)
	OnUserTranscript   func(transcript string)
	OnTranscript       func(transcript string)
	OnTranscriptDelta  func(delta string)
	OnInterrupted      func(discardedBytes, playedMS int)
	OnError            func(code, message string)
	OnConnectionStatus func(status string, attempt int, err error)
}

func newCallbackEventEmitter(cb EventCallbacks) func(events.Event) {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.SessionStateChanged:
			if cb.OnStateChange != nil {
				from, _ := ParseSessionState(typedEvent.From)
				to, _ := ParseSessionState(typedEvent.To)
				cb.OnStateChange(from, to, typedEvent.Reason)
			}
		case events.UserSpeechStarted:
			if cb.OnUserSpeaking != nil {
				cb.OnUserSpeaking(true)
			}
		case events.UserSpeechEnded:
			if cb.OnUserSpeaking != nil {
				cb.OnUserSpeaking(false)
			}
		case events.UserTranscriptFinal:
			if cb.OnUserTranscript != nil {
				cb.OnUserTranscript(typedEvent.Transcript)
			}
		case events.AssistantTranscriptUpdated:
			if cb.OnTranscript != nil {
				cb.OnTranscript(typedEvent.Transcript)
			}
		case events.AssistantTranscriptSegment:
			if cb.OnTranscriptDelta != nil {
				cb.OnTranscriptDelta(typedEvent.Segment)
			}
		case events.AssistantPlaybackInterrupted:
			if cb.OnInterrupted != nil {
				cb.OnInterrupted(typedEvent.DiscardedBytes, typedEvent.PlayedMS)
			}
		case events.SessionError:
			if cb.OnError != nil {
				cb.OnError(typedEvent.Code, typedEvent.Message)
			}
		case events.ConnectionStatus:
			if cb.OnConnectionStatus != nil {
				cb.OnConnectionStatus(typedEvent.Status, typedEvent.Attempt, typedEvent.Err)
			}
		}
	}
}

// eventEmitter fans events out to callbacks and channel subscribers. A
// subscriber that is not keeping up loses events instead of stalling the
// session loop.
type eventEmitter struct {
	mu          sync.Mutex
	callbacks   []func(events.Event)
	subscribers map[int]chan events.Event
	nextID      int
	closed      bool
}

func newEventEmitter() *eventEmitter {
	return &eventEmitter{subscribers: map[int]chan events.Event{}}
}

func (e *eventEmitter) addCallbacks(cb EventCallbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, newCallbackEventEmitter(cb))
}

func (e *eventEmitter) subscribe(buffer int) (<-chan events.Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan events.Event, max(buffer, 1))
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextID
	e.nextID++
	e.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subscribers[id]; ok {
				delete(e.subscribers, id)
				close(sub)
			}
		})
	}
}

func (e *eventEmitter) emit(event events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	for _, cb := range e.callbacks {
		cb(event)
	}
	for _, sub := range e.subscribers {
		select {
		case sub <- event:
		default:
			droppedNotifications.Add(context.Background(), 1)
		}
	}
}

func (e *eventEmitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, sub := range e.subscribers {
		delete(e.subscribers, id)
		close(sub)
	}
}
