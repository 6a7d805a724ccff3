package orchestration

import (
	"testing"
	"time"

	"github.com/koscakluka/ema-realtime/core/events"
)

func TestEventEmitterDropsForSlowSubscriber(t *testing.T) {
	emitter := newEventEmitter()
	slow, _ := emitter.subscribe(1)
	fast, _ := emitter.subscribe(8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 5 {
			emitter.emit(events.NewUserSpeechStarted("", 0))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected emit not to block on a full subscriber")
	}
	if got := len(slow); got != 1 {
		t.Fatalf("expected slow subscriber to hold 1 event, got %d", got)
	}
	if got := len(fast); got != 5 {
		t.Fatalf("expected fast subscriber to hold 5 events, got %d", got)
	}
}

func TestEventEmitterUnsubscribeClosesChannel(t *testing.T) {
	emitter := newEventEmitter()
	ch, cancel := emitter.subscribe(1)

	cancel()
	cancel()
	emitter.emit(events.NewUserSpeechEnded("", 0))

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestEventEmitterInvokesTypedCallbacks(t *testing.T) {
	emitter := newEventEmitter()
	var speaking []bool
	var from, to SessionState
	emitter.addCallbacks(EventCallbacks{
		OnUserSpeaking: func(isSpeaking bool) { speaking = append(speaking, isSpeaking) },
		OnStateChange: func(f, s SessionState, _ string) {
			from, to = f, s
		},
	})

	emitter.emit(events.NewUserSpeechStarted("item", 0))
	emitter.emit(events.NewUserSpeechEnded("item", 10))
	emitter.emit(events.NewSessionStateChanged("streaming", "interrupted", ""))

	if len(speaking) != 2 || !speaking[0] || speaking[1] {
		t.Fatalf("expected speaking [true false], got %v", speaking)
	}
	if from != StateStreaming || to != StateInterrupted {
		t.Fatalf("expected streaming -> interrupted, got %s -> %s", from, to)
	}
}

func TestEventEmitterSubscribeAfterClose(t *testing.T) {
	emitter := newEventEmitter()
	emitter.close()

	ch, _ := emitter.subscribe(1)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after emitter close")
	}
}
