package orchestration

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-realtime/core/audio"
)

func TestAudioOutputTracksPlayedAudio(t *testing.T) {
	sink := &testPlayback{log: &callLog{}}
	output := newAudioOutput()
	output.Set(sink)

	if err := output.Start(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	output.Enqueue(1, make([]byte, 960))
	output.Enqueue(2, make([]byte, 960))
	sink.play(1000)

	discarded, played := output.Flush()
	if discarded != 920 || played != 1000 {
		t.Fatalf("expected 920 discarded and 1000 played, got %d and %d", discarded, played)
	}

	if _, played := output.Flush(); played != 0 {
		t.Fatalf("expected accounting to reset after flush, got %d played", played)
	}
}

func TestAudioOutputCountsOnlyCurrentResponseAsPlayed(t *testing.T) {
	tests := []struct {
		name          string
		play          int
		wantDiscarded int
		wantPlayed    int
	}{
		{name: "previous response still playing", play: 400, wantDiscarded: 1520, wantPlayed: 0},
		{name: "previous response finished", play: 1200, wantDiscarded: 720, wantPlayed: 240},
		{name: "everything played", play: 1920, wantDiscarded: 0, wantPlayed: 960},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &testPlayback{log: &callLog{}}
			output := newAudioOutput()
			output.Set(sink)
			if err := output.Start(); err != nil {
				t.Fatalf("expected start to succeed, got %v", err)
			}

			output.Enqueue(1, make([]byte, 960))
			output.ResetResponse()
			output.Enqueue(2, make([]byte, 960))
			sink.play(tt.play)

			discarded, played := output.Flush()
			if discarded != tt.wantDiscarded || played != tt.wantPlayed {
				t.Fatalf("expected %d discarded and %d played, got %d and %d", tt.wantDiscarded, tt.wantPlayed, discarded, played)
			}
		})
	}
}

func TestAudioOutputDropsAudioWhenStopped(t *testing.T) {
	sink := &testPlayback{log: &callLog{}}
	output := newAudioOutput()
	output.Set(sink)

	output.Enqueue(1, make([]byte, 960))
	if got := sink.enqueued(); got != 0 {
		t.Fatalf("expected nothing enqueued before start, got %d", got)
	}
	if got := output.Buffered(); got != 0 {
		t.Fatalf("expected nothing buffered, got %d", got)
	}
}

func TestAudioOutputCopiesEnqueuedData(t *testing.T) {
	sink := &recordingSink{}
	output := newAudioOutput()
	output.Set(sink)
	_ = output.Start()

	data := []byte{1, 2, 3, 4}
	output.Enqueue(1, data)
	data[0] = 9

	if sink.last[0] != 1 {
		t.Fatalf("expected sink to receive a copy, got %v", sink.last)
	}
}

func TestAudioOutputTreatsTypedNilAsUnconfigured(t *testing.T) {
	var sink *testPlayback
	output := newAudioOutput()
	output.Set(sink)

	if output.IsConfigured() {
		t.Fatalf("expected typed nil sink to be unconfigured")
	}
	if err := output.Start(); !errors.Is(err, errNoPlayback) {
		t.Fatalf("expected errNoPlayback, got %v", err)
	}
}

type recordingSink struct {
	last []byte
}

func (s *recordingSink) Start() error { return nil }
func (s *recordingSink) Stop() error  { return nil }
func (s *recordingSink) Enqueue(frame audio.Frame) {
	s.last = frame.Data
}
func (s *recordingSink) Flush() int    { return 0 }
func (s *recordingSink) Buffered() int { return 0 }
