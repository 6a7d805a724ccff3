package orchestration

import (
	"context"
	"errors"
	"testing"

	"github.com/koscakluka/ema-realtime/core/audio"
)

func TestAudioInputCaptureIsIdempotent(t *testing.T) {
	source := &testCapture{}
	input := newAudioInput(nil)
	input.Set(source)

	for range 3 {
		if err := input.Capture(context.Background()); err != nil {
			t.Fatalf("expected capture to start, got %v", err)
		}
	}
	if got := source.starts.Load(); got != 1 {
		t.Fatalf("expected one device start, got %d", got)
	}
	if !input.IsCapturing() {
		t.Fatalf("expected input to report capturing")
	}

	for range 2 {
		if err := input.StopCapture(); err != nil {
			t.Fatalf("expected stop to succeed, got %v", err)
		}
	}
	if got := source.stops.Load(); got != 1 {
		t.Fatalf("expected one device stop, got %d", got)
	}
}

func TestAudioInputForwardsFrames(t *testing.T) {
	source := &testCapture{}
	var got []uint64
	input := newAudioInput(func(f audio.Frame) { got = append(got, f.Seq) })
	input.Set(source)

	if err := input.Capture(context.Background()); err != nil {
		t.Fatalf("expected capture to start, got %v", err)
	}
	source.emit(1)
	source.emit(2)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected frames [1 2], got %v", got)
	}
}

func TestAudioInputStartFailureAllowsRetry(t *testing.T) {
	source := &testCapture{startErr: audio.ErrDeviceUnavailable}
	input := newAudioInput(nil)
	input.Set(source)

	if err := input.Capture(context.Background()); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected device error, got %v", err)
	}
	if input.IsCapturing() {
		t.Fatalf("expected input not to be capturing after a failed start")
	}

	source.mu.Lock()
	source.startErr = nil
	source.mu.Unlock()
	if err := input.Capture(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestAudioInputWithoutSource(t *testing.T) {
	input := newAudioInput(nil)

	if input.IsConfigured() {
		t.Fatalf("expected input without source to be unconfigured")
	}
	if err := input.Capture(context.Background()); !errors.Is(err, errNoCapture) {
		t.Fatalf("expected errNoCapture, got %v", err)
	}
}
