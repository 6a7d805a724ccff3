package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-realtime/core/audio"
)

var errNoCapture = errors.New("no audio capture source configured")

// audioInput guards a capture source so that at most one capture is running
// no matter how often the session starts and stops conversations.
type audioInput struct {
	mu     sync.Mutex
	source AudioCaptureSource

	// isCapturing flips before the device is touched so concurrent callers
	// cannot both start it.
	isCapturing atomic.Bool
	cancel      context.CancelFunc

	onFrame func(audio.Frame)
}

func newAudioInput(onFrame func(audio.Frame)) *audioInput {
	if onFrame == nil {
		onFrame = func(f audio.Frame) { f.Release() }
	}
	return &audioInput{onFrame: onFrame}
}

func (a *audioInput) Set(source AudioCaptureSource) {
	if a == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = source
	a.isCapturing.Store(false)
}

func (a *audioInput) IsConfigured() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.source != nil
}

func (a *audioInput) IsCapturing() bool { return a != nil && a.isCapturing.Load() }

// Capture starts the source. Calling it while already capturing is a no-op.
func (a *audioInput) Capture(ctx context.Context) error {
	if a == nil {
		return errNoCapture
	}

	if !a.isCapturing.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source == nil {
		a.isCapturing.Store(false)
		return errNoCapture
	}

	captureCtx, cancel := context.WithCancel(ctx)
	if err := a.source.Start(captureCtx, a.onFrame); err != nil {
		cancel()
		a.isCapturing.Store(false)
		return err
	}
	a.cancel = cancel
	return nil
}

// StopCapture halts the source. No frame is delivered after it returns.
func (a *audioInput) StopCapture() error {
	if a == nil || !a.isCapturing.CompareAndSwap(true, false) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.source == nil {
		return nil
	}
	return a.source.Stop()
}
