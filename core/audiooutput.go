package orchestration

import (
	"errors"
	"reflect"
	"sync"

	"github.com/koscakluka/ema-realtime/core/audio"
)

var errNoPlayback = errors.New("no audio playback sink configured")

// audioOutput wraps the playback sink and remembers how much audio of the
// current response was handed to it, which is what an interruption needs to
// work out how much the user actually heard.
type audioOutput struct {
	mu      sync.Mutex
	sink    AudioPlaybackSink
	running bool

	enqueued int
}

func newAudioOutput() *audioOutput {
	return &audioOutput{}
}

// Set replaces the sink. Nil and typed-nil sinks leave output unconfigured.
func (a *audioOutput) Set(sink AudioPlaybackSink) {
	if a == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = nil
	a.running = false
	a.enqueued = 0
	if isNilPlaybackSink(sink) {
		return
	}
	a.sink = sink
}

func (a *audioOutput) IsConfigured() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink != nil
}

func (a *audioOutput) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil {
		return errNoPlayback
	}
	if a.running {
		return nil
	}
	if err := a.sink.Start(); err != nil {
		return err
	}
	a.running = true
	return nil
}

func (a *audioOutput) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil || !a.running {
		return nil
	}
	a.running = false
	a.enqueued = 0
	return a.sink.Stop()
}

// Enqueue hands data to the sink. Data is copied so the caller may reuse it.
func (a *audioOutput) Enqueue(seq uint64, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil || !a.running {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	a.sink.Enqueue(audio.NewFrame(seq, audio.DirectionPlayback, buf))
	a.enqueued += len(data)
}

// Flush discards everything the sink still holds. It reports the bytes
// discarded and the bytes of the current response that were played.
func (a *audioOutput) Flush() (discarded, played int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil {
		return 0, 0
	}
	discarded = a.sink.Flush()
	played = max(a.enqueued-discarded, 0)
	a.enqueued = 0
	return discarded, played
}

// ResetResponse starts accounting for a new response.
func (a *audioOutput) ResetResponse() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enqueued = 0
}

func (a *audioOutput) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil || !a.running {
		return 0
	}
	return a.sink.Buffered()
}

func isNilPlaybackSink(sink AudioPlaybackSink) bool {
	if sink == nil {
		return true
	}

	v := reflect.ValueOf(sink)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
