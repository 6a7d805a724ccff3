package audio

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// PlaybackBuffer sits between the code that enqueues assistant audio and a
// device render callback. Render is safe to call from a realtime thread: it
// never waits on a lock and renders silence when contended.
//
// Flush bumps a generation counter which Render acknowledges on its next
// call, so a flushing caller can wait until the device has stopped reading
// the discarded audio. After a flush Render ramps the last played sample
// down to zero instead of cutting to silence.
type PlaybackBuffer struct {
	mu          sync.Mutex
	ring        *RingBuffer
	lastSample  int16
	fadeFrom    int16
	fadeLeft    int
	fadeSamples int

	flushGen atomic.Uint64
	ackGen   atomic.Uint64
	acked    chan struct{}

	Stats Stats
}

func NewPlaybackBuffer(capacity int, fade time.Duration) *PlaybackBuffer {
	info := GetDefaultEncodingInfo()
	return &PlaybackBuffer{
		ring:        NewRingBuffer(capacity),
		fadeSamples: info.FrameSize(fade) / info.BytesPerSample(),
		acked:       make(chan struct{}, 1),
	}
}

// Write appends p and returns the number of bytes dropped to fit it.
func (b *PlaybackBuffer) Write(p []byte) int {
	b.mu.Lock()
	dropped := b.ring.Write(p)
	b.mu.Unlock()
	if dropped > 0 {
		b.Stats.AddDropped(dropped)
	}
	return dropped
}

func (b *PlaybackBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Len()
}

// Flush discards buffered audio and returns the byte count together with the
// generation Render must acknowledge.
func (b *PlaybackBuffer) Flush() (discarded int, generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	discarded = b.ring.Reset()
	b.fadeFrom = b.lastSample
	b.fadeLeft = b.fadeSamples
	return discarded, b.flushGen.Add(1)
}

// AwaitFlush blocks until Render acknowledged generation or timeout passed.
func (b *PlaybackBuffer) AwaitFlush(generation uint64, timeout time.Duration) bool {
	if b.ackGen.Load() >= generation {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for b.ackGen.Load() < generation {
		select {
		case <-b.acked:
		case <-timer.C:
			return b.ackGen.Load() >= generation
		}
	}
	return true
}

// Reset drops buffered audio without a fade, for a stopped device.
func (b *PlaybackBuffer) Reset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fadeLeft = 0
	b.lastSample = 0
	return b.ring.Reset()
}

// Render fills out with buffered linear16 audio followed by the fade ramp
// and silence.
func (b *PlaybackBuffer) Render(out []byte) {
	if !b.mu.TryLock() {
		clear(out)
		b.Stats.AddUnderrun()
		return
	}
	defer b.mu.Unlock()

	if gen := b.flushGen.Load(); gen != b.ackGen.Load() {
		b.ackGen.Store(gen)
		select {
		case b.acked <- struct{}{}:
		default:
		}
	}

	n := b.ring.Read(out)
	n -= n % 2
	if n > 0 {
		b.fadeLeft = 0
		b.lastSample = int16(binary.LittleEndian.Uint16(out[n-2:]))
		if n < len(out) {
			b.Stats.AddUnderrun()
		}
	}

	rest := out[n:]
	clear(rest)
	for i := 0; b.fadeLeft > 0 && i+1 < len(rest); i += 2 {
		v := int32(b.fadeFrom) * int32(b.fadeLeft) / int32(b.fadeSamples+1)
		binary.LittleEndian.PutUint16(rest[i:], uint16(int16(v)))
		b.fadeLeft--
	}
	if n == 0 && b.fadeLeft == 0 {
		b.lastSample = 0
	}
}
