package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-realtime/core/audio"
)

const (
	fadeDuration = 4 * time.Millisecond
	// flushAckTimeout bounds how long Flush waits for the device thread.
	flushAckTimeout = 100 * time.Millisecond
)

// Playback renders assistant audio from a pre-sized buffer.
type Playback struct {
	device *malgo.Device
	config malgo.DeviceConfig
	logger *slog.Logger
	buffer *audio.PlaybackBuffer

	mu sync.Mutex
}

func newPlayback(audioContext *malgo.AllocatedContext, o clientOptions) (*Playback, error) {
	info := audio.GetDefaultEncodingInfo()
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * info.Channels

	p := &Playback{
		buffer: audio.NewPlaybackBuffer(info.FrameSize(o.playbackBuffer), fadeDuration),
		logger: o.logger,
	}

	p.config = malgo.DefaultDeviceConfig(malgo.Playback)
	p.config.SampleRate = uint32(info.SampleRate)
	p.config.Playback.Format = format
	p.config.Playback.Channels = uint32(info.Channels)
	p.config.Alsa.NoMMap = 1
	p.config.PerformanceProfile = malgo.LowLatency
	p.config.PeriodSizeInFrames = o.periodFrames
	p.config.Periods = 3

	var err error
	if p.device, err = malgo.InitDevice(
		audioContext.Context,
		p.config,
		malgo.DeviceCallbacks{Data: func(pOutput, _ []byte, frameCount uint32) {
			n := min(int(frameCount)*bytesPerFrame, len(pOutput))
			p.buffer.Render(pOutput[:n])
		}},
	); err != nil {
		return nil, audio.ClassifyDeviceError("init playback device", err)
	}

	return p, nil
}

func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return audio.ErrNotInitialized
	} else if p.device.IsStarted() {
		return nil
	}

	if err := p.device.Start(); err != nil {
		return audio.ClassifyDeviceError("start playback device", err)
	}
	return nil
}

func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return audio.ErrNotInitialized
	}

	if p.device.IsStarted() {
		if err := p.device.Stop(); err != nil {
			return fmt.Errorf("failed to stop playback device: %w", err)
		}
	}

	p.buffer.Reset()
	return nil
}

// Enqueue appends frame data behind whatever is still waiting to be played.
func (p *Playback) Enqueue(frame audio.Frame) {
	dropped := p.buffer.Write(frame.Data)
	frame.Release()

	if dropped > 0 {
		droppedPlaybackBytes.Add(context.Background(), int64(dropped))
		p.logger.Warn("playback buffer overflow, dropped oldest audio", slog.Int("bytes", dropped))
	}
}

// Flush discards all buffered audio and returns how many bytes were
// discarded. When the device is running it returns once the device thread
// has observed the flush.
func (p *Playback) Flush() int {
	n, gen := p.buffer.Flush()
	if n > 0 {
		droppedPlaybackBytes.Add(context.Background(), int64(n))
	}

	if !p.running() {
		return n
	}
	if !p.buffer.AwaitFlush(gen, flushAckTimeout) {
		p.logger.Warn("playback flush not acknowledged by device", slog.Uint64("generation", gen))
	}
	return n
}

func (p *Playback) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device != nil && p.device.IsStarted()
}

// Buffered reports the bytes still waiting to be played.
func (p *Playback) Buffered() int {
	return p.buffer.Len()
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	return nil
}

func (p *Playback) Stats() *audio.Stats { return &p.buffer.Stats }

func (p *Playback) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
