package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-realtime/core/audio"
)

const dropWarnInterval = time.Second

// Capture streams microphone audio as pooled 24 kHz linear16 mono frames.
type Capture struct {
	device *malgo.Device
	config malgo.DeviceConfig
	pool   *audio.FramePool
	logger *slog.Logger
	stats  audio.Stats

	onFrame atomic.Pointer[func(audio.Frame)]
	seq     atomic.Uint64
	// lastDropWarn holds unix nanos of the last overrun warning.
	lastDropWarn atomic.Int64

	stopOnCancel func() bool

	mu sync.Mutex
}

func newCapture(audioContext *malgo.AllocatedContext, o clientOptions) (*Capture, error) {
	info := audio.GetDefaultEncodingInfo()
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * info.Channels

	c := &Capture{
		pool:   audio.NewFramePool(o.capturePool, int(o.periodFrames)*bytesPerFrame*2),
		logger: o.logger,
	}

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(info.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(info.Channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = o.periodFrames
	c.config.Periods = 3

	var err error
	c.device, err = malgo.InitDevice(audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.deliver(pInput[:n])
		},
	})
	if err != nil {
		return nil, audio.ClassifyDeviceError("init capture device", err)
	}

	return c, nil
}

// deliver runs on the device thread and must not block.
func (c *Capture) deliver(data []byte) {
	onFrame := c.onFrame.Load()
	if onFrame == nil {
		return
	}

	seq := c.seq.Add(1)
	frame, ok := c.pool.NewFrame(seq, audio.DirectionCapture, data)
	if !ok {
		c.stats.AddOverrun()
		droppedCaptureFrames.Add(context.Background(), 1)
		c.warnDropped()
		return
	}

	(*onFrame)(frame)
}

func (c *Capture) warnDropped() {
	now := time.Now().UnixNano()
	last := c.lastDropWarn.Load()
	if now-last < int64(dropWarnInterval) || !c.lastDropWarn.CompareAndSwap(last, now) {
		return
	}
	c.logger.Warn("capture frames dropped, consumer is falling behind",
		slog.Uint64("overruns", c.stats.Overruns()),
		slog.Int("free_buffers", c.pool.Available()))
}

// Start begins delivering frames to onFrame. Starting a running capture is a
// no-op. Capture stops on its own when ctx is cancelled.
func (c *Capture) Start(ctx context.Context, onFrame func(audio.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.ErrNotInitialized
	} else if c.device.IsStarted() {
		return nil
	}

	c.onFrame.Store(&onFrame)
	if err := c.device.Start(); err != nil {
		c.onFrame.Store(nil)
		return audio.ClassifyDeviceError("start capture device", err)
	}

	c.stopOnCancel = context.AfterFunc(ctx, func() { _ = c.Stop() })
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.ErrNotInitialized
	}
	if c.stopOnCancel != nil {
		c.stopOnCancel()
		c.stopOnCancel = nil
	}
	c.onFrame.Store(nil)
	if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopOnCancel != nil {
		c.stopOnCancel()
		c.stopOnCancel = nil
	}
	c.onFrame.Store(nil)
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return nil
}

func (c *Capture) Stats() *audio.Stats { return &c.stats }

func (c *Capture) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
