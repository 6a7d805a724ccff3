package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-realtime/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)

const (
	// DefaultDeviceRate is used when the device does not take 24 kHz
	// directly; audio is resampled on both sides.
	DefaultDeviceRate = 48000

	fadeDuration    = 4 * time.Millisecond
	flushAckTimeout = 100 * time.Millisecond
)

type Option func(*Client)

func WithDeviceRate(rate int) Option {
	return func(c *Client) { c.deviceRate = rate }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithPlaybackBuffer(d time.Duration) Option {
	return func(c *Client) { c.playbackBuffer = d }
}

// Client is an alternative capture and playback backend on PortAudio's
// default devices. Both directions run as callback streams.
type Client struct {
	deviceRate     int
	playbackBuffer time.Duration
	logger         *slog.Logger

	capture  *Capture
	playback *Playback
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		deviceRate:     DefaultDeviceRate,
		playbackBuffer: 2 * time.Minute,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, audio.ClassifyDeviceError("initialize portaudio", err)
	}

	framesPerBuffer := int(int64(c.deviceRate) * int64(audio.DefaultFrameDuration) / int64(time.Second))
	info := audio.GetDefaultEncodingInfo()

	c.capture = &Capture{
		deviceRate: c.deviceRate,
		pool:       audio.NewFramePool(32, info.FrameSize(audio.DefaultFrameDuration)*2),
		logger:     c.logger,
	}
	var err error
	if c.capture.stream, err = portaudio.OpenDefaultStream(1, 0, float64(c.deviceRate), framesPerBuffer, c.capture.process); err != nil {
		portaudio.Terminate()
		return nil, audio.ClassifyDeviceError("open capture stream", err)
	}

	c.playback = &Playback{
		deviceRate: c.deviceRate,
		buffer:     audio.NewPlaybackBuffer(info.FrameSize(c.playbackBuffer), fadeDuration),
		logger:     c.logger,
	}
	if c.playback.stream, err = portaudio.OpenDefaultStream(0, 1, float64(c.deviceRate), framesPerBuffer, c.playback.process); err != nil {
		c.capture.stream.Close()
		portaudio.Terminate()
		return nil, audio.ClassifyDeviceError("open playback stream", err)
	}

	return c, nil
}

func (c *Client) Capture() *Capture   { return c.capture }
func (c *Client) Playback() *Playback { return c.playback }

func (c *Client) Close() error {
	var errs error
	errs = errors.Join(errs, c.capture.Close())
	errs = errors.Join(errs, c.playback.Close())
	errs = errors.Join(errs, portaudio.Terminate())
	return errs
}

type Capture struct {
	stream     *portaudio.Stream
	deviceRate int
	pool       *audio.FramePool
	logger     *slog.Logger
	stats      audio.Stats

	onFrame atomic.Pointer[func(audio.Frame)]
	seq     atomic.Uint64
	started bool

	raw       []byte
	resampled []byte

	stopOnCancel func() bool
	mu           sync.Mutex
}

func (c *Capture) process(in []int16) {
	onFrame := c.onFrame.Load()
	if onFrame == nil {
		return
	}

	c.raw = audio.Int16ToBytes(c.raw[:0], in)
	c.resampled = audio.Resample16(c.resampled[:0], c.raw, c.deviceRate, audio.DefaultSampleRate)

	frame, ok := c.pool.NewFrame(c.seq.Add(1), audio.DirectionCapture, c.resampled)
	if !ok {
		c.stats.AddOverrun()
		return
	}
	(*onFrame)(frame)
}

func (c *Capture) Start(ctx context.Context, onFrame func(audio.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	c.onFrame.Store(&onFrame)
	if err := c.stream.Start(); err != nil {
		c.onFrame.Store(nil)
		return audio.ClassifyDeviceError("start capture stream", err)
	}
	c.started = true
	c.stopOnCancel = context.AfterFunc(ctx, func() { _ = c.Stop() })
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopOnCancel != nil {
		c.stopOnCancel()
		c.stopOnCancel = nil
	}
	c.onFrame.Store(nil)
	if !c.started {
		return nil
	}

	c.started = false
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture stream: %w", err)
	}
	if n := c.stats.Overruns(); n > 0 {
		c.logger.Warn("capture frames dropped during session", slog.Uint64("overruns", n))
	}
	return nil
}

func (c *Capture) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}
	return c.stream.Close()
}

func (c *Capture) Stats() *audio.Stats { return &c.stats }

type Playback struct {
	stream     *portaudio.Stream
	deviceRate int
	buffer     *audio.PlaybackBuffer
	logger     *slog.Logger
	started    atomic.Bool

	pending []byte
	scratch []byte
}

func (p *Playback) process(out []int16) {
	need := audio.ResampledLen(len(out), p.deviceRate, audio.DefaultSampleRate) * 2
	if cap(p.pending) < need {
		p.pending = make([]byte, need)
	}
	p.pending = p.pending[:need]
	p.buffer.Render(p.pending)

	p.scratch = audio.Resample16(p.scratch[:0], p.pending, audio.DefaultSampleRate, p.deviceRate)
	n := audio.BytesToInt16(out, p.scratch)
	clear(out[n:])
}

func (p *Playback) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		p.started.Store(false)
		return audio.ClassifyDeviceError("start playback stream", err)
	}
	return nil
}

func (p *Playback) Stop() error {
	if !p.started.CompareAndSwap(true, false) {
		return nil
	}
	defer p.buffer.Reset()
	if err := p.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback stream: %w", err)
	}
	return nil
}

func (p *Playback) Enqueue(frame audio.Frame) {
	if dropped := p.buffer.Write(frame.Data); dropped > 0 {
		p.logger.Warn("playback buffer overflow, dropped oldest audio", slog.Int("bytes", dropped))
	}
	frame.Release()
}

func (p *Playback) Flush() int {
	n, gen := p.buffer.Flush()
	if p.started.Load() && !p.buffer.AwaitFlush(gen, flushAckTimeout) {
		p.logger.Warn("playback flush not acknowledged by device", slog.Uint64("generation", gen))
	}
	return n
}

func (p *Playback) Buffered() int { return p.buffer.Len() }

func (p *Playback) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	return p.stream.Close()
}

func (p *Playback) Stats() *audio.Stats { return &p.buffer.Stats }
