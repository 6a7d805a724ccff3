package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-realtime/core/audio"
)

type clientOptions struct {
	logger         *slog.Logger
	playbackBuffer time.Duration
	capturePool    int
	periodFrames   uint32
	deviceLogging  bool
}

type ClientOption func(*clientOptions)

// WithLogger replaces the package logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithPlaybackBuffer sets how much assistant audio the playback ring holds
// before it starts dropping the oldest data.
func WithPlaybackBuffer(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.playbackBuffer = d }
}

// WithCapturePoolSize sets how many captured frames may be in flight.
func WithCapturePoolSize(n int) ClientOption {
	return func(o *clientOptions) { o.capturePool = n }
}

func WithPeriod(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.periodFrames = uint32(int64(audio.DefaultSampleRate) * int64(d) / int64(time.Second))
	}
}

// WithDeviceLogging forwards miniaudio's own diagnostics at debug level.
func WithDeviceLogging(enabled bool) ClientOption {
	return func(o *clientOptions) { o.deviceLogging = enabled }
}

// Client owns one miniaudio context with a capture and a playback device
// opened on it.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	*Capture
	*Playback
}

func NewClient(opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		logger:         logger,
		playbackBuffer: 2 * time.Minute,
		capturePool:    32,
		periodFrames:   uint32(audio.GetDefaultEncodingInfo().FrameSize(audio.DefaultFrameDuration) / 2),
	}
	for _, opt := range opts {
		opt(&o)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		if o.deviceLogging {
			o.logger.Debug("malgo", "message", message)
		}
	})
	if err != nil {
		return nil, audio.ClassifyDeviceError("init audio context", err)
	}

	client := Client{audioContext: audioCtx}

	if client.Playback, err = newPlayback(audioCtx, o); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback: %w", err)
	}

	if client.Capture, err = newCapture(audioCtx, o); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture: %w", err)
	}

	return &client, nil
}

func (c *Client) StartPlayback(_ context.Context) error {
	return c.Playback.Start()
}

func (c *Client) Close() error {
	var errs error
	if c.Capture != nil {
		errs = errors.Join(errs, c.Capture.Close())
	}
	if c.Playback != nil {
		errs = errors.Join(errs, c.Playback.Close())
	}
	if c.audioContext != nil {
		errs = errors.Join(errs, c.audioContext.Uninit())
		c.audioContext.Free()
		c.audioContext = nil
	}
	return errs
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
