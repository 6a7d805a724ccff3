package miniaudio

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/audio/miniaudio"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	droppedCaptureFrames, _ = meter.Int64Counter(
		"audio.capture.dropped_frames",
		metric.WithDescription("Captured frames dropped because no pooled buffer was free"),
	)
	droppedPlaybackBytes, _ = meter.Int64Counter(
		"audio.playback.dropped_bytes",
		metric.WithDescription("Playback bytes discarded by overflow or flush"),
		metric.WithUnit("By"),
	)
)
