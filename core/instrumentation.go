package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-realtime/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	interruptions, _ = meter.Int64Counter(
		"session.interruptions",
		metric.WithDescription("Assistant responses cut off by user speech"),
	)
	droppedCaptureFrames, _ = meter.Int64Counter(
		"session.capture.dropped_frames",
		metric.WithDescription("Captured frames not forwarded because the session queue or transport was full"),
	)
	droppedAssistantDeltas, _ = meter.Int64Counter(
		"session.playback.dropped_deltas",
		metric.WithDescription("Assistant audio deltas discarded because their response was superseded"),
	)
	droppedNotifications, _ = meter.Int64Counter(
		"session.notifications.dropped",
		metric.WithDescription("Events not delivered to a slow subscriber"),
	)
)
