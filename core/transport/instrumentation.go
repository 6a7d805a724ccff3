package transport

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/transport"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	reconnectAttempts, _ = meter.Int64Counter(
		"transport.reconnect.attempts",
		metric.WithDescription("Reconnect dials made after an unexpected closure"),
	)
	droppedOutbound, _ = meter.Int64Counter(
		"transport.outbound.dropped",
		metric.WithDescription("Outbound messages refused or discarded before reaching the socket"),
	)
	malformedInbound, _ = meter.Int64Counter(
		"transport.inbound.malformed",
		metric.WithDescription("Inbound frames that failed to decode"),
	)
)
