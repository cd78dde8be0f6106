package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-demo/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	utteranceCounter, _ = meter.Int64Counter("ema.utterances",
		metric.WithDescription("Finalized user utterances by classification"))
	speakCounter, _ = meter.Int64Counter("ema.speak_requests",
		metric.WithDescription("Speak requests by result"))
	actionCounter, _ = meter.Int64Counter("ema.actions",
		metric.WithDescription("Executed action steps by kind and outcome"))
	cycleCounter, _ = meter.Int64Counter("ema.loop_cycles",
		metric.WithDescription("Observe, plan, act cycles of the demo loop"))
)
