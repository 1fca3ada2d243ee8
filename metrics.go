package compio

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricOpInitiatedCount counts operations accepted by Initiate,
	// labelled by verb.
	MetricOpInitiatedCount  = []string{"compio", "operation", "initiated", "count"}
	MetricOpCompletedCount  = []string{"compio", "operation", "completed", "count"}
	MetricOpFailedCount     = []string{"compio", "operation", "failed", "count"}
	MetricOpCanceledCount   = []string{"compio", "operation", "canceled", "count"}
	MetricHandlerPanicCount = []string{"compio", "handler", "panic", "count"}
	MetricDispatchWaitMs    = []string{"compio", "dispatch", "wait", "ms"}
	MetricQueuePendingOps   = []string{"compio", "queue", "pending", "operations"}
	MetricConnInBytes       = []string{"compio", "conn", "in", "bytes"}
	MetricConnOutBytes      = []string{"compio", "conn", "out", "bytes"}
	MetricConnClosedCount   = []string{"compio", "conn", "closed", "count"}
	MetricAcceptedCount     = []string{"compio", "server", "accepted", "count"}
)

type TelemetryLabel string

var (
	LabelError  TelemetryLabel = "error"
	LabelVerb   TelemetryLabel = "verb"
	LabelReason TelemetryLabel = "reason"
	LabelAddr   TelemetryLabel = "addr"
	LabelPort   TelemetryLabel = "port"
	LabelState  TelemetryLabel = "state"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
