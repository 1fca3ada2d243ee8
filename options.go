package compio

import (
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultPollBatch      = 64
	defaultReadBufferSize = 4096
)

type config struct {
	logHandler     slog.Handler
	msink          metrics.MetricSink
	metricLabels   []metrics.Label
	pollInterval   time.Duration
	pollBatch      int
	readBufferSize int
}

func defaultConfig() config {
	return config{
		pollInterval:   defaultPollInterval,
		pollBatch:      defaultPollBatch,
		readBufferSize: defaultReadBufferSize,
	}
}

// Option to pass to `Create`
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// your `Proactor`.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// Proactor and its connections.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithPollInterval controls how long the dispatch loop may sleep in the
// kernel before re-checking its lifecycle. Lower values make Stop more
// reactive at the cost of more wakeups.
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			interval = defaultPollInterval
		}
		c.pollInterval = interval
		return nil
	}
}

// WithPollBatchSize bounds how many kernel notifications are harvested per
// dispatch cycle.
func WithPollBatchSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			size = defaultPollBatch
		}
		c.pollBatch = size
		return nil
	}
}

// WithReadBufferSize controls the size of the fresh buffer allocated for
// each read operation.
func WithReadBufferSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			size = defaultReadBufferSize
		}
		c.readBufferSize = size
		return nil
	}
}
