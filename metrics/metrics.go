// Package metrics exposes Prometheus instrumentation for command
// execution, async jobs, streaming copies, and bulk transfers.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quarrydata/pgexport/command"
)

// Collector owns the pgexport metric instruments. Create one per process
// with NewCollector and share it between the hook, the runner observer,
// and the stream/bulk call sites.
type Collector struct {
	commandsTotal   *prometheus.CounterVec
	commandErrors   *prometheus.CounterVec
	commandTimeouts prometheus.Counter
	commandDuration *prometheus.HistogramVec

	jobsQueued  prometheus.GaugeFunc
	jobsRunning prometheus.GaugeFunc
	jobsDone    *prometheus.CounterVec

	streamBytes  prometheus.Counter
	streamChunks prometheus.Counter

	bulkRows    prometheus.Counter
	bulkBatches prometheus.Counter
}

// NewCollector registers the pgexport instruments with reg. Pass
// prometheus.DefaultRegisterer for the process-global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "commands_total",
			Help:      "Commands executed, by kind.",
		}, []string{"kind"}),
		commandErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "command_errors_total",
			Help:      "Commands that failed, by kind.",
		}, []string{"kind"}),
		commandTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "command_timeouts_total",
			Help:      "Commands that exceeded their timeout.",
		}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pgexport",
			Name:      "command_duration_seconds",
			Help:      "Command execution duration, by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"kind"}),
		jobsDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "jobs_finished_total",
			Help:      "Async jobs finished, by terminal status.",
		}, []string{"status"}),
		streamBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "stream_bytes_total",
			Help:      "Bytes copied by streaming reads.",
		}),
		streamChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "stream_chunks_total",
			Help:      "Chunks copied by streaming reads.",
		}),
		bulkRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "bulk_rows_total",
			Help:      "Rows transferred by bulk copies.",
		}),
		bulkBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pgexport",
			Name:      "bulk_batches_total",
			Help:      "Batches flushed by bulk copies.",
		}),
	}
}

// ObserveRunner registers gauges backed by the runner's live stats.
// Call once after the runner starts.
func (c *Collector) ObserveRunner(reg prometheus.Registerer, runner *command.Runner) {
	factory := promauto.With(reg)

	c.jobsQueued = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "pgexport",
		Name:      "jobs_queued",
		Help:      "Jobs waiting for a worker.",
	}, func() float64 {
		stats := runner.Stats()
		return float64(stats.Queued.Load())
	})

	c.jobsRunning = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "pgexport",
		Name:      "jobs_running",
		Help:      "Jobs currently executing.",
	}, func() float64 {
		stats := runner.Stats()
		return float64(stats.Running.Load())
	})
}

// JobFinished records a terminal job status.
func (c *Collector) JobFinished(status command.JobStatus) {
	c.jobsDone.WithLabelValues(string(status)).Inc()
}

// ObserveStream records a completed streaming copy.
func (c *Collector) ObserveStream(bytes int64, chunks int) {
	c.streamBytes.Add(float64(bytes))
	c.streamChunks.Add(float64(chunks))
}

// ObserveBulk records a completed bulk transfer.
func (c *Collector) ObserveBulk(rows int64, batches int) {
	c.bulkRows.Add(float64(rows))
	c.bulkBatches.Add(float64(batches))
}

// Hook returns a command hook that records per-command metrics.
// Register it on the client alongside the logging hooks.
func (c *Collector) Hook() command.Hook {
	return &metricsHook{collector: c}
}

type metricsHook struct {
	collector *Collector
}

func (h *metricsHook) Name() string {
	return "metrics"
}

func (h *metricsHook) Before(ctx context.Context, hookCtx *command.HookContext) error {
	return nil
}

func (h *metricsHook) After(ctx context.Context, hookCtx *command.HookContext) error {
	kind := hookCtx.Kind
	h.collector.commandsTotal.WithLabelValues(kind).Inc()
	h.collector.commandDuration.WithLabelValues(kind).Observe(hookCtx.Duration.Seconds())

	if hookCtx.Err != nil {
		h.collector.commandErrors.WithLabelValues(kind).Inc()
		var timeoutErr *command.TimeoutError
		if errors.As(hookCtx.Err, &timeoutErr) {
			h.collector.commandTimeouts.Inc()
		}
	}
	return nil
}
