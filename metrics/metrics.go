// Package metrics reports tally metrics through the structured logger.
package metrics

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/uber-go/tally/v4"
)

// LogReporter is a tally.StatsReporter writing every reported value as a
// log record. Counters are reported as deltas since the previous report.
type LogReporter struct {
	logger *slog.Logger
	level  slog.Level
}

var _ tally.StatsReporter = (*LogReporter)(nil)

// NewLogReporter creates a reporter logging at level.
func NewLogReporter(logger *slog.Logger, level slog.Level) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger, level: level}
}

// NewScope returns a root scope reporting to logger every interval.
// A zero interval returns a scope that reports nothing.
func NewScope(prefix string, interval time.Duration, logger *slog.Logger) (tally.Scope, io.Closer) {
	if interval <= 0 {
		return tally.NoopScope, nopCloser{}
	}
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:                 prefix,
		Reporter:               NewLogReporter(logger, slog.LevelInfo),
		OmitCardinalityMetrics: true,
	}, interval)
}

func (r *LogReporter) log(kind, name string, tags map[string]string, value slog.Attr) {
	attrs := []any{slog.String("kind", kind), slog.String("name", name), value}
	if len(tags) > 0 {
		attrs = append(attrs, slog.Any("tags", tags))
	}
	r.logger.Log(context.Background(), r.level, "metric", attrs...)
}

// ReportCounter implements tally.StatsReporter.
func (r *LogReporter) ReportCounter(name string, tags map[string]string, value int64) {
	if value == 0 {
		return
	}
	r.log("counter", name, tags, slog.Int64("value", value))
}

// ReportGauge implements tally.StatsReporter.
func (r *LogReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.log("gauge", name, tags, slog.Float64("value", value))
}

// ReportTimer implements tally.StatsReporter.
func (r *LogReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.log("timer", name, tags, slog.Duration("value", interval))
}

// ReportHistogramValueSamples implements tally.StatsReporter.
func (r *LogReporter) ReportHistogramValueSamples(
	name string,
	tags map[string]string,
	buckets tally.Buckets,
	bucketLowerBound, bucketUpperBound float64,
	samples int64,
) {
	r.log("histogram", name, tags, slog.Group("value",
		slog.Float64("lower", bucketLowerBound),
		slog.Float64("upper", bucketUpperBound),
		slog.Int64("samples", samples),
	))
}

// ReportHistogramDurationSamples implements tally.StatsReporter.
func (r *LogReporter) ReportHistogramDurationSamples(
	name string,
	tags map[string]string,
	buckets tally.Buckets,
	bucketLowerBound, bucketUpperBound time.Duration,
	samples int64,
) {
	r.log("histogram", name, tags, slog.Group("value",
		slog.Duration("lower", bucketLowerBound),
		slog.Duration("upper", bucketUpperBound),
		slog.Int64("samples", samples),
	))
}

// Capabilities implements tally.StatsReporter.
func (r *LogReporter) Capabilities() tally.Capabilities {
	return r
}

// Reporting implements tally.Capabilities.
func (r *LogReporter) Reporting() bool { return true }

// Tagging implements tally.Capabilities.
func (r *LogReporter) Tagging() bool { return true }

// Flush implements tally.StatsReporter. Records are written as they are
// reported.
func (r *LogReporter) Flush() {}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
