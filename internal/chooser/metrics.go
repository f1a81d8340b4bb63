package chooser

import (
	"chooser/internal/logging"

	"log/slog"
)

// LoggingMetrics is the production MetricsHandle: real metrics export is
// out of scope for this module (§1), so counters and gauges are just
// logged at Debug through the internal/logging facade instead of wired
// to a collector.
type LoggingMetrics struct {
	logger *slog.Logger
}

func NewLoggingMetrics(logger *slog.Logger) *LoggingMetrics {
	return &LoggingMetrics{logger: logging.Component(logging.OrNop(logger), "chooser.metrics")}
}

func (m *LoggingMetrics) IncrCounter(name string, tags ...string) {
	m.logger.Debug("counter", slog.String("name", name), slog.Any("tags", tags))
}

func (m *LoggingMetrics) Gauge(name string, v float64, tags ...string) {
	m.logger.Debug("gauge", slog.String("name", name), slog.Float64("value", v), slog.Any("tags", tags))
}
