package voice

import (
	"log/slog"
	"time"
)

// Status messages sent alongside each status event.
const (
	MessageProcessing = "Processing audio..."
	MessageThinking   = "Generating response..."
	MessageComplete   = "Response complete"
)

// Config holds the tunable parts of a Pipeline.
type Config struct {
	// Metrics receives per-stage timings. Nil disables collection.
	Metrics *MetricsCollector

	// Logger is tagged with component=voice. Defaults to slog.Default().
	Logger *slog.Logger

	// SlowRun logs a warning when a run takes longer. Zero disables it.
	SlowRun time.Duration

	// MinAudioBytes rejects shorter payloads before any transcriber runs.
	// Zero uses stt.DefaultMinAudioBytes.
	MinAudioBytes int
}

// DefaultConfig returns a Config with a fresh metrics collector.
func DefaultConfig() Config {
	return Config{
		Metrics: NewMetricsCollector(),
		SlowRun: 10 * time.Second,
	}
}

// WithMetrics returns a copy with the metrics collector set.
func (c Config) WithMetrics(m *MetricsCollector) Config {
	c.Metrics = m
	return c
}

// WithMinAudioBytes returns a copy with the audio size floor set.
func (c Config) WithMinAudioBytes(n int) Config {
	c.MinAudioBytes = n
	return c
}

// WithLogger returns a copy with the logger set.
func (c Config) WithLogger(l *slog.Logger) Config {
	c.Logger = l
	return c
}
