// Package metrics provides the step-metric sink consumed by the encoder
// and the running perplexity accumulator keyed per stage and modality.
package metrics

import "log/slog"

// Recorder receives named scalar metrics. Calls are fire and forget: the
// encoder never consumes a return value, and a recorder must not block
// training on slow sinks.
type Recorder interface {
	Record(name string, value float64)
}

// Discard drops all metrics.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(string, float64) {}

// SlogRecorder logs metrics through a structured logger.
type SlogRecorder struct {
	Logger *slog.Logger
}

// NewSlogRecorder builds a recorder over the given logger; nil selects
// the default logger.
func NewSlogRecorder(l *slog.Logger) *SlogRecorder {
	if l == nil {
		l = slog.Default()
	}
	return &SlogRecorder{Logger: l}
}

func (r *SlogRecorder) Record(name string, value float64) {
	r.Logger.Debug("metric", "name", name, "value", value)
}

// Multi fans a metric out to several recorders.
type Multi []Recorder

func (m Multi) Record(name string, value float64) {
	for _, r := range m {
		r.Record(name, value)
	}
}
