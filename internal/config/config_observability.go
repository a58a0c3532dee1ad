package config

import "github.com/haasonsaas/conduit/internal/observability"

// ObservabilityConfig configures logs, metrics and traces.
type ObservabilityConfig struct {
	Logging observability.LogConfig   `yaml:"logging"`
	Metrics MetricsConfig             `yaml:"metrics"`
	Tracing observability.TraceConfig `yaml:"tracing"`
}

// MetricsConfig toggles Prometheus collection.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

func applyObservabilityDefaults(o *ObservabilityConfig) {
	if o.Logging.Level == "" {
		o.Logging.Level = "info"
	}
	if o.Logging.Format == "" {
		o.Logging.Format = "json"
	}
	if o.Metrics.Enabled == nil {
		o.Metrics.Enabled = boolPtr(true)
	}
	if o.Tracing.ServiceName == "" {
		o.Tracing.ServiceName = "conduit"
	}
	if o.Tracing.SamplingRate == 0 {
		o.Tracing.SamplingRate = 1.0
	}
}
