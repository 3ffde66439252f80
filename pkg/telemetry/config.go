// Package telemetry provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the reconciliation engine.
package telemetry

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json or console
	Output     string `yaml:"output" json:"output"` // stdout, stderr, or a path
	WithCaller bool   `yaml:"with_caller" json:"with_caller"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
	Listen    string `yaml:"listen" json:"listen"`
}

// TracingConfig configures the tracer.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// Config bundles all telemetry settings.
type Config struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// DefaultConfig returns the settings used when the workspace config
// omits telemetry.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Namespace: "zonecraft",
		},
		Tracing: TracingConfig{
			ServiceName: "zonecraft",
		},
	}
}
