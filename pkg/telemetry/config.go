package telemetry

import (
	"fmt"
	"time"
)

// Config bundles the observability configuration of a converge process.
type Config struct {
	// ServiceName identifies the service in traces and metrics.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod).
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is the log format (console, json).
	Format string

	// Output is where logs are written (stdout, stderr, or a file path).
	Output string

	// EnableCaller adds file:line caller information.
	EnableCaller bool

	// TimeFormat is the timestamp format (unix, rfc3339).
	TimeFormat string
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled controls whether spans are created at all.
	Enabled bool

	// Exporter is the span exporter (stdout, none).
	Exporter string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// MaxExportBatchSize bounds one export batch.
	MaxExportBatchSize int

	// ExportTimeout bounds one export attempt.
	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	Enabled bool

	// ListenAddress is the metrics HTTP endpoint address.
	ListenAddress string

	// Path is the HTTP path for the scrape endpoint.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// DefaultConfig returns the configuration used when nothing is overridden:
// console logs, stdout traces off, metrics off. Fits one-shot CLI runs.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "converge",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "converge",
			DefaultHistogramBuckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
	}
}

// Validate checks the configuration before anything is initialized from it.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "none" {
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	return nil
}
