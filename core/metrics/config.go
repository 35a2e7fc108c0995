package metrics

import "github.com/kilianp07/sohbench/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" yaml:"sinks"`
	// PrometheusPort serves /metrics when non-empty.
	PrometheusPort string `json:"prometheus_port" yaml:"prometheus_port"`
}
