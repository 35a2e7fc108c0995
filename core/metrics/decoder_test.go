package metrics_test

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"

	metrics "github.com/kilianp07/sohbench/core/metrics"
	_ "github.com/kilianp07/sohbench/infra/metrics"
)

// Test decoding from YAML with multiple sinks and a Prometheus port.
func TestMetricsConfigDecodeYAML(t *testing.T) {
	data := `prometheus_port: "9108"
sinks:
  - type: nop
  - type: prometheus
`
	var cfg metrics.Config
	if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	if cfg.PrometheusPort != "9108" {
		t.Fatalf("unexpected port %q", cfg.PrometheusPort)
	}
	s, err := metrics.NewMetricsSink(cfg.Sinks)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok {
		t.Fatalf("expected MultiSink")
	}
	if _, ok := m.Sinks[1].(metrics.FitRecorder); !ok {
		t.Fatalf("prometheus sink should record fits")
	}
}

// Test decoding from JSON with invalid sink type.
func TestMetricsConfigDecodeJSON_Invalid(t *testing.T) {
	data := `{"sinks":[{"type":"missing"}]}`
	var cfg metrics.Config
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	if _, err := metrics.NewMetricsSink(cfg.Sinks); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
