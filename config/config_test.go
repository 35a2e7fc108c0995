package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/sohbench/core/monotonic"
)

func write(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := write(t, "config.yaml", `models:
  - type: power_law
  - type: arrhenius
    conf:
      name: arrhenius_fit_ea
      fit_activation_energy: true
split:
  test_ratio: 0.25
  per_unit: true
benchmark:
  folds: 3
  workers: 2
  datasets:
    - name: lab
      path: data/lab.csv
      origin: "2024-01-01T00:00:00Z"
diagnostics:
  lags: [5]
monotonic:
  mode: batch
metrics:
  sinks:
    - type: "nop"
  prometheus_port: ":9100"
store:
  path: soh.db
mqtt:
  broker: "tcp://localhost:1883"
  model: power_law
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"models", len(cfg.Models), 2},
		{"model name", ModelName(cfg.Models[1]), "arrhenius_fit_ea"},
		{"test_ratio", cfg.Split.TestRatio, 0.25},
		{"per_unit", cfg.Split.PerUnit, true},
		{"min_cycles default", cfg.Split.MinCycles, 2},
		{"folds", cfg.Benchmark.Folds, 3},
		{"workers", cfg.Benchmark.Workers, 2},
		{"fit timeout default", cfg.Benchmark.FitTimeout(), 30 * time.Second},
		{"dataset", cfg.Benchmark.Datasets[0].Path, "data/lab.csv"},
		{"lags", len(cfg.Diagnostics.Lags), 1},
		{"max_lag default", cfg.Diagnostics.MaxLag, 10},
		{"mode", cfg.Monotonic.Enforcer().Mode, monotonic.ModeBatch},
		{"epsilon default", cfg.Monotonic.Epsilon, monotonic.DefaultEpsilon},
		{"partial cutoff default", cfg.Online.PartialCutoff(), 2 * time.Hour},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"prometheus_port", cfg.Metrics.PrometheusPort, ":9100"},
		{"store", cfg.Store.Path, "soh.db"},
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"mqtt prefix default", cfg.MQTT.TopicPrefix, "soh"},
		{"level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
	assert.True(t, cfg.Split.Validator().PerUnit)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(write(t, "config.json", `{}`))
	require.NoError(t, err)
	assert.Len(t, cfg.Models, 4)
	assert.Equal(t, 0.2, cfg.Split.TestRatio)
	assert.Equal(t, 4, cfg.Benchmark.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.MQTT.Enabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SOH_BENCHMARK__WORKERS", "8")
	t.Setenv("SOH_LOGGING__LEVEL", "warn")
	cfg, err := Load(write(t, "config.yaml", "benchmark:\n  workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Benchmark.Workers)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_PartialCutoff(t *testing.T) {
	cases := []struct {
		name string
		data string
		want time.Duration
	}{
		{"unset", "{}", DefaultPartialCutoff},
		{"explicit", "online:\n  partial_cutoff_minutes: 45\n", 45 * time.Minute},
		{"disabled", "online:\n  partial_cutoff_minutes: 0\n", 0},
	}
	for _, c := range cases {
		cfg, err := Load(write(t, "config.yaml", c.data))
		require.NoError(t, err, c.name)
		assert.Equal(t, c.want, cfg.Online.PartialCutoff(), c.name)
	}
	_, err := Load(write(t, "config.yaml", "online:\n  partial_cutoff_minutes: -5\n"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"ratio":     "split:\n  test_ratio: 1.5\n",
		"mode":      "monotonic:\n  mode: sideways\n",
		"level":     "logging:\n  level: loud\n",
		"duplicate": "models:\n  - type: linear\n  - type: linear\n",
		"no type":   "models:\n  - conf: {}\n",
		"dataset":   "benchmark:\n  datasets:\n    - name: x\n",
		"lag":       "diagnostics:\n  lags: [0]\n",
	}
	for name, data := range cases {
		_, err := Load(write(t, "config.yaml", data))
		assert.Error(t, err, name)
	}
	_, err := Load(write(t, "config.toml", ""))
	assert.Error(t, err)
}
