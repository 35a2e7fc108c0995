package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/sohbench/core/diagnostics"
	"github.com/kilianp07/sohbench/core/factory"
	"github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/infra/mqtt"
)

// EnvPrefix selects the environment variables overriding file values.
// SOH_BENCHMARK__WORKERS=8 sets benchmark.workers.
const EnvPrefix = "SOH_"

type Config struct {
	Models      []factory.ModuleConfig `json:"models"`
	Split       SplitConfig            `json:"split"`
	Benchmark   BenchmarkConfig        `json:"benchmark"`
	Diagnostics diagnostics.Options    `json:"diagnostics"`
	Monotonic   MonotonicConfig        `json:"monotonic"`
	Online      OnlineConfig           `json:"online"`
	Metrics     metrics.Config         `json:"metrics"`
	Store       StoreConfig            `json:"store"`
	MQTT        mqtt.Config            `json:"mqtt"`
	Logging     LoggingConfig          `json:"logging"`
}

// Default returns a configuration with every registered model kind and
// defaults applied. It backs commands run without --config.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	if len(c.Models) == 0 {
		c.Models = DefaultModels()
	}
	c.Split.SetDefaults()
	c.Benchmark.SetDefaults()
	c.Diagnostics.SetDefaults()
	c.Monotonic.SetDefaults()
	c.Online.SetDefaults()
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	seen := make(map[string]bool)
	for i, m := range c.Models {
		if m.Type == "" {
			return fmt.Errorf("models[%d]: type is required", i)
		}
		name := ModelName(m)
		if seen[name] {
			return fmt.Errorf("models[%d]: duplicate model name %q", i, name)
		}
		seen[name] = true
	}
	checks := []struct {
		name string
		fn   func() error
	}{
		{"split", c.Split.Validate},
		{"benchmark", c.Benchmark.Validate},
		{"diagnostics", c.Diagnostics.Validate},
		{"monotonic", c.Monotonic.Validate},
		{"online", c.Online.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}

// DefaultModels configures one model per registered kind.
func DefaultModels() []factory.ModuleConfig {
	return []factory.ModuleConfig{
		{Type: "power_law"},
		{Type: "linear"},
		{Type: "exponential"},
		{Type: "arrhenius"},
	}
}

// ModelName is the configured name of a model, its type when unnamed.
func ModelName(m factory.ModuleConfig) string {
	if n, ok := m.Conf["name"].(string); ok && n != "" {
		return n
	}
	return m.Type
}
