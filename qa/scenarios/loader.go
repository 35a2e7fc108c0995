package scenarios

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/core/factory"
)

// DatasetDef is either a synthetic experiment or a CSV file.
type DatasetDef struct {
	Name  string               `yaml:"name"`
	Synth *dataset.SynthConfig `yaml:"synth,omitempty"`
	CSV   string               `yaml:"csv,omitempty"`
}

// Build generates or loads the dataset. CSV paths are relative to dir.
func (d DatasetDef) Build(dir string) (dataset.Dataset, error) {
	if d.CSV != "" {
		path := d.CSV
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		return dataset.Load(path, dataset.ReadOptions{Name: d.Name, Derive: true})
	}
	return dataset.Synthesize(d.Name, *d.Synth)
}

type SplitDef struct {
	TestRatio float64 `yaml:"test_ratio"`
	PerUnit   bool    `yaml:"per_unit"`
	Folds     int     `yaml:"folds"`
}

// Outcome is the expected result of every cell of one (model, dataset).
type Outcome struct {
	Model     string  `yaml:"model"`
	Dataset   string  `yaml:"dataset"`
	Status    string  `yaml:"status"`
	ErrorKind string  `yaml:"error_kind,omitempty"`
	MaxMAE    float64 `yaml:"max_mae,omitempty"`
}

type Expected struct {
	Cells           int       `yaml:"cells"`
	MaxDurationSecs float64   `yaml:"max_duration_seconds,omitempty"`
	Outcomes        []Outcome `yaml:"outcomes"`
}

type Scenario struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Datasets    []DatasetDef           `yaml:"datasets"`
	Models      []factory.ModuleConfig `yaml:"models"`
	Split       SplitDef               `yaml:"split"`
	Expected    Expected               `yaml:"expected"`

	dir string
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.dir = filepath.Dir(path)
	return &sc, nil
}

func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Datasets) == 0 {
		return fmt.Errorf("scenario %s: no datasets", s.Name)
	}
	for i, d := range s.Datasets {
		if d.Name == "" {
			return fmt.Errorf("scenario %s: datasets[%d]: name is required", s.Name, i)
		}
		if (d.Synth == nil) == (d.CSV == "") {
			return fmt.Errorf("scenario %s: dataset %s needs exactly one of synth or csv", s.Name, d.Name)
		}
	}
	if len(s.Models) == 0 {
		return fmt.Errorf("scenario %s: no models", s.Name)
	}
	for _, o := range s.Expected.Outcomes {
		if o.Status != "ok" && o.Status != "missing" {
			return fmt.Errorf("scenario %s: outcome %s/%s: unknown status %q", s.Name, o.Model, o.Dataset, o.Status)
		}
	}
	return nil
}

// MaxDuration is the wall-clock budget of the run, zero when unbounded.
func (e Expected) MaxDuration() time.Duration {
	return time.Duration(e.MaxDurationSecs * float64(time.Second))
}
