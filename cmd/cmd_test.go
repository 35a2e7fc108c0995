package cmd

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestSynthThenBenchmark(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
models:
  - type: power_law
  - type: linear
benchmark:
  workers: 2
logging:
  level: error
`), 0o600))
	data := filepath.Join(dir, "cells.csv")
	execute(t, "-c", cfg, "synth", "--units", "2", "--cycles", "40", "--noise", "0.002", "--name", "cells", "-o", data)

	out := filepath.Join(dir, "table.csv")
	execute(t, "-c", cfg, "benchmark", "--format", "csv", "--folds", "0", "-o", out, data)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "run_id", rows[0][0])
	models := []string{rows[1][1], rows[2][1]}
	assert.ElementsMatch(t, []string{"power_law", "linear"}, models)
	assert.Equal(t, "cells", rows[1][2])
}

func TestFit(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "cells.csv")
	cfg := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfg, []byte(`{"logging":{"level":"error"}}`), 0o600))
	execute(t, "-c", cfg, "synth", "--units", "1", "--cycles", "50", "--noise", "0.001", "-o", data)

	got := execute(t, "-c", cfg, "fit", "-m", "power_law", "-d", data)
	assert.Contains(t, got, `"model": "power_law"`)
	assert.Contains(t, got, `"low_confidence": false`)
}

func TestBenchmark_UnknownFormat(t *testing.T) {
	rootCmd.SetArgs([]string{"benchmark", "--format", "xml", "x.csv"})
	rootCmd.SetOut(&bytes.Buffer{})
	assert.ErrorContains(t, rootCmd.Execute(), "unknown format")
	benchFlags.format = "json"
}
