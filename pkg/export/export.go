// Package export writes benchmark tables for downstream analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/kilianp07/sohbench/core/benchmark"
	"github.com/kilianp07/sohbench/core/diagnostics"
)

// WriteJSON writes the full table, reports included, to w.
func WriteJSON(w io.Writer, t benchmark.Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// WriteSummaryJSON writes the per (model, dataset) summaries to w.
func WriteSummaryJSON(w io.Writer, t benchmark.Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t.Summaries())
}

var cellHeader = []string{
	"run_id", "model", "dataset", "scope", "fold", "status", "error_kind",
	"n", "mae", "rmse", "mape", "ljung_box_p", "independence_p", "coverage", "saturation", "reason",
}

// WriteCSV writes one row per cell. Metrics of missing cells are left empty
// rather than zero.
func WriteCSV(w io.Writer, t benchmark.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cellHeader); err != nil {
		return err
	}
	for _, c := range t.Cells {
		rec := make([]string, len(cellHeader))
		rec[0], rec[1], rec[2], rec[3] = t.RunID, c.Model, c.Dataset, c.Scope
		rec[4] = strconv.Itoa(c.Fold)
		rec[5], rec[6] = string(c.Status), string(c.ErrorKind)
		rec[15] = c.Reason
		if r := c.Report; r != nil {
			rec[7] = strconv.Itoa(r.N)
			rec[8] = formatFloat(r.Metrics.MAE)
			rec[9] = formatFloat(r.Metrics.RMSE)
			if r.Metrics.MAPEDefined {
				rec[10] = formatFloat(r.Metrics.MAPE)
			}
			if lb, ok := r.Tests[diagnostics.TestLjungBox]; ok {
				rec[11] = formatFloat(lb.PValue)
			}
			if r.Independence != nil {
				rec[12] = formatFloat(r.Independence.PValue)
			}
			if r.Calibration != nil {
				rec[13] = formatFloat(r.Calibration.Coverage)
			}
			rec[14] = formatFloat(r.Saturation.Fraction)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
