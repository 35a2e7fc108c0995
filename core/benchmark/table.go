package benchmark

import (
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/core/timesplit"
)

// Status distinguishes a computed cell from one with no result.
type Status string

const (
	StatusOK      Status = "ok"
	StatusMissing Status = "missing"
)

// Cell is the outcome of one (model, dataset, split) evaluation. A missing
// cell carries the reason and never a report.
type Cell struct {
	Model     string                  `json:"model"`
	Dataset   string                  `json:"dataset"`
	Scope     string                  `json:"scope"`
	Fold      int                     `json:"fold"`
	Status    Status                  `json:"status"`
	ErrorKind model.ErrorKind         `json:"error_kind,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	Params    *model.ModelParameters  `json:"params,omitempty"`
	Report    *model.ValidationReport `json:"report,omitempty"`
	Duration  time.Duration           `json:"duration"`
}

// Exclusion is a unit dropped from a split of one dataset.
type Exclusion struct {
	Dataset string `json:"dataset"`
	timesplit.Exclusion
}

// Table collects every cell of a run in a deterministic order: dataset,
// then split, then model.
type Table struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Cells      []Cell      `json:"cells"`
	Excluded   []Exclusion `json:"excluded,omitempty"`
}

// Summary aggregates the cells of one (model, dataset) pair. Statistics are
// nil when no cell completed; missing cells never count as zero error.
type Summary struct {
	Model      string                  `json:"model"`
	Dataset    string                  `json:"dataset"`
	OK         int                     `json:"ok"`
	Missing    int                     `json:"missing"`
	MeanMAE    *float64                `json:"mean_mae,omitempty"`
	MedianMAE  *float64                `json:"median_mae,omitempty"`
	MeanRMSE   *float64                `json:"mean_rmse,omitempty"`
	MedianRMSE *float64                `json:"median_rmse,omitempty"`
	Reasons    map[model.ErrorKind]int `json:"reasons,omitempty"`
}

// Summaries returns one summary per (model, dataset), sorted by dataset then
// model.
func (t Table) Summaries() []Summary {
	type key struct{ model, dataset string }
	type acc struct {
		sum       Summary
		mae, rmse stats.Float64Data
	}
	groups := make(map[key]*acc)
	var keys []key
	for _, c := range t.Cells {
		k := key{c.Model, c.Dataset}
		a, ok := groups[k]
		if !ok {
			a = &acc{sum: Summary{Model: c.Model, Dataset: c.Dataset}}
			groups[k] = a
			keys = append(keys, k)
		}
		if c.Status != StatusOK || c.Report == nil {
			a.sum.Missing++
			if a.sum.Reasons == nil {
				a.sum.Reasons = make(map[model.ErrorKind]int)
			}
			a.sum.Reasons[c.ErrorKind]++
			continue
		}
		a.sum.OK++
		a.mae = append(a.mae, c.Report.Metrics.MAE)
		a.rmse = append(a.rmse, c.Report.Metrics.RMSE)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dataset != keys[j].dataset {
			return keys[i].dataset < keys[j].dataset
		}
		return keys[i].model < keys[j].model
	})
	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		a := groups[k]
		a.sum.MeanMAE = statOf(stats.Mean, a.mae)
		a.sum.MedianMAE = statOf(stats.Median, a.mae)
		a.sum.MeanRMSE = statOf(stats.Mean, a.rmse)
		a.sum.MedianRMSE = statOf(stats.Median, a.rmse)
		out = append(out, a.sum)
	}
	return out
}

func statOf(f func(stats.Float64Data) (float64, error), data stats.Float64Data) *float64 {
	if len(data) == 0 {
		return nil
	}
	v, err := f(data)
	if err != nil {
		return nil
	}
	return &v
}

// Missing returns the cells without a result.
func (t Table) Missing() []Cell {
	var out []Cell
	for _, c := range t.Cells {
		if c.Status == StatusMissing {
			out = append(out, c)
		}
	}
	return out
}
