package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/sohbench/core/model"
)

// Column names of the observation table. Any other column is a feature;
// a header of the form name@90m sets the feature horizon.
const (
	ColUnit      = "unit_id"
	ColCycle     = "cycle_index"
	ColTimestamp = "timestamp"
	ColSoH       = "soh"
)

// ReadOptions configure Read.
type ReadOptions struct {
	// Name of the dataset; Load defaults it to the file name.
	Name string
	// Origin anchors hh:mm:SS.sss run-time timestamps.
	Origin time.Time
	// Derive adds calendar_days and cum_fec.
	Derive bool
}

type column struct {
	index   int
	name    string
	horizon time.Duration
}

// Load reads a CSV observation table from path.
func Load(path string, opts ReadOptions) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()
	if opts.Name == "" {
		opts.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Read(f, opts)
}

// Read parses a CSV observation table. Timestamps are RFC 3339, unix seconds,
// or hh:mm:SS.sss offsets from opts.Origin. An empty soh cell marks an
// unobserved cycle and an empty feature cell omits the feature for that row.
func Read(r io.Reader, opts ReadOptions) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, fmt.Errorf("%s: %w", opts.Name, ErrNoSensorData)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: header: %w", opts.Name, err)
	}
	idx := map[string]int{}
	var feats []column
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		switch h {
		case ColUnit, ColCycle, ColTimestamp, ColSoH:
			idx[h] = i
			continue
		}
		col, err := parseFeatureHeader(i, h)
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: %w", opts.Name, err)
		}
		feats = append(feats, col)
	}
	for _, req := range []string{ColUnit, ColCycle, ColTimestamp} {
		if _, ok := idx[req]; !ok {
			return Dataset{}, fmt.Errorf("%s: missing column %q", opts.Name, req)
		}
	}

	var obs []model.Observation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: line %d: %w", opts.Name, line, err)
		}
		o, err := parseRow(rec, idx, feats, opts.Origin)
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: line %d: %w", opts.Name, line, err)
		}
		obs = append(obs, o)
	}
	if len(obs) == 0 {
		return Dataset{}, fmt.Errorf("%s: %w", opts.Name, ErrNoSensorData)
	}
	if opts.Derive {
		if obs, err = Derive(obs); err != nil {
			return Dataset{}, fmt.Errorf("%s: %w", opts.Name, err)
		}
	} else {
		model.SortObservations(obs)
	}
	d := Dataset{Name: opts.Name, Observations: obs}
	return d, d.Validate()
}

func parseFeatureHeader(i int, h string) (column, error) {
	name, hz, found := strings.Cut(h, "@")
	col := column{index: i, name: strings.TrimSpace(name)}
	if col.name == "" {
		return column{}, fmt.Errorf("column %d has no name", i+1)
	}
	if found {
		d, err := time.ParseDuration(strings.TrimSpace(hz))
		if err != nil {
			return column{}, fmt.Errorf("column %q: horizon: %w", h, err)
		}
		col.horizon = d
	}
	return col, nil
}

func parseRow(rec []string, idx map[string]int, feats []column, origin time.Time) (model.Observation, error) {
	cell := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	o := model.Observation{UnitID: cell(idx[ColUnit])}
	if o.UnitID == "" {
		return o, fmt.Errorf("empty %s", ColUnit)
	}
	k, err := strconv.Atoi(cell(idx[ColCycle]))
	if err != nil {
		return o, fmt.Errorf("%s: %w", ColCycle, err)
	}
	o.Cycle = k
	if o.Timestamp, err = ParseTimestamp(cell(idx[ColTimestamp]), origin); err != nil {
		return o, err
	}
	if i, ok := idx[ColSoH]; ok && cell(i) != "" {
		v, err := parseFinite(cell(i))
		if err != nil {
			return o, fmt.Errorf("%s: %w", ColSoH, err)
		}
		o.SoH = model.SoHValue(v)
	}
	var fs []model.Feature
	for _, c := range feats {
		s := cell(c.index)
		if s == "" {
			continue
		}
		v, err := parseFinite(s)
		if err != nil {
			return o, fmt.Errorf("%s: %w", c.name, err)
		}
		fs = append(fs, model.Feature{Name: c.name, Value: v, Horizon: c.horizon})
	}
	if o.Features, err = model.NewFeatureVector(fs...); err != nil {
		return o, err
	}
	return o, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// ParseTimestamp accepts RFC 3339, unix seconds (optionally fractional), or a
// hh:mm:SS.sss run time added to origin.
func ParseTimestamp(s string, origin time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty %s", ColTimestamp)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if strings.Count(s, ":") == 2 {
		if origin.IsZero() {
			return time.Time{}, fmt.Errorf("run time %q needs an origin", s)
		}
		d, err := parseRunTime(s)
		if err != nil {
			return time.Time{}, err
		}
		return origin.Add(d).UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseRunTime converts hh:mm:SS.sss; hours may exceed 24.
func parseRunTime(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("run time %q: bad hours", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m >= 60 {
		return 0, fmt.Errorf("run time %q: bad minutes", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("run time %q: bad seconds", s)
	}
	total := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	return total + time.Duration(math.Round(sec*1e9)), nil
}

// Write emits d in the format Read accepts, with RFC 3339 timestamps and
// one column per feature name seen in the dataset.
func Write(w io.Writer, d Dataset) error {
	horizons := map[string]time.Duration{}
	for _, o := range d.Observations {
		for _, f := range o.Features.Features() {
			if cur, ok := horizons[f.Name]; !ok || f.Horizon > cur {
				horizons[f.Name] = f.Horizon
			}
		}
	}
	names := make([]string, 0, len(horizons))
	for n := range horizons {
		names = append(names, n)
	}
	sort.Strings(names)

	cw := csv.NewWriter(w)
	header := []string{ColUnit, ColCycle, ColTimestamp, ColSoH}
	for _, n := range names {
		if h := horizons[n]; h > 0 {
			n = n + "@" + h.String()
		}
		header = append(header, n)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, o := range d.Observations {
		rec := []string{o.UnitID, strconv.Itoa(o.Cycle), o.Timestamp.UTC().Format(time.RFC3339Nano), ""}
		if v, ok := o.Observed(); ok {
			rec[3] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		for _, n := range names {
			v, ok := o.Features.Get(n)
			if !ok {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
