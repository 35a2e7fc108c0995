package metrics

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/sohbench/core/metrics"
)

type capture struct {
	mu     sync.Mutex
	bodies []string
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, strings.TrimSpace(string(data)))
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) expect(t *testing.T, p *write.Point) {
	t.Helper()
	exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 1 || c.bodies[0] != exp {
		t.Errorf("unexpected bodies: %#v, want %q", c.bodies, exp)
	}
}

func TestInfluxSink_RecordCell(t *testing.T) {
	var c capture
	sink := NewInfluxSink(c.server(t).URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.CellEvent{
		RunID: "r1", Model: "power_law", Dataset: "lab", Fold: 0, Status: "ok",
		MAE: 0.0123456789, RMSE: 0.02, LjungBoxP: math.NaN(), Duration: 1500 * time.Microsecond, Time: now,
	}
	if err := sink.RecordCell(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("soh_benchmark_cell").
		AddTag("run_id", "r1").
		AddTag("model", "power_law").
		AddTag("dataset", "lab").
		AddTag("fold", "0").
		AddTag("status", "ok").
		AddField("mae", 0.012346).
		AddField("rmse", 0.02).
		AddField("duration_ms", 1.5).
		SetTime(now)
	c.expect(t, p)
}

func TestInfluxSink_RecordMissingCell(t *testing.T) {
	var c capture
	sink := NewInfluxSink(c.server(t).URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.CellEvent{
		RunID: "r1", Model: "arrhenius", Dataset: "field", Fold: 2, Status: "missing",
		ErrorKind: "missing_covariate", Duration: time.Millisecond, Time: now,
	}
	if err := sink.RecordCell(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("soh_benchmark_cell").
		AddTag("run_id", "r1").
		AddTag("model", "arrhenius").
		AddTag("dataset", "field").
		AddTag("fold", "2").
		AddTag("status", "missing").
		AddTag("error_kind", "missing_covariate").
		AddField("duration_ms", 1.0).
		SetTime(now)
	c.expect(t, p)
}

func TestInfluxSink_RecordEstimate(t *testing.T) {
	var c capture
	sink := NewInfluxSink(c.server(t).URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.EstimateEvent{UnitID: "cell-7", Model: "linear", Cycle: 420, Raw: 1.02, Accepted: 1, Clipped: "upper", Time: now}
	if err := sink.RecordEstimate(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("soh_estimate").
		AddTag("unit_id", "cell-7").
		AddTag("model", "linear").
		AddTag("clipped", "upper").
		AddField("cycle", 420).
		AddField("raw", 1.02).
		AddField("accepted", 1.0).
		SetTime(now)
	c.expect(t, p)
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
