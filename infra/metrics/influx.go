package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/infra/logger"
)

// InfluxSink writes benchmark and estimate events to an InfluxDB instance
// using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordCell writes one soh_benchmark_cell point.
func (s *InfluxSink) RecordCell(ev coremetrics.CellEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("soh_benchmark_cell").
		AddTag("run_id", ev.RunID).
		AddTag("model", ev.Model).
		AddTag("dataset", ev.Dataset).
		AddTag("fold", strconv.Itoa(ev.Fold)).
		AddTag("status", ev.Status)
	if ev.ErrorKind != "" {
		p = p.AddTag("error_kind", ev.ErrorKind)
	} else {
		p = p.AddField("mae", round6(ev.MAE)).
			AddField("rmse", round6(ev.RMSE))
		if !math.IsNaN(ev.LjungBoxP) {
			p = p.AddField("ljung_box_p", round6(ev.LjungBoxP))
		}
	}
	p = p.AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordFit writes one soh_fit point.
func (s *InfluxSink) RecordFit(ev coremetrics.FitEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("soh_fit").
		AddTag("model", ev.Model)
	if ev.ErrorKind != "" {
		p = p.AddTag("error_kind", ev.ErrorKind)
	}
	p = p.AddField("params_id", ev.ParamsID).
		AddField("n", ev.N).
		AddField("low_confidence", ev.LowConfidence).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordEstimate writes one soh_estimate point.
func (s *InfluxSink) RecordEstimate(ev coremetrics.EstimateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("soh_estimate").
		AddTag("unit_id", ev.UnitID).
		AddTag("model", ev.Model)
	if ev.Clipped != "" {
		p = p.AddTag("clipped", ev.Clipped)
	}
	p = p.AddField("cycle", ev.Cycle).
		AddField("raw", round6(ev.Raw)).
		AddField("accepted", round6(ev.Accepted)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
