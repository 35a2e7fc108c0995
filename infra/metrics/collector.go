package metrics

import (
	"context"

	"github.com/kilianp07/sohbench/core/events"
	coremetrics "github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/internal/eventbus"
)

// StartEventCollector subscribes to the estimate bus and records each accepted
// estimate on sinks implementing EstimateRecorder. It stops when the context
// is canceled or the bus is closed.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.EstimateEvent], sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	rec, ok := sink.(coremetrics.EstimateRecorder)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				est := ev.Estimate
				_ = rec.RecordEstimate(coremetrics.EstimateEvent{
					UnitID:   est.UnitID,
					Model:    ev.Model,
					Cycle:    est.Cycle,
					Raw:      est.Prediction.RawValue,
					Accepted: est.Accepted,
					Clipped:  string(est.Prediction.Clipped),
					Time:     ev.Time,
				})
			}
		}
	}()
}
