package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	coremqtt "github.com/kilianp07/sohbench/core/mqtt"
	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/infra/logger"
)

// Estimator turns one partial observation into an online estimate.
type Estimator interface {
	Estimate(ctx context.Context, o model.Observation) (model.SoHEstimate, error)
}

// Rejection is published when an observation is refused.
type Rejection struct {
	UnitID    string          `json:"unit_id"`
	Cycle     int             `json:"cycle_index"`
	ErrorKind model.ErrorKind `json:"error_kind"`
	Reason    string          `json:"reason"`
}

// Bridge consumes observations from <prefix>/<unit>/observation and answers
// on <prefix>/<unit>/estimate, or <prefix>/<unit>/rejected when the
// observation is refused.
type Bridge struct {
	client Client
	est    Estimator
	topics coremqtt.Topics
	log    logger.Logger
	ctx    context.Context
}

func NewBridge(client Client, est Estimator, prefix string) *Bridge {
	return &Bridge{
		client: client,
		est:    est,
		topics: coremqtt.Topics{Prefix: prefix},
		log:    logger.New("mqtt_bridge"),
		ctx:    context.Background(),
	}
}

// Start subscribes to the observation topics. Messages arriving after ctx
// is done are dropped.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx
	filter := b.topics.Observations()
	if err := b.client.Subscribe(filter, b.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	b.log.Infof("listening on %s", filter)
	return nil
}

func (b *Bridge) handle(topic string, payload []byte) {
	if b.ctx.Err() != nil {
		return
	}
	unit, err := b.topics.UnitOf(topic)
	if err != nil {
		b.log.Warnf("ignoring message: %v", err)
		return
	}
	var o model.Observation
	if err := json.Unmarshal(payload, &o); err != nil {
		b.reject(unit, o.Cycle, fmt.Errorf("decode observation: %w", err))
		return
	}
	if o.UnitID == "" {
		o.UnitID = unit
	}
	if o.UnitID != unit {
		b.reject(unit, o.Cycle, fmt.Errorf("observation for unit %s published on %s", o.UnitID, topic))
		return
	}
	est, err := b.est.Estimate(b.ctx, o)
	if err != nil {
		b.reject(unit, o.Cycle, err)
		return
	}
	b.publish(b.topics.Estimate(unit), est)
}

func (b *Bridge) reject(unit string, cycle int, err error) {
	b.log.Warnf("unit %s cycle %d rejected: %v", unit, cycle, err)
	b.publish(b.topics.Rejected(unit), Rejection{
		UnitID:    unit,
		Cycle:     cycle,
		ErrorKind: model.Kind(err),
		Reason:    err.Error(),
	})
}

func (b *Bridge) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Errorf("encode %s: %v", topic, err)
		return
	}
	if err := b.client.Publish(topic, payload); err != nil {
		b.log.Errorf("publish %s: %v", topic, err)
	}
}
