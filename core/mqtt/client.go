// Package mqtt defines the broker contract and topic layout of the online
// estimation bridge.
package mqtt

import (
	"fmt"
	"strings"
)

// Handler receives the topic and payload of one message.
type Handler func(topic string, payload []byte)

// Client publishes payloads and subscribes to topic filters.
type Client interface {
	Publish(topic string, payload []byte) error
	Subscribe(filter string, h Handler) error
}

const (
	DefaultPrefix = "soh"

	kindObservation = "observation"
	kindEstimate    = "estimate"
	kindRejected    = "rejected"
)

// Topics builds the per-unit topics under a prefix: <prefix>/<unit>/<kind>.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Observations is the subscription filter for every unit.
func (t Topics) Observations() string { return t.prefix() + "/+/" + kindObservation }

func (t Topics) Observation(unitID string) string { return t.unit(unitID, kindObservation) }
func (t Topics) Estimate(unitID string) string    { return t.unit(unitID, kindEstimate) }
func (t Topics) Rejected(unitID string) string    { return t.unit(unitID, kindRejected) }

func (t Topics) unit(unitID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), unitID, kind)
}

// UnitOf extracts the unit of an observation topic.
func (t Topics) UnitOf(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	unit, kind, ok := strings.Cut(rest, "/")
	if !ok || unit == "" || kind != kindObservation {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return unit, nil
}
