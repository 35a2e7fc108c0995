// Package events defines the events published on the estimate bus.
//
// Available event types:
//   - EstimateEvent: an online SoH estimate was accepted
//   - RejectEvent: an online observation was refused by the leakage guard
package events
