// Package infra contains technical adapters: the MQTT client and bridge, the
// SQLite result store and the metrics sinks. These packages depend only on the
// interfaces and types defined in the core packages.
package infra
