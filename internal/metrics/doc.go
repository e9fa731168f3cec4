// Package metrics defines the Prometheus metrics exported by the sound engine.
package metrics
