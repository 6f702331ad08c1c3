// Package metrics registers the Prometheus instrumentation for the engine.
package metrics
