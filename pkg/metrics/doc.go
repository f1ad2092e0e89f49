/*
Package metrics exposes Prometheus instrumentation for the control plane.

Gauges for fleet inventory (sites by status, nodes by status/health,
backups) are scraped from the desired-state store by Collector on a fixed
interval; counters and histograms for provisioning, bridge calls,
coherency runs and remediations are updated inline by the owning
components.

The Timer helper wraps the start-observe pattern:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BridgeCallDuration)
*/
package metrics
