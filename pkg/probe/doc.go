// Package probe implements node health probing: a cheap TCP connect
// against the SSH endpoint and a full agent-level check via the bridge.
// Status folds consecutive results into a healthy/unhealthy decision.
package probe
