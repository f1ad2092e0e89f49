// Package log wraps zerolog with a process-global logger and helpers for
// attaching the fields (component, domain, node_id, job_id) used across
// the control plane and agent.
package log
