// Package orchestrator drives the site lifecycle state machine. It
// turns desired-state records into agent calls, heals failed
// provisioning through failover to healthy nodes, and keeps an
// append-only healing log as the audit trail for every decision.
package orchestrator
