// Package agent implements the node-side command handler behind the
// chom-agent binary. Every verb is idempotent and replies with a JSON
// envelope on stdout regardless of outcome, so the control plane can
// always parse the result of a remote call.
package agent
