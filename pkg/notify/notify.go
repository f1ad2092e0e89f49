package notify

import (
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/types"
)

// Notifier delivers administrator alerts. Delivery transport (email,
// chat) lives outside this repo; implementations adapt this interface.
type Notifier interface {
	// SiteFailed reports a terminal provisioning failure with the full
	// healing-attempt trail attached.
	SiteFailed(site *types.Site, reason string, trail []types.HealingAttempt)

	// NodeUnreachable reports a node that dropped out of the fleet.
	NodeUnreachable(node *types.Node, detail string)

	// DriftFound reports a non-empty coherency run.
	DriftFound(totalIssues int, checkType string)
}

// LogNotifier writes alerts to the structured log at elevated severity.
// It is the default implementation and the fallback when no external
// transport is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SiteFailed(site *types.Site, reason string, trail []types.HealingAttempt) {
	logger := log.WithComponent("notify")
	event := logger.Error().
		Str("domain", site.Domain).
		Str("reason", reason).
		Int("provision_attempts", site.ProvisionAttempts)

	actions := make([]string, 0, len(trail))
	for _, attempt := range trail {
		status := "ok"
		if !attempt.Success {
			status = "failed"
		}
		actions = append(actions, attempt.Action+"="+status+": "+attempt.Result)
	}
	event.Strs("healing_trail", actions).Msg("site provisioning failed terminally")
}

func (n *LogNotifier) NodeUnreachable(node *types.Node, detail string) {
	logger := log.WithComponent("notify")
	logger.Error().
		Str("node", node.Hostname).
		Str("detail", detail).
		Msg("node unreachable")
}

func (n *LogNotifier) DriftFound(totalIssues int, checkType string) {
	logger := log.WithComponent("notify")
	logger.Warn().
		Int("total_issues", totalIssues).
		Str("check_type", checkType).
		Msg("coherency drift detected")
}
