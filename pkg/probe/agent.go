package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/types"
)

// AgentChecker probes a node by asking its agent for a health report.
// Unlike the TCP probe this proves the full path: SSH auth, agent binary,
// and agent-local checks.
type AgentChecker struct {
	bridge *bridge.Bridge
	node   *types.Node
}

// NewAgentChecker creates an agent-level prober for one node
func NewAgentChecker(b *bridge.Bridge, node *types.Node) *AgentChecker {
	return &AgentChecker{bridge: b, node: node}
}

// Check runs monitor:health on the node's agent
func (a *AgentChecker) Check(ctx context.Context) Result {
	start := time.Now()

	env, err := a.bridge.Run(ctx, a.node, "monitor:health", "", nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("agent health check failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   env.Success,
		Message:   env.Output,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
