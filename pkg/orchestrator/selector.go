package orchestrator

import (
	"github.com/chomhq/chom/pkg/types"
)

// usableNode filters candidates for placement. Freshly added nodes
// report health unknown until their first probe; they stay eligible so
// an empty fleet can bootstrap, and the connectivity check catches dead
// ones before any command runs.
func usableNode(node *types.Node) bool {
	if node.Status != types.NodeStatusActive {
		return false
	}
	if !node.AcceptsShared {
		return false
	}
	return node.Health == types.HealthHealthy || node.Health == types.HealthUnknown
}

// selectNode picks the least-loaded usable node, excluding excludeID.
// Load is the recorded site count; ties break on the actual number of
// assigned sites in the store.
func (o *Orchestrator) selectNode(excludeID string) (*types.Node, error) {
	nodes, err := o.store.ListNodes()
	if err != nil {
		return nil, err
	}

	var best *types.Node
	bestAssigned := 0
	for _, node := range nodes {
		if node.ID == excludeID || !usableNode(node) {
			continue
		}
		if best == nil || node.SiteCount < best.SiteCount {
			best = node
			bestAssigned = -1
			continue
		}
		if node.SiteCount == best.SiteCount {
			if bestAssigned < 0 {
				bestAssigned = o.assignedCount(best.ID)
			}
			if o.assignedCount(node.ID) < bestAssigned {
				best = node
				bestAssigned = -1
			}
		}
	}
	return best, nil
}

func (o *Orchestrator) assignedCount(nodeID string) int {
	sites, err := o.store.ListSitesByNode(nodeID)
	if err != nil {
		return 0
	}
	return len(sites)
}
