package orchestrator

import (
	"context"
	"net"
	"strconv"

	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/notify"
	"github.com/chomhq/chom/pkg/probe"
	"github.com/chomhq/chom/pkg/types"
)

// PendingSweepJob enqueues a provisioning job for every pending site.
// It is the safety net that picks up sites registered while the daemon
// was down and retries sites whose terminal state was reset.
type PendingSweepJob struct {
	orc *Orchestrator
}

// NewPendingSweepJob builds the periodic pending-site sweep.
func NewPendingSweepJob(orc *Orchestrator) *PendingSweepJob {
	return &PendingSweepJob{orc: orc}
}

func (j *PendingSweepJob) Name() string { return "reconcile" }

func (j *PendingSweepJob) Run(context.Context) error {
	sites, err := j.orc.store.ListSites()
	if err != nil {
		return err
	}
	enqueued := 0
	for _, site := range sites {
		if site.Status != types.SiteStatusPending {
			continue
		}
		j.orc.queue.Enqueue(NewProvisionJob(j.orc, site.ID))
		enqueued++
	}
	if enqueued > 0 {
		logger := log.WithComponent("reconcile")
		logger.Info().Int("sites", enqueued).Msg("enqueued pending sites")
	}
	return nil
}

// HealthSweepJob probes every node's SSH endpoint and updates its
// recorded health. Consecutive-failure thresholds keep one dropped
// packet from flapping a node.
type HealthSweepJob struct {
	orc      *Orchestrator
	notifier notify.Notifier
	cfg      probe.Config
	statuses map[string]*probe.Status
}

// NewHealthSweepJob builds the periodic node health sweep.
func NewHealthSweepJob(orc *Orchestrator, notifier notify.Notifier) *HealthSweepJob {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &HealthSweepJob{
		orc:      orc,
		notifier: notifier,
		cfg:      probe.DefaultConfig(),
		statuses: make(map[string]*probe.Status),
	}
}

func (j *HealthSweepJob) Name() string { return "reconcile" }

func sshAddr(node *types.Node) string {
	port := node.SSHPort
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(node.Address, strconv.Itoa(port))
}

func (j *HealthSweepJob) Run(ctx context.Context) error {
	o := j.orc
	nodes, err := o.store.ListNodes()
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node.Status != types.NodeStatusActive {
			continue
		}

		status, ok := j.statuses[node.ID]
		if !ok {
			status = probe.NewStatus()
			j.statuses[node.ID] = status
		}
		wasHealthy := status.Healthy

		checker := probe.NewTCPChecker(sshAddr(node)).WithTimeout(j.cfg.Timeout)
		result := checker.Check(ctx)
		status.Update(result, j.cfg)

		node.LastHealthCheck = result.CheckedAt
		if status.Healthy {
			node.Health = types.HealthHealthy
		} else if status.ConsecutiveFailures >= j.cfg.Retries {
			node.Health = types.HealthUnreachable
		} else {
			node.Health = types.HealthDegraded
		}
		if err := o.store.UpdateNode(node); err != nil {
			logger := log.WithNode(node.ID)
			logger.Warn().Err(err).Msg("persist health state")
			continue
		}

		if wasHealthy && !status.Healthy && node.Health == types.HealthUnreachable {
			j.notifier.NodeUnreachable(node, result.Message)
			o.publish(events.EventNodeDown, node.Hostname+" unreachable", map[string]string{"node": node.ID})
		}
		if !wasHealthy && status.Healthy {
			o.publish(events.EventNodeRecovered, node.Hostname+" recovered", map[string]string{"node": node.ID})
		}
	}
	return nil
}
