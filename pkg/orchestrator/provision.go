package orchestrator

import (
	"context"
	"fmt"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/metrics"
	"github.com/chomhq/chom/pkg/types"
)

const noHealthyNodeReason = "no healthy node available"

// ProvisionJob drives one site through pending → provisioning →
// active/failed. The queue owns retries (3 attempts, 60s backoff);
// each Run is a single synchronous attempt.
type ProvisionJob struct {
	orc    *Orchestrator
	SiteID string
}

// NewProvisionJob builds a provisioning job for one site.
func NewProvisionJob(orc *Orchestrator, siteID string) *ProvisionJob {
	return &ProvisionJob{orc: orc, SiteID: siteID}
}

func (j *ProvisionJob) Name() string { return "provision" }

func (j *ProvisionJob) Run(ctx context.Context) error {
	o := j.orc
	site, err := o.store.GetSite(j.SiteID)
	if err != nil {
		return fmt.Errorf("load site %s: %w", j.SiteID, err)
	}
	logger := log.WithDomain(site.Domain)

	// The lease serializes concurrent provisioning attempts for the
	// same site across workers.
	owner := "provision/" + j.SiteID
	acquired, err := o.store.AcquireLock(site.Domain, owner, o.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire provisioning lease: %w", err)
	}
	if !acquired {
		return fmt.Errorf("provisioning lease for %s held elsewhere", site.Domain)
	}
	defer o.store.ReleaseLock(site.Domain, owner)

	if site.Status == types.SiteStatusActive {
		return nil
	}

	site.Status = types.SiteStatusProvisioning
	site.ProvisionAttempts++
	if err := o.saveSite(site); err != nil {
		return err
	}

	node, failedOver, err := j.resolveNode(ctx, site)
	if err != nil {
		return err
	}
	if node == nil {
		// Terminal: returning nil keeps the queue from retrying a
		// placement that cannot succeed.
		site.Status = types.SiteStatusFailed
		site.FailureReason = noHealthyNodeReason
		appendHealing(site, "select_node", false, noHealthyNodeReason)
		if err := o.saveSite(site); err != nil {
			logger.Error().Err(err).Msg("persist terminal failure")
		}
		metrics.ProvisionAttemptsTotal.WithLabelValues("failed").Inc()
		o.notifier.SiteFailed(site, noHealthyNodeReason, site.HealingLog)
		o.publish(events.EventSiteFailed, "no healthy node for "+site.Domain, map[string]string{"domain": site.Domain})
		return nil
	}

	if failedOver {
		site.NodeID = node.ID
		appendHealing(site, "failover", true, "reassigned to "+node.Hostname)
		metrics.FailoversTotal.Inc()
		o.publish(events.EventSiteFailover, site.Domain+" moved to "+node.Hostname, map[string]string{
			"domain": site.Domain,
			"node":   node.ID,
		})
		if err := o.saveSite(site); err != nil {
			return err
		}
	}

	if err := o.bridge.Ping(ctx, node); err != nil {
		appendHealing(site, "verify_connectivity", false, err.Error())
		o.saveSite(site)
		metrics.ProvisionAttemptsTotal.WithLabelValues("retry").Inc()
		return fmt.Errorf("node %s unreachable: %w", node.Hostname, err)
	}
	appendHealing(site, "verify_connectivity", true, node.Hostname+" reachable")

	// Earlier attempts may have left partial state behind. Only retries
	// clean up; the first attempt starts from nothing.
	if site.ProvisionAttempts > 1 {
		_, err := o.bridge.Run(ctx, node, "site:delete", site.Domain, []bridge.Arg{{Name: "force", Value: true}})
		if err != nil {
			appendHealing(site, "cleanup_partial", false, err.Error())
		} else {
			appendHealing(site, "cleanup_partial", true, "partial remote state removed")
		}
	}

	args := []bridge.Arg{{Name: "type", Value: string(site.Type)}}
	if site.RuntimeVersion != "" {
		args = append(args, bridge.Arg{Name: "php", Value: site.RuntimeVersion})
	}
	if _, err := o.bridge.Run(ctx, node, "site:create", site.Domain, args); err != nil {
		appendHealing(site, "site_create", false, err.Error())
		o.saveSite(site)
		metrics.ProvisionAttemptsTotal.WithLabelValues("retry").Inc()
		return fmt.Errorf("create %s on %s: %w", site.Domain, node.Hostname, err)
	}

	site.Status = types.SiteStatusActive
	site.FailureReason = ""
	appendHealing(site, "site_create", true, "provisioned on "+node.Hostname)
	if err := o.saveSite(site); err != nil {
		return err
	}

	node.SiteCount = o.assignedCount(node.ID)
	if err := o.store.UpdateNode(node); err != nil {
		logger.Warn().Err(err).Msg("update node site count")
	}

	metrics.ProvisionAttemptsTotal.WithLabelValues("success").Inc()
	o.publish(events.EventSiteProvisioned, site.Domain+" active on "+node.Hostname, map[string]string{
		"domain": site.Domain,
		"node":   node.ID,
	})
	logger.Info().Str("node", node.Hostname).Int("attempts", site.ProvisionAttempts).Msg("site provisioned")

	// TLS is a separate job so certificate trouble never rolls back a
	// healthy provision.
	if site.SSLEnabled {
		o.queue.Enqueue(&SSLIssueJob{orc: o, SiteID: site.ID})
	}
	return nil
}

// resolveNode keeps the current node when it is active and answers a
// live probe; otherwise it marks the node and selects a replacement.
// A nil node with nil error means no candidate exists.
func (j *ProvisionJob) resolveNode(ctx context.Context, site *types.Site) (*types.Node, bool, error) {
	o := j.orc

	if site.NodeID != "" {
		node, err := o.store.GetNode(site.NodeID)
		if err == nil && node.Status == types.NodeStatusActive {
			pingErr := o.bridge.Ping(ctx, node)
			if pingErr == nil {
				appendHealing(site, "resolve_node", true, "kept "+node.Hostname)
				return node, false, nil
			}
			appendHealing(site, "resolve_node", false, node.Hostname+" probe failed: "+pingErr.Error())
			node.Health = types.HealthUnreachable
			if uerr := o.store.UpdateNode(node); uerr != nil {
				logger := log.WithNode(node.ID)
				logger.Warn().Err(uerr).Msg("mark node unreachable")
			}
			o.publish(events.EventNodeDown, node.Hostname+" failed provisioning probe", map[string]string{"node": node.ID})
		} else if err == nil {
			appendHealing(site, "resolve_node", false, node.Hostname+" is "+string(node.Status))
		}
	}

	replacement, err := o.selectNode(site.NodeID)
	if err != nil {
		return nil, false, err
	}
	if replacement == nil {
		return nil, false, nil
	}
	return replacement, replacement.ID != site.NodeID, nil
}

// Exhausted fires after the queue's final attempt fails: the site lands
// in failed and administrators get the full healing trail.
func (j *ProvisionJob) Exhausted(lastErr error) {
	o := j.orc
	site, err := o.store.GetSite(j.SiteID)
	if err != nil {
		logger := log.WithComponent("orchestrator")
		logger.Error().Err(err).Str("site_id", j.SiteID).Msg("load site after exhaustion")
		return
	}
	site.Status = types.SiteStatusFailed
	site.FailureReason = lastErr.Error()
	appendHealing(site, "exhausted", false, lastErr.Error())
	if err := o.saveSite(site); err != nil {
		logger := log.WithDomain(site.Domain)
		logger.Error().Err(err).Msg("persist exhaustion")
	}
	metrics.ProvisionAttemptsTotal.WithLabelValues("failed").Inc()
	o.notifier.SiteFailed(site, lastErr.Error(), site.HealingLog)
	o.publish(events.EventSiteFailed, site.Domain+" failed: "+lastErr.Error(), map[string]string{"domain": site.Domain})
}
