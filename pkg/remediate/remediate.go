// Package remediate turns coherency reports into corrective jobs. It
// only runs when the fleet operates in auto-heal mode; detection-only
// deployments stop at the report.
package remediate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chomhq/chom/pkg/coherency"
	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/metrics"
	"github.com/chomhq/chom/pkg/orchestrator"
	"github.com/chomhq/chom/pkg/queue"
	"github.com/chomhq/chom/pkg/storage"
	"github.com/chomhq/chom/pkg/types"
)

// Remediator dispatches category-specific corrections from a drift
// report. Actions apply to the report's listed items; drift beyond the
// display cap is picked up by subsequent runs.
type Remediator struct {
	store  storage.Store
	queue  *queue.Queue
	orc    *orchestrator.Orchestrator
	broker *events.Broker
}

// New creates a remediator.
func New(store storage.Store, q *queue.Queue, orc *orchestrator.Orchestrator, broker *events.Broker) *Remediator {
	return &Remediator{store: store, queue: q, orc: orc, broker: broker}
}

// Apply walks the report and dispatches one correction per issue:
//
//   - orphaned_site: reset to pending and re-provision
//   - node_orphan: never auto-deleted; surfaced for operator review
//   - orphaned_backup: purge the record, artifact expiry owns the disk
//   - count_mismatch: recount and correct the node record
//   - cert_expiring at warning or worse: schedule a renewal sweep
func (r *Remediator) Apply(ctx context.Context, report *coherency.Report) {
	logger := log.WithComponent("remediate")
	needsRenewalSweep := false

	for _, cat := range coherency.Categories {
		for _, issue := range report.Items[cat] {
			select {
			case <-ctx.Done():
				return
			default:
			}

			switch cat {
			case coherency.CategoryOrphanedSite:
				r.reprovision(issue, logger)

			case coherency.CategoryNodeOrphan:
				// Adoption or removal is an operator decision; an
				// automatic delete could destroy a tenant the store
				// simply lost track of.
				logger.Error().
					Str("domain", issue.Domain).
					Str("node_id", issue.NodeID).
					Msg("node-side orphan requires operator review")
				metrics.RemediationsTotal.WithLabelValues(string(cat)).Inc()

			case coherency.CategoryOrphanedBackup:
				r.purgeBackup(issue, logger)

			case coherency.CategoryCountMismatch:
				r.recount(issue, logger)

			case coherency.CategoryCertExpiring:
				if issue.Urgency != coherency.UrgencyNotice {
					needsRenewalSweep = true
				}
			}
		}
	}

	if needsRenewalSweep {
		r.queue.Enqueue(orchestrator.NewRenewalSweepJob(r.orc))
		metrics.RemediationsTotal.WithLabelValues(string(coherency.CategoryCertExpiring)).Inc()
	}

	if r.broker != nil {
		r.broker.Publish(&events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventDriftRemediated,
			Timestamp: time.Now().UTC(),
			Message:   fmt.Sprintf("remediation dispatched for %d issues (%s check)", report.TotalIssues, report.CheckType),
			Metadata:  map[string]string{"check_type": report.CheckType},
		})
	}
}

// reprovision resets an orphaned desired-state site to pending and
// enqueues a fresh provisioning job.
func (r *Remediator) reprovision(issue coherency.Issue, logger zerolog.Logger) {
	site, err := r.store.GetSiteByDomain(issue.Domain)
	if err != nil {
		logger.Error().Err(err).Str("domain", issue.Domain).Msg("load orphaned site")
		return
	}
	site.Status = types.SiteStatusPending
	site.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSite(site); err != nil {
		logger.Error().Err(err).Str("domain", issue.Domain).Msg("reset orphaned site")
		return
	}
	r.queue.Enqueue(orchestrator.NewProvisionJob(r.orc, site.ID))
	metrics.RemediationsTotal.WithLabelValues(string(coherency.CategoryOrphanedSite)).Inc()
	logger.Info().Str("domain", issue.Domain).Msg("re-provisioning orphaned site")
}

// purgeBackup removes a backup record whose site is gone. The artifact
// on disk is left for its normal expiry.
func (r *Remediator) purgeBackup(issue coherency.Issue, logger zerolog.Logger) {
	backups, err := r.store.ListBackups()
	if err != nil {
		logger.Error().Err(err).Msg("list backups")
		return
	}
	for _, b := range backups {
		if b.Domain != issue.Domain {
			continue
		}
		if _, err := r.store.GetSite(b.SiteID); err == nil {
			continue
		}
		if err := r.store.DeleteBackup(b.ID); err != nil {
			logger.Error().Err(err).Str("backup_id", b.ID).Msg("purge orphaned backup record")
			continue
		}
		metrics.RemediationsTotal.WithLabelValues(string(coherency.CategoryOrphanedBackup)).Inc()
		logger.Info().Str("backup_id", b.ID).Str("domain", b.Domain).Msg("purged orphaned backup record")
	}
}

// recount corrects a node's recorded site count from the store.
func (r *Remediator) recount(issue coherency.Issue, logger zerolog.Logger) {
	node, err := r.store.GetNode(issue.NodeID)
	if err != nil {
		logger.Error().Err(err).Str("node_id", issue.NodeID).Msg("load node for recount")
		return
	}
	sites, err := r.store.ListSitesByNode(node.ID)
	if err != nil {
		logger.Error().Err(err).Str("node_id", issue.NodeID).Msg("recount sites")
		return
	}
	node.SiteCount = len(sites)
	if err := r.store.UpdateNode(node); err != nil {
		logger.Error().Err(err).Str("node_id", issue.NodeID).Msg("correct node record")
		return
	}
	metrics.RemediationsTotal.WithLabelValues(string(coherency.CategoryCountMismatch)).Inc()
	logger.Info().Str("node", node.Hostname).Int("site_count", node.SiteCount).Msg("corrected node site count")
}
