package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/types"
)

const (
	// renewThreshold is how close to expiry the sweep acts.
	renewThreshold = 14 * 24 * time.Hour

	// assumedCertLifetime fills in when the agent omits the expiry.
	assumedCertLifetime = 90 * 24 * time.Hour
)

// certExpiryFrom reads the expiry out of an agent reply, defaulting to
// the standard ACME lifetime when absent or unparseable.
func certExpiryFrom(env *bridge.Envelope) time.Time {
	if env != nil && env.Data != nil {
		if raw, ok := env.Data["expires_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC().Add(assumedCertLifetime)
}

// SSLIssueJob obtains the first certificate for a site after a
// successful provision.
type SSLIssueJob struct {
	orc    *Orchestrator
	SiteID string
}

// NewSSLIssueJob builds an issuance job for one site.
func NewSSLIssueJob(orc *Orchestrator, siteID string) *SSLIssueJob {
	return &SSLIssueJob{orc: orc, SiteID: siteID}
}

func (j *SSLIssueJob) Name() string { return "ssl_check" }

func (j *SSLIssueJob) Run(ctx context.Context) error {
	o := j.orc
	site, err := o.store.GetSite(j.SiteID)
	if err != nil {
		return fmt.Errorf("load site %s: %w", j.SiteID, err)
	}
	if site.NodeID == "" {
		return fmt.Errorf("site %s has no node for certificate issuance", site.Domain)
	}
	node, err := o.store.GetNode(site.NodeID)
	if err != nil {
		return fmt.Errorf("load node %s: %w", site.NodeID, err)
	}

	env, err := o.bridge.Run(ctx, node, "ssl:issue", site.Domain, nil)
	if err != nil {
		return fmt.Errorf("issue certificate for %s: %w", site.Domain, err)
	}

	site.CertExpiresAt = certExpiryFrom(env)
	if err := o.saveSite(site); err != nil {
		return err
	}
	o.publish(events.EventCertIssued, "certificate issued for "+site.Domain, map[string]string{"domain": site.Domain})
	logger := log.WithDomain(site.Domain)
	logger.Info().Time("expires_at", site.CertExpiresAt).Msg("certificate issued")
	return nil
}

// RenewalSweepJob walks every TLS-enabled active site and renews those
// within the threshold. Sites without an available node are skipped and
// counted, never failed.
type RenewalSweepJob struct {
	orc *Orchestrator
}

// NewRenewalSweepJob builds the periodic renewal sweep.
func NewRenewalSweepJob(orc *Orchestrator) *RenewalSweepJob {
	return &RenewalSweepJob{orc: orc}
}

func (j *RenewalSweepJob) Name() string { return "ssl_check" }

func (j *RenewalSweepJob) Run(ctx context.Context) error {
	o := j.orc
	logger := log.WithComponent("ssl-sweep")

	sites, err := o.store.ListSites()
	if err != nil {
		return err
	}

	var renewed, skipped, failed int
	for _, site := range sites {
		if !site.SSLEnabled || site.Status != types.SiteStatusActive {
			continue
		}
		if !site.CertExpiresAt.IsZero() && time.Until(site.CertExpiresAt) > renewThreshold {
			continue
		}

		node := j.availableNode(site)
		if node == nil {
			skipped++
			logger.Warn().Str("domain", site.Domain).Msg("renewal skipped, no available node")
			continue
		}

		env, err := o.bridge.Run(ctx, node, "ssl:renew", site.Domain, nil)
		if err != nil {
			failed++
			logger.Error().Err(err).Str("domain", site.Domain).Msg("renewal failed")
			continue
		}

		site.CertExpiresAt = certExpiryFrom(env)
		if err := o.saveSite(site); err != nil {
			logger.Error().Err(err).Str("domain", site.Domain).Msg("persist renewed expiry")
			continue
		}
		renewed++
		o.publish(events.EventCertRenewed, "certificate renewed for "+site.Domain, map[string]string{"domain": site.Domain})
	}

	logger.Info().Int("renewed", renewed).Int("skipped", skipped).Int("failed", failed).Msg("renewal sweep complete")
	if failed > 0 {
		return fmt.Errorf("%d renewals failed", failed)
	}
	return nil
}

func (j *RenewalSweepJob) availableNode(site *types.Site) *types.Node {
	if site.NodeID == "" {
		return nil
	}
	node, err := j.orc.store.GetNode(site.NodeID)
	if err != nil || node.Status != types.NodeStatusActive {
		return nil
	}
	if node.Health == types.HealthUnreachable {
		return nil
	}
	return node
}
