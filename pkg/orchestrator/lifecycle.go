package orchestrator

import (
	"context"
	"fmt"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/types"
)

// EnableSite re-activates a disabled site on its node.
func (o *Orchestrator) EnableSite(ctx context.Context, domain string) error {
	site, err := o.store.GetSiteByDomain(domain)
	if err != nil {
		return err
	}
	if site.Status != types.SiteStatusDisabled {
		return fmt.Errorf("site %s is %s, only disabled sites can be enabled", domain, site.Status)
	}
	node, err := o.store.GetNode(site.NodeID)
	if err != nil {
		return fmt.Errorf("load node for %s: %w", domain, err)
	}
	if _, err := o.bridge.Run(ctx, node, "site:enable", domain, nil); err != nil {
		return err
	}
	site.Status = types.SiteStatusActive
	return o.saveSite(site)
}

// DisableSite takes an active site offline without removing anything.
func (o *Orchestrator) DisableSite(ctx context.Context, domain string) error {
	site, err := o.store.GetSiteByDomain(domain)
	if err != nil {
		return err
	}
	if site.Status != types.SiteStatusActive {
		return fmt.Errorf("site %s is %s, only active sites can be disabled", domain, site.Status)
	}
	node, err := o.store.GetNode(site.NodeID)
	if err != nil {
		return fmt.Errorf("load node for %s: %w", domain, err)
	}
	if _, err := o.bridge.Run(ctx, node, "site:disable", domain, nil); err != nil {
		return err
	}
	site.Status = types.SiteStatusDisabled
	if err := o.saveSite(site); err != nil {
		return err
	}
	o.publish(events.EventSiteDisabled, domain+" disabled", map[string]string{"domain": domain})
	return nil
}

// DeleteSite removes the site from its node and the desired state. The
// node-side delete is forced so a half-provisioned site still goes
// away; an unreachable node only logs, the record is removed anyway.
func (o *Orchestrator) DeleteSite(ctx context.Context, domain string) error {
	site, err := o.store.GetSiteByDomain(domain)
	if err != nil {
		return err
	}

	if site.NodeID != "" {
		node, err := o.store.GetNode(site.NodeID)
		if err == nil {
			if _, err := o.bridge.Run(ctx, node, "site:delete", domain, []bridge.Arg{{Name: "force", Value: true}}); err != nil {
				logger := log.WithDomain(domain)
				logger.Warn().Err(err).Str("node", node.Hostname).Msg("node-side delete failed, removing record anyway")
			}
		}
	}

	if err := o.store.DeleteSite(site.ID); err != nil {
		return err
	}
	o.publish(events.EventSiteDeleted, domain+" deleted", map[string]string{"domain": domain})
	return nil
}
