package coherency

import (
	"context"
	"fmt"
	"time"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/metrics"
	"github.com/chomhq/chom/pkg/storage"
	"github.com/chomhq/chom/pkg/types"
)

// AgentCaller is the slice of the bridge the engine needs for full runs.
type AgentCaller interface {
	Run(ctx context.Context, node *types.Node, verb, domain string, args []bridge.Arg) (*bridge.Envelope, error)
}

// Config tunes detection thresholds.
type Config struct {
	CertHorizonDays int // certificates expiring inside this window are flagged
	DisplayCap      int // max items listed per category
}

// DefaultConfig matches the shipped defaults.
func DefaultConfig() Config {
	return Config{CertHorizonDays: 30, DisplayCap: 20}
}

// Engine runs coherency checks.
type Engine struct {
	store  storage.Store
	bridge AgentCaller
	cfg    Config
}

// NewEngine creates an engine. The bridge may be nil when only quick
// runs are needed.
func NewEngine(store storage.Store, caller AgentCaller, cfg Config) *Engine {
	if cfg.CertHorizonDays <= 0 {
		cfg.CertHorizonDays = 30
	}
	if cfg.DisplayCap <= 0 {
		cfg.DisplayCap = 20
	}
	return &Engine{store: store, bridge: caller, cfg: cfg}
}

// Run performs one coherency pass. Full mode fans out to every
// reachable node; quick mode inspects the store alone.
func (e *Engine) Run(ctx context.Context, full bool) (*Report, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CoherencyRunDuration)
	metrics.CoherencyRunsTotal.Inc()

	checkType := "quick"
	if full {
		checkType = "full"
	}
	report := newReport(checkType)
	logger := log.WithComponent("coherency")

	sites, err := e.store.ListSites()
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	nodes, err := e.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	e.checkOrphanedBackups(sites, report)
	e.checkCountMismatches(nodes, report)
	e.checkExpiringCerts(sites, report)

	if full {
		e.checkNodeInventories(ctx, sites, nodes, report)
	}

	for _, cat := range Categories {
		metrics.CoherencyIssues.WithLabelValues(string(cat)).Set(float64(report.Counts[cat]))
	}

	logger.Info().
		Str("check_type", checkType).
		Int("total_issues", report.TotalIssues).
		Int("unreachable_nodes", len(report.UnreachableNodes)).
		Msg("coherency run complete")
	return report, nil
}

// checkOrphanedBackups flags backup records whose site no longer exists.
func (e *Engine) checkOrphanedBackups(sites []*types.Site, report *Report) {
	known := make(map[string]bool, len(sites))
	for _, s := range sites {
		known[s.ID] = true
	}

	backups, err := e.store.ListBackups()
	if err != nil {
		logger := log.WithComponent("coherency")
		logger.Error().Err(err).Msg("list backups")
		return
	}
	for _, b := range backups {
		if !known[b.SiteID] {
			report.add(Issue{
				Category: CategoryOrphanedBackup,
				Domain:   b.Domain,
				Detail:   fmt.Sprintf("backup %s references deleted site %s", b.ID, b.SiteID),
			}, e.cfg.DisplayCap)
		}
	}
}

// checkCountMismatches compares each node's recorded site count with
// the actual assigned count and reports the signed difference.
func (e *Engine) checkCountMismatches(nodes []*types.Node, report *Report) {
	for _, node := range nodes {
		assigned, err := e.store.ListSitesByNode(node.ID)
		if err != nil {
			continue
		}
		if diff := node.SiteCount - len(assigned); diff != 0 {
			report.add(Issue{
				Category: CategoryCountMismatch,
				NodeID:   node.ID,
				Diff:     diff,
				Detail:   fmt.Sprintf("%s records %d sites, %d assigned (diff %+d)", node.Hostname, node.SiteCount, len(assigned), diff),
			}, e.cfg.DisplayCap)
		}
	}
}

// checkExpiringCerts buckets certificates inside the horizon by urgency.
func (e *Engine) checkExpiringCerts(sites []*types.Site, report *Report) {
	horizon := time.Duration(e.cfg.CertHorizonDays) * 24 * time.Hour
	for _, site := range sites {
		if !site.SSLEnabled || site.CertExpiresAt.IsZero() {
			continue
		}
		remaining := time.Until(site.CertExpiresAt)
		if remaining > horizon {
			continue
		}
		urgency := UrgencyNotice
		switch {
		case remaining <= 7*24*time.Hour:
			urgency = UrgencyCritical
		case remaining <= 14*24*time.Hour:
			urgency = UrgencyWarning
		}
		report.add(Issue{
			Category: CategoryCertExpiring,
			Domain:   site.Domain,
			Urgency:  urgency,
			Detail:   fmt.Sprintf("certificate for %s expires in %d days", site.Domain, int(remaining.Hours()/24)),
		}, e.cfg.DisplayCap)
	}
}

// checkNodeInventories fans out to every node's registry and
// cross-checks it against the desired state in both directions.
func (e *Engine) checkNodeInventories(ctx context.Context, sites []*types.Site, nodes []*types.Node, report *Report) {
	desired := make(map[string]*types.Site, len(sites))
	for _, s := range sites {
		desired[s.Domain] = s
	}

	for _, node := range nodes {
		if node.Status == types.NodeStatusDecommissioned {
			continue
		}
		served, err := e.nodeInventory(ctx, node)
		if err != nil {
			// Coverage degrades; the rest of the report stands.
			report.UnreachableNodes = append(report.UnreachableNodes, node.Hostname)
			logger := log.WithNode(node.ID)
			logger.Warn().Err(err).Msg("node unreachable during coherency run")
			continue
		}

		for domain := range served {
			if _, ok := desired[domain]; !ok {
				report.add(Issue{
					Category: CategoryNodeOrphan,
					Domain:   domain,
					NodeID:   node.ID,
					Detail:   fmt.Sprintf("%s serves %s with no desired-state record", node.Hostname, domain),
				}, e.cfg.DisplayCap)
			}
		}

		for _, site := range sites {
			if site.NodeID != node.ID || site.Status != types.SiteStatusActive {
				continue
			}
			if !served[site.Domain] {
				report.add(Issue{
					Category: CategoryOrphanedSite,
					Domain:   site.Domain,
					NodeID:   node.ID,
					Detail:   fmt.Sprintf("%s is recorded active on %s but not present there", site.Domain, node.Hostname),
				}, e.cfg.DisplayCap)
			}
		}
	}
}

// nodeInventory asks one node's agent for its registry and returns the
// served domain set.
func (e *Engine) nodeInventory(ctx context.Context, node *types.Node) (map[string]bool, error) {
	env, err := e.bridge.Run(ctx, node, "site:list", "", nil)
	if err != nil {
		return nil, err
	}
	served := make(map[string]bool)
	if env.Data == nil {
		return served, nil
	}
	rawSites, _ := env.Data["sites"].([]interface{})
	for _, raw := range rawSites {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if domain, ok := entry["domain"].(string); ok {
			served[domain] = true
		}
	}
	return served, nil
}
