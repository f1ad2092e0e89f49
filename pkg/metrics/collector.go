package metrics

import (
	"time"

	"github.com/chomhq/chom/pkg/storage"
	"github.com/chomhq/chom/pkg/types"
)

// Collector periodically scrapes fleet gauges from the desired-state store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSiteMetrics()
	c.collectNodeMetrics()
	c.collectBackupMetrics()
}

func (c *Collector) collectSiteMetrics() {
	sites, err := c.store.ListSites()
	if err != nil {
		return
	}

	counts := map[types.SiteStatus]int{
		types.SiteStatusPending:      0,
		types.SiteStatusProvisioning: 0,
		types.SiteStatusActive:       0,
		types.SiteStatusFailed:       0,
		types.SiteStatusDisabled:     0,
	}
	for _, site := range sites {
		counts[site.Status]++
	}
	for status, count := range counts {
		SitesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes()
	if err != nil {
		return
	}

	counts := make(map[[2]string]int)
	for _, node := range nodes {
		counts[[2]string{string(node.Status), string(node.Health)}]++
	}
	for key, count := range counts {
		NodesTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}

func (c *Collector) collectBackupMetrics() {
	backups, err := c.store.ListBackups()
	if err != nil {
		return
	}

	counts := make(map[types.BackupStatus]int)
	for _, backup := range backups {
		counts[backup.Status]++
	}
	for status, count := range counts {
		BackupsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
