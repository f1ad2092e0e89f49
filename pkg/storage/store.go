package storage

import (
	"time"

	"github.com/chomhq/chom/pkg/types"
)

// Store defines the interface for desired-state persistence
type Store interface {
	// Site operations
	CreateSite(site *types.Site) error
	GetSite(id string) (*types.Site, error)
	GetSiteByDomain(domain string) (*types.Site, error)
	ListSites() ([]*types.Site, error)
	ListSitesByNode(nodeID string) ([]*types.Site, error)
	UpdateSite(site *types.Site) error
	DeleteSite(id string) error

	// Node operations
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Backup operations
	CreateBackup(backup *types.Backup) error
	GetBackup(id string) (*types.Backup, error)
	ListBackups() ([]*types.Backup, error)
	ListBackupsBySite(siteID string) ([]*types.Backup, error)
	UpdateBackup(backup *types.Backup) error
	DeleteBackup(id string) error

	// Provisioning leases (per-site mutual exclusion)
	AcquireLock(domain, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(domain, owner string) error

	Close() error
}
