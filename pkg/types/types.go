package types

import (
	"time"
)

// Site represents a hosted website in the desired-state store
type Site struct {
	ID                string
	Domain            string
	Type              SiteType
	RuntimeVersion    string // PHP version for php/laravel/wordpress sites
	Status            SiteStatus
	NodeID            string // Empty while unassigned
	SSLEnabled        bool
	CertExpiresAt     time.Time
	FailureReason     string
	HealingLog        []HealingAttempt // Append-only audit trail
	ProvisionAttempts int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SiteType defines what kind of workload a site runs
type SiteType string

const (
	SiteTypeStatic    SiteType = "static"
	SiteTypePHP       SiteType = "php"
	SiteTypeLaravel   SiteType = "laravel"
	SiteTypeWordPress SiteType = "wordpress"
)

// ValidSiteType reports whether t is a member of the closed site type set.
func ValidSiteType(t SiteType) bool {
	switch t {
	case SiteTypeStatic, SiteTypePHP, SiteTypeLaravel, SiteTypeWordPress:
		return true
	}
	return false
}

// SiteStatus represents the lifecycle state of a site
type SiteStatus string

const (
	SiteStatusPending      SiteStatus = "pending"
	SiteStatusProvisioning SiteStatus = "provisioning"
	SiteStatusActive       SiteStatus = "active"
	SiteStatusFailed       SiteStatus = "failed"
	SiteStatusDisabled     SiteStatus = "disabled"
)

// HealingAttempt is one append-only entry in a site's healing log.
// Entries are never mutated after creation.
type HealingAttempt struct {
	ID        string
	Action    string
	Success   bool
	Result    string
	Attempt   int
	Timestamp time.Time
}

// Node represents a fleet member capable of serving sites
type Node struct {
	ID              string
	Hostname        string
	Address         string
	SSHPort         int
	SSHUser         string
	Status          NodeStatus
	Health          HealthState
	LastHealthCheck time.Time
	CapacityClass   string // e.g. "small", "standard", "large"
	AcceptsShared   bool   // Whether the node accepts shared tenancy
	SiteCount       int    // Recorded count, reconciled against reality
	CreatedAt       time.Time
}

// NodeStatus represents the operational state of a node
type NodeStatus string

const (
	NodeStatusActive         NodeStatus = "active"
	NodeStatusMaintenance    NodeStatus = "maintenance"
	NodeStatusDecommissioned NodeStatus = "decommissioned"
)

// HealthState represents the observed health of a node
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnhealthy   HealthState = "unhealthy"
	HealthUnreachable HealthState = "unreachable"
	HealthUnknown     HealthState = "unknown"
)

// Backup is an immutable point-in-time artifact for a site
type Backup struct {
	ID        string // Deterministic: UTC creation timestamp
	SiteID    string
	Domain    string
	Kind      BackupKind
	Location  string // Storage path; unique per backup
	SizeBytes int64
	Checksum  string // Immutable once set
	Retention time.Duration
	ExpiresAt time.Time
	Status    BackupStatus
	CreatedAt time.Time
}

// BackupKind defines what a backup contains
type BackupKind string

const (
	BackupKindFull     BackupKind = "full"
	BackupKindFiles    BackupKind = "files"
	BackupKindDatabase BackupKind = "database"
)

// BackupStatus represents the lifecycle state of a backup
type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
	BackupStatusExpired   BackupStatus = "expired"
)

// SiteRecord is one entry in a node's local registry, reported by the
// agent's site:list and consumed by the coherency engine.
type SiteRecord struct {
	Domain     string `json:"domain"`
	Type       string `json:"type"`
	PHPVersion string `json:"php_version,omitempty"`
	DBName     string `json:"db_name,omitempty"`
	DBUser     string `json:"db_user,omitempty"`
	SiteRoot   string `json:"site_root"`
	SSLEnabled bool   `json:"ssl_enabled"`
	Enabled    bool   `json:"enabled"`
	CreatedAt  string `json:"created_at"`
}

// Registry is the node-local JSON registry file format
type Registry struct {
	Sites []SiteRecord `json:"sites"`
}
