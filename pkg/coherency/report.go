package coherency

import (
	"time"
)

// Category is one class of drift.
type Category string

const (
	// CategoryOrphanedSite: recorded active with no node-side presence.
	CategoryOrphanedSite Category = "orphaned_site"

	// CategoryNodeOrphan: served by a node with no desired-state record.
	CategoryNodeOrphan Category = "node_orphan"

	// CategoryOrphanedBackup: backup referencing a deleted site.
	CategoryOrphanedBackup Category = "orphaned_backup"

	// CategoryCountMismatch: node's recorded site count disagrees with
	// its actual assigned count.
	CategoryCountMismatch Category = "count_mismatch"

	// CategoryCertExpiring: certificate inside the configured horizon.
	CategoryCertExpiring Category = "cert_expiring"
)

// Categories lists every drift class in report order.
var Categories = []Category{
	CategoryOrphanedSite,
	CategoryNodeOrphan,
	CategoryOrphanedBackup,
	CategoryCountMismatch,
	CategoryCertExpiring,
}

// Urgency buckets for expiring certificates.
const (
	UrgencyCritical = "critical" // ≤7 days
	UrgencyWarning  = "warning"  // ≤14 days
	UrgencyNotice   = "notice"   // beyond, inside the horizon
)

// Issue is one drift finding.
type Issue struct {
	Category Category `json:"category"`
	Domain   string   `json:"domain,omitempty"`
	NodeID   string   `json:"node_id,omitempty"`
	Detail   string   `json:"detail"`

	// Urgency is set for cert_expiring issues only.
	Urgency string `json:"urgency,omitempty"`

	// Diff is set for count_mismatch issues: recorded minus actual.
	Diff int `json:"diff,omitempty"`
}

// Report is the outcome of one coherency run. Counts are never capped;
// Items holds at most the display cap per category.
type Report struct {
	CheckType        string               `json:"check_type"` // "quick" or "full"
	Timestamp        time.Time            `json:"timestamp"`
	TotalIssues      int                  `json:"total_issues"`
	Counts           map[Category]int     `json:"counts"`
	Items            map[Category][]Issue `json:"items"`
	UnreachableNodes []string             `json:"unreachable_nodes,omitempty"`
}

func newReport(checkType string) *Report {
	return &Report{
		CheckType: checkType,
		Timestamp: time.Now().UTC(),
		Counts:    make(map[Category]int),
		Items:     make(map[Category][]Issue),
	}
}

// add records an issue, capping the display list but never the count.
func (r *Report) add(issue Issue, displayCap int) {
	r.TotalIssues++
	r.Counts[issue.Category]++
	if len(r.Items[issue.Category]) < displayCap {
		r.Items[issue.Category] = append(r.Items[issue.Category], issue)
	}
}
