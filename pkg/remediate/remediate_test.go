package remediate

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/coherency"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/orchestrator"
	"github.com/chomhq/chom/pkg/queue"
	"github.com/chomhq/chom/pkg/storage"
	"github.com/chomhq/chom/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

type nullCaller struct{}

func (nullCaller) Run(context.Context, *types.Node, string, string, []bridge.Arg) (*bridge.Envelope, error) {
	return &bridge.Envelope{Success: true}, nil
}
func (nullCaller) Ping(context.Context, *types.Node) error { return nil }

func newRemediator(t *testing.T) (*Remediator, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.New(1)
	orc := orchestrator.New(store, nullCaller{}, q, nil, nil)
	return New(store, q, orc, nil), store
}

func TestOrphanedSiteResetToPending(t *testing.T) {
	r, store := newRemediator(t)

	site := &types.Site{
		ID:        uuid.NewString(),
		Domain:    "ghost.example.com",
		Type:      types.SiteTypePHP,
		Status:    types.SiteStatusActive,
		NodeID:    "node-1",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateSite(site); err != nil {
		t.Fatal(err)
	}

	report := &coherency.Report{
		CheckType:   "full",
		TotalIssues: 1,
		Counts:      map[coherency.Category]int{coherency.CategoryOrphanedSite: 1},
		Items: map[coherency.Category][]coherency.Issue{
			coherency.CategoryOrphanedSite: {{Category: coherency.CategoryOrphanedSite, Domain: "ghost.example.com", NodeID: "node-1"}},
		},
	}
	r.Apply(context.Background(), report)

	got, err := store.GetSite(site.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.SiteStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestOrphanedBackupRecordPurged(t *testing.T) {
	r, store := newRemediator(t)

	backup := &types.Backup{
		ID:        "20240101000000",
		SiteID:    "deleted-site",
		Domain:    "gone.example.com",
		Kind:      types.BackupKindFiles,
		Location:  "/var/backups/chom/gone.example.com/20240101000000-files.tar.gz",
		Status:    types.BackupStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateBackup(backup); err != nil {
		t.Fatal(err)
	}

	report := &coherency.Report{
		CheckType:   "quick",
		TotalIssues: 1,
		Items: map[coherency.Category][]coherency.Issue{
			coherency.CategoryOrphanedBackup: {{Category: coherency.CategoryOrphanedBackup, Domain: "gone.example.com"}},
		},
	}
	r.Apply(context.Background(), report)

	backups, err := store.ListBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 0 {
		t.Fatalf("backups remaining = %d, want 0", len(backups))
	}
}

func TestCountMismatchCorrected(t *testing.T) {
	r, store := newRemediator(t)

	node := &types.Node{
		ID:            uuid.NewString(),
		Hostname:      "web1",
		Status:        types.NodeStatusActive,
		Health:        types.HealthHealthy,
		AcceptsShared: true,
		SiteCount:     9,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.CreateNode(node); err != nil {
		t.Fatal(err)
	}
	site := &types.Site{
		ID:        uuid.NewString(),
		Domain:    "one.example.com",
		Type:      types.SiteTypePHP,
		Status:    types.SiteStatusActive,
		NodeID:    node.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateSite(site); err != nil {
		t.Fatal(err)
	}

	report := &coherency.Report{
		CheckType:   "quick",
		TotalIssues: 1,
		Items: map[coherency.Category][]coherency.Issue{
			coherency.CategoryCountMismatch: {{Category: coherency.CategoryCountMismatch, NodeID: node.ID, Diff: 8}},
		},
	}
	r.Apply(context.Background(), report)

	got, err := store.GetNode(node.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SiteCount != 1 {
		t.Fatalf("site count = %d, want corrected 1", got.SiteCount)
	}
}

func TestNodeOrphanNeverDeleted(t *testing.T) {
	r, store := newRemediator(t)

	report := &coherency.Report{
		CheckType:   "full",
		TotalIssues: 1,
		Items: map[coherency.Category][]coherency.Issue{
			coherency.CategoryNodeOrphan: {{Category: coherency.CategoryNodeOrphan, Domain: "squatter.example.com", NodeID: "node-1"}},
		},
	}
	// Nothing to assert beyond absence of destructive action: the
	// remediator must not create, dispatch, or delete anything here.
	r.Apply(context.Background(), report)

	sites, err := store.ListSites()
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 0 {
		t.Fatalf("remediator created site records: %d", len(sites))
	}
}
