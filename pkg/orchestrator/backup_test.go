package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/chomhq/chom/pkg/types"
)

func backupEnvelope(id string) map[string]interface{} {
	return map[string]interface{}{
		"backup_id":  id,
		"domain":     "example.com",
		"type":       "full",
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"artifacts": []interface{}{
			map[string]interface{}{
				"type":       "files",
				"path":       "/var/backups/chom/example.com/" + id + "-files.tar.gz",
				"size_bytes": float64(2048),
				"checksum":   "aaaa",
			},
			map[string]interface{}{
				"type":       "database",
				"path":       "/var/backups/chom/example.com/" + id + "-database.sql.gz",
				"size_bytes": float64(512),
				"checksum":   "bbbb",
			},
		},
	}
}

func TestBackupSiteRecordsArtifacts(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web-1", 1)
	site := f.addSite(t, "example.com", types.SiteStatusActive, node.ID)
	f.caller.runData["backup:create"] = backupEnvelope("20260828120000")

	backups, err := f.orc.BackupSite(context.Background(), "example.com", types.BackupKindFull)
	if err != nil {
		t.Fatalf("BackupSite: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("got %d backup records, want 2", len(backups))
	}

	stored, err := f.store.ListBackupsBySite(site.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("store holds %d records, want 2", len(stored))
	}
	byID := map[string]*types.Backup{}
	for _, b := range stored {
		byID[b.ID] = b
	}
	files, ok := byID["20260828120000-files"]
	if !ok {
		t.Fatal("files artifact record missing")
	}
	if files.Kind != types.BackupKindFiles || files.SizeBytes != 2048 || files.Checksum != "aaaa" {
		t.Errorf("files record = %+v", files)
	}
	if files.ExpiresAt.Before(time.Now().Add(29 * 24 * time.Hour)) {
		t.Errorf("retention window too short: %v", files.ExpiresAt)
	}
	if _, ok := byID["20260828120000-database"]; !ok {
		t.Error("database artifact record missing")
	}
}

func TestBackupSiteRequiresAssignedNode(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "example.com", types.SiteStatusPending, "")

	_, err := f.orc.BackupSite(context.Background(), "example.com", types.BackupKindFull)
	if err == nil {
		t.Fatal("expected error for unassigned site")
	}
	if f.caller.called("backup:create") != 0 {
		t.Error("agent should not be called without a node")
	}
}

func TestRestoreBackupDispatchesToNode(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web-1", 1)
	f.addSite(t, "example.com", types.SiteStatusActive, node.ID)

	if err := f.orc.RestoreBackup(context.Background(), "example.com", "20260828120000"); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if f.caller.called("backup:restore example.com") != 1 {
		t.Errorf("calls = %v", f.caller.calls)
	}
}

func TestBackupExpirySweep(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web-1", 1)
	site := f.addSite(t, "example.com", types.SiteStatusActive, node.ID)

	old := &types.Backup{
		ID:        "20250101000000-files",
		SiteID:    site.ID,
		Domain:    "example.com",
		Kind:      types.BackupKindFiles,
		Location:  "/var/backups/chom/example.com/20250101000000-files.tar.gz",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
		Status:    types.BackupStatusCompleted,
		CreatedAt: time.Now().UTC().Add(-31 * 24 * time.Hour),
	}
	fresh := &types.Backup{
		ID:        "20260828120000-files",
		SiteID:    site.ID,
		Domain:    "example.com",
		Kind:      types.BackupKindFiles,
		Location:  "/var/backups/chom/example.com/20260828120000-files.tar.gz",
		ExpiresAt: time.Now().UTC().Add(29 * 24 * time.Hour),
		Status:    types.BackupStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	for _, b := range []*types.Backup{old, fresh} {
		if err := f.store.CreateBackup(b); err != nil {
			t.Fatal(err)
		}
	}

	if err := NewBackupExpiryJob(f.orc).Run(context.Background()); err != nil {
		t.Fatalf("expiry sweep: %v", err)
	}

	remaining, err := f.store.ListBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Errorf("remaining = %+v", remaining)
	}
}
