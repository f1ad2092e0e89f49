package agent

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func seedSite(t *testing.T, a *Agent, domain string) {
	t.Helper()
	if resp := a.siteCreate(context.Background(), createReq(domain, "php")); !resp.Success {
		t.Fatalf("seed site %s: %s", domain, resp.Output)
	}
	// Give the tree some content worth backing up.
	public := filepath.Join(a.siteRoot(domain), "public")
	if err := os.WriteFile(filepath.Join(public, "index.php"), []byte("<?php echo 'hi';\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

var backupIDPattern = regexp.MustCompile(`^\d{14}$`)

func TestBackupCreateFull(t *testing.T) {
	a, _ := testAgent(t)
	seedSite(t, a, "example.com")

	resp := a.backupCreate(context.Background(), Request{Verb: VerbBackupCreate, Domain: "example.com", Flags: map[string]string{"type": "full"}})
	if !resp.Success {
		t.Fatalf("backup failed: %s", resp.Output)
	}

	id, _ := resp.Data["backup_id"].(string)
	if !backupIDPattern.MatchString(id) {
		t.Fatalf("backup_id %q is not a UTC timestamp", id)
	}

	dir := a.backupDir("example.com")
	filesPath := filepath.Join(dir, id+"-files.tar.gz")
	dbPath := filepath.Join(dir, id+"-database.sql.gz")
	for _, p := range []string{filesPath, dbPath, filesPath + metaSuffix, dbPath + metaSuffix} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact %s: %v", p, err)
		}
	}

	meta, err := readSidecar(filesPath + metaSuffix)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if meta.BackupID != id || meta.Domain != "example.com" || meta.Type != "files" {
		t.Fatalf("sidecar = %+v", meta)
	}
	if meta.SizeBytes <= 0 {
		t.Error("sidecar size not recorded")
	}
	if len(meta.Checksum) != 64 {
		t.Errorf("checksum %q is not sha256 hex", meta.Checksum)
	}
	if meta.Path != filesPath {
		t.Errorf("sidecar path = %q", meta.Path)
	}
}

func TestBackupListScansSidecars(t *testing.T) {
	a, _ := testAgent(t)
	seedSite(t, a, "example.com")

	if resp := a.backupCreate(context.Background(), Request{Verb: VerbBackupCreate, Domain: "example.com", Flags: map[string]string{"type": "files"}}); !resp.Success {
		t.Fatalf("backup failed: %s", resp.Output)
	}

	list := a.backupList(context.Background(), Request{Verb: VerbBackupList})
	if !list.Success {
		t.Fatalf("list failed: %s", list.Output)
	}
	if list.Data["count"] != 1 {
		t.Fatalf("count = %v, want 1", list.Data["count"])
	}

	scoped := a.backupList(context.Background(), Request{Verb: VerbBackupList, Domain: "other.example.com"})
	if scoped.Data["count"] != 0 {
		t.Fatalf("scoped count = %v, want 0", scoped.Data["count"])
	}
}

func TestBackupRestoreByIDAlone(t *testing.T) {
	a, _ := testAgent(t)
	seedSite(t, a, "example.com")
	ctx := context.Background()

	created := a.backupCreate(ctx, Request{Verb: VerbBackupCreate, Domain: "example.com", Flags: map[string]string{"type": "files"}})
	if !created.Success {
		t.Fatalf("backup failed: %s", created.Output)
	}
	id := created.Data["backup_id"].(string)

	// Damage the live tree, then restore with only the ID.
	index := filepath.Join(a.siteRoot("example.com"), "public", "index.php")
	if err := os.WriteFile(index, []byte("corrupted"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := a.backupRestore(ctx, Request{Verb: VerbBackupRestore, Flags: map[string]string{"id": id}})
	if !resp.Success {
		t.Fatalf("restore failed: %s", resp.Output)
	}
	if resp.Data["domain"] != "example.com" {
		t.Fatalf("restore recovered domain %v", resp.Data["domain"])
	}

	content, err := os.ReadFile(index)
	if err != nil {
		t.Fatalf("restored file: %v", err)
	}
	if !strings.Contains(string(content), "echo 'hi'") {
		t.Fatalf("restored content = %q", content)
	}

	// The previous live tree was set aside, not destroyed.
	entries, err := os.ReadDir(a.cfg.WebRoot)
	if err != nil {
		t.Fatal(err)
	}
	aside := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "example.com.pre-restore-") {
			aside = true
		}
	}
	if !aside {
		t.Error("live tree was not set aside before restore")
	}
}

func TestBackupRestoreUnknownID(t *testing.T) {
	a, _ := testAgent(t)
	seedSite(t, a, "example.com")
	resp := a.backupRestore(context.Background(), Request{Verb: VerbBackupRestore, Flags: map[string]string{"id": "19700101000000"}})
	if resp.Success {
		t.Fatal("restore of unknown ID succeeded")
	}
}

func TestBackupRequiresKnownSite(t *testing.T) {
	a, _ := testAgent(t)
	resp := a.backupCreate(context.Background(), Request{Verb: VerbBackupCreate, Domain: "ghost.example.com", Flags: map[string]string{}})
	if resp.Success {
		t.Fatal("backup of unknown site succeeded")
	}
}
