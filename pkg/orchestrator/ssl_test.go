package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/chomhq/chom/pkg/types"
)

func TestRenewalSweepSkipsDistantExpiry(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web1", 0)

	site := f.addSite(t, "example.com", types.SiteStatusActive, node.ID)
	site.SSLEnabled = true
	site.CertExpiresAt = time.Now().Add(45 * 24 * time.Hour)
	f.store.UpdateSite(site)

	if err := NewRenewalSweepJob(f.orc).Run(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.caller.called("ssl:renew") != 0 {
		t.Fatal("renewed a certificate with 45 days remaining")
	}
}

func TestRenewalSweepRenewsWithinThreshold(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web1", 0)

	site := f.addSite(t, "example.com", types.SiteStatusActive, node.ID)
	site.SSLEnabled = true
	site.CertExpiresAt = time.Now().Add(10 * 24 * time.Hour)
	f.store.UpdateSite(site)

	newExpiry := time.Now().UTC().Add(89 * 24 * time.Hour).Truncate(time.Second)
	f.caller.runData["ssl:renew"] = map[string]interface{}{
		"expires_at": newExpiry.Format(time.RFC3339),
	}

	if err := NewRenewalSweepJob(f.orc).Run(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.caller.called("ssl:renew example.com") != 1 {
		t.Fatal("certificate within threshold was not renewed")
	}

	got, _ := f.store.GetSite(site.ID)
	if !got.CertExpiresAt.Equal(newExpiry) {
		t.Fatalf("expiry = %v, want %v from agent data", got.CertExpiresAt, newExpiry)
	}
}

func TestRenewalSweepAssumesLifetimeWithoutAgentData(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web1", 0)

	site := f.addSite(t, "example.com", types.SiteStatusActive, node.ID)
	site.SSLEnabled = true
	site.CertExpiresAt = time.Now().Add(5 * 24 * time.Hour)
	f.store.UpdateSite(site)

	if err := NewRenewalSweepJob(f.orc).Run(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := f.store.GetSite(site.ID)
	remaining := time.Until(got.CertExpiresAt)
	if remaining < 89*24*time.Hour || remaining > 91*24*time.Hour {
		t.Fatalf("assumed expiry %v, want ~90 days out", got.CertExpiresAt)
	}
}

func TestRenewalSweepSkipsSitesWithoutNode(t *testing.T) {
	f := newFixture(t)

	site := f.addSite(t, "orphan.example.com", types.SiteStatusActive, "")
	site.SSLEnabled = true
	site.CertExpiresAt = time.Now().Add(2 * 24 * time.Hour)
	f.store.UpdateSite(site)

	// Skipped is counted, not failed: the sweep still succeeds.
	if err := NewRenewalSweepJob(f.orc).Run(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.caller.called("ssl:renew") != 0 {
		t.Fatal("renewed a site with no node")
	}
}

func TestSSLIssueJobStoresExpiry(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web1", 0)
	site := f.addSite(t, "example.com", types.SiteStatusActive, node.ID)

	expiry := time.Now().UTC().Add(90 * 24 * time.Hour).Truncate(time.Second)
	f.caller.runData["ssl:issue"] = map[string]interface{}{
		"expires_at": expiry.Format(time.RFC3339),
	}

	if err := NewSSLIssueJob(f.orc, site.ID).Run(context.Background()); err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, _ := f.store.GetSite(site.ID)
	if !got.CertExpiresAt.Equal(expiry) {
		t.Fatalf("expiry = %v, want %v", got.CertExpiresAt, expiry)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "web1", 0)
	f.addSite(t, "example.com", types.SiteStatusActive, node.ID)
	ctx := context.Background()

	if err := f.orc.DisableSite(ctx, "example.com"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := f.store.GetSiteByDomain("example.com")
	if got.Status != types.SiteStatusDisabled {
		t.Fatalf("status = %s, want disabled", got.Status)
	}

	// Disabling twice is rejected by the state machine.
	if err := f.orc.DisableSite(ctx, "example.com"); err == nil {
		t.Fatal("disable of disabled site succeeded")
	}

	if err := f.orc.EnableSite(ctx, "example.com"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	got, _ = f.store.GetSiteByDomain("example.com")
	if got.Status != types.SiteStatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}

	if err := f.orc.DeleteSite(ctx, "example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.store.GetSiteByDomain("example.com"); err == nil {
		t.Fatal("site still present after delete")
	}
	if f.caller.called("site:delete example.com") != 1 {
		t.Fatal("node-side delete not dispatched")
	}
}
