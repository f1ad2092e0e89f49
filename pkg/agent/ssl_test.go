package agent

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTestCert drops a self-signed certificate for domain expiring at
// notAfter into the agent's cert root.
func writeTestCert(t *testing.T, a *Agent, domain string, notAfter time.Time) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(a.cfg.CertRoot, domain)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, "fullchain.pem"), out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSSLIssueSkipsValidCertificate(t *testing.T) {
	a, runner := testAgent(t)
	seedSite(t, a, "example.com")
	writeTestCert(t, a, "example.com", time.Now().Add(60*24*time.Hour))

	resp := a.sslIssue(context.Background(), Request{Verb: VerbSSLIssue, Domain: "example.com"})
	if !resp.Success {
		t.Fatalf("issue failed: %s", resp.Output)
	}
	if resp.Data["skipped"] != true {
		t.Fatal("expected issuance to be skipped")
	}
	if runner.ran("certbot") {
		t.Error("certbot ran despite valid certificate")
	}
}

func TestSSLIssueRunsChallengeWhenExpiringSoon(t *testing.T) {
	a, runner := testAgent(t)
	seedSite(t, a, "example.com")
	writeTestCert(t, a, "example.com", time.Now().Add(10*24*time.Hour))

	resp := a.sslIssue(context.Background(), Request{Verb: VerbSSLIssue, Domain: "example.com"})
	if !resp.Success {
		t.Fatalf("issue failed: %s", resp.Output)
	}
	if !runner.ran("certbot certonly --webroot") {
		t.Error("certbot webroot challenge not run")
	}

	// Vhost gained a TLS server block and the registry records it.
	vhost, err := os.ReadFile(a.vhostPath("example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(vhost), "listen 443 ssl") {
		t.Error("vhost lacks TLS server block")
	}
	rec, _, _ := a.registry.Find("example.com")
	if !rec.SSLEnabled {
		t.Error("registry does not record ssl_enabled")
	}
}

func TestTLSVhostRewriteIsIdempotent(t *testing.T) {
	a, _ := testAgent(t)
	seedSite(t, a, "example.com")
	writeTestCert(t, a, "example.com", time.Now().Add(10*24*time.Hour))
	ctx := context.Background()

	if resp := a.sslIssue(ctx, Request{Verb: VerbSSLIssue, Domain: "example.com"}); !resp.Success {
		t.Fatalf("issue failed: %s", resp.Output)
	}
	first, err := os.ReadFile(a.vhostPath("example.com"))
	if err != nil {
		t.Fatal(err)
	}

	if resp := a.sslRenew(ctx, Request{Verb: VerbSSLRenew, Domain: "example.com"}); !resp.Success {
		t.Fatalf("renew failed: %s", resp.Output)
	}
	second, err := os.ReadFile(a.vhostPath("example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("second rewrite changed the vhost")
	}
}

func TestSSLStatus(t *testing.T) {
	a, _ := testAgent(t)
	seedSite(t, a, "example.com")
	ctx := context.Background()

	resp := a.sslStatus(ctx, Request{Verb: VerbSSLStatus, Domain: "example.com"})
	if !resp.Success {
		t.Fatalf("status failed: %s", resp.Output)
	}
	if resp.Data["has_certificate"] != false {
		t.Fatal("expected no certificate")
	}

	writeTestCert(t, a, "example.com", time.Now().Add(45*24*time.Hour))
	resp = a.sslStatus(ctx, Request{Verb: VerbSSLStatus, Domain: "example.com"})
	if resp.Data["has_certificate"] != true {
		t.Fatal("certificate not reported")
	}
	days, ok := resp.Data["days_remaining"].(int)
	if !ok || days < 43 || days > 45 {
		t.Fatalf("days_remaining = %v", resp.Data["days_remaining"])
	}
}
