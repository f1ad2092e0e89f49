package agent

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/types"
)

// renewalSkipDays: a certificate with more than this many days left
// makes issuance a success no-op.
const renewalSkipDays = 30

func (a *Agent) certPath(domain string) string {
	return filepath.Join(a.cfg.CertRoot, domain, "fullchain.pem")
}

func (a *Agent) keyPath(domain string) string {
	return filepath.Join(a.cfg.CertRoot, domain, "privkey.pem")
}

// certExpiry parses the leaf certificate and returns its NotAfter.
func (a *Agent) certExpiry(domain string) (time.Time, error) {
	b, err := os.ReadFile(a.certPath(domain))
	if err != nil {
		return time.Time{}, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return time.Time{}, fmt.Errorf("no PEM block in %s", a.certPath(domain))
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse certificate for %s: %w", domain, err)
	}
	return cert.NotAfter, nil
}

func certData(expires time.Time) map[string]interface{} {
	return map[string]interface{}{
		"expires_at":     expires.UTC().Format(time.RFC3339),
		"days_remaining": int(time.Until(expires).Hours() / 24),
	}
}

func (a *Agent) sslIssue(ctx context.Context, req Request) *Response {
	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return Fail(2, "%v", err)
	}
	rec, found, err := a.registry.Find(domain)
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}
	if !found {
		return Fail(3, "site %s not found", domain)
	}

	if expires, err := a.certExpiry(domain); err == nil {
		if time.Until(expires) > renewalSkipDays*24*time.Hour {
			data := certData(expires)
			data["skipped"] = true
			return OK("certificate still valid", data)
		}
	}

	return a.obtainCertificate(ctx, rec.Domain, rec, "certificate issued")
}

func (a *Agent) sslRenew(ctx context.Context, req Request) *Response {
	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return Fail(2, "%v", err)
	}
	rec, found, err := a.registry.Find(domain)
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}
	if !found {
		return Fail(3, "site %s not found", domain)
	}
	return a.obtainCertificate(ctx, domain, rec, "certificate renewed")
}

func (a *Agent) sslStatus(_ context.Context, req Request) *Response {
	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return Fail(2, "%v", err)
	}
	rec, found, err := a.registry.Find(domain)
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}
	if !found {
		return Fail(3, "site %s not found", domain)
	}

	expires, err := a.certExpiry(domain)
	if err != nil {
		return OK("no certificate", map[string]interface{}{
			"has_certificate": false,
			"ssl_enabled":     rec.SSLEnabled,
		})
	}
	data := certData(expires)
	data["has_certificate"] = true
	data["ssl_enabled"] = rec.SSLEnabled
	return OK("certificate status", data)
}

// obtainCertificate runs the webroot challenge against the site's
// public directory, rewrites the vhost for TLS and reloads nginx.
func (a *Agent) obtainCertificate(ctx context.Context, domain string, rec *types.SiteRecord, success string) *Response {
	webroot := filepath.Join(rec.SiteRoot, "public")
	if _, err := a.runner.Run(ctx,
		a.cfg.CertbotBinary, "certonly",
		"--webroot", "--webroot-path", webroot,
		"--domain", domain, "--domain", "www."+domain,
		"--non-interactive", "--agree-tos", "--keep-until-expiring",
	); err != nil {
		return Fail(1, "certbot: %v", err)
	}

	expires, err := a.certExpiry(domain)
	if err != nil {
		return Fail(1, "read issued certificate: %v", err)
	}

	if err := a.ensureTLSVhost(ctx, domain, rec); err != nil {
		return Fail(1, "%v", err)
	}

	if !rec.SSLEnabled {
		rec.SSLEnabled = true
		if err := a.registry.Upsert(*rec); err != nil {
			return Fail(1, "update registry: %v", err)
		}
	}

	logger := log.WithDomain(domain)
	logger.Info().Time("expires_at", expires).Msg(success)
	return OK(success, certData(expires))
}

// ensureTLSVhost appends the TLS server block to the vhost, skipping
// when one is already present so the rewrite is idempotent.
func (a *Agent) ensureTLSVhost(ctx context.Context, domain string, rec *types.SiteRecord) error {
	path := a.vhostPath(domain)
	current, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vhost: %w", err)
	}
	if strings.Contains(string(current), "listen 443") {
		return nil
	}

	model := vhostModel{
		Domain:         domain,
		PublicDir:      filepath.Join(rec.SiteRoot, "public"),
		SiteRoot:       rec.SiteRoot,
		Username:       UsernameForDomain(domain),
		SharedBasePath: a.cfg.SharedBasePath,
		CertPath:       a.certPath(domain),
		KeyPath:        a.keyPath(domain),
		PHP:            rec.PHPVersion != "",
	}
	if model.PHP {
		model.SocketPath = socketPath(model.Username, rec.PHPVersion)
	}
	tlsBlock, err := renderTemplate("tls", tlsServerTemplate, model)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(current, []byte(tlsBlock)...), 0o644); err != nil {
		return fmt.Errorf("write vhost: %w", err)
	}
	if _, err := a.runner.Run(ctx, "nginx", "-t"); err != nil {
		return fmt.Errorf("nginx config test: %w", err)
	}
	if _, err := a.runner.Run(ctx, "systemctl", "reload", "nginx"); err != nil {
		return fmt.Errorf("reload nginx: %w", err)
	}
	return nil
}
