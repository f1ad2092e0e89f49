package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func (a *Agent) serviceActive(ctx context.Context, unit string) bool {
	out, err := a.runner.Run(ctx, "systemctl", "is-active", unit)
	return err == nil && strings.TrimSpace(out) == "active"
}

// diskUsedPercent parses df output for the filesystem holding path.
func (a *Agent) diskUsedPercent(ctx context.Context, path string) (int, error) {
	out, err := a.runner.Run(ctx, "df", "--output=pcent", path)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected df output: %q", out)
	}
	pcent := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(lines[len(lines)-1]), "%"))
	return strconv.Atoi(pcent)
}

func loadAverages() []float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return nil
	}
	loads := make([]float64, 0, 3)
	for _, f := range fields[:3] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		loads = append(loads, v)
	}
	return loads
}

// monitorHealth is the lightweight liveness probe the control plane
// calls. It fails only when a core service is down.
func (a *Agent) monitorHealth(ctx context.Context, _ Request) *Response {
	nginxUp := a.serviceActive(ctx, "nginx")
	mysqlUp := a.serviceActive(ctx, "mysql")

	data := map[string]interface{}{
		"nginx": serviceState(nginxUp),
		"mysql": serviceState(mysqlUp),
	}
	if used, err := a.diskUsedPercent(ctx, a.cfg.WebRoot); err == nil {
		data["disk_used_percent"] = used
	}
	if loads := loadAverages(); loads != nil {
		data["load"] = loads
	}
	if reg, err := a.registry.Load(); err == nil {
		data["site_count"] = len(reg.Sites)
	}

	if !nginxUp || !mysqlUp {
		resp := Fail(1, "core services degraded")
		resp.Data = data
		return resp
	}
	return OK("healthy", data)
}

func serviceState(up bool) string {
	if up {
		return "active"
	}
	return "inactive"
}

func (a *Agent) monitorStats(ctx context.Context, _ Request) *Response {
	reg, err := a.registry.Load()
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}
	enabled, ssl := 0, 0
	for _, s := range reg.Sites {
		if s.Enabled {
			enabled++
		}
		if s.SSLEnabled {
			ssl++
		}
	}
	data := map[string]interface{}{
		"site_count":    len(reg.Sites),
		"enabled_count": enabled,
		"ssl_count":     ssl,
	}
	if used, err := a.diskUsedPercent(ctx, a.cfg.WebRoot); err == nil {
		data["disk_used_percent"] = used
	}
	if out, err := a.runner.Run(ctx, "uptime"); err == nil {
		data["uptime"] = strings.TrimSpace(out)
	}
	return OK("node stats", data)
}

// monitorDashboard is the wide view: health, stats and backup totals in
// one payload.
func (a *Agent) monitorDashboard(ctx context.Context, req Request) *Response {
	health := a.monitorHealth(ctx, req)
	stats := a.monitorStats(ctx, req)
	if !stats.Success {
		return stats
	}

	data := map[string]interface{}{
		"healthy": health.Success,
		"health":  health.Data,
		"stats":   stats.Data,
	}
	if metas, err := a.scanSidecars(""); err == nil {
		data["backup_artifacts"] = len(metas)
	}
	return OK("dashboard", data)
}

// cacheClear empties every site's private tmp directory and reloads the
// PHP pools so opcache drops stale entries.
func (a *Agent) cacheClear(ctx context.Context, _ Request) *Response {
	reg, err := a.registry.Load()
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}

	cleared := 0
	versions := map[string]bool{}
	for _, s := range reg.Sites {
		if s.PHPVersion != "" {
			versions[s.PHPVersion] = true
		}
		tmpDir := filepath.Join(s.SiteRoot, "tmp")
		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(tmpDir, e.Name())); err == nil {
				cleared++
			}
		}
	}
	for v := range versions {
		a.runner.Run(ctx, "systemctl", "reload", a.phpService(v))
	}

	return OK("caches cleared", map[string]interface{}{
		"entries_removed": cleared,
		"pools_reloaded":  len(versions),
	})
}

// securityAudit checks the invariants provisioning establishes: tight
// registry permissions, 750 site trees and login-disabled site users.
func (a *Agent) securityAudit(ctx context.Context, _ Request) *Response {
	reg, err := a.registry.Load()
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}

	var issues []interface{}
	addIssue := func(category, detail string) {
		issues = append(issues, map[string]interface{}{
			"category": category,
			"detail":   detail,
		})
	}

	if info, err := os.Stat(a.cfg.RegistryPath); err == nil {
		if info.Mode().Perm()&0o037 != 0 {
			addIssue("registry_permissions", fmt.Sprintf("registry is %04o, want at most 0640", info.Mode().Perm()))
		}
	}

	for _, s := range reg.Sites {
		if info, err := os.Stat(s.SiteRoot); err == nil {
			if info.Mode().Perm()&0o027 != 0 {
				addIssue("site_permissions", fmt.Sprintf("%s is %04o, want 0750", s.SiteRoot, info.Mode().Perm()))
			}
		}
		username := UsernameForDomain(s.Domain)
		if out, err := a.runner.Run(ctx, "getent", "passwd", username); err == nil {
			fields := strings.Split(strings.TrimSpace(out), ":")
			shell := fields[len(fields)-1]
			if !strings.HasSuffix(shell, "nologin") && !strings.HasSuffix(shell, "false") {
				addIssue("login_enabled", fmt.Sprintf("user %s has shell %s", username, shell))
			}
		}
	}

	return OK(fmt.Sprintf("%d findings", len(issues)), map[string]interface{}{
		"findings": issues,
		"count":    len(issues),
		"audited":  len(reg.Sites),
	})
}

func (a *Agent) databaseExport(ctx context.Context, req Request) *Response {
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
	if rec.DBName == "" {
		return Fail(2, "site %s has no database", domain)
	}

	dir := a.backupDir(domain)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Fail(1, "create export dir: %v", err)
	}
	path := filepath.Join(dir, time.Now().UTC().Format(backupIDFormat)+"-export.sql.gz")
	if err := a.dumpDatabase(ctx, rec.DBName, path); err != nil {
		return Fail(1, "export database: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail(1, "stat export: %v", err)
	}
	return OK("database exported", map[string]interface{}{
		"path":       path,
		"size_bytes": info.Size(),
		"db_name":    rec.DBName,
	})
}

func (a *Agent) databaseOptimize(ctx context.Context, req Request) *Response {
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
	if rec.DBName == "" {
		return Fail(2, "site %s has no database", domain)
	}
	out, err := a.runner.Run(ctx, "mysqlcheck", "--optimize", rec.DBName)
	if err != nil {
		return Fail(1, "optimize database: %v", err)
	}
	return OK(strings.TrimSpace(out), map[string]interface{}{"db_name": rec.DBName})
}
