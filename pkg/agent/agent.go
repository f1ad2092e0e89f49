package agent

import (
	"context"

	"github.com/chomhq/chom/pkg/log"
)

// Version is stamped at build time.
var Version = "dev"

// Config holds the filesystem and tooling layout of the node the agent
// runs on. Zero fields fall back to defaults.
type Config struct {
	WebRoot        string // base directory for site trees
	NginxAvailable string
	NginxEnabled   string
	PHPPoolDir     string // pool.d directory, %s expands to the PHP version
	PHPService     string // service unit name, %s expands to the PHP version
	RegistryPath   string
	BackupRoot     string
	CertRoot       string // per-domain live certificate directories
	SharedBasePath string // shared read-only path granted to every pool
	MySQLBinary    string
	MySQLDump      string
	CertbotBinary  string
	DefaultPHP     string
}

func (c *Config) applyDefaults() {
	if c.WebRoot == "" {
		c.WebRoot = "/var/www"
	}
	if c.NginxAvailable == "" {
		c.NginxAvailable = "/etc/nginx/sites-available"
	}
	if c.NginxEnabled == "" {
		c.NginxEnabled = "/etc/nginx/sites-enabled"
	}
	if c.PHPPoolDir == "" {
		c.PHPPoolDir = "/etc/php/%s/fpm/pool.d"
	}
	if c.PHPService == "" {
		c.PHPService = "php%s-fpm"
	}
	if c.RegistryPath == "" {
		c.RegistryPath = "/var/lib/chom-agent/registry.json"
	}
	if c.BackupRoot == "" {
		c.BackupRoot = "/var/backups/chom"
	}
	if c.CertRoot == "" {
		c.CertRoot = "/etc/letsencrypt/live"
	}
	if c.SharedBasePath == "" {
		c.SharedBasePath = "/usr/share/php"
	}
	if c.MySQLBinary == "" {
		c.MySQLBinary = "mysql"
	}
	if c.MySQLDump == "" {
		c.MySQLDump = "mysqldump"
	}
	if c.CertbotBinary == "" {
		c.CertbotBinary = "certbot"
	}
	if c.DefaultPHP == "" {
		c.DefaultPHP = "8.3"
	}
}

type handlerFunc func(ctx context.Context, req Request) *Response

// Agent dispatches verbs to their handlers.
type Agent struct {
	cfg      Config
	runner   Runner
	registry *RegistryFile
	handlers map[Verb]handlerFunc
}

// New creates an agent over the given node layout.
func New(cfg Config, runner Runner) *Agent {
	cfg.applyDefaults()
	if runner == nil {
		runner = ExecRunner{}
	}
	a := &Agent{
		cfg:      cfg,
		runner:   runner,
		registry: NewRegistryFile(cfg.RegistryPath),
	}
	a.handlers = map[Verb]handlerFunc{
		VerbSiteCreate:  a.siteCreate,
		VerbSiteDelete:  a.siteDelete,
		VerbSiteEnable:  a.siteEnable,
		VerbSiteDisable: a.siteDisable,
		VerbSiteList:    a.siteList,
		VerbSiteInfo:    a.siteInfo,

		VerbSSLIssue:  a.sslIssue,
		VerbSSLRenew:  a.sslRenew,
		VerbSSLStatus: a.sslStatus,

		VerbBackupCreate:  a.backupCreate,
		VerbBackupList:    a.backupList,
		VerbBackupRestore: a.backupRestore,

		VerbDatabaseExport:   a.databaseExport,
		VerbDatabaseOptimize: a.databaseOptimize,

		VerbMonitorHealth:    a.monitorHealth,
		VerbMonitorStats:     a.monitorStats,
		VerbMonitorDashboard: a.monitorDashboard,

		VerbCacheClear:    a.cacheClear,
		VerbSecurityAudit: a.securityAudit,

		VerbVersion: a.version,
	}
	return a
}

// Request carries one parsed invocation.
type Request struct {
	Verb   Verb
	Domain string
	Flags  map[string]string
}

// Flag returns the value of a --key=value flag, or "" when absent.
func (r Request) Flag(name string) string {
	return r.Flags[name]
}

// Bool reports whether a boolean flag was passed. Bare flags count as true.
func (r Request) Bool(name string) bool {
	v, ok := r.Flags[name]
	if !ok {
		return false
	}
	return v != "false"
}

// Dispatch routes a request to its handler. The returned envelope is
// never nil; a handler panic becomes a failure envelope so the caller
// still gets parseable output.
func (a *Agent) Dispatch(ctx context.Context, req Request) (resp *Response) {
	defer func() {
		if p := recover(); p != nil {
			logger := log.WithComponent("agent")
			logger.Error().Interface("panic", p).Str("verb", string(req.Verb)).Msg("handler panicked")
			resp = Fail(1, "internal error handling %s: %v", req.Verb, p)
		}
	}()
	h, ok := a.handlers[req.Verb]
	if !ok {
		return Fail(2, "unknown verb %q", req.Verb)
	}
	return h(ctx, req)
}

func (a *Agent) version(context.Context, Request) *Response {
	return OK(Version, map[string]interface{}{"version": Version})
}
