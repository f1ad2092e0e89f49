package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/types"
)

func (a *Agent) siteRoot(domain string) string {
	return filepath.Join(a.cfg.WebRoot, domain)
}

func (a *Agent) vhostPath(domain string) string {
	return filepath.Join(a.cfg.NginxAvailable, domain+".conf")
}

func (a *Agent) enabledPath(domain string) string {
	return filepath.Join(a.cfg.NginxEnabled, domain+".conf")
}

func (a *Agent) poolPath(username, phpVersion string) string {
	return filepath.Join(fmt.Sprintf(a.cfg.PHPPoolDir, phpVersion), username+".conf")
}

func (a *Agent) phpService(phpVersion string) string {
	return fmt.Sprintf(a.cfg.PHPService, phpVersion)
}

func recordData(rec *types.SiteRecord) map[string]interface{} {
	return map[string]interface{}{
		"domain":      rec.Domain,
		"type":        rec.Type,
		"php_version": rec.PHPVersion,
		"db_name":     rec.DBName,
		"db_user":     rec.DBUser,
		"site_root":   rec.SiteRoot,
		"ssl_enabled": rec.SSLEnabled,
		"enabled":     rec.Enabled,
		"created_at":  rec.CreatedAt,
	}
}

// siteCreate provisions a complete site: system user, directory tree,
// web server and pool configs, database, activation and registry record.
// Creating an existing site is a success no-op returning its current
// info.
func (a *Agent) siteCreate(ctx context.Context, req Request) *Response {
	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return Fail(2, "%v", err)
	}

	siteType := types.SiteType(req.Flag("type"))
	if siteType == "" {
		siteType = types.SiteTypePHP
	}
	if !types.ValidSiteType(siteType) {
		return Fail(2, "unknown site type %q", siteType)
	}

	if rec, found, err := a.registry.Find(domain); err != nil {
		return Fail(1, "read registry: %v", err)
	} else if found {
		return OK("site already exists", recordData(rec))
	}

	username := UsernameForDomain(domain)
	needsPHP := siteType != types.SiteTypeStatic
	phpVersion := ""
	if needsPHP {
		phpVersion = req.Flag("php")
		if phpVersion == "" {
			phpVersion = a.cfg.DefaultPHP
		}
	}

	siteRoot := a.siteRoot(domain)
	publicDir := filepath.Join(siteRoot, "public")
	logger := log.WithDomain(domain)

	var (
		createdUser  bool
		createdTree  bool
		poolWritten  bool
		vhostWritten bool
		dbCreated    bool
		dbUserMade   bool
	)
	dbName := ""
	dbUser := ""
	var failure *Response

	defer func() {
		if failure == nil {
			return
		}
		// Creation is all-or-nothing: unwind whatever was built so a
		// retry starts from a clean slate.
		if vhostWritten {
			os.Remove(a.enabledPath(domain))
			os.Remove(a.vhostPath(domain))
		}
		if poolWritten {
			os.Remove(a.poolPath(username, phpVersion))
		}
		if dbUserMade {
			a.runner.Run(ctx, a.cfg.MySQLBinary, "-e", fmt.Sprintf("DROP USER IF EXISTS '%s'@'localhost'; FLUSH PRIVILEGES;", dbUser))
		}
		if dbCreated {
			a.runner.Run(ctx, a.cfg.MySQLBinary, "-e", fmt.Sprintf("DROP DATABASE IF EXISTS `%s`;", dbName))
		}
		if createdUser {
			a.runner.Run(ctx, "userdel", username)
		}
		if createdTree {
			os.RemoveAll(siteRoot)
		}
	}()

	// (a) login-disabled system user derived from the domain
	if _, err := a.runner.Run(ctx, "id", username); err != nil {
		if _, err := a.runner.Run(ctx,
			"useradd",
			"--system",
			"--shell", "/usr/sbin/nologin",
			"--home-dir", siteRoot,
			"--no-create-home",
			username,
		); err != nil {
			failure = Fail(1, "create system user %s: %v", username, err)
			return failure
		}
		createdUser = true
	}

	// (b) directory tree owned by that user, group-readable public subtree
	if _, err := os.Stat(siteRoot); os.IsNotExist(err) {
		createdTree = true
	}
	for _, dir := range []string{publicDir, filepath.Join(siteRoot, "logs"), filepath.Join(siteRoot, "tmp")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			failure = Fail(1, "create site tree: %v", err)
			return failure
		}
	}
	if _, err := a.runner.Run(ctx, "chown", "-R", username+":"+username, siteRoot); err != nil {
		failure = Fail(1, "chown site tree: %v", err)
		return failure
	}
	if _, err := a.runner.Run(ctx, "chown", username+":www-data", publicDir); err != nil {
		failure = Fail(1, "chown public dir: %v", err)
		return failure
	}
	if _, err := a.runner.Run(ctx, "chmod", "750", siteRoot, publicDir); err != nil {
		failure = Fail(1, "chmod site tree: %v", err)
		return failure
	}

	model := vhostModel{
		Domain:         domain,
		PublicDir:      publicDir,
		SiteRoot:       siteRoot,
		Username:       username,
		SharedBasePath: a.cfg.SharedBasePath,
		PHP:            needsPHP,
	}
	if needsPHP {
		model.SocketPath = socketPath(username, phpVersion)
	}

	// (c) pool scoped to the user, then the vhost
	if needsPHP {
		pool, err := renderTemplate("pool", phpPoolTemplate, model)
		if err != nil {
			failure = Fail(1, "%v", err)
			return failure
		}
		poolDir := fmt.Sprintf(a.cfg.PHPPoolDir, phpVersion)
		if err := os.MkdirAll(poolDir, 0o750); err != nil {
			failure = Fail(1, "create pool dir: %v", err)
			return failure
		}
		if err := os.WriteFile(a.poolPath(username, phpVersion), []byte(pool), 0o644); err != nil {
			failure = Fail(1, "write pool config: %v", err)
			return failure
		}
		poolWritten = true
	}

	vhost, err := renderTemplate("vhost", nginxVhostTemplate, model)
	if err != nil {
		failure = Fail(1, "%v", err)
		return failure
	}
	if err := os.MkdirAll(a.cfg.NginxAvailable, 0o750); err != nil {
		failure = Fail(1, "create sites-available dir: %v", err)
		return failure
	}
	if err := os.WriteFile(a.vhostPath(domain), []byte(vhost), 0o644); err != nil {
		failure = Fail(1, "write vhost: %v", err)
		return failure
	}
	vhostWritten = true

	// (d) dedicated database and user with an alphanumeric-only password
	dbPassword := ""
	if needsPHP {
		dbName = DBNameForDomain(domain)
		dbUser = DBUserForDomain(domain)
		dbPassword, err = randomPassword(24)
		if err != nil {
			failure = Fail(1, "%v", err)
			return failure
		}
		create := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci;", dbName)
		if _, err := a.runner.Run(ctx, a.cfg.MySQLBinary, "-e", create); err != nil {
			failure = Fail(1, "create database %s: %v", dbName, err)
			return failure
		}
		dbCreated = true
		grant := fmt.Sprintf(
			"CREATE USER IF NOT EXISTS '%s'@'localhost' IDENTIFIED BY '%s'; GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'localhost'; FLUSH PRIVILEGES;",
			dbUser, dbPassword, dbName, dbUser,
		)
		if _, err := a.runner.Run(ctx, a.cfg.MySQLBinary, "-e", grant); err != nil {
			failure = Fail(1, "create database user %s: %v", dbUser, err)
			return failure
		}
		dbUserMade = true
	}

	// (e) activate and reload
	if err := a.enableSymlink(domain); err != nil {
		failure = Fail(1, "%v", err)
		return failure
	}
	if _, err := a.runner.Run(ctx, "nginx", "-t"); err != nil {
		failure = Fail(1, "nginx config test: %v", err)
		return failure
	}
	if _, err := a.runner.Run(ctx, "systemctl", "reload", "nginx"); err != nil {
		failure = Fail(1, "reload nginx: %v", err)
		return failure
	}
	if needsPHP {
		if _, err := a.runner.Run(ctx, "systemctl", "reload", a.phpService(phpVersion)); err != nil {
			failure = Fail(1, "reload php-fpm: %v", err)
			return failure
		}
	}

	// (f) record in the local registry
	rec := types.SiteRecord{
		Domain:     domain,
		Type:       string(siteType),
		PHPVersion: phpVersion,
		DBName:     dbName,
		DBUser:     dbUser,
		SiteRoot:   siteRoot,
		Enabled:    true,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.registry.Upsert(rec); err != nil {
		failure = Fail(1, "record site: %v", err)
		return failure
	}

	logger.Info().Str("type", string(siteType)).Str("user", username).Msg("site created")
	data := recordData(&rec)
	data["system_user"] = username
	if dbPassword != "" {
		data["db_password"] = dbPassword
	}
	return OK("site created", data)
}

// siteDelete reverses every provisioning step and removes the system
// user. A missing site succeeds only under --force.
func (a *Agent) siteDelete(ctx context.Context, req Request) *Response {
	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return Fail(2, "%v", err)
	}
	rec, found, err := a.registry.Find(domain)
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}
	if !found {
		if req.Bool("force") {
			return OK("site not present", nil)
		}
		return Fail(3, "site %s not found (use --force to ignore)", domain)
	}

	username := UsernameForDomain(domain)

	if err := os.Remove(a.enabledPath(domain)); err != nil && !os.IsNotExist(err) {
		return Fail(1, "remove enabled symlink: %v", err)
	}
	if err := os.Remove(a.vhostPath(domain)); err != nil && !os.IsNotExist(err) {
		return Fail(1, "remove vhost: %v", err)
	}
	if rec.PHPVersion != "" {
		if err := os.Remove(a.poolPath(username, rec.PHPVersion)); err != nil && !os.IsNotExist(err) {
			return Fail(1, "remove pool config: %v", err)
		}
		a.runner.Run(ctx, "systemctl", "reload", a.phpService(rec.PHPVersion))
	}
	a.runner.Run(ctx, "systemctl", "reload", "nginx")

	if rec.DBUser != "" {
		if _, err := a.runner.Run(ctx, a.cfg.MySQLBinary, "-e",
			fmt.Sprintf("DROP USER IF EXISTS '%s'@'localhost'; FLUSH PRIVILEGES;", rec.DBUser)); err != nil {
			return Fail(1, "drop database user: %v", err)
		}
	}
	if rec.DBName != "" {
		if _, err := a.runner.Run(ctx, a.cfg.MySQLBinary, "-e",
			fmt.Sprintf("DROP DATABASE IF EXISTS `%s`;", rec.DBName)); err != nil {
			return Fail(1, "drop database: %v", err)
		}
	}

	if _, err := a.runner.Run(ctx, "id", username); err == nil {
		if _, err := a.runner.Run(ctx, "userdel", username); err != nil {
			return Fail(1, "remove system user: %v", err)
		}
	}
	if err := os.RemoveAll(rec.SiteRoot); err != nil {
		return Fail(1, "remove site tree: %v", err)
	}
	if _, err := a.registry.Remove(domain); err != nil {
		return Fail(1, "update registry: %v", err)
	}

	logger := log.WithDomain(domain)
	logger.Info().Msg("site deleted")
	return OK("site deleted", nil)
}

func (a *Agent) enableSymlink(domain string) error {
	if err := os.MkdirAll(a.cfg.NginxEnabled, 0o750); err != nil {
		return fmt.Errorf("create sites-enabled dir: %w", err)
	}
	enabled := a.enabledPath(domain)
	if err := os.Remove(enabled); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old symlink: %w", err)
	}
	if err := os.Symlink(a.vhostPath(domain), enabled); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return nil
}

func (a *Agent) siteEnable(ctx context.Context, req Request) *Response {
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
	if rec.Enabled {
		return OK("site already enabled", recordData(rec))
	}
	if err := a.enableSymlink(domain); err != nil {
		return Fail(1, "%v", err)
	}
	if _, err := a.runner.Run(ctx, "systemctl", "reload", "nginx"); err != nil {
		return Fail(1, "reload nginx: %v", err)
	}
	rec.Enabled = true
	if err := a.registry.Upsert(*rec); err != nil {
		return Fail(1, "update registry: %v", err)
	}
	return OK("site enabled", recordData(rec))
}

func (a *Agent) siteDisable(ctx context.Context, req Request) *Response {
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
	if !rec.Enabled {
		return OK("site already disabled", recordData(rec))
	}
	if err := os.Remove(a.enabledPath(domain)); err != nil && !os.IsNotExist(err) {
		return Fail(1, "remove symlink: %v", err)
	}
	if _, err := a.runner.Run(ctx, "systemctl", "reload", "nginx"); err != nil {
		return Fail(1, "reload nginx: %v", err)
	}
	rec.Enabled = false
	if err := a.registry.Upsert(*rec); err != nil {
		return Fail(1, "update registry: %v", err)
	}
	return OK("site disabled", recordData(rec))
}

func (a *Agent) siteList(_ context.Context, _ Request) *Response {
	reg, err := a.registry.Load()
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}
	sites := make([]interface{}, 0, len(reg.Sites))
	for i := range reg.Sites {
		sites = append(sites, recordData(&reg.Sites[i]))
	}
	return OK(fmt.Sprintf("%d sites", len(sites)), map[string]interface{}{
		"sites": sites,
		"count": len(sites),
	})
}

func (a *Agent) siteInfo(_ context.Context, req Request) *Response {
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
	return OK("site info", recordData(rec))
}
