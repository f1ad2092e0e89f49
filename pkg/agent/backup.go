package agent

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chomhq/chom/pkg/log"
)

// backupIDFormat makes identifiers deterministic: the UTC creation
// timestamp is the ID, so a backup can be located without an index.
const backupIDFormat = "20060102150405"

const metaSuffix = ".meta.json"

// BackupMeta is the sidecar written next to every artifact. Sidecars
// are the ground truth for listing and for recovering the domain when
// only an ID is known.
type BackupMeta struct {
	BackupID  string `json:"backup_id"`
	Domain    string `json:"domain"`
	Type      string `json:"type"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
	Path      string `json:"path"`
	Checksum  string `json:"checksum,omitempty"`
}

func (a *Agent) backupDir(domain string) string {
	return filepath.Join(a.cfg.BackupRoot, domain)
}

func writeSidecar(artifactPath string, meta BackupMeta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup metadata: %w", err)
	}
	if err := os.WriteFile(artifactPath+metaSuffix, b, 0o640); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	return nil
}

func readSidecar(path string) (BackupMeta, error) {
	var meta BackupMeta
	b, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read backup metadata: %w", err)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("parse backup metadata %s: %w", path, err)
	}
	return meta, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// backupCreate writes the requested artifacts for a site. Files and
// database components are stored, sized and checksummed independently;
// type full produces both.
func (a *Agent) backupCreate(ctx context.Context, req Request) *Response {
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

	kind := req.Flag("type")
	if kind == "" {
		kind = "full"
	}
	switch kind {
	case "full", "files", "database":
	default:
		return Fail(2, "unknown backup type %q", kind)
	}
	if kind != "files" && rec.DBName == "" {
		if kind == "database" {
			return Fail(2, "site %s has no database", domain)
		}
		kind = "files"
	}

	now := time.Now().UTC()
	id := now.Format(backupIDFormat)
	createdAt := now.Format(time.RFC3339)
	dir := a.backupDir(domain)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Fail(1, "create backup dir: %v", err)
	}

	artifacts := make([]map[string]interface{}, 0, 2)

	addArtifact := func(path, artifactType string) *Response {
		info, err := os.Stat(path)
		if err != nil {
			return Fail(1, "stat backup artifact: %v", err)
		}
		sum, err := fileChecksum(path)
		if err != nil {
			return Fail(1, "checksum backup artifact: %v", err)
		}
		meta := BackupMeta{
			BackupID:  id,
			Domain:    domain,
			Type:      artifactType,
			SizeBytes: info.Size(),
			CreatedAt: createdAt,
			Path:      path,
			Checksum:  sum,
		}
		if err := writeSidecar(path, meta); err != nil {
			return Fail(1, "%v", err)
		}
		artifacts = append(artifacts, map[string]interface{}{
			"type":       artifactType,
			"path":       path,
			"size_bytes": info.Size(),
			"checksum":   sum,
		})
		return nil
	}

	if kind == "full" || kind == "files" {
		path := filepath.Join(dir, id+"-files.tar.gz")
		if err := tarTree(rec.SiteRoot, path); err != nil {
			return Fail(1, "archive site files: %v", err)
		}
		if resp := addArtifact(path, "files"); resp != nil {
			return resp
		}
	}

	if kind == "full" || kind == "database" {
		path := filepath.Join(dir, id+"-database.sql.gz")
		if err := a.dumpDatabase(ctx, rec.DBName, path); err != nil {
			return Fail(1, "dump database: %v", err)
		}
		if resp := addArtifact(path, "database"); resp != nil {
			return resp
		}
	}

	logger := log.WithDomain(domain)
	logger.Info().Str("backup_id", id).Str("type", kind).Msg("backup created")
	return OK("backup created", map[string]interface{}{
		"backup_id":  id,
		"domain":     domain,
		"type":       kind,
		"created_at": createdAt,
		"artifacts":  artifacts,
	})
}

// backupList scans metadata sidecars, optionally scoped to one domain.
func (a *Agent) backupList(_ context.Context, req Request) *Response {
	var metas []BackupMeta
	var err error
	if req.Domain != "" {
		domain, derr := NormalizeDomain(req.Domain)
		if derr != nil {
			return Fail(2, "%v", derr)
		}
		metas, err = a.scanSidecars(domain)
	} else {
		metas, err = a.scanSidecars("")
	}
	if err != nil {
		return Fail(1, "scan backups: %v", err)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].BackupID > metas[j].BackupID })

	items := make([]interface{}, 0, len(metas))
	for _, m := range metas {
		items = append(items, map[string]interface{}{
			"backup_id":  m.BackupID,
			"domain":     m.Domain,
			"type":       m.Type,
			"size_bytes": m.SizeBytes,
			"created_at": m.CreatedAt,
			"path":       m.Path,
		})
	}
	return OK(fmt.Sprintf("%d backup artifacts", len(items)), map[string]interface{}{
		"backups": items,
		"count":   len(items),
	})
}

// backupRestore applies the artifacts of one backup ID. When no domain
// is passed it is recovered from the sidecars. The live tree is renamed
// aside before extraction, never destroyed.
func (a *Agent) backupRestore(ctx context.Context, req Request) *Response {
	id := req.Flag("id")
	if id == "" {
		return Fail(2, "--id is required")
	}

	domain := req.Domain
	if domain != "" {
		var err error
		domain, err = NormalizeDomain(domain)
		if err != nil {
			return Fail(2, "%v", err)
		}
	}

	metas, err := a.scanSidecars(domain)
	if err != nil {
		return Fail(1, "scan backups: %v", err)
	}
	var matched []BackupMeta
	for _, m := range metas {
		if m.BackupID == id {
			matched = append(matched, m)
		}
	}
	if len(matched) == 0 {
		return Fail(3, "no backup %s found", id)
	}
	domain = matched[0].Domain

	rec, found, err := a.registry.Find(domain)
	if err != nil {
		return Fail(1, "read registry: %v", err)
	}
	if !found {
		return Fail(3, "site %s not found", domain)
	}

	restored := make([]string, 0, len(matched))
	for _, m := range matched {
		switch m.Type {
		case "files":
			aside := rec.SiteRoot + ".pre-restore-" + time.Now().UTC().Format(backupIDFormat)
			if _, err := os.Stat(rec.SiteRoot); err == nil {
				if err := os.Rename(rec.SiteRoot, aside); err != nil {
					return Fail(1, "set live tree aside: %v", err)
				}
			}
			if err := untarTree(m.Path, rec.SiteRoot); err != nil {
				return Fail(1, "extract files backup: %v", err)
			}
			username := UsernameForDomain(domain)
			if _, err := a.runner.Run(ctx, "chown", "-R", username+":"+username, rec.SiteRoot); err != nil {
				return Fail(1, "chown restored tree: %v", err)
			}
			restored = append(restored, "files")
		case "database":
			if rec.DBName == "" {
				return Fail(2, "site %s has no database to restore into", domain)
			}
			if err := a.restoreDatabase(ctx, rec.DBName, m.Path); err != nil {
				return Fail(1, "restore database: %v", err)
			}
			restored = append(restored, "database")
		}
	}

	logger := log.WithDomain(domain)
	logger.Info().Str("backup_id", id).Strs("restored", restored).Msg("backup restored")
	return OK("backup restored", map[string]interface{}{
		"backup_id": id,
		"domain":    domain,
		"restored":  restored,
	})
}

// scanSidecars walks the backup root and decodes every sidecar. An
// empty domain scans every site's directory.
func (a *Agent) scanSidecars(domain string) ([]BackupMeta, error) {
	roots := []string{}
	if domain != "" {
		roots = append(roots, a.backupDir(domain))
	} else {
		entries, err := os.ReadDir(a.cfg.BackupRoot)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				roots = append(roots, filepath.Join(a.cfg.BackupRoot, e.Name()))
			}
		}
	}

	var metas []BackupMeta
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
				continue
			}
			meta, err := readSidecar(filepath.Join(root, e.Name()))
			if err != nil {
				logger := log.WithComponent("agent")
				logger.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable backup sidecar")
				continue
			}
			metas = append(metas, meta)
		}
	}
	return metas, nil
}

func (a *Agent) dumpDatabase(ctx context.Context, dbName, path string) error {
	dump, err := a.runner.Output(ctx, a.cfg.MySQLDump, "--single-transaction", "--quick", dbName)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(dump); err != nil {
		gz.Close()
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// restoreDatabase decompresses the dump to a private temp file, applies
// it, and removes the temp file on every path.
func (a *Agent) restoreDatabase(ctx context.Context, dbName, dumpPath string) error {
	f, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open dump %s: %w", dumpPath, err)
	}
	defer gz.Close()

	tmp, err := os.CreateTemp("", "chom-restore-*.sql")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := io.Copy(tmp, gz); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	_, err = a.runner.Run(ctx, a.cfg.MySQLBinary, dbName, "-e", "source "+tmpName)
	return err
}

// tarTree archives the directory at root into a gzipped tarball with
// paths relative to root.
func tarTree(root, dest string) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gz.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := out.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	return walkErr
}

// untarTree extracts a gzipped tarball into dest, refusing entries that
// escape it.
func untarTree(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			w, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(w, tr); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
		}
	}
}
