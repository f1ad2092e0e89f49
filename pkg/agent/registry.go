package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chomhq/chom/pkg/types"
)

// RegistryFile is the node's authoritative local record of hosted sites.
// Every mutation goes through write-temp-then-rename so a crashed agent
// never leaves a torn file behind.
type RegistryFile struct {
	path string
}

// NewRegistryFile wraps the registry at path.
func NewRegistryFile(path string) *RegistryFile {
	return &RegistryFile{path: path}
}

// Load reads the registry. A missing file is an empty registry.
func (r *RegistryFile) Load() (*types.Registry, error) {
	b, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return &types.Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var reg types.Registry
	if err := json.Unmarshal(b, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", r.path, err)
	}
	return &reg, nil
}

// Save writes the registry atomically.
func (r *RegistryFile) Save(reg *types.Registry) error {
	b, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp registry: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// Find returns the record for domain, if present.
func (r *RegistryFile) Find(domain string) (*types.SiteRecord, bool, error) {
	reg, err := r.Load()
	if err != nil {
		return nil, false, err
	}
	for i := range reg.Sites {
		if reg.Sites[i].Domain == domain {
			return &reg.Sites[i], true, nil
		}
	}
	return nil, false, nil
}

// Upsert inserts or replaces the record for rec.Domain.
func (r *RegistryFile) Upsert(rec types.SiteRecord) error {
	reg, err := r.Load()
	if err != nil {
		return err
	}
	for i := range reg.Sites {
		if reg.Sites[i].Domain == rec.Domain {
			reg.Sites[i] = rec
			return r.Save(reg)
		}
	}
	reg.Sites = append(reg.Sites, rec)
	return r.Save(reg)
}

// Remove deletes the record for domain and reports whether it existed.
func (r *RegistryFile) Remove(domain string) (bool, error) {
	reg, err := r.Load()
	if err != nil {
		return false, err
	}
	for i := range reg.Sites {
		if reg.Sites[i].Domain == domain {
			reg.Sites = append(reg.Sites[:i], reg.Sites[i+1:]...)
			return true, r.Save(reg)
		}
	}
	return false, nil
}
