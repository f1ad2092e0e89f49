package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chomhq/chom/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSites   = []byte("sites")
	bucketNodes   = []byte("nodes")
	bucketBackups = []byte("backups")
	bucketLocks   = []byte("locks")
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "chom.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketSites, bucketNodes, bucketBackups, bucketLocks}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Site operations
func (s *BoltStore) CreateSite(site *types.Site) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSites)
		data, err := json.Marshal(site)
		if err != nil {
			return err
		}
		return b.Put([]byte(site.ID), data)
	})
}

func (s *BoltStore) GetSite(id string) (*types.Site, error) {
	var site types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSites)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("site %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &site)
	})
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *BoltStore) GetSiteByDomain(domain string) (*types.Site, error) {
	var found *types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSites)
		return b.ForEach(func(k, v []byte) error {
			var site types.Site
			if err := json.Unmarshal(v, &site); err != nil {
				return err
			}
			if site.Domain == domain {
				found = &site
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("site %s: %w", domain, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListSites() ([]*types.Site, error) {
	var sites []*types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSites)
		return b.ForEach(func(k, v []byte) error {
			var site types.Site
			if err := json.Unmarshal(v, &site); err != nil {
				return err
			}
			sites = append(sites, &site)
			return nil
		})
	})
	return sites, err
}

func (s *BoltStore) ListSitesByNode(nodeID string) ([]*types.Site, error) {
	sites, err := s.ListSites()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Site
	for _, site := range sites {
		if site.NodeID == nodeID {
			filtered = append(filtered, site)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateSite(site *types.Site) error {
	site.UpdatedAt = time.Now()
	return s.CreateSite(site) // Upsert
}

func (s *BoltStore) DeleteSite(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSites)
		return b.Delete([]byte(id))
	})
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // Upsert
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Backup operations
func (s *BoltStore) CreateBackup(backup *types.Backup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		key := []byte(backup.Domain + "/" + backup.ID)
		if existing := b.Get(key); existing != nil {
			var prev types.Backup
			if err := json.Unmarshal(existing, &prev); err == nil {
				// Checksums are immutable once set.
				if prev.Checksum != "" && backup.Checksum != prev.Checksum {
					return fmt.Errorf("backup %s: checksum is immutable", backup.ID)
				}
			}
		}
		data, err := json.Marshal(backup)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetBackup(id string) (*types.Backup, error) {
	var found *types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		return b.ForEach(func(k, v []byte) error {
			var backup types.Backup
			if err := json.Unmarshal(v, &backup); err != nil {
				return err
			}
			if backup.ID == id {
				found = &backup
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("backup %s: %w", id, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListBackups() ([]*types.Backup, error) {
	var backups []*types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		return b.ForEach(func(k, v []byte) error {
			var backup types.Backup
			if err := json.Unmarshal(v, &backup); err != nil {
				return err
			}
			backups = append(backups, &backup)
			return nil
		})
	})
	return backups, err
}

func (s *BoltStore) ListBackupsBySite(siteID string) ([]*types.Backup, error) {
	backups, err := s.ListBackups()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Backup
	for _, backup := range backups {
		if backup.SiteID == siteID {
			filtered = append(filtered, backup)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateBackup(backup *types.Backup) error {
	return s.CreateBackup(backup)
}

func (s *BoltStore) DeleteBackup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var backup types.Backup
			if err := json.Unmarshal(v, &backup); err != nil {
				continue
			}
			if backup.ID == id {
				return b.Delete(k)
			}
		}
		return nil
	})
}

// lockRecord is the stored form of a provisioning lease.
type lockRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcquireLock takes the provisioning lease for a domain. It returns false
// when another owner holds an unexpired lease. Re-acquiring an own lease
// extends it.
func (s *BoltStore) AcquireLock(domain, owner string, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		if data := b.Get([]byte(domain)); data != nil {
			var rec lockRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				if rec.Owner != owner && time.Now().Before(rec.ExpiresAt) {
					return nil // Held by someone else
				}
			}
		}
		rec := lockRecord{Owner: owner, ExpiresAt: time.Now().Add(ttl)}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(domain), data); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseLock drops the lease if the caller still owns it.
func (s *BoltStore) ReleaseLock(domain, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		data := b.Get([]byte(domain))
		if data == nil {
			return nil
		}
		var rec lockRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return b.Delete([]byte(domain))
		}
		if rec.Owner != owner {
			return fmt.Errorf("lock on %s held by %s", domain, rec.Owner)
		}
		return b.Delete([]byte(domain))
	})
}
