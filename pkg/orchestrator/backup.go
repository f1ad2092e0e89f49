package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/types"
)

// defaultRetention bounds how long backup records are kept before the
// expiry sweep retires them.
const defaultRetention = 30 * 24 * time.Hour

// BackupSite runs backup:create on the site's node and records one
// store entry per artifact the agent produced. Record IDs carry the
// artifact type suffix so the two halves of a full backup keep unique
// locations and checksums.
func (o *Orchestrator) BackupSite(ctx context.Context, domain string, kind types.BackupKind) ([]*types.Backup, error) {
	site, err := o.store.GetSiteByDomain(domain)
	if err != nil {
		return nil, err
	}
	if site.NodeID == "" {
		return nil, fmt.Errorf("site %s has no assigned node", domain)
	}
	node, err := o.store.GetNode(site.NodeID)
	if err != nil {
		return nil, err
	}

	env, err := o.bridge.Run(ctx, node, "backup:create", domain, []bridge.Arg{
		{Name: "type", Value: string(kind)},
	})
	if err != nil {
		return nil, err
	}

	backupID, _ := env.Data["backup_id"].(string)
	if backupID == "" {
		return nil, fmt.Errorf("agent returned no backup id for %s", domain)
	}
	createdAt := time.Now().UTC()
	if raw, ok := env.Data["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			createdAt = ts
		}
	}

	rawArtifacts, _ := env.Data["artifacts"].([]interface{})
	backups := make([]*types.Backup, 0, len(rawArtifacts))
	for _, raw := range rawArtifacts {
		artifact, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		artifactType, _ := artifact["type"].(string)
		location, _ := artifact["path"].(string)
		checksum, _ := artifact["checksum"].(string)
		size, _ := artifact["size_bytes"].(float64)

		backup := &types.Backup{
			ID:        backupID + "-" + artifactType,
			SiteID:    site.ID,
			Domain:    domain,
			Kind:      types.BackupKind(artifactType),
			Location:  location,
			SizeBytes: int64(size),
			Checksum:  checksum,
			Retention: defaultRetention,
			ExpiresAt: createdAt.Add(defaultRetention),
			Status:    types.BackupStatusCompleted,
			CreatedAt: createdAt,
		}
		if err := o.store.CreateBackup(backup); err != nil {
			return backups, err
		}
		backups = append(backups, backup)
	}
	if len(backups) == 0 {
		return nil, fmt.Errorf("agent reported no artifacts for %s", domain)
	}

	o.publish(events.EventBackupCreated, fmt.Sprintf("backup %s created for %s", backupID, domain),
		map[string]string{"domain": domain, "backup_id": backupID})
	return backups, nil
}

// RestoreBackup replays a backup on the site's node. The agent recovers
// the artifact set from its metadata sidecars, so only the original
// backup ID (without the artifact suffix) travels over the wire.
func (o *Orchestrator) RestoreBackup(ctx context.Context, domain, backupID string) error {
	site, err := o.store.GetSiteByDomain(domain)
	if err != nil {
		return err
	}
	if site.NodeID == "" {
		return fmt.Errorf("site %s has no assigned node", domain)
	}
	node, err := o.store.GetNode(site.NodeID)
	if err != nil {
		return err
	}

	_, err = o.bridge.Run(ctx, node, "backup:restore", domain, []bridge.Arg{
		{Name: "id", Value: backupID},
	})
	return err
}

// BackupExpiryJob retires backup records whose retention window has
// passed. Node-side artifacts are left for the agent host's own cleanup;
// the record is what the orphan and restore paths consult.
type BackupExpiryJob struct {
	orc *Orchestrator
}

// NewBackupExpiryJob builds the periodic retention sweep.
func NewBackupExpiryJob(orc *Orchestrator) *BackupExpiryJob {
	return &BackupExpiryJob{orc: orc}
}

func (j *BackupExpiryJob) Name() string { return "reconcile" }

func (j *BackupExpiryJob) Run(context.Context) error {
	backups, err := j.orc.store.ListBackups()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	expired := 0
	for _, backup := range backups {
		if backup.ExpiresAt.IsZero() || backup.ExpiresAt.After(now) {
			continue
		}
		if err := j.orc.store.DeleteBackup(backup.ID); err != nil {
			return err
		}
		expired++
	}
	if expired > 0 {
		logger := log.WithComponent("backup")
		logger.Info().Int("expired", expired).Msg("retired expired backups")
	}
	return nil
}
