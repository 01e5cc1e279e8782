/*
backup.go - Atomic snapshots of the legacy table

PURPOSE:
  Produces point-in-time copies of the legacy store named
  policy_backup_<unix_ms>. A snapshot either exists completely or not
  at all; there is never a partial snapshot. Snapshots are consumed
  only by the rollback and cleanup phases.

SEE ALSO:
  - rollback.go: Restores from a snapshot transactionally
  - store.go: StoreAdmin, the raw-query escape hatch behind snapshots
*/
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type nowFunc func() time.Time

func defaultNow() time.Time { return time.Now().UTC() }

// BackupManager creates and enumerates legacy-table snapshots.
type BackupManager struct {
	admin StoreAdmin
	log   zerolog.Logger
	now   nowFunc
}

func NewBackupManager(admin StoreAdmin, log zerolog.Logger) *BackupManager {
	return &BackupManager{
		admin: admin,
		log:   log.With().Str("component", "backup").Logger(),
		now:   defaultNow,
	}
}

// WithClock overrides the snapshot-naming clock. Tests use this to get
// deterministic ids and to force name collisions.
func (b *BackupManager) WithClock(now func() time.Time) *BackupManager {
	b.now = now
	return b
}

// Create takes a full snapshot of the legacy table. Expected failures
// (name collision, snapshot statement failure) are reported in the
// result; the error return is reserved for store faults on the
// existence probe.
func (b *BackupManager) Create(ctx context.Context) (BackupResult, error) {
	id := BackupIDFor(b.now())
	if !ValidBackupID(id) {
		return BackupResult{BackupID: id, Error: ErrInvalidBackupID.Error()}, nil
	}

	exists, err := b.admin.BackupExists(ctx, id)
	if err != nil {
		return BackupResult{}, fmt.Errorf("failed to check backup %s: %w", id, err)
	}
	if exists {
		b.log.Warn().Str("backup_id", id).Msg("backup name collision")
		return BackupResult{BackupID: id, Error: (&BackupError{BackupID: id, Reason: ErrBackupExists.Error()}).Error()}, nil
	}

	if err := b.admin.SnapshotLegacyPolicies(ctx, id); err != nil {
		return BackupResult{BackupID: id, Error: (&BackupError{BackupID: id, Reason: err.Error()}).Error()}, nil
	}

	b.log.Info().Str("backup_id", id).Msg("backup created")
	return BackupResult{Success: true, BackupID: id}, nil
}

// List enumerates existing snapshots with their row counts, newest ids
// last (snapshot names embed the creation timestamp).
func (b *BackupManager) List(ctx context.Context) ([]BackupInfo, error) {
	infos, err := b.admin.ListBackups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return infos, nil
}
