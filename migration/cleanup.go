/*
cleanup.go - Deletes legacy rows after a verified migration

PURPOSE:
  The only phase that destroys legacy data. Intended to run after a
  passing integrity report, optionally taking one final snapshot as a
  last safety net before deletion.
*/
package migration

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// CleanupOptions configures the final deletion phase.
type CleanupOptions struct {
	CreateFinalBackup bool
}

// DefaultCleanupOptions keeps the final safety-net backup on.
func DefaultCleanupOptions() CleanupOptions {
	return CleanupOptions{CreateFinalBackup: true}
}

// CleanupStore is the surface the cleanup phase needs.
type CleanupStore interface {
	LegacyStore
	StoreAdmin
}

// CleanupController deletes the legacy table after a verified run.
type CleanupController struct {
	store   CleanupStore
	backups *BackupManager
	log     zerolog.Logger
}

func NewCleanupController(store CleanupStore, backups *BackupManager, log zerolog.Logger) *CleanupController {
	return &CleanupController{
		store:   store,
		backups: backups,
		log:     log.With().Str("component", "cleanup").Logger(),
	}
}

// Cleanup deletes every remaining legacy record and returns the count.
// When the final backup is requested and fails, nothing is deleted.
func (c *CleanupController) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	result := CleanupResult{}

	if opts.CreateFinalBackup {
		backup, err := c.backups.Create(ctx)
		if err != nil {
			return result, err
		}
		if !backup.Success {
			result.Error = fmt.Sprintf("cleanup aborted: %s", backup.Error)
			return result, nil
		}
		result.BackupID = backup.BackupID
	}

	deleted, err := c.store.DeleteAllLegacyPolicies(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to delete legacy policies: %w", err)
	}

	result.Success = true
	result.DeletedCount = deleted
	c.log.Info().Int("deleted", deleted).Str("backup_id", result.BackupID).Msg("cleanup complete")
	return result, nil
}
