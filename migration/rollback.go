/*
rollback.go - Transactional restore from a backup snapshot

PURPOSE:
  Undoes the entire migration, not a partial slice of it. Inside one
  transaction: delete all instances, delete all templates, clear the
  legacy table and re-insert every row from the snapshot. Any failure
  inside the transaction leaves the pre-rollback state fully intact.

SEE ALSO:
  - backup.go: Creates the snapshots this consumes
  - store.go: TxStore, the transactional capability this requires
*/
package migration

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// RollbackController restores the legacy table from a snapshot.
type RollbackController struct {
	store TxStore
	log   zerolog.Logger
}

func NewRollbackController(store TxStore, log zerolog.Logger) *RollbackController {
	return &RollbackController{store: store, log: log.With().Str("component", "rollback").Logger()}
}

// Rollback restores the legacy table to exactly the snapshot's row set
// and leaves zero templates and instances. All-or-nothing: a failure
// inside the transaction reports in the result and prior state stands.
func (r *RollbackController) Rollback(ctx context.Context, backupID string) (RollbackResult, error) {
	if !ValidBackupID(backupID) {
		return RollbackResult{Error: fmt.Sprintf("%v: %q", ErrInvalidBackupID, backupID)}, nil
	}

	exists, err := r.store.BackupExists(ctx, backupID)
	if err != nil {
		return RollbackResult{}, fmt.Errorf("failed to check backup %s: %w", backupID, err)
	}
	if !exists {
		return RollbackResult{Error: fmt.Sprintf("%v: %s", ErrBackupNotFound, backupID)}, nil
	}

	var restored int
	err = r.store.WithTx(ctx, func(s Store) error {
		if err := s.DeleteAllInstances(ctx); err != nil {
			return fmt.Errorf("failed to delete instances: %w", err)
		}
		if err := s.DeleteAllTemplates(ctx); err != nil {
			return fmt.Errorf("failed to delete templates: %w", err)
		}
		// The legacy table is cleared before restore so the result is
		// exactly the snapshot's row set, not a union with whatever the
		// table held at rollback time.
		if _, err := s.DeleteAllLegacyPolicies(ctx); err != nil {
			return fmt.Errorf("failed to clear legacy table: %w", err)
		}
		if err := s.RestoreLegacyPolicies(ctx, backupID); err != nil {
			return fmt.Errorf("failed to restore from %s: %w", backupID, err)
		}
		n, err := s.CountLegacyPolicies(ctx)
		if err != nil {
			return err
		}
		restored = n
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Str("backup_id", backupID).Msg("rollback transaction failed, prior state intact")
		return RollbackResult{Error: err.Error()}, nil
	}

	r.log.Info().Str("backup_id", backupID).Int("restored", restored).Msg("rollback complete")
	return RollbackResult{Success: true, RestoredCount: restored}, nil
}
