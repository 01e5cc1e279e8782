package migration_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/migration"
	"github.com/warp/policy-engine/migration/store"
)

// migratedTx seeds, migrates and returns the store plus the backup id
// the migration took.
func migratedTx(t *testing.T) (*store.TxMemory, string) {
	t.Helper()
	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, tm))

	result, err := memEngine(tm.Memory).Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.BackupID)
	return tm, result.BackupID
}

func TestRollback_RestoresPreMigrationState(t *testing.T) {
	// GIVEN: A migrated dataset and its pre-migration snapshot
	// WHEN: Rolling back
	// THEN: Legacy rows are exactly the snapshot set, targets are empty

	ctx := context.Background()
	tm, backupID := migratedTx(t)

	result, err := migration.NewRollbackController(tm, zerolog.Nop()).Rollback(ctx, backupID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.RestoredCount)

	legacy, err := tm.ListLegacyPolicies(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, legacy, 3)
	ids := map[migration.LegacyID]bool{}
	for _, rec := range legacy {
		ids[rec.ID] = true
	}
	for _, rec := range factory.SharedPolicyBook().Legacy {
		assert.True(t, ids[rec.ID], "restored set must contain %s", rec.ID)
	}

	templates, err := tm.CountTemplates(ctx)
	require.NoError(t, err)
	assert.Zero(t, templates)

	instances, err := tm.CountInstances(ctx)
	require.NoError(t, err)
	assert.Zero(t, instances)
}

func TestRollback_ReplacesLaterLegacyWrites(t *testing.T) {
	// GIVEN: A legacy row written after the snapshot was taken
	// WHEN: Rolling back
	// THEN: The table equals the snapshot set, not a union

	ctx := context.Background()
	tm, backupID := migratedTx(t)

	late := factory.NewLegacyRecord(99, "POL-9000", "Travel", "Meridian Re", "client-alice")
	require.NoError(t, tm.CreateLegacyPolicy(ctx, late))

	result, err := migration.NewRollbackController(tm, zerolog.Nop()).Rollback(ctx, backupID)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 3, result.RestoredCount)

	count, err := tm.CountLegacyPolicies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRollback_UnknownBackup_FailsWithoutMutation(t *testing.T) {
	// GIVEN: A well-formed backup id that matches no snapshot
	// WHEN: Rolling back
	// THEN: The result fails and nothing is touched

	ctx := context.Background()
	tm, _ := migratedTx(t)

	result, err := migration.NewRollbackController(tm, zerolog.Nop()).Rollback(ctx, "policy_backup_1")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "backup not found")

	instances, err := tm.CountInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, instances, "failed rollback must leave migrated data intact")
}

func TestRollback_MalformedBackupID_Rejected(t *testing.T) {
	// GIVEN: A backup id that is not a safe store identifier
	// WHEN: Rolling back
	// THEN: Rejected before any store call

	ctx := context.Background()
	tm := store.NewTxMemory()

	result, err := migration.NewRollbackController(tm, zerolog.Nop()).Rollback(ctx, `x"; DROP TABLE legacy_policies; --`)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid backup id")
}

// =============================================================================
// CLEANUP
// =============================================================================

func TestCleanup_DeletesLegacyAfterFinalBackup(t *testing.T) {
	// GIVEN: A migrated dataset
	// WHEN: Cleaning up with the final backup on
	// THEN: Legacy rows are gone; a second snapshot holds them

	ctx := context.Background()
	tm, firstBackup := migratedTx(t)

	backups := migration.NewBackupManager(tm, zerolog.Nop())
	result, err := migration.NewCleanupController(tm, backups, zerolog.Nop()).Cleanup(ctx, migration.DefaultCleanupOptions())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.DeletedCount)
	assert.NotEmpty(t, result.BackupID)
	assert.NotEqual(t, firstBackup, result.BackupID)

	count, err := tm.CountLegacyPolicies(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	final, err := tm.CountBackupRecords(ctx, result.BackupID)
	require.NoError(t, err)
	assert.Equal(t, 3, final)
}

func TestCleanup_WithoutFinalBackup(t *testing.T) {
	// GIVEN: The final backup explicitly disabled
	// WHEN: Cleaning up
	// THEN: Rows are deleted, no new snapshot appears

	ctx := context.Background()
	tm, _ := migratedTx(t)

	before, err := tm.ListBackups(ctx)
	require.NoError(t, err)

	backups := migration.NewBackupManager(tm, zerolog.Nop())
	result, err := migration.NewCleanupController(tm, backups, zerolog.Nop()).Cleanup(ctx, migration.CleanupOptions{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.BackupID)

	after, err := tm.ListBackups(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestCleanup_BackupFailure_DeletesNothing(t *testing.T) {
	// GIVEN: The final backup would collide with an existing snapshot
	// WHEN: Cleaning up
	// THEN: The phase aborts and legacy rows survive

	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, tm))

	fixed := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tm.SnapshotLegacyPolicies(ctx, migration.BackupIDFor(fixed)))

	backups := migration.NewBackupManager(tm, zerolog.Nop()).WithClock(func() time.Time { return fixed })
	result, err := migration.NewCleanupController(tm, backups, zerolog.Nop()).Cleanup(ctx, migration.DefaultCleanupOptions())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "cleanup aborted")

	count, err := tm.CountLegacyPolicies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
