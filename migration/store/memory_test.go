package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/migration"
	"github.com/warp/policy-engine/migration/store"
)

func TestMemory_ListLegacyPolicies_OrderedByCreationTime(t *testing.T) {
	// GIVEN: Records inserted out of creation order
	// WHEN: Listing
	// THEN: Oldest first, with stable pagination

	ctx := context.Background()
	mem := store.NewMemory()

	newest := factory.NewLegacyRecord(3, "POL-3", "Life", "Axion Mutual", "c1")
	oldest := factory.NewLegacyRecord(1, "POL-1", "Life", "Axion Mutual", "c1")
	middle := factory.NewLegacyRecord(2, "POL-2", "Life", "Axion Mutual", "c1")
	for _, rec := range []migration.LegacyPolicyRecord{newest, oldest, middle} {
		require.NoError(t, mem.CreateLegacyPolicy(ctx, rec))
	}

	page, err := mem.ListLegacyPolicies(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, oldest.ID, page[0].ID)
	assert.Equal(t, middle.ID, page[1].ID)

	rest, err := mem.ListLegacyPolicies(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, newest.ID, rest[0].ID)
}

func TestMemory_SnapshotIsolatedFromLaterWrites(t *testing.T) {
	// GIVEN: A snapshot of two rows
	// WHEN: More rows arrive afterwards
	// THEN: The snapshot still holds exactly two

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateLegacyPolicy(ctx, factory.NewLegacyRecord(1, "POL-1", "Life", "Axion Mutual", "c1")))
	require.NoError(t, mem.CreateLegacyPolicy(ctx, factory.NewLegacyRecord(2, "POL-2", "Life", "Axion Mutual", "c1")))

	require.NoError(t, mem.SnapshotLegacyPolicies(ctx, "policy_backup_1"))
	require.NoError(t, mem.CreateLegacyPolicy(ctx, factory.NewLegacyRecord(3, "POL-3", "Life", "Axion Mutual", "c1")))

	count, err := mem.CountBackupRecords(ctx, "policy_backup_1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTxMemory_WithTx_RestoresStateOnError(t *testing.T) {
	// GIVEN: A store with data
	// WHEN: A transaction deletes everything, then fails
	// THEN: The prior state is fully restored

	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, tm))

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(s migration.Store) error {
		if _, err := s.DeleteAllLegacyPolicies(ctx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := tm.CountLegacyPolicies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestTxMemory_WithTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, tm))

	err := tm.WithTx(ctx, func(s migration.Store) error {
		_, err := s.DeleteAllLegacyPolicies(ctx)
		return err
	})
	require.NoError(t, err)

	count, err := tm.CountLegacyPolicies(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemory_DuplicateKeyQueries(t *testing.T) {
	// GIVEN: Two templates sharing a key and two instances sharing a pairing
	// WHEN: Querying the group-by surfaces
	// THEN: Each collision is reported once with its count

	ctx := context.Background()
	mem := store.NewMemory()

	for i := 0; i < 2; i++ {
		require.NoError(t, mem.CreateTemplate(ctx, migration.PolicyTemplate{
			ID:           migration.NewTemplateID(),
			PolicyNumber: "POL-1",
			PolicyType:   "Life",
			Provider:     "Axion Mutual",
		}))
		require.NoError(t, mem.CreateInstance(ctx, migration.PolicyInstance{
			ID:         migration.NewInstanceID(),
			TemplateID: "tpl-1",
			ClientID:   "c1",
		}))
	}

	tplDups, err := mem.ListDuplicateTemplateKeys(ctx)
	require.NoError(t, err)
	require.Len(t, tplDups, 1)
	assert.Equal(t, 2, tplDups[0].Count)

	instDups, err := mem.ListDuplicateInstanceKeys(ctx)
	require.NoError(t, err)
	require.Len(t, instDups, 1)
	assert.Equal(t, 2, instDups[0].Count)
}
