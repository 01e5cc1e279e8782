package migration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/migration"
	"github.com/warp/policy-engine/migration/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newEngine wires an engine whose validator and backup manager read the
// same store. validatorStore may differ from engineStore to simulate a
// client disappearing between validation and migration.
func newEngine(engineStore migration.Store, validatorStore migration.ValidatorStore, admin migration.StoreAdmin) *migration.Engine {
	log := zerolog.Nop()
	return migration.NewEngine(
		engineStore,
		migration.NewValidator(validatorStore, log),
		migration.NewBackupManager(admin, log),
		log,
	)
}

func memEngine(mem *store.Memory) *migration.Engine {
	return newEngine(mem, mem, mem)
}

// clientGone hides one client from the engine while leaving it visible
// to everything else, simulating deletion after validation passed.
type clientGone struct {
	migration.Store
	gone migration.ClientID
}

func (c clientGone) ClientExists(ctx context.Context, id migration.ClientID) (bool, error) {
	if id == c.gone {
		return false, nil
	}
	return c.Store.ClientExists(ctx, id)
}

// instanceFault fails instance creation for one client, exercising the
// per-record error collection path.
type instanceFault struct {
	migration.Store
	client migration.ClientID
}

func (f instanceFault) CreateInstance(ctx context.Context, inst migration.PolicyInstance) error {
	if inst.ClientID == f.client {
		return errors.New("instance write rejected")
	}
	return f.Store.CreateInstance(ctx, inst)
}

// =============================================================================
// CORE SCENARIOS
// =============================================================================

func TestMigrate_SharedPolicy_DeduplicatesTemplates(t *testing.T) {
	// GIVEN: Three records, two sharing one policy across clients
	// WHEN: Migrating live
	// THEN: Two templates, three instances, all three records migrated

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, mem))

	result, err := memEngine(mem).Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TemplatesCreated)
	assert.Equal(t, 3, result.InstancesCreated)
	assert.Equal(t, 3, result.PoliciesMigrated)
	assert.Zero(t, result.DuplicateTemplates)
	assert.Zero(t, result.SkippedPolicies)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.BackupID)

	templates, err := mem.CountTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, templates)

	instances, err := mem.CountInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, instances)
}

func TestMigrate_Rerun_IsIdempotent(t *testing.T) {
	// GIVEN: A fully migrated dataset
	// WHEN: Migrating again with duplicates reused (the default)
	// THEN: Nothing is created; existing rows are counted as duplicates

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, mem))

	// Backups off: two runs inside one millisecond would collide on
	// the snapshot name, which is not what this test is about.
	opts := migration.DefaultOptions()
	opts.CreateBackup = false

	engine := memEngine(mem)
	first, err := engine.Migrate(ctx, opts)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := engine.Migrate(ctx, opts)
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Zero(t, second.TemplatesCreated)
	assert.Zero(t, second.InstancesCreated)
	assert.Equal(t, first.TemplatesCreated, second.DuplicateTemplates)
	assert.Equal(t, 3, second.DuplicateInstances)
	assert.Equal(t, 3, second.PoliciesMigrated)

	templates, err := mem.CountTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, templates, "re-run must not create templates")

	instances, err := mem.CountInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, instances, "re-run must not create instances")
}

func TestMigrate_ClientDeletedAfterValidation_SkipsRecord(t *testing.T) {
	// GIVEN: Validation passed, then one client disappeared
	// WHEN: Migrating
	// THEN: That record is skipped with a diagnostic; the rest succeed

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, mem))

	engine := newEngine(clientGone{Store: mem, gone: "client-carol"}, mem, mem)
	result, err := engine.Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	assert.True(t, result.Success, "skips do not fail a run that migrated records")
	assert.Equal(t, 1, result.SkippedPolicies)
	assert.Equal(t, 2, result.PoliciesMigrated)
	assert.Contains(t, result.Errors, "Skipped policy POL-2000: Client not found")

	// The shared policy template still exists once; carol's individual
	// policy never materialized.
	templates, err := mem.CountTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, templates)
}

func TestMigrate_BackupCollision_AbortsBeforeMutation(t *testing.T) {
	// GIVEN: A snapshot already exists under the name this run would use
	// WHEN: Migrating with backups enabled
	// THEN: The run aborts citing the backup failure, with zero mutation

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, mem))

	fixed := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mem.SnapshotLegacyPolicies(ctx, migration.BackupIDFor(fixed)))

	log := zerolog.Nop()
	engine := migration.NewEngine(
		mem,
		migration.NewValidator(mem, log),
		migration.NewBackupManager(mem, log).WithClock(func() time.Time { return fixed }),
		log,
	)

	result, err := engine.Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.TemplatesCreated)
	assert.Zero(t, result.InstancesCreated)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "migration aborted")
	assert.Contains(t, result.Errors[0], "backup already exists")

	templates, err := mem.CountTemplates(ctx)
	require.NoError(t, err)
	assert.Zero(t, templates)
}

func TestMigrate_ValidationFailure_AbortsWithZeroMutation(t *testing.T) {
	// GIVEN: A dataset with blocking validation errors
	// WHEN: Migrating
	// THEN: The run aborts carrying the validation errors, nothing written

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.MessyBook().Seed(ctx, mem))

	result, err := memEngine(mem).Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.TemplatesCreated)
	assert.Zero(t, result.PoliciesMigrated)
	assert.Len(t, result.Errors, 2)
	assert.Empty(t, result.BackupID, "no backup before a failed validation")

	templates, err := mem.CountTemplates(ctx)
	require.NoError(t, err)
	assert.Zero(t, templates)
}

// =============================================================================
// DRY RUN
// =============================================================================

func TestMigrate_DryRun_PredictsLiveCounts(t *testing.T) {
	// GIVEN: Two fresh stores seeded with the same randomized book
	// WHEN: Dry-running one and live-running the other
	// THEN: Counters match exactly; the dry store stays untouched

	ctx := context.Background()
	ds := factory.RandomBook(60, 7)

	dryStore := store.NewMemory()
	liveStore := store.NewMemory()
	require.NoError(t, ds.Seed(ctx, dryStore))
	require.NoError(t, ds.Seed(ctx, liveStore))

	dryOpts := migration.DefaultOptions()
	dryOpts.DryRun = true
	dry, err := memEngine(dryStore).Migrate(ctx, dryOpts)
	require.NoError(t, err)

	live, err := memEngine(liveStore).Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, live.TemplatesCreated, dry.TemplatesCreated)
	assert.Equal(t, live.InstancesCreated, dry.InstancesCreated)
	assert.Equal(t, live.PoliciesMigrated, dry.PoliciesMigrated)
	assert.Equal(t, live.DuplicateTemplates, dry.DuplicateTemplates)
	assert.Equal(t, live.DuplicateInstances, dry.DuplicateInstances)
	assert.Equal(t, live.SkippedPolicies, dry.SkippedPolicies)

	templates, err := dryStore.CountTemplates(ctx)
	require.NoError(t, err)
	assert.Zero(t, templates, "dry run must not persist templates")

	instances, err := dryStore.CountInstances(ctx)
	require.NoError(t, err)
	assert.Zero(t, instances, "dry run must not persist instances")
	assert.Empty(t, dry.BackupID, "dry run must not snapshot")
}

// =============================================================================
// OPTIONS
// =============================================================================

func TestMigrate_SmallBatches_SameOutcome(t *testing.T) {
	// GIVEN: More records than one batch holds
	// WHEN: Migrating with a small batch size
	// THEN: Counters match a single-batch run over the same book

	ctx := context.Background()
	ds := factory.RandomBook(25, 3)

	small := store.NewMemory()
	big := store.NewMemory()
	require.NoError(t, ds.Seed(ctx, small))
	require.NoError(t, ds.Seed(ctx, big))

	smallOpts := migration.DefaultOptions()
	smallOpts.BatchSize = 4
	a, err := memEngine(small).Migrate(ctx, smallOpts)
	require.NoError(t, err)

	b, err := memEngine(big).Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, b.TemplatesCreated, a.TemplatesCreated)
	assert.Equal(t, b.InstancesCreated, a.InstancesCreated)
	assert.Equal(t, b.PoliciesMigrated, a.PoliciesMigrated)
	assert.Equal(t, b.DuplicateInstances, a.DuplicateInstances)
}

func TestMigrate_StrictDuplicates_SkipsExistingTemplates(t *testing.T) {
	// GIVEN: A fully migrated dataset
	// WHEN: Re-running with SkipDuplicates off
	// THEN: Every record is skipped with a conflict error, run fails

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, mem))

	engine := memEngine(mem)
	opts := migration.DefaultOptions()
	opts.CreateBackup = false
	_, err := engine.Migrate(ctx, opts)
	require.NoError(t, err)

	strict := opts
	strict.SkipDuplicates = false
	result, err := engine.Migrate(ctx, strict)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.PoliciesMigrated)
	assert.Equal(t, 3, result.SkippedPolicies)
	for _, e := range result.Errors {
		assert.Contains(t, e, "already exists")
	}
}

func TestMigrate_NoBackup_SkipsSnapshot(t *testing.T) {
	// GIVEN: Backups disabled by the caller
	// WHEN: Migrating live
	// THEN: No snapshot is taken, migration proceeds

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, mem))

	opts := migration.DefaultOptions()
	opts.CreateBackup = false
	result, err := memEngine(mem).Migrate(ctx, opts)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.BackupID)

	backups, err := mem.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

// =============================================================================
// PER-RECORD FAILURES
// =============================================================================

func TestMigrate_RecordFault_CollectedWithoutAborting(t *testing.T) {
	// GIVEN: Instance writes fail for one client
	// WHEN: Migrating
	// THEN: The failure is collected per record; the rest still migrate

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, factory.SharedPolicyBook().Seed(ctx, mem))

	engine := newEngine(instanceFault{Store: mem, client: "client-bob"}, mem, mem)
	result, err := engine.Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	assert.True(t, result.Success, "a single bad record never fails a run that migrated others")
	assert.Equal(t, 2, result.PoliciesMigrated)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, fmt.Sprintf("Failed to migrate policy %s: %s", "POL-1000", "instance write rejected"), result.Errors[0])
}

func TestMigrate_CarriesLegacyValuesOntoInstances(t *testing.T) {
	// GIVEN: A record with specific amounts, dates and status
	// WHEN: Migrating
	// THEN: The instance copies them and the template carries the
	//       original timestamps

	ctx := context.Background()
	mem := store.NewMemory()
	ds := factory.SharedPolicyBook()
	require.NoError(t, ds.Seed(ctx, mem))

	_, err := memEngine(mem).Migrate(ctx, migration.DefaultOptions())
	require.NoError(t, err)

	rec := ds.Legacy[2] // carol's individual policy
	tpl, err := mem.FindTemplateByKey(ctx, migration.KeyOf(rec))
	require.NoError(t, err)
	require.NotNil(t, tpl)
	assert.Equal(t, rec.CreatedAt, tpl.CreatedAt)
	assert.Equal(t, rec.UpdatedAt, tpl.UpdatedAt)

	inst, err := mem.FindInstance(ctx, tpl.ID, rec.ClientID)
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.True(t, inst.Premium.Equal(rec.Premium))
	assert.True(t, inst.Commission.Equal(rec.Commission))
	assert.Equal(t, rec.Status, inst.Status)
	assert.Equal(t, rec.StartDate, inst.StartDate)
	assert.Equal(t, rec.ExpiryDate, inst.ExpiryDate)
}
