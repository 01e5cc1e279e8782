package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/config"
)

func migrateFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	registerMigrateFlags(f)
	require.NoError(t, f.Parse(args))
	return f
}

func TestMigrateOptions_ConfigFileDrivesDefaults(t *testing.T) {
	// GIVEN: A config that tunes every migration option away from its default
	// WHEN: Migrate runs with no flags passed
	// THEN: Every option comes from the file

	cfg := config.Default()
	cfg.Migration.BatchSize = 25
	cfg.Migration.SkipDuplicates = false
	cfg.Migration.CreateBackup = false

	opts := migrateOptions(migrateFlagSet(t), cfg)

	assert.False(t, opts.DryRun)
	assert.Equal(t, 25, opts.BatchSize)
	assert.False(t, opts.SkipDuplicates)
	assert.False(t, opts.CreateBackup)
}

func TestMigrateOptions_FlagsOverrideConfig(t *testing.T) {
	// GIVEN: Config and flags that disagree on every option
	// WHEN: Migrate runs with the flags passed explicitly
	// THEN: The flags win

	cfg := config.Default()
	cfg.Migration.BatchSize = 25
	cfg.Migration.SkipDuplicates = true
	cfg.Migration.CreateBackup = true

	f := migrateFlagSet(t, "--dry-run", "--batch-size", "7", "--strict-duplicates", "--no-backup")
	opts := migrateOptions(f, cfg)

	assert.True(t, opts.DryRun)
	assert.Equal(t, 7, opts.BatchSize)
	assert.False(t, opts.SkipDuplicates)
	assert.False(t, opts.CreateBackup)
}

func TestMigrateOptions_UntouchedFlagsKeepConfigValues(t *testing.T) {
	// GIVEN: A config that disables backups while the operator only tunes
	//        the batch size
	// THEN: The backup setting survives; the flag's own default never
	//       clobbers it

	cfg := config.Default()
	cfg.Migration.CreateBackup = false

	opts := migrateOptions(migrateFlagSet(t, "--batch-size", "50"), cfg)

	assert.Equal(t, 50, opts.BatchSize)
	assert.False(t, opts.CreateBackup)
	assert.True(t, opts.SkipDuplicates)
}
