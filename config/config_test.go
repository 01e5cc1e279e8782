package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/config"
)

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "policy-engine.db", cfg.Database.Path)
	assert.Equal(t, 100, cfg.Migration.BatchSize)
	assert.True(t, cfg.Migration.SkipDuplicates)
	assert.True(t, cfg.Migration.CreateBackup)
	assert.True(t, cfg.Cleanup.CreateFinalBackup)
}

func TestLoad_PartialFile_OverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policyctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: crm.db\nmigration:\n  batch_size: 25\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "crm.db", cfg.Database.Path)
	assert.Equal(t, 25, cfg.Migration.BatchSize)
	assert.True(t, cfg.Migration.SkipDuplicates, "unnamed fields keep their defaults")
}

func TestLoad_InvalidValues_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policyctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("migration:\n  batch_size: -1\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestLoad_UnknownLogLevel_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policyctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}
