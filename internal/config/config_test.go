package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/kvlite/internal/db"
	"github.com/dokzlo13/kvlite/internal/kv"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, db.DriverMattn, cfg.Store.Driver)
	assert.Equal(t, "database.sqlite", cfg.Store.Filename)
	assert.Equal(t, "kv_store", cfg.Store.Table)
	assert.Equal(t, "disk", cfg.Store.Storage)
	assert.Equal(t, "WAL", cfg.Store.JournalMode)
	assert.Equal(t, "database_export.json", cfg.Store.ExportPath)
	assert.True(t, cfg.Store.IsAutoCommit())
	assert.Equal(t, time.Duration(0), cfg.Store.SweepInterval.Duration())
	assert.Equal(t, "info", cfg.Log.GetLevel())
}

func TestParse(t *testing.T) {
	t.Setenv("KVLITE_TEST_FILE", "/data/kv.sqlite")

	cfg, err := Parse([]byte(`
store:
  driver: sqlite
  filename: ${KVLITE_TEST_FILE}
  table: ${KVLITE_TEST_TABLE:sessions}
  storage: temp
  journal_mode: delete
  auto_commit: false
  sweep_interval: 30s
log:
  level: DEBUG
  json: true
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/data/kv.sqlite", cfg.Store.Filename)
	assert.Equal(t, "sessions", cfg.Store.Table)
	assert.Equal(t, "temp", cfg.Store.Storage)
	assert.False(t, cfg.Store.IsAutoCommit())
	assert.Equal(t, 30*time.Second, cfg.Store.SweepInterval.Duration())
	assert.Equal(t, "debug", cfg.Log.GetLevel())
	assert.True(t, cfg.Log.UseJSON)

	dbOpts := cfg.Store.DBOptions()
	assert.Equal(t, db.StorageTemp, dbOpts.Storage)
	assert.Equal(t, "delete", dbOpts.JournalMode)

	kvOpts := cfg.Store.KVOptions()
	assert.Equal(t, kv.Options{Table: "sessions", AutoCommit: false, ExportPath: "database_export.json"}, kvOpts)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"storage", "store:\n  storage: cloud\n"},
		{"driver", "store:\n  driver: postgres\n"},
		{"journal mode", "store:\n  journal_mode: fast\n"},
		{"table", "store:\n  table: \"kv store\"\n"},
		{"duration", "store:\n  sweep_interval: soon\n"},
		{"negative duration", "store:\n  sweep_interval: -1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvlite.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  storage: memory\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Storage)
	assert.Equal(t, "kv_store", cfg.Store.Table)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
