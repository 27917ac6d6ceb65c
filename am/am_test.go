package am

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/vclean/cleaner"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance without user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "vclean.db", cfg.Database.Path)
	assert.Equal(t, "sqlite3", cfg.Target.Driver)
	assert.Equal(t, "content.db", cfg.Target.DSN)
	assert.Equal(t, "Page", cfg.Cleaner.DefaultRecordType)
	assert.Equal(t, 5, cfg.Cleaner.VersionsToKeep)
	assert.Equal(t, 2, cfg.Cleaner.ExecuteInterval)
	assert.Equal(t, "Minute", cfg.Cleaner.ExecuteEvery)
	assert.Equal(t, "@every 10s", cfg.Pulse.TickSchedule)
	assert.Equal(t, 5.0, cfg.Pulse.MaxInvocationsPerSecond)
	assert.Equal(t, "ClassName", cfg.Schema.ClassColumn)
	assert.Equal(t, DefaultSchemaTypes(), cfg.Schema.Types)

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFile_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	content := `
[target]
driver = "postgres"
dsn = "postgres://localhost/content?sslmode=disable"

[cleaner]
default_record_type = "Article"
versions_to_keep = 10

[schema]
class_column = "ClassName"

[[schema.types]]
name = "Article"
table = "Article"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Target.Driver)
	assert.Equal(t, "Article", cfg.Cleaner.DefaultRecordType)
	assert.Equal(t, 10, cfg.Cleaner.VersionsToKeep)
	// Untouched keys keep their defaults
	assert.Equal(t, 2, cfg.Cleaner.ExecuteInterval)
	assert.Equal(t, "vclean.db", cfg.Database.Path)
	// A configured type list replaces the default set
	assert.Equal(t, []SchemaType{{Name: "Article", Table: "Article"}}, cfg.Schema.Types)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.Target.Driver = "oracle" },
			wantErr: "target.driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Target.DSN = "" },
			wantErr: "target.dsn",
		},
		{
			name:    "zero versions to keep",
			mutate:  func(c *Config) { c.Cleaner.VersionsToKeep = 0 },
			wantErr: "versions_to_keep",
		},
		{
			name:    "negative interval",
			mutate:  func(c *Config) { c.Cleaner.ExecuteInterval = -1 },
			wantErr: "execute_interval",
		},
		{
			name:    "unknown period",
			mutate:  func(c *Config) { c.Cleaner.ExecuteEvery = "Decade" },
			wantErr: "execute_every",
		},
		{
			name:    "bad cron spec",
			mutate:  func(c *Config) { c.Pulse.TickSchedule = "every now and then" },
			wantErr: "tick_schedule",
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Pulse.MaxInvocationsPerSecond = -1 },
			wantErr: "max_invocations_per_second",
		},
		{
			name:   "zero rate is unlimited",
			mutate: func(c *Config) { c.Pulse.MaxInvocationsPerSecond = 0 },
		},
		{
			name: "schema with unknown parent",
			mutate: func(c *Config) {
				c.Schema.Types = append(c.Schema.Types, SchemaType{Name: "Orphan", Parent: "Ghost", Table: "Orphan"})
			},
			wantErr: "unknown parent",
		},
		{
			name:    "default record type not registered",
			mutate:  func(c *Config) { c.Cleaner.DefaultRecordType = "Product" },
			wantErr: "default_record_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchemaRegistry(t *testing.T) {
	registry, err := DefaultConfig().Schema.Registry()
	require.NoError(t, err)

	tables, err := registry.Resolve("RedirectorPage")
	require.NoError(t, err)
	assert.Equal(t, []string{"RedirectorPage_Versions", "Page_Versions", "SiteTree_Versions"}, tables)

	// Empty class column falls back to the default
	registry, err = SchemaConfig{Types: DefaultSchemaTypes()}.Registry()
	require.NoError(t, err)
	assert.Equal(t, "ClassName", registry.ClassColumn())
}

func TestCleanerDefaults(t *testing.T) {
	d := DefaultConfig().Cleaner.Defaults()
	assert.Equal(t, cleaner.Defaults{
		RecordType:      "Page",
		VersionsToKeep:  5,
		ExecuteInterval: 2,
		ExecuteEvery:    cleaner.PeriodMinute,
	}, d)

	d = CleanerConfig{ExecuteEvery: "Fortnight"}.Defaults()
	assert.Equal(t, cleaner.PeriodFortnight, d.ExecuteEvery)
}

func TestWriteConfig_RoundTripWithBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "am.toml")

	cfg := DefaultConfig()
	require.NoError(t, WriteConfig(path, cfg))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	// Second and third writes rotate backups
	cfg.Cleaner.VersionsToKeep = 8
	require.NoError(t, WriteConfig(path, cfg))
	cfg.Cleaner.VersionsToKeep = 9
	require.NoError(t, WriteConfig(path, cfg))

	assert.FileExists(t, path+".back1")
	assert.FileExists(t, path+".back2")

	back1, err := LoadFromFile(path + ".back1")
	require.NoError(t, err)
	assert.Equal(t, 8, back1.Cleaner.VersionsToKeep)

	current, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, current.Cleaner.VersionsToKeep)
}

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, WriteConfig(path, DefaultConfig()))

	watcher, err := NewConfigWatcher(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	watcher.SetDebounce(10 * time.Millisecond)

	var keep atomic.Int64
	watcher.OnReload(func(cfg *Config) error {
		keep.Store(int64(cfg.Cleaner.VersionsToKeep))
		return nil
	})
	watcher.Start()
	t.Cleanup(func() { watcher.Stop() })

	updated := DefaultConfig()
	updated.Cleaner.VersionsToKeep = 12
	require.NoError(t, WriteConfig(path, updated))

	assert.Eventually(t, func() bool { return keep.Load() == 12 }, 5*time.Second, 20*time.Millisecond)
}

func TestConfigWatcher_InvalidConfigKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, WriteConfig(path, DefaultConfig()))

	watcher, err := NewConfigWatcher(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Stop() })

	called := false
	watcher.OnReload(func(cfg *Config) error {
		called = true
		return nil
	})

	invalid := DefaultConfig()
	invalid.Cleaner.VersionsToKeep = 0
	require.NoError(t, WriteConfig(path, invalid))

	err = watcher.reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeping previous")
	assert.False(t, called)
}

func TestConfigWatcher_IgnoresOwnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, WriteConfig(path, DefaultConfig()))

	watcher, err := NewConfigWatcher(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Stop() })

	watcher.MarkOwnWrite()
	assert.True(t, watcher.checkOwnWrite())
	assert.False(t, watcher.checkOwnWrite())
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/x/am.toml.back1"))
	assert.True(t, isBackupFile("am.toml.back3"))
	assert.False(t, isBackupFile("am.toml"))
}
