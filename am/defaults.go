package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default values shared between viper defaults and zero-value fallbacks
const (
	DefaultDatabasePath      = "vclean.db"
	DefaultTargetDriver      = "sqlite3"
	DefaultTargetDSN         = "content.db"
	DefaultRecordType        = "Page"
	DefaultVersionsToKeep    = 5
	DefaultExecuteInterval   = 2
	DefaultExecuteEvery      = "Minute"
	DefaultTickSchedule      = "@every 10s"
	DefaultMaxInvocationsSec = 5.0
	DefaultClassColumn       = "ClassName"
)

// DefaultSchemaTypes is the record type set used when no [[schema.types]] are configured
func DefaultSchemaTypes() []SchemaType {
	return []SchemaType{
		{Name: "SiteTree", Table: "SiteTree"},
		{Name: "Page", Parent: "SiteTree", Table: "Page"},
		{Name: "RedirectorPage", Parent: "Page", Table: "RedirectorPage"},
		{Name: "VirtualPage", Parent: "Page", Table: "VirtualPage"},
	}
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Job database
	v.SetDefault("database.path", DefaultDatabasePath)

	// Content database
	v.SetDefault("target.driver", DefaultTargetDriver)
	v.SetDefault("target.dsn", DefaultTargetDSN)

	// Cleaner job defaults
	v.SetDefault("cleaner.default_record_type", DefaultRecordType)
	v.SetDefault("cleaner.versions_to_keep", DefaultVersionsToKeep)
	v.SetDefault("cleaner.execute_interval", DefaultExecuteInterval)
	v.SetDefault("cleaner.execute_every", DefaultExecuteEvery)

	// Pulse scheduler
	v.SetDefault("pulse.tick_schedule", DefaultTickSchedule)
	v.SetDefault("pulse.max_invocations_per_second", DefaultMaxInvocationsSec)
	v.SetDefault("pulse.metrics_addr", "")

	// Content schema
	v.SetDefault("schema.class_column", DefaultClassColumn)
	types := make([]map[string]interface{}, 0, len(DefaultSchemaTypes()))
	for _, t := range DefaultSchemaTypes() {
		types = append(types, map[string]interface{}{
			"name":   t.Name,
			"parent": t.Parent,
			"table":  t.Table,
		})
	}
	v.SetDefault("schema.types", types)
}

// BindSensitiveEnvVars explicitly binds connection settings to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "VCLEAN_DATABASE_PATH")
	v.BindEnv("target.driver", "VCLEAN_TARGET_DRIVER")
	v.BindEnv("target.dsn", "VCLEAN_TARGET_DSN")
}

// DefaultConfig returns the configuration produced by SetDefaults alone
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Target:   TargetConfig{Driver: DefaultTargetDriver, DSN: DefaultTargetDSN},
		Cleaner: CleanerConfig{
			DefaultRecordType: DefaultRecordType,
			VersionsToKeep:    DefaultVersionsToKeep,
			ExecuteInterval:   DefaultExecuteInterval,
			ExecuteEvery:      DefaultExecuteEvery,
		},
		Pulse: PulseConfig{
			TickSchedule:            DefaultTickSchedule,
			MaxInvocationsPerSecond: DefaultMaxInvocationsSec,
		},
		Schema: SchemaConfig{
			ClassColumn: DefaultClassColumn,
			Types:       DefaultSchemaTypes(),
		},
	}
}

// GetDatabasePath returns the configured job database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Target: %s, Cleaner: {RecordType: %s, Keep: %d}, Pulse: {Tick: %s}}",
		c.Database.Path, c.Target.Driver, c.Cleaner.DefaultRecordType, c.Cleaner.VersionsToKeep, c.Pulse.TickSchedule)
}
