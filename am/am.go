package am

// Config represents the vclean configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Target   TargetConfig   `mapstructure:"target" toml:"target" json:"target" yaml:"target"`
	Cleaner  CleanerConfig  `mapstructure:"cleaner" toml:"cleaner" json:"cleaner" yaml:"cleaner"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse" json:"pulse" yaml:"pulse"`
	Schema   SchemaConfig   `mapstructure:"schema" toml:"schema" json:"schema" yaml:"schema"`
}

// DatabaseConfig configures the SQLite database holding cleaner jobs and execution history
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// TargetConfig configures the content database whose version history is pruned
type TargetConfig struct {
	Driver string `mapstructure:"driver" toml:"driver" json:"driver" yaml:"driver"` // sqlite3, sqlite, postgres, pgx
	DSN    string `mapstructure:"dsn" toml:"dsn" json:"dsn" yaml:"dsn"`
}

// CleanerConfig holds the defaults applied to cleaner jobs before they are written
type CleanerConfig struct {
	DefaultRecordType string `mapstructure:"default_record_type" toml:"default_record_type" json:"default_record_type" yaml:"default_record_type"`
	VersionsToKeep    int    `mapstructure:"versions_to_keep" toml:"versions_to_keep" json:"versions_to_keep" yaml:"versions_to_keep"`
	ExecuteInterval   int    `mapstructure:"execute_interval" toml:"execute_interval" json:"execute_interval" yaml:"execute_interval"` // Interval count (default: 2)
	ExecuteEvery      string `mapstructure:"execute_every" toml:"execute_every" json:"execute_every" yaml:"execute_every"`             // Minute, Hour, Day, Week, Fortnight, Month, Year
}

// PulseConfig configures the Pulse scheduler daemon
type PulseConfig struct {
	TickSchedule            string  `mapstructure:"tick_schedule" toml:"tick_schedule" json:"tick_schedule" yaml:"tick_schedule"` // cron spec, e.g. "@every 10s"
	MaxInvocationsPerSecond float64 `mapstructure:"max_invocations_per_second" toml:"max_invocations_per_second" json:"max_invocations_per_second" yaml:"max_invocations_per_second"` // 0 = unlimited
	MetricsAddr             string  `mapstructure:"metrics_addr" toml:"metrics_addr" json:"metrics_addr" yaml:"metrics_addr"` // empty = no /metrics endpoint
}

// SchemaConfig describes the record types of the content database
type SchemaConfig struct {
	ClassColumn string       `mapstructure:"class_column" toml:"class_column" json:"class_column" yaml:"class_column"`
	Types       []SchemaType `mapstructure:"types" toml:"types" json:"types" yaml:"types"`
}

// SchemaType is one [[schema.types]] entry.
// Parent is empty for types derived directly from the generic root record.
// Table is empty for abstract types without their own storage.
type SchemaType struct {
	Name   string `mapstructure:"name" toml:"name" json:"name" yaml:"name"`
	Parent string `mapstructure:"parent" toml:"parent,omitempty" json:"parent,omitempty" yaml:"parent,omitempty"`
	Table  string `mapstructure:"table" toml:"table,omitempty" json:"table,omitempty" yaml:"table,omitempty"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
