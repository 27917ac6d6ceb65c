package am

import (
	"github.com/robfig/cron/v3"

	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/versioned"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty falls back to DefaultDatabasePath

	if !versioned.IsSupportedDriver(c.Target.Driver) {
		return errors.WithHintf(
			errors.Newf("target.driver %q is not supported", c.Target.Driver),
			"use one of %v", versioned.SupportedDrivers())
	}
	if c.Target.DSN == "" {
		return errors.New("target.dsn cannot be empty")
	}

	// Zero would keep nothing but the stage pointers, which is never what an operator wants
	if c.Cleaner.VersionsToKeep <= 0 {
		return errors.Newf("cleaner.versions_to_keep must be > 0, got %d", c.Cleaner.VersionsToKeep)
	}
	if c.Cleaner.ExecuteInterval <= 0 {
		return errors.Newf("cleaner.execute_interval must be > 0, got %d", c.Cleaner.ExecuteInterval)
	}
	if _, err := cleaner.ParsePeriod(c.Cleaner.ExecuteEvery); err != nil {
		return errors.Wrap(err, "cleaner.execute_every")
	}

	if _, err := cron.ParseStandard(c.Pulse.TickSchedule); err != nil {
		return errors.Wrapf(err, "pulse.tick_schedule %q is not a valid cron spec", c.Pulse.TickSchedule)
	}
	// 0 = unlimited, negative = invalid
	if c.Pulse.MaxInvocationsPerSecond < 0 {
		return errors.Newf("pulse.max_invocations_per_second must be >= 0, got %f", c.Pulse.MaxInvocationsPerSecond)
	}

	registry, err := c.Schema.Registry()
	if err != nil {
		return errors.Wrap(err, "schema")
	}
	if c.Cleaner.DefaultRecordType != "" && !registry.Has(c.Cleaner.DefaultRecordType) {
		return errors.Newf("cleaner.default_record_type %q is not a registered schema type", c.Cleaner.DefaultRecordType)
	}

	return nil
}
