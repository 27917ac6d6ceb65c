package cleaner

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/logger"
)

// JobCreator stores new cleaner jobs
type JobCreator interface {
	Create(ctx context.Context, job *Job) error
	ClaimedRecordIDs(ctx context.Context, recordType string) ([]int64, error)
}

// Seeder starts new cleaner lineages
type Seeder struct {
	jobs   JobCreator
	runner *Runner
	logger *zap.SugaredLogger
}

// NewSeeder creates a seeder sharing the runner's walker and defaults
func NewSeeder(jobs JobCreator, runner *Runner, log *zap.SugaredLogger) *Seeder {
	return &Seeder{jobs: jobs, runner: runner, logger: logger.AddCleanSymbol(log)}
}

// SeedOptions override the defaults of a new lineage
type SeedOptions struct {
	RecordType     string // empty = default record type
	VersionsToKeep int    // 0 = default
}

// Seed creates a Queued job targeting the first unclaimed record of the
// record type, armed to run now. It returns nil when the type has no
// unclaimed records.
func (s *Seeder) Seed(ctx context.Context, opts SeedOptions) (*Job, error) {
	defaults := s.runner.Defaults()

	job := &Job{
		RecordType:     opts.RecordType,
		VersionsToKeep: opts.VersionsToKeep,
	}
	if job.RecordType == "" {
		job.RecordType = defaults.RecordType
	}
	if _, err := s.runner.registry.Resolve(job.RecordType); err != nil {
		return nil, err
	}
	if job.VersionsToKeep < 0 {
		return nil, errors.Wrapf(ErrInvalidKeepCount, "got %d", job.VersionsToKeep)
	}

	claimed, err := s.jobs.ClaimedRecordIDs(ctx, job.RecordType)
	if err != nil {
		return nil, err
	}
	next, err := s.runner.Walker().NextRecordID(ctx, job.RecordType, 0, claimed)
	if err != nil {
		return nil, err
	}
	if next == 0 {
		s.logger.Infow("No records found", logger.FieldRecordType, job.RecordType)
		return nil, nil
	}

	job.TargetRecordID = next
	defaults.Apply(job)

	period := defaults.period()
	job.ExecuteEvery = &period
	// First run is due immediately
	now := s.runner.now().UTC()
	job.NextRunAt = &now

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Infow("Found record",
		logger.FieldCleanerID, job.ID,
		logger.FieldRecordType, job.RecordType,
		logger.FieldRecordID, job.TargetRecordID,
		logger.FieldKeepCount, job.VersionsToKeep)
	return job, nil
}
