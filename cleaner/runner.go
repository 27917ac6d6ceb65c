package cleaner

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/logger"
	"github.com/teranos/vclean/schema"
)

// JobStore persists cleaner jobs
type JobStore interface {
	Get(ctx context.Context, id int64) (*Job, error)
	Save(ctx context.Context, job *Job) error
	MarkRunning(ctx context.Context, id int64) (bool, error)
	ClaimedRecordIDs(ctx context.Context, recordType string) ([]int64, error)
}

// VersionStore is everything a runner needs from the content database
type VersionStore interface {
	VersionSource
	RecordSource
	VersionDeleter
}

// Deps holds the collaborators of a Runner
type Deps struct {
	Jobs     JobStore
	Versions VersionStore
	Registry *schema.Registry
	Defaults Defaults
	Metrics  *Metrics // optional
}

// Outcome describes what one invocation did
type Outcome struct {
	Job      *Job
	RecordID int64    // record processed in this invocation
	Tables   []string // version tables pruned
	Retained []int    // versions kept
	Deleted  int64    // version rows removed
	Err      error    // processing failure that broke the job, if any
}

// Runner drives the cleaner job state machine
type Runner struct {
	jobs      JobStore
	registry  *schema.Registry
	retention *RetentionPolicy
	executor  *Executor
	walker    *RecordWalker
	metrics   *Metrics
	defaults  atomic.Pointer[Defaults]
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewRunner creates a runner
func NewRunner(deps Deps, log *zap.SugaredLogger) *Runner {
	r := &Runner{
		jobs:      deps.Jobs,
		registry:  deps.Registry,
		retention: NewRetentionPolicy(deps.Versions),
		executor:  NewExecutor(deps.Versions),
		walker:    NewRecordWalker(deps.Versions),
		metrics:   deps.Metrics,
		logger:    logger.AddCleanSymbol(log),
		now:       time.Now,
	}
	r.SetDefaults(deps.Defaults)
	return r
}

// SetDefaults replaces the defaults applied to jobs; safe while invocations run
func (r *Runner) SetDefaults(d Defaults) {
	r.defaults.Store(&d)
}

// Defaults returns the defaults currently applied to jobs
func (r *Runner) Defaults() Defaults {
	return *r.defaults.Load()
}

// Walker returns the record walker, shared with seeding
func (r *Runner) Walker() *RecordWalker {
	return r.walker
}

// ApplyDefaults fills unset fields of job from the current defaults
func (r *Runner) ApplyDefaults(job *Job) {
	r.Defaults().Apply(job)
}

// Execute runs one invocation of job id: prune the current target, then move
// on to the next unclaimed record or stop.
//
// The job is claimed with a Queued→Running compare-and-set that also clears
// its armed marker, so a duplicate trigger gets ErrNotQueued and changes
// nothing. Processing failures put the job in Broken and are reported in
// Outcome.Err, not as the returned error. The returned error is reserved for
// failures to read or persist the job row itself.
//
// Once claimed, the job row is read and written with a context that ignores
// cancellation of ctx, so a shutdown or timeout mid-invocation still leaves
// the job Broken rather than Running.
func (r *Runner) Execute(ctx context.Context, id int64) (*Outcome, error) {
	start := r.now()
	log := r.logger.With(logger.FieldCleanerID, id)

	claimed, err := r.jobs.MarkRunning(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errors.Wrapf(ErrNotQueued, "cleaner job %d", id)
	}

	persistCtx := context.WithoutCancel(ctx)

	job, err := r.jobs.Get(persistCtx, id)
	if err != nil {
		log.Errorw("Claimed cleaner job could not be loaded", logger.FieldError, err)
		return nil, errors.WithHint(
			errors.Wrapf(err, "cleaner job %d left %s", id, StatusRunning),
			"recover it with 'vclean clean rearm --force'")
	}
	r.ApplyDefaults(job)

	outcome := &Outcome{Job: job, RecordID: job.TargetRecordID}
	log = log.With(logger.FieldRecordType, job.RecordType, logger.FieldRecordID, job.TargetRecordID)
	log.Debugw("Cleaner job running")

	if err := r.process(ctx, job, outcome); err != nil {
		outcome.Err = err
		return r.finish(log, outcome, start, r.halt(persistCtx, job, StatusBroken, err.Error()))
	}

	job.PreviousRecordID = job.TargetRecordID

	next, err := r.nextTarget(ctx, job)
	if err != nil {
		outcome.Err = err
		return r.finish(log, outcome, start, r.halt(persistCtx, job, StatusBroken, err.Error()))
	}

	if next == 0 {
		return r.finish(log, outcome, start, r.halt(persistCtx, job, StatusStopped, StoppedMessage))
	}

	job.TargetRecordID = next
	job.Status = StatusQueued
	job.Message = ""
	job.RefreshTitle()
	job.Arm(r.now())
	return r.finish(log, outcome, start, r.jobs.Save(persistCtx, job))
}

// process prunes the current target of job
func (r *Runner) process(ctx context.Context, job *Job, outcome *Outcome) error {
	retained, err := r.retention.RetainedVersions(ctx, job.RecordType, job.TargetRecordID, job.VersionsToKeep)
	if err != nil {
		return err
	}
	outcome.Retained = retained

	tables, err := r.registry.Resolve(job.RecordType)
	if err != nil {
		return err
	}
	outcome.Tables = tables

	deleted, err := r.executor.Execute(ctx, job.TargetRecordID, tables, retained)
	outcome.Deleted = deleted
	return err
}

func (r *Runner) nextTarget(ctx context.Context, job *Job) (int64, error) {
	claimed, err := r.jobs.ClaimedRecordIDs(ctx, job.RecordType)
	if err != nil {
		return 0, err
	}
	return r.walker.NextRecordID(ctx, job.RecordType, job.TargetRecordID, claimed)
}

// halt moves job into a terminal state and stops it being scheduled again
func (r *Runner) halt(ctx context.Context, job *Job, status Status, message string) error {
	job.Status = status
	job.Message = message
	job.Unschedule()
	return r.jobs.Save(ctx, job)
}

func (r *Runner) finish(log *zap.SugaredLogger, outcome *Outcome, start time.Time, saveErr error) (*Outcome, error) {
	job := outcome.Job
	elapsed := r.now().Sub(start)

	if saveErr != nil {
		r.metrics.RecordPersistFailure(job.RecordType, outcome.Deleted, elapsed)
		log.Errorw("Failed to persist cleaner job",
			logger.FieldStatus, job.Status,
			logger.FieldError, saveErr)
		return outcome, errors.WithHint(
			errors.Wrapf(saveErr, "cleaner job %d left %s", job.ID, StatusRunning),
			"recover it with 'vclean clean rearm --force'")
	}

	r.metrics.RecordInvocation(job.RecordType, job.Status, outcome.Deleted, elapsed)

	fields := []interface{}{
		logger.FieldStatus, job.Status,
		logger.FieldRetained, outcome.Retained,
		logger.FieldDeleted, outcome.Deleted,
		logger.FieldDurationMS, elapsed.Milliseconds(),
	}
	switch job.Status {
	case StatusBroken:
		log.Errorw("Cleaner job broken", append(fields, logger.FieldError, job.Message)...)
	case StatusStopped:
		log.Infow("Cleaner job finished traversal", fields...)
	default:
		log.Infow("Cleaner job advanced",
			append(fields, "next_record_id", job.TargetRecordID, logger.FieldNextRunAt, job.NextRunAt)...)
	}

	return outcome, nil
}

// Rearm returns a Broken or Stopped job to Queued with its period restored
// and schedules it for now. Queued and Running jobs are refused.
func (r *Runner) Rearm(ctx context.Context, id int64) (*Job, error) {
	return r.rearm(ctx, id, 0)
}

// ForceRearm is Rearm that also accepts a Running job whose row has not been
// written for at least staleAfter. Such a job was abandoned by an invocation
// that died before it could persist a final state.
func (r *Runner) ForceRearm(ctx context.Context, id int64, staleAfter time.Duration) (*Job, error) {
	if staleAfter <= 0 {
		return nil, errors.Newf("stale threshold must be positive, got %s", staleAfter)
	}
	return r.rearm(ctx, id, staleAfter)
}

func (r *Runner) rearm(ctx context.Context, id int64, staleAfter time.Duration) (*Job, error) {
	job, err := r.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case job.IsTerminal():
	case job.Status == StatusRunning && staleAfter > 0:
		if idle := r.now().Sub(job.UpdatedAt); idle < staleAfter {
			return nil, errors.WithHint(
				errors.Wrapf(errors.ErrConflict, "cleaner job %d is %s (last updated %s ago)", id, job.Status, idle.Truncate(time.Second)),
				"an invocation may still be in progress; retry once the job has been idle for the stale threshold")
		}
		r.logger.Warnw("Recovering abandoned cleaner job",
			logger.FieldCleanerID, job.ID,
			logger.FieldRecordID, job.TargetRecordID,
			"updated_at", job.UpdatedAt.Format(time.RFC3339))
	default:
		return nil, errors.Wrapf(errors.ErrConflict, "cleaner job %d is %s", id, job.Status)
	}

	defaults := r.Defaults()
	if job.ExecuteEvery == nil {
		p := defaults.period()
		job.ExecuteEvery = &p
	}
	if job.ExecuteInterval <= 0 {
		job.ExecuteInterval = defaults.ExecuteInterval
	}
	if job.TargetRecordID == 0 {
		job.TargetRecordID = job.PreviousRecordID
	}
	job.Status = StatusQueued
	job.Message = ""
	job.RefreshTitle()

	now := r.now().UTC()
	job.NextRunAt = &now

	if err := r.jobs.Save(ctx, job); err != nil {
		return nil, err
	}

	r.logger.Infow("Cleaner job re-armed",
		logger.FieldCleanerID, job.ID,
		logger.FieldRecordType, job.RecordType,
		logger.FieldRecordID, job.TargetRecordID)
	return job, nil
}
