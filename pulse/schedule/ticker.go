package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/db"
	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/internal/util"
	"github.com/teranos/vclean/logger"
	"github.com/teranos/vclean/sym"
)

// DueLister finds cleaner jobs whose next run has come
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*cleaner.Job, error)
}

// Invoker runs one invocation of a cleaner job
type Invoker interface {
	Execute(ctx context.Context, id int64) (*cleaner.Outcome, error)
}

// Ticker manages periodic execution of due cleaner jobs.
// Ticks follow a cron schedule; overlapping ticks are skipped.
type Ticker struct {
	jobs      DueLister
	runner    Invoker
	execs     *ExecutionStore // optional
	schedule  cron.Schedule
	spec      string
	limiter   *rate.Limiter
	batchSize int
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.SugaredLogger
	pulseLog  *zap.SugaredLogger // Logger with Pulse symbol pre-attached
	now       func() time.Time

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	invocations     int64
	lastDue         int // Track last due count to detect changes
}

// TickerConfig contains configuration for the Pulse ticker
type TickerConfig struct {
	Schedule                string  // cron spec, descriptors like "@every 10s" allowed
	MaxInvocationsPerSecond float64 // 0 disables rate limiting
	BatchSize               int     // max jobs picked up per tick
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Schedule:                "@every 10s",
		MaxInvocationsPerSecond: 5,
		BatchSize:               100,
	}
}

// NewTicker creates a new Pulse ticker
func NewTicker(jobs DueLister, runner Invoker, execs *ExecutionStore, cfg TickerConfig, log *zap.SugaredLogger) (*Ticker, error) {
	return NewTickerWithContext(context.Background(), jobs, runner, execs, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, jobs DueLister, runner Invoker, execs *ExecutionStore, cfg TickerConfig, log *zap.SugaredLogger) (*Ticker, error) {
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "invalid tick schedule %q", cfg.Schedule),
			"use a five-field cron expression or a descriptor such as @every 10s")
	}
	if cfg.MaxInvocationsPerSecond < 0 {
		return nil, errors.Newf("max invocations per second must not be negative, got %v", cfg.MaxInvocationsPerSecond)
	}

	limit := rate.Inf
	burst := 1
	if cfg.MaxInvocationsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxInvocationsPerSecond)
		if b := int(cfg.MaxInvocationsPerSecond); b > 1 {
			burst = b
		}
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultTickerConfig().BatchSize
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	t := &Ticker{
		jobs:      jobs,
		runner:    runner,
		execs:     execs,
		schedule:  schedule,
		spec:      cfg.Schedule,
		limiter:   rate.NewLimiter(limit, burst),
		batchSize: batch,
		ctx:       tickerCtx,
		cancel:    cancel,
		logger:    log,
		pulseLog:  logger.AddPulseSymbol(log),
		now:       time.Now,
	}

	cl := cronLogger{log: t.pulseLog}
	t.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	t.cron.Schedule(schedule, cron.FuncJob(t.tick))

	return t, nil
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.cron.Start()
	t.pulseLog.Infow("Pulse ticker started",
		"schedule", t.spec,
		"next_tick", t.schedule.Next(t.now()).Format(time.RFC3339))
}

// Stop cancels in-flight invocations and waits for the running tick to return
func (t *Ticker) Stop() {
	t.cancel()
	<-t.cron.Stop().Done()
	t.pulseLog.Infow("Pulse ticker stopped")
}

// tick is the cron entry point
func (t *Ticker) tick() {
	tickTime := t.now()

	t.mu.Lock()
	t.lastTickAt = tickTime
	t.ticksSinceStart++
	ticks := t.ticksSinceStart
	t.mu.Unlock()

	err := t.Tick(t.ctx, tickTime)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case db.IsDatabaseClosed(err):
		t.pulseLog.Debugw("Pulse tick skipped, database closed", "tick", ticks)
	default:
		// Don't spam logs - log errors at warn level
		t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err, "tick", ticks)
	}
}

// Tick runs every cleaner job due at now, one at a time. A job failing
// does not stop the others.
func (t *Ticker) Tick(ctx context.Context, now time.Time) error {
	jobs, err := t.jobs.ListDue(ctx, now, t.batchSize)
	if err != nil {
		return errors.Wrap(err, "failed to list due cleaner jobs")
	}

	t.logDue(len(jobs))

	for _, job := range jobs {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		t.invoke(ctx, job)
	}

	return nil
}

// logDue logs the number of due jobs when it changes
func (t *Ticker) logDue(due int) {
	t.mu.Lock()
	hasChanged := due != t.lastDue
	t.lastDue = due
	t.mu.Unlock()

	if !hasChanged {
		return
	}

	if due == 0 {
		t.pulseLog.Infow("Pulse - no cleaner jobs due")
		return
	}

	// 1 symbol per 5 due jobs, capped at 20
	numSymbols := due/5 + 1
	if numSymbols > 20 {
		numSymbols = 20
	}
	indicator := strings.TrimSpace(strings.Repeat(sym.Pulse+" ", numSymbols))
	t.pulseLog.Infow(fmt.Sprintf("%s Pulse - %d cleaner jobs due", indicator, due), logger.FieldCount, due)
}

// invoke runs one cleaner invocation and records it in the execution history
func (t *Ticker) invoke(ctx context.Context, job *cleaner.Job) {
	startTime := t.now()

	t.mu.Lock()
	t.invocations++
	t.mu.Unlock()

	execution := &Execution{
		ID:         uuid.NewString(),
		CleanerID:  job.ID,
		RecordType: job.RecordType,
		RecordID:   job.TargetRecordID,
		Status:     ExecutionStatusRunning,
		StartedAt:  startTime.UTC().Format(time.RFC3339),
		CreatedAt:  startTime.UTC().Format(time.RFC3339),
		UpdatedAt:  startTime.UTC().Format(time.RFC3339),
	}
	log := t.pulseLog.With(
		logger.FieldCleanerID, job.ID,
		logger.FieldExecutionID, execution.ID,
		logger.FieldRecordType, job.RecordType)

	t.recordStart(ctx, log, execution)

	outcome, err := t.runner.Execute(ctx, job.ID)

	completedAt := t.now()
	durationMs := int(completedAt.Sub(startTime).Milliseconds())
	execution.CompletedAt = util.Ptr(completedAt.UTC().Format(time.RFC3339))
	execution.DurationMs = &durationMs
	execution.UpdatedAt = completedAt.UTC().Format(time.RFC3339)

	switch {
	case err != nil:
		execution.Status = ExecutionStatusFailed
		execution.ErrorMessage = util.Ptr(err.Error())
		if errors.Is(err, cleaner.ErrNotQueued) {
			log.Debugw("Pulse skipped cleaner job already claimed", logger.FieldError, err)
		} else {
			log.Errorw("Pulse FAILED",
				logger.FieldDurationMS, durationMs,
				logger.FieldError, err)
		}
	case outcome.Err != nil:
		t.fillOutcome(execution, outcome)
		execution.Status = ExecutionStatusFailed
		execution.ErrorMessage = util.Ptr(outcome.Err.Error())
		log.Warnw("Pulse cleaner job broken",
			logger.FieldRecordID, outcome.RecordID,
			logger.FieldDurationMS, durationMs,
			logger.FieldError, outcome.Err)
	default:
		t.fillOutcome(execution, outcome)
		execution.Status = ExecutionStatusCompleted
		fields := []interface{}{
			logger.FieldRecordID, outcome.RecordID,
			logger.FieldDeleted, outcome.Deleted,
			logger.FieldStatus, outcome.Job.Status,
			logger.FieldDurationMS, durationMs,
		}
		if next := outcome.Job.NextExecution(); next != nil {
			fields = append(fields, logger.FieldNextRunAt, next.UTC().Format(time.RFC3339))
		}
		log.Infow("Pulse OK", fields...)
	}

	t.recordFinish(ctx, log, execution)
}

func (t *Ticker) fillOutcome(execution *Execution, outcome *cleaner.Outcome) {
	execution.RecordID = outcome.RecordID
	execution.DeletedRows = outcome.Deleted
	if len(outcome.Retained) > 0 {
		execution.RetainedVersions = util.Ptr(FormatVersions(outcome.Retained))
	}
}

func (t *Ticker) recordStart(ctx context.Context, log *zap.SugaredLogger, execution *Execution) {
	if t.execs == nil {
		return
	}
	if err := t.execs.CreateExecution(ctx, execution); err != nil {
		// Continue anyway - execution history is informational
		log.Errorw("Failed to create execution record", logger.FieldError, err)
	}
}

func (t *Ticker) recordFinish(ctx context.Context, log *zap.SugaredLogger, execution *Execution) {
	if t.execs == nil {
		return
	}
	// The tick may have been cancelled mid-invocation; the row still gets its final state.
	if err := t.execs.UpdateExecution(context.WithoutCancel(ctx), execution); err != nil {
		log.Errorw("Failed to update execution record", logger.FieldError, err)
	}
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"invocations":       t.invocations,
		"schedule":          t.spec,
	}
}

// cronLogger routes robfig/cron's logging into zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, logger.FieldError, err)...)
}
