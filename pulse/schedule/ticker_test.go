package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/errors"
	vcleantest "github.com/teranos/vclean/internal/testing"
	"github.com/teranos/vclean/versioned"
)

var pageTables = []string{"Page_Versions", "SiteTree_Versions"}

type tickerFixture struct {
	ticker  *Ticker
	jobs    *cleaner.Store
	execs   *ExecutionStore
	content *sqlx.DB
}

func setupTicker(t *testing.T) *tickerFixture {
	t.Helper()
	return setupTickerWith(t, nil, DefaultTickerConfig().Schedule)
}

// setupTickerWith builds a ticker on spec; wrap, if set, decorates the
// content store the runner prunes through
func setupTickerWith(t *testing.T, wrap func(cleaner.VersionStore) cleaner.VersionStore, spec string) *tickerFixture {
	t.Helper()

	db := createTestDB(t)
	content := vcleantest.CreateContentDB(t)
	registry := vcleantest.ContentRegistry(t)
	jobs := cleaner.NewStore(db)
	execs := NewExecutionStore(db)
	log := zaptest.NewLogger(t).Sugar()

	var versions cleaner.VersionStore = versioned.New(content, registry)
	if wrap != nil {
		versions = wrap(versions)
	}

	runner := cleaner.NewRunner(cleaner.Deps{
		Jobs:     jobs,
		Versions: versions,
		Registry: registry,
		Defaults: cleaner.Defaults{
			RecordType:      "Page",
			VersionsToKeep:  2,
			ExecuteInterval: 1,
			ExecuteEvery:    cleaner.PeriodMinute,
		},
	}, log)

	cfg := DefaultTickerConfig()
	cfg.Schedule = spec
	cfg.MaxInvocationsPerSecond = 0
	ticker, err := NewTicker(jobs, runner, execs, cfg, log)
	require.NoError(t, err)

	return &tickerFixture{ticker: ticker, jobs: jobs, execs: execs, content: content}
}

func TestTicker_RunsDueJobs(t *testing.T) {
	f := setupTicker(t)
	ctx := context.Background()
	now := time.Now()

	vcleantest.InsertRecord(t, f.content, "SiteTree", 10, "Page", 6, 2)
	vcleantest.InsertVersions(t, f.content, 10, 6, pageTables...)
	vcleantest.InsertRecord(t, f.content, "SiteTree", 15, "Page", 1, 1)
	job := createCleaner(t, f.jobs, "Page", 10, now.Add(-time.Minute))

	require.NoError(t, f.ticker.Tick(ctx, now))

	for _, table := range pageTables {
		assert.Equal(t, []int{6, 5, 2}, vcleantest.VersionsOf(t, f.content, table, 10), table)
	}

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, cleaner.StatusQueued, got.Status)
	assert.Equal(t, int64(15), got.TargetRecordID)
	assert.Equal(t, int64(10), got.PreviousRecordID)

	executions, total, err := f.execs.ListExecutions(ctx, job.ID, 10, 0, "")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	exec := executions[0]
	assert.Equal(t, ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, int64(10), exec.RecordID)
	assert.Equal(t, int64(6), exec.DeletedRows)
	require.NotNil(t, exec.RetainedVersions)
	assert.Equal(t, "6,5,2", *exec.RetainedVersions)
	assert.NotNil(t, exec.CompletedAt)
	assert.NotNil(t, exec.DurationMs)
	assert.Nil(t, exec.ErrorMessage)

	stats := f.ticker.GetStats()
	assert.Equal(t, int64(1), stats["invocations"])
}

func TestTicker_SkipsJobsNotDue(t *testing.T) {
	f := setupTicker(t)
	ctx := context.Background()
	now := time.Now()

	vcleantest.InsertRecord(t, f.content, "SiteTree", 10, "Page", 6, 2)
	vcleantest.InsertVersions(t, f.content, 10, 6, pageTables...)
	job := createCleaner(t, f.jobs, "Page", 10, now.Add(time.Hour))

	require.NoError(t, f.ticker.Tick(ctx, now))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, cleaner.StatusQueued, got.Status)
	assert.Equal(t, int64(10), got.TargetRecordID)
	assert.Len(t, vcleantest.VersionsOf(t, f.content, "Page_Versions", 10), 6)

	_, total, err := f.execs.ListExecutions(ctx, job.ID, 10, 0, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTicker_BrokenJobRecordsFailure(t *testing.T) {
	f := setupTicker(t)
	ctx := context.Background()
	now := time.Now()

	// Record 99 has no history at all
	job := createCleaner(t, f.jobs, "Page", 99, now.Add(-time.Minute))

	require.NoError(t, f.ticker.Tick(ctx, now))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, cleaner.StatusBroken, got.Status)
	assert.Contains(t, got.Message, "RecordID 99")

	executions, _, err := f.execs.ListExecutions(ctx, job.ID, 10, 0, ExecutionStatusFailed)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.NotNil(t, executions[0].ErrorMessage)
	assert.Equal(t, got.Message, *executions[0].ErrorMessage)

	// A broken job is no longer due
	require.NoError(t, f.ticker.Tick(ctx, now.Add(time.Hour)))
	_, total, err := f.execs.ListExecutions(ctx, job.ID, 10, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestTicker_OneFailureDoesNotStopOthers(t *testing.T) {
	f := setupTicker(t)
	ctx := context.Background()
	now := time.Now()

	vcleantest.InsertRecord(t, f.content, "SiteTree", 10, "Page", 6, 2)
	vcleantest.InsertVersions(t, f.content, 10, 6, pageTables...)
	broken := createCleaner(t, f.jobs, "Page", 99, now.Add(-2*time.Minute))
	healthy := createCleaner(t, f.jobs, "Page", 10, now.Add(-time.Minute))

	require.NoError(t, f.ticker.Tick(ctx, now))

	got, err := f.jobs.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, cleaner.StatusBroken, got.Status)

	got, err = f.jobs.Get(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, cleaner.StatusStopped, got.Status)
	assert.Equal(t, cleaner.StoppedMessage, got.Message)
	assert.Equal(t, []int{6, 5, 2}, vcleantest.VersionsOf(t, f.content, "Page_Versions", 10))
}

type stubLister struct {
	jobs  []*cleaner.Job
	err   error
	calls atomic.Int32
}

func (s *stubLister) ListDue(ctx context.Context, now time.Time, limit int) ([]*cleaner.Job, error) {
	s.calls.Add(1)
	return s.jobs, s.err
}

type stubInvoker struct {
	err   error
	calls atomic.Int32
}

func (s *stubInvoker) Execute(ctx context.Context, id int64) (*cleaner.Outcome, error) {
	s.calls.Add(1)
	return nil, s.err
}

func TestTicker_AlreadyClaimed(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()
	job := createCleaner(t, cleaner.NewStore(db), "Page", 10, time.Now())
	execs := NewExecutionStore(db)

	invoker := &stubInvoker{err: errors.Wrapf(cleaner.ErrNotQueued, "cleaner job %d", job.ID)}
	ticker, err := NewTicker(&stubLister{jobs: []*cleaner.Job{job}}, invoker, execs, DefaultTickerConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	require.NoError(t, ticker.Tick(ctx, time.Now()))
	assert.Equal(t, int32(1), invoker.calls.Load())

	executions, _, err := execs.ListExecutions(ctx, job.ID, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, ExecutionStatusFailed, executions[0].Status)
	require.NotNil(t, executions[0].ErrorMessage)
	assert.Contains(t, *executions[0].ErrorMessage, "not queued")
}

func TestTicker_ListError(t *testing.T) {
	lister := &stubLister{err: errors.New("database is locked")}
	ticker, err := NewTicker(lister, &stubInvoker{}, nil, DefaultTickerConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	err = ticker.Tick(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestTicker_WithoutExecutionHistory(t *testing.T) {
	invoker := &stubInvoker{err: cleaner.ErrNotQueued}
	lister := &stubLister{jobs: []*cleaner.Job{{ID: 1, RecordType: "Page"}, {ID: 2, RecordType: "Page"}}}
	ticker, err := NewTicker(lister, invoker, nil, DefaultTickerConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	require.NoError(t, ticker.Tick(context.Background(), time.Now()))
	assert.Equal(t, int32(2), invoker.calls.Load())
}

func TestTicker_CancelledWhileRateLimited(t *testing.T) {
	lister := &stubLister{jobs: []*cleaner.Job{{ID: 1}, {ID: 2}, {ID: 3}}}
	invoker := &stubInvoker{err: cleaner.ErrNotQueued}
	cfg := DefaultTickerConfig()
	cfg.MaxInvocationsPerSecond = 0.01
	ticker, err := NewTicker(lister, invoker, nil, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = ticker.Tick(ctx, time.Now())
	require.Error(t, err)
	assert.Equal(t, int32(1), invoker.calls.Load(), "burst of one, the rest wait on the limiter")
}

func TestNewTicker_Validation(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	cfg := DefaultTickerConfig()
	cfg.Schedule = "every now and then"
	_, err := NewTicker(&stubLister{}, &stubInvoker{}, nil, cfg, log)
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))

	cfg = DefaultTickerConfig()
	cfg.MaxInvocationsPerSecond = -1
	_, err = NewTicker(&stubLister{}, &stubInvoker{}, nil, cfg, log)
	require.Error(t, err)

	cfg = DefaultTickerConfig()
	cfg.Schedule = "*/5 * * * *"
	_, err = NewTicker(&stubLister{}, &stubInvoker{}, nil, cfg, log)
	require.NoError(t, err)
}

func TestTicker_StartStop(t *testing.T) {
	lister := &stubLister{}
	cfg := DefaultTickerConfig()
	cfg.Schedule = "@every 1s"
	ticker, err := NewTicker(lister, &stubInvoker{}, nil, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ticker.Start()
	assert.Eventually(t, func() bool {
		return lister.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	ticker.Stop()

	stats := ticker.GetStats()
	assert.GreaterOrEqual(t, stats["ticks_since_start"].(int64), int64(1))
	assert.Equal(t, "@every 1s", stats["schedule"])
}

// stallingDeletes blocks deletes until the invocation is cancelled
type stallingDeletes struct {
	cleaner.VersionStore
	entered chan struct{}
}

func (s stallingDeletes) DeleteVersions(ctx context.Context, _ string, _ int64, _ []int) (int64, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestTicker_StopDuringInvocation(t *testing.T) {
	entered := make(chan struct{}, 1)
	f := setupTickerWith(t, func(vs cleaner.VersionStore) cleaner.VersionStore {
		return stallingDeletes{VersionStore: vs, entered: entered}
	}, "@every 1s")
	ctx := context.Background()

	vcleantest.InsertRecord(t, f.content, "SiteTree", 10, "Page", 6, 2)
	vcleantest.InsertVersions(t, f.content, 10, 6, pageTables...)
	job := createCleaner(t, f.jobs, "Page", 10, time.Now().Add(-time.Minute))

	f.ticker.Start()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		f.ticker.Stop()
		t.Fatal("invocation never started")
	}

	// Stop cancels the blocked invocation and waits for it
	f.ticker.Stop()

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, cleaner.StatusBroken, got.Status)
	assert.Equal(t, context.Canceled.Error(), got.Message)

	executions, total, err := f.execs.ListExecutions(ctx, job.ID, 10, 0, "")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, ExecutionStatusFailed, executions[0].Status)
	require.NotNil(t, executions[0].ErrorMessage)
	assert.Equal(t, context.Canceled.Error(), *executions[0].ErrorMessage)
	assert.NotNil(t, executions[0].CompletedAt)
}
