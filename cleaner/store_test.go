package cleaner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vclean/errors"
	qntxtest "github.com/teranos/vclean/internal/testing"
	"github.com/teranos/vclean/internal/util"
)

func newQueuedJob(recordType string, target int64, nextRunAt time.Time) *Job {
	job := &Job{
		RecordType:      recordType,
		TargetRecordID:  target,
		VersionsToKeep:  5,
		Status:          StatusQueued,
		ExecuteInterval: 2,
		ExecuteEvery:    util.Ptr(PeriodMinute),
		NextRunAt:       &nextRunAt,
	}
	job.RefreshTitle()
	return job
}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(qntxtest.CreateTestDB(t))
	ctx := context.Background()

	next := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	job := newQueuedJob("Page", 10, next)
	require.NoError(t, store.Create(ctx, job))
	assert.NotZero(t, job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "ID 10 (Page) Version cleanup", got.Title)
	assert.Equal(t, "Page", got.RecordType)
	assert.Equal(t, int64(10), got.TargetRecordID)
	assert.Equal(t, 5, got.VersionsToKeep)
	assert.Equal(t, StatusQueued, got.Status)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))
	require.NotNil(t, got.ExecuteEvery)
	assert.Equal(t, PeriodMinute, *got.ExecuteEvery)
	assert.Equal(t, 2, got.ExecuteInterval)
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore(qntxtest.CreateTestDB(t))

	_, err := store.Get(context.Background(), 404)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_SaveClearsScheduling(t *testing.T) {
	store := NewStore(qntxtest.CreateTestDB(t))
	ctx := context.Background()

	job := newQueuedJob("Page", 10, time.Now())
	require.NoError(t, store.Create(ctx, job))

	job.Status = StatusBroken
	job.Message = "disk I/O error"
	job.Unschedule()
	require.NoError(t, store.Save(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBroken, got.Status)
	assert.Equal(t, "disk I/O error", got.Message)
	assert.Nil(t, got.NextRunAt)
	assert.Nil(t, got.ExecuteEvery)

	missing := &Job{ID: 999, RecordType: "Page", Status: StatusQueued}
	assert.True(t, errors.IsNotFoundError(store.Save(ctx, missing)))
}

func TestStore_MarkRunningIsCompareAndSet(t *testing.T) {
	store := NewStore(qntxtest.CreateTestDB(t))
	ctx := context.Background()

	job := newQueuedJob("Page", 10, time.Now())
	require.NoError(t, store.Create(ctx, job))

	ok, err := store.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.NextRunAt, "armed marker cleared")
	assert.NotNil(t, got.ExecuteEvery, "period kept")

	// Second trigger loses
	ok, err = store.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.MarkRunning(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ClaimedRecordIDs(t *testing.T) {
	store := NewStore(qntxtest.CreateTestDB(t))
	ctx := context.Background()

	for _, job := range []*Job{
		newQueuedJob("Page", 20, time.Now()),
		newQueuedJob("Page", 10, time.Now()),
		newQueuedJob("Page", 10, time.Now()),
		newQueuedJob("File", 30, time.Now()),
	} {
		require.NoError(t, store.Create(ctx, job))
	}
	stopped := newQueuedJob("Page", 25, time.Now())
	stopped.Status = StatusStopped
	require.NoError(t, store.Create(ctx, stopped))

	ids, err := store.ClaimedRecordIDs(ctx, "Page")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 25}, ids)

	ids, err = store.ClaimedRecordIDs(ctx, "BlogPost")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_ListDue(t *testing.T) {
	store := NewStore(qntxtest.CreateTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	later := newQueuedJob("Page", 1, now.Add(-1*time.Minute))
	earlier := newQueuedJob("Page", 2, now.Add(-5*time.Minute))
	future := newQueuedJob("Page", 3, now.Add(time.Minute))
	unscheduled := newQueuedJob("Page", 4, now.Add(-time.Hour))
	unscheduled.ExecuteEvery = nil
	broken := newQueuedJob("Page", 5, now.Add(-time.Hour))
	broken.Status = StatusBroken

	for _, job := range []*Job{later, earlier, future, unscheduled, broken} {
		require.NoError(t, store.Create(ctx, job))
	}

	due, err := store.ListDue(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earlier.ID, due[0].ID)
	assert.Equal(t, later.ID, due[1].ID)

	due, err = store.ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestStore_List(t *testing.T) {
	store := NewStore(qntxtest.CreateTestDB(t))
	ctx := context.Background()

	queued := newQueuedJob("Page", 1, time.Now())
	stopped := newQueuedJob("Page", 2, time.Now())
	stopped.Status = StatusStopped
	require.NoError(t, store.Create(ctx, queued))
	require.NoError(t, store.Create(ctx, stopped))

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyStopped, err := store.List(ctx, StatusStopped)
	require.NoError(t, err)
	require.Len(t, onlyStopped, 1)
	assert.Equal(t, stopped.ID, onlyStopped[0].ID)
}
