package schedule

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/internal/util"
	vcleantest "github.com/teranos/vclean/internal/testing"
)

// createTestDB creates an in-memory job database.
func createTestDB(t *testing.T) *sql.DB {
	return vcleantest.CreateTestDB(t)
}

// createCleaner stores a Queued cleaner job for recordType armed at nextRunAt.
func createCleaner(t *testing.T, store *cleaner.Store, recordType string, target int64, nextRunAt time.Time) *cleaner.Job {
	t.Helper()
	job := &cleaner.Job{
		RecordType:      recordType,
		TargetRecordID:  target,
		VersionsToKeep:  2,
		Status:          cleaner.StatusQueued,
		ExecuteInterval: 1,
		ExecuteEvery:    util.Ptr(cleaner.PeriodMinute),
		NextRunAt:       &nextRunAt,
	}
	job.RefreshTitle()
	require.NoError(t, store.Create(context.Background(), job))
	return job
}
