package cleaner

import (
	"context"

	"github.com/teranos/vclean/errors"
)

// VersionDeleter removes version rows outside a retained set
type VersionDeleter interface {
	DeleteVersions(ctx context.Context, table string, recordID int64, keep []int) (int64, error)
}

// Executor prunes a record's version rows across its table hierarchy
type Executor struct {
	deleter VersionDeleter
}

// NewExecutor creates an executor deleting through deleter
func NewExecutor(deleter VersionDeleter) *Executor {
	return &Executor{deleter: deleter}
}

// Execute deletes every version row of recordID not in retained from each table
// and returns the total number of rows removed. Tables are pruned one at a time
// without a surrounding transaction; the first failure is returned unchanged and
// later tables are left as they were. Running it again is a no-op.
func (e *Executor) Execute(ctx context.Context, recordID int64, tables []string, retained []int) (int64, error) {
	if len(retained) == 0 {
		return 0, errors.Wrapf(ErrNoVersionsFound, "RecordID %d", recordID)
	}

	var total int64
	for _, table := range tables {
		deleted, err := e.deleter.DeleteVersions(ctx, table, recordID, retained)
		if err != nil {
			return total, err
		}
		total += deleted
	}
	return total, nil
}
