package cleaner

import (
	"context"
	"slices"
)

// RecordSource finds candidate records of a type
type RecordSource interface {
	NextRecordID(ctx context.Context, recordType string, after int64, exclude []int64) (int64, error)
}

// RecordWalker picks the next record a lineage should process
type RecordWalker struct {
	source RecordSource
}

// NewRecordWalker creates a walker reading from source
func NewRecordWalker(source RecordSource) *RecordWalker {
	return &RecordWalker{source: source}
}

// NextRecordID returns the first record of recordType above every claimed ID,
// skipping claimed IDs themselves. With nothing claimed it searches above
// current. Returns 0 when the type is exhausted.
//
// Claims are read before the next target is written, so two lineages of one
// type can pick the same record. That record is then cleaned twice, which is
// harmless because cleanup is idempotent.
func (w *RecordWalker) NextRecordID(ctx context.Context, recordType string, current int64, excludeIDs []int64) (int64, error) {
	claimed := make([]int64, 0, len(excludeIDs))
	for _, id := range excludeIDs {
		if id > 0 {
			claimed = append(claimed, id)
		}
	}

	after := current
	if len(claimed) > 0 {
		after = slices.Max(claimed)
	}

	return w.source.NextRecordID(ctx, recordType, after, claimed)
}
