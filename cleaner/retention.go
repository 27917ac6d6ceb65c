package cleaner

import (
	"context"

	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/versioned"
)

// VersionSource reads version history and stage pointers
type VersionSource interface {
	ListVersions(ctx context.Context, recordType string, recordID int64, limit int) ([]int, error)
	StageVersion(ctx context.Context, recordType string, stage versioned.Stage, recordID int64) (int, bool, error)
}

// RetentionPolicy decides which versions of a record survive a cleanup
type RetentionPolicy struct {
	source VersionSource
}

// NewRetentionPolicy creates a policy reading from source
func NewRetentionPolicy(source VersionSource) *RetentionPolicy {
	return &RetentionPolicy{source: source}
}

// RetainedVersions returns the keepCount newest versions of the record followed
// by the Live and Draft versions, without duplicates. Stage versions are kept
// even when they fall outside the newest window, e.g. after a rollback.
func (p *RetentionPolicy) RetainedVersions(ctx context.Context, recordType string, recordID int64, keepCount int) ([]int, error) {
	if keepCount <= 0 {
		return nil, errors.Wrapf(ErrInvalidKeepCount, "got %d", keepCount)
	}

	newest, err := p.source.ListVersions(ctx, recordType, recordID, keepCount)
	if err != nil {
		return nil, err
	}
	if len(newest) == 0 {
		return nil, errors.Wrapf(ErrNoVersionsFound, "RecordID %d (%s)", recordID, recordType)
	}

	retained := make([]int, 0, len(newest)+2)
	seen := make(map[int]bool, len(newest)+2)
	add := func(v int) {
		if !seen[v] {
			seen[v] = true
			retained = append(retained, v)
		}
	}

	for _, v := range newest {
		add(v)
	}
	for _, stage := range []versioned.Stage{versioned.StageLive, versioned.StageDraft} {
		v, ok, err := p.source.StageVersion(ctx, recordType, stage, recordID)
		if err != nil {
			return nil, err
		}
		if ok {
			add(v)
		}
	}

	return retained, nil
}
