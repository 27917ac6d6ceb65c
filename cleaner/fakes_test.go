package cleaner

import (
	"context"

	"github.com/teranos/vclean/versioned"
)

// fakeVersions is an in-memory VersionStore
type fakeVersions struct {
	versions map[int64][]int // newest first
	draft    map[int64]int
	live     map[int64]int
	err      error

	nextCalls []nextCall
	nextID    int64

	deleteErr map[string]error
	deleted   []string
}

type nextCall struct {
	recordType string
	after      int64
	exclude    []int64
}

func (f *fakeVersions) ListVersions(_ context.Context, _ string, recordID int64, limit int) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	all := f.versions[recordID]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeVersions) StageVersion(_ context.Context, _ string, stage versioned.Stage, recordID int64) (int, bool, error) {
	pointers := f.draft
	if stage == versioned.StageLive {
		pointers = f.live
	}
	v, ok := pointers[recordID]
	return v, ok, nil
}

func (f *fakeVersions) NextRecordID(_ context.Context, recordType string, after int64, exclude []int64) (int64, error) {
	f.nextCalls = append(f.nextCalls, nextCall{recordType, after, exclude})
	return f.nextID, f.err
}

func (f *fakeVersions) DeleteVersions(_ context.Context, table string, _ int64, _ []int) (int64, error) {
	if err := f.deleteErr[table]; err != nil {
		return 0, err
	}
	f.deleted = append(f.deleted, table)
	return 1, nil
}
