package cleaner

import "github.com/teranos/vclean/errors"

var (
	// ErrNoVersionsFound means a record has no version rows to retain
	ErrNoVersionsFound = errors.New("no versions found")

	// ErrInvalidKeepCount means a job was asked to keep zero or fewer versions
	ErrInvalidKeepCount = errors.New("versions to keep must be greater than zero")

	// ErrNotQueued means another invocation already claimed the job, or it is terminal
	ErrNotQueued = errors.New("cleaner job is not queued")
)
