// Package cleaner prunes version history one record at a time.
//
// A Job row tracks one traversal lineage over a record type. Each scheduled
// invocation of Runner.Execute processes the job's current target record:
// it keeps the newest versions plus whatever the Draft and Live stages point
// at, deletes every other version row from each table in the type's
// hierarchy, then moves the job on to the next unclaimed record or stops it.
package cleaner

import (
	"fmt"
	"strings"
	"time"

	"github.com/teranos/vclean/errors"
)

// Status is the state of a cleaner job
type Status string

// Job states. Broken and Stopped are terminal until an operator re-arms the job.
const (
	StatusQueued  Status = "Queued"  // waiting for its next scheduled invocation
	StatusRunning Status = "Running" // an invocation is processing the target
	StatusBroken  Status = "Broken"  // processing failed; Message holds the error
	StatusStopped Status = "Stopped" // no records left to process
)

var statuses = []Status{StatusQueued, StatusRunning, StatusBroken, StatusStopped}

// ParseStatus matches s case-insensitively against the job states
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", errors.Newf("unknown status %q (expected one of %v)", s, statuses)
}

// StoppedMessage is recorded when a traversal reaches the end of the record type
const StoppedMessage = "No more records to process"

// Period is the unit of a job's execution interval
type Period string

const (
	PeriodMinute    Period = "Minute"
	PeriodHour      Period = "Hour"
	PeriodDay       Period = "Day"
	PeriodWeek      Period = "Week"
	PeriodFortnight Period = "Fortnight"
	PeriodMonth     Period = "Month"
	PeriodYear      Period = "Year"
)

var periods = []Period{PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodFortnight, PeriodMonth, PeriodYear}

// ParsePeriod matches s case-insensitively against the known periods
func ParsePeriod(s string) (Period, error) {
	for _, p := range periods {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", errors.Newf("unknown period %q (expected one of %v)", s, periods)
}

// advance returns t moved forward by n periods.
// Months and years follow the calendar.
func (p Period) advance(t time.Time, n int) time.Time {
	switch p {
	case PeriodMinute:
		return t.Add(time.Duration(n) * time.Minute)
	case PeriodHour:
		return t.Add(time.Duration(n) * time.Hour)
	case PeriodDay:
		return t.AddDate(0, 0, n)
	case PeriodWeek:
		return t.AddDate(0, 0, 7*n)
	case PeriodFortnight:
		return t.AddDate(0, 0, 14*n)
	case PeriodMonth:
		return t.AddDate(0, n, 0)
	case PeriodYear:
		return t.AddDate(n, 0, 0)
	}
	return t
}

// Schedulable is the scheduling capability a cleaner job exposes to the ticker
type Schedulable interface {
	NextExecution() *time.Time
	ExecutionInterval() time.Duration
	Arm(now time.Time)
	Disarm()
	Unschedule()
}

// Job is one row of version_cleaners
type Job struct {
	ID               int64
	Title            string
	RecordType       string
	TargetRecordID   int64
	PreviousRecordID int64
	VersionsToKeep   int
	Status           Status
	Message          string

	// Scheduling. NextRunAt is the armed marker; a nil ExecuteEvery means
	// the job is permanently unscheduled.
	NextRunAt       *time.Time
	ExecuteInterval int
	ExecuteEvery    *Period

	CreatedAt time.Time
	UpdatedAt time.Time
}

var _ Schedulable = (*Job)(nil)

// FormatTitle builds the display title for a target record
func FormatTitle(recordID int64, recordType string) string {
	return fmt.Sprintf("ID %d (%s) Version cleanup", recordID, recordType)
}

// RefreshTitle recomputes Title from the current target
func (j *Job) RefreshTitle() {
	j.Title = FormatTitle(j.TargetRecordID, j.RecordType)
}

// NextExecution returns when the job should next run, or nil if disarmed
func (j *Job) NextExecution() *time.Time {
	return j.NextRunAt
}

// ExecutionInterval returns the nominal gap between invocations.
// Months and years are measured from 2000-01-01. Zero when unscheduled.
func (j *Job) ExecutionInterval() time.Duration {
	if j.ExecuteEvery == nil || j.ExecuteInterval <= 0 {
		return 0
	}
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return j.ExecuteEvery.advance(epoch, j.ExecuteInterval).Sub(epoch)
}

// Arm sets the next execution to now plus the interval.
// An unscheduled job is armed for now.
func (j *Job) Arm(now time.Time) {
	next := now.UTC()
	if j.ExecuteEvery != nil && j.ExecuteInterval > 0 {
		next = j.ExecuteEvery.advance(next, j.ExecuteInterval)
	}
	j.NextRunAt = &next
}

// Disarm clears the armed marker so the ticker skips the job
func (j *Job) Disarm() {
	j.NextRunAt = nil
}

// Unschedule clears both the armed marker and the period
func (j *Job) Unschedule() {
	j.NextRunAt = nil
	j.ExecuteEvery = nil
}

// IsTerminal reports whether the job needs an operator to run again
func (j *Job) IsTerminal() bool {
	return j.Status == StatusBroken || j.Status == StatusStopped
}

// Defaults fill unset job fields before a job is written
type Defaults struct {
	RecordType      string
	VersionsToKeep  int
	ExecuteInterval int
	ExecuteEvery    Period
}

// Apply fills zero-valued fields of j and derives the title if it is empty
func (d Defaults) Apply(j *Job) {
	if j.RecordType == "" {
		j.RecordType = d.RecordType
	}
	if j.VersionsToKeep == 0 {
		j.VersionsToKeep = d.VersionsToKeep
	}
	if j.ExecuteInterval == 0 {
		j.ExecuteInterval = d.ExecuteInterval
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.Title == "" {
		j.RefreshTitle()
	}
}

// period returns the configured period, falling back to minutes
func (d Defaults) period() Period {
	if d.ExecuteEvery == "" {
		return PeriodMinute
	}
	return d.ExecuteEvery
}
