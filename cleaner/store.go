package cleaner

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/vclean/errors"
)

const jobColumns = `id, title, record_type, target_record_id, previous_record_id,
		       versions_to_keep, status, message, next_run_at,
		       execute_interval, execute_every, created_at, updated_at`

// Store handles persistence of cleaner jobs in version_cleaners
type Store struct {
	db *sql.DB
}

// NewStore creates a new cleaner job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts job and sets its ID and timestamps
func (s *Store) Create(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO version_cleaners (
			title, record_type, target_record_id, previous_record_id,
			versions_to_keep, status, message, next_run_at,
			execute_interval, execute_every, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Truncate(time.Second)
	result, err := s.db.ExecContext(ctx, query,
		job.Title,
		job.RecordType,
		job.TargetRecordID,
		job.PreviousRecordID,
		job.VersionsToKeep,
		string(job.Status),
		job.Message,
		formatTime(job.NextRunAt),
		job.ExecuteInterval,
		formatPeriod(job.ExecuteEvery),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create cleaner job")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get cleaner job id")
	}

	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// Get retrieves a cleaner job by ID
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM version_cleaners WHERE id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "cleaner job %d", id)
		}
		return nil, errors.Wrapf(err, "failed to get cleaner job %d", id)
	}
	return job, nil
}

// Save writes every mutable field of job
func (s *Store) Save(ctx context.Context, job *Job) error {
	query := `
		UPDATE version_cleaners
		SET title = ?, record_type = ?, target_record_id = ?, previous_record_id = ?,
		    versions_to_keep = ?, status = ?, message = ?, next_run_at = ?,
		    execute_interval = ?, execute_every = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC().Truncate(time.Second)
	result, err := s.db.ExecContext(ctx, query,
		job.Title,
		job.RecordType,
		job.TargetRecordID,
		job.PreviousRecordID,
		job.VersionsToKeep,
		string(job.Status),
		job.Message,
		formatTime(job.NextRunAt),
		job.ExecuteInterval,
		formatPeriod(job.ExecuteEvery),
		now.Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save cleaner job %d", job.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "cleaner job %d", job.ID)
	}

	job.UpdatedAt = now
	return nil
}

// MarkRunning moves a Queued job to Running and clears its armed marker in
// one statement. It returns false when the job was not Queued, which is how a
// duplicate trigger loses the race.
func (s *Store) MarkRunning(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE version_cleaners
		SET status = ?, next_run_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(StatusRunning),
		time.Now().UTC().Format(time.RFC3339),
		id,
		string(StatusQueued),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark cleaner job %d running", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

// ClaimedRecordIDs returns every target recorded by jobs of recordType,
// whatever their status
func (s *Store) ClaimedRecordIDs(ctx context.Context, recordType string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT target_record_id
		FROM version_cleaners
		WHERE record_type = ? AND target_record_id > 0
		ORDER BY target_record_id ASC
	`, recordType)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list claimed %s records", recordType)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan claimed record")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDue returns Queued, scheduled jobs whose next run is at or before now,
// oldest first. At most limit jobs are returned.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM version_cleaners
		WHERE status = ?
		  AND next_run_at IS NOT NULL AND next_run_at <= ?
		  AND execute_every IS NOT NULL AND execute_every != ''
		ORDER BY next_run_at ASC, id ASC
		LIMIT ?
	`, string(StatusQueued), now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due cleaner jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// List returns jobs ordered by ID, optionally filtered by status
func (s *Store) List(ctx context.Context, status Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM version_cleaners`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cleaner jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cleaner job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate cleaner jobs")
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, createdAt, updatedAt string
	var nextRunAt, executeEvery sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Title,
		&job.RecordType,
		&job.TargetRecordID,
		&job.PreviousRecordID,
		&job.VersionsToKeep,
		&status,
		&job.Message,
		&nextRunAt,
		&job.ExecuteInterval,
		&executeEvery,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)

	// A bad timestamp means data corruption or schema mismatch
	if job.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for cleaner job %d", job.ID)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for cleaner job %d", job.ID)
	}
	if nextRunAt.Valid && nextRunAt.String != "" {
		t, err := time.Parse(time.RFC3339, nextRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_run_at for cleaner job %d", job.ID)
		}
		job.NextRunAt = &t
	}
	if executeEvery.Valid && strings.TrimSpace(executeEvery.String) != "" {
		p, err := ParsePeriod(executeEvery.String)
		if err != nil {
			return nil, errors.Wrapf(err, "cleaner job %d", job.ID)
		}
		job.ExecuteEvery = &p
	}

	return &job, nil
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func formatPeriod(p *Period) interface{} {
	if p == nil {
		return nil
	}
	return string(*p)
}
