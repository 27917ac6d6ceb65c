package schedule

import (
	"strconv"
	"strings"
)

// Execution represents a single invocation of a cleaner job
//
// Each time the ticker runs a due cleaner, an Execution record is created to track:
// - Timing (started_at, completed_at, duration)
// - Status (running, completed, failed)
// - Output (retained versions, deleted rows, error)
//
// The history is informational. Failing to write it never changes the job.
type Execution struct {
	// Identity
	ID         string `json:"id"`         // uuid
	CleanerID  int64  `json:"cleaner_id"` // FK to version_cleaners
	RecordType string `json:"record_type"`
	RecordID   int64  `json:"record_id"` // record targeted by this invocation

	// Execution status
	Status string `json:"status"` // "running", "completed", "failed"

	// Timing
	StartedAt   string  `json:"started_at"`             // RFC3339 timestamp
	CompletedAt *string `json:"completed_at,omitempty"` // RFC3339 timestamp (null if running)
	DurationMs  *int    `json:"duration_ms,omitempty"`  // Milliseconds (null if running)

	// Output
	RetainedVersions *string `json:"retained_versions,omitempty"` // comma separated, newest first
	DeletedRows      int64   `json:"deleted_rows"`
	ErrorMessage     *string `json:"error_message,omitempty"`

	// Metadata
	CreatedAt string `json:"created_at"` // RFC3339 timestamp
	UpdatedAt string `json:"updated_at"` // RFC3339 timestamp
}

// Execution status constants for type safety
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// FormatVersions renders a retained version list as stored in retained_versions
func FormatVersions(versions []int) string {
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// ParseVersions is the inverse of FormatVersions; malformed entries are skipped
func ParseVersions(s string) []int {
	if s == "" {
		return nil
	}
	var versions []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	return versions
}
