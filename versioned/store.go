// Package versioned reads and prunes the version history of records in a
// content database that follows the versioned-table convention: a base table
// holding the Draft stage pointer, a _Live table holding the Live stage pointer
// and one _Versions table per storage-bearing type.
package versioned

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/schema"
)

// Stage names a publication stage whose pointer pins a version
type Stage string

const (
	StageDraft Stage = "Draft"
	StageLive  Stage = "Live"
)

// bindTypes maps supported driver names to their placeholder style
var bindTypes = map[string]int{
	"sqlite3":  sqlx.QUESTION, // mattn/go-sqlite3
	"sqlite":   sqlx.QUESTION, // modernc.org/sqlite
	"postgres": sqlx.DOLLAR,   // lib/pq
	"pgx":      sqlx.DOLLAR,   // jackc/pgx stdlib
}

func init() {
	// sqlx does not know the modernc driver name
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// IsSupportedDriver reports whether driver can be used for the content database
func IsSupportedDriver(driver string) bool {
	_, ok := bindTypes[driver]
	return ok
}

// SupportedDrivers returns the supported driver names, sorted
func SupportedDrivers() []string {
	out := make([]string, 0, len(bindTypes))
	for name := range bindTypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Store queries and prunes version tables of the content database
type Store struct {
	db       *sqlx.DB
	registry *schema.Registry
}

// Open connects to the content database and verifies the connection
func Open(ctx context.Context, driver, dsn string, registry *schema.Registry) (*Store, error) {
	if !IsSupportedDriver(driver) {
		return nil, errors.WithHintf(
			errors.Newf("unsupported content database driver %q", driver),
			"use one of %v", SupportedDrivers())
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s content database", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s content database", driver)
	}

	return New(db, registry), nil
}

// New wraps an existing connection
func New(db *sqlx.DB, registry *schema.Registry) *Store {
	return &Store{db: db, registry: registry}
}

// DB returns the underlying connection
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Registry returns the record type registry the store resolves tables with
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// ListVersions returns up to limit version numbers of a record, newest first,
// read from the base type's _Versions table.
func (s *Store) ListVersions(ctx context.Context, recordType string, recordID int64, limit int) ([]int, error) {
	base, err := s.registry.BaseTable(recordType)
	if err != nil {
		return nil, err
	}

	query := s.db.Rebind(fmt.Sprintf(
		`SELECT "Version" FROM %s WHERE "RecordID" = ? ORDER BY "Version" DESC LIMIT ?`,
		quote(base+schema.VersionsSuffix)))

	var versions []int
	if err := s.db.SelectContext(ctx, &versions, query, recordID, limit); err != nil {
		return nil, errors.Wrapf(err, "failed to list versions of %s #%d", recordType, recordID)
	}
	return versions, nil
}

// StageVersion returns the version a stage points at for a record.
// ok is false when the record is absent from that stage.
func (s *Store) StageVersion(ctx context.Context, recordType string, stage Stage, recordID int64) (version int, ok bool, err error) {
	base, err := s.registry.BaseTable(recordType)
	if err != nil {
		return 0, false, err
	}

	table := base
	switch stage {
	case StageDraft:
	case StageLive:
		table = base + schema.LiveSuffix
	default:
		return 0, false, errors.Newf("unknown stage %q", stage)
	}

	query := s.db.Rebind(fmt.Sprintf(`SELECT "Version" FROM %s WHERE "ID" = ?`, quote(table)))

	var v sql.NullInt64
	err = s.db.GetContext(ctx, &v, query, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to read %s version of %s #%d", stage, recordType, recordID)
	}
	if !v.Valid || v.Int64 <= 0 {
		return 0, false, nil
	}
	return int(v.Int64), true, nil
}

// NextRecordID returns the smallest ID of a record of recordType (or any subtype)
// greater than after and not in exclude, or 0 if there is none.
func (s *Store) NextRecordID(ctx context.Context, recordType string, after int64, exclude []int64) (int64, error) {
	base, err := s.registry.BaseTable(recordType)
	if err != nil {
		return 0, err
	}
	classes, err := s.registry.Descendants(recordType)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT "ID" FROM %s WHERE %s IN (?) AND "ID" > ?`,
		quote(base), quote(s.registry.ClassColumn()))
	args := []interface{}{classes, after}
	if len(exclude) > 0 {
		query += ` AND "ID" NOT IN (?)`
		args = append(args, exclude)
	}
	query += ` ORDER BY "ID" ASC LIMIT 1`

	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to expand record query")
	}

	var id int64
	err = s.db.GetContext(ctx, &id, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to find next %s record after #%d", recordType, after)
	}
	return id, nil
}

// DeleteVersions removes every version row of recordID from table whose
// version is not in keep, returning the number of rows removed.
// Re-running with the same arguments deletes nothing further.
func (s *Store) DeleteVersions(ctx context.Context, table string, recordID int64, keep []int) (int64, error) {
	if !schema.ValidIdentifier(table) {
		return 0, errors.Newf("invalid table name %q", table)
	}
	if len(keep) == 0 {
		return 0, errors.Newf("refusing to delete all versions of #%d from %s", recordID, table)
	}

	query, args, err := sqlx.In(
		fmt.Sprintf(`DELETE FROM %s WHERE "RecordID" = ? AND "Version" NOT IN (?)`, quote(table)),
		recordID, keep)
	if err != nil {
		return 0, errors.Wrap(err, "failed to expand delete query")
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete versions of #%d from %s", recordID, table)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return deleted, nil
}

// CountVersions returns how many version rows table holds for recordID
func (s *Store) CountVersions(ctx context.Context, table string, recordID int64) (int64, error) {
	if !schema.ValidIdentifier(table) {
		return 0, errors.Newf("invalid table name %q", table)
	}

	query := s.db.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE "RecordID" = ?`, quote(table)))

	var count int64
	if err := s.db.GetContext(ctx, &count, query, recordID); err != nil {
		return 0, errors.Wrapf(err, "failed to count versions of #%d in %s", recordID, table)
	}
	return count, nil
}

// quote double-quotes an identifier already checked by schema.ValidIdentifier
func quote(identifier string) string {
	return `"` + identifier + `"`
}
