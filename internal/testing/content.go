package testing

import (
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/vclean/schema"
)

// ContentTypes is the record type set of the fixture content database.
// ContentPage owns no table, so BlogPost history skips that level.
func ContentTypes() []schema.TypeDef {
	return []schema.TypeDef{
		{Name: "SiteTree", Table: "SiteTree"},
		{Name: "Page", Parent: "SiteTree", Table: "Page"},
		{Name: "RedirectorPage", Parent: "Page", Table: "RedirectorPage"},
		{Name: "ContentPage", Parent: "Page"},
		{Name: "BlogPost", Parent: "ContentPage", Table: "BlogPost"},
		{Name: "File", Table: "File"},
	}
}

// ContentRegistry builds the registry for ContentTypes.
func ContentRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r, err := schema.NewRegistry(ContentTypes(), "ClassName")
	if err != nil {
		t.Fatalf("Failed to build content registry: %v", err)
	}
	return r
}

// CreateContentDB creates an in-memory content database laid out for ContentTypes:
// base tables with ID, ClassName and the Draft Version, <base>_Live tables with the
// Live Version, and a <T>_Versions table for every type owning storage.
func CreateContentDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create content database: %v", err)
	}
	db.SetMaxOpenConns(1)

	var stmts []string
	for _, base := range []string{"SiteTree", "File"} {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE "%s" ("ID" INTEGER PRIMARY KEY, "ClassName" TEXT NOT NULL, "Version" INTEGER NOT NULL DEFAULT 0)`, base),
			fmt.Sprintf(`CREATE TABLE "%s_Live" ("ID" INTEGER PRIMARY KEY, "ClassName" TEXT NOT NULL, "Version" INTEGER NOT NULL DEFAULT 0)`, base),
		)
	}
	for _, table := range []string{"SiteTree", "Page", "RedirectorPage", "BlogPost", "File"} {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE "%s_Versions" ("ID" INTEGER PRIMARY KEY AUTOINCREMENT, "RecordID" INTEGER NOT NULL, "Version" INTEGER NOT NULL, "Title" TEXT)`,
			table))
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create content schema: %v", err)
		}
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// InsertRecord adds a record to base and sets its stage pointers.
// A live of 0 leaves the record unpublished.
func InsertRecord(t *testing.T, db *sqlx.DB, base string, id int64, className string, draft, live int) {
	t.Helper()

	db.MustExec(fmt.Sprintf(`INSERT INTO "%s" ("ID", "ClassName", "Version") VALUES (?, ?, ?)`, base), id, className, draft)
	if live > 0 {
		db.MustExec(fmt.Sprintf(`INSERT INTO "%s_Live" ("ID", "ClassName", "Version") VALUES (?, ?, ?)`, base), id, className, live)
	}
}

// InsertVersions writes version rows 1..count for recordID into every table.
func InsertVersions(t *testing.T, db *sqlx.DB, recordID int64, count int, tables ...string) {
	t.Helper()

	for _, table := range tables {
		for v := 1; v <= count; v++ {
			db.MustExec(fmt.Sprintf(`INSERT INTO "%s" ("RecordID", "Version", "Title") VALUES (?, ?, ?)`, table),
				recordID, v, fmt.Sprintf("v%d", v))
		}
	}
}

// VersionsOf returns the version numbers left in table for recordID, descending.
func VersionsOf(t *testing.T, db *sqlx.DB, table string, recordID int64) []int {
	t.Helper()

	var versions []int
	err := db.Select(&versions, fmt.Sprintf(`SELECT "Version" FROM "%s" WHERE "RecordID" = ? ORDER BY "Version" DESC`, table), recordID)
	if err != nil {
		t.Fatalf("Failed to read versions from %s: %v", table, err)
	}
	return versions
}
