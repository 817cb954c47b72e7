package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS compilations (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		documents    INTEGER NOT NULL DEFAULT 0,
		errors       TEXT NOT NULL DEFAULT '[]',
		packed       TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_compilations_status ON compilations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_compilations_created_at ON compilations(created_at)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "compilations",
		column:   "inlined",
		alterSQL: "ALTER TABLE compilations ADD COLUMN inlined INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "compilations",
		column:   "input_values",
		alterSQL: "ALTER TABLE compilations ADD COLUMN input_values TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "compilations",
		column:   "content_hash",
		alterSQL: "ALTER TABLE compilations ADD COLUMN content_hash TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_compilations_content_hash ON compilations(content_hash) WHERE content_hash != ''",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
