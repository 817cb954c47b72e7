package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/wic/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

const compilationColumns = `id, name, content_hash, status, documents, inlined, errors, packed, input_values, created_at`

func (s *SQLiteStore) CreateCompilation(ctx context.Context, c *model.Compilation) error {
	s.logger.Debug("sql", "op", "insert", "table", "compilations", "id", c.ID)

	errorsJSON, err := json.Marshal(c.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	if c.Errors == nil {
		errorsJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compilations (`+compilationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.ContentHash, string(c.Status), c.Documents, c.Inlined,
		string(errorsJSON), c.Packed, c.InputValues, c.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompilation(row scanner) (*model.Compilation, error) {
	var c model.Compilation
	var status, errorsJSON, createdAt string
	if err := row.Scan(&c.ID, &c.Name, &c.ContentHash, &status, &c.Documents, &c.Inlined,
		&errorsJSON, &c.Packed, &c.InputValues, &createdAt); err != nil {
		return nil, err
	}
	c.Status = model.CompilationStatus(status)
	if err := json.Unmarshal([]byte(errorsJSON), &c.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal errors: %w", err)
	}
	if len(c.Errors) == 0 {
		c.Errors = nil
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

// GetCompilation returns the compilation with id, or nil if there is none.
func (s *SQLiteStore) GetCompilation(ctx context.Context, id string) (*model.Compilation, error) {
	s.logger.Debug("sql", "op", "select", "table", "compilations", "id", id)

	c, err := scanCompilation(s.db.QueryRowContext(ctx,
		`SELECT `+compilationColumns+` FROM compilations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetCompilationByHash returns the latest successful compilation of the
// given request content, or nil.
func (s *SQLiteStore) GetCompilationByHash(ctx context.Context, hash string) (*model.Compilation, error) {
	s.logger.Debug("sql", "op", "select", "table", "compilations", "content_hash", hash)

	c, err := scanCompilation(s.db.QueryRowContext(ctx,
		`SELECT `+compilationColumns+` FROM compilations
		 WHERE content_hash = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`, hash, string(model.CompilationSucceeded)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListCompilations(ctx context.Context, opts model.ListOptions) ([]*model.Compilation, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "compilations", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var where []string
	var args []any
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, strings.ToUpper(opts.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM compilations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+compilationColumns+` FROM compilations`+clause+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.Compilation
	for rows.Next() {
		c, err := scanCompilation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}
