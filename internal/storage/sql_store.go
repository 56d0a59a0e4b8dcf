package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

const (
	sqlRedirectTableName  = "externalredirect_redirects"
	sqlOperationTimeout   = 5 * time.Second
	postgresDriverName    = "postgres"
	sqliteDriverName      = "sqlite3"
	sqlRedirectColumnList = "id, source_path, target_path, status_code, host, created_at"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlDialect captures the few statements that differ between Postgres and SQLite.
type sqlDialect struct {
	driver        string
	timestampType string
	trimTarget    string
	numbered      bool
}

var (
	postgresDialect = sqlDialect{
		driver:        postgresDriverName,
		timestampType: "TIMESTAMPTZ",
		trimTarget:    "TRIM(BOTH '/' FROM target_path)",
		numbered:      true,
	}
	sqliteDialect = sqlDialect{
		driver:        sqliteDriverName,
		timestampType: "DATETIME",
		trimTarget:    "TRIM(target_path, '/')",
	}
)

// rebind rewrites ? placeholders into $n for dialects that number them.
func (d sqlDialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is a RedirectStore on a relational database. The table is created
// lazily on first use.
type SQLStore struct {
	dsn       string
	tableName string
	dialect   sqlDialect
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, redirect.ErrInvalidInput
	}
	return &SQLStore{
		dsn:       dsn,
		tableName: sqlRedirectTableName,
		dialect:   postgresDialect,
		openDB:    sql.Open,
	}, nil
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, redirect.ErrInvalidInput
	}
	return &SQLStore{
		dsn:       path,
		tableName: sqlRedirectTableName,
		dialect:   sqliteDialect,
		openDB:    sql.Open,
	}, nil
}

func (s *SQLStore) Lookup(ctx context.Context, sourcePath, host string) (*redirect.Redirect, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := s.dialect.rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE source_path = ? AND host = ?",
		sqlRedirectColumnList, quoteIdentifier(s.tableName)))
	r, err := scanRedirect(s.db.QueryRowContext(ctx, query, sourcePath, strings.ToLower(host)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) Add(ctx context.Context, sourcePath, targetPath string, statusCode int, hosts []string) ([]redirect.Redirect, error) {
	redirects, err := newRedirects(sourcePath, targetPath, statusCode, hosts)
	if err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	upsert := s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, source_path, target_path, status_code, host, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_path, host)
		DO UPDATE SET target_path = excluded.target_path, status_code = excluded.status_code`,
		quoteIdentifier(s.tableName)))
	selectOne := s.dialect.rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE source_path = ? AND host = ?",
		sqlRedirectColumnList, quoteIdentifier(s.tableName)))

	stored := make([]redirect.Redirect, 0, len(redirects))
	for _, r := range redirects {
		if _, err := tx.ExecContext(ctx, upsert, r.ID, r.SourcePath, r.TargetPath, r.StatusCode, r.Host, r.CreatedAt); err != nil {
			return nil, err
		}
		saved, err := scanRedirect(tx.QueryRowContext(ctx, selectOne, r.SourcePath, r.Host))
		if err != nil {
			return nil, err
		}
		stored = append(stored, saved)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLStore) Remove(ctx context.Context, sourcePath, host string) (bool, error) {
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := s.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE source_path = ? AND host = ?", quoteIdentifier(s.tableName)))
	res, err := s.db.ExecContext(ctx, query, sourcePath, strings.ToLower(host))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLStore) FindByTarget(ctx context.Context, targetPath string) ([]redirect.Redirect, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := s.dialect.rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ? ORDER BY source_path, host",
		sqlRedirectColumnList, quoteIdentifier(s.tableName), s.dialect.trimTarget))
	return s.queryRedirects(ctx, query, trimTarget(targetPath))
}

func (s *SQLStore) All(ctx context.Context) ([]redirect.Redirect, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY source_path, host",
		sqlRedirectColumnList, quoteIdentifier(s.tableName))
	return s.queryRedirects(ctx, query)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) queryRedirects(ctx context.Context, query string, args ...any) ([]redirect.Redirect, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []redirect.Redirect
	for rows.Next() {
		r, err := scanRedirect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return redirect.ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.dialect.driver == sqliteDriverName {
			// every connection would get its own :memory: database
			db.SetMaxOpenConns(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		table := quoteIdentifier(s.tableName)
		statements := []string{
			fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				source_path TEXT NOT NULL,
				target_path TEXT NOT NULL,
				status_code INTEGER NOT NULL,
				host TEXT NOT NULL DEFAULT '',
				created_at %s NOT NULL
			)`, table, s.dialect.timestampType),
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (source_path, host)",
				quoteIdentifier(s.tableName+"_identity"), table),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRedirect(row rowScanner) (redirect.Redirect, error) {
	var r redirect.Redirect
	if err := row.Scan(&r.ID, &r.SourcePath, &r.TargetPath, &r.StatusCode, &r.Host, &r.CreatedAt); err != nil {
		return redirect.Redirect{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
