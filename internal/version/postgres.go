package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresConfig configures the Postgres-backed store.
type PostgresConfig struct {
	URL          string
	Table        string
	PingTimeout  time.Duration
	MaxOpenConns int
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c PostgresConfig) Validate() error {
	if c.URL == "" {
		return errors.New("postgres: database url is required")
	}
	if !tableNameRe.MatchString(c.Table) {
		return fmt.Errorf("postgres: invalid table name %q", c.Table)
	}
	if c.PingTimeout <= 0 {
		return errors.New("postgres: ping timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("postgres: max open conns must be >= 1")
	}
	return nil
}

// DB is the subset of *sql.DB the store uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps versions in a single table keyed by (document, sequence).
// The primary key makes a duplicate sequence impossible; Commit computes the
// next sequence inside the INSERT and retries on a unique violation.
type PostgresStore struct {
	db    DB
	table string
	close func() error
}

// OpenPostgres connects, pings and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, storageErr("open", "postgres", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, storageErr("ping", "postgres", err)
	}
	s := NewPostgresStore(db, cfg.Table)
	s.close = db.Close
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db DB, table string) *PostgresStore {
	return &PostgresStore{db: db, table: table}
}

func (s *PostgresStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL(s.table)); err != nil {
		return storageErr("ensure schema", s.table, err)
	}
	return nil
}

func schemaSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	document     TEXT        NOT NULL,
	sequence     INTEGER     NOT NULL CHECK (sequence > 0),
	content      TEXT        NOT NULL,
	content_hash TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document, sequence)
)`, table)
}

func insertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (document, sequence, content, content_hash, created_at)
SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4 FROM %s WHERE document = $1
RETURNING sequence`, table, table)
}

func selectColumns() string {
	return "document, sequence, content, content_hash, created_at"
}

func latestSQL(table string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE document = $1 ORDER BY sequence DESC LIMIT 1", selectColumns(), table)
}

func historySQL(table string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE document = $1 ORDER BY sequence ASC", selectColumns(), table)
}

func getSQL(table string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE document = $1 AND sequence = $2", selectColumns(), table)
}

const commitRetries = 3

func (s *PostgresStore) Commit(ctx context.Context, doc, content string) (Version, error) {
	v := newVersion(doc, 0, content)
	var lastErr error
	for i := 0; i < commitRetries; i++ {
		err := s.db.QueryRowContext(ctx, insertSQL(s.table), doc, content, v.ContentHash, v.CreatedAt).Scan(&v.Sequence)
		if err == nil {
			return v, nil
		}
		if !isUniqueViolation(err) {
			return Version{}, storageErr("commit", doc, err)
		}
		lastErr = err
	}
	return Version{}, storageErr("commit", doc, lastErr)
}

func (s *PostgresStore) Latest(ctx context.Context, doc string) (Version, bool, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, latestSQL(s.table), doc))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Version{}, false, nil
		}
		return Version{}, false, storageErr("latest", doc, err)
	}
	return v, true, nil
}

func (s *PostgresStore) History(ctx context.Context, doc string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, historySQL(s.table), doc)
	if err != nil {
		return nil, storageErr("history", doc, err)
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storageErr("history", doc, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("history", doc, err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, doc string, seq int) (Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, getSQL(s.table), doc, seq))
	if err != nil {
		return Version{}, handleNotFound("get", doc, err)
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (Version, error) {
	var v Version
	if err := row.Scan(&v.Document, &v.Sequence, &v.Content, &v.ContentHash, &v.CreatedAt); err != nil {
		return Version{}, err
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

func handleNotFound(op, doc string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return storageErr(op, doc, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
