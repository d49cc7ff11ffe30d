package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Cache and run bookkeeping on modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Cache = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	outputs    TEXT,
	error      TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Cache.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM cache WHERE namespace = ? AND key = ? AND expires_at > ?`,
		namespace, key, s.now().UnixNano(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get %s/%s", namespace, key)
	}
	return data, true, nil
}

// Set implements Cache. Existing entries are replaced.
func (s *SQLiteStore) Set(ctx context.Context, namespace, key string, data []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache (namespace, key, data, stored_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET data = excluded.data,
		 stored_at = excluded.stored_at, expires_at = excluded.expires_at`,
		namespace, key, data, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: set %s/%s", namespace, key)
}

// DeleteExpired removes expired cache entries and returns how many were dropped.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// CacheStats counts live and expired entries per namespace.
func (s *SQLiteStore) CacheStats(ctx context.Context) (map[string][2]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace,
		        SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END),
		        SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END)
		 FROM cache GROUP BY namespace`,
		s.now().UnixNano(), s.now().UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	defer rows.Close() //nolint:errcheck

	stats := make(map[string][2]int)
	for rows.Next() {
		var ns string
		var live, expired int
		if err := rows.Scan(&ns, &live, &expired); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache stats")
		}
		stats[ns] = [2]int{live, expired}
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: iterate cache stats")
}

// CreateRun records a new running report.
func (s *SQLiteStore) CreateRun(ctx context.Context, id, kind string) (*Run, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, string(RunStatusRunning), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run %s", id)
	}
	return &Run{ID: id, Kind: kind, Status: RunStatusRunning, CreatedAt: now, UpdatedAt: now}, nil
}

// FinishRun marks a run complete (runErr nil) or failed and stores its outputs.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, outputs []string, runErr error) error {
	status, msg := RunStatusComplete, ""
	if runErr != nil {
		status, msg = RunStatusFailed, runErr.Error()
	}
	outJSON, err := json.Marshal(outputs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal outputs")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, outputs = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), string(outJSON), msg, s.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

// GetRun loads one run.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, outputs, error, created_at, updated_at FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, status, outputs, error, created_at, updated_at FROM runs
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var outputs, errMsg sql.NullString
	var created, updated int64

	err := row.Scan(&r.ID, &r.Kind, &r.Status, &outputs, &errMsg, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &r.Outputs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal outputs")
		}
	}
	r.Error = errMsg.String
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return &r, nil
}
