// Package journal keeps a local history of update batches in SQLite.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"toaupdate/internal/update"
)

// FileName is the default journal file inside the data directory.
const FileName = "history.db"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Batch is one recorded update batch.
type Batch struct {
	ID          string
	FromVersion string
	ToVersion   string
	State       string
	Success     bool
	Committed   bool
	RolledBack  bool
	CodeUpdated bool
	Requested   int
	Failed      int
	Bytes       int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
}

// Duration returns how long the batch ran.
func (b Batch) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}

// File is the outcome of one file within a recorded batch.
type File struct {
	Path     string
	Category string
	OK       bool
	Bytes    int64
	Attempts int
	Error    string
}

// Journal records batches into a SQLite database. It implements
// update.Recorder.
type Journal struct {
	db *sql.DB
}

var _ update.Recorder = (*Journal)(nil)

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "foreign_keys(1)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", f, time.Now().UnixNano()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// RecordBatch stores res and its file outcomes in one transaction. Recording
// the same batch ID again replaces the earlier row.
func (j *Journal) RecordBatch(ctx context.Context, res *update.BatchResult) error {
	if res == nil || res.ID == "" {
		return errors.New("record batch: missing batch id")
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM batch_files WHERE batch_id = ?", res.ID); err != nil {
		return fmt.Errorf("clear batch files: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO batches (
			id, from_version, to_version, state, success, committed, rolled_back,
			code_updated, requested, failed, bytes, started_at, finished_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.FromVersion, res.ToVersion, res.State.String(),
		res.Success, res.Committed, res.RolledBack, res.CodeUpdated,
		res.Requested(), len(res.Failed()), res.Bytes(),
		res.StartedAt.UnixNano(), res.FinishedAt.UnixNano(), errString(res.Err),
	)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", res.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batch_files (batch_id, seq, path, category, ok, bytes, attempts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare batch files: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for i, f := range res.Files {
		if _, err := stmt.ExecContext(ctx, res.ID, i, f.Path, f.Category, f.OK, f.Bytes, f.Attempts, errString(f.Err)); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit batches, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, from_version, to_version, state, success, committed, rolled_back,
			code_updated, requested, failed, bytes, started_at, finished_at, error
		FROM batches
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Batch
	for rows.Next() {
		var b Batch
		var started, finished int64
		if err := rows.Scan(&b.ID, &b.FromVersion, &b.ToVersion, &b.State,
			&b.Success, &b.Committed, &b.RolledBack, &b.CodeUpdated,
			&b.Requested, &b.Failed, &b.Bytes, &started, &finished, &b.Error); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.StartedAt = time.Unix(0, started)
		b.FinishedAt = time.Unix(0, finished)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Files returns the file outcomes of batch id in transfer order.
func (j *Journal) Files(ctx context.Context, id string) ([]File, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT path, category, ok, bytes, attempts, error
		FROM batch_files
		WHERE batch_id = ?
		ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query batch files: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Category, &f.OK, &f.Bytes, &f.Attempts, &f.Error); err != nil {
			return nil, fmt.Errorf("scan batch file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep batches and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := j.db.ExecContext(ctx, `
		DELETE FROM batches
		WHERE id NOT IN (
			SELECT id FROM batches ORDER BY started_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	return res.RowsAffected()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
