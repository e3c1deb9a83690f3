// Package catalog records runs and per-debate outcomes in a SQLite database so
// the state of the corpus can be listed without reading every output file.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/tribuna/internal/model"
)

// Status of one debate stage.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Catalog is safe for concurrent use; writes are serialised on one connection.
type Catalog struct {
	db *sql.DB
}

// Run is one CLI invocation.
type Run struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
}

// Entry is the outcome of one stage for one debate.
type Entry struct {
	RunID       string
	Debate      string
	Stage       string
	Err         error
	Output      string
	Sentences   int
	Duration    time.Duration
	Stats       map[model.Kind]model.LayerStats
	Diagnostics []model.Diagnostic
}

// DebateStatus is the latest recorded state of one debate stage.
type DebateStatus struct {
	Debate      string
	Stage       string
	RunID       string
	Status      string
	Error       string
	Output      string
	Sentences   int
	Diagnostics int
	Duration    time.Duration
	UpdatedAt   time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS debates (
		debate TEXT NOT NULL,
		stage TEXT NOT NULL,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		sentences INTEGER NOT NULL DEFAULT 0,
		diagnostics INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (debate, stage)
	)`,
	`CREATE TABLE IF NOT EXISTS layer_stats (
		debate TEXT NOT NULL,
		kind TEXT NOT NULL,
		input INTEGER NOT NULL,
		placed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		unanchored INTEGER NOT NULL,
		truncated INTEGER NOT NULL,
		clamped INTEGER NOT NULL,
		PRIMARY KEY (debate, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS diagnostics (
		debate TEXT NOT NULL,
		stage TEXT NOT NULL,
		seq INTEGER NOT NULL,
		code TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		node TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		PRIMARY KEY (debate, stage, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_diagnostics_code ON diagnostics(code)`,
}

// Open creates or migrates the catalog at path.
func Open(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// BeginRun inserts a run row.
func (c *Catalog) BeginRun(ctx context.Context, r Run) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)`,
		r.ID, r.Command, r.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stores the run's end time and totals.
func (c *Catalog) FinishRun(ctx context.Context, r Run) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, succeeded = ?, failed = ? WHERE id = ?`,
		r.FinishedAt.UTC().Format(timeLayout), r.Succeeded, r.Failed, r.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	return nil
}

// Record replaces the stage's previous entry for the debate. Layer stats are
// only replaced when e carries them.
func (c *Catalog) Record(ctx context.Context, e Entry) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	status, msg := StatusOK, ""
	if e.Err != nil {
		status, msg = StatusFailed, e.Err.Error()
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO debates
		(debate, stage, run_id, status, error, output, sentences, diagnostics, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (debate, stage) DO UPDATE SET
			run_id = excluded.run_id, status = excluded.status, error = excluded.error,
			output = excluded.output, sentences = excluded.sentences,
			diagnostics = excluded.diagnostics, duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`,
		e.Debate, e.Stage, e.RunID, status, msg, e.Output, e.Sentences, len(e.Diagnostics),
		e.Duration.Milliseconds(), time.Now().UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("upsert debate %s: %w", e.Debate, err)
	}

	if len(e.Stats) > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM layer_stats WHERE debate = ?`, e.Debate); err != nil {
			return fmt.Errorf("clear layer stats: %w", err)
		}
		for kind, s := range e.Stats {
			if _, err = tx.ExecContext(ctx, `INSERT INTO layer_stats
				(debate, kind, input, placed, skipped, unanchored, truncated, clamped)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.Debate, string(kind), s.Input, s.Placed, s.Skipped, s.Unanchored, s.Truncated, s.Clamped,
			); err != nil {
				return fmt.Errorf("insert layer stats: %w", err)
			}
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM diagnostics WHERE debate = ? AND stage = ?`, e.Debate, e.Stage); err != nil {
		return fmt.Errorf("clear diagnostics: %w", err)
	}
	if len(e.Diagnostics) > 0 {
		stmt, perr := tx.PrepareContext(ctx, `INSERT INTO diagnostics
			(debate, stage, seq, code, kind, source, node, message) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for i, d := range e.Diagnostics {
			if _, err = stmt.ExecContext(ctx, e.Debate, e.Stage, i, string(d.Code), string(d.Kind), d.Source, d.Node, d.Message); err != nil {
				return fmt.Errorf("insert diagnostic: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Debates lists the latest state of every debate stage, ordered by debate then stage.
func (c *Catalog) Debates(ctx context.Context) ([]DebateStatus, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT debate, stage, run_id, status, error, output,
		sentences, diagnostics, duration_ms, updated_at FROM debates ORDER BY debate, stage`)
	if err != nil {
		return nil, fmt.Errorf("query debates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DebateStatus
	for rows.Next() {
		var (
			s         DebateStatus
			ms        int64
			updatedAt string
		)
		if err := rows.Scan(&s.Debate, &s.Stage, &s.RunID, &s.Status, &s.Error, &s.Output,
			&s.Sentences, &s.Diagnostics, &ms, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan debate: %w", err)
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		s.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LayerStats returns the stats recorded by the debate's last compile.
func (c *Catalog) LayerStats(ctx context.Context, debate string) (map[model.Kind]model.LayerStats, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT kind, input, placed, skipped, unanchored, truncated, clamped
		FROM layer_stats WHERE debate = ?`, debate)
	if err != nil {
		return nil, fmt.Errorf("query layer stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.Kind]model.LayerStats)
	for rows.Next() {
		var (
			kind string
			s    model.LayerStats
		)
		if err := rows.Scan(&kind, &s.Input, &s.Placed, &s.Skipped, &s.Unanchored, &s.Truncated, &s.Clamped); err != nil {
			return nil, fmt.Errorf("scan layer stats: %w", err)
		}
		out[model.Kind(kind)] = s
	}
	return out, rows.Err()
}

// DiagnosticCounts tallies recorded diagnostics by code across the corpus.
func (c *Catalog) DiagnosticCounts(ctx context.Context) (map[model.DiagnosticCode]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT code, COUNT(*) FROM diagnostics GROUP BY code`)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.DiagnosticCode]int)
	for rows.Next() {
		var (
			code string
			n    int
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("scan diagnostics: %w", err)
		}
		out[model.DiagnosticCode(code)] = n
	}
	return out, rows.Err()
}

// LastRun returns the most recently started run.
func (c *Catalog) LastRun(ctx context.Context) (*Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	err := c.db.QueryRowContext(ctx, `SELECT id, command, started_at, finished_at, succeeded, failed
		FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&r.ID, &r.Command, &started, &finished, &r.Succeeded, &r.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(timeLayout, finished.String)
	}
	return &r, nil
}
