// Package cache is the local snapshot store: unsaved graph drafts (crash
// recovery) and the last-seen run state (instant paint on reopen). Backed
// by libSQL; the backend remains the source of truth, so every operation
// here is best-effort from the caller's perspective.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/lumenlab/flowdeck/pkg/schema"
)

// Draft is an unsaved graph snapshot for one workflow.
type Draft struct {
	WorkflowID string
	Graph      schema.WorkflowGraph
	SavedAt    time.Time
}

// Cache stores drafts and run snapshots in a local libSQL database.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at the given path.
// The path should be a file URI, e.g. "file:/path/to/flowdeck.db".
func Open(dbPath string) (*Cache, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &Cache{db: db}, nil
}

// Migrate runs all pending database migrations.
func (c *Cache) Migrate(ctx context.Context) error {
	return runMigrations(ctx, c.db)
}

// Close closes the database.
func (c *Cache) Close() error { return c.db.Close() }

// --- Drafts ---

// PutDraft upserts the unsaved graph for a workflow.
func (c *Cache) PutDraft(ctx context.Context, workflowID string, graph schema.WorkflowGraph) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return cacheErr("marshal draft", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO drafts (workflow_id, data, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(workflow_id) DO UPDATE SET data=excluded.data, saved_at=excluded.saved_at`,
		workflowID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return cacheErr("put draft", err)
	}
	return nil
}

// GetDraft returns the stored draft, or NOT_FOUND when none exists.
func (c *Cache) GetDraft(ctx context.Context, workflowID string) (*Draft, error) {
	var (
		data    string
		savedAt time.Time
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT data, saved_at FROM drafts WHERE workflow_id = ?`, workflowID,
	).Scan(&data, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewError(schema.ErrCodeNotFound,
			fmt.Sprintf("no draft for workflow %s", workflowID))
	}
	if err != nil {
		return nil, cacheErr("get draft", err)
	}

	d := &Draft{WorkflowID: workflowID, SavedAt: savedAt}
	if err := json.Unmarshal([]byte(data), &d.Graph); err != nil {
		return nil, cacheErr("decode draft", err)
	}
	return d, nil
}

// DeleteDraft removes the draft after a successful save. Deleting a
// missing draft is not an error.
func (c *Cache) DeleteDraft(ctx context.Context, workflowID string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM drafts WHERE workflow_id = ?`, workflowID); err != nil {
		return cacheErr("delete draft", err)
	}
	return nil
}

// --- Runs ---

// PutRun upserts a run snapshot.
func (c *Cache) PutRun(ctx context.Context, run *schema.RunRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, status, error, started_at, finished_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, error=excluded.error,
		   finished_at=excluded.finished_at, updated_at=excluded.updated_at`,
		run.ID, run.WorkflowID, string(run.Status), nullStr(run.Error),
		run.StartedAt.UTC(), nullTime(run.FinishedAt), run.UpdatedAt.UTC(),
	)
	if err != nil {
		return cacheErr("put run", err)
	}
	return nil
}

// GetRun returns a cached run snapshot, or NOT_FOUND.
func (c *Cache) GetRun(ctx context.Context, runID string) (*schema.RunRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, status, error, started_at, finished_at, updated_at
		 FROM runs WHERE id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewError(schema.ErrCodeNotFound,
			fmt.Sprintf("run %s not cached", runID))
	}
	if err != nil {
		return nil, cacheErr("get run", err)
	}
	return run, nil
}

// ListRuns returns cached runs for a workflow, most recently updated first.
func (c *Cache) ListRuns(ctx context.Context, workflowID string, limit int) ([]schema.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, workflow_id, status, error, started_at, finished_at, updated_at
		 FROM runs WHERE workflow_id = ? ORDER BY updated_at DESC LIMIT ?`,
		workflowID, limit)
	if err != nil {
		return nil, cacheErr("list runs", err)
	}
	defer rows.Close()

	var out []schema.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, cacheErr("scan run", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// --- Node runs ---

// PutNodeRuns replaces the cached node runs for one run.
func (c *Cache) PutNodeRuns(ctx context.Context, runID string, nodeRuns []schema.NodeRunRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return cacheErr("begin node runs", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_runs WHERE run_id = ?`, runID); err != nil {
		return cacheErr("clear node runs", err)
	}

	for i := range nodeRuns {
		nr := &nodeRuns[i]
		inputs, err := nullableJSON(nr.Inputs)
		if err != nil {
			return cacheErr("marshal node run inputs", err)
		}
		outputs, err := nullableJSON(nr.Outputs)
		if err != nil {
			return cacheErr("marshal node run outputs", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_runs (id, run_id, node_id, name, node_type, status,
			   inputs, outputs, error, started_at, finished_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nr.ID, runID, nr.NodeID, nr.Name, nr.NodeType, string(nr.Status),
			inputs, outputs, nullStr(nr.Error),
			nr.StartedAt.UTC(), nullTime(nr.FinishedAt), nr.UpdatedAt.UTC(),
		); err != nil {
			return cacheErr("insert node run", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cacheErr("commit node runs", err)
	}
	return nil
}

// ListNodeRuns returns the cached node runs for a run.
func (c *Cache) ListNodeRuns(ctx context.Context, runID string) ([]schema.NodeRunRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, name, node_type, status,
		   inputs, outputs, error, started_at, finished_at, updated_at
		 FROM node_runs WHERE run_id = ? ORDER BY started_at, id`, runID)
	if err != nil {
		return nil, cacheErr("list node runs", err)
	}
	defer rows.Close()

	var out []schema.NodeRunRecord
	for rows.Next() {
		var (
			nr              schema.NodeRunRecord
			name, nodeType  sql.NullString
			inputs, outputs sql.NullString
			errStr          sql.NullString
			finishedAt      sql.NullTime
		)
		if err := rows.Scan(&nr.ID, &nr.RunID, &nr.NodeID, &name, &nodeType, &nr.Status,
			&inputs, &outputs, &errStr, &nr.StartedAt, &finishedAt, &nr.UpdatedAt); err != nil {
			return nil, cacheErr("scan node run", err)
		}
		nr.Name = name.String
		nr.NodeType = nodeType.String
		if errStr.Valid {
			nr.Error = &errStr.String
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			nr.FinishedAt = &t
		}
		if inputs.Valid && inputs.String != "" {
			_ = json.Unmarshal([]byte(inputs.String), &nr.Inputs)
		}
		if outputs.Valid && outputs.String != "" {
			_ = json.Unmarshal([]byte(outputs.String), &nr.Outputs)
		}
		out = append(out, nr)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*schema.RunRecord, error) {
	var (
		run        schema.RunRecord
		errStr     sql.NullString
		finishedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.WorkflowID, &run.Status, &errStr,
		&run.StartedAt, &finishedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if errStr.Valid {
		run.Error = &errStr.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func cacheErr(op string, err error) *schema.FlowdeckError {
	return schema.NewError(schema.ErrCodeCache, op).WithCause(err)
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
