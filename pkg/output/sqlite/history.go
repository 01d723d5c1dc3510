package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Run is one row of the run history.
type Run struct {
	ID        string
	Name      string
	Status    string
	Passed    bool
	ExitCode  int
	Reason    string
	StartedAt time.Time
	Duration  time.Duration
	Requests  int64
}

// ThresholdRow is a stored threshold result.
type ThresholdRow struct {
	Metric     string
	Expression string
	Passed     bool
	Value      float64
	Reason     string
}

// History reads past runs.
type History struct {
	db *sql.DB
}

// OpenHistory opens the database at path for reading.
func OpenHistory(path string) (*History, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Runs returns the most recent runs, newest first.
func (h *History) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, name, status, passed, exit_code, reason, started_at, duration_ms, requests
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  string
			durationMs int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Status, &r.Passed, &r.ExitCode, &r.Reason, &startedAt, &durationMs, &r.Requests); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Thresholds returns the threshold results of a run in definition order.
func (h *History) Thresholds(ctx context.Context, runID string) ([]ThresholdRow, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT metric, expression, passed, value, reason
		FROM threshold_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	var out []ThresholdRow
	for rows.Next() {
		var t ThresholdRow
		if err := rows.Scan(&t.Metric, &t.Expression, &t.Passed, &t.Value, &t.Reason); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MetricValues returns the stored summary values of one metric key.
func (h *History) MetricValues(ctx context.Context, runID, key string) (map[string]float64, error) {
	var raw string
	err := h.db.QueryRowContext(ctx,
		`SELECT vals FROM metric_summaries WHERE run_id = ? AND key = ?`, runID, key).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("query metric %s: %w", key, err)
	}
	values := make(map[string]float64)
	if err := sonic.UnmarshalString(raw, &values); err != nil {
		return nil, fmt.Errorf("decode metric %s: %w", key, err)
	}
	return values, nil
}
