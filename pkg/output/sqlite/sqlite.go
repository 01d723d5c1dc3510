// Package sqlite keeps a history of test runs in a SQLite database: one row
// per run, its threshold results and a summary of every metric.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/duke-git/lancet/v2/retry"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

func init() {
	output.Register("sqlite", New)
}

// DefaultPath is used when no file is given.
const DefaultPath = "load-engine.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	passed      INTEGER NOT NULL DEFAULT 0,
	exit_code   INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	ended_at    TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	requests    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS threshold_results (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	metric     TEXT NOT NULL,
	expression TEXT NOT NULL,
	passed     INTEGER NOT NULL,
	value      REAL NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);
CREATE TABLE IF NOT EXISTS metric_summaries (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	key      TEXT NOT NULL,
	name     TEXT NOT NULL,
	type     TEXT NOT NULL,
	contains TEXT NOT NULL,
	samples  INTEGER NOT NULL,
	vals     TEXT NOT NULL,
	PRIMARY KEY (run_id, key)
);
`

// Output 把运行结果写入 SQLite
type Output struct {
	params  output.Params
	path    string
	log     *zap.SugaredLogger
	db      *sql.DB
	mu      sync.Mutex
	status  output.RunStatus
	verdict *types.TestVerdict
	started time.Time
}

// New 创建 SQLite 输出
func New(params output.Params) (output.Output, error) {
	path := params.ConfigArgument
	if path == "" {
		path = DefaultPath
	}
	log := params.Logger
	if log == nil {
		log = logger.Named("sqlite")
	}
	return &Output{params: params, path: path, log: log}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("sqlite (%s)", o.path)
}

// Start 打开数据库并登记本次运行
func (o *Output) Start() error {
	db, err := Open(o.path)
	if err != nil {
		return err
	}
	o.db = db
	o.started = time.Now()

	err = o.withRetry(func() error {
		_, err := o.db.Exec(
			`INSERT INTO runs (id, name, status, started_at) VALUES (?, ?, ?, ?)`,
			o.params.RunID, o.params.TestName, "running", o.started.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("register run: %w", err)
	}
	return nil
}

// AddMetricSamples 不保存单个样本，汇总来自最终快照
func (o *Output) AddMetricSamples([]metrics.SampleContainer) {}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}

// SetVerdict 保存最终结果，Stop 时写入
func (o *Output) SetVerdict(verdict *types.TestVerdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdict = verdict
}

// Stop 写入结果并关闭数据库
func (o *Output) Stop() error {
	if o.db == nil {
		return nil
	}
	defer func() {
		_ = o.db.Close()
		o.db = nil
	}()

	o.mu.Lock()
	verdict, status := o.verdict, o.status
	o.mu.Unlock()

	err := o.withRetry(func() error {
		return o.save(context.Background(), verdict, status)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", o.params.RunID, err)
	}
	return nil
}

func (o *Output) save(ctx context.Context, v *types.TestVerdict, status output.RunStatus) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	state := status.Status
	if state == "" {
		state = "completed"
	}
	if v == nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, ended_at = ?, duration_ms = ? WHERE id = ?`,
			state, time.Now().UTC().Format(time.RFC3339Nano), time.Since(o.started).Milliseconds(), o.params.RunID)
		if err != nil {
			return err
		}
		return tx.Commit()
	}

	if v.Aborted {
		state = "aborted"
	}
	var requests int64
	if ms, ok := v.Snapshot.Get(metrics.HTTPReqsName); ok {
		requests = int64(ms.Values["count"])
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, passed = ?, exit_code = ?, reason = ?, ended_at = ?, duration_ms = ?, requests = ? WHERE id = ?`,
		state, v.Passed, v.ExitCode(), v.Reason, v.EndTime.UTC().Format(time.RFC3339Nano), v.Duration.Milliseconds(), requests, o.params.RunID)
	if err != nil {
		return err
	}

	for i, r := range v.Thresholds {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO threshold_results (run_id, position, metric, expression, passed, value, reason) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.params.RunID, i, r.Metric, r.Expression, r.Passed, r.Value, r.Reason)
		if err != nil {
			return err
		}
	}

	for _, key := range v.Snapshot.Keys() {
		ms, _ := v.Snapshot.Get(key)
		vals, err := sonic.MarshalString(ms.Values)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO metric_summaries (run_id, key, name, type, contains, samples, vals) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.params.RunID, key, ms.Name, string(ms.Type), string(ms.Contains), ms.Samples, vals)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// withRetry 只重试因数据库被其他进程锁定而失败的写入
func (o *Output) withRetry(fn func() error) error {
	attempt := 0
	var last error
	err := retry.Retry(func() error {
		attempt++
		last = fn()
		if last != nil && isBusy(last) {
			o.log.Warnw("sqlite database busy, retrying", "path", o.path, "attempt", attempt, "error", last)
			return last
		}
		return nil
	}, retry.RetryTimes(3))
	if last != nil {
		return last
	}
	return err
}

func isBusy(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

// Open opens the history database and creates the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return db, nil
}
