package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

const (
	tableTasks    = "invoice_task"
	tableResults  = "invoice_task_result"
	tableInvoices = "invoice_seen"
)

var taskColumns = []string{"id", "status", "progress", "message", "files", "result_key", "created_at", "updated_at"}

// SQLStore implements TaskStore with ent's SQL builders over postgres or sqlite.
type SQLStore struct {
	drv *entsql.Driver
	db  *sql.DB
	log *slog.Logger
}

// NewSQLStore wraps drv and creates the tables when missing.
func NewSQLStore(ctx context.Context, drv *entsql.Driver, log *slog.Logger) (*SQLStore, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &SQLStore{drv: drv, db: drv.DB(), log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, common.NewAppError("DB_MIGRATE", "create tables", err)
	}
	return s, nil
}

func (s *SQLStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.drv.Dialect())
}

// schema is portable across postgres and sqlite; timestamps are unix nanos.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + tableTasks + ` (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	message TEXT NOT NULL,
	files TEXT NOT NULL,
	result_key TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + tableResults + ` (
	task_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + tableInvoices + ` (
	number TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	created_at BIGINT NOT NULL
)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, op string, query string, args []any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.log.Error("repository.exec.failed", "op", op, "error", err)
		return fmt.Errorf("%s: %w: %v", op, common.ErrDatabase, err)
	}
	return nil
}

func (s *SQLStore) SaveTask(ctx context.Context, task entity.Task) error {
	files, err := json.Marshal(task.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	query, args := s.builder().Insert(tableTasks).
		Columns(taskColumns...).
		Values(task.ID, string(task.Status), task.Progress, task.Message, string(files), task.ResultKey,
			task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	return s.exec(ctx, "save task", query, args)
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (entity.Task, error) {
	b := s.builder()
	query, args := b.Select(taskColumns...).
		From(b.Table(tableTasks)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return entity.Task{}, fmt.Errorf("get task: %w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return entity.Task{}, fmt.Errorf("get task: %w: %v", common.ErrDatabase, err)
		}
		return entity.Task{}, notFound("task", id)
	}
	return scanTask(rows)
}

func (s *SQLStore) ListTasks(ctx context.Context) ([]entity.Task, error) {
	b := s.builder()
	query, args := b.Select(taskColumns...).
		From(b.Table(tableTasks)).
		OrderBy("created_at").
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var out []entity.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(rows *sql.Rows) (entity.Task, error) {
	var (
		t                entity.Task
		status, files    string
		created, updated int64
	)
	if err := rows.Scan(&t.ID, &status, &t.Progress, &t.Message, &files, &t.ResultKey, &created, &updated); err != nil {
		return entity.Task{}, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &t.Files); err != nil {
		return entity.Task{}, fmt.Errorf("decode files of task %s: %w", t.ID, err)
	}
	t.Status = constants.TaskStatus(status)
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return t, nil
}

func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	b := s.builder()
	query, args := b.Delete(tableResults).Where(entsql.EQ("task_id", id)).Query()
	if err := s.exec(ctx, "delete result", query, args); err != nil {
		return err
	}
	query, args = b.Delete(tableTasks).Where(entsql.EQ("id", id)).Query()
	return s.exec(ctx, "delete task", query, args)
}

func (s *SQLStore) SaveResult(ctx context.Context, res entity.TaskResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	query, args := s.builder().Insert(tableResults).
		Columns("task_id", "payload").
		Values(res.TaskID, string(payload)).
		OnConflict(entsql.ConflictColumns("task_id"), entsql.ResolveWithNewValues()).
		Query()
	return s.exec(ctx, "save result", query, args)
}

func (s *SQLStore) GetResult(ctx context.Context, taskID string) (entity.TaskResult, error) {
	b := s.builder()
	query, args := b.Select("payload").
		From(b.Table(tableResults)).
		Where(entsql.EQ("task_id", taskID)).
		Query()
	var payload string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.TaskResult{}, notFound("result", taskID)
	}
	if err != nil {
		return entity.TaskResult{}, fmt.Errorf("get result: %w: %v", common.ErrDatabase, err)
	}
	var res entity.TaskResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return entity.TaskResult{}, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return res, nil
}

func (s *SQLStore) SeenInvoices(ctx context.Context, numbers []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(numbers) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(numbers))
	for _, n := range numbers {
		args = append(args, normalizeInvoice(n))
	}
	b := s.builder()
	query, qargs := b.Select("number", "task_id").
		From(b.Table(tableInvoices)).
		Where(entsql.In("number", args...)).
		Query()
	rows, err := s.db.QueryContext(ctx, query, qargs...)
	if err != nil {
		return nil, fmt.Errorf("seen invoices: %w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	for rows.Next() {
		var n, id string
		if err := rows.Scan(&n, &id); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out[n] = id
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordInvoices(ctx context.Context, taskID string, numbers []string) error {
	if len(numbers) == 0 {
		return nil
	}
	now := time.Now().UnixNano()
	ins := s.builder().Insert(tableInvoices).Columns("number", "task_id", "created_at")
	n := 0
	for _, num := range numbers {
		if num = normalizeInvoice(num); num != "" {
			ins.Values(num, taskID, now)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	query, args := ins.OnConflict(entsql.ConflictColumns("number"), entsql.DoNothing()).Query()
	return s.exec(ctx, "record invoices", query, args)
}

func (s *SQLStore) Close() error {
	return s.drv.Close()
}
