package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/printhub/internal/core"
)

// TaskOperations implements core.TaskStore on sqlite.
type TaskOperations struct {
	db *sql.DB
}

func NewTaskOperations(db *sql.DB) *TaskOperations {
	return &TaskOperations{db: db}
}

func (o *TaskOperations) Insert(ctx context.Context, t *core.PrintTask) error {
	if _, err := o.db.ExecContext(ctx, InsertTask, taskArgs(t)...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", core.ErrDuplicateTask, t.TaskID)
		}
		return storeErr("insert task", err)
	}
	return nil
}

func (o *TaskOperations) Save(ctx context.Context, t *core.PrintTask) error {
	if _, err := o.db.ExecContext(ctx, UpsertTask, taskArgs(t)...); err != nil {
		return storeErr("save task", err)
	}
	return nil
}

func taskArgs(t *core.PrintTask) []any {
	return []any{
		t.TaskID, t.OrderID, t.OrderNo, t.MerchantID, t.StoreID, string(t.Kind), t.Content,
		string(t.Status), string(t.Priority), t.PrinterName, t.RetryCount, t.AssignedClientID,
		t.ErrorMessage, utc(t.CreateTime), utc(t.LastUpdateTime), nullTime(t.PrintTime),
	}
}

func (o *TaskOperations) FindByID(ctx context.Context, taskID string) (*core.PrintTask, error) {
	t, err := scanTask(o.db.QueryRowContext(ctx, GetTaskByID, taskID))
	if err != nil {
		return nil, storeErr("get task", err)
	}
	return t, nil
}

func (o *TaskOperations) CountByOrder(ctx context.Context, orderID int64, kind core.TaskKind) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, CountTasksByOrder, orderID, string(kind)).Scan(&n); err != nil {
		return 0, storeErr("count tasks by order", err)
	}
	return n, nil
}

func (o *TaskOperations) FindByStatus(ctx context.Context, status core.TaskStatus, scope core.Scope) ([]*core.PrintTask, error) {
	switch {
	case scope.StoreID > 0:
		return o.query(ctx, "list tasks by store", ListTasksByStatusAndStore, string(status), scope.StoreID)
	case scope.MerchantID > 0:
		return o.query(ctx, "list tasks by merchant", ListTasksByStatusAndMerchant, string(status), scope.MerchantID)
	default:
		return o.query(ctx, "list tasks by status", ListTasksByStatus, string(status))
	}
}

func (o *TaskOperations) FindStale(ctx context.Context, statuses []core.TaskStatus, before time.Time) ([]*core.PrintTask, error) {
	if len(statuses) == 0 {
		return []*core.PrintTask{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := fmt.Sprintf(`SELECT %s FROM print_tasks WHERE status IN (%s) AND create_time < ? ORDER BY create_time ASC`,
		taskColumns, placeholders)

	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, utc(before))

	return o.query(ctx, "list stale tasks", query, args...)
}

func (o *TaskOperations) FindCompletedBefore(ctx context.Context, before time.Time) ([]*core.PrintTask, error) {
	return o.query(ctx, "list completed tasks", ListCompletedTasksBefore, utc(before))
}

func (o *TaskOperations) ListByMerchant(ctx context.Context, merchantID int64, limit, offset int) ([]*core.PrintTask, int, error) {
	var total int
	if err := o.db.QueryRowContext(ctx, CountTasksByMerchant, merchantID).Scan(&total); err != nil {
		return nil, 0, storeErr("count merchant tasks", err)
	}

	tasks, err := o.query(ctx, "list merchant tasks", ListTasksByMerchant, merchantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (o *TaskOperations) Delete(ctx context.Context, taskID string) error {
	if _, err := o.db.ExecContext(ctx, DeleteTask, taskID); err != nil {
		return storeErr("delete task", err)
	}
	return nil
}

func (o *TaskOperations) query(ctx context.Context, op, query string, args ...any) ([]*core.PrintTask, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	tasks := []*core.PrintTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return tasks, nil
}

func scanTask(s rowScanner) (*core.PrintTask, error) {
	var (
		t                      core.PrintTask
		kind, status, priority string
		printTime              sql.NullTime
	)
	err := s.Scan(
		&t.TaskID, &t.OrderID, &t.OrderNo, &t.MerchantID, &t.StoreID, &kind, &t.Content,
		&status, &priority, &t.PrinterName, &t.RetryCount, &t.AssignedClientID,
		&t.ErrorMessage, &t.CreateTime, &t.LastUpdateTime, &printTime)
	if err != nil {
		return nil, err
	}

	t.Kind = core.TaskKind(kind)
	t.Status = core.TaskStatus(status)
	t.Priority = core.TaskPriority(priority)
	if printTime.Valid {
		pt := printTime.Time
		t.PrintTime = &pt
	}
	return &t, nil
}
