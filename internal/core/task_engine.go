package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printhub/internal/telemetry"
)

const (
	DefaultStuckThreshold = 30 * time.Minute
	DefaultRetentionDays  = 30

	defaultFailureMessage = "print failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// allowedTransitions lists the states each status may move to through a
// status report. COMPLETED accepts nothing. A FAILED task accepts further
// FAILED reports, each counted as another attempt, and returns to PENDING
// only through Retry.
var allowedTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusPrinting:  true,
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
	},
	TaskStatusPrinting: {
		TaskStatusPrinting:  true,
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
	},
	TaskStatusCompleted: {},
	TaskStatusFailed: {
		TaskStatusFailed: true,
	},
}

// LiveClientFinder is the part of the registry the engine consults when it
// picks recovery targets.
type LiveClientFinder interface {
	FindLive(ctx context.Context, scope Scope) ([]*PrintClient, error)
}

type EngineConfig struct {
	StuckThreshold time.Duration
	RetentionDays  int
	Archiver       Archiver
	Clock          Clock
	Logger         *slog.Logger
}

// TaskEngine owns every PrintTask mutation.
type TaskEngine struct {
	tasks          TaskStore
	history        HistoryStore
	clients        LiveClientFinder
	notifier       Notifier
	archiver       Archiver
	stuckThreshold time.Duration
	retentionDays  int
	now            Clock
	log            *slog.Logger
}

func NewTaskEngine(tasks TaskStore, history HistoryStore, clients LiveClientFinder, notifier Notifier, cfg EngineConfig) *TaskEngine {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = DefaultStuckThreshold
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &TaskEngine{
		tasks:          tasks,
		history:        history,
		clients:        clients,
		notifier:       notifier,
		archiver:       cfg.Archiver,
		stuckThreshold: cfg.StuckThreshold,
		retentionDays:  cfg.RetentionDays,
		now:            cfg.Clock,
		log:            cfg.Logger.With("component", "engine"),
	}
}

// CreateTask fills defaults and persists a new task. It does not dispatch.
// Progress fields are owned by status reports and are reset here. An id
// that is already taken gives ErrDuplicateTask.
func (e *TaskEngine) CreateTask(ctx context.Context, t *PrintTask) (*PrintTask, error) {
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	t.RetryCount = 0
	t.AssignedClientID = ""
	t.ErrorMessage = ""
	t.PrintTime = nil
	if t.Status == "" {
		t.Status = TaskStatusPending
	} else if _, err := ParseTaskStatus(string(t.Status)); err != nil {
		return nil, err
	}
	if t.Kind == "" {
		t.Kind = TaskKindOrder
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	now := e.now()
	if t.CreateTime.IsZero() {
		t.CreateTime = now
	}
	if t.LastUpdateTime.IsZero() {
		t.LastUpdateTime = now
	}

	if err := e.tasks.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task %s: %w", t.TaskID, err)
	}

	telemetry.TasksCreated.Inc()
	e.log.Debug("task created", "task_id", t.TaskID, "order_id", t.OrderID, "kind", t.Kind)
	return t, nil
}

// Submit creates the task and dispatches it to its store, or its merchant
// when it has no store.
func (e *TaskEngine) Submit(ctx context.Context, t *PrintTask) (*PrintTask, error) {
	task, err := e.CreateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	e.notifier.DispatchTask(ctx, task)
	return task, nil
}

func (e *TaskEngine) UpdateStatus(ctx context.Context, taskID string, status TaskStatus, clientID string) (*PrintTask, error) {
	return e.ReportStatus(ctx, taskID, status, clientID, "")
}

// ReportStatus applies a client status report. Transitions that are not
// allowed from the current status leave the task untouched and return it
// without error, which makes repeated COMPLETED acks no-ops.
func (e *TaskEngine) ReportStatus(ctx context.Context, taskID string, status TaskStatus, clientID, errMsg string) (*PrintTask, error) {
	if _, err := ParseTaskStatus(string(status)); err != nil {
		return nil, err
	}

	task, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !allowedTransitions[task.Status][status] {
		e.log.Debug("status report ignored", "task_id", taskID, "current", task.Status, "requested", status)
		return task, nil
	}

	now := e.now()
	task.Status = status
	task.LastUpdateTime = now
	if clientID != "" {
		task.AssignedClientID = clientID
	}

	var record *PrintHistory
	switch status {
	case TaskStatusCompleted:
		task.PrintTime = &now
		task.ErrorMessage = ""
		record = e.historyFor(task, clientID, HistorySuccess, "", now)
	case TaskStatusFailed:
		if errMsg == "" {
			errMsg = defaultFailureMessage
		}
		task.RetryCount++
		task.ErrorMessage = errMsg
		record = e.historyFor(task, clientID, HistoryFailed, errMsg, now)
	}

	if err := e.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", taskID, err)
	}

	if record != nil {
		if err := e.history.Append(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to record history for task %s: %w", taskID, err)
		}
	}

	telemetry.TaskTransitions.WithLabelValues(string(status)).Inc()
	e.notifier.NotifyStatus(ctx, task)
	return task, nil
}

// Retry moves a FAILED task back to PENDING and redispatches it.
func (e *TaskEngine) Retry(ctx context.Context, taskID string) (*PrintTask, error) {
	task, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != TaskStatusFailed {
		return nil, fmt.Errorf("%w: %s task cannot be retried", ErrInvalidTransition, task.Status)
	}

	task.Status = TaskStatusPending
	task.LastUpdateTime = e.now()
	if err := e.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to retry task %s: %w", taskID, err)
	}

	telemetry.TaskTransitions.WithLabelValues(string(TaskStatusPending)).Inc()
	e.notifier.DispatchTask(ctx, task)
	e.notifier.NotifyStatus(ctx, task)
	return task, nil
}

// RecoverStuckTasks redelivers PENDING/PRINTING tasks older than the stuck
// threshold whose merchant still has a live client. It returns the number
// of tasks redelivered.
func (e *TaskEngine) RecoverStuckTasks(ctx context.Context) int {
	now := e.now()
	threshold := now.Add(-e.stuckThreshold)

	stuck, err := e.tasks.FindStale(ctx, []TaskStatus{TaskStatusPending, TaskStatusPrinting}, threshold)
	if err != nil {
		e.log.Error("stuck task query failed", "error", err)
		return 0
	}
	if len(stuck) == 0 {
		return 0
	}

	e.log.Info("found stuck tasks", "count", len(stuck))

	recovered := 0
	for _, task := range stuck {
		live, err := e.clients.FindLive(ctx, MerchantScope(task.MerchantID))
		if err != nil {
			e.log.Error("live client lookup failed", "task_id", task.TaskID, "merchant_id", task.MerchantID, "error", err)
			continue
		}
		if len(live) == 0 {
			continue
		}

		task.Status = TaskStatusPending
		task.LastUpdateTime = now
		if err := e.tasks.Save(ctx, task); err != nil {
			e.log.Error("failed to reset stuck task", "task_id", task.TaskID, "error", err)
			continue
		}

		e.notifier.DispatchTask(ctx, task)
		telemetry.TasksRecovered.Inc()
		recovered++
		e.log.Info("stuck task redelivered", "task_id", task.TaskID, "live_clients", len(live))
	}

	return recovered
}

// CleanupOldTasks purges COMPLETED tasks finished before the retention
// window, archiving them first when an archiver is configured. Other
// statuses are never purged.
func (e *TaskEngine) CleanupOldTasks(ctx context.Context) int {
	cutoff := e.now().AddDate(0, 0, -e.retentionDays)

	old, err := e.tasks.FindCompletedBefore(ctx, cutoff)
	if err != nil {
		e.log.Error("retention query failed", "error", err)
		return 0
	}
	if len(old) == 0 {
		return 0
	}

	if e.archiver != nil {
		if err := e.archiver.ArchiveTasks(ctx, old); err != nil {
			e.log.Error("archive failed, skipping purge", "count", len(old), "error", err)
			return 0
		}
	}

	purged := 0
	for _, task := range old {
		if err := e.tasks.Delete(ctx, task.TaskID); err != nil {
			e.log.Error("failed to purge task", "task_id", task.TaskID, "error", err)
			continue
		}
		purged++
	}

	telemetry.TasksPurged.Add(float64(purged))
	e.log.Info("retention cleanup finished", "purged", purged, "cutoff", cutoff)
	return purged
}

func (e *TaskEngine) GetTask(ctx context.Context, taskID string) (*PrintTask, error) {
	return e.tasks.FindByID(ctx, taskID)
}

// HasTask reports whether a task of the given kind exists for the order.
func (e *TaskEngine) HasTask(ctx context.Context, orderID int64, kind TaskKind) (bool, error) {
	n, err := e.tasks.CountByOrder(ctx, orderID, kind)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PendingTasks lists PENDING tasks for a store or merchant. An empty scope
// yields an empty list rather than every pending task.
func (e *TaskEngine) PendingTasks(ctx context.Context, scope Scope) ([]*PrintTask, error) {
	if scope.IsZero() {
		return []*PrintTask{}, nil
	}
	if scope.StoreID > 0 {
		scope.MerchantID = 0
	}
	return e.tasks.FindByStatus(ctx, TaskStatusPending, scope)
}

// TasksByMerchant pages a merchant's tasks, newest first. Page is zero based.
func (e *TaskEngine) TasksByMerchant(ctx context.Context, merchantID int64, page, size int) ([]*PrintTask, int, error) {
	if size <= 0 {
		size = 10
	}
	if page < 0 {
		page = 0
	}
	return e.tasks.ListByMerchant(ctx, merchantID, size, page*size)
}

func (e *TaskEngine) History(ctx context.Context, taskID string) ([]*PrintHistory, error) {
	if _, err := e.tasks.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return e.history.ListByTask(ctx, taskID)
}

func (e *TaskEngine) historyFor(task *PrintTask, clientID string, status HistoryStatus, errMsg string, now time.Time) *PrintHistory {
	return &PrintHistory{
		TaskID:       task.TaskID,
		OrderID:      task.OrderID,
		OrderNo:      task.OrderNo,
		MerchantID:   task.MerchantID,
		StoreID:      task.StoreID,
		ClientID:     clientID,
		PrinterName:  task.PrinterName,
		Status:       status,
		ErrorMessage: errMsg,
		PrintTime:    now,
		CreateTime:   now,
	}
}
