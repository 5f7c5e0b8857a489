package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/telemetry"
)

const (
	DefaultBatchSize = 50
	DefaultTimeLimit = 24 * time.Hour
)

// TaskSubmitter is the slice of the task engine ingestion needs.
type TaskSubmitter interface {
	HasTask(ctx context.Context, orderID int64, kind core.TaskKind) (bool, error)
	Submit(ctx context.Context, task *core.PrintTask) (*core.PrintTask, error)
}

// Checkpoint stores the paid-order cursor between ticks and restarts.
type Checkpoint interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, cursor int64) error
}

type Config struct {
	BatchSize int
	TimeLimit time.Duration
	Clock     core.Clock
	Logger    *slog.Logger
}

// Result summarizes one sync run.
type Result struct {
	Cursor  int64 `json:"cursor"`
	Fetched int   `json:"fetched"`
	Created int   `json:"created"`
	Skipped int   `json:"skipped"`
	Failed  int   `json:"failed"`
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeCreated:
		return "created"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Syncer turns upstream orders into print tasks. Runs are serialized so a
// manual range sync cannot race a scheduled tick on the dedup check.
type Syncer struct {
	source     OrderSource
	formatter  Formatter
	tasks      TaskSubmitter
	checkpoint Checkpoint
	batchSize  int
	timeLimit  time.Duration
	now        core.Clock
	log        *slog.Logger

	mu     sync.Mutex
	cursor int64
	loaded bool
}

func NewSyncer(source OrderSource, formatter Formatter, tasks TaskSubmitter, checkpoint Checkpoint, cfg Config) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = DefaultTimeLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Syncer{
		source:     source,
		formatter:  formatter,
		tasks:      tasks,
		checkpoint: checkpoint,
		batchSize:  cfg.BatchSize,
		timeLimit:  cfg.TimeLimit,
		now:        cfg.Clock,
		log:        cfg.Logger.With("component", "ingest"),
	}
}

// Tick runs one paid-order sync from the stored cursor and stores the
// advanced cursor. When the checkpoint cannot be written the cursor is kept
// in memory for the next tick.
func (s *Syncer) Tick(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		cursor, err := s.checkpoint.Load(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load sync cursor: %w", err)
		}
		s.cursor = cursor
		s.loaded = true
	}

	res, err := s.syncPaid(ctx, s.cursor)
	if res.Cursor > s.cursor {
		s.cursor = res.Cursor
		telemetry.IngestCursor.Set(float64(s.cursor))
		if saveErr := s.checkpoint.Save(ctx, s.cursor); saveErr != nil {
			s.log.Error("failed to persist sync cursor", "cursor", s.cursor, "error", saveErr)
		}
	}
	if err != nil {
		return res, err
	}

	if res.Fetched > 0 {
		s.log.Info("order sync finished", "cursor", res.Cursor, "fetched", res.Fetched,
			"created", res.Created, "skipped", res.Skipped, "failed", res.Failed)
	}
	return res, nil
}

// SyncPaidOrders processes one batch after cursor and returns the advanced
// cursor in the result. It does not touch the checkpoint.
func (s *Syncer) SyncPaidOrders(ctx context.Context, cursor int64) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncPaid(ctx, cursor)
}

func (s *Syncer) syncPaid(ctx context.Context, cursor int64) (Result, error) {
	res := Result{Cursor: cursor}
	since := s.now().Add(-s.timeLimit)

	orders, err := s.source.PaidOrdersAfter(ctx, cursor, since, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to fetch paid orders after %d: %w", cursor, err)
	}
	res.Fetched = len(orders)

	for _, order := range orders {
		out, err := s.process(ctx, order, core.TaskKindOrder)
		if err != nil {
			return res, err
		}
		res.count(out)
		if order.ID > res.Cursor {
			res.Cursor = order.ID
		}
	}
	return res, nil
}

// SyncRefunds creates refund tasks for refunded orders paid within the
// trailing window. It keeps no cursor between runs; a run stops once it has
// created a batch worth of tasks or the source is exhausted.
func (s *Syncer) SyncRefunds(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	since := s.now().Add(-s.timeLimit)
	after := int64(0)

	for res.Created < s.batchSize {
		orders, err := s.source.RefundOrdersAfter(ctx, after, since, s.batchSize)
		if err != nil {
			return res, fmt.Errorf("failed to fetch refund orders: %w", err)
		}
		res.Fetched += len(orders)

		for _, order := range orders {
			out, err := s.process(ctx, order, core.TaskKindRefund)
			if err != nil {
				return res, err
			}
			res.count(out)
			after = order.ID
		}

		if len(orders) < s.batchSize {
			break
		}
	}

	res.Cursor = after
	if res.Created > 0 {
		s.log.Info("refund sync finished", "fetched", res.Fetched, "created", res.Created, "failed", res.Failed)
	}
	return res, nil
}

// SyncPaidOrdersBetween is the manual backfill path for paid orders. It
// leaves the tick cursor alone.
func (s *Syncer) SyncPaidOrdersBetween(ctx context.Context, start, end time.Time) (Result, error) {
	return s.syncRange(ctx, start, end, core.TaskKindOrder)
}

func (s *Syncer) SyncRefundOrdersBetween(ctx context.Context, start, end time.Time) (Result, error) {
	return s.syncRange(ctx, start, end, core.TaskKindRefund)
}

func (s *Syncer) syncRange(ctx context.Context, start, end time.Time, kind core.TaskKind) (Result, error) {
	if end.Before(start) {
		return Result{}, fmt.Errorf("sync range end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		orders []Order
		err    error
	)
	if kind == core.TaskKindRefund {
		orders, err = s.source.RefundOrdersBetween(ctx, start, end)
	} else {
		orders, err = s.source.PaidOrdersBetween(ctx, start, end)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch %s orders between %s and %s: %w", kind, start, end, err)
	}

	res := Result{Fetched: len(orders)}
	for _, order := range orders {
		out, err := s.process(ctx, order, kind)
		if err != nil {
			return res, err
		}
		res.count(out)
		res.Cursor = order.ID
	}

	s.log.Info("range sync finished", "kind", kind, "start", start, "end", end,
		"fetched", res.Fetched, "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

// process handles one order. A returned error means the dedup lookup
// failed and the caller must stop without moving past this order; every
// other failure is logged and reported as outcomeFailed.
func (s *Syncer) process(ctx context.Context, order Order, kind core.TaskKind) (outcome, error) {
	exists, err := s.tasks.HasTask(ctx, order.ID, kind)
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to check existing %s task for order %d: %w", kind, order.ID, err)
	}
	if exists {
		s.log.Debug("order skipped", "order_id", order.ID, "kind", kind, "reason", core.ErrDuplicateOrder)
		s.record(kind, outcomeSkipped)
		return outcomeSkipped, nil
	}

	content, err := s.formatter.Format(ctx, order, kind)
	if err != nil {
		s.log.Warn("skipping order, formatting failed", "order_id", order.ID, "kind", kind, "error", err)
		s.record(kind, outcomeFailed)
		return outcomeFailed, nil
	}

	task := &core.PrintTask{
		OrderID:    order.ID,
		OrderNo:    order.OrderNo,
		MerchantID: order.MerchantID,
		StoreID:    order.StoreID,
		Kind:       kind,
		Content:    content,
		Priority:   core.PriorityMedium,
	}
	if _, err := s.tasks.Submit(ctx, task); err != nil {
		s.log.Error("skipping order, task creation failed", "order_id", order.ID, "kind", kind, "error", err)
		s.record(kind, outcomeFailed)
		return outcomeFailed, nil
	}

	s.record(kind, outcomeCreated)
	s.log.Debug("print task created", "order_id", order.ID, "order_no", order.OrderNo, "task_id", task.TaskID, "kind", kind)
	return outcomeCreated, nil
}

func (s *Syncer) record(kind core.TaskKind, out outcome) {
	telemetry.OrdersIngested.WithLabelValues(string(kind), out.String()).Inc()
}

func (r *Result) count(out outcome) {
	switch out {
	case outcomeCreated:
		r.Created++
	case outcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}
