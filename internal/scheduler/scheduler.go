package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orrn/printhub/internal/config"
	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/ingest"
	"github.com/orrn/printhub/internal/telemetry"
)

const (
	JobOrderSync    = "order-sync"
	JobRefundSync   = "refund-sync"
	JobLiveness     = "liveness-sweep"
	JobTaskRecovery = "task-recovery"
	JobTaskCleanup  = "task-cleanup"
)

// Scheduler runs the periodic jobs. A job still running when its next
// slot comes up is skipped, and a panicking job is recovered and logged.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{log: logger}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	cctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cron:   c,
		ctx:    cctx,
		cancel: cancel,
		log:    logger,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Every turns an interval into a schedule spec.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add registers fn under name. Names are unique.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		fn(s.ctx)
		telemetry.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	s.jobs[name] = id
	s.log.Debug("job registered", "job", name, "schedule", spec)
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Next reports when the named job fires next. It is zero before Start.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.log.Info("scheduler started", "jobs", len(s.jobs))
	s.cron.Start()
}

// Stop cancels the job context and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Deps are the lifecycle components the standard jobs drive. Syncer is nil
// when order ingestion is disabled.
type Deps struct {
	Engine   *core.TaskEngine
	Registry *core.ClientRegistry
	Syncer   *ingest.Syncer
}

type job struct {
	name string
	spec string
	fn   func(ctx context.Context)
}

// RegisterLifecycle adds the liveness sweep, stuck-task recovery, retention
// cleanup and, when a syncer is given, the order and refund syncs.
func (s *Scheduler) RegisterLifecycle(cfg *config.Config, d Deps) error {
	jobs := []job{
		{JobLiveness, Every(cfg.Clients.SweepInterval), func(ctx context.Context) {
			if n := d.Registry.SweepLiveness(ctx); n > 0 {
				s.log.Info("clients marked offline", "count", n)
			}
		}},
		{JobTaskRecovery, Every(cfg.Tasks.RecoveryInterval), func(ctx context.Context) {
			if n := d.Engine.RecoverStuckTasks(ctx); n > 0 {
				s.log.Info("stuck tasks redelivered", "count", n)
			}
		}},
		{JobTaskCleanup, cfg.Tasks.CleanupSchedule, func(ctx context.Context) {
			d.Engine.CleanupOldTasks(ctx)
		}},
	}

	if d.Syncer != nil {
		jobs = append(jobs,
			job{JobOrderSync, Every(cfg.Ingest.Interval), func(ctx context.Context) {
				if _, err := d.Syncer.Tick(ctx); err != nil {
					s.log.Error("order sync failed", "error", err)
				}
			}},
			job{JobRefundSync, Every(cfg.Ingest.RefundInterval), func(ctx context.Context) {
				if _, err := d.Syncer.SyncRefunds(ctx); err != nil {
					s.log.Error("refund sync failed", "error", err)
				}
			}},
		)
	}

	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
