package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobdeck/jobdeck/internal/assistant"
	"github.com/jobdeck/jobdeck/internal/observability"
)

// Service runs the worker pool and the cron janitor.
type Service struct {
	queue   *Queue
	orch    *assistant.Orchestrator
	logger  *observability.Logger
	metrics *observability.Metrics

	workers     int
	poll        time.Duration
	retention   time.Duration
	approvalTTL time.Duration
	schedule    string

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceConfig tunes the worker pool and janitor.
type ServiceConfig struct {
	Workers     int
	PollInterval time.Duration
	Retention   time.Duration

	// ApprovalTTL is how long an execution may wait in pending_approval
	// before the janitor expires it.
	ApprovalTTL time.Duration

	// JanitorSchedule is a cron expression.
	JanitorSchedule string
}

// NewService wires the queue to the orchestrator.
func NewService(queue *Queue, orch *assistant.Orchestrator, logger *observability.Logger, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = 24 * time.Hour
	}
	if cfg.JanitorSchedule == "" {
		cfg.JanitorSchedule = "0 3 * * *"
	}
	return &Service{
		queue:       queue,
		orch:        orch,
		logger:      logger,
		metrics:     metrics,
		workers:     cfg.Workers,
		poll:        cfg.PollInterval,
		retention:   cfg.Retention,
		approvalTTL: cfg.ApprovalTTL,
		schedule:    cfg.JanitorSchedule,
	}
}

// Start launches the workers and schedules the janitor. Jobs orphaned by a
// previous crash are requeued first.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if n, err := s.queue.requeueOrphans(ctx); err != nil {
		return err
	} else if n > 0 {
		s.logger.Info(ctx, "requeued orphaned jobs", "count", n)
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() { s.janitor(context.Background()) }); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	s.cron.Start()

	s.logger.Info(ctx, "job service started",
		"workers", s.workers, "janitor_schedule", s.schedule)
	return nil
}

// Stop halts workers and waits for in-flight jobs.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOnce(ctx)
		}
	}
}

// drainOnce claims and runs jobs until the queue is empty.
func (s *Service) drainOnce(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		j, err := s.queue.claim(ctx)
		if err != nil {
			s.logger.Error(ctx, "failed to claim job", "error", err)
			return
		}
		if j == nil {
			return
		}
		s.runJob(ctx, j)
	}
}

func (s *Service) runJob(ctx context.Context, j *job) {
	err := s.dispatch(ctx, j)
	if err == nil {
		if s.metrics != nil {
			s.metrics.RecordJob(string(j.Kind), "success")
		}
		if err := s.queue.finish(ctx, j); err != nil {
			s.logger.Error(ctx, "failed to mark job done", "job_id", j.ID, "error", err)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.RecordJob(string(j.Kind), "retry")
	}
	if err := s.queue.retry(ctx, j, err); err != nil {
		s.logger.Error(ctx, "failed to requeue job", "job_id", j.ID, "error", err)
	}
}

func (s *Service) dispatch(ctx context.Context, j *job) error {
	switch j.Kind {
	case KindRunTool:
		return s.orch.RunExecution(ctx, j.Payload)
	case KindResumeFollowup:
		return s.orch.ResumeFollowup(ctx, j.Payload)
	default:
		return fmt.Errorf("unknown job kind %s", j.Kind)
	}
}

// janitor expires stale approvals and prunes finished jobs.
func (s *Service) janitor(ctx context.Context) {
	expired, err := s.orch.ExpirePendingApprovals(ctx, s.approvalTTL)
	if err != nil {
		s.logger.Error(ctx, "janitor failed to expire approvals", "error", err)
	} else if expired > 0 {
		s.logger.Info(ctx, "janitor expired stale approvals", "count", expired)
	}

	pruned, err := s.queue.prune(ctx, s.retention)
	if err != nil {
		s.logger.Error(ctx, "janitor failed to prune jobs", "error", err)
	} else if pruned > 0 {
		s.logger.Info(ctx, "janitor pruned finished jobs", "count", pruned)
	}
}
