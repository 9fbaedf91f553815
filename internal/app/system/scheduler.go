package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/savepop/savepop/pkg/logger"
)

// JobFunc is a scheduled unit of work. The returned count is logged.
type JobFunc func(ctx context.Context) (int, error)

// Scheduler runs named jobs on cron schedules as a lifecycle service.
type Scheduler struct {
	name string
	cron *cron.Cron
	log  *logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

var _ Service = (*Scheduler)(nil)

// NewScheduler builds a scheduler. Schedules use the standard five-field cron
// syntax plus descriptors such as "@every 10m".
func NewScheduler(name string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{
		name: name,
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log,
		ctx:  context.Background(),
	}
}

// Add registers job under spec. Jobs never overlap with themselves.
func (s *Scheduler) Add(jobName, spec string, job JobFunc) error {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.run(jobName, job)
	}))
	if _, err := s.cron.AddJob(spec, wrapped); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", jobName, spec, err)
	}
	return nil
}

// RunNow executes job immediately with the scheduler's context.
func (s *Scheduler) RunNow(jobName string, job JobFunc) {
	s.run(jobName, job)
}

func (s *Scheduler) run(jobName string, job JobFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	n, err := job(ctx)
	entry := s.log.WithField("job", jobName).WithField("duration", time.Since(start).String())
	if err != nil {
		entry.WithError(err).Warn("scheduled job failed")
		return
	}
	entry.WithField("count", n).Debug("scheduled job finished")
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()
	s.running = true
	s.log.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
