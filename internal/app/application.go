package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/services/court"
	"github.com/savepop/savepop/internal/app/services/goals"
	gridsvc "github.com/savepop/savepop/internal/app/services/grid"
	"github.com/savepop/savepop/internal/app/services/ledger"
	"github.com/savepop/savepop/internal/app/services/levels"
	"github.com/savepop/savepop/internal/app/services/progress"
	"github.com/savepop/savepop/internal/app/services/quests"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/internal/app/storage/memory"
	"github.com/savepop/savepop/internal/app/system"
	"github.com/savepop/savepop/pkg/logger"
)

const (
	DefaultGoalSweep  = "@every 15m"
	DefaultQuestSweep = "@every 5m"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Goals       storage.GoalStore
	Ledger      storage.LedgerStore
	Grid        storage.GridStore
	Veto        storage.VetoStore
	Quests      storage.QuestStore
	Idempotency storage.IdempotencyStore
}

// Options tune service behavior. The zero value runs offline with the
// default sweep schedules.
type Options struct {
	Advisor        levels.Advisor
	AdvisorTimeout time.Duration
	Profiles       levels.ProfileProvider
	Quorum         int
	ResultTTL      time.Duration
	// GoalSweep and QuestSweep are cron schedules. "off" disables a sweep.
	GoalSweep  string
	QuestSweep string
	Events     events.Publisher
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager   *system.Manager
	scheduler *system.Scheduler
	log       *logger.Logger

	Levels   *levels.Engine
	Ledger   *ledger.Service
	Goals    *goals.Service
	Progress *progress.Service
	Grid     *gridsvc.Service
	Court    *court.Service
	Quests   *quests.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Goals == nil {
		stores.Goals = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Grid == nil {
		stores.Grid = mem
	}
	if stores.Veto == nil {
		stores.Veto = mem
	}
	if stores.Quests == nil {
		stores.Quests = mem
	}
	if stores.Idempotency == nil {
		stores.Idempotency = mem
	}
	pub := events.OrNop(opts.Events)

	if opts.Advisor == nil {
		log.Warn("advisor not configured; levels use the offline plan")
	}
	engine := levels.NewEngine(opts.Advisor, opts.AdvisorTimeout, log.Named("levels"))
	ledgerService := ledger.New(stores.Ledger, log.Named("ledger"))
	goalService := goals.New(stores.Goals, engine, log.Named("goals")).
		WithProfiles(opts.Profiles).
		WithBalances(stores.Ledger).
		WithEvents(pub)
	progressService := progress.New(goalService, ledgerService, stores.Idempotency, log.Named("progress")).
		WithResultTTL(opts.ResultTTL)
	gridService := gridsvc.New(stores.Grid, ledgerService, stores.Veto, log.Named("grid")).
		WithEvents(pub)
	courtService := court.New(stores.Veto, gridService, log.Named("court")).
		WithQuorum(opts.Quorum).
		WithEvents(pub)
	questService := quests.New(stores.Quests, ledgerService, log.Named("quests")).
		WithEvents(pub)

	scheduler := system.NewScheduler("expiry-sweeper", log.Named("scheduler"))
	jobs := []struct {
		name string
		spec string
		def  string
		job  system.JobFunc
	}{
		{"goal-expiry", opts.GoalSweep, DefaultGoalSweep, goalService.SweepExpired},
		{"quest-expiry", opts.QuestSweep, DefaultQuestSweep, questService.SweepExpired},
	}
	for _, j := range jobs {
		spec := strings.TrimSpace(j.spec)
		if spec == "" {
			spec = j.def
		}
		if strings.EqualFold(spec, "off") {
			log.WithField("job", j.name).Warn("sweep disabled")
			continue
		}
		if err := scheduler.Add(j.name, spec, j.job); err != nil {
			return nil, err
		}
	}

	manager := system.NewManager(log.Named("system"))
	if err := manager.Register(scheduler); err != nil {
		return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
	}

	return &Application{
		manager:   manager,
		scheduler: scheduler,
		log:       log,
		Levels:    engine,
		Ledger:    ledgerService,
		Goals:     goalService,
		Progress:  progressService,
		Grid:      gridService,
		Court:     courtService,
		Quests:    questService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Descriptors lists every domain service for the system endpoint.
func (a *Application) Descriptors() []service.Descriptor {
	return service.Collect(a.Levels, a.Ledger, a.Goals, a.Progress, a.Grid, a.Court, a.Quests)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
