package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gearay/dingpiao/internal/booking/agent"
	"github.com/gearay/dingpiao/internal/booking/scheduler"
	"github.com/gearay/dingpiao/internal/booking/timing"
	"github.com/gearay/dingpiao/internal/core/config"
	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/redisjournal"
	"github.com/gearay/dingpiao/internal/infra/status"
	"github.com/gearay/dingpiao/internal/infra/storage"
	"github.com/gearay/dingpiao/internal/infra/storage/memory"
	"github.com/gearay/dingpiao/internal/infra/storage/postgres"
)

// App wires the scheduler, storage, journal and status server into one
// runnable application.
type App struct {
	cfg          *config.AppConfig
	sched        *scheduler.Scheduler
	store        storage.Store
	journal      *redisjournal.Journal
	statusServer *status.Server
	log          *slog.Logger

	records      chan domain.Record
	recorderQuit chan struct{}
	recorderDone chan struct{}
}

// NewApp creates an App with all dependencies initialized. A nil agent
// falls back to the simulated one.
func NewApp(cfg *config.AppConfig, bookingAgent agent.Agent, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if bookingAgent == nil {
		bookingAgent = agent.NewSimAgent(agent.SimConfig{})
		log.Info("using simulated booking agent")
	}

	// 1. Storage
	var store storage.Store
	if cfg.Storage.Backend == "postgres" {
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("postgres backend selected but database.url is empty")
		}
		pg, err := postgres.NewStore(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := pg.Migrate("migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		store = pg
		log.Info("using PostgreSQL storage")
	} else {
		store = memory.NewStore()
		log.Info("using memory storage")
	}

	// 2. Task journal (optional)
	var journal *redisjournal.Journal
	if cfg.Redis.URL != "" {
		var err error
		journal, err = redisjournal.New(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to redis, journal disabled", "error", err)
		} else {
			log.Info("task journal enabled")
		}
	}

	app := &App{
		cfg:          cfg,
		store:        store,
		journal:      journal,
		log:          log,
		records:      make(chan domain.Record, 256),
		recorderQuit: make(chan struct{}),
		recorderDone: make(chan struct{}),
	}
	go app.runRecorder()

	// 3. Scheduler
	app.sched = scheduler.New(scheduler.Config{
		Agent:           bookingAgent,
		Clock:           timing.RealClock(),
		Timing:          timing.DefaultConfig(),
		AuthTimeout:     cfg.Booking.AuthTimeout.Std(),
		ScanInterval:    cfg.Booking.ScanInterval.Std(),
		Horizon:         cfg.Booking.Horizon.Std(),
		RetainTerminal:  cfg.Booking.RetainTerminal.Std(),
		ShutdownTimeout: cfg.Booking.ShutdownTimeout.Std(),
		Logger:          log,
		OnStatus:        app.recordTransition,
		OnTerminalFailure: func(t *domain.Task) {
			log.Warn("task failed terminally",
				"task", t.ID,
				"category", t.ErrorCategory,
				"error", t.LastError)
		},
	})

	// 4. Status server
	checkers := map[string]status.HealthChecker{"storage": store}
	if journal != nil {
		checkers["redis"] = journal
	}
	app.statusServer = status.NewServer(app.sched, cfg.Server.Port, checkers)

	return app, nil
}

// Scheduler exposes the task scheduler for host callers.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.sched
}

// Roster exposes the saved-passenger roster.
func (a *App) Roster() storage.RosterRepo {
	return a.store.Roster()
}

// Start launches the status server and the scheduler, then schedules any
// saved request templates that are still in the future.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.statusServer.Start(); err != nil {
			a.log.Error("status server failed", "error", err)
		}
	}()
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	a.scheduleSaved(ctx)
	return nil
}

// scheduleSaved turns saved request templates into tasks. Templates whose
// release has passed are skipped and left in place for the operator.
func (a *App) scheduleSaved(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	saved, err := a.store.Requests().ListRequests(loadCtx)
	if err != nil {
		a.log.Warn("failed to load saved requests", "error", err)
		return
	}
	for _, req := range saved {
		lead := time.Duration(req.LeadTimeSec) * time.Second
		if lead <= 0 {
			lead = a.cfg.Booking.LeadTime.Std()
		}
		attempts := req.MaxAttempts
		if attempts <= 0 {
			attempts = a.cfg.Booking.MaxAttempts
		}
		task, err := a.sched.AddTask(scheduler.TaskSpec{
			Request:     req.Request,
			ReleaseAt:   req.ReleaseAt,
			LeadTime:    lead,
			MaxAttempts: attempts,
			Priority:    req.Priority,
		})
		if err != nil {
			a.log.Warn("saved request not scheduled",
				"request", req.ID, "release_at", req.ReleaseAt, "error", err)
			continue
		}
		a.log.Info("saved request scheduled", "request", req.ID, "task", task.ID)
	}
}

// Stop shuts down the scheduler, then the supporting services.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping application")

	if err := a.sched.Stop(); err != nil {
		a.log.Warn("scheduler shutdown incomplete", "error", err)
	}

	close(a.recorderQuit)
	<-a.recorderDone

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("failed to close redis", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close storage", "error", err)
	}

	return a.statusServer.Stop(ctx)
}

// recordTransition hands a task snapshot to the background recorder.
// Persistence must never slow down or break the booking path, so a full
// queue drops the snapshot rather than block the scheduler.
func (a *App) recordTransition(t *domain.Task) {
	select {
	case a.records <- t.ToRecord():
	default:
		a.log.Warn("record queue full, task snapshot dropped", "task", t.ID)
	}
}

// runRecorder drains task snapshots into the archive and journal. On quit
// it flushes whatever is already queued before returning.
func (a *App) runRecorder() {
	defer close(a.recorderDone)
	for {
		select {
		case rec := <-a.records:
			a.persistRecord(rec)
		case <-a.recorderQuit:
			for {
				select {
				case rec := <-a.records:
					a.persistRecord(rec)
				default:
					return
				}
			}
		}
	}
}

func (a *App) persistRecord(rec domain.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.store.Archive().SaveTask(ctx, rec); err != nil {
		a.log.Warn("failed to archive task", "task", rec.ID, "error", err)
	}
	if a.journal != nil {
		if err := a.journal.Append(ctx, rec); err != nil {
			a.log.Warn("failed to journal task", "task", rec.ID, "error", err)
		}
	}
}
