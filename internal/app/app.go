// Package app wires the datastore, queue, history, engine and producers
// from a Config. Both binaries build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/channel"
	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/db"
	"github.com/unclebandit/dispatch-engine/internal/dispatch"
	"github.com/unclebandit/dispatch-engine/internal/handler"
	"github.com/unclebandit/dispatch-engine/internal/history"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/memstore"
	"github.com/unclebandit/dispatch-engine/internal/queue"
	"github.com/unclebandit/dispatch-engine/internal/reminder"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

// Repos is one datastore seen through the repository interfaces.
type Repos struct {
	Sends     repository.ScheduledSendRepositoryInterface
	Posts     repository.StatusPostRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Clients   repository.ClientRepositoryInterface
	Channels  repository.ChannelRepositoryInterface
	Rules     repository.ReminderRuleRepositoryInterface
	History   repository.HistoryRepositoryInterface
}

func PostgresRepos(conn *sql.DB) Repos {
	return Repos{
		Sends:     &repository.ScheduledSendRepository{DB: conn},
		Posts:     &repository.StatusPostRepository{DB: conn},
		Campaigns: &repository.CampaignRepository{DB: conn},
		Clients:   &repository.ClientRepository{DB: conn},
		Channels:  &repository.ChannelRepository{DB: conn},
		Rules:     &repository.ReminderRuleRepository{DB: conn},
		History:   &repository.HistoryRepository{DB: conn},
	}
}

func MemoryRepos(store *memstore.Store) Repos {
	return Repos{
		Sends:     store.ScheduledSends(),
		Posts:     store.StatusPosts(),
		Campaigns: store.Campaigns(),
		Clients:   store.Clients(),
		Channels:  store.Channels(),
		Rules:     store.ReminderRules(),
		History:   store.History(),
	}
}

type App struct {
	Config *config.Config
	Log    zerolog.Logger

	DB        *sql.DB
	Repos     Repos
	Queue     queue.Queue
	Recorder  *history.Recorder
	Channel   channel.Client
	Engine    *dispatch.Engine
	Service   *service.DispatchService
	Reminders *reminder.Producer

	closers []func() error
}

// New opens every dependency named by cfg. On error, whatever was opened
// is closed again.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	switch cfg.Database.Driver {
	case "memory":
		a.Repos = MemoryRepos(memstore.New())
		log.Warn().Msg("using the in-memory datastore; nothing survives a restart")
	default:
		if a.DB, err = db.Open(ctx, cfg.Database.URL, log); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.DB.Close)
		a.Repos = PostgresRepos(a.DB)
	}

	switch cfg.Queue.Driver {
	case "amqp":
		q, err := queue.DialAMQP(cfg.Queue.URL, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		a.Queue = q
	default:
		a.Queue = queue.NewInMemoryQueue(log)
	}

	sink := a.Repos.History
	if cfg.History.SQLitePath != "" {
		s, err := history.OpenSQLite(ctx, cfg.History.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open history journal: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		sink = s
	}
	a.Recorder = history.NewRecorder(sink, a.Queue, log)

	a.Channel = channel.NewHTTPClient(cfg.Channel.BaseURL, cfg.Channel.Token, cfg.Channel.TimeoutDuration(), a.Repos.Channels)

	a.Engine = dispatch.New(dispatch.Deps{
		Sends:     a.Repos.Sends,
		Posts:     a.Repos.Posts,
		Campaigns: a.Repos.Campaigns,
		Clients:   a.Repos.Clients,
		Settings:  a.Repos.Channels,
		Channel:   a.Channel,
		History:   a.Recorder,
	}, DispatchConfig(cfg.Dispatch), log)

	a.Service = &service.DispatchService{
		SendRepo:     a.Repos.Sends,
		PostRepo:     a.Repos.Posts,
		CampaignRepo: a.Repos.Campaigns,
		ClientRepo:   a.Repos.Clients,
		History:      a.Recorder,
		Dispatcher:   a.Engine,
		Log:          log.With().Str("component", "service").Logger(),
	}

	loc, err := cfg.Reminder.Location()
	if err != nil {
		return nil, err
	}
	a.Reminders = reminder.New(a.Repos.Rules, a.Repos.Clients, a.Repos.Sends, loc, log)
	return a, nil
}

func DispatchConfig(c config.DispatchConfig) dispatch.Config {
	return dispatch.Config{
		BatchSize:              c.BatchSize,
		Lease:                  c.LeaseDuration(),
		SendDelay:              c.SendDelayDuration(),
		MaxContactsPerTick:     c.MaxContactsPerTick,
		MaxConcurrentInstances: c.MaxConcurrentInstances,
	}
}

// ApplyConfig takes the parts of a reloaded config that can change at
// runtime. Datastore, queue and listen address need a restart.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Engine.SetConfig(DispatchConfig(cfg.Dispatch))
	logging.SetLevel(cfg.Log.Level)
	a.Log.Info().Str("level", cfg.Log.Level).Msg("runtime config applied")
}

// StartWorker runs the dispatch tick, the reminder producer and the
// history event logger until the returned stop function is called.
func (a *App) StartWorker(ctx context.Context) (func(), error) {
	if err := queue.StartHistoryLogger(a.Queue, a.Log); err != nil {
		return nil, fmt.Errorf("subscribe history events: %w", err)
	}

	trigger, err := dispatch.NewTrigger(ctx, a.Config.Dispatch.TickSchedule, a.Engine, a.Log)
	if err != nil {
		return nil, err
	}
	if a.Config.Reminder.Enabled {
		if err := a.Reminders.Schedule(ctx, trigger, a.Config.Reminder.Schedule); err != nil {
			return nil, err
		}
	}
	trigger.Start()

	return func() {
		<-trigger.Stop().Done()
		a.Log.Info().Msg("dispatch trigger stopped")
	}, nil
}

func (a *App) HealthChecks() map[string]handler.Check {
	checks := map[string]handler.Check{}
	if a.DB != nil {
		checks["database"] = a.DB.PingContext
	}
	return checks
}

// Close releases dependencies in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
