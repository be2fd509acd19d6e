package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/cloudwego/eino/components/tool"
	"github.com/urfave/cli/v3"

	agentcb "github.com/dohr-michael/fintellix/internal/callbacks"
	"github.com/dohr-michael/fintellix/internal/config"
	"github.com/dohr-michael/fintellix/internal/conversations"
	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/marketdata"
	"github.com/dohr-michael/fintellix/internal/providers"
	"github.com/dohr-michael/fintellix/internal/session"
	"github.com/dohr-michael/fintellix/internal/settings"
	"github.com/dohr-michael/fintellix/internal/subjects"
	"github.com/dohr-michael/fintellix/internal/tasks"
)

// app is the wired set of components shared by the commands.
type app struct {
	cfg       *config.Config
	bus       *events.Bus
	settings  *settings.Store
	registry  *providers.Registry
	store     conversations.Store
	scheduler *tasks.Scheduler
	ctrl      *session.Controller
	refresher *marketdata.Refresher
}

// loadConfig reads the --config file, falling back to defaults when it does
// not exist.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("config not found, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// newApp wires every component. With landOnComplete, finished jobs are
// landed into their conversation as soon as they complete.
func newApp(cmd *cli.Command, landOnComplete bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.bus = events.NewBus(cfg.Events.BufferSize)
	agentcb.Install(a.bus)
	a.settings = settings.Open(config.SettingsPath())
	a.settings.OnChange(func(s settings.Settings) {
		a.bus.Publish(events.NewTypedEvent(events.SourceSettings, events.SettingsChangedPayload{
			Provider:     s.LLMProvider,
			Model:        s.SelectedModel,
			BeginnerMode: s.BeginnerMode,
			WebSearch:    s.WebSearch,
		}))
	})

	source := marketdata.NewHTTPSource(cfg.Refresh.SourceURL, 0)
	var extra []tool.InvokableTool
	if ht := marketdata.NewHistoryTool(source, cfg.Refresh.Limit); ht != nil {
		extra = append(extra, ht)
	}
	a.registry = providers.NewDefaultRegistry(cfg.Providers, providers.NewToolset(cfg.Tools.WebSearch, extra...))

	a.store, err = conversations.Open(cfg.Storage.Driver, cfg.Storage.Dir)
	if err != nil {
		a.bus.Close()
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	runner := tasks.NewProviderRunner(a.registry, func() tasks.Prefs {
		cur := a.settings.Current()
		return tasks.Prefs{BeginnerMode: cur.BeginnerMode, WebSearch: cur.WebSearch}
	})
	schedCfg := tasks.Config{Workers: cfg.Scheduler.Workers, Runner: runner, Bus: a.bus}
	if landOnComplete {
		schedCfg.OnComplete = func(res tasks.Result) {
			if _, err := a.ctrl.Tick(string(res.Subject)); err != nil {
				slog.Error("land finished job", "subject", res.Subject, "error", err)
			}
		}
	}
	a.scheduler = tasks.NewScheduler(schedCfg)

	var schedule *marketdata.Schedule
	if cfg.Refresh.Cron != "" {
		schedule, err = marketdata.ParseSchedule(cfg.Refresh.Cron)
		if err != nil {
			a.closeStore()
			a.bus.Close()
			return nil, err
		}
	}

	a.ctrl = session.New(session.Config{
		Store:     a.store,
		Scheduler: a.scheduler,
		Registry:  a.registry,
		Settings:  a.settings,
		Bus:       a.bus,
		OnNewSubject: func(k subjects.Key) {
			a.refresher.Track(k)
		},
	})
	a.refresher = marketdata.NewRefresher(marketdata.Config{
		Source:   source,
		Target:   a.ctrl,
		Bus:      a.bus,
		Schedule: schedule,
		Limit:    cfg.Refresh.Limit,
	})

	a.scheduler.Start()
	return a, nil
}

func (a *app) closeStore() {
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close conversation store", "error", err)
		}
	}
}

// Close stops background work, then releases storage.
func (a *app) Close() {
	a.refresher.Stop()
	a.scheduler.Stop()
	// Jobs failed by Stop still get their message.
	if _, err := a.ctrl.TickAll(); err != nil {
		slog.Warn("land results on shutdown", "error", err)
	}
	a.closeStore()
	a.bus.Close()
}
