// Package app wires every component together and manages the service
// lifecycle: credential store, pacing clocks, platform clients, fetchers,
// matcher, key cache, orchestrator, scheduler, notifier, and the HTTP
// façade.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"skindiff/internal/config"
	"skindiff/internal/fetch"
	"skindiff/internal/keycache"
	"skindiff/internal/match"
	"skindiff/internal/metrics"
	"skindiff/internal/notify"
	"skindiff/internal/pacing"
	"skindiff/internal/platform/buff"
	"skindiff/internal/platform/youpin"
	"skindiff/internal/query"
	"skindiff/internal/refresh"
	"skindiff/internal/server"
	"skindiff/internal/server/handler"
	"skindiff/internal/server/ws"
	"skindiff/internal/settings"
	"skindiff/internal/token"
)

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and blocks serving until the context is
// cancelled, then shuts the HTTP server down gracefully.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	// --- Persistent state ---
	tokens, err := token.Open(cfg.Storage.TokensFile)
	if err != nil {
		return fmt.Errorf("app: open token store: %w", err)
	}
	keys, err := keycache.Open(cfg.Storage.KeysFile, logger)
	if err != nil {
		return fmt.Errorf("app: open key cache: %w", err)
	}

	// --- Runtime settings, seeded from the bootstrap config ---
	settingsStore := settings.NewStore(settings.Settings{
		DiffMin:           cfg.Analysis.DiffMin,
		DiffMax:           cfg.Analysis.DiffMax,
		BuffPriceMin:      cfg.Analysis.BuffPriceMin,
		BuffPriceMax:      cfg.Analysis.BuffPriceMax,
		MaxOutput:         cfg.Analysis.MaxOutput,
		BuffMaxPages:      cfg.Analysis.BuffMaxPages,
		YoupinMaxPages:    cfg.Analysis.YoupinMaxPages,
		BuffPageSize:      cfg.Analysis.BuffPageSize,
		YoupinPageSize:    cfg.Analysis.YoupinPageSize,
		BuffMinDelaySec:   cfg.Analysis.BuffMinDelay.Seconds(),
		YoupinMinDelaySec: cfg.Analysis.YoupinMinDelay.Seconds(),
		FullIntervalSec:   int(cfg.Analysis.FullInterval.Seconds()),
		IncrIntervalSec:   int(cfg.Analysis.IncrInterval.Seconds()),
	})
	settingsStore.OnFilterChange(keys.Clear)

	// --- Telemetry and alerting ---
	m := metrics.New()

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Pacing clocks and platform clients ---
	snap := settingsStore.Snapshot()
	buffPacer := pacing.New("buff", snap.BuffMinDelay())
	youpinPacer := pacing.New("youpin", snap.YoupinMinDelay())
	settingsStore.OnDelayChange(func(b, y time.Duration) {
		buffPacer.SetMinInterval(b)
		youpinPacer.SetMinInterval(y)
	})

	buffClient := buff.NewClient(buff.Config{
		BaseURL:         cfg.Buff.BaseURL,
		RequestTimeout:  cfg.Buff.RequestTimeout.Duration,
		MaxConnsPerHost: cfg.Buff.MaxConnsPerHost,
		MaxRetries:      cfg.Buff.MaxRetries,
	}, tokens, buffPacer, m, logger)
	youpinClient := youpin.NewClient(youpin.Config{
		BaseURL:         cfg.Youpin.BaseURL,
		RequestTimeout:  cfg.Youpin.RequestTimeout.Duration,
		MaxConnsPerHost: cfg.Youpin.MaxConnsPerHost,
		MaxRetries:      cfg.Youpin.MaxRetries,
	}, tokens, youpinPacer, m, logger)

	// --- Pipeline ---
	orch := refresh.NewOrchestrator(
		fetch.New(buffClient, m, logger),
		fetch.New(youpinClient, m, logger),
		match.New(logger),
		settingsStore,
		keys,
		m,
		notifier,
		logger,
	)

	sched := refresh.NewScheduler(orch, snap.FullInterval(), snap.IncrInterval(), logger)
	settingsStore.OnCadenceChange(sched.SetCadences)

	// --- HTTP façade ---
	hub := ws.NewHub(logger)
	orch.OnProgress(hub.Publish)

	querySvc := query.New(orch, sched, keys)
	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		BasePath:    cfg.Server.BasePath,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(),
		Items:    handler.NewItemsHandler(querySvc),
		Update:   handler.NewUpdateHandler(orch, ctx, logger),
		Settings: handler.NewSettingsHandler(settingsStore),
		Tokens:   handler.NewTokensHandler(tokens, buffClient, youpinClient),
		Metrics:  m.Handler(),
	}, hub, logger)

	sched.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := hub.Run(gctx)
		if gctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		orch.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
