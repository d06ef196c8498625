package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lending-rate-engine/internal/alerting"
	"lending-rate-engine/internal/config"
	"lending-rate-engine/internal/interest"
	"lending-rate-engine/internal/pool"
	"lending-rate-engine/internal/scheduler"
	"lending-rate-engine/internal/service"
	"lending-rate-engine/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() pool.StateFetcher {
	return pool.NewChain(pool.ChainOptions{
		RPCURL:  a.Config.Pool.RPCURL,
		Timeout: a.Config.Pool.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var channels alerting.Fanout
	if a.Config.Alerting.Webhook.Enabled {
		cfg := a.Config.Alerting.Webhook
		channels = append(channels, alerting.NewWebhookNotifier(cfg.URL, cfg.Timeout, a.Logger))
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pgPool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pgPool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running accrual service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var events storage.CurveEventStore
	var states storage.CurveStateStore
	var samples storage.AccrualSampleStore
	if store != nil {
		events = store
		states = store
		samples = store
	}

	recorder := service.NewEventRecorder(events, a.Logger)
	registry, cap := interest.NewRegistry(a.Config.App.Name, recorder, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, registry, cap, a.newFetcher(), states, samples, a.newNotifier(), a.Logger)
	if err := svc.Bootstrap(ctx); err != nil {
		return err
	}

	a.Logger.Info().Int("assets", len(a.Config.Assets)).Msg("starting accrual service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("accrual service stopped")
	return nil
}

// SimulateOptions configure an offline kernel run.
type SimulateOptions struct {
	AssetKey string
	Deposits string
	Borrows  string
	Steps    int
	Step     time.Duration
}

// CurveOptions configure the rate-curve sweep.
type CurveOptions struct {
	Window  time.Duration
	Points  int
	CSVPath string
	PNGPath string
}

// ExportOptions hold parameters for exporting the accrual history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Events bool
}
