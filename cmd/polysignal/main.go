package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vov-code/polymarket-bot/internal/config"
	"github.com/vov-code/polymarket-bot/internal/fetch"
	"github.com/vov-code/polymarket-bot/internal/logger"
	"github.com/vov-code/polymarket-bot/internal/monitor"
	"github.com/vov-code/polymarket-bot/internal/polymarket"
	"github.com/vov-code/polymarket-bot/internal/state"
	"github.com/vov-code/polymarket-bot/internal/storage"
	"github.com/vov-code/polymarket-bot/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")
	once       = flag.Bool("once", false, "Run a single scan cycle and exit")
)

// logNotifier prints alerts when Telegram is disabled.
type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, text string) error {
	logger.Info("Alert:\n%s", text)
	return nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	overrides, err := config.LoadOverrides(cfg.Storage.OverridesFile)
	if err != nil {
		log.Fatalf("Failed to load overrides: %v", err)
	}
	overrideErrs := cfg.ApplyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)
	for _, e := range overrideErrs {
		logger.Warn("Ignoring override: %v", e)
	}
	if n := len(overrides) - len(overrideErrs); n > 0 {
		logger.Info("Applied %d overrides from %s", n, cfg.Storage.OverridesFile)
	}

	store, err := state.Load(cfg.Storage.StateFile, time.Now())
	if err != nil {
		logger.Warn("Starting with empty state: %v", err)
	}
	logger.Info("Loaded state with %d tracked markets (bootstrapped: %t)", len(store.Markets), store.Meta.Bootstrapped)

	var (
		journal *storage.Storage
		deps    monitor.Deps
	)
	if cfg.Storage.DBPath != "" {
		journal, err = storage.New(cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize journal: %v", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("Failed to close journal: %v", err)
			}
		}()
		deps.Journal = journal
	}

	httpClient, err := fetch.NewClient(cfg.ClientConfig())
	if err != nil {
		logger.Fatal("Failed to initialize HTTP client: %v", err)
	}
	router := fetch.NewRouter(
		httpClient,
		fetch.NewRetrier(cfg.RetryConfig(), fetch.Sleep),
		cfg.Polymarket.FallbackWindow,
		time.Now,
	)
	catalog := polymarket.NewCatalog(router, cfg.CatalogConfig(), time.Now)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
		deps.Notifier = telegramClient
	} else {
		logger.Debug("Telegram notifications disabled, alerts go to the log")
		deps.Notifier = logNotifier{}
	}

	deps.Source = catalog
	deps.Format = telegram.FormatSignal
	mon := monitor.New(store, cfg.MonitorConfig(), deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil && !*once {
		telegramClient.ListenForCommands(ctx, func(ctx context.Context) string {
			var (
				last   *storage.CycleRecord
				recent []storage.AlertRecord
			)
			if journal != nil {
				c, err := journal.LastCycle(ctx)
				if err != nil {
					logger.Warn("Failed to read last journaled cycle: %v", err)
				}
				last = c
				r, err := journal.RecentAlerts(ctx, 5)
				if err != nil {
					logger.Warn("Failed to read recent alerts: %v", err)
				}
				recent = r
			}
			return telegram.FormatStatus(mon.Status(), router.State(), router.ForcedUntil(), last, recent, time.Now())
		})
	}

	saveState := func() {
		if err := mon.Store().Save(cfg.Storage.StateFile); err != nil {
			logger.Error("Failed to save state: %v", err)
		}
	}

	consecutiveFailures := 0

	runCycle := func() {
		report, err := mon.RunCycle(ctx)
		saveState()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			consecutiveFailures++
			logger.Error("Scan cycle failed: %v", err)
			// A dead sink cannot deliver its own error notice.
			if consecutiveFailures == 1 && telegramClient != nil && !monitor.IsSinkFailure(err) {
				if sendErr := telegramClient.SendError(ctx, err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}

		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(ctx, consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
		logger.Info("Scan cycle completed: %d markets, %d new, %d signals, %d alerts sent, %d pruned",
			report.Markets, report.NewMarkets, report.Signals, report.AlertsSent, report.RemovedMarkets)
	}

	logger.Info("Starting scan service (interval: %v, events limit: %d, alerts per cycle: %d, cooldown: %v)",
		cfg.Polymarket.PollInterval,
		catalog.EffectiveLimit(),
		cfg.Alerts.MaxPerCycle,
		cfg.Alerts.Cooldown,
	)

	logger.Debug("Running initial scan cycle")
	runCycle()
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.Polymarket.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveState()
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled scan cycle")
			runCycle()
		}
	}
}
