package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"fractalTrader/config"
	"fractalTrader/internal/adapters/binanceclient"
	"fractalTrader/internal/adapters/kafkapub"
	"fractalTrader/internal/adapters/logger"
	"fractalTrader/internal/adapters/metrics"
	"fractalTrader/internal/adapters/redisstore"
	"fractalTrader/internal/adapters/sqlite"
	"fractalTrader/internal/adapters/telegram"
	"fractalTrader/internal/app"
	"fractalTrader/internal/ports"
)

type closer interface {
	Close() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	if err := run(ctx, *cfg, appLogger); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Trading bot exited with error")
		appLogger.Sync()
		os.Exit(1)
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}

func run(ctx context.Context, cfg config.Config, appLogger *logger.ZapLogger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing resource")
			}
		}
	}()

	// 3. Initialize Store
	store, err := newStore(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	closers = append(closers, store)
	appLogger.Info(ctx, "Store initialized", map[string]interface{}{"backend": cfg.StoreBackend})

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	// 5. Initialize Publishers and Metrics
	var publishers []ports.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafkapub.New(kafkapub.Config{
			Brokers:    cfg.KafkaBrokers,
			Topic:      cfg.KafkaTopic,
			MaxRetries: cfg.MaxRetries,
			Logger:     appLogger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka publisher: %w", err)
		}
		closers = append(closers, pub)
		publishers = append(publishers, pub)
	}
	var notifier *telegram.Notifier
	if cfg.TelegramToken != "" {
		notifier, err = telegram.New(telegram.Config{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			Logger: appLogger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram notifier: %w", err)
		}
		closers = append(closers, notifier)
		publishers = append(publishers, notifier)
	}

	var recorder ports.MetricsRecorder = ports.NopMetrics{}
	if cfg.MetricsAddr != "" {
		rec := metrics.NewRecorder()
		recorder = rec
		go func() {
			if err := rec.Serve(ctx, cfg.MetricsAddr, appLogger); err != nil {
				appLogger.Error(context.Background(), err, "Metrics server stopped")
			}
		}()
	}

	// 6. Initialize Application Service
	tradingService, err := app.NewTradingService(app.Dependencies{
		Config:     cfg,
		Logger:     appLogger,
		Exchange:   binanceClient,
		Store:      store,
		Publishers: publishers,
		Metrics:    recorder,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize trading service: %w", err)
	}
	if notifier != nil {
		notifier.Listen(func() string { return tradingService.GetStatus().Summary() })
	}

	// 7. Start the Service and wait for a shutdown signal
	if !tradingService.Start(ctx) {
		return fmt.Errorf("trading service failed to start: %s", tradingService.GetStatus().LastError)
	}
	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tradingService.Stop(stopCtx)
	return nil
}

type kvStore interface {
	ports.Store
	closer
}

func newStore(ctx context.Context, cfg config.Config, appLogger ports.Logger) (kvStore, error) {
	switch cfg.StoreBackend {
	case "redis":
		return redisstore.New(ctx, redisstore.Config{
			Addr:   cfg.RedisAddr,
			Logger: appLogger,
		})
	default:
		return sqlite.NewStore(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
	}
}
