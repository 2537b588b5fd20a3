package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"fractalTrader/config"
	"fractalTrader/internal/adapters/binanceclient"
	"fractalTrader/internal/adapters/logger"
	"fractalTrader/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "instrument to fetch")
	interval := flag.String("interval", "", "candle interval (defaults to CANDLE_INTERVAL)")
	days := flag.Int("days", 30, "days of history to fetch")
	outDir := flag.String("out", "data", "output directory")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *interval == "" {
		*interval = cfg.CandleInterval
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	sym := strings.ToUpper(*symbol)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)
	ctx := context.Background()

	appLogger.Info(ctx, "Fetching candles", map[string]interface{}{
		"symbol":   sym,
		"interval": *interval,
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
	})
	candles, err := binanceClient.GetCandlesRange(ctx, sym, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching candles")
		log.Fatalf("Error fetching candles: %v", err)
	}
	appLogger.Info(ctx, "Fetched candles", map[string]interface{}{"count": len(candles)})

	filename := fmt.Sprintf("%s/%s_%s_%s_to_%s.csv", *outDir, sym, *interval, start.Format("20060102"), end.Format("20060102"))
	if err := utils.WriteCandlesToCSV(candles, sym, *interval, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved candles", map[string]interface{}{"filename": filename})
}
