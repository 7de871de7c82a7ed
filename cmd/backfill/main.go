package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_gc_bot/internal/config"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_gc_bot/internal/usecase"
	"go.uber.org/zap"
)

// Backfill pulls confirmed hourly candles from the exchange into the
// local candle cache so backtests can run offline.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	bars := flag.Int("bars", 720, "number of recent bars to fetch (max 1000)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *bars < 1 || *bars > 1000 {
		log.Fatal("bars must be between 1 and 1000", zap.Int("bars", *bars))
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	bybitAdapter := exchange.NewBybitAdapter(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint,
		cfg.Exchange.WSEndpoint,
		log,
	)

	candleService := usecase.NewCandleService(bybitAdapter, store, usecase.CandleServiceConfig{})

	candles, err := candleService.FetchLatest(context.Background(), cfg.Trading.Symbol, *bars)
	if err != nil {
		log.Fatal("Backfill failed", zap.Error(err))
	}

	log.Info("Backfill complete",
		zap.String("symbol", cfg.Trading.Symbol),
		zap.Int("bars", len(candles)),
		zap.Time("from", candles[0].Time),
		zap.Time("to", candles[len(candles)-1].Time))
}
