package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_gc_bot/internal/config"
	"github.com/vitos/crypto_gc_bot/internal/domain"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_gc_bot/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	csvPath := flag.String("csv", "", "read candles from a CSV file instead of the candle cache")
	bars := flag.Int("bars", 0, "limit the series to the most recent N bars (0 = all cached)")
	keepOpen := flag.Bool("keep-open", false, "do not force-close an open position on the last bar")
	sharpeFactor := flag.Float64("sharpe-factor", 0, "Sharpe annualization factor (0 = sqrt of trade count)")
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

	ctx := context.Background()

	var candles []domain.Candle
	if *csvPath != "" {
		candles, err = readCandlesCSV(*csvPath)
		if err != nil {
			log.Fatal("Failed to read candle CSV", zap.String("path", *csvPath), zap.Error(err))
		}
	} else {
		store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
		if err != nil {
			log.Fatal("Failed to init sqlite", zap.Error(err))
		}
		defer store.Close()
		candles, err = store.GetCandles(ctx, cfg.Trading.Symbol, *bars)
		if err != nil {
			log.Fatal("Failed to load cached candles", zap.Error(err))
		}
	}
	if *bars > 0 && len(candles) > *bars {
		candles = candles[len(candles)-*bars:]
	}

	log.Info("Running backtest",
		zap.String("symbol", cfg.Trading.Symbol),
		zap.Int("bars", len(candles)))

	engine := usecase.NewBacktestEngine(cfg.Trading.Symbol)
	result, err := engine.Run(ctx, candles, usecase.BacktestConfig{
		Engine:          cfg.EngineParams(),
		Execution:       cfg.ExecutorConfig(),
		ForceCloseAtEnd: !*keepOpen,
		SharpeFactor:    *sharpeFactor,
	})
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal("Failed to encode result", zap.Error(err))
	}
	fmt.Println(string(out))
}

// readCandlesCSV parses ts,open,high,low,close,volume rows. The ts
// column accepts unix seconds or RFC3339; a header row is skipped.
func readCandlesCSV(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var candles []domain.Candle
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			vals[i], err = strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		candles = append(candles, domain.Candle{
			Time:   ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return candles, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return t.UTC(), nil
}
