package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_gc_bot/internal/config"
	"github.com/vitos/crypto_gc_bot/internal/domain"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/notify"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/statestore"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_gc_bot/internal/usecase"
	"github.com/vitos/crypto_gc_bot/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	// 1. Load Config (.env overlays secrets)
	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Bybit)
	bybitAdapter := exchange.NewBybitAdapter(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint,
		cfg.Exchange.WSEndpoint,
		log,
	)
	if cfg.Exchange.Name != bybitAdapter.Name() {
		log.Fatal("Configured exchange does not match the wired adapter",
			zap.String("configured", cfg.Exchange.Name),
			zap.String("adapter", bybitAdapter.Name()))
	}

	// 5. Init State Store
	fileStore, err := statestore.NewFileStore(cfg.State.Path, cfg.LockTimeout(), log)
	if err != nil {
		log.Fatal("Failed to init state store", zap.Error(err))
	}

	// 6. Init Services
	executor, err := usecase.NewOrderExecutor(cfg.ExecutorConfig(), bybitAdapter)
	if err != nil {
		log.Fatal("Failed to init order executor", zap.Error(err))
	}
	engine, err := usecase.NewPositionEngine(cfg.EngineParams(), executor, fileStore, cfg.Trading.Symbol)
	if err != nil {
		log.Fatal("Failed to init position engine", zap.Error(err))
	}
	candleService := usecase.NewCandleService(bybitAdapter, store, usecase.CandleServiceConfig{})
	svc, err := usecase.NewTradingService(
		engine, fileStore, candleService, store,
		cfg.Trading.Symbol, domain.OrderMode(cfg.Trading.Mode), cfg.Trading.LookbackBars, log,
	)
	if err != nil {
		log.Fatal("Failed to init trading service", zap.Error(err))
	}
	metrics := usecase.NewMetricsService(store)
	notifier := notify.NewNotifier(notify.Config{
		WebhookURL: cfg.Notify.WebhookURL,
		Username:   cfg.Notify.Username,
	}, log)

	log.Info("Bot starting",
		zap.String("symbol", cfg.Trading.Symbol),
		zap.String("mode", cfg.Trading.Mode),
		zap.String("exchange", cfg.Exchange.Name))

	if *once {
		if err := runCycle(context.Background(), svc, metrics, notifier, cfg.Trading.Symbol, log); err != nil {
			log.Fatal("Cycle failed", zap.Error(err))
		}
		return
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 7. Web server (read-only status API)
	var server *web.Server
	if cfg.Server.Port > 0 {
		server = web.NewServer(cfg.Server.Port, cfg.Trading.Symbol, fileStore, store, store, log)
		go func() {
			if err := server.Start(); err != nil {
				log.Error("Web server stopped", zap.Error(err))
			}
		}()
	}

	// 8. WS safety monitor: TP/SL checks between bars on streamed trades
	var priceMu sync.Mutex
	var lastPrice float64
	bybitAdapter.OnTradeUpdate(func(symbol string, side string, size float64, price float64) {
		if symbol != cfg.Trading.Symbol {
			return
		}
		priceMu.Lock()
		lastPrice = price
		priceMu.Unlock()
	})
	if err := bybitAdapter.Subscribe([]string{cfg.Trading.Symbol}); err != nil {
		log.Warn("WS subscribe failed, safety monitor disabled", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				priceMu.Lock()
				price := lastPrice
				priceMu.Unlock()
				if price <= 0 {
					continue
				}
				closeRes, err := svc.CheckSafety(context.Background(), price)
				if err != nil {
					if errors.Is(err, domain.ErrLockHeld) {
						continue // hourly cycle is running, it will check exits itself
					}
					log.Error("Safety check failed", zap.Error(err))
					continue
				}
				if closeRes != nil {
					log.Info("Safety monitor closed position",
						zap.String("reason", string(closeRes.Reason)),
						zap.Float64("price", closeRes.Fill.Price),
						zap.Float64("pnl", closeRes.Record.PnL))
					notifier.NotifyClose(context.Background(), cfg.Trading.Symbol,
						string(closeRes.Reason), closeRes.Fill.Price,
						closeRes.Fill.Quantity, closeRes.Record.PnL, 0)
				}
			}
		}
	}()

	// 9. Hourly cycle loop, aligned to the bar boundary
	go func() {
		for {
			wait := nextCycleDelay(time.Now().UTC())
			log.Info("Next cycle scheduled", zap.Duration("in", wait))
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
			if err := runCycle(context.Background(), svc, metrics, notifier, cfg.Trading.Symbol, log); err != nil {
				log.Error("Cycle failed", zap.Error(err))
				notifier.NotifyError(context.Background(), "cycle", err.Error())
			}
		}
	}()

	// Run one cycle immediately so a restart never waits a full hour.
	if err := runCycle(context.Background(), svc, metrics, notifier, cfg.Trading.Symbol, log); err != nil {
		log.Error("Initial cycle failed", zap.Error(err))
		notifier.NotifyError(context.Background(), "cycle", err.Error())
	}

	<-stop
	log.Info("Shutting down...")
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("Web server shutdown failed", zap.Error(err))
		}
	}
}

// nextCycleDelay waits until shortly after the next hour boundary so
// the exchange has the just-closed bar available.
func nextCycleDelay(now time.Time) time.Duration {
	next := now.Truncate(time.Hour).Add(time.Hour + 15*time.Second)
	return next.Sub(now)
}

func runCycle(
	ctx context.Context,
	svc *usecase.TradingService,
	metrics *usecase.MetricsService,
	notifier *notify.Notifier,
	symbol string,
	log *zap.Logger,
) error {
	res, err := svc.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientHistory) {
			log.Warn("Not enough candles yet, skipping cycle", zap.Error(err))
			return nil
		}
		return err
	}

	log.Info("Cycle complete",
		zap.Time("bar_ts", res.Signal.BarTime),
		zap.Bool("cross", res.Signal.IsCross),
		zap.Bool("suppressed", res.Signal.Suppressed),
		zap.Float64("price", res.Signal.Price),
		zap.String("status", string(res.State.Status)),
		zap.Float64("pnl_cum", res.State.RealizedPnL))

	if res.Signal.IsCross && !res.Signal.Suppressed {
		notifier.NotifyCross(ctx, symbol, res.Signal.BarTime, res.Signal.Price,
			res.Signal.ShortSMA, res.Signal.LongSMA)
	}
	if res.Order != nil {
		log.Info("Opened position",
			zap.Float64("price", res.Order.Fill.Price),
			zap.Float64("qty", res.Order.Fill.Quantity),
			zap.Float64("tp", res.Order.TakeProfit),
			zap.Float64("sl", res.Order.StopLoss))
		notifier.NotifyEntry(ctx, symbol, res.Order.Fill.Price, res.Order.Fill.Quantity,
			res.Order.TakeProfit, res.Order.StopLoss)
	}
	if res.Close != nil {
		log.Info("Closed position",
			zap.String("reason", string(res.Close.Reason)),
			zap.Float64("price", res.Close.Fill.Price),
			zap.Float64("pnl", res.Close.Record.PnL))
		notifier.NotifyClose(ctx, symbol, string(res.Close.Reason), res.Close.Fill.Price,
			res.Close.Fill.Quantity, res.Close.Record.PnL, res.State.RealizedPnL)
	}

	date := res.Signal.BarTime.UTC().Format("2006-01-02")
	if _, err := metrics.WriteDaily(ctx, date, res.State.RealizedPnL); err != nil {
		log.Warn("Writing daily metrics", zap.Error(err))
	}
	return nil
}
