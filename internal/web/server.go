package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_gc_bot/internal/domain"
	"go.uber.org/zap"
)

// Server exposes a read-only JSON view of the bot: position state,
// trade history, cached candles. Downstream dashboards consume the
// same trade-log format the repositories persist.
type Server struct {
	router     *http.ServeMux
	server     *http.Server
	symbol     string
	stateStore domain.StateStore
	candleRepo domain.CandleRepository
	tradeRepo  domain.TradeRepository
	logger     *zap.Logger
}

func NewServer(
	port int,
	symbol string,
	stateStore domain.StateStore,
	candleRepo domain.CandleRepository,
	tradeRepo domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		symbol:     symbol,
		stateStore: stateStore,
		candleRepo: candleRepo,
		tradeRepo:  tradeRepo,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /api/position", s.handlePosition)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/history", s.handleHistory)
	s.router.HandleFunc("GET /api/candles", s.handleCandles)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
