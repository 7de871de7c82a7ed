package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok", "symbol": s.symbol})
}

// handlePosition reads the persisted state without taking the lock:
// the atomic replace on save means we always see a complete record.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	state, err := s.stateStore.Load()
	if err != nil {
		s.logger.Error("Failed to load position state", zap.Error(err))
		http.Error(w, "Failed to load position state", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, state)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	entries, err := s.tradeRepo.ListTradeLog(r.Context(), s.symbol, queryLimit(r, 100))
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.tradeRepo.ListPositionHistory(r.Context(), queryLimit(r, 100))
	if err != nil {
		s.logger.Error("Failed to list position history", zap.Error(err))
		http.Error(w, "Failed to list position history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, records)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	candles, err := s.candleRepo.GetCandles(r.Context(), s.symbol, queryLimit(r, 200))
	if err != nil {
		s.logger.Error("Failed to load candles", zap.Error(err))
		http.Error(w, "Failed to load candles", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, candles)
}

func queryLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
