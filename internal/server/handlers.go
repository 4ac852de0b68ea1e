package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Cocopuffff/TraderJoe/internal/modules/orders"
)

type contextKey string

const traderIDKey contextKey = "trader_id"

// traderMiddleware resolves the acting trader from the X-Trader-ID header.
// Identity verification lives in the gateway in front of this service; the
// header is trusted here.
func (s *Server) traderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-Trader-ID"), 10, 64)
		if err != nil || id <= 0 {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid X-Trader-ID header")
			return
		}

		ctx := context.WithValue(r.Context(), traderIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func traderID(r *http.Request) int64 {
	id, _ := r.Context().Value(traderIDKey).(int64)
	return id
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "traderjoe",
	})
}

// handleTriggerSync runs one reconciliation pass.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncService.Run(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleSyncStatus reports the orchestrator state and latest pass summary.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":       s.syncService.State().String(),
		"last_result": s.syncService.LastResult(),
	})
}

// handleCreateOrder submits a market order for the acting trader.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.TraderID = traderID(r)

	result, err := s.orderService.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, result)
}

// handleCloseAll closes every open trade of the acting trader.
func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	closed, err := s.orderService.CloseAllForTrader(r.Context(), traderID(r))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"closed": closed})
}

// handleAccountSummary returns the trader's cash figures and open trades.
func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reviewService.Summary(r.Context(), traderID(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// handleAllocate credits the trader's starting allocation once; repeated
// calls are no-ops.
func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	created, err := s.cashRepo.Allocate(traderID(r), s.cfg.InitialAllocation)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]interface{}{
		"created": created,
		"amount":  s.cfg.InitialAllocation,
	})
}

// handleTradeHistory returns the trader's closed trades.
func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	trades, stale, err := s.reviewService.History(r.Context(), traderID(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"stale":  stale,
	})
}

// handlePerformance returns the trader's windowed performance stats.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.reviewService.Performance(r.Context(), traderID(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, perf)
}

// handleListStrategies returns the trader's registered strategies.
func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := s.strategyRepo.ListByOwner(traderID(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, list)
}

type createStrategyRequest struct {
	Name       string `json:"name"`
	ScriptPath string `json:"script_path"`
}

// handleCreateStrategy registers a strategy for the acting trader.
func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.ScriptPath == "" {
		s.writeError(w, http.StatusBadRequest, "name and script_path are required")
		return
	}

	id, err := s.strategyRepo.Create(traderID(r), req.Name, req.ScriptPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// handleListSlots returns the trader's strategy slots.
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.strategyRepo.SlotsByTrader(traderID(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, slots)
}

// handleGetWatchlist returns the trader's watchlist.
func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.watchlistRepo.List(traderID(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, items)
}

type addWatchlistRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

// handleAddWatchlist adds an instrument to the trader's watchlist.
func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req addWatchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Name
	}
	if req.Type == "" {
		req.Type = "CURRENCY"
	}

	id, err := s.watchlistRepo.Add(traderID(r), req.Name, req.DisplayName, req.Type)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// handleDeleteWatchlist removes one of the trader's watchlist items.
func (s *Server) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid watchlist id")
		return
	}

	deleted, err := s.watchlistRepo.Delete(traderID(r), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "watchlist item not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
