// Package api serves run results over HTTP: available symbols, on-demand
// backtests, trade history, and live run results.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/engine"
	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/pkg/errors"
)

const dateLayout = "2006-01-02"

// BacktestFactory builds and runs a backtest for the requested symbol and
// range, returning the finished engine. The server owns the returned
// engine until the next backtest replaces it.
type BacktestFactory func(ctx context.Context, symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) (engine.TradingEngine, error)

// Server exposes the trading results API.
type Server struct {
	logger      *logger.Logger
	symbols     []string
	runBacktest BacktestFactory

	mu          sync.Mutex
	lastEngine  engine.TradingEngine
	liveEngines map[string]engine.TradingEngine

	httpServer *http.Server
}

// NewServer creates the API server. The symbol list is what
// /available-symbols serves; the factory handles /backtesting-results.
func NewServer(addr string, symbols []string, factory BacktestFactory, log *logger.Logger) *Server {
	server := &Server{
		logger:      log,
		symbols:     symbols,
		runBacktest: factory,
		liveEngines: make(map[string]engine.TradingEngine),
	}

	router := mux.NewRouter()
	router.HandleFunc("/available-symbols", server.handleAvailableSymbols).Methods(http.MethodGet)
	router.HandleFunc("/backtesting-results", server.handleBacktestingResults).Methods(http.MethodGet)
	router.HandleFunc("/trade-history", server.handleTradeHistory).Methods(http.MethodGet)
	router.HandleFunc("/live-trading-results/{mode}", server.handleLiveTradingResults).Methods(http.MethodGet)
	router.Use(corsMiddleware)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// Router returns the HTTP handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

// RegisterLiveEngine makes a running live engine's results available
// under /live-trading-results/{mode}. Mode is "actual" or "virtual".
func (s *Server) RegisterLiveEngine(mode string, eng engine.TradingEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liveEngines[mode] = eng
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// The status line is already written; an encode failure here has
	// nowhere to go.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleAvailableSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": s.symbols})
}

func (s *Server) handleBacktestingResults(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	symbol := query.Get("symbol")
	if symbol == "" && len(s.symbols) > 0 {
		symbol = s.symbols[0]
	}

	start := optional.None[time.Time]()

	if raw := query.Get("start_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date, expected YYYY-MM-DD")

			return
		}

		start = optional.Some(parsed)
	}

	end := optional.None[time.Time]()

	if raw := query.Get("end_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date, expected YYYY-MM-DD")

			return
		}

		end = optional.Some(parsed)
	}

	eng, err := s.runBacktest(r.Context(), symbol, start, end)
	if err != nil {
		s.logger.Error("Backtest failed", zap.String("symbol", symbol), zap.Error(err))

		status := http.StatusInternalServerError
		if errors.HasCode(err, errors.ErrCodeInvalidRange) || errors.HasCode(err, errors.ErrCodeInvalidParameter) {
			status = http.StatusBadRequest
		}

		writeError(w, status, err.Error())

		return
	}

	s.mu.Lock()

	if s.lastEngine != nil {
		s.lastEngine.Close()
	}

	s.lastEngine = eng
	s.mu.Unlock()

	results, err := eng.Results(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	eng := s.lastEngine
	s.mu.Unlock()

	if eng == nil {
		writeError(w, http.StatusBadRequest, "no backtest has been run yet")

		return
	}

	history, err := eng.TradeHistory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleLiveTradingResults(w http.ResponseWriter, r *http.Request) {
	mode := mux.Vars(r)["mode"]
	if mode != "actual" && mode != "virtual" {
		writeError(w, http.StatusBadRequest, "invalid mode")

		return
	}

	s.mu.Lock()
	eng, ok := s.liveEngines[mode]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "no live run registered for mode "+mode)

		return
	}

	results, err := eng.Results(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, results)
}
