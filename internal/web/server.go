// Package web exposes the swap service over HTTP: wallet and history reads,
// deposits, swap execution and an SSE stream of settled swap events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
	"github.com/vadiminshakov/obmen/internal/notify"
	"go.uber.org/zap"
)

type swapExecutor interface {
	Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapRecord, error)
}

type walletLedger interface {
	Balances(userID string) (map[string]decimal.Decimal, error)
	Deposit(userID, asset string, amount decimal.Decimal) (map[string]decimal.Decimal, error)
}

type historyReader interface {
	ListFor(userID string, limit int) []domain.SwapRecord
}

// Server exposes HTTP endpoints over the engine, ledger and history store.
type Server struct {
	Addr        string
	Engine      swapExecutor
	Ledger      walletLedger
	History     historyReader
	Broadcaster *notify.Broadcaster
	Logger      *zap.Logger
}

// NewServer creates a new web server instance. broadcaster may be nil, which
// disables the event stream.
func NewServer(addr string, engine swapExecutor, ledger walletLedger, history historyReader,
	broadcaster *notify.Broadcaster, logger *zap.Logger) *Server {

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:        addr,
		Engine:      engine,
		Ledger:      ledger,
		History:     history,
		Broadcaster: broadcaster,
		Logger:      logger,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the route table. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /swaps", s.handleSwap)
	mux.HandleFunc("POST /deposits", s.handleDeposit)
	mux.HandleFunc("GET /balances", s.handleBalances)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	return mux
}

type swapPayload struct {
	UserID         string          `json:"user_id"`
	FromAsset      string          `json:"from_asset"`
	FromAmount     decimal.Decimal `json:"from_amount"`
	ToAsset        string          `json:"to_asset"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var payload swapPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	record, err := s.Engine.Execute(r.Context(), domain.SwapRequest{
		UserID:         payload.UserID,
		FromAsset:      payload.FromAsset,
		FromAmount:     payload.FromAmount,
		ToAsset:        payload.ToAsset,
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		s.Logger.Error("swap request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "swap could not be recorded")
		return
	}

	writeJSON(w, statusFor(record), record)
}

// statusFor maps a settled record's outcome to an HTTP status. Rejections are
// well-formed responses, not transport errors, so the record body is always
// sent.
func statusFor(record domain.SwapRecord) int {
	if record.Succeeded() {
		return http.StatusOK
	}
	switch record.Reason {
	case domain.ReasonInvalidRequest, domain.ReasonInvalidAsset:
		return http.StatusBadRequest
	case domain.ReasonInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.ReasonRateUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type depositPayload struct {
	UserID string          `json:"user_id"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var payload depositPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	balances, err := s.Ledger.Deposit(payload.UserID, payload.Asset, payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, balancesView(balances))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user query param is required")
		return
	}

	balances, err := s.Ledger.Balances(userID)
	if err != nil {
		s.Logger.Error("load balances", zap.String("user", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load balances")
		return
	}

	writeJSON(w, http.StatusOK, balancesView(balances))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user query param is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	records := s.History.ListFor(userID, limit)
	if records == nil {
		records = []domain.SwapRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events := s.Broadcaster.Subscribe()
	defer s.Broadcaster.Unsubscribe(events)

	// comment heartbeat every 30s so proxies keep the connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.Logger.Warn("marshal stream event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: swap\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func balancesView(balances map[string]decimal.Decimal) map[string]string {
	view := make(map[string]string, len(balances))
	for asset, amount := range balances {
		view[asset] = amount.String()
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
