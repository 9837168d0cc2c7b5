// Package webhook exposes the trading engine over HTTP for TradingView
// alerts and operational queries.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/minhle/hooktrader/internal/engine"
	"github.com/minhle/hooktrader/internal/journal"
	"github.com/minhle/hooktrader/internal/metrics"
	"github.com/minhle/hooktrader/internal/types"
)

// Config holds webhook server settings.
type Config struct {
	Addr           string
	AuthToken      string
	AllowedOrigins []string
}

// Server handles webhook and API requests.
type Server struct {
	cfg        Config
	engine     *engine.Engine
	logger     *slog.Logger
	recorder   *metrics.Recorder
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates a new webhook server.
func NewServer(cfg Config, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		engine:   eng,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		router:   mux.NewRouter(),
	}

	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Auth-Token"},
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/webhook/buy", s.instrument("/webhook/buy", s.authorized(s.handleBuy))).Methods(http.MethodPost)
	s.router.HandleFunc("/webhook/sell", s.instrument("/webhook/sell", s.authorized(s.handleSell))).Methods(http.MethodPost)
	s.router.HandleFunc("/bid-ask", s.instrument("/bid-ask", s.handleBidAsk)).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.instrument("/status", s.handleStatus)).Methods(http.MethodGet)
	s.router.HandleFunc("/history", s.instrument("/history", s.handleHistory)).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/quotes", s.handleQuoteStream).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting webhook server", "addr", s.cfg.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("webhook server error", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down webhook server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request logging and metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		next(rec, r)

		s.recorder.RecordWebhookRequest(endpoint, strconv.Itoa(rec.code))
		s.logger.Info("request served",
			"endpoint", endpoint,
			"method", r.Method,
			"code", rec.code,
			"duration", time.Since(started),
		)
	}
}

// authorized rejects trading requests without the configured token.
// An empty token disables the check.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.cfg.AuthToken {
				respondError(w, http.StatusUnauthorized, "invalid or missing auth token")
				return
			}
		}
		next(w, r)
	}
}

// buyRequest is the webhook buy payload. Quantity zero uses the configured
// default.
type buyRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Quantity < 0 {
		respondError(w, http.StatusBadRequest, "quantity must not be negative")
		return
	}

	result := s.engine.Buy(r.Context(), req.Quantity)
	respondResult(w, result)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	result := s.engine.CloseAllPositions(r.Context())
	respondResult(w, result)
}

func (s *Server) handleBidAsk(w http.ResponseWriter, r *http.Request) {
	quote, err := s.engine.Quote(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, quoteResponse(quote))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.engine.History(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []journal.ExecutionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// quoteView is the bid-ask response shape. Absent sides render as null.
type quoteView struct {
	Bid       *string   `json:"bid"`
	Ask       *string   `json:"ask"`
	Last      *string   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

func quoteResponse(q types.Quote) quoteView {
	view := quoteView{Timestamp: q.Timestamp}
	if q.HasBid {
		s := q.Bid.String()
		view.Bid = &s
	}
	if q.HasAsk {
		s := q.Ask.String()
		view.Ask = &s
	}
	if q.HasLast {
		s := q.Last.String()
		view.Last = &s
	}
	return view
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, errorResponse{Error: message})
}

// respondResult maps an aggregate result to an HTTP status. Failures are
// reported as 502 so the alerting side of TradingView notices.
func respondResult(w http.ResponseWriter, result types.AggregateResult) {
	code := http.StatusOK
	if !result.Success {
		code = http.StatusBadGateway
	}
	respondJSON(w, code, result)
}
