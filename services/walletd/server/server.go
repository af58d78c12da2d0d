// Package server exposes walletd's health, metrics and admin endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tronnode/registry"
	"tronnode/services/walletd/refresh"
	"tronnode/walletindex"
)

// Contracts lists the registered token contracts.
type Contracts interface {
	Contracts() []registry.Contract
	Len() int
}

// Refresher triggers a registry refresh.
type Refresher interface {
	Tick(ctx context.Context) refresh.Run
	Last() (refresh.Run, bool)
}

// IndexReader reports the next wallet index.
type IndexReader interface {
	NextWalletIndex(ctx context.Context) (int64, error)
}

// Config wires the server. A nil Auth disables the admin endpoints; Accounts and
// Wallets are optional.
type Config struct {
	ListenAddress string
	Contracts     Contracts
	Refresher     Refresher
	Index         IndexReader
	Accounts      Accounts
	Wallets       Wallets
	Auth          *Authenticator
	Logger        *slog.Logger
}

// Server hosts walletd's HTTP endpoints.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router http.Handler
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Contracts == nil || cfg.Refresher == nil || cfg.Index == nil {
		return nil, fmt.Errorf("contracts, refresher and index reader required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}
	s.router = otelhttp.NewHandler(s.routes(), "walletd")
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(s.cfg.Auth.Middleware)
		ar.Get("/contracts", s.handleContracts)
		ar.Post("/contracts/refresh", s.handleRefresh)
		ar.Get("/contracts/refresh", s.handleLastRefresh)
		ar.Get("/wallet-index", s.handleWalletIndex)
		s.accountRoutes(ar)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"contracts": s.cfg.Contracts.Len(),
	})
}

type contractView struct {
	Symbol       string `json:"symbol"`
	Name         string `json:"name,omitempty"`
	Address      string `json:"address"`
	DecimalPlace int    `json:"decimal_place"`
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	contracts := s.cfg.Contracts.Contracts()
	out := make([]contractView, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, contractView{
			Symbol:       c.Symbol,
			Name:         c.Name,
			Address:      c.Address.String(),
			DecimalPlace: c.DecimalPlace,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": out})
}

type failureView struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
	Error   string `json:"error"`
}

type runView struct {
	ID         string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	DurationMS int64         `json:"duration_ms"`
	Applied    []string      `json:"applied"`
	Pruned     []string      `json:"pruned"`
	Failures   []failureView `json:"failures"`
	Error      string        `json:"error,omitempty"`
}

func viewRun(run refresh.Run) runView {
	view := runView{
		ID:         run.ID,
		StartedAt:  run.Started.UTC(),
		DurationMS: run.Duration.Milliseconds(),
		Applied:    append([]string{}, run.Report.Applied...),
		Pruned:     append([]string{}, run.Report.Pruned...),
		Failures:   make([]failureView, 0, len(run.Report.Failures)),
	}
	for _, f := range run.Report.Failures {
		fv := failureView{Symbol: f.Symbol, Address: f.Address.String()}
		if f.Err != nil {
			fv.Error = f.Err.Error()
		}
		view.Failures = append(view.Failures, fv)
	}
	if run.Err != nil {
		view.Error = run.Err.Error()
	}
	return view
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	run := s.cfg.Refresher.Tick(r.Context())
	status := http.StatusOK
	if run.Err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, viewRun(run))
}

func (s *Server) handleLastRefresh(w http.ResponseWriter, r *http.Request) {
	run, ok := s.cfg.Refresher.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no refresh has run yet")
		return
	}
	writeJSON(w, http.StatusOK, viewRun(run))
}

func (s *Server) handleWalletIndex(w http.ResponseWriter, r *http.Request) {
	next, err := s.cfg.Index.NextWalletIndex(r.Context())
	if err != nil {
		s.logger.Error("read wallet index", slog.Any("error", err))
		if errors.Is(err, walletindex.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "wallet index unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "read wallet index failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"next": next})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
