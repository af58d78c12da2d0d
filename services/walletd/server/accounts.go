package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tronnode/chain"
	"tronnode/fees"
	"tronnode/node"
	"tronnode/resources"
	"tronnode/tron"
	"tronnode/walletindex"
)

// Accounts answers resource and fee queries for an address.
type Accounts interface {
	Bandwidth(ctx context.Context, addr tron.Address) (resources.Snapshot, error)
	Energy(ctx context.Context, addr tron.Address) (resources.Snapshot, error)
	EstimateTransfer(ctx context.Context, from tron.Address, currency string, recipientHoldsToken bool) (fees.Estimate, error)
}

// Wallets creates custodial wallets.
type Wallets interface {
	CreateWallet(ctx context.Context, req node.WalletRequest) (node.Wallet, error)
}

func (s *Server) accountRoutes(r chi.Router) {
	if s.cfg.Accounts != nil {
		r.Get("/accounts/{address}/resources", s.handleResources)
		r.Get("/accounts/{address}/estimate", s.handleEstimate)
	}
	if s.cfg.Wallets != nil {
		r.Post("/wallets", s.handleCreateWallet)
	}
}

func addressParam(w http.ResponseWriter, r *http.Request) (tron.Address, bool) {
	addr, err := tron.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return tron.Address{}, false
	}
	return addr, true
}

func (s *Server) chainError(w http.ResponseWriter, op string, err error) {
	s.logger.Warn(op, slog.Any("error", err))
	switch {
	case errors.Is(err, resources.ErrCurrencyNotSupported):
		writeError(w, http.StatusBadRequest, "currency not supported")
	case errors.Is(err, chain.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusBadGateway, "node unavailable")
	default:
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

type snapshotView struct {
	Total     int64 `json:"total"`
	FreeLimit int64 `json:"free_limit"`
	FreeUsed  int64 `json:"free_used"`
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
}

func viewSnapshot(s resources.Snapshot) snapshotView {
	return snapshotView{Total: s.Total, FreeLimit: s.FreeLimit, FreeUsed: s.FreeUsed, Limit: s.Limit, Used: s.Used}
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	bandwidth, err := s.cfg.Accounts.Bandwidth(r.Context(), addr)
	if err != nil {
		s.chainError(w, "bandwidth", err)
		return
	}
	energy, err := s.cfg.Accounts.Energy(r.Context(), addr)
	if err != nil {
		s.chainError(w, "energy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr.String(),
		"bandwidth": viewSnapshot(bandwidth),
		"energy":    viewSnapshot(energy),
	})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	currency := query.Get("currency")
	if currency == "" {
		currency = tron.NativeSymbol
	}
	holds := false
	if raw := query.Get("recipient_holds"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "recipient_holds must be a boolean")
			return
		}
		holds = parsed
	}
	estimate, err := s.cfg.Accounts.EstimateTransfer(r.Context(), addr, currency, holds)
	if err != nil {
		s.chainError(w, "estimate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"currency":  tron.NormalizeSymbol(currency),
		"fee":       estimate.Fee.StringFixed(2),
		"energy":    estimate.Energy,
		"bandwidth": estimate.Bandwidth,
	})
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.cfg.Wallets.CreateWallet(r.Context(), node.WalletRequest{Kind: node.CentralWallet})
	if err != nil {
		s.logger.Error("create wallet", slog.Any("error", err))
		if errors.Is(err, walletindex.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "wallet index unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "create wallet failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"address":    wallet.Address.String(),
		"index":      wallet.Index,
		"path":       wallet.Path,
		"public_key": wallet.PublicKey,
	})
}
