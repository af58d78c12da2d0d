package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tronnode/chain"
	"tronnode/fees"
	"tronnode/node"
	"tronnode/registry"
	"tronnode/resources"
	"tronnode/services/walletd/refresh"
	"tronnode/tron"
	"tronnode/walletindex"
)

var usdtAddr = tron.MustParseAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")

type staticContracts []registry.Contract

func (s staticContracts) Contracts() []registry.Contract { return s }
func (s staticContracts) Len() int { return len(s) }

type fakeRefresher struct {
	run   refresh.Run
	ticks int
	last  *refresh.Run
}

func (f *fakeRefresher) Tick(context.Context) refresh.Run {
	f.ticks++
	run := f.run
	f.last = &run
	return run
}

func (f *fakeRefresher) Last() (refresh.Run, bool) {
	if f.last == nil {
		return refresh.Run{}, false
	}
	return *f.last, true
}

type fakeIndex struct {
	next int64
	err  error
}

func (f fakeIndex) NextWalletIndex(context.Context) (int64, error) {
	return f.next, f.err
}

func newTestServer(t *testing.T, refresher *fakeRefresher, index fakeIndex, token string) *Server {
	t.Helper()
	var auth *Authenticator
	if token != "" {
		var err error
		auth, err = NewAuthenticator(token)
		if err != nil {
			t.Fatalf("new authenticator: %v", err)
		}
	}
	srv, err := New(Config{
		Contracts: staticContracts{{Symbol: "USDT", Name: "Tether USD", Address: usdtAddr, DecimalPlace: 6}},
		Refresher: refresher,
		Index:     index,
		Auth:      auth,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv http.Handler, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}
	return rec, body
}

func TestHealthzIsPublic(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, fakeIndex{next: 1}, "secret")
	rec, body := do(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["status"] != "ok" || body["contracts"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, fakeIndex{next: 1}, "secret")
	rec, _ := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestAdminRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, fakeIndex{next: 3}, "secret")
	for _, token := range []string{"", "wrong"} {
		rec, _ := do(t, srv, http.MethodGet, "/admin/wallet-index", token)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("expected WWW-Authenticate header")
		}
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, fakeIndex{next: 3}, "")
	rec, _ := do(t, srv, http.MethodGet, "/admin/wallet-index", "anything")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestNewAuthenticatorRejectsBlankToken(t *testing.T) {
	if _, err := NewAuthenticator("   "); err == nil {
		t.Fatalf("expected error for blank token")
	}
}

func TestWalletIndexEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, fakeIndex{next: 42}, "secret")
	rec, body := do(t, srv, http.MethodGet, "/admin/wallet-index", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["next"] != float64(42) {
		t.Fatalf("unexpected body %v", body)
	}

	unavailable := fmt.Errorf("%w: load: disk gone", walletindex.ErrStoreUnavailable)
	srv = newTestServer(t, &fakeRefresher{}, fakeIndex{err: unavailable}, "secret")
	rec, _ = do(t, srv, http.MethodGet, "/admin/wallet-index", "secret")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestContractsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, fakeIndex{next: 1}, "secret")
	rec, body := do(t, srv, http.MethodGet, "/admin/contracts", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	contracts, ok := body["contracts"].([]any)
	if !ok || len(contracts) != 1 {
		t.Fatalf("unexpected body %v", body)
	}
	entry := contracts[0].(map[string]any)
	if entry["symbol"] != "USDT" || entry["address"] != usdtAddr.String() || entry["decimal_place"] != float64(6) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	refresher := &fakeRefresher{run: refresh.Run{
		ID:       "run-1",
		Started:  time.Unix(1700000000, 0),
		Duration: 250 * time.Millisecond,
		Report: registry.RefreshReport{
			Applied:  []string{"USDT"},
			Failures: []registry.Failure{{Symbol: "USDC", Address: usdtAddr, Err: errors.New("contract not found")}},
		},
	}}
	srv := newTestServer(t, refresher, fakeIndex{next: 1}, "secret")

	rec, _ := do(t, srv, http.MethodGet, "/admin/contracts/refresh", "secret")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", rec.Code)
	}

	rec, body := do(t, srv, http.MethodPost, "/admin/contracts/refresh", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if refresher.ticks != 1 {
		t.Fatalf("expected one tick, got %d", refresher.ticks)
	}
	if body["run_id"] != "run-1" || body["duration_ms"] != float64(250) {
		t.Fatalf("unexpected body %v", body)
	}
	failures := body["failures"].([]any)
	if len(failures) != 1 || failures[0].(map[string]any)["symbol"] != "USDC" {
		t.Fatalf("unexpected failures %v", failures)
	}

	rec, body = do(t, srv, http.MethodGet, "/admin/contracts/refresh", "secret")
	if rec.Code != http.StatusOK || body["run_id"] != "run-1" {
		t.Fatalf("unexpected last run %d %v", rec.Code, body)
	}
}

func TestRefreshEndpointReportsFailure(t *testing.T) {
	refresher := &fakeRefresher{run: refresh.Run{ID: "run-2", Err: errors.New("source unavailable")}}
	srv := newTestServer(t, refresher, fakeIndex{next: 1}, "secret")
	rec, body := do(t, srv, http.MethodPost, "/admin/contracts/refresh", "secret")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if body["error"] != "source unavailable" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeAccounts struct {
	bandwidth resources.Snapshot
	energy    resources.Snapshot
	estimate  fees.Estimate
	err       error
	currency  string
	holds     bool
}

func (f *fakeAccounts) Bandwidth(context.Context, tron.Address) (resources.Snapshot, error) {
	return f.bandwidth, f.err
}

func (f *fakeAccounts) Energy(context.Context, tron.Address) (resources.Snapshot, error) {
	return f.energy, f.err
}

func (f *fakeAccounts) EstimateTransfer(_ context.Context, _ tron.Address, currency string, holds bool) (fees.Estimate, error) {
	f.currency = currency
	f.holds = holds
	return f.estimate, f.err
}

type fakeWallets struct {
	wallet node.Wallet
	err    error
}

func (f fakeWallets) CreateWallet(context.Context, node.WalletRequest) (node.Wallet, error) {
	return f.wallet, f.err
}

func newAccountServer(t *testing.T, accounts Accounts, wallets Wallets) *Server {
	t.Helper()
	auth, err := NewAuthenticator("secret")
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	srv, err := New(Config{
		Contracts: staticContracts{},
		Refresher: &fakeRefresher{},
		Index:     fakeIndex{next: 1},
		Accounts:  accounts,
		Wallets:   wallets,
		Auth:      auth,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestResourcesEndpoint(t *testing.T) {
	accounts := &fakeAccounts{
		bandwidth: resources.Snapshot{FreeLimit: 600, Total: 600},
		energy:    resources.Snapshot{Limit: 65000, Used: 14631, Total: 50369},
	}
	srv := newAccountServer(t, accounts, nil)
	rec, body := do(t, srv, http.MethodGet, "/admin/accounts/"+usdtAddr.String()+"/resources", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	energy := body["energy"].(map[string]any)
	if energy["total"] != float64(50369) {
		t.Fatalf("unexpected energy %v", energy)
	}

	rec, _ = do(t, srv, http.MethodGet, "/admin/accounts/not-an-address/resources", "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	accounts := &fakeAccounts{estimate: fees.Estimate{
		Fee:       decimal.RequireFromString("6.49"),
		Energy:    14631,
		Bandwidth: 345,
	}}
	srv := newAccountServer(t, accounts, nil)
	path := "/admin/accounts/" + usdtAddr.String() + "/estimate?currency=usdt&recipient_holds=true"
	rec, body := do(t, srv, http.MethodGet, path, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["fee"] != "6.49" || body["currency"] != "USDT" || body["energy"] != float64(14631) {
		t.Fatalf("unexpected body %v", body)
	}
	if accounts.currency != "usdt" || !accounts.holds {
		t.Fatalf("unexpected call %q %v", accounts.currency, accounts.holds)
	}

	rec, _ = do(t, srv, http.MethodGet, "/admin/accounts/"+usdtAddr.String()+"/estimate?recipient_holds=maybe", "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	accounts.err = fmt.Errorf("%w: DOGE", resources.ErrCurrencyNotSupported)
	rec, _ = do(t, srv, http.MethodGet, "/admin/accounts/"+usdtAddr.String()+"/estimate?currency=doge", "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	accounts.err = fmt.Errorf("%w: timeout", chain.ErrUnavailable)
	rec, _ = do(t, srv, http.MethodGet, "/admin/accounts/"+usdtAddr.String()+"/estimate", "secret")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if accounts.currency != tron.NativeSymbol {
		t.Fatalf("expected TRX default, got %q", accounts.currency)
	}
}

func TestCreateWalletEndpoint(t *testing.T) {
	wallet := node.Wallet{Kind: node.CentralWallet}
	wallet.Address = usdtAddr
	wallet.Index = 4
	wallet.Path = "m/44'/195'/0'/0/4"
	wallet.PrivateKey = "deadbeef"
	srv := newAccountServer(t, nil, fakeWallets{wallet: wallet})

	rec, body := do(t, srv, http.MethodPost, "/admin/wallets", "secret")
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["index"] != float64(4) || body["path"] != wallet.Path {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["private_key"]; ok {
		t.Fatalf("private key must not be returned")
	}

	srv = newAccountServer(t, nil, fakeWallets{err: fmt.Errorf("%w: locked", walletindex.ErrStoreUnavailable)})
	rec, _ = do(t, srv, http.MethodPost, "/admin/wallets", "secret")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAccountRoutesAbsentWithoutBackends(t *testing.T) {
	srv := newAccountServer(t, nil, nil)
	rec, _ := do(t, srv, http.MethodPost, "/admin/wallets", "secret")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequestsAreCountedByRoute(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, fakeIndex{next: 1}, "secret")
	do(t, srv, http.MethodGet, "/healthz", "")
	rec, _ := do(t, srv, http.MethodGet, "/metrics", "")
	want := `tron_http_requests_total{method="GET",route="/healthz",status="200"}`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics output missing %s", want)
	}
}
