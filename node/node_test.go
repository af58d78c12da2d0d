package node

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tronnode/chain"
	"tronnode/hdwallet"
	"tronnode/registry"
	"tronnode/resources"
	"tronnode/storage"
	"tronnode/tron"
	"tronnode/walletindex"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var (
	usdtAddr = tron.MustParseAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	usdcAddr = tron.MustParseAddress("TEkxiTehnzSmSe2XqrBj4w32RUN966rdz8")
	holder   = tron.MustParseAddress("TUEZSdKsoDHQMeZwihtdoBiN46zxhGWYdH")
)

type fakeChain struct {
	resource chain.AccountResource
	balance  int64
	params   []chain.Parameter
}

func (f *fakeChain) AccountResource(context.Context, tron.Address) (chain.AccountResource, error) {
	return f.resource, nil
}

func (f *fakeChain) AccountBalance(context.Context, tron.Address) (int64, error) {
	return f.balance, nil
}

func (f *fakeChain) DelegatedResources(context.Context, tron.Address, tron.Address) ([]chain.Delegation, error) {
	return nil, nil
}

func (f *fakeChain) ChainParameters(context.Context) ([]chain.Parameter, error) {
	return f.params, nil
}

type staticSource []registry.Metadata

func (s staticSource) ListContracts(context.Context) ([]registry.Metadata, error) {
	return s, nil
}

// gatedSource blocks its first listing until release is closed. The first
// listing holds USDT only and every later one USDC only.
type gatedSource struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSource) ListContracts(context.Context) ([]registry.Metadata, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.release
		return []registry.Metadata{{Symbol: "USDT", Address: usdtAddr, DecimalPlace: 6}}, nil
	}
	return []registry.Metadata{{Symbol: "USDC", Address: usdcAddr, DecimalPlace: 6}}, nil
}

type fixedHandle struct{ balance int64 }

func (h fixedHandle) BalanceOf(context.Context, tron.Address) (*big.Int, error) {
	return big.NewInt(h.balance), nil
}

func resolverExcept(missing ...tron.Address) registry.Resolver {
	return registry.ResolverFunc(func(_ context.Context, addr tron.Address) (registry.Handle, error) {
		for _, m := range missing {
			if m == addr {
				return nil, chain.ErrContractNotFound
			}
		}
		return fixedHandle{balance: 1_500_000}, nil
	})
}

type failingDeriver struct {
	hdwallet.BIP44
	fail bool
}

func (d *failingDeriver) Derive(mnemonic, passphrase string, index uint32) (hdwallet.Wallet, error) {
	if d.fail {
		return hdwallet.Wallet{}, errors.New("derivation failed")
	}
	return d.BIP44.Derive(mnemonic, passphrase, index)
}

func newTestNode(t *testing.T, mutate func(*Config)) *Node {
	t.Helper()
	store, err := walletindex.NewKVStore(storage.NewMemDB(), "")
	require.NoError(t, err)
	alloc, err := walletindex.New(store)
	require.NoError(t, err)
	cfg := Config{
		Network: tron.Mainnet,
		Chain: &fakeChain{
			resource: chain.AccountResource{FreeNetLimit: 1500, FreeNetUsed: 1500, EnergyLimit: 20000},
			balance:  3_000_000,
			params: []chain.Parameter{
				{Key: chain.ParamEnergyFee, Value: 420},
				{Key: chain.ParamTransactionFee, Value: 1000},
			},
		},
		Resolver: resolverExcept(),
		Contracts: staticSource{
			{Symbol: "USDT", Name: "Tether USD", Address: usdtAddr, DecimalPlace: 6},
			{Symbol: "USDC", Name: "USD Coin", Address: usdcAddr, DecimalPlace: 6},
		},
		Allocator:       alloc,
		CentralMnemonic: testMnemonic,
		Tokens:          []string{"USDT", "USDC"},
		RetryPolicy:     &chain.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	n, err := New(cfg)
	require.NoError(t, err)
	return n
}

func TestCurrencyLookupsFollowRegistry(t *testing.T) {
	n := newTestNode(t, nil)
	require.True(t, n.HasCurrency("trx"))
	require.False(t, n.HasCurrency("USDT"))
	require.False(t, n.HasContractAddress(usdtAddr))

	report, err := n.RefreshContracts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"USDC", "USDT"}, report.Applied)

	require.True(t, n.HasCurrency("usdt"))
	require.True(t, n.HasContractAddress(usdtAddr))
	contract, err := n.ContractByAddress(usdcAddr)
	require.NoError(t, err)
	require.Equal(t, "USDC", contract.Symbol)
	contract, err = n.ContractBySymbol("usdt")
	require.NoError(t, err)
	require.Equal(t, usdtAddr, contract.Address)

	_, err = n.ContractBySymbol("DOGE")
	require.ErrorIs(t, err, registry.ErrContractNotFound)
}

func TestRefreshKeepsGoodEntriesOnPartialFailure(t *testing.T) {
	n := newTestNode(t, func(cfg *Config) {
		cfg.Resolver = resolverExcept(usdcAddr)
	})
	report, err := n.RefreshContracts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"USDT"}, report.Applied)
	require.Equal(t, []string{"USDC"}, report.FailedSymbols())
	require.ErrorIs(t, report.Err(), chain.ErrContractNotFound)
	require.True(t, n.HasCurrency("USDT"))
	require.False(t, n.HasCurrency("USDC"))
}

func TestConcurrentRefreshesApplyInOrder(t *testing.T) {
	source := &gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
	n := newTestNode(t, func(cfg *Config) { cfg.Contracts = source })

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	refresh := func() {
		defer wg.Done()
		_, err := n.RefreshContracts(context.Background())
		errs <- err
	}
	wg.Add(1)
	go refresh()
	<-source.entered
	wg.Add(1)
	go refresh()

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, source.calls.Load(), "second refresh must wait for the first")
	close(source.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 2, source.calls.Load())
	require.True(t, n.HasCurrency("USDC"))
	require.False(t, n.HasCurrency("USDT"), "older listing must not win")
}

func TestResourceAndFeeQueries(t *testing.T) {
	n := newTestNode(t, nil)
	ctx := context.Background()
	_, err := n.RefreshContracts(ctx)
	require.NoError(t, err)

	bandwidth, err := n.Bandwidth(ctx, holder)
	require.NoError(t, err)
	require.Equal(t, int64(0), bandwidth.Total)

	energy, err := n.Energy(ctx, holder)
	require.NoError(t, err)
	require.Equal(t, int64(20000), energy.Total)

	balance, err := n.Balance(ctx, holder, "USDT")
	require.NoError(t, err)
	require.Equal(t, "1.5", balance.String())

	balance, err = n.Balance(ctx, holder, "TRX")
	require.NoError(t, err)
	require.Equal(t, "3", balance.String())

	active, err := n.IsActive(ctx, holder)
	require.NoError(t, err)
	require.True(t, active)

	cost, err := n.BurnEnergyCost(ctx, 4200)
	require.NoError(t, err)
	require.Equal(t, "10000000.00", cost.StringFixed(2))

	required, err := n.RequiredEnergy(ctx, holder, 14631)
	require.NoError(t, err)
	require.Equal(t, int64(0), required)

	fee, err := n.ChainParameter(ctx, chain.ParamTransactionFee)
	require.NoError(t, err)
	require.Equal(t, int64(1000), fee)

	has, err := n.HasDelegated(ctx, holder, usdtAddr, resources.ResourceBoth)
	require.NoError(t, err)
	require.False(t, has)

	estimate, err := n.EstimateTransfer(ctx, holder, "USDT", true)
	require.NoError(t, err)
	require.Equal(t, int64(0), estimate.Energy)
	require.Equal(t, int64(345), estimate.Bandwidth)
	require.Equal(t, "0.34", estimate.Fee.StringFixed(2), "0.345 TRX rounds half to even")
}

func TestEstimateRequiresRegisteredCurrency(t *testing.T) {
	n := newTestNode(t, nil)
	_, err := n.EstimateTransfer(context.Background(), holder, "USDT", false)
	require.ErrorIs(t, err, resources.ErrCurrencyNotSupported)
	_, err = n.Balance(context.Background(), holder, "USDT")
	require.ErrorIs(t, err, resources.ErrCurrencyNotSupported)
}

func TestCreateCentralWalletAllocatesIndices(t *testing.T) {
	n := newTestNode(t, nil)
	ctx := context.Background()

	first, err := n.CreateWallet(ctx, WalletRequest{Kind: CentralWallet})
	require.NoError(t, err)
	require.Equal(t, uint32(1), first.Index)
	require.Equal(t, "TSeJkUh4Qv67VNFwY8LaAxERygNdy6NQZK", first.Address.String())
	require.Empty(t, first.Mnemonic)
	require.Equal(t, CentralWallet, first.Kind)

	second, err := n.CreateWallet(ctx, WalletRequest{})
	require.NoError(t, err)
	require.Equal(t, uint32(2), second.Index)
	require.NotEqual(t, first.Address, second.Address)

	next, err := n.NextWalletIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), next)
}

func TestFailedDerivationSkipsIndex(t *testing.T) {
	deriver := &failingDeriver{fail: true}
	n := newTestNode(t, func(cfg *Config) { cfg.Deriver = deriver })
	ctx := context.Background()

	_, err := n.CreateWallet(ctx, WalletRequest{Kind: CentralWallet})
	require.Error(t, err)

	deriver.fail = false
	wallet, err := n.CreateWallet(ctx, WalletRequest{Kind: CentralWallet})
	require.NoError(t, err)
	require.Equal(t, uint32(2), wallet.Index)
}

func TestCreateUserWallet(t *testing.T) {
	n := newTestNode(t, nil)
	ctx := context.Background()

	wallet, err := n.CreateWallet(ctx, WalletRequest{Kind: UserWallet, Mnemonic: testMnemonic, Index: 7})
	require.NoError(t, err)
	require.Equal(t, "TFj86XAQYBPvwUknt9yxmbc4k3zwUC7iVW", wallet.Address.String())
	require.Equal(t, testMnemonic, wallet.Mnemonic)

	generated, err := n.CreateWallet(ctx, WalletRequest{Kind: UserWallet})
	require.NoError(t, err)
	require.Len(t, strings.Fields(generated.Mnemonic), 24)
	require.Equal(t, uint32(0), generated.Index)

	next, err := n.NextWalletIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), next, "user wallets must not consume central indices")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	store, err := walletindex.NewKVStore(storage.NewMemDB(), "")
	require.NoError(t, err)
	alloc, err := walletindex.New(store)
	require.NoError(t, err)

	_, err = New(Config{Chain: &fakeChain{}, Allocator: alloc})
	require.ErrorContains(t, err, "resolver")

	_, err = New(Config{Chain: &fakeChain{}, Allocator: alloc, Resolver: resolverExcept(), Tokens: []string{"DOGE"}})
	require.ErrorIs(t, err, tron.ErrUnknownToken)

	_, err = New(Config{Chain: &fakeChain{}, Allocator: alloc, Resolver: resolverExcept(), CentralMnemonic: "not a mnemonic"})
	require.ErrorIs(t, err, hdwallet.ErrInvalidMnemonic)

	_, err = New(Config{Chain: &fakeChain{}, Allocator: alloc, Resolver: resolverExcept()})
	require.NoError(t, err)
}

func TestParseWalletKind(t *testing.T) {
	kind, err := ParseWalletKind("")
	require.NoError(t, err)
	require.Equal(t, CentralWallet, kind)
	kind, err = ParseWalletKind(" User ")
	require.NoError(t, err)
	require.Equal(t, UserWallet, kind)
	_, err = ParseWalletKind("admin")
	require.Error(t, err)
}
