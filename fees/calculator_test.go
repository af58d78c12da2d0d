package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tronnode/chain"
	"tronnode/resources"
	"tronnode/tron"
)

var sender = tron.MustParseAddress("TUEZSdKsoDHQMeZwihtdoBiN46zxhGWYdH")

type fakeChain struct {
	params []chain.Parameter
	err    error
	calls  int
}

func (f *fakeChain) ChainParameters(context.Context) ([]chain.Parameter, error) {
	f.calls++
	return f.params, f.err
}

type fakeResources struct {
	energy    int64
	bandwidth int64
	err       error
}

func (f fakeResources) Energy(context.Context, tron.Address) (resources.Snapshot, error) {
	return resources.Snapshot{Total: f.energy}, f.err
}

func (f fakeResources) Bandwidth(context.Context, tron.Address) (resources.Snapshot, error) {
	return resources.Snapshot{Total: f.bandwidth}, f.err
}

func newCalculator(t *testing.T, params []chain.Parameter, res fakeResources, opts ...Option) *Calculator {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(chain.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond})}, opts...)
	calc, err := New(&fakeChain{params: params}, res, opts...)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	return calc
}

func TestBurnEnergyCostScenario(t *testing.T) {
	calc := newCalculator(t, []chain.Parameter{{Key: chain.ParamEnergyFee, Value: 420}}, fakeResources{})
	cost, err := calc.BurnEnergyCost(context.Background(), 4200)
	if err != nil {
		t.Fatalf("burn energy cost: %v", err)
	}
	if !cost.Equal(decimal.NewFromInt(10_000_000)) {
		t.Fatalf("unexpected cost %s", cost)
	}
	if got := cost.StringFixed(2); got != "10000000.00" {
		t.Fatalf("unexpected display %s", got)
	}
}

func TestBurnEnergyCostZeroFee(t *testing.T) {
	for _, params := range [][]chain.Parameter{
		{{Key: chain.ParamEnergyFee, Value: 0}},
		nil,
	} {
		calc := newCalculator(t, params, fakeResources{})
		for _, amount := range []int64{0, 1, 4200, 1 << 40} {
			cost, err := calc.BurnEnergyCost(context.Background(), amount)
			if err != nil {
				t.Fatalf("burn energy cost: %v", err)
			}
			if !cost.IsZero() {
				t.Fatalf("expected zero cost for amount %d, got %s", amount, cost)
			}
		}
	}
}

func TestBurnEnergyCostRoundsHalfEven(t *testing.T) {
	// 1 * 1e6 / 420 = 2380.952380...
	if got := burnEnergyCost(1, 420); !got.Equal(decimal.RequireFromString("2380.95")) {
		t.Fatalf("unexpected rounding %s", got)
	}
	// 3 * 1e6 / 80000000 = 0.0375
	if got := burnEnergyCost(3, 80_000_000); !got.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("unexpected rounding %s", got)
	}
	// 1 * 1e6 / 8000000 = 0.125, a tie that rounds to the even digit
	if got := burnEnergyCost(1, 8_000_000); !got.Equal(decimal.RequireFromString("0.12")) {
		t.Fatalf("unexpected rounding %s", got)
	}
}

func TestRequiredEnergyBranches(t *testing.T) {
	cases := []struct {
		name      string
		available int64
		requested int64
		want      int64
	}{
		{name: "no energy", available: 0, requested: 14631, want: 14631},
		{name: "enough energy", available: 20000, requested: 14631, want: 0},
		{name: "exactly enough", available: 14631, requested: 14631, want: 0},
		{name: "one short", available: 14630, requested: 14631, want: 1},
		{name: "partial", available: 10000, requested: 14631, want: 4631},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc := newCalculator(t, nil, fakeResources{energy: tc.available})
			got, err := calc.RequiredEnergy(context.Background(), sender, tc.requested)
			if err != nil {
				t.Fatalf("required energy: %v", err)
			}
			if got != tc.want {
				t.Fatalf("RequiredEnergy = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestChainParameterMissingReadsZero(t *testing.T) {
	calc := newCalculator(t, []chain.Parameter{{Key: chain.ParamEnergyFee, Value: 420}}, fakeResources{})
	value, err := calc.ChainParameter(context.Background(), "getCreateAccountFee")
	if err != nil {
		t.Fatalf("chain parameter: %v", err)
	}
	if value != 0 {
		t.Fatalf("expected 0, got %d", value)
	}
}

func TestChainUnavailableIsRetried(t *testing.T) {
	fake := &fakeChain{err: chain.ErrUnavailable}
	calc, err := New(fake, fakeResources{}, WithRetryPolicy(chain.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := calc.BurnEnergyCost(context.Background(), 1); !errors.Is(err, chain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.calls)
	}
}

func TestEstimateTokenTransfer(t *testing.T) {
	params := []chain.Parameter{
		{Key: chain.ParamEnergyFee, Value: 420},
		{Key: chain.ParamTransactionFee, Value: 1000},
	}
	calc := newCalculator(t, params, fakeResources{energy: 0, bandwidth: 0}, WithNetwork(tron.Mainnet))
	estimate, err := calc.EstimateTransfer(context.Background(), sender, "USDT", true)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if estimate.Energy != 14631 || estimate.Bandwidth != 345 {
		t.Fatalf("unexpected estimate %+v", estimate)
	}
	// 14631*420 + 345*1000 = 6,145,020 + 345,000 sun = 6.49002 TRX
	if !estimate.Fee.Equal(decimal.RequireFromString("6.49")) {
		t.Fatalf("unexpected fee %s", estimate.Fee)
	}

	calc = newCalculator(t, params, fakeResources{energy: 100000, bandwidth: 5000}, WithNetwork(tron.Mainnet))
	estimate, err = calc.EstimateTransfer(context.Background(), sender, "usdt", false)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if estimate.Energy != 0 || estimate.Bandwidth != 0 || !estimate.Fee.IsZero() {
		t.Fatalf("expected free transfer, got %+v", estimate)
	}
}

func TestEstimateNativeTransfer(t *testing.T) {
	params := []chain.Parameter{{Key: chain.ParamTransactionFee, Value: 1000}}
	calc := newCalculator(t, params, fakeResources{bandwidth: 100})
	estimate, err := calc.EstimateTransfer(context.Background(), sender, "TRX", false)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if estimate.Energy != 0 || estimate.Bandwidth != tron.NativeTransferBandwidth {
		t.Fatalf("unexpected estimate %+v", estimate)
	}
	if !estimate.Fee.Equal(decimal.RequireFromString("0.27")) {
		t.Fatalf("unexpected fee %s", estimate.Fee)
	}
}

func TestEstimateUnknownCurrency(t *testing.T) {
	calc := newCalculator(t, nil, fakeResources{})
	_, err := calc.EstimateTransfer(context.Background(), sender, "DOGE", false)
	if !errors.Is(err, resources.ErrCurrencyNotSupported) {
		t.Fatalf("expected ErrCurrencyNotSupported, got %v", err)
	}
}
