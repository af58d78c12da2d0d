// Package resources reports bandwidth, energy, balances and delegations for Tron
// accounts.
package resources

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"tronnode/chain"
	"tronnode/registry"
	"tronnode/tron"
)

// ErrCurrencyNotSupported is returned when a currency is neither native nor registered.
var ErrCurrencyNotSupported = fmt.Errorf("resources: currency not supported: %w", registry.ErrContractNotFound)

// Chain is the subset of the full-node client the accountant depends on.
type Chain interface {
	AccountResource(ctx context.Context, addr tron.Address) (chain.AccountResource, error)
	AccountBalance(ctx context.Context, addr tron.Address) (int64, error)
	DelegatedResources(ctx context.Context, owner, recipient tron.Address) ([]chain.Delegation, error)
}

// Contracts resolves registered token contracts.
type Contracts interface {
	BySymbol(symbol string) (registry.Contract, error)
}

// ResourceKind selects which delegated resource to report.
type ResourceKind int

const (
	ResourceBoth ResourceKind = iota
	ResourceEnergy
	ResourceBandwidth
)

// ParseResourceKind maps "energy", "bandwidth" or "" to a ResourceKind.
func ParseResourceKind(raw string) (ResourceKind, error) {
	switch raw {
	case "", "both", "BOTH":
		return ResourceBoth, nil
	case "energy", "ENERGY":
		return ResourceEnergy, nil
	case "bandwidth", "BANDWIDTH":
		return ResourceBandwidth, nil
	default:
		return ResourceBoth, fmt.Errorf("resources: unknown resource kind %q", raw)
	}
}

func (k ResourceKind) String() string {
	switch k {
	case ResourceEnergy:
		return "energy"
	case ResourceBandwidth:
		return "bandwidth"
	default:
		return "both"
	}
}

// Snapshot is a point-in-time view of one resource of an account.
type Snapshot struct {
	FreeLimit int64
	FreeUsed  int64
	Limit     int64
	Used      int64
	Total     int64
}

// Delegation is the TRX staked by an owner on behalf of a recipient, per resource.
type Delegation struct {
	Energy    decimal.Decimal
	Bandwidth decimal.Decimal
}

// Accountant queries resources and balances, retrying transient node failures.
type Accountant struct {
	chain     Chain
	contracts Contracts
	retry     chain.RetryPolicy
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithRetryPolicy overrides the retry policy used for node calls.
func WithRetryPolicy(policy chain.RetryPolicy) Option {
	return func(a *Accountant) {
		a.retry = policy
	}
}

// New constructs an accountant.
func New(client Chain, contracts Contracts, opts ...Option) (*Accountant, error) {
	if client == nil {
		return nil, fmt.Errorf("resources: chain client required")
	}
	if contracts == nil {
		return nil, fmt.Errorf("resources: contract registry required")
	}
	a := &Accountant{
		chain:     client,
		contracts: contracts,
		retry:     chain.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

func (a *Accountant) accountResource(ctx context.Context, addr tron.Address) (chain.AccountResource, error) {
	return chain.Retry(ctx, a.retry, "account_resource", func(ctx context.Context) (chain.AccountResource, error) {
		return a.chain.AccountResource(ctx, addr)
	})
}

// Bandwidth returns the bandwidth snapshot of addr. Total combines the free and
// staked allowances as signed terms and may be negative.
func (a *Accountant) Bandwidth(ctx context.Context, addr tron.Address) (Snapshot, error) {
	res, err := a.accountResource(ctx, addr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resources: bandwidth of %s: %w", addr, err)
	}
	return Snapshot{
		FreeLimit: res.FreeNetLimit,
		FreeUsed:  res.FreeNetUsed,
		Limit:     res.NetLimit,
		Used:      res.NetUsed,
		Total:     (res.FreeNetLimit - res.FreeNetUsed) + (res.NetLimit - res.NetUsed),
	}, nil
}

// Energy returns the energy snapshot of addr. Total is floored at zero.
func (a *Accountant) Energy(ctx context.Context, addr tron.Address) (Snapshot, error) {
	res, err := a.accountResource(ctx, addr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resources: energy of %s: %w", addr, err)
	}
	total := res.EnergyLimit - res.EnergyUsed
	if total < 0 {
		total = 0
	}
	return Snapshot{
		Limit: res.EnergyLimit,
		Used:  res.EnergyUsed,
		Total: total,
	}, nil
}

// Balance returns the balance of addr in currency, in whole units.
func (a *Accountant) Balance(ctx context.Context, addr tron.Address, currency string) (decimal.Decimal, error) {
	if tron.IsNative(currency) {
		sun, err := chain.Retry(ctx, a.retry, "account_balance", func(ctx context.Context) (int64, error) {
			return a.chain.AccountBalance(ctx, addr)
		})
		if err != nil {
			return decimal.Zero, fmt.Errorf("resources: balance of %s: %w", addr, err)
		}
		return tron.FromSun(sun), nil
	}
	contract, err := a.contracts.BySymbol(currency)
	if err != nil {
		if errors.Is(err, registry.ErrContractNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrCurrencyNotSupported, tron.NormalizeSymbol(currency))
		}
		return decimal.Zero, err
	}
	raw, err := chain.Retry(ctx, a.retry, "balance_of", func(ctx context.Context) (*big.Int, error) {
		return contract.Handle.BalanceOf(ctx, addr)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("resources: %s balance of %s: %w", contract.Symbol, addr, err)
	}
	return tron.ScaleUnits(raw, contract.DecimalPlace), nil
}

// IsActive reports whether addr has been activated on chain.
func (a *Accountant) IsActive(ctx context.Context, addr tron.Address) (bool, error) {
	_, err := chain.Retry(ctx, a.retry, "account_balance", func(ctx context.Context) (int64, error) {
		return a.chain.AccountBalance(ctx, addr)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, chain.ErrAddressNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("resources: activation of %s: %w", addr, err)
	}
}

// Delegated returns what owner has staked for recipient, summed over every
// delegation record, in TRX.
func (a *Accountant) Delegated(ctx context.Context, owner, recipient tron.Address) (Delegation, error) {
	records, err := chain.Retry(ctx, a.retry, "delegated_resources", func(ctx context.Context) ([]chain.Delegation, error) {
		return a.chain.DelegatedResources(ctx, owner, recipient)
	})
	if err != nil {
		return Delegation{}, fmt.Errorf("resources: delegation %s -> %s: %w", owner, recipient, err)
	}
	var energy, bandwidth int64
	for _, record := range records {
		energy += record.FrozenForEnergy
		bandwidth += record.FrozenForBandwidth
	}
	return Delegation{
		Energy:    tron.FromSun(energy),
		Bandwidth: tron.FromSun(bandwidth),
	}, nil
}

// DelegatedAmount returns a single delegated amount. ResourceBoth sums both resources.
func (a *Accountant) DelegatedAmount(ctx context.Context, owner, recipient tron.Address, kind ResourceKind) (decimal.Decimal, error) {
	delegation, err := a.Delegated(ctx, owner, recipient)
	if err != nil {
		return decimal.Zero, err
	}
	switch kind {
	case ResourceEnergy:
		return delegation.Energy, nil
	case ResourceBandwidth:
		return delegation.Bandwidth, nil
	default:
		return delegation.Energy.Add(delegation.Bandwidth), nil
	}
}

// HasDelegated reports whether owner has any of kind delegated to recipient.
func (a *Accountant) HasDelegated(ctx context.Context, owner, recipient tron.Address, kind ResourceKind) (bool, error) {
	amount, err := a.DelegatedAmount(ctx, owner, recipient, kind)
	if err != nil {
		return false, err
	}
	return amount.IsPositive(), nil
}
