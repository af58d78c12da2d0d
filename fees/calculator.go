// Package fees prices energy and bandwidth against the chain's current parameters.
package fees

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tronnode/chain"
	"tronnode/resources"
	"tronnode/tron"
)

// Chain exposes the node's parameter list.
type Chain interface {
	ChainParameters(ctx context.Context) ([]chain.Parameter, error)
}

// Resources reports the resources an account currently has.
type Resources interface {
	Energy(ctx context.Context, addr tron.Address) (resources.Snapshot, error)
	Bandwidth(ctx context.Context, addr tron.Address) (resources.Snapshot, error)
}

// Estimate is the projected cost of a transfer. Fee is in TRX; Energy and
// Bandwidth are the amounts that will have to be paid for by burning TRX.
type Estimate struct {
	Fee       decimal.Decimal
	Energy    int64
	Bandwidth int64
}

// Calculator computes fee figures from live chain parameters.
type Calculator struct {
	chain     Chain
	resources Resources
	network   tron.Network
	retry     chain.RetryPolicy
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithRetryPolicy overrides the retry policy used for node calls.
func WithRetryPolicy(policy chain.RetryPolicy) Option {
	return func(c *Calculator) {
		c.retry = policy
	}
}

// WithNetwork selects the token table used by EstimateTransfer.
func WithNetwork(network tron.Network) Option {
	return func(c *Calculator) {
		c.network = network
	}
}

// New constructs a calculator.
func New(client Chain, res Resources, opts ...Option) (*Calculator, error) {
	if client == nil {
		return nil, fmt.Errorf("fees: chain client required")
	}
	if res == nil {
		return nil, fmt.Errorf("fees: resource accountant required")
	}
	c := &Calculator{
		chain:     client,
		resources: res,
		network:   tron.Mainnet,
		retry:     chain.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Calculator) parameters(ctx context.Context) ([]chain.Parameter, error) {
	params, err := chain.Retry(ctx, c.retry, "chain_parameters", c.chain.ChainParameters)
	if err != nil {
		return nil, fmt.Errorf("fees: chain parameters: %w", err)
	}
	return params, nil
}

func lookup(params []chain.Parameter, key string) int64 {
	for _, param := range params {
		if param.Key == key {
			return param.Value
		}
	}
	return 0
}

// ChainParameter returns a named chain parameter. Parameters the node does not
// report read as zero.
func (c *Calculator) ChainParameter(ctx context.Context, key string) (int64, error) {
	params, err := c.parameters(ctx)
	if err != nil {
		return 0, err
	}
	return lookup(params, key), nil
}

// BurnEnergyCost converts an amount in sun into the energy it buys at the current
// energy fee, rounded half-to-even to two places. A zero energy fee means burning
// is free and yields zero.
func (c *Calculator) BurnEnergyCost(ctx context.Context, amountSun int64) (decimal.Decimal, error) {
	energyFee, err := c.ChainParameter(ctx, chain.ParamEnergyFee)
	if err != nil {
		return decimal.Zero, err
	}
	return burnEnergyCost(amountSun, energyFee), nil
}

func burnEnergyCost(amountSun, energyFee int64) decimal.Decimal {
	if energyFee == 0 {
		return decimal.Zero
	}
	cost := decimal.NewFromInt(amountSun).
		Mul(decimal.NewFromInt(tron.SunPerTRX)).
		Div(decimal.NewFromInt(energyFee))
	return tron.RoundDisplay(cost)
}

// RequiredEnergy returns how much of requested energy addr would have to pay for
// given what it currently has available.
func (c *Calculator) RequiredEnergy(ctx context.Context, addr tron.Address, requested int64) (int64, error) {
	snap, err := c.resources.Energy(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("fees: required energy: %w", err)
	}
	return requiredEnergy(snap.Total, requested), nil
}

func requiredEnergy(available, requested int64) int64 {
	switch {
	case available <= 0:
		return requested
	case available >= requested:
		return 0
	default:
		return requested - available
	}
}

// EstimateTransfer prices a transfer of currency from addr. Energy that the sender
// cannot cover is burnt at the energy fee; if the sender's bandwidth cannot cover
// the transaction, its full size is burnt at the transaction fee.
func (c *Calculator) EstimateTransfer(ctx context.Context, from tron.Address, currency string, recipientHoldsToken bool) (Estimate, error) {
	var energyNeeded, bandwidthNeeded int64
	if tron.IsNative(currency) {
		bandwidthNeeded = tron.NativeTransferBandwidth
	} else {
		token, err := tron.LookupToken(c.network, currency)
		if err != nil {
			return Estimate{}, fmt.Errorf("%w: %s", resources.ErrCurrencyNotSupported, tron.NormalizeSymbol(currency))
		}
		energyNeeded = token.TransferEnergy(recipientHoldsToken)
		bandwidthNeeded = token.Bandwidth
	}

	params, err := c.parameters(ctx)
	if err != nil {
		return Estimate{}, err
	}

	var estimate Estimate
	if energyNeeded > 0 {
		estimate.Energy, err = c.RequiredEnergy(ctx, from, energyNeeded)
		if err != nil {
			return Estimate{}, err
		}
	}
	bandwidth, err := c.resources.Bandwidth(ctx, from)
	if err != nil {
		return Estimate{}, fmt.Errorf("fees: bandwidth: %w", err)
	}
	if bandwidth.Total < bandwidthNeeded {
		estimate.Bandwidth = bandwidthNeeded
	}

	feeSun := estimate.Energy*lookup(params, chain.ParamEnergyFee) +
		estimate.Bandwidth*lookup(params, chain.ParamTransactionFee)
	estimate.Fee = tron.RoundDisplay(tron.FromSun(feeSun))
	return estimate, nil
}
