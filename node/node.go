// Package node ties the contract registry, resource accountant, fee calculator
// and wallet index allocator together behind a single handle.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tronnode/chain"
	"tronnode/fees"
	"tronnode/hdwallet"
	"tronnode/observability"
	"tronnode/registry"
	"tronnode/resources"
	"tronnode/tron"
)

const defaultCallTimeout = 15 * time.Second

// Chain is the subset of the full-node client the node depends on.
type Chain interface {
	resources.Chain
	fees.Chain
}

// IndexAllocator hands out wallet derivation indices.
type IndexAllocator interface {
	Next(ctx context.Context) (int64, error)
	Peek(ctx context.Context) (int64, error)
}

// Config wires a Node. Chain and Allocator are required. Resolver defaults to
// resolving contracts through Chain when it is a *chain.Client.
type Config struct {
	Network   tron.Network
	Chain     Chain
	Resolver  registry.Resolver
	Contracts registry.Source
	Allocator IndexAllocator
	Deriver   hdwallet.Deriver

	CentralMnemonic   string
	CentralPassphrase string

	// Tokens lists the symbols that must exist in the static token table for
	// Network; startup fails otherwise.
	Tokens []string

	RetryPolicy *chain.RetryPolicy
	// CallTimeout bounds every operation that reaches the chain.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Node is the process-wide entry point. It is constructed once and shared by
// pointer; all methods are safe for concurrent use.
type Node struct {
	network    tron.Network
	registry   *registry.Registry
	accountant *resources.Accountant
	calculator *fees.Calculator
	resolver   registry.Resolver
	contracts  registry.Source
	allocator  IndexAllocator
	deriver    hdwallet.Deriver

	centralMnemonic   string
	centralPassphrase string

	// refreshMu orders refreshes so an older listing never overwrites a newer one.
	refreshMu sync.Mutex

	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New validates cfg and assembles a Node with an empty registry. Call
// RefreshContracts to populate it.
func New(cfg Config) (*Node, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("node: chain client required")
	}
	if cfg.Allocator == nil {
		return nil, fmt.Errorf("node: wallet index allocator required")
	}
	network := cfg.Network
	if network == "" {
		network = tron.Mainnet
	}
	if err := tron.ValidateTokens(network, cfg.Tokens); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	resolver := cfg.Resolver
	if resolver == nil {
		client, ok := cfg.Chain.(*chain.Client)
		if !ok {
			return nil, fmt.Errorf("node: contract resolver required")
		}
		resolver = ContractResolver(client)
	}
	if cfg.CentralMnemonic != "" && !hdwallet.ValidateMnemonic(cfg.CentralMnemonic) {
		return nil, fmt.Errorf("node: central mnemonic: %w", hdwallet.ErrInvalidMnemonic)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deriver := cfg.Deriver
	if deriver == nil {
		deriver = hdwallet.BIP44{}
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	policy := chain.DefaultRetryPolicy
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}

	reg := registry.New(registry.WithLogger(logger))
	accountant, err := resources.New(cfg.Chain, reg, resources.WithRetryPolicy(policy))
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	calculator, err := fees.New(cfg.Chain, accountant, fees.WithRetryPolicy(policy), fees.WithNetwork(network))
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	return &Node{
		network:           network,
		registry:          reg,
		accountant:        accountant,
		calculator:        calculator,
		resolver:          resolver,
		contracts:         cfg.Contracts,
		allocator:         cfg.Allocator,
		deriver:           deriver,
		centralMnemonic:   cfg.CentralMnemonic,
		centralPassphrase: cfg.CentralPassphrase,
		timeout:           timeout,
		logger:            logger,
		tracer:            otel.Tracer("tronnode/node"),
	}, nil
}

// ContractResolver resolves registry handles through the full node, failing with
// chain.ErrContractNotFound for addresses without deployed code.
func ContractResolver(client *chain.Client) registry.Resolver {
	return registry.ResolverFunc(func(ctx context.Context, addr tron.Address) (registry.Handle, error) {
		contract, err := client.TokenContract(ctx, addr)
		if err != nil {
			return nil, err
		}
		return contract, nil
	})
}

func (n *Node) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, n.timeout)
}

// Network returns the network the node was configured for.
func (n *Node) Network() tron.Network { return n.network }

// Registry exposes the contract registry for read access.
func (n *Node) Registry() *registry.Registry { return n.registry }

// HasCurrency reports whether symbol can be priced. TRX is always supported.
func (n *Node) HasCurrency(symbol string) bool {
	return tron.IsNative(symbol) || n.registry.HasSymbol(symbol)
}

// HasContractAddress reports whether addr belongs to a registered contract.
func (n *Node) HasContractAddress(addr tron.Address) bool {
	return n.registry.HasAddress(addr)
}

// ContractBySymbol returns the registered contract for symbol.
func (n *Node) ContractBySymbol(symbol string) (registry.Contract, error) {
	return n.registry.BySymbol(symbol)
}

// ContractByAddress returns the registered contract deployed at addr.
func (n *Node) ContractByAddress(addr tron.Address) (registry.Contract, error) {
	return n.registry.ByAddress(addr)
}

// RefreshContracts reloads the registry from the contract store. Per-contract
// failures are reported, not returned; err is set only when the store itself
// could not be read or ctx ended. Concurrent calls run one at a time.
func (n *Node) RefreshContracts(ctx context.Context) (registry.RefreshReport, error) {
	if n.contracts == nil {
		return registry.RefreshReport{}, fmt.Errorf("node: contract source not configured")
	}
	n.refreshMu.Lock()
	defer n.refreshMu.Unlock()
	ctx, span := n.tracer.Start(ctx, "node.refresh_contracts",
		trace.WithAttributes(attribute.String("tron.network", string(n.network))))
	defer span.End()
	report, err := n.registry.Refresh(ctx, n.contracts, n.resolver)
	span.SetAttributes(
		attribute.Int("contracts.applied", len(report.Applied)),
		attribute.Int("contracts.failed", len(report.Failures)))
	metrics := observability.Walletd()
	metrics.RecordRefresh(report.FailedSymbols(), err)
	metrics.RecordRegistrySize(n.registry.Len())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.logger.Error("contract refresh failed", slog.Any("error", err))
		return report, err
	}
	attrs := []any{
		slog.Int("registered", n.registry.Len()),
		slog.Any("applied", report.Applied),
		slog.Any("pruned", report.Pruned),
	}
	if failed := report.FailedSymbols(); len(failed) > 0 {
		n.logger.Warn("contract refresh incomplete", append(attrs, slog.Any("failed", failed), slog.Any("error", report.Err()))...)
	} else {
		n.logger.Info("contract refresh complete", attrs...)
	}
	return report, nil
}

// Bandwidth returns addr's bandwidth snapshot.
func (n *Node) Bandwidth(ctx context.Context, addr tron.Address) (resources.Snapshot, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.accountant.Bandwidth(ctx, addr)
}

// Energy returns addr's energy snapshot.
func (n *Node) Energy(ctx context.Context, addr tron.Address) (resources.Snapshot, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.accountant.Energy(ctx, addr)
}

// Balance returns addr's balance in currency as whole units.
func (n *Node) Balance(ctx context.Context, addr tron.Address, currency string) (decimal.Decimal, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.accountant.Balance(ctx, addr, currency)
}

// IsActive reports whether addr has been activated on chain.
func (n *Node) IsActive(ctx context.Context, addr tron.Address) (bool, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.accountant.IsActive(ctx, addr)
}

// Delegated returns what owner has staked for recipient, in TRX.
func (n *Node) Delegated(ctx context.Context, owner, recipient tron.Address) (resources.Delegation, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.accountant.Delegated(ctx, owner, recipient)
}

// DelegatedAmount returns one delegated amount; ResourceBoth sums both.
func (n *Node) DelegatedAmount(ctx context.Context, owner, recipient tron.Address, kind resources.ResourceKind) (decimal.Decimal, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.accountant.DelegatedAmount(ctx, owner, recipient, kind)
}

// HasDelegated reports whether owner has any of kind delegated to recipient.
func (n *Node) HasDelegated(ctx context.Context, owner, recipient tron.Address, kind resources.ResourceKind) (bool, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.accountant.HasDelegated(ctx, owner, recipient, kind)
}

// BurnEnergyCost prices amountSun of burnt TRX in energy at the current fee.
func (n *Node) BurnEnergyCost(ctx context.Context, amountSun int64) (decimal.Decimal, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.calculator.BurnEnergyCost(ctx, amountSun)
}

// RequiredEnergy returns how much of requested energy addr would pay for.
func (n *Node) RequiredEnergy(ctx context.Context, addr tron.Address, requested int64) (int64, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.calculator.RequiredEnergy(ctx, addr, requested)
}

// ChainParameter returns a named chain parameter, zero when unreported.
func (n *Node) ChainParameter(ctx context.Context, key string) (int64, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.calculator.ChainParameter(ctx, key)
}

// EstimateTransfer prices a transfer of currency from addr. Tokens must be
// registered in the contract registry as well as known to the token table.
func (n *Node) EstimateTransfer(ctx context.Context, from tron.Address, currency string, recipientHoldsToken bool) (fees.Estimate, error) {
	if !n.HasCurrency(currency) {
		return fees.Estimate{}, fmt.Errorf("%w: %s", resources.ErrCurrencyNotSupported, tron.NormalizeSymbol(currency))
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.calculator.EstimateTransfer(ctx, from, currency, recipientHoldsToken)
}

// NextWalletIndex returns the index the next central wallet will receive.
func (n *Node) NextWalletIndex(ctx context.Context) (int64, error) {
	return n.allocator.Peek(ctx)
}
