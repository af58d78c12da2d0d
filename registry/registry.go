// Package registry tracks the token contracts the node can resolve by symbol or
// by on-chain address.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"tronnode/tron"
)

// ErrContractNotFound is returned when no contract is registered for a symbol or address.
var ErrContractNotFound = errors.New("registry: contract not found")

// Handle is a resolved, callable token contract.
type Handle interface {
	BalanceOf(ctx context.Context, owner tron.Address) (*big.Int, error)
}

// Contract is an immutable registry entry.
type Contract struct {
	Symbol       string
	Name         string
	Address      tron.Address
	DecimalPlace int
	Handle       Handle
}

// Metadata is the persisted description of a contract, before its handle is resolved.
type Metadata struct {
	Symbol       string
	Name         string
	Address      tron.Address
	DecimalPlace int
	// Err is set when the source could not decode the entry. Refresh reports
	// it as a failure and keeps any contract already registered for Symbol.
	Err error
}

// Source lists persisted contract metadata.
type Source interface {
	ListContracts(ctx context.Context) ([]Metadata, error)
}

// Resolver turns a contract address into a callable handle.
type Resolver interface {
	Resolve(ctx context.Context, addr tron.Address) (Handle, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, addr tron.Address) (Handle, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, addr tron.Address) (Handle, error) {
	return f(ctx, addr)
}

// Registry maps symbols to contracts and addresses to symbols. Both maps are only
// ever mutated together under the write lock.
type Registry struct {
	mu        sync.RWMutex
	bySymbol  map[string]Contract
	byAddress map[tron.Address]string
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger installs a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		bySymbol:  make(map[string]Contract),
		byAddress: make(map[tron.Address]string),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (c Contract) normalise() (Contract, error) {
	c.Symbol = tron.NormalizeSymbol(c.Symbol)
	switch {
	case c.Symbol == "":
		return c, fmt.Errorf("registry: symbol required")
	case tron.IsNative(c.Symbol):
		return c, fmt.Errorf("registry: %s is the native currency", c.Symbol)
	case !c.Address.Valid():
		return c, fmt.Errorf("registry: %s: invalid contract address", c.Symbol)
	case c.DecimalPlace < 0:
		return c, fmt.Errorf("registry: %s: negative decimal place", c.Symbol)
	case c.Handle == nil:
		return c, fmt.Errorf("registry: %s: contract handle required", c.Symbol)
	}
	return c, nil
}

// Register inserts or replaces a contract. A symbol keeps exactly one address and
// an address exactly one symbol; stale mappings on either side are dropped.
func (r *Registry) Register(c Contract) error {
	if r == nil {
		return fmt.Errorf("registry: not configured")
	}
	normalised, err := c.normalise()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(normalised)
	return nil
}

func (r *Registry) insertLocked(c Contract) {
	if prev, ok := r.bySymbol[c.Symbol]; ok && prev.Address != c.Address {
		delete(r.byAddress, prev.Address)
	}
	if prevSymbol, ok := r.byAddress[c.Address]; ok && prevSymbol != c.Symbol {
		delete(r.bySymbol, prevSymbol)
	}
	r.bySymbol[c.Symbol] = c
	r.byAddress[c.Address] = c.Symbol
}

func (r *Registry) removeLocked(symbol string) bool {
	c, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	delete(r.bySymbol, symbol)
	if r.byAddress[c.Address] == symbol {
		delete(r.byAddress, c.Address)
	}
	return true
}

// Remove drops a contract and its address mapping. It reports whether anything was removed.
func (r *Registry) Remove(symbol string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(tron.NormalizeSymbol(symbol))
}

// BySymbol resolves a contract by its symbol.
func (r *Registry) BySymbol(symbol string) (Contract, error) {
	if r == nil {
		return Contract{}, ErrContractNotFound
	}
	normalised := tron.NormalizeSymbol(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.bySymbol[normalised]
	if !ok {
		return Contract{}, fmt.Errorf("%w: symbol %q", ErrContractNotFound, normalised)
	}
	return c, nil
}

// ByAddress resolves a contract by its on-chain address.
func (r *Registry) ByAddress(addr tron.Address) (Contract, error) {
	if r == nil {
		return Contract{}, ErrContractNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbol, ok := r.byAddress[addr]
	if !ok {
		return Contract{}, fmt.Errorf("%w: address %s", ErrContractNotFound, addr)
	}
	c, ok := r.bySymbol[symbol]
	if !ok {
		return Contract{}, fmt.Errorf("%w: address %s", ErrContractNotFound, addr)
	}
	return c, nil
}

// HasSymbol reports whether a contract is registered under symbol.
func (r *Registry) HasSymbol(symbol string) bool {
	_, err := r.BySymbol(symbol)
	return err == nil
}

// HasAddress reports whether a contract is registered at addr.
func (r *Registry) HasAddress(addr tron.Address) bool {
	_, err := r.ByAddress(addr)
	return err == nil
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySymbol)
}

// Contracts returns a snapshot of all entries ordered by symbol.
func (r *Registry) Contracts() []Contract {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Contract, 0, len(r.bySymbol))
	for _, c := range r.bySymbol {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
