package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tronnode/tron"
)

// Failure records a contract that could not be resolved during a refresh.
type Failure struct {
	Symbol  string
	Address tron.Address
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Symbol, f.Address, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// RefreshReport summarises a refresh run.
type RefreshReport struct {
	Applied  []string
	Pruned   []string
	Failures []Failure
}

// FailedSymbols lists the symbols of failed entries.
func (r RefreshReport) FailedSymbols() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Symbol)
	}
	return out
}

// Err joins the per-entry failures, or returns nil when every entry resolved.
func (r RefreshReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Refresh reloads the registry from source, resolving each entry through resolver.
//
// Resolution happens without holding the registry lock; successful entries are then
// applied in a single critical section so readers never observe a half-applied
// refresh. A failed entry leaves any previously registered contract for that symbol
// in place, as does an entry the source marked with Err. Symbols absent from the listing are pruned. If ctx is cancelled while
// resolving, nothing is applied.
func (r *Registry) Refresh(ctx context.Context, source Source, resolver Resolver) (RefreshReport, error) {
	var report RefreshReport
	if r == nil {
		return report, fmt.Errorf("registry: not configured")
	}
	if source == nil || resolver == nil {
		return report, fmt.Errorf("registry: source and resolver required")
	}
	listed, err := source.ListContracts(ctx)
	if err != nil {
		return report, fmt.Errorf("registry: list contracts: %w", err)
	}

	seenSymbols := make(map[string]struct{}, len(listed))
	seenAddresses := make(map[tron.Address]string, len(listed))
	resolved := make([]Contract, 0, len(listed))
	for _, meta := range listed {
		if err := ctx.Err(); err != nil {
			return RefreshReport{}, fmt.Errorf("registry: refresh interrupted: %w", err)
		}
		symbol := tron.NormalizeSymbol(meta.Symbol)
		if _, dup := seenSymbols[symbol]; dup {
			report.Failures = append(report.Failures, Failure{Symbol: symbol, Address: meta.Address, Err: fmt.Errorf("duplicate symbol in listing")})
			continue
		}
		seenSymbols[symbol] = struct{}{}
		if meta.Err != nil {
			report.Failures = append(report.Failures, Failure{Symbol: symbol, Address: meta.Address, Err: meta.Err})
			r.logger.Warn("registry: listed contract unreadable", "symbol", symbol, "error", meta.Err)
			continue
		}
		if other, dup := seenAddresses[meta.Address]; dup {
			report.Failures = append(report.Failures, Failure{Symbol: symbol, Address: meta.Address, Err: fmt.Errorf("address already listed for %s", other)})
			continue
		}
		seenAddresses[meta.Address] = symbol

		handle, err := resolver.Resolve(ctx, meta.Address)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return RefreshReport{}, fmt.Errorf("registry: refresh interrupted: %w", ctxErr)
			}
			report.Failures = append(report.Failures, Failure{Symbol: symbol, Address: meta.Address, Err: err})
			r.logger.Warn("registry: resolve contract failed", "symbol", symbol, "address", meta.Address.String(), "error", err)
			continue
		}
		c, err := Contract{
			Symbol:       symbol,
			Name:         meta.Name,
			Address:      meta.Address,
			DecimalPlace: meta.DecimalPlace,
			Handle:       handle,
		}.normalise()
		if err != nil {
			report.Failures = append(report.Failures, Failure{Symbol: symbol, Address: meta.Address, Err: err})
			continue
		}
		resolved = append(resolved, c)
	}
	if err := ctx.Err(); err != nil {
		return RefreshReport{}, fmt.Errorf("registry: refresh interrupted: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for symbol := range r.bySymbol {
		if _, ok := seenSymbols[symbol]; !ok {
			r.removeLocked(symbol)
			report.Pruned = append(report.Pruned, symbol)
		}
	}
	for _, c := range resolved {
		r.insertLocked(c)
		report.Applied = append(report.Applied, c.Symbol)
	}
	sort.Strings(report.Pruned)
	sort.Strings(report.Applied)
	return report, nil
}
