package tron

import (
	"errors"
	"fmt"
	"strings"
)

// Network names a Tron deployment.
type Network string

const (
	Mainnet Network = "mainnet"
	Shasta  Network = "shasta"
	Nile    Network = "nile"
)

// ParseNetwork normalises a configured network name.
func ParseNetwork(raw string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(raw))) {
	case Mainnet, "":
		return Mainnet, nil
	case Shasta:
		return Shasta, nil
	case Nile:
		return Nile, nil
	default:
		return "", fmt.Errorf("tron: unknown network %q", raw)
	}
}

// IsMainnet reports whether n is the production network.
func (n Network) IsMainnet() bool {
	return n == Mainnet || n == ""
}

// Token describes a TRC-20 token the service knows how to price transfers for.
type Token struct {
	Name     string
	Symbol   string
	Address  Address
	Decimals int
	// Bandwidth consumed by a transfer call.
	Bandwidth int64
	// FeeLimit is the maximum TRX burnt by a transfer.
	FeeLimit int64
	// FullEnergy is the energy a transfer costs when the recipient already holds the token.
	FullEnergy int64
	// EmptyEnergy is the energy a transfer costs when the recipient holds none.
	EmptyEnergy int64
}

// TransferEnergy returns the energy a transfer costs for the given recipient state.
func (t Token) TransferEnergy(recipientHoldsToken bool) int64 {
	if recipientHoldsToken {
		return t.FullEnergy
	}
	return t.EmptyEnergy
}

// NativeTransferBandwidth is the bandwidth consumed by a plain TRX transfer.
const NativeTransferBandwidth int64 = 268

var ErrUnknownToken = errors.New("tron: unknown token")

var (
	mainnetTokens = []Token{
		{
			Name: "Tether USD", Symbol: "USDT",
			Address:  MustParseAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
			Decimals: 6, Bandwidth: 345, FeeLimit: 10,
			FullEnergy: 14631, EmptyEnergy: 29631,
		},
		{
			Name: "USD Coin", Symbol: "USDC",
			Address:  MustParseAddress("TEkxiTehnzSmSe2XqrBj4w32RUN966rdz8"),
			Decimals: 6, Bandwidth: 345, FeeLimit: 10,
			FullEnergy: 14035, EmptyEnergy: 29035,
		},
	}
	testnetTokens = []Token{
		{
			Name: "Tether USD", Symbol: "USDT",
			Address:  MustParseAddress("TRvz1r3URQq5otL7ioTbxVUfim9RVSm1hA"),
			Decimals: 6, Bandwidth: 345, FeeLimit: 1000,
			FullEnergy: 14631, EmptyEnergy: 29631,
		},
		{
			Name: "USD Coin", Symbol: "USDC",
			Address:  MustParseAddress("TK8fX7TpZqedXNYVn6RA24Xcxqox7hbn59"),
			Decimals: 6, Bandwidth: 345, FeeLimit: 1000,
			FullEnergy: 14380, EmptyEnergy: 28827,
		},
	}
)

// Tokens returns a copy of the token table for the network.
func Tokens(n Network) []Token {
	src := testnetTokens
	if n.IsMainnet() {
		src = mainnetTokens
	}
	return append([]Token(nil), src...)
}

// LookupToken finds a token descriptor by symbol (case-insensitive).
func LookupToken(n Network, symbol string) (Token, error) {
	normalized := NormalizeSymbol(symbol)
	for _, token := range Tokens(n) {
		if token.Symbol == normalized {
			return token, nil
		}
	}
	return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
}

// ValidateTokens checks that every symbol has a descriptor on the network and that the
// table itself is consistent. It is run once at startup.
func ValidateTokens(n Network, symbols []string) error {
	seenSymbols := make(map[string]struct{})
	seenAddresses := make(map[Address]struct{})
	for _, token := range Tokens(n) {
		if token.Symbol == "" || token.Symbol != NormalizeSymbol(token.Symbol) {
			return fmt.Errorf("tron: token %q has a non-canonical symbol", token.Symbol)
		}
		if !token.Address.Valid() {
			return fmt.Errorf("tron: token %s has an invalid address", token.Symbol)
		}
		if token.Decimals < 0 || token.Bandwidth <= 0 || token.FullEnergy <= 0 || token.EmptyEnergy < token.FullEnergy {
			return fmt.Errorf("tron: token %s has an inconsistent descriptor", token.Symbol)
		}
		if _, dup := seenSymbols[token.Symbol]; dup {
			return fmt.Errorf("tron: duplicate token symbol %s", token.Symbol)
		}
		if _, dup := seenAddresses[token.Address]; dup {
			return fmt.Errorf("tron: duplicate token address %s", token.Address)
		}
		seenSymbols[token.Symbol] = struct{}{}
		seenAddresses[token.Address] = struct{}{}
	}
	for _, symbol := range symbols {
		if IsNative(symbol) {
			continue
		}
		if _, ok := seenSymbols[NormalizeSymbol(symbol)]; !ok {
			return fmt.Errorf("%w: %s on %s", ErrUnknownToken, symbol, n)
		}
	}
	return nil
}
