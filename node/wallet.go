package node

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tronnode/hdwallet"
	"tronnode/observability"
)

// WalletKind distinguishes custodial wallets derived from the central mnemonic
// from wallets derived from a caller-held mnemonic.
type WalletKind string

const (
	CentralWallet WalletKind = "central"
	UserWallet    WalletKind = "user"
)

// ParseWalletKind parses a wallet kind; empty selects CentralWallet.
func ParseWalletKind(raw string) (WalletKind, error) {
	switch WalletKind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CentralWallet:
		return CentralWallet, nil
	case UserWallet:
		return UserWallet, nil
	default:
		return "", fmt.Errorf("node: unknown wallet kind %q", raw)
	}
}

// WalletRequest describes a wallet to create. Mnemonic, Passphrase and Index
// apply to user wallets only; a user wallet without a mnemonic gets a freshly
// generated 24-word one.
type WalletRequest struct {
	Kind       WalletKind
	Mnemonic   string
	Passphrase string
	Index      uint32
}

// Wallet is a created wallet. Central wallets never carry the mnemonic.
type Wallet struct {
	hdwallet.Wallet
	Kind WalletKind
}

// CreateWallet derives a wallet. Central wallets take the next index from the
// allocator; if derivation then fails the index stays consumed and is logged
// as skipped.
func (n *Node) CreateWallet(ctx context.Context, req WalletRequest) (wallet Wallet, err error) {
	kind := req.Kind
	if kind == "" {
		kind = CentralWallet
	}
	ctx, span := n.tracer.Start(ctx, "node.create_wallet",
		trace.WithAttributes(attribute.String("wallet.kind", string(kind))))
	defer func() {
		observability.Walletd().RecordWallet(string(kind), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int64("wallet.index", int64(wallet.Index)))
		}
		span.End()
	}()

	switch kind {
	case CentralWallet:
		return n.createCentralWallet(ctx)
	case UserWallet:
		return n.createUserWallet(req)
	default:
		return Wallet{}, fmt.Errorf("node: unknown wallet kind %q", kind)
	}
}

func (n *Node) createCentralWallet(ctx context.Context) (Wallet, error) {
	if n.centralMnemonic == "" {
		return Wallet{}, fmt.Errorf("node: central mnemonic not configured")
	}
	index, err := n.allocator.Next(ctx)
	if err != nil {
		return Wallet{}, fmt.Errorf("node: allocate wallet index: %w", err)
	}
	if index < 0 || index > math.MaxUint32 {
		n.logger.Error("wallet index skipped", slog.Int64("index", index), slog.String("reason", "out of range"))
		return Wallet{}, fmt.Errorf("node: wallet index %d out of range", index)
	}
	derived, err := n.deriver.Derive(n.centralMnemonic, n.centralPassphrase, uint32(index))
	if err != nil {
		n.logger.Error("wallet index skipped", slog.Int64("index", index), slog.Any("error", err))
		return Wallet{}, fmt.Errorf("node: derive central wallet %d: %w", index, err)
	}
	derived.Mnemonic = ""
	n.logger.Info("central wallet created",
		slog.Int64("index", index),
		slog.String("address", derived.Address.String()))
	return Wallet{Wallet: derived, Kind: CentralWallet}, nil
}

func (n *Node) createUserWallet(req WalletRequest) (Wallet, error) {
	mnemonic := strings.TrimSpace(req.Mnemonic)
	if mnemonic == "" {
		generated, err := n.deriver.GenerateMnemonic()
		if err != nil {
			return Wallet{}, fmt.Errorf("node: generate mnemonic: %w", err)
		}
		mnemonic = generated
	}
	derived, err := n.deriver.Derive(mnemonic, req.Passphrase, req.Index)
	if err != nil {
		return Wallet{}, fmt.Errorf("node: derive user wallet: %w", err)
	}
	return Wallet{Wallet: derived, Kind: UserWallet}, nil
}
