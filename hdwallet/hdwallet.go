// Package hdwallet derives Tron accounts from BIP39 mnemonics along the
// m/44'/195'/0'/0/index path.
package hdwallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"tronnode/tron"
)

const (
	// CoinType is Tron's SLIP-0044 coin type.
	CoinType uint32 = 195

	purpose        uint32 = 44
	hardenedOffset uint32 = hdkeychain.HardenedKeyStart

	// MnemonicEntropyBits yields 24-word mnemonics.
	MnemonicEntropyBits = 256
)

// ErrInvalidMnemonic is returned when a mnemonic fails the BIP39 checksum.
var ErrInvalidMnemonic = errors.New("hdwallet: invalid mnemonic")

// Wallet is a derived account. PrivateKey and PublicKey are hex encoded; the
// public key is in compressed form.
type Wallet struct {
	Address    tron.Address
	PublicKey  string
	PrivateKey string
	Mnemonic   string
	Index      uint32
	Path       string
}

// Deriver produces wallets from mnemonics.
type Deriver interface {
	GenerateMnemonic() (string, error)
	Derive(mnemonic, passphrase string, index uint32) (Wallet, error)
}

// BIP44 is the Deriver used in production.
type BIP44 struct{}

var _ Deriver = BIP44{}

// GenerateMnemonic implements Deriver.
func (BIP44) GenerateMnemonic() (string, error) { return GenerateMnemonic() }

// Derive implements Deriver.
func (BIP44) Derive(mnemonic, passphrase string, index uint32) (Wallet, error) {
	return Derive(mnemonic, passphrase, index)
}

// GenerateMnemonic returns a fresh 24-word English mnemonic.
func GenerateMnemonic() (string, error) {
	entropy := make([]byte, MnemonicEntropyBits/8)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("hdwallet: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("hdwallet: mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether mnemonic is a well-formed BIP39 phrase.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(normalize(mnemonic))
}

// Path renders the derivation path for index.
func Path(index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/0'/0/%d", purpose, CoinType, index)
}

// Derive returns the account at m/44'/195'/0'/0/index of mnemonic.
func Derive(mnemonic, passphrase string, index uint32) (Wallet, error) {
	if index >= hardenedOffset {
		return Wallet{}, fmt.Errorf("hdwallet: index %d out of range", index)
	}
	mnemonic = normalize(mnemonic)
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return Wallet{}, fmt.Errorf("hdwallet: master key: %w", err)
	}
	for _, child := range []uint32{
		purpose + hardenedOffset,
		CoinType + hardenedOffset,
		hardenedOffset,
		0,
		index,
	} {
		key, err = key.Derive(child)
		if err != nil {
			return Wallet{}, fmt.Errorf("hdwallet: derive %s: %w", Path(index), err)
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return Wallet{}, fmt.Errorf("hdwallet: private key: %w", err)
	}
	pub := priv.PubKey()
	return Wallet{
		Address:    AddressOf(pub),
		PublicKey:  hex.EncodeToString(pub.SerializeCompressed()),
		PrivateKey: hex.EncodeToString(priv.Serialize()),
		Mnemonic:   mnemonic,
		Index:      index,
		Path:       Path(index),
	}, nil
}

// AddressOf returns the Tron address controlled by pub.
func AddressOf(pub *btcec.PublicKey) tron.Address {
	var addr tron.Address
	addr[0] = tron.AddressPrefix
	hash := crypto.Keccak256(pub.SerializeUncompressed()[1:])
	copy(addr[1:], hash[12:])
	return addr
}

func normalize(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}
