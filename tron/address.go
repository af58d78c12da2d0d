package tron

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
)

// AddressPrefix is the leading byte of every Tron account address.
const AddressPrefix byte = 0x41

// AddressLength is the length in bytes of an address including the prefix.
const AddressLength = 21

// ErrInvalidAddress is returned when a value cannot be decoded as a Tron address.
var ErrInvalidAddress = errors.New("tron: invalid address")

// Address is a 21-byte Tron address (0x41 prefix followed by the 20-byte account hash).
type Address [AddressLength]byte

// ParseAddress decodes either the base58check form (T...) or the 41-prefixed hex form.
func ParseAddress(raw string) (Address, error) {
	var addr Address
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return addr, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if len(trimmed) == 2*AddressLength || strings.HasPrefix(trimmed, "0x") {
		decoded, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
		if err != nil {
			return addr, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if len(decoded) != AddressLength || decoded[0] != AddressPrefix {
			return addr, fmt.Errorf("%w: %s", ErrInvalidAddress, trimmed)
		}
		copy(addr[:], decoded)
		return addr, nil
	}
	payload, version, err := base58.CheckDecode(trimmed)
	if err != nil {
		return addr, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if version != AddressPrefix || len(payload) != common.AddressLength {
		return addr, fmt.Errorf("%w: %s", ErrInvalidAddress, trimmed)
	}
	addr[0] = AddressPrefix
	copy(addr[1:], payload)
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error. Intended for static tables.
func MustParseAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromEVM converts a 20-byte account hash into a Tron address.
func AddressFromEVM(evm common.Address) Address {
	var addr Address
	addr[0] = AddressPrefix
	copy(addr[1:], evm.Bytes())
	return addr
}

// String renders the base58check form.
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return base58.CheckEncode(a[1:], a[0])
}

// Hex renders the 41-prefixed hex form used by the full-node API.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// EVM returns the 20-byte account hash as used inside contract calls.
func (a Address) EVM() common.Address {
	return common.BytesToAddress(a[1:])
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Valid reports whether the address carries the Tron prefix.
func (a Address) Valid() bool {
	return a[0] == AddressPrefix
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
