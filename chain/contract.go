package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"tronnode/tron"
)

const trc20ABI = `[
	{"constant":true,"inputs":[{"name":"who","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var parsedTRC20 = mustParseABI(trc20ABI)

// zeroOwner is used as the caller of constant calls; the node does not require it
// to be an activated account.
var zeroOwner = tron.Address{tron.AddressPrefix}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse trc20 abi: %v", err))
	}
	return parsed
}

// TokenContract is a handle on a deployed TRC-20 contract.
type TokenContract struct {
	client  *Client
	address tron.Address
	name    string
}

// TokenContract resolves the contract at addr, failing with ErrContractNotFound
// when nothing is deployed there.
func (c *Client) TokenContract(ctx context.Context, addr tron.Address) (*TokenContract, error) {
	info, err := c.Contract(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &TokenContract{client: c, address: addr, name: info.Name}, nil
}

// Address returns the contract address.
func (t *TokenContract) Address() tron.Address {
	return t.address
}

// Name returns the on-chain contract name, if the deployer set one.
func (t *TokenContract) Name() string {
	return t.name
}

// BalanceOf returns the raw token balance of owner in the token's smallest unit.
func (t *TokenContract) BalanceOf(ctx context.Context, owner tron.Address) (*big.Int, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("chain: token contract not configured")
	}
	method := parsedTRC20.Methods["balanceOf"]
	param, err := method.Inputs.Pack(owner.EVM())
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	data, err := t.client.TriggerConstant(ctx, zeroOwner, t.address, method.Sig, param)
	if err != nil {
		return nil, err
	}
	values, err := method.Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack balanceOf: %w", ErrUnavailable, err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected balanceOf result %T", ErrUnavailable, values[0])
	}
	return balance, nil
}

func decodeHex(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
}

// decodeMessage renders node error messages, which are hex-encoded ASCII.
func decodeMessage(raw string) string {
	decoded, err := decodeHex(raw)
	if err != nil || len(decoded) == 0 {
		return raw
	}
	for _, r := range string(decoded) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return raw
		}
	}
	return string(decoded)
}
