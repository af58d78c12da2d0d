package chain

import "errors"

var (
	// ErrUnavailable reports a transient node failure: transport error, timeout,
	// 5xx/429 status or an undecodable body. Callers may retry.
	ErrUnavailable = errors.New("chain: node unavailable")

	// ErrRejected reports that the node understood the request and refused it.
	ErrRejected = errors.New("chain: request rejected by node")

	// ErrAddressNotFound is returned when the account has never been activated.
	ErrAddressNotFound = errors.New("chain: address not found")

	// ErrContractNotFound is returned when no contract is deployed at an address.
	ErrContractNotFound = errors.New("chain: contract not found")
)

// Parameter is one entry of the node's chain parameter list.
type Parameter struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// Well-known chain parameter keys.
const (
	ParamEnergyFee      = "getEnergyFee"
	ParamTransactionFee = "getTransactionFee"
)

// AccountResource mirrors the fields of /wallet/getaccountresource used for
// resource accounting. Absent fields decode as zero.
type AccountResource struct {
	FreeNetLimit int64 `json:"freeNetLimit"`
	FreeNetUsed  int64 `json:"freeNetUsed"`
	NetLimit     int64 `json:"NetLimit"`
	NetUsed      int64 `json:"NetUsed"`
	EnergyLimit  int64 `json:"EnergyLimit"`
	EnergyUsed   int64 `json:"EnergyUsed"`
}

// Account is the subset of /wallet/getaccount the service reads.
type Account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// Delegation is a single stake-2.0 delegation record between two accounts.
type Delegation struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	FrozenForBandwidth int64  `json:"frozen_balance_for_bandwidth"`
	FrozenForEnergy    int64  `json:"frozen_balance_for_energy"`
	ExpireForBandwidth int64  `json:"expire_time_for_bandwidth"`
	ExpireForEnergy    int64  `json:"expire_time_for_energy"`
}

// ContractInfo describes a deployed smart contract.
type ContractInfo struct {
	Address       string `json:"contract_address"`
	OriginAddress string `json:"origin_address"`
	Name          string `json:"name"`
}
