package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultBaseFee is recorded for blocks that carry no base fee (pre-London chains): 0.1 gwei.
var DefaultBaseFee = big.NewInt(100_000_000)

// GasSample is the base fee observed in a single block.
// There is at most one sample per (ChainID, BlockNumber).
type GasSample struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	UnixSeconds uint64   `json:"unix_seconds"`
	BaseFee     *big.Int `json:"base_fee"`
}

// BridgeUser is an address observed as the source of a bridge request.
type BridgeUser struct {
	ChainID uint64         `json:"chain_id"`
	Address common.Address `json:"address"`
}

// BridgeRequest mirrors the request tuple emitted by the BridgeWhenCheap contract.
// Field names follow the ABI so the tuple can be converted with abi.ConvertType.
type BridgeRequest struct {
	Source              common.Address
	Destination         common.Address
	IsTokenTransfer     bool
	Token               common.Address
	Amount              *big.Int
	AmountOutMin        *big.Int
	WantedL1GasPrice    *big.Int
	L2execGasFeeDeposit *big.Int
}

// ActiveBridgeRequest is a request that was opened and not yet executed or withdrawn.
// Keyed by (ChainID, Request.Source, RequestID).
type ActiveBridgeRequest struct {
	ChainID   uint64        `json:"chain_id"`
	RequestID *big.Int      `json:"request_id"`
	Request   BridgeRequest `json:"request"`
}

// Prediction is a percentile of base fees over a trailing block window.
type Prediction struct {
	ChainID     uint64    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	FromBlock   uint64    `json:"from_block"`
	Percentile  float64   `json:"percentile"`
	Fee         *big.Int  `json:"fee"`
	Provisional bool      `json:"provisional"`
	ComputedAt  time.Time `json:"computed_at"`
}

// ChainStatus holds the row counts reported periodically for a chain.
type ChainStatus struct {
	ChainID        uint64 `json:"chain_id"`
	GasSamples     uint64 `json:"gas_samples"`
	KnownUsers     uint64 `json:"known_users"`
	ActiveRequests uint64 `json:"active_requests"`
}
