package models

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BridgeEventKind tags the lifecycle event variant.
type BridgeEventKind uint8

const (
	BridgeEventUnknown BridgeEventKind = iota
	BridgeEventOpened
	BridgeEventExecutionSubmitted
	BridgeEventWithdrawn
)

func (k BridgeEventKind) String() string {
	switch k {
	case BridgeEventOpened:
		return "BridgeRequested"
	case BridgeEventExecutionSubmitted:
		return "BridgeExecutionSubmitted"
	case BridgeEventWithdrawn:
		return "BridgeRequestWithdrawn"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// EventPosition orders chain events. Ties within a transaction are broken by log index.
type EventPosition struct {
	BlockNumber uint64 `json:"block_number"`
	TxIndex     uint   `json:"tx_index"`
	LogIndex    uint   `json:"log_index"`
}

// Less reports whether p sorts before o.
func (p EventPosition) Less(o EventPosition) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	if p.TxIndex != o.TxIndex {
		return p.TxIndex < o.TxIndex
	}
	return p.LogIndex < o.LogIndex
}

// Prev returns the position directly before p in the total order.
func (p EventPosition) Prev() EventPosition {
	switch {
	case p.LogIndex > 0:
		p.LogIndex--
	case p.TxIndex > 0:
		p.TxIndex--
		p.LogIndex = math.MaxUint
	case p.BlockNumber > 0:
		p.BlockNumber--
		p.TxIndex = math.MaxUint
		p.LogIndex = math.MaxUint
	}
	return p
}

func (p EventPosition) String() string {
	return fmt.Sprintf("%d/%d/%d", p.BlockNumber, p.TxIndex, p.LogIndex)
}

// BridgeEvent is a decoded BridgeWhenCheap lifecycle event.
// All three kinds carry the same (requestId, request) payload.
// Removed marks a log that a reorg took out of the canonical chain.
type BridgeEvent struct {
	Kind      BridgeEventKind
	ChainID   uint64
	Position  EventPosition
	BlockHash common.Hash
	TxHash    common.Hash
	RequestID *big.Int
	Request   BridgeRequest
	Removed   bool
}

// ToActiveRequest converts an opened event to the stored request.
func (e *BridgeEvent) ToActiveRequest() *ActiveBridgeRequest {
	return &ActiveBridgeRequest{
		ChainID:   e.ChainID,
		RequestID: new(big.Int).Set(e.RequestID),
		Request:   e.Request,
	}
}

// EventCursor is the position of the last replayed bridge event of a chain.
type EventCursor struct {
	ChainID  uint64
	Position EventPosition
}
