package models

import "time"

// PredictionResponse is the API representation of a Prediction.
// Fees are rendered as decimal wei strings.
type PredictionResponse struct {
	ChainID     uint64    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	FromBlock   uint64    `json:"from_block"`
	Percentile  float64   `json:"percentile"`
	FeeWei      string    `json:"fee_wei"`
	Provisional bool      `json:"provisional"`
	ComputedAt  time.Time `json:"computed_at"`
}

// ToResponse converts a Prediction to its API representation
func (p *Prediction) ToResponse() *PredictionResponse {
	fee := "0"
	if p.Fee != nil {
		fee = p.Fee.String()
	}

	return &PredictionResponse{
		ChainID:     p.ChainID,
		BlockNumber: p.BlockNumber,
		FromBlock:   p.FromBlock,
		Percentile:  p.Percentile,
		FeeWei:      fee,
		Provisional: p.Provisional,
		ComputedAt:  p.ComputedAt,
	}
}

// ChainStatusResponse combines the store counts of a chain with its pipeline state.
type ChainStatusResponse struct {
	ChainStatus
	Name           string `json:"name"`
	Synced         bool   `json:"synced"`
	NextBlock      uint64 `json:"next_block"`
	PendingBlocks  int    `json:"pending_blocks"`
	EventsReplayed uint64 `json:"events_replayed"`
}

// StatusResponse lists the state of every configured chain.
type StatusResponse struct {
	Chains []ChainStatusResponse `json:"chains"`
}
