package db

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

var (
	// ErrNoSamples is returned by PercentileFee when the window holds no gas samples.
	ErrNoSamples = errors.New("no gas samples in range")

	// ErrChainNotInitialized is returned for chains that were not passed to InitChains.
	ErrChainNotInitialized = errors.New("chain not initialized")

	// ErrUnsupportedURL is returned by Open for unknown database URL schemes.
	ErrUnsupportedURL = errors.New("unsupported database url")
)

// Database is the persistence store shared by every chain pipeline.
// Lookups of absent rows return nil (or false) without an error.
type Database interface {
	// InitChains creates the per-chain storage for every chain id. Safe to call repeatedly.
	InitChains(ctx context.Context, chainIDs []uint64) error

	// Gas samples
	RecordGasSample(ctx context.Context, sample *models.GasSample) error
	LatestRecordedBlock(ctx context.Context, chainID uint64) (uint64, bool, error)
	GetGasSample(ctx context.Context, chainID, blockNumber uint64) (*models.GasSample, error)
	PercentileFee(ctx context.Context, chainID, fromBlock, toBlock uint64, percentile float64) (*big.Int, error)

	// Bridge users and requests
	AddKnownUser(ctx context.Context, chainID uint64, address common.Address) error
	GetActiveRequest(
		ctx context.Context,
		chainID uint64,
		source common.Address,
		requestID *big.Int,
	) (*models.ActiveBridgeRequest, error)
	AddActiveRequest(ctx context.Context, request *models.ActiveBridgeRequest) error
	DeleteActiveRequest(ctx context.Context, chainID uint64, source common.Address, requestID *big.Int) error

	// Event tracking
	GetEventCursor(ctx context.Context, chainID uint64) (*models.EventCursor, error)
	UpdateEventCursor(ctx context.Context, cursor *models.EventCursor) error

	Status(ctx context.Context, chainID uint64) (*models.ChainStatus, error)

	Ping() error
	Close() error
}
