package services

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// ChainClient is the rate limited chain access used by the pipeline components.
// It is implemented by evm.RateLimitedClient.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FetchGasSample(ctx context.Context, blockNumber uint64) (*models.GasSample, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeBlockNumbers(ctx context.Context, ch chan<- uint64) (ethereum.Subscription, error)
	SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ChainContext carries everything a component needs to work on one chain.
// Each chain gets its own context; components never share state across chains.
type ChainContext struct {
	Config config.ChainConfig
	Client ChainClient
	DB     db.Database
	Logger zerolog.Logger
}

func NewChainContext(chain config.ChainConfig, client ChainClient, database db.Database, logger zerolog.Logger) *ChainContext {
	return &ChainContext{
		Config: chain,
		Client: client,
		DB:     database,
		Logger: logger.With().Uint64(logging.FieldChain, chain.ChainID).Logger(),
	}
}

// ID returns the chain id.
func (c *ChainContext) ID() uint64 {
	return c.Config.ChainID
}

// ComponentLogger derives the logger of a pipeline component.
func (c *ChainContext) ComponentLogger(module string) zerolog.Logger {
	return c.Logger.With().Str(logging.FieldModule, module).Logger()
}
