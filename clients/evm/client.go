package evm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
)

const dialVerifyTimeout = 5 * time.Second

// ResolveClientsFromConfig provisions a rate limited client per configured chain.
func ResolveClientsFromConfig(
	ctx context.Context,
	cfg config.Config,
	logger zerolog.Logger,
) (map[uint64]*RateLimitedClient, error) {
	var (
		clients             = make(map[uint64]*RateLimitedClient, len(cfg.ChainConfigs))
		mu                  = sync.Mutex{}
		errGroup, ctxShared = errgroup.WithContext(ctx)
	)

	for chainID := range cfg.ChainConfigs {
		chain := *cfg.ChainConfigs[chainID]
		errGroup.Go(func() error {
			client, err := NewFromConfig(ctxShared, chain, logger)
			if err != nil {
				return errors.Wrapf(err, "failed to create client for chain %d", chain.ChainID)
			}

			mu.Lock()
			clients[chain.ChainID] = NewRateLimitedClient(client, chain, logger)
			mu.Unlock()

			return nil
		})
	}

	if err := errGroup.Wait(); err != nil {
		return nil, err
	}

	return clients, nil
}

// NewFromConfig dials the chain RPC endpoint and verifies the connection
// by asking for the chain id and the current block number.
func NewFromConfig(
	ctx context.Context,
	chain config.ChainConfig,
	logger zerolog.Logger,
) (*ethclient.Client, error) {
	logger = logger.With().
		Uint64(logging.FieldChain, chain.ChainID).
		Str(logging.FieldModule, "evm_client").
		Logger()

	isWebSocket := IsWebSocketURL(chain.RPCURL)

	var (
		rpcClient *rpc.Client
		err       error
	)

	if isWebSocket {
		rpcClient, err = rpc.DialWebsocket(ctx, chain.RPCURL, "")
	} else {
		logger.Warn().Msg("Using HTTP RPC. Subscriptions fall back to polling. Consider using WebSockets")
		rpcClient, err = rpc.DialContext(ctx, chain.RPCURL)
	}

	if err != nil {
		return nil, errors.Wrap(err, "failed to dial rpc")
	}

	evmClient := ethclient.NewClient(rpcClient)

	ctx, cancel := context.WithTimeout(ctx, dialVerifyTimeout)
	defer cancel()

	remoteChainID, err := evmClient.ChainID(ctx)
	if err != nil {
		evmClient.Close()
		return nil, errors.Wrap(err, "failed to get chain id")
	}

	if remoteChainID.Uint64() != chain.ChainID {
		evmClient.Close()
		return nil, errors.Errorf("rpc reports chain id %s, expected %d", remoteChainID, chain.ChainID)
	}

	bn, err := evmClient.BlockNumber(ctx)
	if err != nil {
		evmClient.Close()
		return nil, errors.Wrap(err, "failed to get block number")
	}

	logger.Info().
		Bool("is_websocket", isWebSocket).
		Uint64(logging.FieldBlock, bn).
		Msg("Successfully created EVM client")

	return evmClient, nil
}

// IsWebSocketURL reports whether the endpoint supports push subscriptions.
func IsWebSocketURL(url string) bool {
	return strings.HasPrefix(url, "wss://") || strings.HasPrefix(url, "ws://")
}
