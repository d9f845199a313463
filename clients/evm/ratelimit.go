package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

const headBuffer = 64

// ChainReader is the subset of ethclient.Client the indexer reads through.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// RateLimitedClient shares one request budget per chain between every caller.
// Each call waits for a token and then runs bounded by the configured RPC timeout.
// Errors returned by the underlying reader are passed through untouched.
type RateLimitedClient struct {
	reader       ChainReader
	limiter      *rate.Limiter
	chainID      uint64
	timeout      time.Duration
	pollInterval time.Duration
	polling      bool
	logger       zerolog.Logger
}

// NewRateLimitedClient admits at most MaxRequestsPerSecond calls in any rolling second.
// The bucket holds a single token so calls are spaced evenly instead of bursting.
func NewRateLimitedClient(reader ChainReader, chain config.ChainConfig, logger zerolog.Logger) *RateLimitedClient {
	perSecond := chain.MaxRequestsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}

	return &RateLimitedClient{
		reader:       reader,
		limiter:      rate.NewLimiter(rate.Every(time.Second/time.Duration(perSecond)), 1),
		chainID:      chain.ChainID,
		timeout:      chain.RPCTimeout,
		pollInterval: chain.PollInterval,
		polling:      !IsWebSocketURL(chain.RPCURL),
		logger: logger.With().
			Uint64(logging.FieldChain, chain.ChainID).
			Str(logging.FieldModule, "rate_limited_client").
			Logger(),
	}
}

// ChainID returns the chain this client reads from.
func (c *RateLimitedClient) ChainID() uint64 {
	return c.chainID
}

// acquire blocks until a request token is available and returns a context bounded by the RPC timeout.
// Only cancellation of ctx can make it fail.
func (c *RateLimitedClient) acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	if c.timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

func (c *RateLimitedClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	return c.reader.BlockNumber(ctx)
}

func (c *RateLimitedClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	ctx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return c.reader.HeaderByNumber(ctx, number)
}

func (c *RateLimitedClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return c.reader.FilterLogs(ctx, q)
}

// FetchGasSample reads the header of blockNumber and converts it to a gas sample.
func (c *RateLimitedClient) FetchGasSample(ctx context.Context, blockNumber uint64) (*models.GasSample, error) {
	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, err
	}

	return GasSampleFromHeader(c.chainID, header), nil
}

// GasSampleFromHeader builds a sample, recording models.DefaultBaseFee for headers without a base fee.
func GasSampleFromHeader(chainID uint64, header *types.Header) *models.GasSample {
	baseFee := models.DefaultBaseFee
	if header.BaseFee != nil {
		baseFee = header.BaseFee
	}

	return &models.GasSample{
		ChainID:     chainID,
		BlockNumber: header.Number.Uint64(),
		UnixSeconds: header.Time,
		BaseFee:     new(big.Int).Set(baseFee),
	}
}

// SubscribeBlockNumbers streams new head block numbers. Endpoints without
// notification support are polled every PollInterval instead.
func (c *RateLimitedClient) SubscribeBlockNumbers(ctx context.Context, ch chan<- uint64) (ethereum.Subscription, error) {
	if c.polling {
		return c.pollBlockNumbers(ch), nil
	}

	subCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	headers := make(chan *types.Header, headBuffer)

	sub, err := c.reader.SubscribeNewHead(subCtx, headers)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		c.logger.Warn().Msg("Endpoint does not support head notifications, polling instead")
		return c.pollBlockNumbers(ch), nil
	}
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		for {
			select {
			case header := <-headers:
				select {
				case ch <- header.Number.Uint64():
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *RateLimitedClient) pollBlockNumbers(ch chan<- uint64) ethereum.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := quitContext(quit)
		defer cancel()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		var last uint64
		for {
			bn, err := c.BlockNumber(ctx)
			switch {
			case ctx.Err() != nil:
				return nil
			case err != nil:
				c.logger.Warn().Err(err).Msg("Failed to poll block number")
			case bn > last:
				last = bn
				select {
				case ch <- bn:
				case <-quit:
					return nil
				}
			}

			select {
			case <-ticker.C:
			case <-quit:
				return nil
			}
		}
	})
}

// SubscribeLogs streams logs matching q. Endpoints without notification
// support are polled with FilterLogs every PollInterval, starting after the current head.
func (c *RateLimitedClient) SubscribeLogs(
	ctx context.Context,
	q ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	if c.polling {
		return c.pollLogs(ctx, q, ch)
	}

	subCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	sub, err := c.reader.SubscribeFilterLogs(subCtx, q, ch)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		c.logger.Warn().Msg("Endpoint does not support log notifications, polling instead")
		return c.pollLogs(ctx, q, ch)
	}

	return sub, err
}

func (c *RateLimitedClient) pollLogs(
	ctx context.Context,
	q ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	from := head + 1

	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := quitContext(quit)
		defer cancel()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
			case <-quit:
				return nil
			}

			head, err := c.BlockNumber(ctx)
			if err != nil {
				c.logger.Warn().Err(err).Msg("Failed to poll block number for logs")
				continue
			}
			if head < from {
				continue
			}

			query := q
			query.FromBlock = new(big.Int).SetUint64(from)
			query.ToBlock = new(big.Int).SetUint64(head)

			logs, err := c.FilterLogs(ctx, query)
			if err != nil {
				c.logger.Warn().Err(err).Uint64("from_block", from).Msg("Failed to poll logs")
				continue
			}

			for _, vLog := range logs {
				select {
				case ch <- vLog:
				case <-quit:
					return nil
				}
			}

			from = head + 1
		}
	}), nil
}

// quitContext returns a context that is cancelled once quit is closed.
func quitContext(quit <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
