package evm

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/clients/evm/mocks"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging/logtest"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

func testChain(perSecond int, timeout time.Duration) config.ChainConfig {
	return config.ChainConfig{
		ChainID:              10,
		RPCURL:               "wss://rpc.example",
		MaxRequestsPerSecond: perSecond,
		RPCTimeout:           timeout,
		PollInterval:         10 * time.Millisecond,
	}
}

func TestRateLimitedClient_BoundsRequestRate(t *testing.T) {
	const perSecond = 10

	var (
		mu    sync.Mutex
		calls []time.Time
	)

	reader := &mocks.MockChainReader{}
	reader.On("BlockNumber", mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			calls = append(calls, time.Now())
			mu.Unlock()
		}).
		Return(uint64(42), nil)

	client := NewRateLimitedClient(reader, testChain(perSecond, time.Second), logtest.New(t))

	var wg sync.WaitGroup
	for i := 0; i < 2*perSecond+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bn, err := client.BlockNumber(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, uint64(42), bn)
		}()
	}
	wg.Wait()

	require.Len(t, calls, 2*perSecond+1)
	sort.Slice(calls, func(i, j int) bool { return calls[i].Before(calls[j]) })

	// any perSecond+1 consecutive calls span at least one second, minus scheduling slack
	for i := 0; i+perSecond < len(calls); i++ {
		span := calls[i+perSecond].Sub(calls[i])
		assert.GreaterOrEqual(t, span, 900*time.Millisecond, "calls %d..%d", i, i+perSecond)
	}
}

func TestRateLimitedClient_PropagatesErrorsUnmodified(t *testing.T) {
	errBoom := errors.New("connection reset by peer")

	reader := &mocks.MockChainReader{}
	reader.On("HeaderByNumber", mock.Anything, big.NewInt(7)).Return(nil, errBoom)

	client := NewRateLimitedClient(reader, testChain(100, time.Second), logtest.New(t))

	_, err := client.FetchGasSample(context.Background(), 7)
	assert.Equal(t, errBoom, err)
}

func TestRateLimitedClient_AppliesTimeout(t *testing.T) {
	reader := &mocks.MockChainReader{}
	reader.On("HeaderByNumber", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	client := NewRateLimitedClient(reader, testChain(100, 20*time.Millisecond), logtest.New(t))

	start := time.Now()
	_, err := client.HeaderByNumber(context.Background(), big.NewInt(1))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimitedClient_WaitHonoursCancellation(t *testing.T) {
	reader := &mocks.MockChainReader{}
	client := NewRateLimitedClient(reader, testChain(1, time.Second), logtest.New(t))

	// drain the single token
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.BlockNumber(ctx)
	require.Error(t, err)
	reader.AssertNotCalled(t, "BlockNumber", mock.Anything)
}

func TestGasSampleFromHeader(t *testing.T) {
	t.Run("london header", func(t *testing.T) {
		header := &types.Header{Number: big.NewInt(100), Time: 1700000000, BaseFee: big.NewInt(12_345)}

		sample := GasSampleFromHeader(1, header)

		assert.Equal(t, uint64(1), sample.ChainID)
		assert.Equal(t, uint64(100), sample.BlockNumber)
		assert.Equal(t, uint64(1700000000), sample.UnixSeconds)
		assert.Equal(t, "12345", sample.BaseFee.String())

		// the sample owns its value
		header.BaseFee.SetInt64(1)
		assert.Equal(t, "12345", sample.BaseFee.String())
	})

	t.Run("pre-london header", func(t *testing.T) {
		header := &types.Header{Number: big.NewInt(5), Time: 1}

		sample := GasSampleFromHeader(1, header)

		assert.Equal(t, 0, sample.BaseFee.Cmp(models.DefaultBaseFee))
	})
}

func TestRateLimitedClient_PollsBlockNumbersOverHTTP(t *testing.T) {
	reader := &mocks.MockChainReader{}
	reader.On("BlockNumber", mock.Anything).Return(uint64(10), nil).Once()
	reader.On("BlockNumber", mock.Anything).Return(uint64(10), nil).Once()
	reader.On("BlockNumber", mock.Anything).Return(uint64(12), nil)

	chain := testChain(1000, time.Second)
	chain.RPCURL = "https://rpc.example"
	client := NewRateLimitedClient(reader, chain, logtest.New(t))

	numbers := make(chan uint64, 4)
	sub, err := client.SubscribeBlockNumbers(context.Background(), numbers)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, uint64(10), <-numbers)
	assert.Equal(t, uint64(12), <-numbers)
	reader.AssertNotCalled(t, "SubscribeNewHead", mock.Anything, mock.Anything)
}

func TestIsWebSocketURL(t *testing.T) {
	assert.True(t, IsWebSocketURL("wss://mainnet.example"))
	assert.True(t, IsWebSocketURL("ws://localhost:8546"))
	assert.False(t, IsWebSocketURL("https://mainnet.example"))
}
