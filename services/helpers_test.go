package services

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging/logtest"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

const testChainID = uint64(10)

var (
	testContract = common.HexToAddress("0x0000000000000000000000000000000000b71d9e")
	alice        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob          = common.HexToAddress("0x2222222222222222222222222222222222222222")

	errFetch = errors.New("header not found")
)

func testChainConfig(startBlock uint64) config.ChainConfig {
	percentile := 0.5

	return config.ChainConfig{
		ChainID:              testChainID,
		Name:                 "OPTIMISM",
		RPCURL:               "wss://optimism.example",
		ContractAddr:         testContract.Hex(),
		StartBlock:           startBlock,
		SamplingStride:       1,
		MaxRequestsPerSecond: 1000,
		RPCTimeout:           time.Second,
		PollInterval:         10 * time.Millisecond,
		Prediction: config.PredictionConfig{
			RecomputeEveryBlocks: 1,
			LookbackBlocks:       10,
			Percentile:           &percentile,
		},
	}
}

func newTestChain(t *testing.T, chain config.ChainConfig, client ChainClient) (*ChainContext, *db.MemoryDB) {
	t.Helper()

	memDB := db.NewMemoryDB()
	require.NoError(t, memDB.InitChains(context.Background(), []uint64{chain.ChainID}))

	return NewChainContext(chain, client, memDB, logtest.New(t)), memDB
}

func testSample(blockNumber uint64, fee int64) *models.GasSample {
	return &models.GasSample{
		ChainID:     testChainID,
		BlockNumber: blockNumber,
		UnixSeconds: 1700000000 + blockNumber*12,
		BaseFee:     big.NewInt(fee),
	}
}

func testRequest(source common.Address) models.BridgeRequest {
	return models.BridgeRequest{
		Source:              source,
		Destination:         source,
		IsTokenTransfer:     false,
		Token:               common.Address{},
		Amount:              big.NewInt(1_000_000_000_000_000_000),
		AmountOutMin:        big.NewInt(990_000_000_000_000_000),
		WantedL1GasPrice:    big.NewInt(20_000_000_000),
		L2execGasFeeDeposit: big.NewInt(300_000_000_000_000),
	}
}

func testEvent(kind models.BridgeEventKind, requestID int64, source common.Address, block uint64) *models.BridgeEvent {
	return &models.BridgeEvent{
		Kind:      kind,
		ChainID:   testChainID,
		Position:  models.EventPosition{BlockNumber: block},
		RequestID: big.NewInt(requestID),
		Request:   testRequest(source),
	}
}

// bridgeLog builds a contract log the way the chain would emit it.
func bridgeLog(
	t *testing.T,
	kind models.BridgeEventKind,
	requestID int64,
	source common.Address,
	position models.EventPosition,
) types.Log {
	t.Helper()

	parsed, err := abi.JSON(strings.NewReader(config.BridgeWhenCheapEventsABI))
	require.NoError(t, err)

	ev := parsed.Events[kind.String()]
	data, err := ev.Inputs.Pack(big.NewInt(requestID), testRequest(source))
	require.NoError(t, err)

	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: position.BlockNumber,
		TxIndex:     position.TxIndex,
		Index:       position.LogIndex,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(position.BlockNumber)),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(position.BlockNumber*1000 + uint64(position.LogIndex))),
	}
}

// fakeChainClient serves a scripted chain. Heads and live logs are fed by the test.
type fakeChainClient struct {
	chainID  uint64
	heads    chan uint64
	liveLogs chan types.Log

	mu            sync.Mutex
	head          uint64
	history       []types.Log
	failures      map[uint64]int
	fetched       []uint64
	filterQueries []ethereum.FilterQuery
	logSubs       int
}

func newFakeChainClient() *fakeChainClient {
	return &fakeChainClient{
		chainID:  testChainID,
		heads:    make(chan uint64, 16),
		liveLogs: make(chan types.Log, 16),
		failures: make(map[uint64]int),
	}
}

func (f *fakeChainClient) pushHead(n uint64) {
	f.mu.Lock()
	f.head = n
	f.mu.Unlock()

	f.heads <- n
}

// offerHead is pushHead without blocking when the test feeds heads faster than they are read.
func (f *fakeChainClient) offerHead(n uint64) {
	f.mu.Lock()
	f.head = n
	f.mu.Unlock()

	select {
	case f.heads <- n:
	default:
	}
}

func (f *fakeChainClient) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.head = n
}

func (f *fakeChainClient) addHistory(logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = append(f.history, logs...)
}

func (f *fakeChainClient) failFetch(blockNumber uint64, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[blockNumber] = times
}

func (f *fakeChainClient) fetchedBlocks() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]uint64(nil), f.fetched...)
}

func (f *fakeChainClient) queries() []ethereum.FilterQuery {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]ethereum.FilterQuery(nil), f.filterQueries...)
}

func (f *fakeChainClient) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.head, nil
}

// FetchGasSample returns the block number as base fee.
func (f *fakeChainClient) FetchGasSample(_ context.Context, blockNumber uint64) (*models.GasSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, blockNumber)

	if f.failures[blockNumber] > 0 {
		f.failures[blockNumber]--
		return nil, errFetch
	}

	sample := testSample(blockNumber, int64(blockNumber))
	sample.ChainID = f.chainID
	return sample, nil
}

func (f *fakeChainClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filterQueries = append(f.filterQueries, q)

	var out []types.Log
	for _, vLog := range f.history {
		if vLog.BlockNumber >= q.FromBlock.Uint64() && vLog.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, vLog)
		}
	}

	return out, nil
}

func (f *fakeChainClient) SubscribeBlockNumbers(_ context.Context, ch chan<- uint64) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case n := <-f.heads:
				select {
				case ch <- n:
				case <-quit:
					return nil
				}
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (f *fakeChainClient) SubscribeLogs(
	_ context.Context,
	_ ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.logSubs++
	f.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case vLog := <-f.liveLogs:
				select {
				case ch <- vLog:
				case <-quit:
					return nil
				}
			case <-quit:
				return nil
			}
		}
	}), nil
}

// recordingSink collects published predictions.
type recordingSink struct {
	mu          sync.Mutex
	predictions []*models.Prediction
}

func (s *recordingSink) Publish(_ context.Context, prediction *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictions = append(s.predictions, prediction)
	return nil
}

func (s *recordingSink) all() []*models.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*models.Prediction(nil), s.predictions...)
}
