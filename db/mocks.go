package db

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// MockDB is a mock implementation of the Database interface for testing
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDB) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDB) InitChains(ctx context.Context, chainIDs []uint64) error {
	args := m.Called(ctx, chainIDs)
	return args.Error(0)
}

func (m *MockDB) RecordGasSample(ctx context.Context, sample *models.GasSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockDB) LatestRecordedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	args := m.Called(ctx, chainID)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

func (m *MockDB) GetGasSample(ctx context.Context, chainID, blockNumber uint64) (*models.GasSample, error) {
	args := m.Called(ctx, chainID, blockNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GasSample), args.Error(1)
}

func (m *MockDB) PercentileFee(
	ctx context.Context,
	chainID, fromBlock, toBlock uint64,
	percentile float64,
) (*big.Int, error) {
	args := m.Called(ctx, chainID, fromBlock, toBlock, percentile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockDB) AddKnownUser(ctx context.Context, chainID uint64, address common.Address) error {
	args := m.Called(ctx, chainID, address)
	return args.Error(0)
}

func (m *MockDB) GetActiveRequest(
	ctx context.Context,
	chainID uint64,
	source common.Address,
	requestID *big.Int,
) (*models.ActiveBridgeRequest, error) {
	args := m.Called(ctx, chainID, source, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ActiveBridgeRequest), args.Error(1)
}

func (m *MockDB) AddActiveRequest(ctx context.Context, request *models.ActiveBridgeRequest) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

func (m *MockDB) DeleteActiveRequest(
	ctx context.Context,
	chainID uint64,
	source common.Address,
	requestID *big.Int,
) error {
	args := m.Called(ctx, chainID, source, requestID)
	return args.Error(0)
}

func (m *MockDB) GetEventCursor(ctx context.Context, chainID uint64) (*models.EventCursor, error) {
	args := m.Called(ctx, chainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EventCursor), args.Error(1)
}

func (m *MockDB) UpdateEventCursor(ctx context.Context, cursor *models.EventCursor) error {
	args := m.Called(ctx, cursor)
	return args.Error(0)
}

func (m *MockDB) Status(ctx context.Context, chainID uint64) (*models.ChainStatus, error) {
	args := m.Called(ctx, chainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChainStatus), args.Error(1)
}
