package db

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

type requestKey struct {
	source    common.Address
	requestID string
}

type memoryChain struct {
	samples  map[uint64]models.GasSample
	users    map[common.Address]struct{}
	requests map[requestKey]models.ActiveBridgeRequest
	cursor   *models.EventCursor
}

// MemoryDB implements Database in process memory.
type MemoryDB struct {
	chains map[uint64]*memoryChain
	mu     sync.RWMutex
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		chains: make(map[uint64]*memoryChain),
	}
}

func (m *MemoryDB) Close() error {
	return nil
}

func (m *MemoryDB) Ping() error {
	return nil
}

func (m *MemoryDB) InitChains(_ context.Context, chainIDs []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chainID := range chainIDs {
		if _, ok := m.chains[chainID]; ok {
			continue
		}
		m.chains[chainID] = &memoryChain{
			samples:  make(map[uint64]models.GasSample),
			users:    make(map[common.Address]struct{}),
			requests: make(map[requestKey]models.ActiveBridgeRequest),
		}
	}

	return nil
}

// chain must be called with mu held.
func (m *MemoryDB) chain(chainID uint64) (*memoryChain, error) {
	c, ok := m.chains[chainID]
	if !ok {
		return nil, errors.Wrapf(ErrChainNotInitialized, "chain %d", chainID)
	}
	return c, nil
}

func (m *MemoryDB) RecordGasSample(_ context.Context, sample *models.GasSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.chain(sample.ChainID)
	if err != nil {
		return err
	}

	stored := *sample
	stored.BaseFee = new(big.Int).Set(sample.BaseFee)
	c.samples[sample.BlockNumber] = stored

	return nil
}

func (m *MemoryDB) LatestRecordedBlock(_ context.Context, chainID uint64) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.chain(chainID)
	if err != nil {
		return 0, false, err
	}

	var (
		latest uint64
		found  bool
	)
	for blockNumber := range c.samples {
		if !found || blockNumber > latest {
			latest = blockNumber
			found = true
		}
	}

	return latest, found, nil
}

func (m *MemoryDB) GetGasSample(_ context.Context, chainID, blockNumber uint64) (*models.GasSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.chain(chainID)
	if err != nil {
		return nil, err
	}

	stored, ok := c.samples[blockNumber]
	if !ok {
		return nil, nil
	}

	sample := stored
	sample.BaseFee = new(big.Int).Set(stored.BaseFee)
	return &sample, nil
}

func (m *MemoryDB) PercentileFee(
	_ context.Context,
	chainID, fromBlock, toBlock uint64,
	percentile float64,
) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.chain(chainID)
	if err != nil {
		return nil, err
	}

	var fees []*big.Int
	for blockNumber, sample := range c.samples {
		if blockNumber >= fromBlock && blockNumber <= toBlock {
			fees = append(fees, sample.BaseFee)
		}
	}

	return SelectPercentile(fees, percentile)
}

func (m *MemoryDB) AddKnownUser(_ context.Context, chainID uint64, address common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.chain(chainID)
	if err != nil {
		return err
	}

	c.users[address] = struct{}{}
	return nil
}

// IsKnownUser reports whether the address was added as a known user.
func (m *MemoryDB) IsKnownUser(chainID uint64, address common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chains[chainID]
	if !ok {
		return false
	}
	_, known := c.users[address]
	return known
}

func (m *MemoryDB) GetActiveRequest(
	_ context.Context,
	chainID uint64,
	source common.Address,
	requestID *big.Int,
) (*models.ActiveBridgeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.chain(chainID)
	if err != nil {
		return nil, err
	}

	stored, ok := c.requests[requestKey{source: source, requestID: requestID.String()}]
	if !ok {
		return nil, nil
	}

	request := stored
	return &request, nil
}

func (m *MemoryDB) AddActiveRequest(_ context.Context, request *models.ActiveBridgeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.chain(request.ChainID)
	if err != nil {
		return err
	}

	key := requestKey{source: request.Request.Source, requestID: request.RequestID.String()}
	if _, exists := c.requests[key]; exists {
		return errors.Errorf("active request %s already exists", request.RequestID)
	}

	stored := *request
	stored.RequestID = new(big.Int).Set(request.RequestID)
	c.requests[key] = stored

	return nil
}

func (m *MemoryDB) DeleteActiveRequest(
	_ context.Context,
	chainID uint64,
	source common.Address,
	requestID *big.Int,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.chain(chainID)
	if err != nil {
		return err
	}

	delete(c.requests, requestKey{source: source, requestID: requestID.String()})
	return nil
}

func (m *MemoryDB) GetEventCursor(_ context.Context, chainID uint64) (*models.EventCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.chain(chainID)
	if err != nil {
		return nil, err
	}

	if c.cursor == nil {
		return nil, nil
	}

	cursor := *c.cursor
	return &cursor, nil
}

func (m *MemoryDB) UpdateEventCursor(_ context.Context, cursor *models.EventCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.chain(cursor.ChainID)
	if err != nil {
		return err
	}

	stored := *cursor
	c.cursor = &stored
	return nil
}

func (m *MemoryDB) Status(_ context.Context, chainID uint64) (*models.ChainStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.chain(chainID)
	if err != nil {
		return nil, err
	}

	return &models.ChainStatus{
		ChainID:        chainID,
		GasSamples:     uint64(len(c.samples)),
		KnownUsers:     uint64(len(c.users)),
		ActiveRequests: uint64(len(c.requests)),
	}, nil
}
