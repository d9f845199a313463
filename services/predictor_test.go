package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

func recordBlocks(t *testing.T, database *db.MemoryDB, from, to uint64) {
	t.Helper()

	for n := from; n <= to; n++ {
		require.NoError(t, database.RecordGasSample(context.Background(), testSample(n, int64(n))))
	}
}

func TestGasPredictor_RecomputeCadence(t *testing.T) {
	ctx := context.Background()
	cfg := testChainConfig(0)
	cfg.Prediction.RecomputeEveryBlocks = 3
	chain, database := newTestChain(t, cfg, newFakeChainClient())
	recordBlocks(t, database, 1, 7)

	predictor := NewGasPredictor(chain)

	var predictedAt []uint64
	for n := uint64(1); n <= 7; n++ {
		prediction, err := predictor.OnSample(ctx, testSample(n, int64(n)))
		require.NoError(t, err)
		if prediction != nil {
			predictedAt = append(predictedAt, prediction.BlockNumber)
		}
	}

	assert.Equal(t, []uint64{1, 4, 7}, predictedAt)
}

func TestGasPredictor_Window(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		block     uint64
		fromBlock uint64
		fee       string
	}{
		// window clamps at block 0: fees 1..5, index floor(5*0.5)=2
		{name: "floor at zero", block: 5, fromBlock: 0, fee: "3"},
		// fees 10..20, index floor(11*0.5)=5
		{name: "full lookback", block: 20, fromBlock: 10, fee: "15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, database := newTestChain(t, testChainConfig(0), newFakeChainClient())
			recordBlocks(t, database, 1, 20)

			prediction, err := NewGasPredictor(chain).OnSample(ctx, testSample(tt.block, 0))
			require.NoError(t, err)
			require.NotNil(t, prediction)

			assert.Equal(t, testChainID, prediction.ChainID)
			assert.Equal(t, tt.block, prediction.BlockNumber)
			assert.Equal(t, tt.fromBlock, prediction.FromBlock)
			assert.Equal(t, 0.5, prediction.Percentile)
			assert.Equal(t, tt.fee, prediction.Fee.String())
		})
	}
}

func TestGasPredictor_ProvisionalUntilSynced(t *testing.T) {
	ctx := context.Background()
	chain, database := newTestChain(t, testChainConfig(0), newFakeChainClient())
	recordBlocks(t, database, 1, 3)

	sink := &recordingSink{}
	cache := NewPredictionCache()
	predictor := NewGasPredictor(chain, sink, cache)
	computedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	predictor.now = func() time.Time { return computedAt }

	first, err := predictor.OnSample(ctx, testSample(2, 2))
	require.NoError(t, err)
	assert.True(t, first.Provisional)
	assert.False(t, predictor.Synced())

	predictor.SetSynced()

	second, err := predictor.OnSample(ctx, testSample(3, 3))
	require.NoError(t, err)
	assert.False(t, second.Provisional)
	assert.True(t, predictor.Synced())
	assert.Equal(t, computedAt, second.ComputedAt)

	assert.Equal(t, []*models.Prediction{first, second}, sink.all())
	assert.Same(t, second, predictor.Latest())

	cached, ok := cache.Get(testChainID)
	require.True(t, ok)
	assert.Equal(t, uint64(3), cached.BlockNumber)
	assert.False(t, cached.Provisional)

	_, ok = cache.Get(1)
	assert.False(t, ok)
}

func TestGasPredictor_EmptyWindow(t *testing.T) {
	chain, database := newTestChain(t, testChainConfig(0), newFakeChainClient())
	recordBlocks(t, database, 1, 3)

	sink := &recordingSink{}
	predictor := NewGasPredictor(chain, sink)

	// samples 1..3 are outside [90, 100]
	prediction, err := predictor.OnSample(context.Background(), testSample(100, 0))

	require.NoError(t, err)
	assert.Nil(t, prediction)
	assert.Nil(t, predictor.Latest())
	assert.Empty(t, sink.all())
}
