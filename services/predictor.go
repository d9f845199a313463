package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// PredictionSink receives every computed prediction.
type PredictionSink interface {
	Publish(ctx context.Context, prediction *models.Prediction) error
}

// GasPredictor recomputes a base fee percentile over a trailing window every
// RecomputeEveryBlocks blocks. Samples must be fed in block order.
type GasPredictor struct {
	chain      *ChainContext
	cadence    uint64
	lookback   uint64
	percentile float64
	sinks      []PredictionSink
	logger     zerolog.Logger
	now        func() time.Time

	countdown uint64
	synced    bool
	latest    *models.Prediction
	mu        sync.Mutex
}

func NewGasPredictor(chain *ChainContext, sinks ...PredictionSink) *GasPredictor {
	cadence := chain.Config.Prediction.RecomputeEveryBlocks
	if cadence == 0 {
		cadence = 1
	}

	return &GasPredictor{
		chain:      chain,
		cadence:    cadence,
		lookback:   chain.Config.Prediction.LookbackBlocks,
		percentile: chain.Config.TargetPercentile(),
		sinks:      sinks,
		logger:     chain.ComponentLogger("gas_predictor"),
		now:        time.Now,
		// the first sample triggers a prediction
		countdown: 1,
	}
}

// OnSample counts the block down and returns a prediction when one is due, nil otherwise.
// A window without samples yields no prediction and no error.
func (p *GasPredictor) OnSample(ctx context.Context, sample *models.GasSample) (*models.Prediction, error) {
	p.mu.Lock()
	p.countdown--
	due := p.countdown == 0
	if due {
		p.countdown = p.cadence
	}
	provisional := !p.synced
	p.mu.Unlock()

	if !due {
		return nil, nil
	}

	var fromBlock uint64
	if sample.BlockNumber > p.lookback {
		fromBlock = sample.BlockNumber - p.lookback
	}

	fee, err := p.chain.DB.PercentileFee(ctx, p.chain.ID(), fromBlock, sample.BlockNumber, p.percentile)
	if errors.Is(err, db.ErrNoSamples) {
		p.logger.Warn().
			Uint64(logging.FieldBlock, sample.BlockNumber).
			Uint64("from_block", fromBlock).
			Msg("No gas samples in prediction window")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute fee percentile")
	}

	prediction := &models.Prediction{
		ChainID:     p.chain.ID(),
		BlockNumber: sample.BlockNumber,
		FromBlock:   fromBlock,
		Percentile:  p.percentile,
		Fee:         fee,
		Provisional: provisional,
		ComputedAt:  p.now().UTC(),
	}

	p.mu.Lock()
	p.latest = prediction
	p.mu.Unlock()

	p.logger.Info().
		Uint64(logging.FieldBlock, prediction.BlockNumber).
		Uint64("from_block", prediction.FromBlock).
		Float64("percentile", prediction.Percentile).
		Str("fee_wei", prediction.Fee.String()).
		Bool("provisional", prediction.Provisional).
		Msg("Predicted gas price")

	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, prediction); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to publish prediction")
		}
	}

	return prediction, nil
}

// SetSynced marks the history as complete. Later predictions are final.
func (p *GasPredictor) SetSynced() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.synced {
		p.logger.Info().Msg("Gas history synced, predictions are final")
	}
	p.synced = true
}

func (p *GasPredictor) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.synced
}

// Latest returns the last computed prediction, or nil.
func (p *GasPredictor) Latest() *models.Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.latest
}

// PredictionCache keeps the latest prediction of every chain for readers such as the HTTP API.
type PredictionCache struct {
	latest map[uint64]models.Prediction
	mu     sync.RWMutex
}

func NewPredictionCache() *PredictionCache {
	return &PredictionCache{
		latest: make(map[uint64]models.Prediction),
	}
}

func (c *PredictionCache) Publish(_ context.Context, prediction *models.Prediction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latest[prediction.ChainID] = *prediction
	return nil
}

// Get returns the latest prediction of the chain.
func (c *PredictionCache) Get(chainID uint64) (*models.Prediction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prediction, ok := c.latest[chainID]
	if !ok {
		return nil, false
	}
	return &prediction, true
}
