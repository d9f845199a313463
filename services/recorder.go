package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// StatusLogInterval is how many recorded blocks pass between two status log lines.
const StatusLogInterval = 25

// BlockRecorder is the consumer of the block sequencer. It stores every
// stride-th sample and feeds each block to the predictor.
type BlockRecorder struct {
	chain     *ChainContext
	stride    uint64
	predictor *GasPredictor
	logger    zerolog.Logger

	recorded      atomic.Uint64
	firstRecorded chan struct{}
	once          sync.Once
}

func NewBlockRecorder(chain *ChainContext, predictor *GasPredictor) *BlockRecorder {
	stride := chain.Config.SamplingStride
	if stride == 0 {
		stride = 1
	}

	return &BlockRecorder{
		chain:         chain,
		stride:        stride,
		predictor:     predictor,
		logger:        chain.ComponentLogger("block_recorder"),
		firstRecorded: make(chan struct{}),
	}
}

// Consume records the sample and runs the predictor. Storage errors are returned
// so the sequencer keeps the block; prediction errors are only logged.
func (r *BlockRecorder) Consume(ctx context.Context, sample *models.GasSample) error {
	if sample.BlockNumber%r.stride == 0 {
		if err := r.chain.DB.RecordGasSample(ctx, sample); err != nil {
			return errors.Wrapf(err, "failed to record block %d", sample.BlockNumber)
		}

		r.logger.Debug().
			Uint64(logging.FieldBlock, sample.BlockNumber).
			Str("base_fee", sample.BaseFee.String()).
			Msg("Recorded gas sample")

		if n := r.recorded.Add(1); n%StatusLogInterval == 0 {
			r.logStatus(ctx)
		}

		r.once.Do(func() {
			close(r.firstRecorded)
		})
	}

	if r.predictor == nil {
		return nil
	}

	if _, err := r.predictor.OnSample(ctx, sample); err != nil {
		r.logger.Warn().Err(err).Uint64(logging.FieldBlock, sample.BlockNumber).Msg("Prediction failed")
	}

	return nil
}

// FirstRecorded is closed once the first live block has been stored.
func (r *BlockRecorder) FirstRecorded() <-chan struct{} {
	return r.firstRecorded
}

// Recorded returns the number of samples stored since start.
func (r *BlockRecorder) Recorded() uint64 {
	return r.recorded.Load()
}

func (r *BlockRecorder) logStatus(ctx context.Context) {
	status, err := r.chain.DB.Status(ctx, r.chain.ID())
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read chain status")
		return
	}

	r.logger.Info().
		Uint64("gas_samples", status.GasSamples).
		Uint64("known_users", status.KnownUsers).
		Uint64("active_requests", status.ActiveRequests).
		Msg("Chain status")
}
