package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
)

const (
	// BackfillMaxAttempts bounds the fetch attempts per missing block.
	BackfillMaxAttempts = 3

	// DefaultBackfillRetryDelay is multiplied by the attempt number between retries.
	DefaultBackfillRetryDelay = 2 * time.Second

	// MaxBackfillRestartDelay caps the backoff between backfill runs.
	MaxBackfillRestartDelay = 5 * time.Minute

	backfillProgressInterval = 1000
)

// Backfiller fills missing gas samples between the chain's StartBlock and the
// latest recorded block, newest first, and reports the chain as synced when done.
type Backfiller struct {
	chain      *ChainContext
	onSynced   func(chainID uint64)
	retryDelay time.Duration
	logger     zerolog.Logger

	// resumeAt is the block a failed run stopped at. Everything above it is filled.
	resumeAt uint64
}

func NewBackfiller(chain *ChainContext, onSynced func(chainID uint64)) *Backfiller {
	return &Backfiller{
		chain:      chain,
		onSynced:   onSynced,
		retryDelay: DefaultBackfillRetryDelay,
		logger:     chain.ComponentLogger("backfill"),
	}
}

// WithRetryDelay overrides the base delay between fetch retries.
func (b *Backfiller) WithRetryDelay(delay time.Duration) *Backfiller {
	b.retryDelay = delay
	return b
}

// Run walks from the latest recorded block down to StartBlock+1. A start block
// ahead of the recorded data is a configuration error and nothing is fetched.
func (b *Backfiller) Run(ctx context.Context) error {
	chainID := b.chain.ID()
	startBlock := b.chain.Config.StartBlock

	latest, ok, err := b.chain.DB.LatestRecordedBlock(ctx, chainID)
	if err != nil {
		return errors.Wrap(err, "failed to read latest recorded block")
	}
	if !ok {
		return errors.Wrap(ErrConfig, "backfill started before any block was recorded")
	}

	if latest < startBlock {
		return errors.Wrapf(
			ErrConfig,
			"start block %d is ahead of latest recorded block %d",
			startBlock, latest,
		)
	}

	if stride := b.chain.Config.SamplingStride; stride > 1 {
		b.logger.Warn().
			Uint64("sampling_stride", stride).
			Msg("Backfill is not supported with a sampling stride, skipping")
		b.markSynced()
		return nil
	}

	top := latest
	if b.resumeAt != 0 && b.resumeAt < top {
		top = b.resumeAt
	}

	b.logger.Info().
		Uint64("from_block", top).
		Uint64("to_block", startBlock+1).
		Msg("Starting backfill")

	var fetched uint64
	for n := top; n > startBlock; n-- {
		if err := ctx.Err(); err != nil {
			return err
		}

		sample, err := b.chain.DB.GetGasSample(ctx, chainID, n)
		if err != nil {
			return errors.Wrapf(err, "failed to look up block %d", n)
		}
		if sample != nil {
			continue
		}

		if err := b.fillBlock(ctx, n); err != nil {
			b.resumeAt = n
			b.logger.Error().Err(err).Uint64(logging.FieldBlock, n).Msg("Backfill interrupted, chain stays unsynced")
			return err
		}

		fetched++
		if fetched%backfillProgressInterval == 0 {
			b.logger.Info().
				Uint64(logging.FieldBlock, n).
				Uint64("fetched", fetched).
				Msg("Backfill progress")
		}
	}

	b.logger.Info().Uint64("fetched", fetched).Msg("Backfill complete")
	b.resumeAt = 0
	b.markSynced()

	return nil
}

// RunUntilSynced repeats Run after transient failures, backing off between
// runs, until the chain is synced, a fatal error occurs or ctx is done.
// Each run continues from the block the previous one stopped at.
func (b *Backfiller) RunUntilSynced(ctx context.Context) error {
	for run := 1; ; run++ {
		err := b.Run(ctx)
		if err == nil || IsFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		delay := b.restartDelay(run)
		b.logger.Warn().
			Err(err).
			Int("run", run).
			Dur("delay", delay).
			Msg("Backfill failed, predictions stay provisional until it is restarted")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Backfiller) restartDelay(run int) time.Duration {
	delay := (b.retryDelay * BackfillMaxAttempts) << min(run-1, 8)
	if delay > MaxBackfillRestartDelay {
		delay = MaxBackfillRestartDelay
	}
	return delay
}

func (b *Backfiller) fillBlock(ctx context.Context, blockNumber uint64) error {
	var lastErr error

	for attempt := 1; attempt <= BackfillMaxAttempts; attempt++ {
		sample, err := b.chain.Client.FetchGasSample(ctx, blockNumber)
		if err == nil {
			return b.chain.DB.RecordGasSample(ctx, sample)
		}

		lastErr = err
		if attempt == BackfillMaxAttempts {
			break
		}

		b.logger.Warn().
			Err(err).
			Uint64(logging.FieldBlock, blockNumber).
			Int("attempt", attempt).
			Msg("Failed to fetch block, retrying")

		select {
		case <-time.After(time.Duration(attempt) * b.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errors.Wrapf(lastErr, "failed to fetch block %d after %d attempts", blockNumber, BackfillMaxAttempts)
}

func (b *Backfiller) markSynced() {
	if b.onSynced != nil {
		b.onSynced(b.chain.ID())
	}
}
