package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

const (
	DefaultHeadsChannelBuffer = 64

	resubscribeBaseDelay = time.Second
	resubscribeMaxDelay  = time.Minute
)

type fetchResult struct {
	blockNumber uint64
	sample      *models.GasSample
	err         error
}

// GasTracker follows the chain head, fetches every new block concurrently and
// pushes the samples through the sequencer so they are recorded in height order.
type GasTracker struct {
	chain     *ChainContext
	sequencer *Sequencer[*models.GasSample]
	logger    zerolog.Logger

	// owned by the Run loop
	nextRequest uint64
	failed      map[uint64]struct{}
	fetches     sync.WaitGroup
}

func NewGasTracker(chain *ChainContext, sequencer *Sequencer[*models.GasSample]) *GasTracker {
	return &GasTracker{
		chain:     chain,
		sequencer: sequencer,
		logger:    chain.ComponentLogger("gas_tracker"),
		failed:    make(map[uint64]struct{}),
	}
}

// Run follows heads until ctx is done or the consumer fails fatally.
// Broken subscriptions are re-established with exponential backoff.
func (t *GasTracker) Run(ctx context.Context) error {
	defer t.fetches.Wait()

	results := make(chan fetchResult, DefaultHeadsChannelBuffer)

	for attempt := 0; ; attempt++ {
		err := t.follow(ctx, results)
		if ctx.Err() != nil {
			return nil
		}
		if IsFatal(err) {
			return err
		}

		delay := resubscribeBaseDelay << min(attempt, 6)
		if delay > resubscribeMaxDelay {
			delay = resubscribeMaxDelay
		}

		t.logger.Warn().Err(err).Dur("delay", delay).Msg("Head subscription lost, resubscribing")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *GasTracker) follow(ctx context.Context, results chan fetchResult) error {
	heads := make(chan uint64, DefaultHeadsChannelBuffer)

	sub, err := t.chain.Client.SubscribeBlockNumbers(ctx, heads)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to new heads")
	}
	defer sub.Unsubscribe()

	t.logger.Info().Msg("Following new heads")

	for {
		select {
		case head := <-heads:
			if err := t.onHead(ctx, head, results); err != nil {
				return err
			}
		case result := <-results:
			if err := t.onResult(ctx, result); err != nil {
				return err
			}
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("head subscription closed")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *GasTracker) onHead(ctx context.Context, head uint64, results chan<- fetchResult) error {
	if !t.sequencer.Primed() {
		t.sequencer.Prime(head)
		t.nextRequest = head
		t.logger.Info().Uint64(logging.FieldBlock, head).Msg("Starting live tracking")
	}

	// retry whatever the consumer refused last time
	if err := t.sequencer.Push(ctx); err != nil && IsFatal(err) {
		return err
	}

	for blockNumber := range t.failed {
		delete(t.failed, blockNumber)
		t.fetch(ctx, blockNumber, results)
	}

	for n := t.nextRequest; n <= head; n++ {
		t.fetch(ctx, n, results)
	}
	if head >= t.nextRequest {
		t.nextRequest = head + 1
	}

	return nil
}

func (t *GasTracker) fetch(ctx context.Context, blockNumber uint64, results chan<- fetchResult) {
	t.fetches.Add(1)

	go func() {
		defer t.fetches.Done()

		sample, err := t.chain.Client.FetchGasSample(ctx, blockNumber)

		select {
		case results <- fetchResult{blockNumber: blockNumber, sample: sample, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (t *GasTracker) onResult(ctx context.Context, result fetchResult) error {
	if result.err != nil {
		t.failed[result.blockNumber] = struct{}{}
		t.logger.Warn().
			Err(result.err).
			Uint64(logging.FieldBlock, result.blockNumber).
			Msg("Failed to fetch block, retrying on next head")
		return nil
	}

	err := t.sequencer.Push(ctx, result.sample)
	switch {
	case err == nil:
		return nil
	case IsFatal(err):
		return err
	default:
		t.logger.Warn().
			Err(err).
			Uint64(logging.FieldBlock, t.sequencer.Next()).
			Msg("Failed to consume block, retrying on next trigger")
		return nil
	}
}
