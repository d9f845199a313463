package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

const (
	// GapCheckInterval is how often the sequencer is checked for stalls.
	GapCheckInterval = 10 * time.Second

	// GapAlertThreshold is how long a gap may block the sequencer before it is reported.
	GapAlertThreshold = time.Minute
)

// PipelineMetrics is a point-in-time view of a chain pipeline.
type PipelineMetrics struct {
	Synced         bool
	RecordedBlocks uint64
	NextBlock      uint64
	PendingBlocks  int
	SequencerGap   time.Duration
	EventsReplayed uint64
	LastEventTime  time.Time
	Latest         *models.Prediction
}

// ChainPipeline wires the components of one chain: head tracking, recording,
// prediction, backfill and bridge event ingestion.
type ChainPipeline struct {
	chain      *ChainContext
	predictor  *GasPredictor
	recorder   *BlockRecorder
	sequencer  *Sequencer[*models.GasSample]
	tracker    *GasTracker
	backfiller *Backfiller
	events     *BridgeEventService
	logger     zerolog.Logger
}

func NewChainPipeline(chain *ChainContext, sinks ...PredictionSink) (*ChainPipeline, error) {
	predictor := NewGasPredictor(chain, sinks...)
	recorder := NewBlockRecorder(chain, predictor)

	sequencer := NewSequencer(
		func(sample *models.GasSample) uint64 { return sample.BlockNumber },
		recorder.Consume,
	)

	p := &ChainPipeline{
		chain:     chain,
		predictor: predictor,
		recorder:  recorder,
		sequencer: sequencer,
		tracker:   NewGasTracker(chain, sequencer),
		logger:    chain.ComponentLogger("pipeline"),
	}

	p.backfiller = NewBackfiller(chain, func(uint64) { predictor.SetSynced() })

	if chain.Config.HasBridgeContract() {
		events, err := NewBridgeEventService(chain, NewLifecycleReplayer(chain))
		if err != nil {
			return nil, err
		}
		p.events = events
	}

	return p, nil
}

// ChainID returns the chain the pipeline works on.
func (p *ChainPipeline) ChainID() uint64 {
	return p.chain.ID()
}

// Name returns the configured chain name.
func (p *ChainPipeline) Name() string {
	return p.chain.Config.Name
}

// Run blocks until ctx is done or one of the components fails fatally.
// A failing backfill is restarted in the background while the live path keeps running.
func (p *ChainPipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.tracker.Run(ctx)
	})

	g.Go(func() error {
		select {
		case <-p.recorder.FirstRecorded():
		case <-ctx.Done():
			return nil
		}

		return p.backfiller.RunUntilSynced(ctx)
	})

	if p.events != nil {
		g.Go(func() error {
			return p.events.Run(ctx)
		})
	} else {
		p.logger.Info().Msg("No bridge contract configured, skipping event ingestion")
	}

	g.Go(func() error {
		p.monitorGaps(ctx)
		return nil
	})

	p.logger.Info().
		Str("chain_name", p.chain.Config.Name).
		Uint64("start_block", p.chain.Config.StartBlock).
		Msg("Chain pipeline started")

	return g.Wait()
}

func (p *ChainPipeline) monitorGaps(ctx context.Context) {
	ticker := time.NewTicker(GapCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			since, blocked := p.sequencer.GapSince()
			if blocked && time.Since(since) > GapAlertThreshold {
				p.logger.Warn().
					Uint64(logging.FieldBlock, p.sequencer.Next()).
					Int("pending_blocks", p.sequencer.Pending()).
					Dur("blocked_for", time.Since(since)).
					Msg("Block sequencer is waiting for a missing block")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Metrics returns the current pipeline state.
func (p *ChainPipeline) Metrics() PipelineMetrics {
	m := PipelineMetrics{
		Synced:         p.predictor.Synced(),
		RecordedBlocks: p.recorder.Recorded(),
		NextBlock:      p.sequencer.Next(),
		PendingBlocks:  p.sequencer.Pending(),
		Latest:         p.predictor.Latest(),
	}

	if since, blocked := p.sequencer.GapSince(); blocked {
		m.SequencerGap = time.Since(since)
	}

	if p.events != nil {
		m.EventsReplayed = p.events.EventsReplayed()
		m.LastEventTime = p.events.LastEventTime()
	}

	return m
}

// RunPipelines runs every pipeline until ctx is done. A chain that fails with
// a consistency or protocol error is logged and stopped while the other chains
// keep running. A configuration error stops every chain, since the process has
// to exit and be reconfigured. The returned error is the configuration error,
// or a summary when every chain stopped on its own, and nil on shutdown.
func RunPipelines(ctx context.Context, pipelines []*ChainPipeline, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		configErr error
		stopped   int
	)

	for _, pipeline := range pipelines {
		wg.Add(1)

		go func(p *ChainPipeline) {
			defer wg.Done()

			err := p.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}

			logger.Error().
				Err(err).
				Uint64(logging.FieldChain, p.ChainID()).
				Bool("fatal", IsFatal(err)).
				Msg("Chain pipeline stopped")

			mu.Lock()
			defer mu.Unlock()

			stopped++
			if errors.Is(err, ErrConfig) && configErr == nil {
				configErr = errors.Wrapf(err, "chain %d", p.ChainID())
				cancel()
			}
		}(pipeline)
	}

	wg.Wait()

	switch {
	case configErr != nil:
		return configErr
	case len(pipelines) > 0 && stopped == len(pipelines):
		return errors.Errorf("all %d chain pipelines stopped", stopped)
	default:
		return nil
	}
}
