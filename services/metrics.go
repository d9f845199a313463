package services

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// MetricsUpdateInterval is how often registered pipelines are sampled.
const MetricsUpdateInterval = 15 * time.Second

// MetricsService handles Prometheus metrics collection and exposition
type MetricsService struct {
	gasSamples     *prometheus.GaugeVec
	knownUsers     *prometheus.GaugeVec
	activeRequests *prometheus.GaugeVec
	synced         *prometheus.GaugeVec
	sequencerGap   *prometheus.GaugeVec
	pendingBlocks  *prometheus.GaugeVec
	eventsReplayed *prometheus.GaugeVec
	predictedFee   *prometheus.GaugeVec
	lastPrediction *prometheus.GaugeVec

	database  db.Database
	pipelines map[uint64]*ChainPipeline
	mu        sync.RWMutex
	logger    zerolog.Logger
	registry  *prometheus.Registry
}

func newChainGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: name, Help: help},
		[]string{"chain_id", "chain_name"},
	)
}

// NewMetricsService creates a new metrics service
func NewMetricsService(database db.Database, logger zerolog.Logger) *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		gasSamples:     newChainGauge("bwc_gas_samples", "Number of recorded gas samples per chain"),
		knownUsers:     newChainGauge("bwc_known_users", "Number of known bridge users per chain"),
		activeRequests: newChainGauge("bwc_active_requests", "Number of open bridge requests per chain"),
		synced:         newChainGauge("bwc_synced", "Whether gas history is complete (1 = synced, 0 = provisional)"),
		sequencerGap: newChainGauge(
			"bwc_sequencer_gap_seconds",
			"Seconds the block sequencer has been waiting for a missing block",
		),
		pendingBlocks:  newChainGauge("bwc_sequencer_pending_blocks", "Blocks buffered behind a gap"),
		eventsReplayed: newChainGauge("bwc_events_replayed_total", "Bridge events replayed since start"),
		predictedFee:   newChainGauge("bwc_predicted_fee_wei", "Latest predicted base fee in wei"),
		lastPrediction: newChainGauge("bwc_last_prediction_timestamp", "Timestamp of the latest prediction"),
		database:       database,
		pipelines:      make(map[uint64]*ChainPipeline),
		logger:         logger.With().Str(logging.FieldModule, "metrics").Logger(),
		registry:       registry,
	}

	registry.MustRegister(
		m.gasSamples,
		m.knownUsers,
		m.activeRequests,
		m.synced,
		m.sequencerGap,
		m.pendingBlocks,
		m.eventsReplayed,
		m.predictedFee,
		m.lastPrediction,
	)

	return m
}

// RegisterPipeline registers a chain pipeline for metrics collection
func (m *MetricsService) RegisterPipeline(pipeline *ChainPipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pipelines[pipeline.ChainID()] = pipeline
	m.logger.Info().Uint64(logging.FieldChain, pipeline.ChainID()).Msg("Registered chain pipeline in metrics collector")
}

// Publish sets the predicted fee gauge. MetricsService is a PredictionSink.
func (m *MetricsService) Publish(_ context.Context, prediction *models.Prediction) error {
	fee, _ := new(big.Float).SetInt(prediction.Fee).Float64()
	labels := m.labels(prediction.ChainID)

	m.predictedFee.WithLabelValues(labels...).Set(fee)
	m.lastPrediction.WithLabelValues(labels...).Set(float64(prediction.ComputedAt.Unix()))

	return nil
}

func (m *MetricsService) labels(chainID uint64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := ""
	if p, ok := m.pipelines[chainID]; ok {
		name = p.Name()
	}

	return []string{strconv.FormatUint(chainID, 10), name}
}

// UpdateMetrics samples every registered pipeline and the store counts.
func (m *MetricsService) UpdateMetrics(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for chainID, pipeline := range m.pipelines {
		labels := []string{strconv.FormatUint(chainID, 10), pipeline.Name()}
		metrics := pipeline.Metrics()

		if metrics.Synced {
			m.synced.WithLabelValues(labels...).Set(1)
		} else {
			m.synced.WithLabelValues(labels...).Set(0)
		}

		m.sequencerGap.WithLabelValues(labels...).Set(metrics.SequencerGap.Seconds())
		m.pendingBlocks.WithLabelValues(labels...).Set(float64(metrics.PendingBlocks))
		m.eventsReplayed.WithLabelValues(labels...).Set(float64(metrics.EventsReplayed))

		status, err := m.database.Status(ctx, chainID)
		if err != nil {
			m.logger.Warn().Err(err).Uint64(logging.FieldChain, chainID).Msg("Failed to read chain status")
			continue
		}

		m.gasSamples.WithLabelValues(labels...).Set(float64(status.GasSamples))
		m.knownUsers.WithLabelValues(labels...).Set(float64(status.KnownUsers))
		m.activeRequests.WithLabelValues(labels...).Set(float64(status.ActiveRequests))
	}
}

// StartMetricsUpdater starts a goroutine that periodically updates metrics
func (m *MetricsService) StartMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(MetricsUpdateInterval)
		defer ticker.Stop()

		m.logger.Info().Msg("Started Prometheus metrics updater")

		for {
			select {
			case <-ticker.C:
				m.UpdateMetrics(ctx)
			case <-ctx.Done():
				m.logger.Info().Msg("Stopped Prometheus metrics updater")
				return
			}
		}
	}()
}

// GetHandler returns the Prometheus metrics HTTP handler
func (m *MetricsService) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the registry for tests and additional collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}
