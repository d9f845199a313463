package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// PredictionsChannel is the pub/sub channel every prediction is announced on.
const PredictionsChannel = "bwc:predictions"

const connectTimeout = 5 * time.Second

// PredictionPublisher stores the latest prediction of each chain in Redis and
// announces it on PredictionsChannel. It is a prediction sink of the chain pipelines.
type PredictionPublisher struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewPredictionPublisher connects to the Redis server at url.
func NewPredictionPublisher(url string, logger zerolog.Logger) (*PredictionPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis URL")
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	logger.Info().Str("addr", opts.Addr).Msg("Publishing predictions to Redis")

	return &PredictionPublisher{rdb: rdb, logger: logger}, nil
}

func predictionKey(chainID uint64) string {
	return fmt.Sprintf("bwc:prediction:%d", chainID)
}

// Publish replaces the stored prediction of the chain and notifies subscribers.
func (p *PredictionPublisher) Publish(ctx context.Context, prediction *models.Prediction) error {
	data, err := json.Marshal(prediction.ToResponse())
	if err != nil {
		return errors.Wrap(err, "failed to marshal prediction")
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, predictionKey(prediction.ChainID), data, 0)
	pipe.Publish(ctx, PredictionsChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to publish prediction for chain %d", prediction.ChainID)
	}

	return nil
}

// Latest reads the stored prediction of the chain. It returns nil if none was published.
func (p *PredictionPublisher) Latest(ctx context.Context, chainID uint64) (*models.PredictionResponse, error) {
	data, err := p.rdb.Get(ctx, predictionKey(chainID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read prediction")
	}

	var response models.PredictionResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, errors.Wrap(err, "failed to decode stored prediction")
	}

	return &response, nil
}

// Close closes the Redis connection.
func (p *PredictionPublisher) Close() error {
	return p.rdb.Close()
}
