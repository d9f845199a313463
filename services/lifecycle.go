package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// LifecycleReplayer applies bridge request lifecycle events to the store.
// Opened creates an active request; execution and withdrawal both end it.
type LifecycleReplayer struct {
	chain  *ChainContext
	logger zerolog.Logger
}

func NewLifecycleReplayer(chain *ChainContext) *LifecycleReplayer {
	return &LifecycleReplayer{
		chain:  chain,
		logger: chain.ComponentLogger("lifecycle"),
	}
}

// Replay applies one event. Replaying a terminal event twice is harmless,
// opening an already active request is a consistency error and writes nothing.
func (r *LifecycleReplayer) Replay(ctx context.Context, event *models.BridgeEvent) error {
	if event.RequestID == nil {
		return errors.Wrapf(ErrProtocol, "%s event at %s without request id", event.Kind, event.Position)
	}

	logger := r.logger.With().
		Str(logging.FieldEvent, event.Kind.String()).
		Str(logging.FieldRequestID, event.RequestID.String()).
		Str(logging.FieldSource, event.Request.Source.Hex()).
		Uint64(logging.FieldBlock, event.Position.BlockNumber).
		Logger()

	switch event.Kind {
	case models.BridgeEventOpened:
		return r.open(ctx, event, logger)
	case models.BridgeEventExecutionSubmitted, models.BridgeEventWithdrawn:
		return r.close(ctx, event, logger)
	default:
		return errors.Wrapf(ErrProtocol, "unknown event kind %s at %s", event.Kind, event.Position)
	}
}

func (r *LifecycleReplayer) open(ctx context.Context, event *models.BridgeEvent, logger zerolog.Logger) error {
	chainID := r.chain.ID()

	existing, err := r.chain.DB.GetActiveRequest(ctx, chainID, event.Request.Source, event.RequestID)
	if err != nil {
		return errors.Wrap(err, "failed to look up active request")
	}
	if existing != nil {
		return errors.Wrapf(
			ErrConsistency,
			"request %s of %s opened twice (at %s)",
			event.RequestID, event.Request.Source.Hex(), event.Position,
		)
	}

	if err := r.chain.DB.AddKnownUser(ctx, chainID, event.Request.Source); err != nil {
		return err
	}

	request := event.ToActiveRequest()
	request.ChainID = chainID

	if err := r.chain.DB.AddActiveRequest(ctx, request); err != nil {
		return err
	}

	logger.Info().
		Str("amount", event.Request.Amount.String()).
		Str("wanted_l1_gas_price", event.Request.WantedL1GasPrice.String()).
		Msg("Bridge request opened")

	return nil
}

// Revert undoes an event whose log was removed by a reorg. A reverted opening
// drops the request; a reverted execution or withdrawal restores it from the
// request tuple carried by the log. Known users are never removed.
func (r *LifecycleReplayer) Revert(ctx context.Context, event *models.BridgeEvent) error {
	if event.RequestID == nil {
		return errors.Wrapf(ErrProtocol, "removed %s event at %s without request id", event.Kind, event.Position)
	}

	logger := r.logger.With().
		Str(logging.FieldEvent, event.Kind.String()).
		Str(logging.FieldRequestID, event.RequestID.String()).
		Str(logging.FieldSource, event.Request.Source.Hex()).
		Uint64(logging.FieldBlock, event.Position.BlockNumber).
		Logger()

	chainID := r.chain.ID()

	switch event.Kind {
	case models.BridgeEventOpened:
		if err := r.chain.DB.DeleteActiveRequest(ctx, chainID, event.Request.Source, event.RequestID); err != nil {
			return err
		}
		logger.Warn().Msg("Bridge request opening reverted by reorg")
		return nil
	case models.BridgeEventExecutionSubmitted, models.BridgeEventWithdrawn:
		existing, err := r.chain.DB.GetActiveRequest(ctx, chainID, event.Request.Source, event.RequestID)
		if err != nil {
			return errors.Wrap(err, "failed to look up active request")
		}
		if existing != nil {
			return nil
		}

		request := event.ToActiveRequest()
		request.ChainID = chainID
		if err := r.chain.DB.AddActiveRequest(ctx, request); err != nil {
			return err
		}
		logger.Warn().Msg("Bridge request closing reverted by reorg, request is active again")
		return nil
	default:
		return errors.Wrapf(ErrProtocol, "unknown event kind %s at %s", event.Kind, event.Position)
	}
}

func (r *LifecycleReplayer) close(ctx context.Context, event *models.BridgeEvent, logger zerolog.Logger) error {
	if err := r.chain.DB.DeleteActiveRequest(ctx, r.chain.ID(), event.Request.Source, event.RequestID); err != nil {
		return err
	}

	logger.Info().Msg("Bridge request closed")
	return nil
}
