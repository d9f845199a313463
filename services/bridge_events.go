package services

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

const (
	// DefaultMaxBlockRange is the largest block range requested by one FilterLogs call.
	DefaultMaxBlockRange = uint64(5000)

	DefaultLogsChannelBuffer = 200
)

// bridgeEventPayload is the data shared by all three lifecycle events.
type bridgeEventPayload struct {
	RequestID *big.Int             `abi:"requestId"`
	Request   models.BridgeRequest `abi:"request"`
}

// BridgeEventService ingests the lifecycle events of the BridgeWhenCheap contract.
// History from the event cursor to the head is replayed before live events, and
// every event is applied exactly once in (block, tx, log) order.
type BridgeEventService struct {
	chain         *ChainContext
	abi           abi.ABI
	contract      common.Address
	kinds         map[common.Hash]models.BridgeEventKind
	replayer      *LifecycleReplayer
	orderer       *EventOrderer
	maxBlockRange uint64
	logger        zerolog.Logger

	eventsReplayed atomic.Uint64
	eventsReverted atomic.Uint64
	lastEventTime  atomic.Int64
}

func NewBridgeEventService(chain *ChainContext, replayer *LifecycleReplayer) (*BridgeEventService, error) {
	parsedABI, err := abi.JSON(strings.NewReader(config.BridgeWhenCheapEventsABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse bridge events ABI")
	}

	kinds := map[common.Hash]models.BridgeEventKind{
		parsedABI.Events[config.BridgeRequestedEvent].ID:          models.BridgeEventOpened,
		parsedABI.Events[config.BridgeExecutionSubmittedEvent].ID: models.BridgeEventExecutionSubmitted,
		parsedABI.Events[config.BridgeRequestWithdrawnEvent].ID:   models.BridgeEventWithdrawn,
	}

	return &BridgeEventService{
		chain:         chain,
		abi:           parsedABI,
		contract:      chain.Config.ContractAddress(),
		kinds:         kinds,
		replayer:      replayer,
		maxBlockRange: DefaultMaxBlockRange,
		logger:        chain.ComponentLogger("bridge_events"),
	}, nil
}

// Run replays history and then live events until ctx is done or a fatal error occurs.
func (s *BridgeEventService) Run(ctx context.Context) error {
	cursor, err := s.chain.DB.GetEventCursor(ctx, s.chain.ID())
	if err != nil {
		return errors.Wrap(err, "failed to load event cursor")
	}

	var watermark *models.EventPosition
	if cursor != nil {
		watermark = &cursor.Position
		s.logger.Info().Str("cursor", cursor.Position.String()).Msg("Resuming from event cursor")
	}
	s.orderer = NewEventOrderer(watermark)

	for attempt := 0; ; attempt++ {
		err := s.ingest(ctx)
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

		s.logger.Warn().Err(err).Dur("delay", delay).Msg("Event ingestion interrupted, resubscribing")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *BridgeEventService) query() ethereum.FilterQuery {
	topics := make([]common.Hash, 0, len(s.kinds))
	for _, name := range []string{
		config.BridgeRequestedEvent,
		config.BridgeExecutionSubmittedEvent,
		config.BridgeRequestWithdrawnEvent,
	} {
		topics = append(topics, s.abi.Events[name].ID)
	}

	return ethereum.FilterQuery{
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{topics},
	}
}

// ingest subscribes first so nothing between history and live is lost, then
// replays the history merged with whatever the subscription queued meanwhile.
func (s *BridgeEventService) ingest(ctx context.Context) error {
	logs := make(chan types.Log, DefaultLogsChannelBuffer)

	sub, err := s.chain.Client.SubscribeLogs(ctx, s.query(), logs)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to bridge events")
	}
	defer sub.Unsubscribe()

	head, err := s.chain.Client.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get current block")
	}

	fromBlock := s.chain.Config.StartBlock
	if w := s.orderer.Watermark(); w != nil && w.BlockNumber > fromBlock {
		fromBlock = w.BlockNumber
	}

	history, err := s.fetchHistory(ctx, fromBlock, head)
	if err != nil {
		return err
	}

	batch := history
queued:
	for {
		select {
		case vLog := <-logs:
			batch = append(batch, vLog)
		default:
			break queued
		}
	}

	events := make([]*models.BridgeEvent, 0, len(batch))
	for _, vLog := range batch {
		event, err := s.decode(vLog)
		if err != nil {
			return err
		}
		events = append(events, event)
	}

	events, removed := cancelRemoved(events)
	for _, event := range removed {
		if err := s.revert(ctx, event); err != nil {
			return err
		}
	}

	ordered := s.orderer.Batch(events)
	s.logger.Info().
		Uint64("from_block", fromBlock).
		Uint64("to_block", head).
		Int("events", len(ordered)).
		Msg("Replaying bridge event history")

	for _, event := range ordered {
		if err := s.apply(ctx, event); err != nil {
			return err
		}
	}

	s.logger.Info().Msg("Listening for live bridge events")

	for {
		select {
		case vLog := <-logs:
			event, err := s.decode(vLog)
			if err != nil {
				return err
			}

			if event.Removed {
				if err := s.revert(ctx, event); err != nil {
					return err
				}
				continue
			}

			admission, err := s.orderer.Admit(event)
			if err != nil {
				return err
			}

			switch admission {
			case Duplicate:
				s.logger.Debug().Str("position", event.Position.String()).Msg("Skipping already replayed event")
				continue
			case Unverifiable:
				s.logger.Warn().
					Str(logging.FieldEvent, event.Kind.String()).
					Str("position", event.Position.String()).
					Str("watermark", positionString(s.orderer.Watermark())).
					Str("tx_hash", event.TxHash.Hex()).
					Msg("Dropping live event too far behind the watermark to check, restart to replay it from history")
				continue
			}

			if err := s.apply(ctx, event); err != nil {
				return err
			}
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("log subscription closed")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fetchHistory reads the contract logs in [fromBlock, toBlock] in chunks of maxBlockRange.
func (s *BridgeEventService) fetchHistory(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var history []types.Log

	for start := fromBlock; start <= toBlock; start += s.maxBlockRange {
		end := start + s.maxBlockRange - 1
		if end > toBlock {
			end = toBlock
		}

		query := s.query()
		query.FromBlock = new(big.Int).SetUint64(start)
		query.ToBlock = new(big.Int).SetUint64(end)

		logs, err := s.chain.Client.FilterLogs(ctx, query)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to filter logs in blocks %d-%d", start, end)
		}

		s.logger.Debug().
			Uint64("from_block", start).
			Uint64("to_block", end).
			Int("logs", len(logs)).
			Msg("Fetched bridge event history chunk")

		history = append(history, logs...)
	}

	return history, nil
}

// decode turns a contract log into a lifecycle event. Logs removed by a reorg
// decode like any other and are flagged Removed.
func (s *BridgeEventService) decode(vLog types.Log) (*models.BridgeEvent, error) {
	if len(vLog.Topics) == 0 {
		return nil, errors.Wrapf(ErrProtocol, "log without topics in tx %s", vLog.TxHash.Hex())
	}

	kind, ok := s.kinds[vLog.Topics[0]]
	if !ok {
		return nil, errors.Wrapf(ErrProtocol, "unknown event topic %s in tx %s", vLog.Topics[0].Hex(), vLog.TxHash.Hex())
	}

	var payload bridgeEventPayload
	if err := s.abi.UnpackIntoInterface(&payload, kind.String(), vLog.Data); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "failed to decode %s in tx %s: %v", kind, vLog.TxHash.Hex(), err)
	}

	return &models.BridgeEvent{
		Kind:    kind,
		ChainID: s.chain.ID(),
		Position: models.EventPosition{
			BlockNumber: vLog.BlockNumber,
			TxIndex:     vLog.TxIndex,
			LogIndex:    vLog.Index,
		},
		BlockHash: vLog.BlockHash,
		TxHash:    vLog.TxHash,
		RequestID: payload.RequestID,
		Request:   payload.Request,
		Removed:   vLog.Removed,
	}, nil
}

func (s *BridgeEventService) apply(ctx context.Context, event *models.BridgeEvent) error {
	if err := s.replayer.Replay(ctx, event); err != nil {
		return err
	}

	s.orderer.Delivered(event.Position)
	s.eventsReplayed.Add(1)
	s.lastEventTime.Store(time.Now().Unix())

	// a crash between replay and this write replays the event once more on restart
	err := s.chain.DB.UpdateEventCursor(ctx, &models.EventCursor{ChainID: s.chain.ID(), Position: event.Position})
	if err != nil {
		s.logger.Warn().Err(err).Str("position", event.Position.String()).Msg("Failed to update event cursor")
	}

	return nil
}

// revert undoes a delivered event whose log was removed by a reorg and moves
// the cursor back so a re-included copy is applied again.
func (s *BridgeEventService) revert(ctx context.Context, event *models.BridgeEvent) error {
	logger := s.logger.With().
		Str(logging.FieldEvent, event.Kind.String()).
		Str("position", event.Position.String()).
		Str("tx_hash", event.TxHash.Hex()).
		Logger()

	if !s.orderer.Revert(event.Position) {
		logger.Warn().Msg("Ignoring removed log of an event that was never applied")
		return nil
	}

	if err := s.replayer.Revert(ctx, event); err != nil {
		return err
	}

	s.eventsReverted.Add(1)
	logger.Warn().Msg("Reverted bridge event removed by reorg")

	if w := s.orderer.Watermark(); w != nil {
		err := s.chain.DB.UpdateEventCursor(ctx, &models.EventCursor{ChainID: s.chain.ID(), Position: *w})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to move event cursor back")
		}
	}

	return nil
}

// cancelRemoved splits a batch into live events and removals. A removal whose
// log is still in the batch cancels it, since neither was applied yet. The
// remaining removals are returned newest first.
func cancelRemoved(events []*models.BridgeEvent) (live, removed []*models.BridgeEvent) {
	type logKey struct {
		block    common.Hash
		tx       common.Hash
		position models.EventPosition
	}
	key := func(e *models.BridgeEvent) logKey {
		return logKey{block: e.BlockHash, tx: e.TxHash, position: e.Position}
	}

	removals := make(map[logKey]bool)
	for _, event := range events {
		if event.Removed {
			removals[key(event)] = false
		}
	}

	for _, event := range events {
		if event.Removed {
			continue
		}
		if _, ok := removals[key(event)]; ok {
			removals[key(event)] = true
			continue
		}
		live = append(live, event)
	}

	for _, event := range events {
		k := key(event)
		if cancelled, ok := removals[k]; event.Removed && ok && !cancelled {
			removals[k] = true
			removed = append(removed, event)
		}
	}

	sort.SliceStable(removed, func(i, j int) bool {
		return removed[j].Position.Less(removed[i].Position)
	})

	return live, removed
}

func positionString(p *models.EventPosition) string {
	if p == nil {
		return "none"
	}
	return p.String()
}

// EventsReplayed returns the number of events applied since start.
func (s *BridgeEventService) EventsReplayed() uint64 {
	return s.eventsReplayed.Load()
}

// EventsReverted returns the number of applied events undone after a reorg.
func (s *BridgeEventService) EventsReverted() uint64 {
	return s.eventsReverted.Load()
}

// LastEventTime returns when the last event was applied, or the zero time.
func (s *BridgeEventService) LastEventTime() time.Time {
	unix := s.lastEventTime.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
