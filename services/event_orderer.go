package services

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// deliveredWindow is how many blocks below the watermark delivered positions are remembered.
const deliveredWindow = 128

// EventOrderer enforces a total (block, tx, log) order on replayed bridge events.
// Event positions are sparse, so instead of key contiguity it keeps a position
// watermark: everything at or below the watermark has been delivered.
type EventOrderer struct {
	watermark *models.EventPosition
	delivered map[models.EventPosition]struct{}
	mu        sync.Mutex
}

// NewEventOrderer starts at the given watermark. A nil watermark admits every event.
func NewEventOrderer(watermark *models.EventPosition) *EventOrderer {
	o := &EventOrderer{
		delivered: make(map[models.EventPosition]struct{}),
	}

	if watermark != nil {
		w := *watermark
		o.watermark = &w
	}

	return o
}

// Batch sorts the backfilled-first concatenation of history and queued live
// events, drops duplicates, delivered positions and everything at or below the watermark.
func (o *EventOrderer) Batch(events []*models.BridgeEvent) []*models.BridgeEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	sorted := make([]*models.BridgeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position.Less(sorted[j].Position)
	})

	out := sorted[:0]
	for _, event := range sorted {
		if o.watermark != nil && !o.watermark.Less(event.Position) {
			continue
		}
		if _, ok := o.delivered[event.Position]; ok {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Position == event.Position {
			continue
		}
		out = append(out, event)
	}

	return out
}

// Admission is the outcome of offering a live event to the orderer.
type Admission uint8

const (
	// Admitted events are past the watermark and must be applied.
	Admitted Admission = iota
	// Duplicate events were already delivered.
	Duplicate
	// Unverifiable events lie too far behind the watermark to tell whether
	// they were delivered. They are dropped and must be reported.
	Unverifiable
)

// Admit decides whether a live event is delivered. Duplicates of delivered
// events are rejected without error. An event below the watermark that was
// never delivered would be replayed out of order and is reported as a protocol error.
func (o *EventOrderer) Admit(event *models.BridgeEvent) (Admission, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.delivered[event.Position]; ok {
		return Duplicate, nil
	}

	if o.watermark == nil || o.watermark.Less(event.Position) {
		return Admitted, nil
	}

	if *o.watermark == event.Position {
		return Duplicate, nil
	}

	if event.Position.BlockNumber+deliveredWindow < o.watermark.BlockNumber {
		return Unverifiable, nil
	}

	return Duplicate, errors.Wrapf(
		ErrProtocol,
		"event %s at %s arrived after watermark %s",
		event.Kind, event.Position, o.watermark,
	)
}

// Revert forgets a delivered position whose log was removed by a reorg and
// moves the watermark back below it, so the event can be delivered again if
// the chain re-includes it. It reports whether the position had been delivered.
func (o *EventOrderer) Revert(position models.EventPosition) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.delivered[position]
	if !ok && (o.watermark == nil || *o.watermark != position) {
		return false
	}

	delete(o.delivered, position)

	if !o.watermark.Less(position) {
		w := position.Prev()
		o.watermark = &w
	}

	return true
}

// Delivered advances the watermark past a replayed event.
func (o *EventOrderer) Delivered(position models.EventPosition) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.watermark == nil || o.watermark.Less(position) {
		p := position
		o.watermark = &p
	}

	o.delivered[position] = struct{}{}

	for p := range o.delivered {
		if p.BlockNumber+deliveredWindow < o.watermark.BlockNumber {
			delete(o.delivered, p)
		}
	}
}

// Watermark returns the position of the last delivered event, or nil.
func (o *EventOrderer) Watermark() *models.EventPosition {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.watermark == nil {
		return nil
	}

	w := *o.watermark
	return &w
}
