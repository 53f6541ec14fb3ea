package pool

import (
	"math/big"

	"TranchePool/internal/fpmath"
	"TranchePool/internal/ledger"
	"TranchePool/internal/position"
)

// engineState is everything an atomic operation may touch: the asset ledger,
// the keyed entity stores and the cached virtual pool value. Operations
// mutate a clone and swap it in on success; a committed state is never
// mutated again, so readers can hold it without locking.
type engineState struct {
	ledger       *ledger.State
	positions    map[position.Key]*position.Position
	stopLoss     map[position.Key]*position.Order
	takeProfit   map[position.Key]*position.Order
	trailingStop map[position.Key]*position.Order

	// virtualPoolValue is the cached fee-curve input: the average of the min
	// and max pool valuations, refreshed after every liquidity change.
	virtualPoolValue *big.Int
}

func newEngineState() *engineState {
	return &engineState{
		ledger:           ledger.NewState(),
		positions:        make(map[position.Key]*position.Position),
		stopLoss:         make(map[position.Key]*position.Order),
		takeProfit:       make(map[position.Key]*position.Order),
		trailingStop:     make(map[position.Key]*position.Order),
		virtualPoolValue: fpmath.Zero(),
	}
}

func (s *engineState) clone() *engineState {
	c := &engineState{
		ledger:           s.ledger.Clone(),
		positions:        make(map[position.Key]*position.Position, len(s.positions)),
		stopLoss:         make(map[position.Key]*position.Order, len(s.stopLoss)),
		takeProfit:       make(map[position.Key]*position.Order, len(s.takeProfit)),
		trailingStop:     make(map[position.Key]*position.Order, len(s.trailingStop)),
		virtualPoolValue: fpmath.Clone(s.virtualPoolValue),
	}
	for k, p := range s.positions {
		c.positions[k] = p.Clone()
	}
	for k, o := range s.stopLoss {
		c.stopLoss[k] = o.Clone()
	}
	for k, o := range s.takeProfit {
		c.takeProfit[k] = o.Clone()
	}
	for k, o := range s.trailingStop {
		c.trailingStop[k] = o.Clone()
	}
	return c
}

func (s *engineState) orderStore(kind position.OrderKind) map[position.Key]*position.Order {
	switch kind {
	case position.OrderStopLoss:
		return s.stopLoss
	case position.OrderTakeProfit:
		return s.takeProfit
	default:
		return s.trailingStop
	}
}
