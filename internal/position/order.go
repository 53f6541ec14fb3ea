package position

import (
	"math/big"

	"TranchePool/internal/fpmath"
)

// OrderKind discriminates the conditional close orders.
type OrderKind int32

const (
	OrderStopLoss OrderKind = iota
	OrderTakeProfit
	OrderTrailingStop
)

func (k OrderKind) String() string {
	switch k {
	case OrderStopLoss:
		return "stop_loss"
	case OrderTakeProfit:
		return "take_profit"
	case OrderTrailingStop:
		return "trailing_stop"
	default:
		return "unknown"
	}
}

// Order is a conditional close order. At most one active order per (key,
// kind) exists; re-creating overwrites (last write wins). Executed flips
// exactly once; re-execution fails.
type Order struct {
	Key      Key
	Kind     OrderKind
	Size     *big.Int
	Executed bool

	// Trigger is the trigger price for stop-loss and take-profit orders, and
	// the retrace delta (in price units) for trailing stops.
	Trigger *big.Int

	// LastPrice is the trailing stop's ratcheting reference: the best index
	// price seen since creation.
	LastPrice *big.Int
}

func (o *Order) Clone() *Order {
	return &Order{
		Key:       o.Key,
		Kind:      o.Kind,
		Size:      fpmath.Clone(o.Size),
		Executed:  o.Executed,
		Trigger:   fpmath.Clone(o.Trigger),
		LastPrice: fpmath.Clone(o.LastPrice),
	}
}

// Triggered reports whether a stop-loss or take-profit fires at markPrice.
// Long positions stop at-or-below and take profit at-or-above the trigger;
// shorts are mirrored.
func (o *Order) Triggered(markPrice *big.Int) bool {
	switch o.Kind {
	case OrderStopLoss:
		if o.Key.Side == SideLong {
			return markPrice.Cmp(o.Trigger) <= 0
		}
		return markPrice.Cmp(o.Trigger) >= 0
	case OrderTakeProfit:
		if o.Key.Side == SideLong {
			return markPrice.Cmp(o.Trigger) >= 0
		}
		return markPrice.Cmp(o.Trigger) <= 0
	default:
		return false
	}
}

// TrailingTriggered reports whether the trailing stop fires at markPrice: the
// price has retraced by at least the delta from the best price seen.
func (o *Order) TrailingTriggered(markPrice *big.Int) bool {
	if o.Kind != OrderTrailingStop {
		return false
	}
	retrace := new(big.Int)
	if o.Key.Side == SideLong {
		retrace.Sub(o.LastPrice, markPrice)
	} else {
		retrace.Sub(markPrice, o.LastPrice)
	}
	return retrace.Cmp(o.Trigger) >= 0
}

// Ratchet advances the trailing stop's reference price when markPrice
// improves on it, returning true when the reference moved.
func (o *Order) Ratchet(markPrice *big.Int) bool {
	if o.Kind != OrderTrailingStop {
		return false
	}
	improved := false
	if o.Key.Side == SideLong {
		improved = markPrice.Cmp(o.LastPrice) > 0
	} else {
		improved = markPrice.Cmp(o.LastPrice) < 0
	}
	if improved {
		o.LastPrice = fpmath.Clone(markPrice)
	}
	return improved
}
