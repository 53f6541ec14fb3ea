package pool

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"TranchePool/internal/fpmath"
	"TranchePool/internal/position"
)

// createOrder installs a conditional close order. At most one active order
// per (key, kind) exists; re-creating overwrites it (last write wins). Only
// the position owner may create orders against it.
func (p *Pool) createOrder(caller uuid.UUID, key position.Key, kind position.OrderKind, trigger, size *big.Int, lastPrice *big.Int) error {
	op := "create_" + kind.String() + "_order"
	return p.run(op, func(tx *txn) error {
		if caller != key.Owner {
			return ErrUnauthorized
		}
		if trigger == nil || trigger.Sign() <= 0 {
			return ErrZeroAmount
		}
		pos, ok := tx.st.positions[key]
		if !ok || pos.Size.Sign() == 0 {
			return ErrPositionNotExists
		}
		if size == nil || size.Sign() <= 0 {
			size = pos.Size
		}
		o := &position.Order{
			Key:       key,
			Kind:      kind,
			Size:      fpmath.Clone(size),
			Trigger:   fpmath.Clone(trigger),
			LastPrice: fpmath.Clone(lastPrice),
		}
		tx.st.orderStore(kind)[key] = o
		return nil
	})
}

// CreateStopLossOrder arms a stop that closes the position when the index
// price crosses triggerPrice in the adverse direction.
func (p *Pool) CreateStopLossOrder(caller uuid.UUID, key position.Key, triggerPrice, size *big.Int) error {
	return p.createOrder(caller, key, position.OrderStopLoss, triggerPrice, size, nil)
}

// CreateTakeProfitOrder arms a close at-or-beyond triggerPrice in the
// favorable direction.
func (p *Pool) CreateTakeProfitOrder(caller uuid.UUID, key position.Key, triggerPrice, size *big.Int) error {
	return p.createOrder(caller, key, position.OrderTakeProfit, triggerPrice, size, nil)
}

// CreateTrailingStopOrder arms a stop that follows the best index price seen
// and fires once the price retraces by delta from it. The reference starts
// at the current index price.
func (p *Pool) CreateTrailingStopOrder(caller uuid.UUID, key position.Key, delta, size *big.Int) error {
	price, err := p.closeIndexPrice(key.IndexToken, key.Side)
	if err != nil {
		return err
	}
	return p.createOrder(caller, key, position.OrderTrailingStop, delta, size, price)
}

func (p *Pool) loadOrder(tx *txn, key position.Key, kind position.OrderKind) (*position.Order, error) {
	o, ok := tx.st.orderStore(kind)[key]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Executed {
		return nil, ErrOrderAlreadyExecuted
	}
	return o, nil
}

// executeTriggered runs the decrease an order commands and flags it
// executed exactly once. The order's size is capped at the live position;
// collateral is withdrawn in proportion to the closed size.
func (p *Pool) executeTriggered(tx *txn, o *position.Order) error {
	pos, ok := tx.st.positions[o.Key]
	if !ok {
		return ErrPositionNotExists
	}
	sizeDelta := fpmath.Min(o.Size, pos.Size)
	collateralDelta := fpmath.MulDiv(pos.CollateralValue, sizeDelta, pos.Size)
	_, err := p.decreasePosition(tx, o.Key, collateralDelta, sizeDelta, o.Key.Owner, false, uuid.Nil)
	if err != nil {
		return err
	}
	o.Executed = true
	if p.metrics != nil {
		p.metrics.OrdersExecuted.WithLabelValues(o.Kind.String()).Inc()
	}
	return nil
}

// ExecuteStopLossOrder fires a triggered stop-loss. Anyone may call it; it
// fails with ErrOrderNotTriggered while the trigger condition does not hold.
func (p *Pool) ExecuteStopLossOrder(key position.Key) error {
	return p.run("execute_stop_loss_order", func(tx *txn) error {
		o, err := p.loadOrder(tx, key, position.OrderStopLoss)
		if err != nil {
			return err
		}
		price, err := p.closeIndexPrice(key.IndexToken, key.Side)
		if err != nil {
			return err
		}
		if !o.Triggered(price) {
			return fmt.Errorf("%w: stop loss at %s, price %s", ErrOrderNotTriggered, o.Trigger, price)
		}
		return p.executeTriggered(tx, o)
	})
}

// ExecuteTakeProfitOrder fires a triggered take-profit.
func (p *Pool) ExecuteTakeProfitOrder(key position.Key) error {
	return p.run("execute_take_profit_order", func(tx *txn) error {
		o, err := p.loadOrder(tx, key, position.OrderTakeProfit)
		if err != nil {
			return err
		}
		price, err := p.closeIndexPrice(key.IndexToken, key.Side)
		if err != nil {
			return err
		}
		if !o.Triggered(price) {
			return fmt.Errorf("%w: take profit at %s, price %s", ErrOrderNotTriggered, o.Trigger, price)
		}
		return p.executeTriggered(tx, o)
	})
}

// ExecuteTrailingStopOrder fires the trailing stop when the index price has
// retraced by the order's delta from the best price seen. When not
// triggered, it commits any ratchet advance of the reference price and
// reports executed=false with no error, so executors can poll it.
func (p *Pool) ExecuteTrailingStopOrder(key position.Key) (bool, error) {
	executed := false
	err := p.run("execute_trailing_stop_order", func(tx *txn) error {
		o, err := p.loadOrder(tx, key, position.OrderTrailingStop)
		if err != nil {
			return err
		}
		price, err := p.closeIndexPrice(key.IndexToken, key.Side)
		if err != nil {
			return err
		}
		if o.TrailingTriggered(price) {
			if err := p.executeTriggered(tx, o); err != nil {
				return err
			}
			executed = true
			return nil
		}
		o.Ratchet(price)
		return nil
	})
	return executed, err
}
