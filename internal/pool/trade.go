package pool

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"TranchePool/internal/fpmath"
	"TranchePool/internal/notify"
	"TranchePool/internal/position"
)

// validatePair enforces the (index, collateral, side) combination rules:
// longs borrow the index asset itself, shorts post stablecoin collateral
// against a volatile index.
func (p *Pool) validatePair(indexToken, collateralToken string, side position.Side, increase bool) error {
	for _, tok := range []string{indexToken, collateralToken} {
		if !p.reg.IsKnown(tok) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, tok)
		}
		if increase && !p.reg.IsListed(tok) {
			return fmt.Errorf("%w: %s", ErrTokenNotListed, tok)
		}
	}
	if p.reg.IsStable(indexToken) {
		return fmt.Errorf("%w: index token %s is a stablecoin", ErrInvalidTokenPair, indexToken)
	}
	if side == position.SideLong {
		if indexToken != collateralToken {
			return fmt.Errorf("%w: long requires collateral == index", ErrInvalidTokenPair)
		}
	} else {
		if !p.reg.IsStable(collateralToken) {
			return fmt.Errorf("%w: short requires stablecoin collateral", ErrInvalidTokenPair)
		}
	}
	return nil
}

// entryIndexPrice prices the index at the bound adverse to the trader when
// entering; closeIndexPrice mirrors it on the way out.
func (p *Pool) entryIndexPrice(indexToken string, side position.Side) (*big.Int, error) {
	return p.feed.GetPrice(indexToken, side == position.SideLong)
}

func (p *Pool) closeIndexPrice(indexToken string, side position.Side) (*big.Int, error) {
	return p.feed.GetPrice(indexToken, side == position.SideShort)
}

// IncreasePosition opens or scales a position by sizeDelta USD of notional,
// consuming any escrowed collateral deposit.
func (p *Pool) IncreasePosition(owner uuid.UUID, indexToken, collateralToken string, sizeDelta *big.Int, side position.Side) error {
	return p.run("increase_position", func(tx *txn) error {
		if owner == uuid.Nil {
			return ErrZeroAddress
		}
		if sizeDelta == nil || sizeDelta.Sign() <= 0 {
			return ErrZeroAmount
		}
		if err := p.validatePair(indexToken, collateralToken, side, true); err != nil {
			return err
		}

		borrowIndex := p.accrue(tx, collateralToken)
		if indexToken != collateralToken {
			p.accrue(tx, indexToken)
		}

		collateralAmount, err := p.observeDeposit(tx, collateralToken)
		if err != nil {
			return err
		}

		indexPrice, err := p.entryIndexPrice(indexToken, side)
		if err != nil {
			return err
		}
		collateralPrice, err := p.feed.GetPrice(collateralToken, false)
		if err != nil {
			return err
		}

		key := position.Key{Owner: owner, IndexToken: indexToken, CollateralToken: collateralToken, Side: side}
		pos, ok := tx.st.positions[key]
		if !ok {
			pos = position.New(tx.st.ledger.TrancheCount())
			tx.st.positions[key] = pos
		}
		pos.EnsureTranches(tx.st.ledger.TrancheCount())

		feeValue := p.fees.BorrowFee(borrowIndex, pos.BorrowIndex, pos.Size)
		feeValue.Add(feeValue, p.fees.PositionFee(sizeDelta))

		collateralValueAdded := new(big.Int).Mul(collateralAmount, collateralPrice)
		nextSize := new(big.Int).Add(pos.Size, sizeDelta)
		nextCollateral := new(big.Int).Add(pos.CollateralValue, collateralValueAdded)
		nextCollateral = fpmath.ZeroCapSub(nextCollateral, feeValue)
		entryPrice := position.NextEntryPrice(side, nextSize, indexPrice, pos.Size, pos.EntryPrice)

		if !position.CheckLeverage(nextSize, nextCollateral, p.params.MaxLeverage) {
			return fmt.Errorf("%w: size %s collateral %s", ErrInvalidLeverage, nextSize, nextCollateral)
		}

		// The updated position must not already be liquidatable at the
		// prevailing price.
		pnl := position.PnL(side, nextSize, entryPrice, indexPrice)
		closeFee := p.fees.PositionFee(nextSize)
		if position.Liquidatable(pnl, nextCollateral, nextSize, closeFee, p.params.Fees.LiquidationFee, p.params.MaintenanceMargin) {
			return ErrUpdateCausesLiquidation
		}

		reserveDelta := new(big.Int).Quo(sizeDelta, collateralPrice)
		if reserveDelta.Sign() <= 0 {
			return ErrZeroAmount
		}

		alloc, err := tx.st.ledger.Allocate(indexToken, collateralToken, reserveDelta, p.reg.IsStable(indexToken), false)
		if err != nil {
			return err
		}

		feeAmount := new(big.Int).Quo(feeValue, collateralPrice)
		daoFee, _ := p.fees.SplitDao(feeAmount)
		poolCredit := new(big.Int).Sub(collateralAmount, daoFee)
		poolShares := splitProportional(poolCredit, alloc, reserveDelta)

		var guaranteedDelta *big.Int
		var guaranteedShares, shortShares []*big.Int
		if side == position.SideLong {
			// guaranteedValue += sizeDelta + fee - addedCollateralValue
			guaranteedDelta = new(big.Int).Add(sizeDelta, feeValue)
			guaranteedDelta.Sub(guaranteedDelta, collateralValueAdded)
			guaranteedShares = splitProportional(guaranteedDelta, alloc, reserveDelta)
		} else {
			shortShares = splitProportional(sizeDelta, alloc, reserveDelta)
		}

		for i, share := range alloc {
			if share.Sign() == 0 && poolShares[i].Sign() == 0 {
				continue
			}
			if err := tx.st.ledger.IncreaseReserve(i, collateralToken, share); err != nil {
				return err
			}
			pos.TrancheReserves[i].Add(pos.TrancheReserves[i], share)
			tx.st.ledger.IncreasePoolAmount(i, collateralToken, poolShares[i])

			a := tx.st.ledger.Asset(i, indexToken)
			if side == position.SideLong {
				a.GuaranteedValue.Add(a.GuaranteedValue, guaranteedShares[i])
			} else {
				nextShort := new(big.Int).Add(a.TotalShortSize, shortShares[i])
				a.AverageShortPrice = position.NextEntryPrice(position.SideShort, nextShort, indexPrice, a.TotalShortSize, a.AverageShortPrice)
				a.TotalShortSize = nextShort
			}
		}

		pt := tx.st.ledger.PoolToken(collateralToken)
		pt.FeeReserve.Add(pt.FeeReserve, daoFee)

		pos.Size = nextSize
		pos.CollateralValue = nextCollateral
		pos.EntryPrice = entryPrice
		pos.ReserveAmount.Add(pos.ReserveAmount, reserveDelta)
		pos.BorrowIndex = fpmath.Clone(borrowIndex)

		if err := p.checkExposureCaps(tx, indexToken, side, indexPrice); err != nil {
			return err
		}

		sd := fpmath.Clone(sizeDelta)
		cv := fpmath.Clone(collateralValueAdded)
		fv := fpmath.Clone(feeValue)
		px := fpmath.Clone(indexPrice)
		tx.notify(func(h notify.Hook) {
			h.PositionIncreased(notify.PositionEvent{
				Owner:           owner,
				IndexToken:      indexToken,
				CollateralToken: collateralToken,
				Side:            side.String(),
				SizeDelta:       sd,
				CollateralDelta: cv,
				FeeValue:        fv,
				IndexPrice:      px,
			})
		})
		return nil
	})
}

// checkExposureCaps enforces the per-index max global short size, the
// available-tranche-value bound on shorts, and the optional max long reserve
// ratio.
func (p *Pool) checkExposureCaps(tx *txn, indexToken string, side position.Side, indexPrice *big.Int) error {
	if side == position.SideShort {
		totalShort := tx.st.ledger.TotalShortSize(indexToken)
		if cap, ok := p.params.MaxGlobalShortSize[indexToken]; ok && totalShort.Cmp(cap) > 0 {
			return fmt.Errorf("%w: %s > %s", ErrMaxGlobalShortSize, totalShort, cap)
		}
		free := fpmath.ZeroCapSub(tx.st.ledger.TotalPoolAmount(indexToken), tx.st.ledger.TotalReservedAmount(indexToken))
		available := free.Mul(free, indexPrice)
		if totalShort.Cmp(available) > 0 {
			return fmt.Errorf("%w: short size %s exceeds available value %s", ErrMaxGlobalShortSize, totalShort, available)
		}
		return nil
	}

	ratio, ok := p.params.MaxGlobalLongRatio[indexToken]
	if !ok {
		return nil
	}
	reserved := tx.st.ledger.TotalReservedAmount(indexToken)
	maxReserve := fpmath.ApplyRate(tx.st.ledger.TotalPoolAmount(indexToken), ratio)
	if reserved.Cmp(maxReserve) > 0 {
		return fmt.Errorf("%w: reserved %s > %s", ErrMaxGlobalLongRatio, reserved, maxReserve)
	}
	return nil
}

// DecreasePosition reduces a position by sizeDelta USD of notional and
// withdraws collateralDelta USD of collateral to the receiver. A decrease
// that would leave the remaining collateral negative reverts.
func (p *Pool) DecreasePosition(owner uuid.UUID, indexToken, collateralToken string, collateralDelta, sizeDelta *big.Int, side position.Side, receiver uuid.UUID) error {
	return p.run("decrease_position", func(tx *txn) error {
		key := position.Key{Owner: owner, IndexToken: indexToken, CollateralToken: collateralToken, Side: side}
		_, err := p.decreasePosition(tx, key, collateralDelta, sizeDelta, receiver, false, uuid.Nil)
		return err
	})
}

// LiquidatePosition closes an underwater position entirely. Callable by any
// principal once eligibility holds; the caller earns the flat liquidation
// fee and the owner receives whatever collateral survives.
func (p *Pool) LiquidatePosition(caller, owner uuid.UUID, indexToken, collateralToken string, side position.Side) error {
	return p.run("liquidate_position", func(tx *txn) error {
		key := position.Key{Owner: owner, IndexToken: indexToken, CollateralToken: collateralToken, Side: side}
		pos, ok := tx.st.positions[key]
		if !ok {
			return ErrPositionNotExists
		}

		borrowIndex := p.accrue(tx, collateralToken)
		indexPrice, err := p.closeIndexPrice(indexToken, side)
		if err != nil {
			return err
		}

		pnl := position.PnL(side, pos.Size, pos.EntryPrice, indexPrice)
		closeFee := p.fees.BorrowFee(borrowIndex, pos.BorrowIndex, pos.Size)
		closeFee.Add(closeFee, p.fees.PositionFee(pos.Size))
		if !position.Liquidatable(pnl, pos.CollateralValue, pos.Size, closeFee, p.params.Fees.LiquidationFee, p.params.MaintenanceMargin) {
			return ErrNotLiquidatable
		}

		_, err = p.decreasePosition(tx, key, fpmath.Clone(pos.CollateralValue), fpmath.Clone(pos.Size), owner, true, caller)
		return err
	})
}

// decreaseResult reports the economics of a decrease for hooks and orders.
type decreaseResult struct {
	payoutAmount *big.Int
	pnl          *big.Int
	feeValue     *big.Int
}

// decreasePosition is the shared decrease/liquidate core. It must run inside
// an atomic operation.
func (p *Pool) decreasePosition(tx *txn, key position.Key, collateralDelta, sizeDelta *big.Int, receiver uuid.UUID, liquidate bool, liquidator uuid.UUID) (*decreaseResult, error) {
	pos, ok := tx.st.positions[key]
	if !ok || pos.Size.Sign() == 0 {
		return nil, ErrPositionNotExists
	}
	if receiver == uuid.Nil {
		return nil, ErrZeroAddress
	}
	if err := p.validatePair(key.IndexToken, key.CollateralToken, key.Side, false); err != nil {
		return nil, err
	}
	if sizeDelta == nil || sizeDelta.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	borrowIndex := p.accrue(tx, key.CollateralToken)
	if key.IndexToken != key.CollateralToken {
		p.accrue(tx, key.IndexToken)
	}

	// Sanitize the requested reductions against the actual position.
	sizeDelta = fpmath.Min(sizeDelta, pos.Size)
	if collateralDelta == nil {
		collateralDelta = fpmath.Zero()
	}
	collateralDelta = fpmath.Min(collateralDelta, pos.CollateralValue)
	fullClose := sizeDelta.Cmp(pos.Size) == 0
	if fullClose {
		collateralDelta = fpmath.Clone(pos.CollateralValue)
	}

	indexPrice, err := p.closeIndexPrice(key.IndexToken, key.Side)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := p.feed.GetPrice(key.CollateralToken, false)
	if err != nil {
		return nil, err
	}

	feeValue := p.fees.BorrowFee(borrowIndex, pos.BorrowIndex, pos.Size)
	feeValue.Add(feeValue, p.fees.PositionFee(sizeDelta))

	pnl := position.PnL(key.Side, sizeDelta, pos.EntryPrice, indexPrice)

	payoutValue := new(big.Int).Add(pnl, collateralDelta)
	payoutValue.Sub(payoutValue, feeValue)
	if liquidate {
		payoutValue.Sub(payoutValue, p.params.Fees.LiquidationFee)
	}

	remainingCollateral := new(big.Int).Sub(pos.CollateralValue, collateralDelta)
	if payoutValue.Sign() < 0 {
		// The shortfall eats into the collateral left behind.
		remainingCollateral.Add(remainingCollateral, payoutValue)
		payoutValue.SetInt64(0)
		if remainingCollateral.Sign() < 0 {
			if !liquidate {
				return nil, ErrUpdateCausesLiquidation
			}
			// Bankrupt liquidation: the pool absorbs the shortfall. The
			// absorbed amount never exceeds the collateral net of fees
			// because the payout is already floored at zero.
			remainingCollateral.SetInt64(0)
		}
	}

	payoutAmount := new(big.Int).Quo(payoutValue, collateralPrice)
	liqFeeAmount := fpmath.Zero()
	if liquidate {
		liqFeeAmount = new(big.Int).Quo(p.params.Fees.LiquidationFee, collateralPrice)
	}
	feeAmount := new(big.Int).Quo(feeValue, collateralPrice)
	daoFee, _ := p.fees.SplitDao(feeAmount)

	// Release reserve proportional to the position's original per-tranche
	// shares.
	pos.EnsureTranches(tx.st.ledger.TrancheCount())
	released := splitProportional(
		fpmath.MulDiv(pos.ReserveAmount, sizeDelta, pos.Size),
		pos.TrancheReserves,
		pos.ReserveAmount,
	)
	releasedTotal := fpmath.Zero()
	for _, r := range released {
		releasedTotal.Add(releasedTotal, r)
	}

	// Settlement spreads over the released shares; a dust-sized decrease can
	// release nothing, in which case the original reserve shares apply.
	weights, weightTotal := released, releasedTotal
	if releasedTotal.Sign() == 0 {
		weights, weightTotal = pos.TrancheReserves, pos.ReserveAmount
	}

	collateralRemoved := new(big.Int).Sub(pos.CollateralValue, remainingCollateral)
	outTokens := new(big.Int).Add(payoutAmount, liqFeeAmount)
	outTokens.Add(outTokens, daoFee)
	outShares := splitProportional(outTokens, weights, weightTotal)

	var guaranteedShares, shortShares []*big.Int
	if key.Side == position.SideLong {
		// guaranteedValue tracked size - collateral at entry; both shrink.
		guaranteedDelta := new(big.Int).Sub(sizeDelta, collateralRemoved)
		guaranteedShares = splitProportional(guaranteedDelta, weights, weightTotal)
	} else {
		shortShares = splitProportional(sizeDelta, weights, weightTotal)
	}

	for i := range released {
		if released[i].Sign() > 0 {
			if err := tx.st.ledger.DecreaseReserve(i, key.CollateralToken, released[i]); err != nil {
				return nil, err
			}
			pos.TrancheReserves[i].Sub(pos.TrancheReserves[i], released[i])
		}
		if outShares[i].Sign() != 0 {
			if err := tx.st.ledger.DecreasePoolAmount(i, key.CollateralToken, outShares[i]); err != nil {
				return nil, err
			}
		}
		a := tx.st.ledger.Asset(i, key.IndexToken)
		if key.Side == position.SideLong {
			a.GuaranteedValue.Sub(a.GuaranteedValue, guaranteedShares[i])
		} else {
			a.TotalShortSize = fpmath.ZeroCapSub(a.TotalShortSize, shortShares[i])
			if a.TotalShortSize.Sign() == 0 {
				a.AverageShortPrice.SetInt64(0)
			}
		}
	}

	pt := tx.st.ledger.PoolToken(key.CollateralToken)
	pt.FeeReserve.Add(pt.FeeReserve, daoFee)

	pos.Size = new(big.Int).Sub(pos.Size, sizeDelta)
	pos.CollateralValue = remainingCollateral
	pos.ReserveAmount.Sub(pos.ReserveAmount, releasedTotal)

	if pos.Size.Sign() == 0 {
		delete(tx.st.positions, key)
	} else {
		pos.BorrowIndex = fpmath.Clone(borrowIndex)
		if !position.CheckLeverage(pos.Size, pos.CollateralValue, p.params.MaxLeverage) {
			return nil, fmt.Errorf("%w: size %s collateral %s", ErrInvalidLeverage, pos.Size, pos.CollateralValue)
		}
	}

	tx.payOut(key.CollateralToken, receiver, payoutAmount)
	if liquidate && liquidator != uuid.Nil {
		tx.payOut(key.CollateralToken, liquidator, liqFeeAmount)
	}

	res := &decreaseResult{
		payoutAmount: fpmath.Clone(payoutAmount),
		pnl:          fpmath.Clone(pnl),
		feeValue:     fpmath.Clone(feeValue),
	}

	ev := notify.PositionEvent{
		Owner:           key.Owner,
		IndexToken:      key.IndexToken,
		CollateralToken: key.CollateralToken,
		Side:            key.Side.String(),
		SizeDelta:       fpmath.Clone(sizeDelta),
		CollateralDelta: fpmath.Clone(collateralRemoved),
		FeeValue:        fpmath.Clone(feeValue),
		Pnl:             fpmath.Clone(pnl),
		PayoutAmount:    fpmath.Clone(payoutAmount),
		IndexPrice:      fpmath.Clone(indexPrice),
	}
	if liquidate {
		tx.notify(func(h notify.Hook) { h.PositionLiquidated(ev) })
		if p.metrics != nil {
			p.metrics.Liquidations.WithLabelValues(key.IndexToken).Inc()
		}
	} else {
		tx.notify(func(h notify.Hook) { h.PositionDecreased(ev) })
	}
	return res, nil
}
