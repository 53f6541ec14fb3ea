package pool

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"TranchePool/internal/fee"
	"TranchePool/internal/fpmath"
	"TranchePool/internal/notify"
)

// lpPrice returns the USD value of one receipt-token base unit for a
// tranche, falling back to the configured initial price while supply is zero
// or the tranche is worthless.
func (p *Pool) lpPrice(tx *txn, trancheIdx int, useMax bool) (*big.Int, error) {
	supply := p.lpTokens[trancheIdx].TotalSupply()
	if supply.Sign() == 0 {
		return fpmath.Clone(p.params.LPInitialPrice), nil
	}
	value, err := p.val.TrancheValue(tx.st.ledger, trancheIdx, useMax)
	if err != nil {
		return nil, err
	}
	if value.Sign() <= 0 {
		return fpmath.Clone(p.params.LPInitialPrice), nil
	}
	return new(big.Int).Quo(value, supply), nil
}

// AddLiquidity consumes the caller's escrowed deposit of token, charges the
// flow-sensitive liquidity fee and mints tranche receipt tokens to the
// recipient. Returns the minted amount.
func (p *Pool) AddLiquidity(trancheIdx int, token string, minLpOut *big.Int, to uuid.UUID) (*big.Int, error) {
	var lpOut *big.Int
	err := p.run("add_liquidity", func(tx *txn) error {
		if trancheIdx < 0 || trancheIdx >= tx.st.ledger.TrancheCount() {
			return fmt.Errorf("%w: %d", ErrUnknownTranche, trancheIdx)
		}
		if to == uuid.Nil {
			return ErrZeroAddress
		}
		if !p.reg.IsKnown(token) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		if !p.reg.IsListed(token) {
			return fmt.Errorf("%w: %s", ErrTokenNotListed, token)
		}

		p.accrue(tx, token)

		amountIn, err := p.observeDeposit(tx, token)
		if err != nil {
			return err
		}
		if amountIn.Sign() == 0 {
			return ErrZeroAmount
		}

		price, err := p.feed.GetPrice(token, false)
		if err != nil {
			return err
		}
		valueChange := new(big.Int).Mul(price, amountIn)

		rate := p.fees.LiquidityFeeRate(
			p.reg.IsStable(token),
			p.targetValue(tx, token),
			currentValue(tx, token, price),
			valueChange,
			true,
		)
		feeAmount := fpmath.ApplyRate(amountIn, rate)
		daoFee, _ := p.fees.SplitDao(feeAmount)

		pt := tx.st.ledger.PoolToken(token)
		pt.FeeReserve.Add(pt.FeeReserve, daoFee)
		tx.st.ledger.IncreasePoolAmount(trancheIdx, token, new(big.Int).Sub(amountIn, daoFee))

		// The LP share of the fee stays in the tranche; the provider is
		// credited for the deposit net of the whole fee.
		userValue := new(big.Int).Sub(amountIn, feeAmount)
		userValue.Mul(userValue, price)

		lpPx, err := p.lpPrice(tx, trancheIdx, true)
		if err != nil {
			return err
		}
		lpOut = new(big.Int).Quo(userValue, lpPx)
		if minLpOut != nil && lpOut.Cmp(minLpOut) < 0 {
			return fmt.Errorf("%w: lp out %s < min %s", ErrSlippage, lpOut, minLpOut)
		}

		tx.lpActions = append(tx.lpActions, lpAction{trancheIdx: trancheIdx, owner: to, amount: fpmath.Clone(lpOut)})
		return p.refreshVirtualPoolValue(tx)
	})
	if err != nil {
		return nil, err
	}
	return lpOut, nil
}

// RemoveLiquidity burns lpAmount of a tranche's receipt token and pays out
// tokenOut net of the flow-sensitive fee.
func (p *Pool) RemoveLiquidity(trancheIdx int, tokenOut string, lpAmount, minOut *big.Int, to uuid.UUID) (*big.Int, error) {
	var amountOut *big.Int
	err := p.run("remove_liquidity", func(tx *txn) error {
		if trancheIdx < 0 || trancheIdx >= tx.st.ledger.TrancheCount() {
			return fmt.Errorf("%w: %d", ErrUnknownTranche, trancheIdx)
		}
		if to == uuid.Nil {
			return ErrZeroAddress
		}
		if !p.reg.IsKnown(tokenOut) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, tokenOut)
		}
		if lpAmount == nil || lpAmount.Sign() == 0 {
			return ErrZeroAmount
		}

		p.accrue(tx, tokenOut)

		lpPx, err := p.lpPrice(tx, trancheIdx, false)
		if err != nil {
			return err
		}
		valueOut := new(big.Int).Mul(lpAmount, lpPx)

		price, err := p.feed.GetPrice(tokenOut, true)
		if err != nil {
			return err
		}
		totalOut := new(big.Int).Quo(valueOut, price)
		if totalOut.Sign() == 0 {
			return ErrZeroAmount
		}

		rate := p.fees.LiquidityFeeRate(
			p.reg.IsStable(tokenOut),
			p.targetValue(tx, tokenOut),
			currentValue(tx, tokenOut, price),
			valueOut,
			false,
		)
		feeAmount := fpmath.ApplyRate(totalOut, rate)
		daoFee, _ := p.fees.SplitDao(feeAmount)

		amountOut = new(big.Int).Sub(totalOut, feeAmount)
		if amountOut.Sign() <= 0 {
			return ErrZeroAmount
		}
		if minOut != nil && amountOut.Cmp(minOut) < 0 {
			return fmt.Errorf("%w: out %s < min %s", ErrSlippage, amountOut, minOut)
		}

		debit := new(big.Int).Add(amountOut, daoFee)
		if err := tx.st.ledger.DecreasePoolAmount(trancheIdx, tokenOut, debit); err != nil {
			return err
		}
		pt := tx.st.ledger.PoolToken(tokenOut)
		pt.FeeReserve.Add(pt.FeeReserve, daoFee)

		tx.lpActions = append(tx.lpActions, lpAction{trancheIdx: trancheIdx, owner: to, amount: fpmath.Clone(lpAmount), burn: true})
		tx.payOut(tokenOut, to, amountOut)
		return p.refreshVirtualPoolValue(tx)
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// Swap converts the caller's escrowed deposit of tokenIn into tokenOut,
// charging the larger of the two flow-sensitive rates and spreading both
// flows across tranches by risk weight.
func (p *Pool) Swap(tokenIn, tokenOut string, minOut *big.Int, to uuid.UUID) (*big.Int, error) {
	var amountOut *big.Int
	err := p.run("swap", func(tx *txn) error {
		if tokenIn == tokenOut {
			return ErrSameToken
		}
		if to == uuid.Nil {
			return ErrZeroAddress
		}
		for _, tok := range []string{tokenIn, tokenOut} {
			if !p.reg.IsKnown(tok) {
				return fmt.Errorf("%w: %s", ErrUnknownToken, tok)
			}
			if !p.reg.IsListed(tok) {
				return fmt.Errorf("%w: %s", ErrTokenNotListed, tok)
			}
		}

		p.accrue(tx, tokenIn)
		p.accrue(tx, tokenOut)

		amountIn, err := p.observeDeposit(tx, tokenIn)
		if err != nil {
			return err
		}
		if amountIn.Sign() == 0 {
			return ErrZeroAmount
		}

		priceIn, err := p.feed.GetPrice(tokenIn, false)
		if err != nil {
			return err
		}
		priceOut, err := p.feed.GetPrice(tokenOut, true)
		if err != nil {
			return err
		}
		valueChange := new(big.Int).Mul(priceIn, amountIn)

		inRate := p.fees.SwapFeeRate(
			p.reg.IsStable(tokenIn),
			p.targetValue(tx, tokenIn),
			currentValue(tx, tokenIn, priceIn),
			valueChange,
			true,
		)
		outRate := p.fees.SwapFeeRate(
			p.reg.IsStable(tokenOut),
			p.targetValue(tx, tokenOut),
			currentValue(tx, tokenOut, priceOut),
			valueChange,
			false,
		)
		rate := fee.SwapFeeRates(inRate, outRate)

		feeValue := fpmath.ApplyRate(valueChange, rate)
		amountOut = new(big.Int).Sub(valueChange, feeValue)
		amountOut.Quo(amountOut, priceOut)
		if amountOut.Sign() <= 0 {
			return ErrZeroAmount
		}
		if minOut != nil && amountOut.Cmp(minOut) < 0 {
			return fmt.Errorf("%w: out %s < min %s", ErrSlippage, amountOut, minOut)
		}

		feeAmountIn := fpmath.ApplyRate(amountIn, rate)
		daoFeeIn, _ := p.fees.SplitDao(feeAmountIn)

		inAlloc, err := tx.st.ledger.Allocate(tokenIn, tokenIn, new(big.Int).Sub(amountIn, daoFeeIn), p.reg.IsStable(tokenIn), true)
		if err != nil {
			return err
		}
		for i, share := range inAlloc {
			if share.Sign() > 0 {
				tx.st.ledger.IncreasePoolAmount(i, tokenIn, share)
			}
		}

		outAlloc, err := tx.st.ledger.Allocate(tokenOut, tokenOut, amountOut, p.reg.IsStable(tokenOut), false)
		if err != nil {
			return err
		}
		for i, share := range outAlloc {
			if share.Sign() > 0 {
				if err := tx.st.ledger.DecreasePoolAmount(i, tokenOut, share); err != nil {
					return err
				}
			}
		}

		ptIn := tx.st.ledger.PoolToken(tokenIn)
		ptIn.FeeReserve.Add(ptIn.FeeReserve, daoFeeIn)

		tx.payOut(tokenOut, to, amountOut)

		out := fpmath.Clone(amountOut)
		in := fpmath.Clone(amountIn)
		feeAmt := fpmath.Clone(feeAmountIn)
		tx.notify(func(h notify.Hook) {
			h.Swapped(notify.SwapEvent{
				Receiver:  to,
				TokenIn:   tokenIn,
				TokenOut:  tokenOut,
				AmountIn:  in,
				AmountOut: out,
				FeeAmount: feeAmt,
			})
		})
		return p.refreshVirtualPoolValue(tx)
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}
