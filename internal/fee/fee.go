package fee

import (
	"math/big"

	"TranchePool/internal/fpmath"
)

// Params holds every fee knob, rates at Precision scale and the liquidation
// fee as a flat 30-decimal USD value.
type Params struct {
	PositionFeeRate *big.Int
	LiquidationFee  *big.Int

	BaseSwapFee   *big.Int
	TaxRate       *big.Int
	StableSwapFee *big.Int
	StableTaxRate *big.Int
	AddRemoveFee  *big.Int

	DaoFeeRate *big.Int
}

// Engine computes position, borrow and flow-sensitive liquidity/swap fees.
type Engine struct {
	params Params
}

func NewEngine(p Params) *Engine {
	return &Engine{params: p}
}

// Params returns the configured fee parameters.
func (e *Engine) Params() Params {
	return e.params
}

// PositionFee is the flat fee on the notional being opened or closed:
// sizeDelta * positionFeeRate / Precision.
func (e *Engine) PositionFee(sizeDelta *big.Int) *big.Int {
	return fpmath.ApplyRate(sizeDelta, e.params.PositionFeeRate)
}

// BorrowFee charges the interest accrued since the position's last update:
// (borrowIndex - entryIndex) * size / Precision.
func (e *Engine) BorrowFee(borrowIndex, entryIndex, size *big.Int) *big.Int {
	d := fpmath.ZeroCapSub(borrowIndex, entryIndex)
	return fpmath.MulDiv(d, size, fpmath.Precision)
}

// SplitDao splits a collected fee amount into the protocol share and the
// liquidity-provider remainder.
func (e *Engine) SplitDao(feeAmount *big.Int) (dao, lp *big.Int) {
	dao = fpmath.ApplyRate(feeAmount, e.params.DaoFeeRate)
	lp = new(big.Int).Sub(feeAmount, dao)
	return dao, lp
}

// baseRates selects the base-fee/tax-rate pair for a token class.
func (e *Engine) baseRates(stable bool) (baseFee, taxRate *big.Int) {
	if stable {
		return e.params.StableSwapFee, e.params.StableTaxRate
	}
	return e.params.BaseSwapFee, e.params.TaxRate
}

// SwapFeeRate prices one side of a swap flow.
func (e *Engine) SwapFeeRate(stable bool, targetValue, currentValue, valueChange *big.Int, increase bool) *big.Int {
	baseFee, taxRate := e.baseRates(stable)
	return dynamicRate(baseFee, taxRate, targetValue, currentValue, valueChange, increase)
}

// LiquidityFeeRate prices an add- or remove-liquidity flow. The base fee is
// the add/remove fee; the tax rate still depends on the token class.
func (e *Engine) LiquidityFeeRate(stable bool, targetValue, currentValue, valueChange *big.Int, increase bool) *big.Int {
	_, taxRate := e.baseRates(stable)
	return dynamicRate(e.params.AddRemoveFee, taxRate, targetValue, currentValue, valueChange, increase)
}

// dynamicRate prices a flow of valueChange USD into (increase) or out of
// (decrease) a token whose pool currently holds currentValue USD against a
// target of targetValue USD. Moving toward target earns a discount
// proportional to the initial deviation; moving away pays a surcharge
// proportional to the average of the initial and resulting deviations,
// capped at the tax rate once that average exceeds the target.
func dynamicRate(baseFee, taxRate, targetValue, currentValue, valueChange *big.Int, increase bool) *big.Int {
	if targetValue.Sign() == 0 {
		return fpmath.Clone(baseFee)
	}

	var nextValue *big.Int
	if increase {
		nextValue = new(big.Int).Add(currentValue, valueChange)
	} else {
		nextValue = fpmath.ZeroCapSub(currentValue, valueChange)
	}

	initDiff := fpmath.Diff(currentValue, targetValue)
	nextDiff := fpmath.Diff(nextValue, targetValue)

	if nextDiff.Cmp(initDiff) < 0 {
		rebate := fpmath.MulDiv(taxRate, initDiff, targetValue)
		return fpmath.ZeroCapSub(baseFee, rebate)
	}

	avgDiff := new(big.Int).Add(initDiff, nextDiff)
	avgDiff.Rsh(avgDiff, 1)
	var surcharge *big.Int
	if avgDiff.Cmp(targetValue) > 0 {
		surcharge = fpmath.Clone(taxRate)
	} else {
		surcharge = fpmath.MulDiv(taxRate, avgDiff, targetValue)
	}
	return new(big.Int).Add(baseFee, surcharge)
}

// SwapFeeRates returns the rate to charge on a swap given the independently
// computed inbound and outbound rates: the larger of the two.
func SwapFeeRates(inRate, outRate *big.Int) *big.Int {
	return fpmath.Max(inRate, outRate)
}
