package pool

import (
	"math/big"

	"github.com/google/uuid"

	"TranchePool/internal/fee"
	"TranchePool/internal/fpmath"
	"TranchePool/internal/ledger"
)

// Params is the engine's static configuration.
type Params struct {
	Fees    fee.Params
	Accrual ledger.AccrualParams

	// MaxLeverage bounds size / collateralValue for open positions.
	MaxLeverage int64

	// MaintenanceMargin is the maintenance margin ratio, Precision scale.
	MaintenanceMargin *big.Int

	// LPInitialPrice is the receipt-token price used while a tranche's
	// supply is zero: USD value (30 decimals) per LP base unit (18 decimals).
	LPInitialPrice *big.Int

	// TargetWeights drive the dynamic fee curve; TotalWeight is their sum.
	TargetWeights map[string]*big.Int
	TotalWeight   *big.Int

	// MaxGlobalShortSize caps aggregate short notional per index token (USD).
	// Absent entry means uncapped.
	MaxGlobalShortSize map[string]*big.Int

	// MaxGlobalLongRatio optionally caps aggregate long reserve per index
	// token at ratio * poolAmount, Precision scale. Absent entry means
	// uncapped.
	MaxGlobalLongRatio map[string]*big.Int

	// Controller administers tokens, tranches and weights. FeeDistributor is
	// the only principal allowed to withdraw the protocol fee reserve.
	Controller     uuid.UUID
	FeeDistributor uuid.UUID
}

// DefaultParams returns a working parameter set: 0.1% position fee, $5 flat
// liquidation fee, 1% maintenance margin, 30x max leverage, 0.25%/0.4% base
// swap fee and tax for volatile tokens, 0.01%/0.05% for stables, 0.2%
// add/remove fee, 55% DAO share, 0.01%/interval borrow rate on 1h intervals.
func DefaultParams() Params {
	pct := func(bp int64) *big.Int { // basis points at Precision scale
		return new(big.Int).Mul(big.NewInt(bp), big.NewInt(1_000_000))
	}
	usd := func(v int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(v), fpmath.Pow10(fpmath.ValueDecimals))
	}
	return Params{
		Fees: fee.Params{
			PositionFeeRate: pct(10),
			LiquidationFee:  usd(5),
			BaseSwapFee:     pct(25),
			TaxRate:         pct(40),
			StableSwapFee:   pct(1),
			StableTaxRate:   pct(5),
			AddRemoveFee:    pct(20),
			DaoFeeRate:      new(big.Int).Mul(big.NewInt(55), fpmath.Pow10(8)),
		},
		Accrual: ledger.AccrualParams{
			Interval:     3600,
			InterestRate: pct(1),
		},
		MaxLeverage:        30,
		MaintenanceMargin:  pct(100),
		LPInitialPrice:     fpmath.Pow10(12),
		TargetWeights:      make(map[string]*big.Int),
		TotalWeight:        fpmath.Zero(),
		MaxGlobalShortSize: make(map[string]*big.Int),
		MaxGlobalLongRatio: make(map[string]*big.Int),
	}
}
