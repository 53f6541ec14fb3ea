package notify

import (
	"math/big"

	"github.com/google/uuid"
)

// PositionEvent carries the economic deltas of a position mutation.
type PositionEvent struct {
	Owner           uuid.UUID `json:"owner"`
	IndexToken      string    `json:"index_token"`
	CollateralToken string    `json:"collateral_token"`
	Side            string    `json:"side"`
	SizeDelta       *big.Int  `json:"size_delta"`
	CollateralDelta *big.Int  `json:"collateral_delta"`
	FeeValue        *big.Int  `json:"fee_value"`
	Pnl             *big.Int  `json:"pnl,omitempty"`
	PayoutAmount    *big.Int  `json:"payout_amount,omitempty"`
	IndexPrice      *big.Int  `json:"index_price"`
}

// SwapEvent carries the economic deltas of a swap.
type SwapEvent struct {
	Receiver  uuid.UUID `json:"receiver"`
	TokenIn   string    `json:"token_in"`
	TokenOut  string    `json:"token_out"`
	AmountIn  *big.Int  `json:"amount_in"`
	AmountOut *big.Int  `json:"amount_out"`
	FeeAmount *big.Int  `json:"fee_amount"`
}

// Hook receives engine notifications after an operation's state has been
// committed. Implementations must not call back into mutating engine
// operations, and their failures never roll back committed state; the
// engine calls them last and ignores errors.
type Hook interface {
	PositionIncreased(ev PositionEvent)
	PositionDecreased(ev PositionEvent)
	PositionLiquidated(ev PositionEvent)
	Swapped(ev SwapEvent)
}

// Noop is the default Hook when none is injected.
type Noop struct{}

func (Noop) PositionIncreased(PositionEvent)  {}
func (Noop) PositionDecreased(PositionEvent)  {}
func (Noop) PositionLiquidated(PositionEvent) {}
func (Noop) Swapped(SwapEvent)                {}
