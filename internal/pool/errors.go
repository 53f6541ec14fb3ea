package pool

import "errors"

// Input validation.
var (
	ErrZeroAmount       = errors.New("zero amount")
	ErrZeroAddress      = errors.New("zero address")
	ErrUnknownToken     = errors.New("unknown token")
	ErrTokenNotListed   = errors.New("token not listed")
	ErrInvalidTokenPair = errors.New("invalid index/collateral pair for side")
	ErrSameToken        = errors.New("swap requires two distinct tokens")
	ErrUnknownTranche   = errors.New("unknown tranche")
)

// Capacity.
var (
	ErrSlippage           = errors.New("output below caller minimum")
	ErrMaxGlobalShortSize = errors.New("max global short size exceeded")
	ErrMaxGlobalLongRatio = errors.New("max global long reserve ratio exceeded")
)

// State.
var (
	ErrPositionNotExists    = errors.New("position does not exist")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderAlreadyExecuted = errors.New("order already executed")
	ErrOrderNotTriggered    = errors.New("order not triggered")
	ErrBusy                 = errors.New("engine busy: operation already in flight")
)

// Economic consistency.
var (
	ErrInvalidLeverage         = errors.New("leverage out of bounds")
	ErrUpdateCausesLiquidation = errors.New("update would cause liquidation")
	ErrNotLiquidatable         = errors.New("position not eligible for liquidation")
)

// Authorization. The boundary authenticates callers before the engine is
// invoked; the engine still raises a distinct signal when a restricted
// operation arrives under the wrong principal.
var ErrUnauthorized = errors.New("caller is not the designated principal")
