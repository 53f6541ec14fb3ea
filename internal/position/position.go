package position

import (
	"math/big"

	"github.com/google/uuid"

	"TranchePool/internal/fpmath"
)

// Side of a leveraged position.
type Side int32

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// Key identifies a position. One position exists per key.
type Key struct {
	Owner           uuid.UUID
	IndexToken      string
	CollateralToken string
	Side            Side
}

// Position is the state of one leveraged position. Size and CollateralValue
// are 30-decimal USD; ReserveAmount is collateral-token units.
type Position struct {
	Size            *big.Int
	CollateralValue *big.Int
	ReserveAmount   *big.Int
	EntryPrice      *big.Int
	BorrowIndex     *big.Int

	// TrancheReserves records how ReserveAmount was spread across tranches
	// at open, indexed by tranche index. Decreases release reserve and settle
	// PnL proportional to these original shares.
	TrancheReserves []*big.Int
}

func New(trancheCount int) *Position {
	p := &Position{
		Size:            fpmath.Zero(),
		CollateralValue: fpmath.Zero(),
		ReserveAmount:   fpmath.Zero(),
		EntryPrice:      fpmath.Zero(),
		BorrowIndex:     fpmath.Zero(),
		TrancheReserves: make([]*big.Int, trancheCount),
	}
	for i := range p.TrancheReserves {
		p.TrancheReserves[i] = fpmath.Zero()
	}
	return p
}

func (p *Position) Clone() *Position {
	c := &Position{
		Size:            fpmath.Clone(p.Size),
		CollateralValue: fpmath.Clone(p.CollateralValue),
		ReserveAmount:   fpmath.Clone(p.ReserveAmount),
		EntryPrice:      fpmath.Clone(p.EntryPrice),
		BorrowIndex:     fpmath.Clone(p.BorrowIndex),
		TrancheReserves: make([]*big.Int, len(p.TrancheReserves)),
	}
	for i, r := range p.TrancheReserves {
		c.TrancheReserves[i] = fpmath.Clone(r)
	}
	return c
}

// EnsureTranches grows TrancheReserves to cover count tranches.
func (p *Position) EnsureTranches(count int) {
	for len(p.TrancheReserves) < count {
		p.TrancheReserves = append(p.TrancheReserves, fpmath.Zero())
	}
}

// PnL returns the signed unrealized PnL of size USD of exposure entered at
// entryPrice and marked at markPrice. A zero entry price yields zero PnL.
func PnL(side Side, size, entryPrice, markPrice *big.Int) *big.Int {
	if fpmath.IsZero(size) || fpmath.IsZero(entryPrice) {
		return fpmath.Zero()
	}
	var diff *big.Int
	if side == SideLong {
		diff = new(big.Int).Sub(markPrice, entryPrice)
	} else {
		diff = new(big.Int).Sub(entryPrice, markPrice)
	}
	n := new(big.Int).Mul(diff, size)
	return n.Quo(n, entryPrice)
}

// NextEntryPrice computes the PnL-preserving average entry price after
// growing the position to nextSize USD at markPrice:
//
//	long:  nextSize * markPrice / (nextSize - pnl)
//	short: nextSize * markPrice / (nextSize + pnl)
//
// where pnl marks the pre-existing exposure at markPrice. A zero prior size
// returns markPrice. A non-positive divisor collapses the entry price to
// zero; that degenerate value is kept rather than rejected.
func NextEntryPrice(side Side, nextSize, markPrice, prevSize, prevEntry *big.Int) *big.Int {
	if fpmath.IsZero(prevSize) {
		return fpmath.Clone(markPrice)
	}
	pnl := PnL(side, prevSize, prevEntry, markPrice)

	divisor := new(big.Int)
	if side == SideLong {
		divisor.Sub(nextSize, pnl)
	} else {
		divisor.Add(nextSize, pnl)
	}
	if divisor.Sign() <= 0 {
		return fpmath.Zero()
	}
	return fpmath.MulDiv(nextSize, markPrice, divisor)
}

// Liquidatable decides liquidation eligibility. closeFee is the total fee a
// full close would charge right now (borrow fee plus position fee).
func Liquidatable(pnl, collateralValue, size, closeFee, liquidationFee, maintenanceMarginRate *big.Int) bool {
	net := new(big.Int).Add(collateralValue, pnl)
	if net.Sign() < 0 {
		return true
	}
	lhs := new(big.Int).Mul(net, fpmath.Precision)
	rhs := new(big.Int).Mul(size, maintenanceMarginRate)
	if lhs.Cmp(rhs) < 0 {
		return true
	}
	minFee := new(big.Int).Add(closeFee, liquidationFee)
	return net.Cmp(minFee) < 0
}

// CheckLeverage validates collateralValue <= size <= collateralValue *
// maxLeverage for an open position.
func CheckLeverage(size, collateralValue *big.Int, maxLeverage int64) bool {
	if size.Sign() == 0 {
		return true
	}
	if collateralValue.Cmp(size) > 0 {
		return false
	}
	max := new(big.Int).Mul(collateralValue, big.NewInt(maxLeverage))
	return size.Cmp(max) <= 0
}
