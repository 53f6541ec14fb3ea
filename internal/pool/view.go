package pool

import (
	"fmt"
	"math/big"
	"sort"

	"TranchePool/internal/fpmath"
	"TranchePool/internal/ledger"
	"TranchePool/internal/position"
)

// TrancheAssetView is one tranche's holdings of one token.
type TrancheAssetView struct {
	TrancheIndex      int      `json:"tranche_index"`
	TrancheName       string   `json:"tranche_name"`
	PoolAmount        *big.Int `json:"pool_amount"`
	ReservedAmount    *big.Int `json:"reserved_amount"`
	GuaranteedValue   *big.Int `json:"guaranteed_value"`
	TotalShortSize    *big.Int `json:"total_short_size"`
	AverageShortPrice *big.Int `json:"average_short_price"`
}

// AssetView is the committed accounting of one pool token across tranches.
type AssetView struct {
	Token                string             `json:"token"`
	PoolBalance          *big.Int           `json:"pool_balance"`
	FeeReserve           *big.Int           `json:"fee_reserve"`
	BorrowIndex          *big.Int           `json:"borrow_index"`
	LastAccrualTimestamp int64              `json:"last_accrual_timestamp"`
	Tranches             []TrancheAssetView `json:"tranches"`
}

// PositionView is a position snapshot with mark-to-market figures attached.
type PositionView struct {
	Owner           string   `json:"owner"`
	IndexToken      string   `json:"index_token"`
	CollateralToken string   `json:"collateral_token"`
	Side            string   `json:"side"`
	Size            *big.Int `json:"size"`
	CollateralValue *big.Int `json:"collateral_value"`
	ReserveAmount   *big.Int `json:"reserve_amount"`
	EntryPrice      *big.Int `json:"entry_price"`
	BorrowIndex     *big.Int `json:"borrow_index"`
	MarkPrice       *big.Int `json:"mark_price"`
	PnL             *big.Int `json:"pnl"`
	BorrowFee       *big.Int `json:"borrow_fee"`
	Liquidatable    bool     `json:"liquidatable"`
}

// TrancheView is a tranche's identity and current valuation.
type TrancheView struct {
	Index    int      `json:"index"`
	Name     string   `json:"name"`
	MinValue *big.Int `json:"min_value"`
	MaxValue *big.Int `json:"max_value"`
}

// OrderView is an active or executed conditional order.
type OrderView struct {
	Owner           string   `json:"owner"`
	IndexToken      string   `json:"index_token"`
	CollateralToken string   `json:"collateral_token"`
	Side            string   `json:"side"`
	Kind            string   `json:"kind"`
	Size            *big.Int `json:"size"`
	Trigger         *big.Int `json:"trigger"`
	LastPrice       *big.Int `json:"last_price,omitempty"`
	Executed        bool     `json:"executed"`
}

// committed returns the last committed state. It is never mutated after the
// swap, so views read it without locking.
func (p *Pool) committed() *engineState {
	return p.state.Load()
}

// Asset reports the committed accounting of token across all tranches.
func (p *Pool) Asset(token string) (AssetView, error) {
	if !p.reg.IsKnown(token) {
		return AssetView{}, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	st := p.committed()
	pt := st.ledger.PoolTokenAt(token)
	v := AssetView{
		Token:                token,
		PoolBalance:          pt.PoolBalance,
		FeeReserve:           pt.FeeReserve,
		BorrowIndex:          pt.BorrowIndex,
		LastAccrualTimestamp: pt.LastAccrualTimestamp,
	}
	for _, tr := range st.ledger.Tranches() {
		a := st.ledger.AssetAt(tr.Index, token)
		v.Tranches = append(v.Tranches, TrancheAssetView{
			TrancheIndex:      tr.Index,
			TrancheName:       tr.Name,
			PoolAmount:        a.PoolAmount,
			ReservedAmount:    a.ReservedAmount,
			GuaranteedValue:   a.GuaranteedValue,
			TotalShortSize:    a.TotalShortSize,
			AverageShortPrice: a.AverageShortPrice,
		})
	}
	return v, nil
}

// Assets reports every pool token with recorded accounting, sorted by symbol.
func (p *Pool) Assets() ([]AssetView, error) {
	st := p.committed()
	symbols := st.ledger.PoolTokenSymbols()
	sort.Strings(symbols)
	out := make([]AssetView, 0, len(symbols))
	for _, sym := range symbols {
		v, err := p.Asset(sym)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *Pool) positionView(st *engineState, key position.Key, pos *position.Position) (PositionView, error) {
	mark, err := p.closeIndexPrice(key.IndexToken, key.Side)
	if err != nil {
		return PositionView{}, err
	}
	pt := st.ledger.PoolTokenAt(key.CollateralToken)
	pnl := position.PnL(key.Side, pos.Size, pos.EntryPrice, mark)
	borrowFee := p.fees.BorrowFee(pt.BorrowIndex, pos.BorrowIndex, pos.Size)
	closeFee := p.fees.PositionFee(pos.Size)
	totalFee := new(big.Int).Add(borrowFee, closeFee)
	return PositionView{
		Owner:           key.Owner.String(),
		IndexToken:      key.IndexToken,
		CollateralToken: key.CollateralToken,
		Side:            key.Side.String(),
		Size:            fpmath.Clone(pos.Size),
		CollateralValue: fpmath.Clone(pos.CollateralValue),
		ReserveAmount:   fpmath.Clone(pos.ReserveAmount),
		EntryPrice:      fpmath.Clone(pos.EntryPrice),
		BorrowIndex:     fpmath.Clone(pos.BorrowIndex),
		MarkPrice:       mark,
		PnL:             pnl,
		BorrowFee:       borrowFee,
		Liquidatable: position.Liquidatable(
			pnl, pos.CollateralValue, pos.Size,
			totalFee, p.params.Fees.LiquidationFee, p.params.MaintenanceMargin,
		),
	}, nil
}

// Position reports one position marked to the committed ledger and current
// prices.
func (p *Pool) Position(key position.Key) (PositionView, error) {
	st := p.committed()
	pos, ok := st.positions[key]
	if !ok {
		return PositionView{}, ErrPositionNotExists
	}
	return p.positionView(st, key, pos)
}

// Positions reports every open position, ordered by owner, index token,
// collateral token and side.
func (p *Pool) Positions() ([]PositionView, error) {
	st := p.committed()
	keys := make([]position.Key, 0, len(st.positions))
	for k := range st.positions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Owner != b.Owner {
			return a.Owner.String() < b.Owner.String()
		}
		if a.IndexToken != b.IndexToken {
			return a.IndexToken < b.IndexToken
		}
		if a.CollateralToken != b.CollateralToken {
			return a.CollateralToken < b.CollateralToken
		}
		return a.Side < b.Side
	})
	out := make([]PositionView, 0, len(keys))
	for _, k := range keys {
		v, err := p.positionView(st, k, st.positions[k])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Tranches reports each tranche with its min and max valuation.
func (p *Pool) Tranches() ([]TrancheView, error) {
	st := p.committed()
	trs := st.ledger.Tranches()
	out := make([]TrancheView, 0, len(trs))
	for _, tr := range trs {
		lo, err := p.val.TrancheValue(st.ledger, tr.Index, false)
		if err != nil {
			return nil, err
		}
		hi, err := p.val.TrancheValue(st.ledger, tr.Index, true)
		if err != nil {
			return nil, err
		}
		out = append(out, TrancheView{Index: tr.Index, Name: tr.Name, MinValue: lo, MaxValue: hi})
	}
	return out, nil
}

// PoolValue reports the committed pool's total valuation at the chosen price
// bound.
func (p *Pool) PoolValue(useMax bool) (*big.Int, error) {
	return p.val.PoolValue(p.committed().ledger, useMax)
}

// VirtualPoolValue reports the cached fee-curve valuation.
func (p *Pool) VirtualPoolValue() *big.Int {
	return fpmath.Clone(p.committed().virtualPoolValue)
}

// Order reports the conditional order of the given kind for key.
func (p *Pool) Order(key position.Key, kind position.OrderKind) (OrderView, error) {
	o, ok := p.committed().orderStore(kind)[key]
	if !ok {
		return OrderView{}, ErrOrderNotFound
	}
	return orderView(o), nil
}

// Orders reports every conditional order across all kinds.
func (p *Pool) Orders() []OrderView {
	st := p.committed()
	var out []OrderView
	for _, kind := range []position.OrderKind{position.OrderStopLoss, position.OrderTakeProfit, position.OrderTrailingStop} {
		for _, o := range st.orderStore(kind) {
			out = append(out, orderView(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		if out[i].IndexToken != out[j].IndexToken {
			return out[i].IndexToken < out[j].IndexToken
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func orderView(o *position.Order) OrderView {
	v := OrderView{
		Owner:           o.Key.Owner.String(),
		IndexToken:      o.Key.IndexToken,
		CollateralToken: o.Key.CollateralToken,
		Side:            o.Key.Side.String(),
		Kind:            o.Kind.String(),
		Size:            fpmath.Clone(o.Size),
		Trigger:         fpmath.Clone(o.Trigger),
		Executed:        o.Executed,
	}
	if o.Kind == position.OrderTrailingStop {
		v.LastPrice = fpmath.Clone(o.LastPrice)
	}
	return v
}

// Ledger returns a deep copy of the committed ledger, for snapshotting.
func (p *Pool) Ledger() *ledger.State {
	return p.committed().ledger.Clone()
}
