package pool

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"TranchePool/internal/fpmath"
	"TranchePool/internal/position"
)

// Snapshot is the full committed state in serializable form. It captures
// everything needed to resume accounting after a restart; the token
// registry, price feed and parameters are configuration, not state.
type Snapshot struct {
	Tranches         []TrancheSnapshot            `json:"tranches"`
	PoolTokens       map[string]PoolTokenSnapshot `json:"pool_tokens"`
	Positions        []PositionSnapshot           `json:"positions"`
	Orders           []OrderSnapshot              `json:"orders"`
	VirtualPoolValue *big.Int                     `json:"virtual_pool_value"`
	CreatedAt        time.Time                    `json:"created_at"`
}

type TrancheSnapshot struct {
	Index       int                      `json:"index"`
	Name        string                   `json:"name"`
	RiskFactors map[string]*big.Int      `json:"risk_factors"`
	Assets      map[string]AssetSnapshot `json:"assets"`
}

type AssetSnapshot struct {
	PoolAmount        *big.Int `json:"pool_amount"`
	ReservedAmount    *big.Int `json:"reserved_amount"`
	GuaranteedValue   *big.Int `json:"guaranteed_value"`
	TotalShortSize    *big.Int `json:"total_short_size"`
	AverageShortPrice *big.Int `json:"average_short_price"`
}

type PoolTokenSnapshot struct {
	FeeReserve           *big.Int `json:"fee_reserve"`
	PoolBalance          *big.Int `json:"pool_balance"`
	LastAccrualTimestamp int64    `json:"last_accrual_timestamp"`
	BorrowIndex          *big.Int `json:"borrow_index"`
}

type PositionSnapshot struct {
	Owner           uuid.UUID  `json:"owner"`
	IndexToken      string     `json:"index_token"`
	CollateralToken string     `json:"collateral_token"`
	Side            int32      `json:"side"`
	Size            *big.Int   `json:"size"`
	CollateralValue *big.Int   `json:"collateral_value"`
	ReserveAmount   *big.Int   `json:"reserve_amount"`
	EntryPrice      *big.Int   `json:"entry_price"`
	BorrowIndex     *big.Int   `json:"borrow_index"`
	TrancheReserves []*big.Int `json:"tranche_reserves"`
}

type OrderSnapshot struct {
	Owner           uuid.UUID `json:"owner"`
	IndexToken      string    `json:"index_token"`
	CollateralToken string    `json:"collateral_token"`
	Side            int32     `json:"side"`
	Kind            int32     `json:"kind"`
	Size            *big.Int  `json:"size"`
	Executed        bool      `json:"executed"`
	Trigger         *big.Int  `json:"trigger"`
	LastPrice       *big.Int  `json:"last_price"`
}

// Snapshot captures the committed state. Safe to call concurrently with
// operations; it reads one consistent committed state.
func (p *Pool) Snapshot() *Snapshot {
	st := p.committed()
	snap := &Snapshot{
		PoolTokens:       make(map[string]PoolTokenSnapshot),
		VirtualPoolValue: fpmath.Clone(st.virtualPoolValue),
		CreatedAt:        p.now(),
	}
	for _, tr := range st.ledger.Tranches() {
		ts := TrancheSnapshot{
			Index:       tr.Index,
			Name:        tr.Name,
			RiskFactors: st.ledger.RiskFactors(tr.Index),
			Assets:      make(map[string]AssetSnapshot),
		}
		for _, tok := range st.ledger.AssetSymbols(tr.Index) {
			a := st.ledger.AssetAt(tr.Index, tok)
			ts.Assets[tok] = AssetSnapshot{
				PoolAmount:        a.PoolAmount,
				ReservedAmount:    a.ReservedAmount,
				GuaranteedValue:   a.GuaranteedValue,
				TotalShortSize:    a.TotalShortSize,
				AverageShortPrice: a.AverageShortPrice,
			}
		}
		snap.Tranches = append(snap.Tranches, ts)
	}
	for _, tok := range st.ledger.PoolTokenSymbols() {
		pt := st.ledger.PoolTokenAt(tok)
		snap.PoolTokens[tok] = PoolTokenSnapshot{
			FeeReserve:           pt.FeeReserve,
			PoolBalance:          pt.PoolBalance,
			LastAccrualTimestamp: pt.LastAccrualTimestamp,
			BorrowIndex:          pt.BorrowIndex,
		}
	}
	for k, pos := range st.positions {
		snap.Positions = append(snap.Positions, PositionSnapshot{
			Owner:           k.Owner,
			IndexToken:      k.IndexToken,
			CollateralToken: k.CollateralToken,
			Side:            int32(k.Side),
			Size:            fpmath.Clone(pos.Size),
			CollateralValue: fpmath.Clone(pos.CollateralValue),
			ReserveAmount:   fpmath.Clone(pos.ReserveAmount),
			EntryPrice:      fpmath.Clone(pos.EntryPrice),
			BorrowIndex:     fpmath.Clone(pos.BorrowIndex),
			TrancheReserves: cloneBigs(pos.TrancheReserves),
		})
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return positionSnapKey(snap.Positions[i]) < positionSnapKey(snap.Positions[j])
	})
	for _, kind := range []position.OrderKind{position.OrderStopLoss, position.OrderTakeProfit, position.OrderTrailingStop} {
		for _, o := range st.orderStore(kind) {
			snap.Orders = append(snap.Orders, OrderSnapshot{
				Owner:           o.Key.Owner,
				IndexToken:      o.Key.IndexToken,
				CollateralToken: o.Key.CollateralToken,
				Side:            int32(o.Key.Side),
				Kind:            int32(o.Kind),
				Size:            fpmath.Clone(o.Size),
				Executed:        o.Executed,
				Trigger:         fpmath.Clone(o.Trigger),
				LastPrice:       fpmath.Clone(o.LastPrice),
			})
		}
	}
	sort.Slice(snap.Orders, func(i, j int) bool {
		return orderSnapKey(snap.Orders[i]) < orderSnapKey(snap.Orders[j])
	})
	return snap
}

// Restore replaces the committed state with a previously captured snapshot.
// The registry and tranche receipt tokens must already be configured to
// match; Restore rebuilds accounting state only.
func (p *Pool) Restore(snap *Snapshot) error {
	return p.run("restore", func(tx *txn) error {
		st := newEngineState()
		for _, ts := range snap.Tranches {
			st.ledger.AddTranche(ts.Name)
			for tok, w := range ts.RiskFactors {
				if err := st.ledger.SetRiskFactor(ts.Index, tok, w); err != nil {
					return err
				}
			}
			for tok, as := range ts.Assets {
				a := st.ledger.Asset(ts.Index, tok)
				a.PoolAmount = fpmath.Clone(as.PoolAmount)
				a.ReservedAmount = fpmath.Clone(as.ReservedAmount)
				a.GuaranteedValue = fpmath.Clone(as.GuaranteedValue)
				a.TotalShortSize = fpmath.Clone(as.TotalShortSize)
				a.AverageShortPrice = fpmath.Clone(as.AverageShortPrice)
			}
		}
		for tok, pts := range snap.PoolTokens {
			pt := st.ledger.PoolToken(tok)
			pt.FeeReserve = fpmath.Clone(pts.FeeReserve)
			pt.PoolBalance = fpmath.Clone(pts.PoolBalance)
			pt.LastAccrualTimestamp = pts.LastAccrualTimestamp
			pt.BorrowIndex = fpmath.Clone(pts.BorrowIndex)
		}
		for _, ps := range snap.Positions {
			key := position.Key{
				Owner:           ps.Owner,
				IndexToken:      ps.IndexToken,
				CollateralToken: ps.CollateralToken,
				Side:            position.Side(ps.Side),
			}
			pos := position.New(len(ps.TrancheReserves))
			pos.Size = fpmath.Clone(ps.Size)
			pos.CollateralValue = fpmath.Clone(ps.CollateralValue)
			pos.ReserveAmount = fpmath.Clone(ps.ReserveAmount)
			pos.EntryPrice = fpmath.Clone(ps.EntryPrice)
			pos.BorrowIndex = fpmath.Clone(ps.BorrowIndex)
			pos.TrancheReserves = cloneBigs(ps.TrancheReserves)
			st.positions[key] = pos
		}
		for _, os := range snap.Orders {
			key := position.Key{
				Owner:           os.Owner,
				IndexToken:      os.IndexToken,
				CollateralToken: os.CollateralToken,
				Side:            position.Side(os.Side),
			}
			kind := position.OrderKind(os.Kind)
			st.orderStore(kind)[key] = &position.Order{
				Key:       key,
				Kind:      kind,
				Size:      fpmath.Clone(os.Size),
				Executed:  os.Executed,
				Trigger:   fpmath.Clone(os.Trigger),
				LastPrice: fpmath.Clone(os.LastPrice),
			}
		}
		st.virtualPoolValue = fpmath.Clone(snap.VirtualPoolValue)
		*tx.st = *st
		return nil
	})
}

func cloneBigs(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = fpmath.Clone(v)
	}
	return out
}

func positionSnapKey(p PositionSnapshot) string {
	return fmt.Sprintf("%s/%s/%s/%d", p.Owner, p.IndexToken, p.CollateralToken, p.Side)
}

func orderSnapKey(o OrderSnapshot) string {
	return fmt.Sprintf("%s/%s/%s/%d/%d", o.Owner, o.IndexToken, o.CollateralToken, o.Side, o.Kind)
}
