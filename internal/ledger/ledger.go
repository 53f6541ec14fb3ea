package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"TranchePool/internal/fpmath"
)

var (
	// ErrInsufficientPoolAmount is returned when a pool-amount decrease
	// exceeds the liquidity a tranche owns.
	ErrInsufficientPoolAmount = errors.New("insufficient pool amount")

	// ErrReserveReduceTooMuch is returned when a reserve release exceeds the
	// tranche's reserved amount.
	ErrReserveReduceTooMuch = errors.New("reserve reduce too much")

	// ErrCannotDistribute is returned when the combined spare capacity of all
	// risk-weighted tranches cannot absorb an allocation. This is a
	// structural condition, not a transient failure.
	ErrCannotDistribute = errors.New("cannot distribute amount to tranches")

	// ErrUnknownTranche is returned for a tranche index outside the arena.
	ErrUnknownTranche = errors.New("unknown tranche")
)

// AssetInfo is the per-(tranche, token) record. All amounts are raw token
// units; GuaranteedValue and AverageShortPrice are 30-decimal USD scale.
type AssetInfo struct {
	PoolAmount        *big.Int
	ReservedAmount    *big.Int
	GuaranteedValue   *big.Int
	TotalShortSize    *big.Int
	AverageShortPrice *big.Int
}

func newAssetInfo() *AssetInfo {
	return &AssetInfo{
		PoolAmount:        fpmath.Zero(),
		ReservedAmount:    fpmath.Zero(),
		GuaranteedValue:   fpmath.Zero(),
		TotalShortSize:    fpmath.Zero(),
		AverageShortPrice: fpmath.Zero(),
	}
}

func (a *AssetInfo) clone() *AssetInfo {
	return &AssetInfo{
		PoolAmount:        fpmath.Clone(a.PoolAmount),
		ReservedAmount:    fpmath.Clone(a.ReservedAmount),
		GuaranteedValue:   fpmath.Clone(a.GuaranteedValue),
		TotalShortSize:    fpmath.Clone(a.TotalShortSize),
		AverageShortPrice: fpmath.Clone(a.AverageShortPrice),
	}
}

// PoolTokenInfo is the per-token global record.
type PoolTokenInfo struct {
	// FeeReserve is the protocol fee owed, in raw token units, withdrawable
	// by the fee distributor.
	FeeReserve *big.Int

	// PoolBalance is the last observed custodied balance. Inbound transfers
	// are detected by diffing the live balance against it.
	PoolBalance *big.Int

	// LastAccrualTimestamp is aligned to the accrual interval.
	LastAccrualTimestamp int64

	// BorrowIndex is the monotonically non-decreasing interest accumulator,
	// Precision scale.
	BorrowIndex *big.Int
}

func newPoolTokenInfo() *PoolTokenInfo {
	return &PoolTokenInfo{
		FeeReserve:  fpmath.Zero(),
		PoolBalance: fpmath.Zero(),
		BorrowIndex: fpmath.Zero(),
	}
}

func (p *PoolTokenInfo) clone() *PoolTokenInfo {
	return &PoolTokenInfo{
		FeeReserve:           fpmath.Clone(p.FeeReserve),
		PoolBalance:          fpmath.Clone(p.PoolBalance),
		LastAccrualTimestamp: p.LastAccrualTimestamp,
		BorrowIndex:          fpmath.Clone(p.BorrowIndex),
	}
}

// Tranche is a named liquidity partition. The arena index is its stable
// identity everywhere in the engine.
type Tranche struct {
	Index int
	Name  string
}

// State is the full asset ledger: the tranche arena, per-token global
// records and per-(tranche, token) records. It is exclusively owned by the
// pool engine and mutated only inside atomic operations.
type State struct {
	tranches    []Tranche
	riskFactors []map[string]*big.Int // per tranche: index token -> weight
	assets      []map[string]*AssetInfo
	poolTokens  map[string]*PoolTokenInfo
}

func NewState() *State {
	return &State{
		poolTokens: make(map[string]*PoolTokenInfo),
	}
}

// Clone deep-copies the entire ledger. Operations mutate a clone and swap it
// in on success, which is what makes them all-or-nothing.
func (s *State) Clone() *State {
	c := &State{
		tranches:    make([]Tranche, len(s.tranches)),
		riskFactors: make([]map[string]*big.Int, len(s.riskFactors)),
		assets:      make([]map[string]*AssetInfo, len(s.assets)),
		poolTokens:  make(map[string]*PoolTokenInfo, len(s.poolTokens)),
	}
	copy(c.tranches, s.tranches)
	for i, rf := range s.riskFactors {
		m := make(map[string]*big.Int, len(rf))
		for tok, w := range rf {
			m[tok] = fpmath.Clone(w)
		}
		c.riskFactors[i] = m
	}
	for i, am := range s.assets {
		m := make(map[string]*AssetInfo, len(am))
		for tok, a := range am {
			m[tok] = a.clone()
		}
		c.assets[i] = m
	}
	for tok, p := range s.poolTokens {
		c.poolTokens[tok] = p.clone()
	}
	return c
}

// AddTranche appends a tranche to the arena and returns its index.
func (s *State) AddTranche(name string) int {
	idx := len(s.tranches)
	s.tranches = append(s.tranches, Tranche{Index: idx, Name: name})
	s.riskFactors = append(s.riskFactors, make(map[string]*big.Int))
	s.assets = append(s.assets, make(map[string]*AssetInfo))
	return idx
}

// Tranches returns the tranche arena.
func (s *State) Tranches() []Tranche {
	return s.tranches
}

// TrancheCount returns the number of tranches.
func (s *State) TrancheCount() int {
	return len(s.tranches)
}

// SetRiskFactor configures how much of indexToken's exposure the tranche
// absorbs relative to the others.
func (s *State) SetRiskFactor(trancheIdx int, indexToken string, weight *big.Int) error {
	if trancheIdx < 0 || trancheIdx >= len(s.tranches) {
		return fmt.Errorf("%w: %d", ErrUnknownTranche, trancheIdx)
	}
	s.riskFactors[trancheIdx][indexToken] = fpmath.Clone(weight)
	return nil
}

// RiskFactor returns the tranche's weight for an index token (zero if unset).
func (s *State) RiskFactor(trancheIdx int, indexToken string) *big.Int {
	if w, ok := s.riskFactors[trancheIdx][indexToken]; ok {
		return fpmath.Clone(w)
	}
	return fpmath.Zero()
}

// RiskFactors returns a copy of the tranche's index-token weights.
func (s *State) RiskFactors(trancheIdx int) map[string]*big.Int {
	if trancheIdx < 0 || trancheIdx >= len(s.riskFactors) {
		return nil
	}
	out := make(map[string]*big.Int, len(s.riskFactors[trancheIdx]))
	for tok, w := range s.riskFactors[trancheIdx] {
		out[tok] = fpmath.Clone(w)
	}
	return out
}

// AssetSymbols returns the tokens a tranche has a record for.
func (s *State) AssetSymbols(trancheIdx int) []string {
	if trancheIdx < 0 || trancheIdx >= len(s.assets) {
		return nil
	}
	out := make([]string, 0, len(s.assets[trancheIdx]))
	for tok := range s.assets[trancheIdx] {
		out = append(out, tok)
	}
	return out
}

// Asset returns the per-(tranche, token) record, creating it on first use.
func (s *State) Asset(trancheIdx int, token string) *AssetInfo {
	m := s.assets[trancheIdx]
	a, ok := m[token]
	if !ok {
		a = newAssetInfo()
		m[token] = a
	}
	return a
}

// PoolToken returns the per-token global record, creating it on first use.
func (s *State) PoolToken(token string) *PoolTokenInfo {
	p, ok := s.poolTokens[token]
	if !ok {
		p = newPoolTokenInfo()
		s.poolTokens[token] = p
	}
	return p
}

// AssetAt returns a detached copy of the per-(tranche, token) record,
// zero-valued when no record exists. Unlike Asset it never inserts, so it is
// safe on the committed state concurrently with Clone.
func (s *State) AssetAt(trancheIdx int, token string) AssetInfo {
	if trancheIdx >= 0 && trancheIdx < len(s.assets) {
		if a, ok := s.assets[trancheIdx][token]; ok {
			return *a.clone()
		}
	}
	return *newAssetInfo()
}

// PoolTokenAt returns a detached copy of the per-token global record,
// zero-valued when no record exists. It never inserts.
func (s *State) PoolTokenAt(token string) PoolTokenInfo {
	if p, ok := s.poolTokens[token]; ok {
		return *p.clone()
	}
	return *newPoolTokenInfo()
}

// PoolTokenSymbols returns the tokens with a global record.
func (s *State) PoolTokenSymbols() []string {
	out := make([]string, 0, len(s.poolTokens))
	for tok := range s.poolTokens {
		out = append(out, tok)
	}
	return out
}

// TotalPoolAmount aggregates poolAmount for a token across tranches.
func (s *State) TotalPoolAmount(token string) *big.Int {
	total := fpmath.Zero()
	for i := range s.assets {
		if a, ok := s.assets[i][token]; ok {
			total.Add(total, a.PoolAmount)
		}
	}
	return total
}

// TotalReservedAmount aggregates reservedAmount for a token across tranches.
func (s *State) TotalReservedAmount(token string) *big.Int {
	total := fpmath.Zero()
	for i := range s.assets {
		if a, ok := s.assets[i][token]; ok {
			total.Add(total, a.ReservedAmount)
		}
	}
	return total
}

// TotalShortSize aggregates the pseudo short size for an index token.
func (s *State) TotalShortSize(token string) *big.Int {
	total := fpmath.Zero()
	for i := range s.assets {
		if a, ok := s.assets[i][token]; ok {
			total.Add(total, a.TotalShortSize)
		}
	}
	return total
}

// --- Checked mutators ---

// IncreasePoolAmount credits liquidity to a tranche.
func (s *State) IncreasePoolAmount(trancheIdx int, token string, amount *big.Int) {
	a := s.Asset(trancheIdx, token)
	a.PoolAmount.Add(a.PoolAmount, amount)
}

// DecreasePoolAmount debits liquidity from a tranche. Fails if the tranche
// lacks the amount or the debit would leave reserved > pool.
func (s *State) DecreasePoolAmount(trancheIdx int, token string, amount *big.Int) error {
	a := s.Asset(trancheIdx, token)
	next := new(big.Int).Sub(a.PoolAmount, amount)
	if next.Sign() < 0 || next.Cmp(a.ReservedAmount) < 0 {
		return fmt.Errorf("%w: tranche %d token %s pool %s reserved %s debit %s",
			ErrInsufficientPoolAmount, trancheIdx, token, a.PoolAmount, a.ReservedAmount, amount)
	}
	a.PoolAmount = next
	return nil
}

// IncreaseReserve sets collateral-token units aside against open positions.
func (s *State) IncreaseReserve(trancheIdx int, token string, amount *big.Int) error {
	a := s.Asset(trancheIdx, token)
	next := new(big.Int).Add(a.ReservedAmount, amount)
	if next.Cmp(a.PoolAmount) > 0 {
		return fmt.Errorf("%w: tranche %d token %s pool %s reserve %s",
			ErrInsufficientPoolAmount, trancheIdx, token, a.PoolAmount, next)
	}
	a.ReservedAmount = next
	return nil
}

// DecreaseReserve releases reserved collateral-token units.
func (s *State) DecreaseReserve(trancheIdx int, token string, amount *big.Int) error {
	a := s.Asset(trancheIdx, token)
	next := new(big.Int).Sub(a.ReservedAmount, amount)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: tranche %d token %s reserved %s release %s",
			ErrReserveReduceTooMuch, trancheIdx, token, a.ReservedAmount, amount)
	}
	a.ReservedAmount = next
	return nil
}
