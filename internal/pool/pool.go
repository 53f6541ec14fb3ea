package pool

import (
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"TranchePool/internal/asset"
	"TranchePool/internal/custody"
	"TranchePool/internal/fee"
	"TranchePool/internal/fpmath"
	"TranchePool/internal/lptoken"
	"TranchePool/internal/notify"
	"TranchePool/internal/observability"
	"TranchePool/internal/oracle"
	"TranchePool/internal/valuation"
)

// Pool is the accounting and risk engine of the tranche liquidity pool. All
// mutating operations are strictly serialized and all-or-nothing: they run
// against a clone of the committed state and swap it in only on success.
type Pool struct {
	reg     *asset.Registry
	feed    oracle.PriceFeed
	cust    custody.Custody
	fees    *fee.Engine
	val     *valuation.Engine
	hook    notify.Hook
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	params Params

	// lpTokens holds the receipt token of each tranche, by tranche index.
	lpTokens []lptoken.ReceiptToken

	// state holds the committed engineState; inFlight rejects reentry and
	// concurrent mutation attempts rather than queueing them.
	state    atomic.Pointer[engineState]
	inFlight atomic.Bool
}

// Option customizes optional collaborators.
type Option func(*Pool)

// WithHook injects the post-commit notification hook.
func WithHook(h notify.Hook) Option {
	return func(p *Pool) { p.hook = h }
}

// WithMetrics injects the Prometheus metric set.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithClock overrides the time source, used by tests to step accrual.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

func New(
	reg *asset.Registry,
	feed oracle.PriceFeed,
	cust custody.Custody,
	params Params,
	log zerolog.Logger,
	opts ...Option,
) *Pool {
	p := &Pool{
		reg:    reg,
		feed:   feed,
		cust:   cust,
		fees:   fee.NewEngine(params.Fees),
		params: params,
		hook:   notify.Noop{},
		log:    log,
		now:    time.Now,
	}
	p.val = valuation.NewEngine(feed, reg)
	p.state.Store(newEngineState())
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Valuer exposes the valuation engine for the query surface.
func (p *Pool) Valuer() *valuation.Engine {
	return p.val
}

// Registry exposes the token registry for the query surface.
func (p *Pool) Registry() *asset.Registry {
	return p.reg
}

// --- Atomic operation machinery ---

// transfer is an outbound custody payment applied after commit.
type transfer struct {
	token  string
	to     uuid.UUID
	amount *big.Int
}

// lpAction is a receipt-token mint or burn applied after commit.
type lpAction struct {
	trancheIdx int
	owner      uuid.UUID
	amount     *big.Int
	burn       bool
}

// txn is the context of one in-flight atomic operation.
type txn struct {
	st        *engineState
	transfers []transfer
	lpActions []lpAction
	notes     []func(notify.Hook)
}

// payOut schedules an outbound transfer and debits the recorded balance so
// the ledger invariant holds at commit time.
func (tx *txn) payOut(token string, to uuid.UUID, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	pt := tx.st.ledger.PoolToken(token)
	pt.PoolBalance.Sub(pt.PoolBalance, amount)
	tx.transfers = append(tx.transfers, transfer{token: token, to: to, amount: fpmath.Clone(amount)})
}

func (tx *txn) notify(fn func(notify.Hook)) {
	tx.notes = append(tx.notes, fn)
}

// run executes fn against a clone of the committed state. On success the
// clone replaces the committed state, then outbound transfers, receipt-token
// actions and hooks fire in that order; their failures are logged and never
// undo the commit. On any error the clone is discarded untouched.
//
// inFlight is held until the post-commit actions finish: a reentrant call
// from a hook or custody fails with ErrBusy, and no operation can observe a
// committed-but-unpaid custody balance as a phantom deposit.
func (p *Pool) run(op string, fn func(tx *txn) error) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.inFlight.Store(false)

	start := time.Now()
	tx := &txn{st: p.state.Load().clone()}

	err := fn(tx)
	if err == nil {
		err = tx.st.ledger.ValidateAll()
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.OpsRejected.WithLabelValues(op).Inc()
		}
		return err
	}

	p.state.Store(tx.st)

	if p.metrics != nil {
		p.metrics.OpsApplied.WithLabelValues(op).Inc()
		p.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}

	for _, t := range tx.transfers {
		if terr := p.cust.Transfer(t.token, t.to, t.amount); terr != nil {
			p.log.Error().Err(terr).
				Str("op", op).Str("token", t.token).Stringer("to", t.to).
				Msg("outbound transfer failed after commit")
		}
	}
	for _, a := range tx.lpActions {
		var aerr error
		lp := p.lpTokens[a.trancheIdx]
		if a.burn {
			aerr = lp.BurnFrom(a.owner, a.amount)
		} else {
			aerr = lp.Mint(a.owner, a.amount)
		}
		if aerr != nil {
			p.log.Error().Err(aerr).
				Str("op", op).Int("tranche", a.trancheIdx).
				Msg("receipt token action failed after commit")
		}
	}
	for _, note := range tx.notes {
		note(p.hook)
	}
	return nil
}

// --- Administration ---

// AddTranche registers a liquidity partition with its receipt token.
func (p *Pool) AddTranche(caller uuid.UUID, name string, lp lptoken.ReceiptToken) (int, error) {
	idx := -1
	err := p.run("add_tranche", func(tx *txn) error {
		if caller != p.params.Controller {
			return ErrUnauthorized
		}
		p.lpTokens = append(p.lpTokens, lp)
		idx = tx.st.ledger.AddTranche(name)
		return nil
	})
	return idx, err
}

// AddToken registers and lists a token.
func (p *Pool) AddToken(caller uuid.UUID, t asset.Token) error {
	return p.run("add_token", func(tx *txn) error {
		if caller != p.params.Controller {
			return ErrUnauthorized
		}
		return p.reg.Add(t)
	})
}

// DelistToken stops new exposure on a token; existing positions remain
// closable.
func (p *Pool) DelistToken(caller uuid.UUID, symbol string) error {
	return p.run("delist_token", func(tx *txn) error {
		if caller != p.params.Controller {
			return ErrUnauthorized
		}
		if !p.reg.IsKnown(symbol) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
		}
		p.reg.Delist(symbol)
		return nil
	})
}

// RelistToken re-enables new exposure on a previously delisted token.
func (p *Pool) RelistToken(caller uuid.UUID, symbol string) error {
	return p.run("relist_token", func(tx *txn) error {
		if caller != p.params.Controller {
			return ErrUnauthorized
		}
		return p.reg.Relist(symbol)
	})
}

// SetRiskFactor configures a tranche's weight for an index token.
func (p *Pool) SetRiskFactor(caller uuid.UUID, trancheIdx int, indexToken string, weight *big.Int) error {
	return p.run("set_risk_factor", func(tx *txn) error {
		if caller != p.params.Controller {
			return ErrUnauthorized
		}
		if !p.reg.IsKnown(indexToken) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, indexToken)
		}
		return tx.st.ledger.SetRiskFactor(trancheIdx, indexToken, weight)
	})
}

// WithdrawFee pays the accumulated protocol fee reserve for a token to the
// fee distributor's receiver.
func (p *Pool) WithdrawFee(caller uuid.UUID, token string, to uuid.UUID) error {
	return p.run("withdraw_fee", func(tx *txn) error {
		if caller != p.params.FeeDistributor {
			return ErrUnauthorized
		}
		if to == uuid.Nil {
			return ErrZeroAddress
		}
		if !p.reg.IsKnown(token) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		pt := tx.st.ledger.PoolToken(token)
		amount := fpmath.Clone(pt.FeeReserve)
		if amount.Sign() == 0 {
			return ErrZeroAmount
		}
		pt.FeeReserve.SetInt64(0)
		tx.payOut(token, to, amount)
		return nil
	})
}

// --- Shared internals ---

// observeDeposit returns the unexplained surplus of custodied balance over
// the last recorded balance and records the observation. Inbound transfers
// must precede the operation that consumes them.
func (p *Pool) observeDeposit(tx *txn, token string) (*big.Int, error) {
	bal, err := p.cust.BalanceOf(token)
	if err != nil {
		return nil, fmt.Errorf("custody balance of %s: %w", token, err)
	}
	pt := tx.st.ledger.PoolToken(token)
	delta := fpmath.ZeroCapSub(bal, pt.PoolBalance)
	pt.PoolBalance = bal
	return delta, nil
}

func (p *Pool) accrue(tx *txn, token string) *big.Int {
	idx := tx.st.ledger.AccrueInterest(token, p.now().Unix(), p.params.Accrual)
	if p.metrics != nil {
		f, _ := new(big.Float).SetInt(idx).Float64()
		p.metrics.BorrowIndex.WithLabelValues(token).Set(f)
	}
	return idx
}

// targetValue is the fee curve's anchor for a token:
// targetWeight * virtualPoolValue / totalWeight.
func (p *Pool) targetValue(tx *txn, token string) *big.Int {
	w, ok := p.params.TargetWeights[token]
	if !ok || p.params.TotalWeight.Sign() == 0 {
		return fpmath.Zero()
	}
	return fpmath.MulDiv(w, tx.st.virtualPoolValue, p.params.TotalWeight)
}

// currentValue is the token's present USD value in the pool at price.
func currentValue(tx *txn, token string, price *big.Int) *big.Int {
	return new(big.Int).Mul(price, tx.st.ledger.TotalPoolAmount(token))
}

// refreshVirtualPoolValue recomputes the cached fee-curve input from the
// transaction's ledger. Called after every liquidity change.
func (p *Pool) refreshVirtualPoolValue(tx *txn) error {
	lo, err := p.val.PoolValue(tx.st.ledger, false)
	if err != nil {
		return err
	}
	hi, err := p.val.PoolValue(tx.st.ledger, true)
	if err != nil {
		return err
	}
	v := new(big.Int).Add(lo, hi)
	tx.st.virtualPoolValue = v.Rsh(v, 1)
	if p.metrics != nil {
		f, _ := new(big.Float).SetInt(tx.st.virtualPoolValue).Float64()
		p.metrics.VirtualPoolValue.Set(f)
	}
	return nil
}

// splitProportional distributes total across weights (summing weightTotal)
// with the remainder assigned to the last non-zero weight, so shares sum
// exactly to total. Works for signed totals.
func splitProportional(total *big.Int, weights []*big.Int, weightTotal *big.Int) []*big.Int {
	out := make([]*big.Int, len(weights))
	for i := range out {
		out[i] = fpmath.Zero()
	}
	if total.Sign() == 0 || weightTotal.Sign() == 0 {
		return out
	}
	last := -1
	for i, w := range weights {
		if w.Sign() != 0 {
			last = i
		}
	}
	assigned := fpmath.Zero()
	for i, w := range weights {
		if w.Sign() == 0 {
			continue
		}
		if i == last {
			out[i] = new(big.Int).Sub(total, assigned)
			break
		}
		share := new(big.Int).Mul(total, w)
		share.Quo(share, weightTotal)
		out[i] = share
		assigned.Add(assigned, share)
	}
	return out
}
