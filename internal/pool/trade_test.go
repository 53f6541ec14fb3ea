package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"TranchePool/internal/position"
)

// openLong seeds 1 BTC of liquidity into each tranche and opens a $10000
// long with 0.1 BTC collateral: after the $10 position fee the position
// carries $1990 of collateral at roughly 5x.
func openLong(t *testing.T, f *fixture) uuid.UUID {
	t.Helper()
	provider := uuid.New()
	f.seed(t, 0, "BTC", sat(100_000_000), provider)
	f.seed(t, 1, "BTC", sat(100_000_000), provider)

	owner := uuid.New()
	f.cust.Deposit("BTC", sat(10_000_000))
	if err := f.pool.IncreasePosition(owner, "BTC", "BTC", usd(10_000), position.SideLong); err != nil {
		t.Fatalf("open long: %v", err)
	}
	return owner
}

func TestIncreasePositionLong(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)

	pv, err := f.pool.Position(posKey(owner))
	if err != nil {
		t.Fatal(err)
	}
	if pv.Size.Cmp(usd(10_000)) != 0 {
		t.Errorf("size = %s, want %s", pv.Size, usd(10_000))
	}
	if pv.CollateralValue.Cmp(usd(1_990)) != 0 {
		t.Errorf("collateral = %s, want %s", pv.CollateralValue, usd(1_990))
	}
	if pv.EntryPrice.Cmp(btcPx(20_000)) != 0 {
		t.Errorf("entry = %s, want %s", pv.EntryPrice, btcPx(20_000))
	}
	// $10000 of exposure reserves 0.5 BTC, split evenly across tranches.
	if pv.ReserveAmount.Cmp(sat(50_000_000)) != 0 {
		t.Errorf("reserve = %s, want 0.5 BTC", pv.ReserveAmount)
	}
	if pv.Liquidatable {
		t.Error("fresh position must not be liquidatable")
	}

	v, err := f.pool.Asset("BTC")
	if err != nil {
		t.Fatal(err)
	}
	for i, tr := range v.Tranches {
		if tr.ReservedAmount.Cmp(sat(25_000_000)) != 0 {
			t.Errorf("tranche %d reserved = %s, want 0.25 BTC", i, tr.ReservedAmount)
		}
		// guaranteedValue = size + fee - collateral value = $8010, halved.
		if tr.GuaranteedValue.Cmp(usd(4_005)) != 0 {
			t.Errorf("tranche %d guaranteed = %s, want %s", i, tr.GuaranteedValue, usd(4_005))
		}
	}
	assertBalanced(t, f, "BTC")
}

func TestIncreasePositionValidation(t *testing.T) {
	f := newFixture(t, nil)
	owner := uuid.New()

	if err := f.pool.IncreasePosition(owner, "BTC", "USDT", usd(1_000), position.SideLong); !errors.Is(err, ErrInvalidTokenPair) {
		t.Errorf("long on foreign collateral err = %v, want ErrInvalidTokenPair", err)
	}
	if err := f.pool.IncreasePosition(owner, "BTC", "BTC", usd(1_000), position.SideShort); !errors.Is(err, ErrInvalidTokenPair) {
		t.Errorf("short on volatile collateral err = %v, want ErrInvalidTokenPair", err)
	}
	if err := f.pool.IncreasePosition(owner, "USDT", "USDT", usd(1_000), position.SideLong); !errors.Is(err, ErrInvalidTokenPair) {
		t.Errorf("stable index err = %v, want ErrInvalidTokenPair", err)
	}
	if err := f.pool.IncreasePosition(owner, "BTC", "BTC", usd(0), position.SideLong); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("zero size err = %v, want ErrZeroAmount", err)
	}
	if err := f.pool.IncreasePosition(uuid.Nil, "BTC", "BTC", usd(1_000), position.SideLong); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("nil owner err = %v, want ErrZeroAddress", err)
	}
}

func TestIncreasePositionLeverageBounds(t *testing.T) {
	f := newFixture(t, nil)
	provider := uuid.New()
	f.seed(t, 0, "BTC", sat(100_000_000), provider)
	f.seed(t, 1, "BTC", sat(100_000_000), provider)

	// No collateral deposited: size over zero collateral.
	if err := f.pool.IncreasePosition(uuid.New(), "BTC", "BTC", usd(10_000), position.SideLong); !errors.Is(err, ErrInvalidLeverage) {
		t.Errorf("err = %v, want ErrInvalidLeverage", err)
	}

	// 0.1 BTC collateral against $61000 notional exceeds 30x.
	f.cust.Deposit("BTC", sat(10_000_000))
	if err := f.pool.IncreasePosition(uuid.New(), "BTC", "BTC", usd(61_000), position.SideLong); !errors.Is(err, ErrInvalidLeverage) {
		t.Errorf("err = %v, want ErrInvalidLeverage", err)
	}
}

func TestDecreasePositionPartialClose(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)

	f.feed.Set("BTC", btcPx(20_500))
	pv, err := f.pool.Position(posKey(owner))
	if err != nil {
		t.Fatal(err)
	}
	if pv.PnL.Cmp(usd(250)) != 0 {
		t.Fatalf("pnl at 20500 = %s, want %s", pv.PnL, usd(250))
	}

	if err := f.pool.DecreasePosition(owner, "BTC", "BTC", nil, usd(5_000), position.SideLong, owner); err != nil {
		t.Fatal(err)
	}

	pv, err = f.pool.Position(posKey(owner))
	if err != nil {
		t.Fatal(err)
	}
	if pv.Size.Cmp(usd(5_000)) != 0 {
		t.Errorf("size = %s, want %s", pv.Size, usd(5_000))
	}
	if pv.CollateralValue.Cmp(usd(1_990)) != 0 {
		t.Errorf("collateral = %s, want untouched %s", pv.CollateralValue, usd(1_990))
	}
	if pv.ReserveAmount.Cmp(sat(25_000_000)) != 0 {
		t.Errorf("reserve = %s, want 0.25 BTC", pv.ReserveAmount)
	}

	// Realized pnl $125 minus the $5 close fee, paid in BTC at $20500.
	want := new(big.Int).Quo(usd(120), btcPx(20_500))
	if got := f.cust.RecipientBalance("BTC", owner); got.Cmp(want) != 0 {
		t.Errorf("payout = %s sat, want %s", got, want)
	}
	assertBalanced(t, f, "BTC")
}

func TestDecreasePositionFullClose(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)

	if err := f.pool.DecreasePosition(owner, "BTC", "BTC", nil, usd(10_000), position.SideLong, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pool.Position(posKey(owner)); !errors.Is(err, ErrPositionNotExists) {
		t.Fatalf("closed position lookup err = %v, want ErrPositionNotExists", err)
	}

	// Flat price: collateral back minus the $10 close fee.
	want := new(big.Int).Quo(usd(1_980), btcPx(20_000))
	if got := f.cust.RecipientBalance("BTC", owner); got.Cmp(want) != 0 {
		t.Errorf("payout = %s sat, want %s", got, want)
	}

	v, err := f.pool.Asset("BTC")
	if err != nil {
		t.Fatal(err)
	}
	for i, tr := range v.Tranches {
		if tr.ReservedAmount.Sign() != 0 {
			t.Errorf("tranche %d reserved = %s, want 0", i, tr.ReservedAmount)
		}
		if tr.GuaranteedValue.Sign() != 0 {
			t.Errorf("tranche %d guaranteed = %s, want 0", i, tr.GuaranteedValue)
		}
	}
	assertBalanced(t, f, "BTC")
}

func TestDecreasePositionMissing(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.pool.DecreasePosition(uuid.New(), "BTC", "BTC", nil, usd(1_000), position.SideLong, uuid.New()); !errors.Is(err, ErrPositionNotExists) {
		t.Errorf("err = %v, want ErrPositionNotExists", err)
	}
}

func TestLiquidatePosition(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	liquidator := uuid.New()

	if err := f.pool.LiquidatePosition(liquidator, owner, "BTC", "BTC", position.SideLong); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("healthy position err = %v, want ErrNotLiquidatable", err)
	}

	// At $16200 the pnl is -$1900: equity $90 sits under the 1% maintenance
	// margin of $100.
	f.feed.Set("BTC", btcPx(16_200))
	pv, err := f.pool.Position(posKey(owner))
	if err != nil {
		t.Fatal(err)
	}
	if !pv.Liquidatable {
		t.Fatal("position at 16200 should report liquidatable")
	}

	if err := f.pool.LiquidatePosition(liquidator, owner, "BTC", "BTC", position.SideLong); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pool.Position(posKey(owner)); !errors.Is(err, ErrPositionNotExists) {
		t.Fatalf("liquidated position lookup err = %v, want ErrPositionNotExists", err)
	}

	// Equity $90 minus $10 close fee minus $5 liquidation fee leaves $75 for
	// the owner; the liquidator earns the $5, both in BTC at $16200.
	wantOwner := new(big.Int).Quo(usd(75), btcPx(16_200))
	if got := f.cust.RecipientBalance("BTC", owner); got.Cmp(wantOwner) != 0 {
		t.Errorf("owner payout = %s sat, want %s", got, wantOwner)
	}
	wantLiq := new(big.Int).Quo(usd(5), btcPx(16_200))
	if got := f.cust.RecipientBalance("BTC", liquidator); got.Cmp(wantLiq) != 0 {
		t.Errorf("liquidator reward = %s sat, want %s", got, wantLiq)
	}
	assertBalanced(t, f, "BTC")
}

func TestShortLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	provider := uuid.New()
	f.seed(t, 0, "BTC", sat(100_000_000), provider)
	f.seed(t, 0, "USDT", usdt(50_000), provider)
	f.seed(t, 1, "USDT", usdt(50_000), provider)

	owner := uuid.New()
	key := position.Key{Owner: owner, IndexToken: "BTC", CollateralToken: "USDT", Side: position.SideShort}

	f.cust.Deposit("USDT", usdt(2_000))
	if err := f.pool.IncreasePosition(owner, "BTC", "USDT", usd(10_000), position.SideShort); err != nil {
		t.Fatal(err)
	}

	pv, err := f.pool.Position(key)
	if err != nil {
		t.Fatal(err)
	}
	if pv.CollateralValue.Cmp(usd(1_990)) != 0 {
		t.Errorf("collateral = %s, want %s", pv.CollateralValue, usd(1_990))
	}
	// $10000 reserves 10000 USDT of stable collateral.
	if pv.ReserveAmount.Cmp(usdt(10_000)) != 0 {
		t.Errorf("reserve = %s, want 10000 USDT", pv.ReserveAmount)
	}

	v, err := f.pool.Asset("BTC")
	if err != nil {
		t.Fatal(err)
	}
	for i, tr := range v.Tranches {
		if tr.TotalShortSize.Cmp(usd(5_000)) != 0 {
			t.Errorf("tranche %d short size = %s, want %s", i, tr.TotalShortSize, usd(5_000))
		}
		if tr.AverageShortPrice.Cmp(btcPx(20_000)) != 0 {
			t.Errorf("tranche %d avg short price = %s, want %s", i, tr.AverageShortPrice, btcPx(20_000))
		}
	}

	// BTC falls 5%: the short gains $500, closed in full.
	f.feed.Set("BTC", btcPx(19_000))
	if err := f.pool.DecreasePosition(owner, "BTC", "USDT", nil, usd(10_000), position.SideShort, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pool.Position(key); !errors.Is(err, ErrPositionNotExists) {
		t.Fatalf("closed short lookup err = %v, want ErrPositionNotExists", err)
	}

	// $1990 collateral + $500 pnl - $10 close fee = $2480 in USDT.
	if got := f.cust.RecipientBalance("USDT", owner); got.Cmp(usdt(2_480)) != 0 {
		t.Errorf("payout = %s, want 2480 USDT", got)
	}

	v, err = f.pool.Asset("BTC")
	if err != nil {
		t.Fatal(err)
	}
	for i, tr := range v.Tranches {
		if tr.TotalShortSize.Sign() != 0 {
			t.Errorf("tranche %d short size = %s, want 0", i, tr.TotalShortSize)
		}
		if tr.AverageShortPrice.Sign() != 0 {
			t.Errorf("tranche %d avg short price = %s, want reset", i, tr.AverageShortPrice)
		}
	}
	assertBalanced(t, f, "USDT")
}

func TestShortCappedByGlobalSize(t *testing.T) {
	f := newFixture(t, func(p *Params) {
		p.MaxGlobalShortSize["BTC"] = usd(5_000)
	})
	provider := uuid.New()
	f.seed(t, 0, "BTC", sat(100_000_000), provider)
	f.seed(t, 0, "USDT", usdt(50_000), provider)
	f.seed(t, 1, "USDT", usdt(50_000), provider)

	f.cust.Deposit("USDT", usdt(2_000))
	err := f.pool.IncreasePosition(uuid.New(), "BTC", "USDT", usd(10_000), position.SideShort)
	if !errors.Is(err, ErrMaxGlobalShortSize) {
		t.Errorf("err = %v, want ErrMaxGlobalShortSize", err)
	}
}

func TestDecreaseRejectsOverdrawnCollateral(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)

	// Deep loss: a voluntary close that cannot cover the shortfall reverts
	// instead of socializing it.
	f.feed.Set("BTC", btcPx(15_000))
	err := f.pool.DecreasePosition(owner, "BTC", "BTC", nil, usd(10_000), position.SideLong, owner)
	if !errors.Is(err, ErrUpdateCausesLiquidation) {
		t.Errorf("err = %v, want ErrUpdateCausesLiquidation", err)
	}
}
