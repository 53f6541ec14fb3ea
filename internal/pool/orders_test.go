package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"TranchePool/internal/position"
)

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	key := posKey(owner)

	if err := f.pool.CreateTakeProfitOrder(uuid.New(), key, btcPx(21_000), nil); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign caller err = %v, want ErrUnauthorized", err)
	}
	if err := f.pool.CreateTakeProfitOrder(owner, key, nil, nil); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("nil trigger err = %v, want ErrZeroAmount", err)
	}

	ghost := posKey(uuid.New())
	if err := f.pool.CreateStopLossOrder(ghost.Owner, ghost, btcPx(19_000), nil); !errors.Is(err, ErrPositionNotExists) {
		t.Errorf("orphan order err = %v, want ErrPositionNotExists", err)
	}
}

func TestCreateOrderLastWriteWins(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	key := posKey(owner)

	if err := f.pool.CreateTakeProfitOrder(owner, key, btcPx(21_000), nil); err != nil {
		t.Fatal(err)
	}
	if err := f.pool.CreateTakeProfitOrder(owner, key, btcPx(22_000), usd(5_000)); err != nil {
		t.Fatal(err)
	}

	ov, err := f.pool.Order(key, position.OrderTakeProfit)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Trigger.Cmp(btcPx(22_000)) != 0 {
		t.Errorf("trigger = %s, want the overwrite %s", ov.Trigger, btcPx(22_000))
	}
	if ov.Size.Cmp(usd(5_000)) != 0 {
		t.Errorf("size = %s, want %s", ov.Size, usd(5_000))
	}
}

func TestExecuteTakeProfit(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	key := posKey(owner)

	if err := f.pool.CreateTakeProfitOrder(owner, key, btcPx(21_000), nil); err != nil {
		t.Fatal(err)
	}
	if err := f.pool.ExecuteTakeProfitOrder(key); !errors.Is(err, ErrOrderNotTriggered) {
		t.Fatalf("premature execute err = %v, want ErrOrderNotTriggered", err)
	}

	f.feed.Set("BTC", btcPx(21_000))
	if err := f.pool.ExecuteTakeProfitOrder(key); err != nil {
		t.Fatal(err)
	}

	// The default order size is the full position, so it is gone.
	if _, err := f.pool.Position(key); !errors.Is(err, ErrPositionNotExists) {
		t.Fatalf("position lookup err = %v, want ErrPositionNotExists", err)
	}
	// $1990 collateral + $500 pnl - $10 close fee, in BTC at $21000.
	want := new(big.Int).Quo(usd(2_480), btcPx(21_000))
	if got := f.cust.RecipientBalance("BTC", owner); got.Cmp(want) != 0 {
		t.Errorf("payout = %s sat, want %s", got, want)
	}

	if err := f.pool.ExecuteTakeProfitOrder(key); !errors.Is(err, ErrOrderAlreadyExecuted) {
		t.Errorf("re-execution err = %v, want ErrOrderAlreadyExecuted", err)
	}
	assertBalanced(t, f, "BTC")
}

func TestExecuteStopLoss(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	key := posKey(owner)

	if err := f.pool.CreateStopLossOrder(owner, key, btcPx(19_000), nil); err != nil {
		t.Fatal(err)
	}

	f.feed.Set("BTC", btcPx(19_500))
	if err := f.pool.ExecuteStopLossOrder(key); !errors.Is(err, ErrOrderNotTriggered) {
		t.Fatalf("above trigger err = %v, want ErrOrderNotTriggered", err)
	}

	f.feed.Set("BTC", btcPx(19_000))
	if err := f.pool.ExecuteStopLossOrder(key); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pool.Position(key); !errors.Is(err, ErrPositionNotExists) {
		t.Fatalf("position lookup err = %v, want ErrPositionNotExists", err)
	}
	assertBalanced(t, f, "BTC")
}

func TestExecutePartialOrder(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	key := posKey(owner)

	if err := f.pool.CreateTakeProfitOrder(owner, key, btcPx(21_000), usd(5_000)); err != nil {
		t.Fatal(err)
	}
	f.feed.Set("BTC", btcPx(21_000))
	if err := f.pool.ExecuteTakeProfitOrder(key); err != nil {
		t.Fatal(err)
	}

	pv, err := f.pool.Position(key)
	if err != nil {
		t.Fatal(err)
	}
	if pv.Size.Cmp(usd(5_000)) != 0 {
		t.Errorf("remaining size = %s, want %s", pv.Size, usd(5_000))
	}
	// Half the size withdraws half the collateral.
	if pv.CollateralValue.Cmp(usd(995)) != 0 {
		t.Errorf("remaining collateral = %s, want %s", pv.CollateralValue, usd(995))
	}
	assertBalanced(t, f, "BTC")
}

func TestExecuteUnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)

	if err := f.pool.ExecuteStopLossOrder(posKey(owner)); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestTrailingStopRatchetsAndFires(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	key := posKey(owner)

	delta := btcPx(500)
	if err := f.pool.CreateTrailingStopOrder(owner, key, delta, nil); err != nil {
		t.Fatal(err)
	}
	ov, err := f.pool.Order(key, position.OrderTrailingStop)
	if err != nil {
		t.Fatal(err)
	}
	if ov.LastPrice.Cmp(btcPx(20_000)) != 0 {
		t.Fatalf("reference = %s, want creation price %s", ov.LastPrice, btcPx(20_000))
	}

	// Price advances: no fire, but the reference ratchets and the advance is
	// committed.
	f.feed.Set("BTC", btcPx(20_800))
	executed, err := f.pool.ExecuteTrailingStopOrder(key)
	if err != nil {
		t.Fatal(err)
	}
	if executed {
		t.Fatal("rising price must not fire a long trailing stop")
	}
	ov, err = f.pool.Order(key, position.OrderTrailingStop)
	if err != nil {
		t.Fatal(err)
	}
	if ov.LastPrice.Cmp(btcPx(20_800)) != 0 {
		t.Fatalf("reference = %s, want ratcheted %s", ov.LastPrice, btcPx(20_800))
	}

	// Retrace of $400 stays under the $500 delta.
	f.feed.Set("BTC", btcPx(20_400))
	executed, err = f.pool.ExecuteTrailingStopOrder(key)
	if err != nil {
		t.Fatal(err)
	}
	if executed {
		t.Fatal("retrace under delta must not fire")
	}

	// Retrace of exactly the delta fires and closes the position.
	f.feed.Set("BTC", btcPx(20_300))
	executed, err = f.pool.ExecuteTrailingStopOrder(key)
	if err != nil {
		t.Fatal(err)
	}
	if !executed {
		t.Fatal("retrace at delta must fire")
	}
	if _, err := f.pool.Position(key); !errors.Is(err, ErrPositionNotExists) {
		t.Fatalf("position lookup err = %v, want ErrPositionNotExists", err)
	}
	assertBalanced(t, f, "BTC")
}
