package pool

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"TranchePool/internal/position"
)

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)
	key := posKey(owner)
	if err := f.pool.CreateTakeProfitOrder(owner, key, btcPx(21_000), nil); err != nil {
		t.Fatal(err)
	}

	snap := f.pool.Snapshot()
	if len(snap.Positions) != 1 || len(snap.Orders) != 1 || len(snap.Tranches) != 2 {
		t.Fatalf("snapshot shape: %d positions %d orders %d tranches",
			len(snap.Positions), len(snap.Orders), len(snap.Tranches))
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	// A second engine restored from the serialized form reports identical
	// state.
	f2 := newFixture(t, nil)
	if err := f2.pool.Restore(&decoded); err != nil {
		t.Fatal(err)
	}

	again, err := json.Marshal(f2.pool.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Fatalf("restored snapshot differs:\n%s\n%s", data, again)
	}

	pv, err := f2.pool.Position(key)
	if err != nil {
		t.Fatal(err)
	}
	if pv.Size.Cmp(usd(10_000)) != 0 {
		t.Errorf("restored size = %s, want %s", pv.Size, usd(10_000))
	}
	ov, err := f2.pool.Order(key, position.OrderTakeProfit)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Trigger.Cmp(btcPx(21_000)) != 0 {
		t.Errorf("restored trigger = %s, want %s", ov.Trigger, btcPx(21_000))
	}
	if got := f2.pool.VirtualPoolValue(); got.Cmp(f.pool.VirtualPoolValue()) != 0 {
		t.Errorf("restored virtual value = %s, want %s", got, f.pool.VirtualPoolValue())
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	f := newFixture(t, nil)
	owner := openLong(t, f)

	snap := f.pool.Snapshot()
	before := new(big.Int).Set(snap.Positions[0].Size)

	// Mutating the engine afterwards must not reach into the snapshot.
	if err := f.pool.DecreasePosition(owner, "BTC", "BTC", nil, usd(5_000), position.SideLong, owner); err != nil {
		t.Fatal(err)
	}
	if snap.Positions[0].Size.Cmp(before) != 0 {
		t.Errorf("snapshot size mutated to %s", snap.Positions[0].Size)
	}
}

func TestRestoreRejectsUnbalancedSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	openLong(t, f)
	snap := f.pool.Snapshot()

	pt := snap.PoolTokens["BTC"]
	pt.PoolBalance = big.NewInt(1)
	snap.PoolTokens["BTC"] = pt

	f2 := newFixture(t, nil)
	if err := f2.pool.Restore(snap); err == nil {
		t.Fatal("restore of an unbalanced snapshot should fail")
	}
}
