package stakes

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"poolgov/crypto"
)

func testAddress(fill byte) crypto.Address {
	var addr crypto.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func fixedPrices(prices map[uint64]int64) PriceFunc {
	return func(id uint64) (*big.Int, error) {
		if p, ok := prices[id]; ok {
			return big.NewInt(p), nil
		}
		return big.NewInt(0), nil
	}
}

func TestStakeValidation(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)

	if _, err := ledger.Stake(alice, 0, big.NewInt(100), nil, 1000, nil); !errors.Is(err, ErrDurationZero) {
		t.Fatalf("expected ErrDurationZero, got %v", err)
	}
	if _, err := ledger.Stake(alice, 60, big.NewInt(0), nil, 1000, nil); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero, got %v", err)
	}
	if _, err := ledger.Stake(alice, 60, nil, nil, 1000, nil); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero for nil amount, got %v", err)
	}

	record, err := ledger.Stake(alice, 60, big.NewInt(100), nil, 1000, nil)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if record.UnlockTime != 1060 {
		t.Fatalf("unexpected unlock time %d", record.UnlockTime)
	}
	if _, err := ledger.Stake(alice, 60, big.NewInt(1), nil, 1000, nil); !errors.Is(err, ErrAlreadyStaked) {
		t.Fatalf("expected ErrAlreadyStaked, got %v", err)
	}
}

func TestNegativeAmountsRejected(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)

	if _, err := ledger.Stake(alice, 60, big.NewInt(-100), nil, 1000, nil); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative on stake, got %v", err)
	}
	if ledger.Active(alice) || ledger.TotalPower().Sign() != 0 {
		t.Fatalf("rejected stake mutated the ledger: pool = %s", ledger.TotalPower())
	}

	if _, err := ledger.Stake(alice, 60, big.NewInt(100), nil, 1000, nil); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := ledger.Increase(alice, big.NewInt(-1), nil, nil); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative on increase, got %v", err)
	}
	if err := ledger.DebitTransfer(alice, big.NewInt(-1), nil); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative on debit, got %v", err)
	}
	if got := ledger.VotingPower(alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("power = %s after rejected mutations, want 100", got)
	}

	negative := func(uint64) (*big.Int, error) { return big.NewInt(-5), nil }
	if _, err := ledger.Increase(alice, nil, []uint64{7}, negative); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative for negative valuation, got %v", err)
	}
	if ledger.TotalPower().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("pool = %s after rejected collateral, want 100", ledger.TotalPower())
	}
}

func TestPoolTracksAmountAndCollateral(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)
	bob := testAddress(0x02)
	prices := fixedPrices(map[uint64]int64{7: 40, 8: 60})

	if _, err := ledger.Stake(alice, 60, big.NewInt(100), []uint64{7}, 0, prices); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	if _, err := ledger.Stake(bob, 60, big.NewInt(200), []uint64{8}, 0, prices); err != nil {
		t.Fatalf("stake bob: %v", err)
	}
	if got := ledger.TotalPower(); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("pool = %s, want 400", got)
	}
	if got := ledger.VotingPower(alice); got.Cmp(big.NewInt(140)) != 0 {
		t.Fatalf("alice power = %s, want 140", got)
	}

	sum := new(big.Int).Add(ledger.VotingPower(alice), ledger.VotingPower(bob))
	if sum.Cmp(ledger.TotalPower()) != 0 {
		t.Fatalf("pool %s drifted from per-staker sum %s", ledger.TotalPower(), sum)
	}
}

func TestCollateralCannotBeStakedTwice(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)
	bob := testAddress(0x02)
	prices := fixedPrices(map[uint64]int64{7: 40})

	if _, err := ledger.Stake(alice, 60, nil, []uint64{7}, 0, prices); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	if _, err := ledger.Stake(bob, 60, nil, []uint64{7}, 0, prices); !errors.Is(err, ErrCollateralHeld) {
		t.Fatalf("expected ErrCollateralHeld, got %v", err)
	}
	if _, err := ledger.Increase(alice, nil, []uint64{7}, prices); !errors.Is(err, ErrCollateralHeld) {
		t.Fatalf("expected ErrCollateralHeld on re-increase, got %v", err)
	}

	// Duplicates within a single request are rejected up front too.
	if _, err := ledger.Stake(bob, 60, nil, []uint64{9, 9}, 0, prices); !errors.Is(err, ErrCollateralHeld) {
		t.Fatalf("expected ErrCollateralHeld for duplicate ids, got %v", err)
	}
	if ledger.Active(bob) {
		t.Fatal("rejected stake must not create a record")
	}
}

func TestIncreaseKeepsUnlockTime(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)

	if _, err := ledger.Stake(alice, 100, big.NewInt(50), nil, 1000, nil); err != nil {
		t.Fatalf("stake: %v", err)
	}
	record, err := ledger.Increase(alice, big.NewInt(25), nil, nil)
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if record.UnlockTime != 1100 {
		t.Fatalf("increase moved unlock time to %d", record.UnlockTime)
	}
	if record.Amount.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("amount = %s, want 75", record.Amount)
	}

	record, err = ledger.Extend(alice, 50)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if record.UnlockTime != 1150 {
		t.Fatalf("extend unlock = %d, want 1150", record.UnlockTime)
	}
}

func TestUnstakeBoundary(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)
	prices := fixedPrices(map[uint64]int64{3: 10})

	if _, err := ledger.Stake(alice, 100, big.NewInt(90), []uint64{3}, 1000, prices); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, _, err := ledger.Unstake(alice, 1099); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("expected ErrNotUnlocked at 1099, got %v", err)
	}
	amount, collateral, err := ledger.Unstake(alice, 1100)
	if err != nil {
		t.Fatalf("unstake at unlock time: %v", err)
	}
	if amount.Cmp(big.NewInt(90)) != 0 || len(collateral) != 1 || collateral[0] != 3 {
		t.Fatalf("unexpected withdrawal %s / %v", amount, collateral)
	}
	if ledger.TotalPower().Sign() != 0 {
		t.Fatalf("pool = %s after full unstake", ledger.TotalPower())
	}
	if ledger.Active(alice) {
		t.Fatal("record survived unstake")
	}
	if _, held := ledger.Holder(3); held {
		t.Fatal("collateral still attributed after unstake")
	}
}

func TestDebitTransfer(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)
	prices := fixedPrices(map[uint64]int64{5: 30})

	if _, err := ledger.Stake(alice, 100, big.NewInt(70), []uint64{5}, 0, prices); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := ledger.DebitTransfer(alice, big.NewInt(100), nil); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if err := ledger.DebitTransfer(alice, nil, []uint64{6}); !errors.Is(err, ErrCollateralNotHeld) {
		t.Fatalf("expected ErrCollateralNotHeld, got %v", err)
	}
	if err := ledger.DebitTransfer(alice, big.NewInt(70), []uint64{5}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if ledger.Active(alice) {
		t.Fatal("drained record must close")
	}
	if ledger.TotalPower().Sign() != 0 {
		t.Fatalf("pool = %s after draining debit", ledger.TotalPower())
	}
}

func TestRepriceAdjustsPoolForStakedCollateral(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)
	prices := fixedPrices(map[uint64]int64{5: 30})

	if _, err := ledger.Stake(alice, 100, big.NewInt(70), []uint64{5}, 0, prices); err != nil {
		t.Fatalf("stake: %v", err)
	}
	delta := ledger.Reprice(5, big.NewInt(50))
	if delta.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("delta = %s, want 20", delta)
	}
	if ledger.TotalPower().Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("pool = %s, want 120", ledger.TotalPower())
	}
	// Unstaked NFTs keep a cached price but never move the pool.
	if delta := ledger.Reprice(99, big.NewInt(500)); delta.Sign() != 0 {
		t.Fatalf("unstaked reprice moved pool by %s", delta)
	}
	if ledger.Price(99).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("cached price = %s, want 500", ledger.Price(99))
	}
}

func TestSnapshotRestore(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)
	prices := fixedPrices(map[uint64]int64{5: 30})

	if _, err := ledger.Stake(alice, 100, big.NewInt(70), []uint64{5}, 0, prices); err != nil {
		t.Fatalf("stake: %v", err)
	}
	snap := ledger.Snapshot()

	if err := ledger.DebitTransfer(alice, big.NewInt(70), []uint64{5}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	ledger.Restore(snap)

	if !ledger.Active(alice) {
		t.Fatal("restore lost the stake record")
	}
	if ledger.TotalPower().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("pool = %s after restore, want 100", ledger.TotalPower())
	}
}

func TestCodecRoundTrip(t *testing.T) {
	ledger := NewLedger()
	alice := testAddress(0x01)
	prices := fixedPrices(map[uint64]int64{5: 30, 6: 10})

	if _, err := ledger.Stake(alice, 100, big.NewInt(70), []uint64{6, 5}, 1000, prices); err != nil {
		t.Fatalf("stake: %v", err)
	}
	data, err := ledger.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewLedger()
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.TotalPower().Cmp(ledger.TotalPower()) != 0 {
		t.Fatalf("pool %s != %s", restored.TotalPower(), ledger.TotalPower())
	}
	holder, ok := restored.Holder(5)
	if !ok || holder != alice {
		t.Fatal("holder index not rebuilt")
	}
	record := restored.Get(alice)
	if record == nil || record.UnlockTime != 1100 {
		t.Fatalf("record not restored: %+v", record)
	}
}
