package stakes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"poolgov/crypto"
)

type storedStake struct {
	Amount     string   `json:"amount"`
	UnlockTime uint64   `json:"unlockTime"`
	Collateral []uint64 `json:"collateral,omitempty"`
}

type storedLedger struct {
	Stakes map[string]storedStake `json:"stakes"`
	Prices map[uint64]string      `json:"prices"`
	Pool   string                 `json:"pool"`
}

// MarshalJSON encodes the ledger for snapshot persistence. Holder bindings are
// derivable from the stake records and are not stored.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	stored := storedLedger{
		Stakes: make(map[string]storedStake, len(l.stakes)),
		Prices: make(map[uint64]string, len(l.prices)),
		Pool:   l.pool.String(),
	}
	for addr, stake := range l.stakes {
		stored.Stakes[hex.EncodeToString(addr[:])] = storedStake{
			Amount:     stake.Amount.String(),
			UnlockTime: stake.UnlockTime,
			Collateral: append([]uint64(nil), stake.Collateral...),
		}
	}
	for id, price := range l.prices {
		stored.Prices[id] = price.String()
	}
	return json.Marshal(stored)
}

// UnmarshalJSON restores a persisted ledger snapshot.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var stored storedLedger
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	restored := NewLedger()
	for key, record := range stored.Stakes {
		raw, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("stakes: decode staker key: %w", err)
		}
		addr, err := crypto.NewAddress(raw)
		if err != nil {
			return err
		}
		amount, err := parseAmount(record.Amount)
		if err != nil {
			return err
		}
		restored.stakes[addr] = &Stake{
			Amount:     amount,
			UnlockTime: record.UnlockTime,
			Collateral: append([]uint64(nil), record.Collateral...),
		}
		for _, id := range record.Collateral {
			restored.holders[id] = addr
		}
	}
	for id, raw := range stored.Prices {
		price, err := parseAmount(raw)
		if err != nil {
			return err
		}
		restored.prices[id] = price
	}
	pool, err := parseAmount(stored.Pool)
	if err != nil {
		return err
	}
	restored.pool = pool
	l.Restore(restored)
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("stakes: invalid amount %q", raw)
	}
	return value, nil
}
