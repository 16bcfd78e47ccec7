package votes

import (
	"fmt"
	"math/big"

	"poolgov/core/events"
)

// applyTransfer releases fungible and non-fungible collateral from custody.
// Slashing is the special case of a collector destination. A transfer sourced
// from the pool's own custody spends voluntarily deposited funds and may
// never carry NFTs, since collateral stays attributable to one staker.
func (e *Engine) applyTransfer(t *txn, p TransferPayload) error {
	amount := p.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	if p.From == e.self {
		if len(p.NftIDs) > 0 {
			return fmt.Errorf("%w: pool transfers cannot carry collateral", ErrForbidden)
		}
		return e.payTokens(t, p.To, amount)
	}
	if err := e.stakes.DebitTransfer(p.From, amount, p.NftIDs); err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if err := e.payTokens(t, p.To, amount); err != nil {
		return err
	}
	for _, id := range p.NftIDs {
		if err := e.sendNFT(t, p.To, id); err != nil {
			return err
		}
	}
	return nil
}

// applyParamChange swaps the global parameter set in one assignment. The
// batch that carried the vote keeps reading its entry snapshot; the new
// values govern subsequent calls.
func (e *Engine) applyParamChange(t *txn, p ParamChangePayload) error {
	e.params = &Params{
		Token:          p.Token,
		NFT:            p.NFT,
		ThresholdPct:   p.Threshold,
		ExpirationSecs: p.Expiration,
		Collector:      p.Collector,
	}
	e.emit(events.ParamsUpdated{
		ThresholdPct: p.Threshold,
		Expiration:   p.Expiration,
		Collector:    p.Collector,
	})
	return nil
}

// applyPriceUpdate rewrites cached valuations, pushes them to the oracle, and
// adjusts the pool by the delta for NFTs that are currently staked.
func (e *Engine) applyPriceUpdate(t *txn, p PriceUpdatePayload) error {
	delta := big.NewInt(0)
	for i, id := range p.NftIDs {
		price := p.Prices[i]
		if e.oracle != nil {
			previous := e.stakes.Price(id)
			if err := e.oracle.SetPrice(id, price); err != nil {
				return fmt.Errorf("votes: oracle set price %d: %w", id, err)
			}
			nftID := id
			t.undo = append(t.undo, func() { _ = e.oracle.SetPrice(nftID, previous) })
		}
		delta.Add(delta, e.stakes.Reprice(id, price))
	}
	e.emit(events.PriceUpdated{NftIDs: p.NftIDs, PoolDelta: delta})
	return nil
}
