package votes

import "poolgov/crypto"

// Defaults applied when the construction config leaves a knob unset.
const (
	DefaultThresholdPct   uint64 = 51
	DefaultExpirationSecs uint64 = 24 * 60 * 60
)

// Params is the global parameter set. The engine holds exactly one live
// value; an accepted ParameterChange swaps the whole value atomically and
// every entry point works against the snapshot taken when it began, so a
// mid-operation swap can never mix old and new parameters.
type Params struct {
	Token          crypto.Address `json:"token"`
	NFT            crypto.Address `json:"nft"`
	ThresholdPct   uint64         `json:"thresholdPct"`
	ExpirationSecs uint64         `json:"expirationSecs"`
	Collector      crypto.Address `json:"collector"`
}

// Clone returns a copy of the parameter set.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
