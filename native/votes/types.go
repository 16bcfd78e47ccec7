package votes

import (
	"encoding/binary"
	"math/big"

	"poolgov/crypto"
	"poolgov/native/sigverify"
)

// Topic kinds.
const (
	KindTransfer    = "transfer"
	KindParamChange = "paramChange"
	KindPriceUpdate = "priceUpdate"
)

var (
	transferTypeHash     = sigverify.Keccak([]byte("Transfer(address from,address to,uint256 amount,uint256[] nftIds,uint256[] nonces,address signer)"))
	paramChangeTypeHash  = sigverify.Keccak([]byte("ParameterChange(address token,address nft,uint256 threshold,uint256 expiration,address collector,uint256 nonce,address requester)"))
	priceUpdateTypeHash  = sigverify.Keccak([]byte("PriceUpdate(uint256[] nftIds,uint256[] prices,uint256 nonce,address requester)"))
	delegateTypeHash     = sigverify.Keccak([]byte("DelegateSigner(address staker,address signer)"))
	identityLinkTypeHash = sigverify.Keccak([]byte("IdentityLink(address staker,address alternate)"))
)

// Payload is one of the three votable topic kinds. StructHash covers every
// field including the declared signer and is what voters sign; ContentHash
// excludes the signer so independent voters converge on the same topic key.
type Payload interface {
	Kind() string
	StructHash() [32]byte
	ContentHash() [32]byte
	Signer() crypto.Address
	// NonceScope returns the identity the payload's nonces are consumed for
	// at acceptance, together with the nonces themselves.
	NonceScope() (crypto.Address, []uint64)
	Validate() error
}

// TransferPayload moves fungible and non-fungible collateral out of custody.
type TransferPayload struct {
	From   crypto.Address `json:"from"`
	To     crypto.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
	NftIDs []uint64       `json:"nftIds,omitempty"`
	Nonces []uint64       `json:"nonces"`
	Voter  crypto.Address `json:"signer"`
}

func (p TransferPayload) Kind() string { return KindTransfer }

func (p TransferPayload) ContentHash() [32]byte {
	ids := hashIDs(p.NftIDs)
	nonces := hashIDs(p.Nonces)
	return sigverify.Keccak(
		transferTypeHash[:],
		encAddress(p.From),
		encAddress(p.To),
		encBig(p.Amount),
		ids[:],
		nonces[:],
	)
}

func (p TransferPayload) StructHash() [32]byte {
	content := p.ContentHash()
	return sigverify.Keccak(content[:], encAddress(p.Voter))
}

func (p TransferPayload) Signer() crypto.Address { return p.Voter }

func (p TransferPayload) NonceScope() (crypto.Address, []uint64) {
	return p.To, p.Nonces
}

func (p TransferPayload) Validate() error {
	if p.To.IsZero() {
		return ErrForbidden
	}
	if p.Amount != nil && p.Amount.Sign() < 0 {
		return ErrForbidden
	}
	if len(p.Nonces) == 0 {
		return ErrForbidden
	}
	return nil
}

// ParamChangePayload swaps the global parameter set.
type ParamChangePayload struct {
	Token      crypto.Address `json:"token"`
	NFT        crypto.Address `json:"nft"`
	Threshold  uint64         `json:"threshold"`
	Expiration uint64         `json:"expiration"`
	Collector  crypto.Address `json:"collector"`
	Nonce      uint64         `json:"nonce"`
	Requester  crypto.Address `json:"requester"`
}

func (p ParamChangePayload) Kind() string { return KindParamChange }

func (p ParamChangePayload) ContentHash() [32]byte {
	return sigverify.Keccak(
		paramChangeTypeHash[:],
		encAddress(p.Token),
		encAddress(p.NFT),
		encUint(p.Threshold),
		encUint(p.Expiration),
		encAddress(p.Collector),
		encUint(p.Nonce),
	)
}

func (p ParamChangePayload) StructHash() [32]byte {
	content := p.ContentHash()
	return sigverify.Keccak(content[:], encAddress(p.Requester))
}

func (p ParamChangePayload) Signer() crypto.Address { return p.Requester }

func (p ParamChangePayload) NonceScope() (crypto.Address, []uint64) {
	return p.Requester, []uint64{p.Nonce}
}

func (p ParamChangePayload) Validate() error {
	if p.Threshold == 0 || p.Threshold > 100 {
		return ErrForbidden
	}
	if p.Expiration == 0 {
		return ErrForbidden
	}
	if p.Collector.IsZero() {
		return ErrForbidden
	}
	return nil
}

// PriceUpdatePayload rewrites cached NFT valuations.
type PriceUpdatePayload struct {
	NftIDs    []uint64       `json:"nftIds"`
	Prices    []*big.Int     `json:"prices"`
	Nonce     uint64         `json:"nonce"`
	Requester crypto.Address `json:"requester"`
}

func (p PriceUpdatePayload) Kind() string { return KindPriceUpdate }

func (p PriceUpdatePayload) ContentHash() [32]byte {
	ids := hashIDs(p.NftIDs)
	prices := hashBigs(p.Prices)
	return sigverify.Keccak(
		priceUpdateTypeHash[:],
		ids[:],
		prices[:],
		encUint(p.Nonce),
	)
}

func (p PriceUpdatePayload) StructHash() [32]byte {
	content := p.ContentHash()
	return sigverify.Keccak(content[:], encAddress(p.Requester))
}

func (p PriceUpdatePayload) Signer() crypto.Address { return p.Requester }

func (p PriceUpdatePayload) NonceScope() (crypto.Address, []uint64) {
	return p.Requester, []uint64{p.Nonce}
}

func (p PriceUpdatePayload) Validate() error {
	if len(p.NftIDs) != len(p.Prices) {
		return ErrLengthMismatch
	}
	if len(p.NftIDs) == 0 {
		return ErrForbidden
	}
	for _, price := range p.Prices {
		if price != nil && price.Sign() < 0 {
			return ErrForbidden
		}
	}
	return nil
}

// DelegatePayload is the dual-signed handshake installing a delegate signer.
// It takes effect immediately and is not subject to voting.
type DelegatePayload struct {
	Staker crypto.Address `json:"staker"`
	Signer crypto.Address `json:"signer"`
}

// StructHash is signed by both the staker and the prospective delegate.
func (p DelegatePayload) StructHash() [32]byte {
	return sigverify.Keccak(
		delegateTypeHash[:],
		encAddress(p.Staker),
		encAddress(p.Signer),
	)
}

// IdentityLinkPayload is the dual-signed handshake binding an alternate
// signing address to a staker.
type IdentityLinkPayload struct {
	Staker    crypto.Address `json:"staker"`
	Alternate crypto.Address `json:"alternate"`
}

func (p IdentityLinkPayload) StructHash() [32]byte {
	return sigverify.Keccak(
		identityLinkTypeHash[:],
		encAddress(p.Staker),
		encAddress(p.Alternate),
	)
}

// --- field encoding ---

func encAddress(a crypto.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a[:])
	return out
}

func encUint(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

func encBig(v *big.Int) []byte {
	out := make([]byte, 32)
	if v != nil {
		v.FillBytes(out)
	}
	return out
}

func hashIDs(ids []uint64) [32]byte {
	buf := make([]byte, 0, len(ids)*32)
	for _, id := range ids {
		buf = append(buf, encUint(id)...)
	}
	return sigverify.Keccak(buf)
}

func hashBigs(values []*big.Int) [32]byte {
	buf := make([]byte, 0, len(values)*32)
	for _, v := range values {
		buf = append(buf, encBig(v)...)
	}
	return sigverify.Keccak(buf)
}
