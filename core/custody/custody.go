// Package custody provides in-process reference implementations of the
// external collaborators the engine directs: a fungible-token ledger, a
// non-fungible registry with the synchronous inbound-acceptance callback, and
// a static price oracle. The daemon and the test suites share them; a
// production deployment substitutes adapters for the real custodians.
package custody

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"poolgov/crypto"
)

var (
	// ErrInsufficientBalance indicates the holder cannot cover the transfer.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	// ErrNegativeAmount rejects transfers of negative quantities.
	ErrNegativeAmount = errors.New("custody: negative amount")
	// ErrNotOwner indicates the holder does not own the NFT being moved.
	ErrNotOwner = errors.New("custody: holder does not own nft")
	// ErrTransferRejected indicates the recipient's acceptance hook refused
	// the inbound NFT.
	ErrTransferRejected = errors.New("custody: transfer rejected by recipient")
)

// TokenLedger is a minimal fungible custodian keyed to the pool identity:
// Transfer spends from the pool's holdings, TransferFrom moves third-party
// balances on the engine's behalf.
type TokenLedger struct {
	mu       sync.Mutex
	pool     crypto.Address
	balances map[crypto.Address]*big.Int
}

// NewTokenLedger constructs an empty ledger bound to the pool address.
func NewTokenLedger(pool crypto.Address) *TokenLedger {
	return &TokenLedger{pool: pool, balances: make(map[crypto.Address]*big.Int)}
}

// Mint credits a balance. Used for genesis seeding and tests.
func (l *TokenLedger) Mint(addr crypto.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
}

// BalanceOf returns the holder's current balance.
func (l *TokenLedger) BalanceOf(addr crypto.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Transfer moves tokens out of the pool's own holdings.
func (l *TokenLedger) Transfer(recipient crypto.Address, amount *big.Int) error {
	return l.TransferFrom(l.pool, recipient, amount)
}

// TransferFrom moves tokens between arbitrary holders.
func (l *TokenLedger) TransferFrom(holder, recipient crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: holder %s", ErrInsufficientBalance, holder)
	}
	bal.Sub(bal, amount)
	l.credit(recipient, amount)
	return nil
}

func (l *TokenLedger) credit(addr crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	if bal, ok := l.balances[addr]; ok {
		bal.Add(bal, amount)
		return
	}
	l.balances[addr] = new(big.Int).Set(amount)
}

// NFTReceiver is the inbound-acceptance hook the registry invokes
// synchronously while an NFT moves into the pool's custody.
type NFTReceiver interface {
	OnNFTReceived(holder crypto.Address, id uint64) error
}

// NFTRegistry is a minimal non-fungible custodian. Transfers into the pool
// run the recipient hook before ownership changes, mirroring the re-entrant
// callback shape of on-chain NFT standards.
type NFTRegistry struct {
	mu       sync.Mutex
	pool     crypto.Address
	owners   map[uint64]crypto.Address
	receiver NFTReceiver
}

// NewNFTRegistry constructs an empty registry bound to the pool address.
func NewNFTRegistry(pool crypto.Address) *NFTRegistry {
	return &NFTRegistry{pool: pool, owners: make(map[uint64]crypto.Address)}
}

// SetReceiver installs the pool's acceptance hook. Called once at wiring
// time, after the engine exists.
func (r *NFTRegistry) SetReceiver(receiver NFTReceiver) {
	r.receiver = receiver
}

// MintNFT assigns a fresh NFT to the owner. Genesis seeding and tests.
func (r *NFTRegistry) MintNFT(owner crypto.Address, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[id] = owner
}

// OwnerOf returns the current owner of the NFT.
func (r *NFTRegistry) OwnerOf(id uint64) (crypto.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	return owner, ok
}

// TransferNFT moves ownership, running the pool's acceptance hook for
// inbound transfers. The hook runs synchronously within this call.
func (r *NFTRegistry) TransferNFT(holder, recipient crypto.Address, id uint64) error {
	r.mu.Lock()
	owner, ok := r.owners[id]
	r.mu.Unlock()
	if !ok || owner != holder {
		return fmt.Errorf("%w: nft %d", ErrNotOwner, id)
	}
	if recipient == r.pool && r.receiver != nil {
		if err := r.receiver.OnNFTReceived(holder, id); err != nil {
			return fmt.Errorf("%w: nft %d: %v", ErrTransferRejected, id, err)
		}
	}
	r.mu.Lock()
	r.owners[id] = recipient
	r.mu.Unlock()
	return nil
}

// StaticOracle is a table-backed price oracle. Unknown NFTs value at zero.
type StaticOracle struct {
	mu     sync.Mutex
	prices map[uint64]*big.Int
}

// NewStaticOracle constructs an empty oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[uint64]*big.Int)}
}

// GetPrice returns the recorded valuation, zero when never set.
func (o *StaticOracle) GetPrice(id uint64) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price, ok := o.prices[id]; ok {
		return new(big.Int).Set(price), nil
	}
	return big.NewInt(0), nil
}

// SetPrice records a valuation.
func (o *StaticOracle) SetPrice(id uint64, price *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil {
		price = big.NewInt(0)
	}
	o.prices[id] = new(big.Int).Set(price)
	return nil
}
