package votes

import (
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"poolgov/core/events"
	"poolgov/crypto"
	"poolgov/native/identity"
	"poolgov/native/replay"
	"poolgov/native/sigverify"
	"poolgov/native/stakes"
)

// TokenCustodian is the external fungible custody the engine directs.
// Transfer moves tokens out of the engine's own holdings; TransferFrom pulls
// a staker's tokens into custody.
type TokenCustodian interface {
	Transfer(recipient crypto.Address, amount *big.Int) error
	TransferFrom(holder, recipient crypto.Address, amount *big.Int) error
}

// NFTCustodian is the external non-fungible registry. Moving an NFT into the
// engine triggers a synchronous inbound-acceptance callback on the engine.
type NFTCustodian interface {
	TransferNFT(holder, recipient crypto.Address, id uint64) error
}

// PriceOracle values NFTs. The engine reads it when collateral enters custody
// and writes accepted price updates back.
type PriceOracle interface {
	GetPrice(id uint64) (*big.Int, error)
	SetPrice(id uint64, price *big.Int) error
}

// Config is the construction-time configuration of the engine.
type Config struct {
	DomainName    string
	DomainVersion string
	// Pool is the engine's own custody identity: the holder recorded at the
	// custodians for everything staked, and a permitted transfer source for
	// voluntarily deposited funds.
	Pool           crypto.Address
	Token          crypto.Address
	NFT            crypto.Address
	Collector      crypto.Address
	ThresholdPct   uint64
	ExpirationSecs uint64
	// ActivationTime is a unix timestamp before which voting entry points are
	// rejected. Zero activates immediately.
	ActivationTime uint64
}

// Engine is the stake-weighted consensus engine. Every state-mutating entry
// point passes through a non-reentrant gate and runs all-or-nothing: a
// failure restores the pre-call state and unwinds custody movements in
// reverse order.
type Engine struct {
	busy      int32
	expecting int32

	self       crypto.Address
	activation uint64

	params   *Params
	topics   map[TopicKey]*Topic
	stakes   *stakes.Ledger
	registry *identity.Registry
	verifier *sigverify.Verifier
	nonces   *replay.Ledger

	token  TokenCustodian
	nft    NFTCustodian
	oracle PriceOracle

	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine wires the engine to its external custodians and oracle.
func NewEngine(cfg Config, token TokenCustodian, nft NFTCustodian, oracle PriceOracle) *Engine {
	threshold := cfg.ThresholdPct
	if threshold == 0 {
		threshold = DefaultThresholdPct
	}
	expiration := cfg.ExpirationSecs
	if expiration == 0 {
		expiration = DefaultExpirationSecs
	}
	registry := identity.NewRegistry()
	return &Engine{
		self:       cfg.Pool,
		activation: cfg.ActivationTime,
		params: &Params{
			Token:          cfg.Token,
			NFT:            cfg.NFT,
			ThresholdPct:   threshold,
			ExpirationSecs: expiration,
			Collector:      cfg.Collector,
		},
		topics:   make(map[TopicKey]*Topic),
		stakes:   stakes.NewLedger(),
		registry: registry,
		verifier: sigverify.New(cfg.DomainName, cfg.DomainVersion, registry),
		nonces:   replay.NewLedger(),
		token:    token,
		nft:      nft,
		oracle:   oracle,
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Nil restores the UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (e *Engine) nowUnix() uint64 {
	return uint64(e.nowFn().Unix())
}

// --- gate and transaction ---

// txn captures the pre-call state plus the undo journal for external custody
// movements performed during the call.
type txn struct {
	topics   map[TopicKey]*Topic
	stakes   *stakes.Ledger
	registry *identity.Registry
	nonces   *replay.Ledger
	params   *Params
	undo     []func()
}

func (e *Engine) begin() *txn {
	t := &txn{
		topics:   make(map[TopicKey]*Topic, len(e.topics)),
		stakes:   e.stakes.Snapshot(),
		registry: e.registry.Snapshot(),
		nonces:   e.nonces.Snapshot(),
		params:   e.params,
	}
	for key, topic := range e.topics {
		t.topics[key] = topic.Clone()
	}
	return t
}

func (e *Engine) rollback(t *txn) {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	e.topics = t.topics
	e.stakes.Restore(t.stakes)
	e.registry.Restore(t.registry)
	e.nonces.Restore(t.nonces)
	e.params = t.params
}

// enter serializes the call through the non-reentrant gate and makes it
// all-or-nothing. Overlapping entry, including a custodian callback
// re-entering synchronously, is rejected rather than queued.
func (e *Engine) enter(fn func(*txn) error) error {
	if !atomic.CompareAndSwapInt32(&e.busy, 0, 1) {
		return fmt.Errorf("%w: reentrant call", ErrForbidden)
	}
	defer atomic.StoreInt32(&e.busy, 0)
	t := e.begin()
	if err := fn(t); err != nil {
		e.rollback(t)
		return err
	}
	return nil
}

// --- custody helpers (journaled) ---

func (e *Engine) pullTokens(t *txn, holder crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.token.TransferFrom(holder, e.self, amount); err != nil {
		return fmt.Errorf("votes: pull tokens: %w", err)
	}
	refund := new(big.Int).Set(amount)
	t.undo = append(t.undo, func() { _ = e.token.Transfer(holder, refund) })
	return nil
}

func (e *Engine) payTokens(t *txn, recipient crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.token.Transfer(recipient, amount); err != nil {
		return fmt.Errorf("votes: pay tokens: %w", err)
	}
	reclaim := new(big.Int).Set(amount)
	t.undo = append(t.undo, func() { _ = e.token.TransferFrom(recipient, e.self, reclaim) })
	return nil
}

func (e *Engine) pullNFT(t *txn, holder crypto.Address, id uint64) error {
	atomic.StoreInt32(&e.expecting, 1)
	err := e.nft.TransferNFT(holder, e.self, id)
	atomic.StoreInt32(&e.expecting, 0)
	if err != nil {
		return fmt.Errorf("votes: pull nft %d: %w", id, err)
	}
	t.undo = append(t.undo, func() { _ = e.nft.TransferNFT(e.self, holder, id) })
	return nil
}

func (e *Engine) sendNFT(t *txn, recipient crypto.Address, id uint64) error {
	if err := e.nft.TransferNFT(e.self, recipient, id); err != nil {
		return fmt.Errorf("votes: send nft %d: %w", id, err)
	}
	t.undo = append(t.undo, func() {
		atomic.StoreInt32(&e.expecting, 1)
		_ = e.nft.TransferNFT(recipient, e.self, id)
		atomic.StoreInt32(&e.expecting, 0)
	})
	return nil
}

// OnNFTReceived is the synchronous inbound-acceptance hook invoked by the NFT
// custodian while an NFT moves into the engine's custody. Transfers the
// engine did not itself initiate are rejected.
func (e *Engine) OnNFTReceived(holder crypto.Address, id uint64) error {
	if atomic.LoadInt32(&e.expecting) == 0 {
		return ErrWrongAsset
	}
	return nil
}

func (e *Engine) oraclePrice(id uint64) (*big.Int, error) {
	if e.oracle == nil {
		return big.NewInt(0), nil
	}
	return e.oracle.GetPrice(id)
}

// --- stake lifecycle entry points ---

// Stake opens a position, pulling custody of the amount and collateral.
func (e *Engine) Stake(caller crypto.Address, duration uint64, amount *big.Int, nftIDs []uint64) error {
	return e.enter(func(t *txn) error {
		record, err := e.stakes.Stake(caller, duration, amount, nftIDs, e.nowUnix(), e.oraclePrice)
		if err != nil {
			return err
		}
		if err := e.pullTokens(t, caller, amount); err != nil {
			return err
		}
		for _, id := range nftIDs {
			if err := e.pullNFT(t, caller, id); err != nil {
				return err
			}
		}
		e.emit(events.StakeCreated{
			Staker:     caller,
			Amount:     record.Amount,
			NftIDs:     nftIDs,
			UnlockTime: record.UnlockTime,
		})
		return nil
	})
}

// IncreaseStake adds collateral to an active position. The unlock time is
// deliberately untouched; Extend is the only way to move it.
func (e *Engine) IncreaseStake(caller crypto.Address, amount *big.Int, nftIDs []uint64) error {
	return e.enter(func(t *txn) error {
		if _, err := e.stakes.Increase(caller, amount, nftIDs, e.oraclePrice); err != nil {
			return err
		}
		if err := e.pullTokens(t, caller, amount); err != nil {
			return err
		}
		for _, id := range nftIDs {
			if err := e.pullNFT(t, caller, id); err != nil {
				return err
			}
		}
		e.emit(events.StakeIncreased{Staker: caller, Amount: amount, NftIDs: nftIDs})
		return nil
	})
}

// Extend pushes the caller's unlock time out by the given duration.
func (e *Engine) Extend(caller crypto.Address, duration uint64) error {
	return e.enter(func(t *txn) error {
		record, err := e.stakes.Extend(caller, duration)
		if err != nil {
			return err
		}
		e.emit(events.StakeExtended{Staker: caller, UnlockTime: record.UnlockTime})
		return nil
	})
}

// Unstake closes an unlocked position and returns custody to the caller.
func (e *Engine) Unstake(caller crypto.Address) error {
	return e.enter(func(t *txn) error {
		amount, nftIDs, err := e.stakes.Unstake(caller, e.nowUnix())
		if err != nil {
			return err
		}
		if err := e.payTokens(t, caller, amount); err != nil {
			return err
		}
		for _, id := range nftIDs {
			if err := e.sendNFT(t, caller, id); err != nil {
				return err
			}
		}
		e.emit(events.StakeWithdrawn{Staker: caller, Amount: amount, NftIDs: nftIDs})
		return nil
	})
}

// --- voting entry points ---

// SubmitTransfers processes a relayer batch of signed transfer votes in array
// order. The first rejected row aborts and rolls back the whole batch.
func (e *Engine) SubmitTransfers(payloads []TransferPayload, sigs [][]byte) error {
	if len(payloads) != len(sigs) {
		return ErrLengthMismatch
	}
	return e.enter(func(t *txn) error {
		if err := e.requireActive(); err != nil {
			return err
		}
		for i := range payloads {
			payload := payloads[i]
			err := e.processVote(t, i, payload, sigs[i], func(t *txn) error {
				return e.applyTransfer(t, payload)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SubmitParamChanges processes a batch of signed parameter-change votes.
func (e *Engine) SubmitParamChanges(payloads []ParamChangePayload, sigs [][]byte) error {
	if len(payloads) != len(sigs) {
		return ErrLengthMismatch
	}
	return e.enter(func(t *txn) error {
		if err := e.requireActive(); err != nil {
			return err
		}
		for i := range payloads {
			payload := payloads[i]
			err := e.processVote(t, i, payload, sigs[i], func(t *txn) error {
				return e.applyParamChange(t, payload)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SubmitPriceUpdates processes a batch of signed price-update votes.
func (e *Engine) SubmitPriceUpdates(payloads []PriceUpdatePayload, sigs [][]byte) error {
	if len(payloads) != len(sigs) {
		return ErrLengthMismatch
	}
	return e.enter(func(t *txn) error {
		if err := e.requireActive(); err != nil {
			return err
		}
		for i := range payloads {
			payload := payloads[i]
			err := e.processVote(t, i, payload, sigs[i], func(t *txn) error {
				return e.applyPriceUpdate(t, payload)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) requireActive() error {
	if e.activation > 0 && e.nowUnix() < e.activation {
		return fmt.Errorf("%w: voting not yet active", ErrForbidden)
	}
	return nil
}

// processVote runs the generic vote-accumulation algorithm for one batch row.
// The effect callback is invoked exactly once, when the row's vote pushes the
// topic past the threshold. All parameter reads use the snapshot taken when
// the batch began.
func (e *Engine) processVote(t *txn, row int, p Payload, sig []byte, apply func(*txn) error) error {
	if err := p.Validate(); err != nil {
		return rowErr(row, err)
	}
	now := e.nowUnix()
	key := p.ContentHash()
	topic, ok := e.topics[key]
	if !ok {
		topic = newTopic(p.Kind(), now)
		e.topics[key] = topic
	}
	if topic.Expired(now, t.params.ExpirationSecs) {
		return rowErr(row, ErrTopicExpired)
	}
	scope, nonces := p.NonceScope()
	for _, nonce := range nonces {
		if e.nonces.Used(scope, nonce) {
			return rowErr(row, fmt.Errorf("%w: nonce %d", ErrNonceUsed, nonce))
		}
	}
	voter, err := e.verifier.VerifyVoter(p.Signer(), p.StructHash(), sig)
	if err != nil {
		return rowErr(row, ErrInvalidSignature)
	}
	if topic.Voted(voter) {
		// Duplicate votes are a no-op so relayers can retry batches safely.
		return nil
	}
	record := e.stakes.Get(voter)
	if record == nil || record.Amount.Sign() == 0 {
		return rowErr(row, ErrVotingPowerZero)
	}
	if record.UnlockTime <= topic.FirstSeen+t.params.ExpirationSecs {
		return rowErr(row, ErrStakeExpiresBeforeVote)
	}
	power := e.stakes.VotingPower(voter)
	topic.Voters[voter] = struct{}{}
	topic.VotedPower.Add(topic.VotedPower, power)
	e.emit(events.VoteRecorded{
		Topic:      key,
		Kind:       topic.Kind,
		Voter:      voter,
		Power:      power,
		VotedPower: new(big.Int).Set(topic.VotedPower),
	})
	if topic.Accepted {
		return nil
	}
	total := e.stakes.TotalPower()
	threshold := new(big.Int).Mul(total, new(big.Int).SetUint64(t.params.ThresholdPct))
	threshold.Quo(threshold, big.NewInt(100))
	if topic.VotedPower.Cmp(threshold) < 0 {
		return nil
	}
	topic.Accepted = true
	if err := apply(t); err != nil {
		return rowErr(row, err)
	}
	for _, nonce := range nonces {
		if err := e.nonces.Consume(scope, nonce); err != nil {
			return rowErr(row, fmt.Errorf("%w: nonce %d", ErrNonceUsed, nonce))
		}
	}
	e.emit(events.TopicAccepted{
		Topic:      key,
		Kind:       topic.Kind,
		VotedPower: new(big.Int).Set(topic.VotedPower),
		TotalPower: total,
	})
	return nil
}

// --- identity entry points (immediate, dual-signed) ---

// SetDelegate installs (or, with the zero address, clears) a delegate signer.
// Both parties must sign the same handshake digest.
func (e *Engine) SetDelegate(p DelegatePayload, stakerSig, signerSig []byte) error {
	return e.enter(func(t *txn) error {
		hash := p.StructHash()
		if err := e.verifier.VerifyExact(p.Staker, hash, stakerSig); err != nil {
			return ErrInvalidSignature
		}
		if !p.Signer.IsZero() {
			if err := e.verifier.VerifyExact(p.Signer, hash, signerSig); err != nil {
				return ErrInvalidSignature
			}
		}
		if err := e.registry.SetDelegate(p.Staker, p.Signer); err != nil {
			return err
		}
		e.emit(events.DelegateSet{Staker: p.Staker, Delegate: p.Signer})
		return nil
	})
}

// LinkIdentity binds (or clears) an alternate signing address for a staker
// through the same dual-signature handshake.
func (e *Engine) LinkIdentity(p IdentityLinkPayload, stakerSig, alternateSig []byte) error {
	return e.enter(func(t *txn) error {
		hash := p.StructHash()
		if err := e.verifier.VerifyExact(p.Staker, hash, stakerSig); err != nil {
			return ErrInvalidSignature
		}
		if !p.Alternate.IsZero() {
			if err := e.verifier.VerifyExact(p.Alternate, hash, alternateSig); err != nil {
				return ErrInvalidSignature
			}
		}
		if err := e.registry.Link(p.Staker, p.Alternate); err != nil {
			return err
		}
		e.emit(events.IdentityLinked{Staker: p.Staker, Alternate: p.Alternate})
		return nil
	})
}

// --- read-only queries ---

// Topic returns a copy of the record for the given key, or nil.
func (e *Engine) Topic(key TopicKey) *Topic {
	return e.topics[key].Clone()
}

// TotalPower returns the tracked voting-power pool.
func (e *Engine) TotalPower() *big.Int { return e.stakes.TotalPower() }

// VotingPower returns the current weight of the staking identity.
func (e *Engine) VotingPower(addr crypto.Address) *big.Int {
	return e.stakes.VotingPower(e.registry.ResolveStaker(addr))
}

// StakeOf returns a copy of the address's stake record, or nil.
func (e *Engine) StakeOf(addr crypto.Address) *stakes.Stake {
	return e.stakes.Get(addr)
}

// CurrentParams returns a copy of the live parameter set.
func (e *Engine) CurrentParams() *Params { return e.params.Clone() }

// NonceUsed reports whether the (identity, nonce) pair has been consumed.
func (e *Engine) NonceUsed(addr crypto.Address, nonce uint64) bool {
	return e.nonces.Used(addr, nonce)
}

// DomainSeparator exposes the signing domain for client tooling.
func (e *Engine) DomainSeparator() [32]byte { return e.verifier.DomainSeparator() }

// Delegate returns the registered delegate signer for the staker.
func (e *Engine) Delegate(staker crypto.Address) (crypto.Address, bool) {
	return e.registry.Delegate(staker)
}

// ActiveStakers returns the number of live stake records.
func (e *Engine) ActiveStakers() int { return e.stakes.ActiveCount() }
