package promise

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"promchain/core/events"
	"promchain/core/types"
	nativecommon "promchain/native/common"
)

var (
	errNilState    = errors.New("promise engine: state not configured")
	errNilTreasury = errors.New("promise engine: fee treasury not configured")
)

const (
	moduleName = "promise"

	// DefaultFeeBps is the protocol fee charged on settled amounts.
	DefaultFeeBps uint32 = 50

	// BucketSeconds is the width of a joinable time-index interval.
	BucketSeconds int64 = 86_400
)

type engineState interface {
	PromisePut(*Promise) error
	PromiseGet(id uint64) (*Promise, bool)
	PromiseNextID() (uint64, error)
	PromiseCredit(id uint64, asset string, amt *big.Int) error
	PromiseDebit(id uint64, asset string, amt *big.Int) error
	PromiseBalance(id uint64, asset string) (*big.Int, error)
	AccountPromises(addr [20]byte) ([]uint64, error)
	SetAccountPromises(addr [20]byte, ids []uint64) error
	JoinablePromises() ([]uint64, error)
	SetJoinablePromises(ids []uint64) error
	JoinableBucket(creatorAsset, joinerAsset string, bucket int64) ([]uint64, error)
	SetJoinableBucket(creatorAsset, joinerAsset string, bucket int64, ids []uint64) error
	PendingAdd(id uint64) error
	PendingHas(id uint64) (bool, error)
	PendingRemove(id uint64) error
	VaultAddress(asset string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type promiseEvent struct {
	evt *types.Event
}

func (e promiseEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e promiseEvent) Event() *types.Event { return e.evt }

// Engine owns the promise records and the three index structures
// (per-account lists, joinable list, pending set) and funnels every
// mutation through its entry points.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	feeTreasury [20]byte
	feeBps      uint32
	nowFn       func() int64
	pauses      nativecommon.PauseView
}

// NewEngine creates a promise engine with a no-op emitter and the
// default protocol fee. Callers can override both.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		feeBps:  DefaultFeeBps,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeeTreasury configures the address that receives protocol fees.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetFeeBps overrides the protocol fee. Values above the basis point
// denominator are rejected.
func (e *Engine) SetFeeBps(bps uint32) error {
	if bps > FeeBpsDenominator {
		return fmt.Errorf("promise: fee bps out of range")
	}
	e.feeBps = bps
	return nil
}

// FeeBps returns the configured protocol fee in basis points.
func (e *Engine) FeeBps() uint32 {
	if e == nil {
		return 0
	}
	return e.feeBps
}

// SetPauses wires the module pause view consulted by every mutating
// entry point.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing
// nil resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(promiseEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadPromise(id uint64) (*Promise, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, ok := e.state.PromiseGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (e *Engine) storePromise(p *Promise) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.PromisePut(p)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

func (e *Engine) transferAsset(from, to [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("promise: negative transfer amount")
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	balance := fromAcc.Balance(normalized)
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.SetBalance(normalized, new(big.Int).Sub(balance, amt))
	toAcc.SetBalance(normalized, new(big.Int).Add(toAcc.Balance(normalized), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// ensureSpendable checks a funds pull before any record or index is
// written. Transfers settle in-process, so a balance read up front is
// enough to guarantee the later pull cannot fail and leave partial
// state behind.
func (e *Engine) ensureSpendable(addr [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	if ensureAccount(acc).Balance(asset).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (e *Engine) ensureTreasuryConfigured() error {
	if e == nil {
		return errNilTreasury
	}
	if e.feeTreasury == ([20]byte{}) {
		return errNilTreasury
	}
	return nil
}

// upfrontDeposit is the portion of a commitment pulled immediately; the
// remainder stays as debt to be settled through Pay.
func upfrontDeposit(amount *big.Int) *big.Int {
	return new(big.Int).Quo(cloneBigInt(amount), big.NewInt(2))
}

func bucketStart(expiration int64) int64 {
	return expiration - (expiration % BucketSeconds)
}

// removeAt validates that list[pos] still references id and removes it
// by copying the last element into the vacated slot and truncating.
// Holders of positions above the removed slot must refresh via IndexOf.
func removeAt(list []uint64, pos uint64, id uint64) ([]uint64, error) {
	if pos >= uint64(len(list)) || list[pos] != id {
		return nil, ErrStaleIndex
	}
	last := len(list) - 1
	list[pos] = list[last]
	return list[:last], nil
}

func (e *Engine) appendAccountPromise(addr [20]byte, id uint64) error {
	ids, err := e.state.AccountPromises(addr)
	if err != nil {
		return err
	}
	return e.state.SetAccountPromises(addr, append(ids, id))
}

func (e *Engine) removeAccountPromise(addr [20]byte, pos uint64, id uint64) error {
	ids, err := e.state.AccountPromises(addr)
	if err != nil {
		return err
	}
	ids, err = removeAt(ids, pos, id)
	if err != nil {
		return err
	}
	return e.state.SetAccountPromises(addr, ids)
}

func (e *Engine) removeJoinable(pos uint64, id uint64) error {
	ids, err := e.state.JoinablePromises()
	if err != nil {
		return err
	}
	ids, err = removeAt(ids, pos, id)
	if err != nil {
		return err
	}
	return e.state.SetJoinablePromises(ids)
}

func (e *Engine) bucketAdd(p *Promise) error {
	bucket := bucketStart(p.Expiration)
	ids, err := e.state.JoinableBucket(p.CreatorAsset, p.JoinerAsset, bucket)
	if err != nil {
		return err
	}
	return e.state.SetJoinableBucket(p.CreatorAsset, p.JoinerAsset, bucket, append(ids, p.ID))
}

func (e *Engine) bucketRemove(p *Promise) error {
	bucket := bucketStart(p.Expiration)
	ids, err := e.state.JoinableBucket(p.CreatorAsset, p.JoinerAsset, bucket)
	if err != nil {
		return err
	}
	for i := range ids {
		if ids[i] == p.ID {
			ids[i] = ids[len(ids)-1]
			return e.state.SetJoinableBucket(p.CreatorAsset, p.JoinerAsset, bucket, ids[:len(ids)-1])
		}
	}
	return nil
}

// Create opens a new promise. The creator's upfront half is pulled into
// the asset vault immediately; the remainder stays as creator debt. The
// new id is inserted into the creator's account list, the joinable list
// and the joinable time-index.
func (e *Engine) Create(creator [20]byte, creatorAmount *big.Int, creatorAsset string, joinerAmount *big.Int, joinerAsset string, expiration int64) (*Promise, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalizedCreator, err := NormalizeAsset(creatorAsset)
	if err != nil {
		return nil, err
	}
	normalizedJoiner, err := NormalizeAsset(joinerAsset)
	if err != nil {
		return nil, err
	}
	if creatorAmount == nil || creatorAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if joinerAmount == nil || joinerAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	if expiration <= now {
		return nil, ErrAlreadyExpired
	}
	upfront := upfrontDeposit(creatorAmount)
	if err := e.ensureSpendable(creator, normalizedCreator, upfront); err != nil {
		return nil, err
	}
	id, err := e.state.PromiseNextID()
	if err != nil {
		return nil, err
	}
	p := &Promise{
		ID:              id,
		Creator:         creator,
		CreatorAsset:    normalizedCreator,
		JoinerAsset:     normalizedJoiner,
		CreatorAmount:   cloneBigInt(creatorAmount),
		JoinerAmount:    cloneBigInt(joinerAmount),
		CreatorDebt:     new(big.Int).Sub(creatorAmount, upfront),
		JoinerDebt:      cloneBigInt(joinerAmount),
		CreatorPaidFull: false,
		JoinerPaidFull:  false,
		Expiration:      expiration,
		CreatedAt:       now,
	}
	p.CreatorPaidFull = p.CreatorDebt.Sign() == 0
	if err := e.storePromise(p); err != nil {
		return nil, err
	}
	if err := e.appendAccountPromise(creator, id); err != nil {
		return nil, err
	}
	joinable, err := e.state.JoinablePromises()
	if err != nil {
		return nil, err
	}
	if err := e.state.SetJoinablePromises(append(joinable, id)); err != nil {
		return nil, err
	}
	if err := e.bucketAdd(p); err != nil {
		return nil, err
	}
	if err := e.state.PendingAdd(id); err != nil {
		return nil, err
	}
	vault, err := e.state.VaultAddress(normalizedCreator)
	if err != nil {
		return nil, err
	}
	if err := e.transferAsset(creator, vault, normalizedCreator, upfront); err != nil {
		return nil, err
	}
	if err := e.state.PromiseCredit(id, normalizedCreator, upfront); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(p))
	return p.Clone(), nil
}

// Join matches an open promise. joinableIndex must currently reference
// the id in the joinable list; stale positions are rejected so the
// caller can refresh via IndexOfJoinable and retry.
func (e *Engine) Join(id uint64, joiner [20]byte, joinableIndex uint64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	p, err := e.loadPromise(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrAlreadyExecuted
	}
	if p.Cancelled {
		return ErrAlreadyCancelled
	}
	if p.Joined() {
		return ErrAlreadyJoined
	}
	if e.now() >= p.Expiration {
		return ErrAlreadyExpired
	}
	if joiner == ([20]byte{}) || joiner == p.Creator {
		return ErrUnauthorized
	}
	upfront := upfrontDeposit(p.JoinerAmount)
	if err := e.ensureSpendable(joiner, p.JoinerAsset, upfront); err != nil {
		return err
	}
	if err := e.removeJoinable(joinableIndex, id); err != nil {
		return err
	}
	if err := e.bucketRemove(p); err != nil {
		return err
	}
	if err := e.appendAccountPromise(joiner, id); err != nil {
		return err
	}
	p.Joiner = joiner
	p.JoinerDebt = new(big.Int).Sub(p.JoinerAmount, upfront)
	p.JoinerPaidFull = p.JoinerDebt.Sign() == 0
	if err := e.storePromise(p); err != nil {
		return err
	}
	vault, err := e.state.VaultAddress(p.JoinerAsset)
	if err != nil {
		return err
	}
	if err := e.transferAsset(joiner, vault, p.JoinerAsset, upfront); err != nil {
		return err
	}
	if err := e.state.PromiseCredit(id, p.JoinerAsset, upfront); err != nil {
		return err
	}
	e.emit(NewJoinedEvent(p))
	return nil
}

// Pay settles part of the caller's outstanding debt. Partial payments
// are allowed up to the outstanding amount; the paid-full flag is set
// once the debt reaches zero.
func (e *Engine) Pay(id uint64, payer [20]byte, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	p, err := e.loadPromise(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrAlreadyExecuted
	}
	if p.Cancelled {
		return ErrAlreadyCancelled
	}
	if e.now() >= p.Expiration {
		return ErrAlreadyExpired
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	var (
		debt  *big.Int
		asset string
	)
	switch payer {
	case p.Creator:
		debt, asset = p.CreatorDebt, p.CreatorAsset
	case p.Joiner:
		debt, asset = p.JoinerDebt, p.JoinerAsset
	default:
		return ErrUnauthorized
	}
	if debt == nil || debt.Sign() == 0 {
		return ErrNoPendingAmount
	}
	if amount.Cmp(debt) > 0 {
		return ErrInvalidAmount
	}
	if err := e.ensureSpendable(payer, asset, amount); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(debt, amount)
	if payer == p.Creator {
		p.CreatorDebt = remaining
		p.CreatorPaidFull = remaining.Sign() == 0
	} else {
		p.JoinerDebt = remaining
		p.JoinerPaidFull = remaining.Sign() == 0
	}
	if err := e.storePromise(p); err != nil {
		return err
	}
	vault, err := e.state.VaultAddress(asset)
	if err != nil {
		return err
	}
	if err := e.transferAsset(payer, vault, asset, amount); err != nil {
		return err
	}
	if err := e.state.PromiseCredit(id, asset, amount); err != nil {
		return err
	}
	e.emit(NewPaidEvent(p, payer, amount))
	return nil
}

// Execute settles a fully paid promise: the joiner's deposit goes to the
// creator and vice versa, each net of the protocol fee. The id is
// removed from both account lists using the caller-supplied positions.
// Execution past the expiration time is allowed once both sides are
// fully paid, since refusing would strand matched funds.
func (e *Engine) Execute(id uint64, creatorIndex, joinerIndex uint64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.ensureTreasuryConfigured(); err != nil {
		return err
	}
	p, err := e.loadPromise(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrAlreadyExecuted
	}
	if p.Cancelled {
		return ErrAlreadyCancelled
	}
	if !p.Joined() {
		return ErrNotJoined
	}
	if !p.CreatorPaidFull || !p.JoinerPaidFull {
		return ErrDebtOutstanding
	}
	if err := e.removeAccountPromise(p.Creator, creatorIndex, id); err != nil {
		return err
	}
	if err := e.removeAccountPromise(p.Joiner, joinerIndex, id); err != nil {
		return err
	}
	if err := e.state.PendingRemove(id); err != nil {
		return err
	}
	p.Executed = true
	p.PendingClosed = true
	if err := e.storePromise(p); err != nil {
		return err
	}
	if err := e.payOut(id, p.JoinerAsset, p.JoinerAmount, p.Creator); err != nil {
		return err
	}
	if err := e.payOut(id, p.CreatorAsset, p.CreatorAmount, p.Joiner); err != nil {
		return err
	}
	feeCreatorAsset := ComputeFee(p.CreatorAmount, e.feeBps)
	feeJoinerAsset := ComputeFee(p.JoinerAmount, e.feeBps)
	e.emit(NewExecutedEvent(p, feeCreatorAsset, feeJoinerAsset))
	return nil
}

// payOut releases amount of asset from the promise vault to the
// recipient, net of the protocol fee which goes to the treasury.
func (e *Engine) payOut(id uint64, asset string, amount *big.Int, to [20]byte) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	vault, err := e.state.VaultAddress(asset)
	if err != nil {
		return err
	}
	fee := ComputeFee(amount, e.feeBps)
	payout := new(big.Int).Sub(amount, fee)
	if err := e.state.PromiseDebit(id, asset, amount); err != nil {
		return err
	}
	if payout.Sign() > 0 {
		if err := e.transferAsset(vault, to, asset, payout); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := e.transferAsset(vault, e.feeTreasury, asset, fee); err != nil {
			return err
		}
	}
	return nil
}

// Cancel withdraws an unjoined promise, refunding the creator's deposit
// in full without a fee and removing the id from every index.
func (e *Engine) Cancel(id uint64, accountIndex, joinableIndex uint64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	p, err := e.loadPromise(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrAlreadyExecuted
	}
	if p.Cancelled {
		return ErrAlreadyCancelled
	}
	if p.Joined() {
		return ErrAlreadyJoined
	}
	if err := e.removeAccountPromise(p.Creator, accountIndex, id); err != nil {
		return err
	}
	if err := e.removeJoinable(joinableIndex, id); err != nil {
		return err
	}
	if err := e.bucketRemove(p); err != nil {
		return err
	}
	if err := e.state.PendingRemove(id); err != nil {
		return err
	}
	p.Cancelled = true
	p.PendingClosed = true
	if err := e.storePromise(p); err != nil {
		return err
	}
	escrowed, err := e.state.PromiseBalance(id, p.CreatorAsset)
	if err != nil {
		return err
	}
	if escrowed.Sign() > 0 {
		vault, err := e.state.VaultAddress(p.CreatorAsset)
		if err != nil {
			return err
		}
		if err := e.state.PromiseDebit(id, p.CreatorAsset, escrowed); err != nil {
			return err
		}
		if err := e.transferAsset(vault, p.Creator, p.CreatorAsset, escrowed); err != nil {
			return err
		}
	}
	e.emit(NewCancelledEvent(p))
	return nil
}

// ClosePending settles the unmatched portion of an expired, joined,
// not-fully-paid promise. Both sides are scaled down to the matched
// amounts, excess escrow is refunded net of the protocol fee on the
// refunded portion, and the id leaves the pending set. Exactly one
// successful call is allowed per id; execution of the matched remainder
// stays possible afterwards.
func (e *Engine) ClosePending(id uint64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.ensureTreasuryConfigured(); err != nil {
		return err
	}
	p, err := e.loadPromise(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrAlreadyExecuted
	}
	if p.Cancelled {
		return ErrAlreadyCancelled
	}
	if p.PendingClosed {
		return ErrAlreadyClosed
	}
	pending, err := e.state.PendingHas(id)
	if err != nil {
		return err
	}
	if !pending {
		return ErrAlreadyClosed
	}
	if !p.Joined() {
		return ErrNotJoined
	}
	if e.now() < p.Expiration {
		return ErrNotYetExpired
	}
	if p.CreatorPaidFull && p.JoinerPaidFull {
		return ErrNoPendingAmount
	}
	creatorPaid := p.CreatorPaid()
	joinerPaid := p.JoinerPaid()

	// Matched fraction = min(creatorPaid/creatorAmount, joinerPaid/joinerAmount),
	// decided by cross multiplication to stay in integer arithmetic.
	lhs := new(big.Int).Mul(creatorPaid, p.JoinerAmount)
	rhs := new(big.Int).Mul(joinerPaid, p.CreatorAmount)
	var matchedCreator, matchedJoiner *big.Int
	if lhs.Cmp(rhs) <= 0 {
		matchedCreator = cloneBigInt(creatorPaid)
		matchedJoiner = new(big.Int).Mul(p.JoinerAmount, creatorPaid)
		matchedJoiner.Quo(matchedJoiner, p.CreatorAmount)
	} else {
		matchedJoiner = cloneBigInt(joinerPaid)
		matchedCreator = new(big.Int).Mul(p.CreatorAmount, joinerPaid)
		matchedCreator.Quo(matchedCreator, p.JoinerAmount)
	}
	if matchedJoiner.Cmp(joinerPaid) > 0 {
		matchedJoiner = cloneBigInt(joinerPaid)
	}
	refundCreator := new(big.Int).Sub(creatorPaid, matchedCreator)
	refundJoiner := new(big.Int).Sub(joinerPaid, matchedJoiner)

	if err := e.state.PendingRemove(id); err != nil {
		return err
	}
	p.PendingClosed = true
	p.CreatorAmount = matchedCreator
	p.CreatorDebt = big.NewInt(0)
	p.CreatorPaidFull = true
	p.JoinerAmount = matchedJoiner
	p.JoinerDebt = big.NewInt(0)
	p.JoinerPaidFull = true
	if matchedCreator.Sign() == 0 && matchedJoiner.Sign() == 0 {
		// Nothing matched at all; the position is finished once the
		// deposits are returned.
		p.Cancelled = true
	}
	if err := e.storePromise(p); err != nil {
		return err
	}
	if err := e.refundPending(id, p.CreatorAsset, refundCreator, p.Creator); err != nil {
		return err
	}
	if err := e.refundPending(id, p.JoinerAsset, refundJoiner, p.Joiner); err != nil {
		return err
	}
	feeCreatorAsset := ComputeFee(refundCreator, e.feeBps)
	feeJoinerAsset := ComputeFee(refundJoiner, e.feeBps)
	e.emit(NewPendingClosedEvent(p, refundCreator, refundJoiner, feeCreatorAsset, feeJoinerAsset))
	return nil
}

// refundPending returns an unmatched escrowed amount to its depositor,
// net of the protocol fee on the refunded portion.
func (e *Engine) refundPending(id uint64, asset string, amount *big.Int, to [20]byte) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	vault, err := e.state.VaultAddress(asset)
	if err != nil {
		return err
	}
	fee := ComputeFee(amount, e.feeBps)
	refund := new(big.Int).Sub(amount, fee)
	if err := e.state.PromiseDebit(id, asset, amount); err != nil {
		return err
	}
	if refund.Sign() > 0 {
		if err := e.transferAsset(vault, to, asset, refund); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := e.transferAsset(vault, e.feeTreasury, asset, fee); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the promise record.
func (e *Engine) Get(id uint64) (*Promise, error) {
	p, err := e.loadPromise(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// AccountPromises lists the ids the address participates in.
func (e *Engine) AccountPromises(addr [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.AccountPromises(addr)
}

// JoinablePromises lists the ids currently open for joining.
func (e *Engine) JoinablePromises() ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.JoinablePromises()
}

// IndexOfAccount reports the current position of id in the account's
// list. Positions shift whenever another entry is removed, so callers
// should fetch them immediately before a removal-based call.
func (e *Engine) IndexOfAccount(addr [20]byte, id uint64) (uint64, bool, error) {
	if e == nil || e.state == nil {
		return 0, false, errNilState
	}
	ids, err := e.state.AccountPromises(addr)
	if err != nil {
		return 0, false, err
	}
	return indexOf(ids, id)
}

// IndexOfJoinable reports the current position of id in the joinable
// list.
func (e *Engine) IndexOfJoinable(id uint64) (uint64, bool, error) {
	if e == nil || e.state == nil {
		return 0, false, errNilState
	}
	ids, err := e.state.JoinablePromises()
	if err != nil {
		return 0, false, err
	}
	return indexOf(ids, id)
}

func indexOf(ids []uint64, id uint64) (uint64, bool, error) {
	for i := range ids {
		if ids[i] == id {
			return uint64(i), true, nil
		}
	}
	return 0, false, nil
}
