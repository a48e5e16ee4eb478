package farm

import (
	"errors"
	"math/big"
	"time"

	"promchain/core/events"
	"promchain/core/types"
	nativecommon "promchain/native/common"
	"promchain/native/promise"
)

var (
	errNilState  = errors.New("farm engine: state not configured")
	errNilLedger = errors.New("farm engine: promise engine not configured")
	errNilHolder = errors.New("farm engine: reward holder not configured")
)

const moduleName = "farm"

// RewardScale is the fixed-point scale of AccRewardPerShare.
var RewardScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

type chefState interface {
	PoolCount() (uint64, error)
	PoolGet(pid uint64) (*Pool, bool)
	PoolPut(pid uint64, pool *Pool) error
	PoolAppend(pool *Pool) (uint64, error)
	TotalAllocPoint() (uint64, error)
	SetTotalAllocPoint(total uint64) error
	FarmUserGet(pid uint64, addr [20]byte) (*UserInfo, bool)
	FarmUserPut(pid uint64, addr [20]byte, user *UserInfo) error
	StakeGet(promiseID uint64) (*Stake, bool)
	StakePut(promiseID uint64, stake *Stake) error
	StakeRemove(promiseID uint64) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type farmEvent struct {
	evt *types.Event
}

func (e farmEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e farmEvent) Event() *types.Event { return e.evt }

// ChefEngine wraps promise creation with pool membership and runs the
// reward accumulator per pool and user. It never edits promise records
// directly; every ledger mutation goes through the promise engine.
type ChefEngine struct {
	state          chefState
	ledger         *promise.Engine
	emitter        events.Emitter
	heightFn       func() uint64
	nowFn          func() int64
	pauses         nativecommon.PauseView
	rewardAsset    string
	rewardPerBlock *big.Int
	startBlock     uint64
	endBlock       uint64
	holder         [20]byte
}

// NewChefEngine constructs a farming engine bound to the supplied
// promise engine. Rewards in rewardAsset are emitted at rewardPerBlock
// between startBlock and endBlock and paid from the holder account. A
// nil or zero rewardPerBlock is accepted and leaves the accumulator
// idle until the node is reconfigured with a positive emission.
func NewChefEngine(ledger *promise.Engine, rewardAsset string, rewardPerBlock *big.Int, startBlock, endBlock uint64) (*ChefEngine, error) {
	normalized, err := promise.NormalizeAsset(rewardAsset)
	if err != nil {
		return nil, err
	}
	if rewardPerBlock == nil {
		rewardPerBlock = big.NewInt(0)
	}
	if rewardPerBlock.Sign() < 0 {
		return nil, ErrInvalidReward
	}
	if endBlock > 0 && endBlock < startBlock {
		return nil, ErrInvalidReward
	}
	return &ChefEngine{
		ledger:         ledger,
		emitter:        events.NoopEmitter{},
		heightFn:       func() uint64 { return 0 },
		nowFn:          func() int64 { return time.Now().Unix() },
		rewardAsset:    normalized,
		rewardPerBlock: new(big.Int).Set(rewardPerBlock),
		startBlock:     startBlock,
		endBlock:       endBlock,
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *ChefEngine) SetState(state chefState) { e.state = state }

// SetRewardHolder configures the account funding reward payouts.
func (e *ChefEngine) SetRewardHolder(addr [20]byte) { e.holder = addr }

// SetHeightFunc wires the monotonic height source used by the
// accumulator.
func (e *ChefEngine) SetHeightFunc(height func() uint64) {
	if height == nil {
		e.heightFn = func() uint64 { return 0 }
		return
	}
	e.heightFn = height
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *ChefEngine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses wires the module pause view.
func (e *ChefEngine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine.
func (e *ChefEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *ChefEngine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(farmEvent{evt: evt})
}

func (e *ChefEngine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return 0
	}
	return e.heightFn()
}

func (e *ChefEngine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *ChefEngine) loadPool(pid uint64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, ok := e.state.PoolGet(pid)
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (e *ChefEngine) loadUser(pid uint64, addr [20]byte) *UserInfo {
	user, ok := e.state.FarmUserGet(pid, addr)
	if !ok {
		return &UserInfo{Weight: big.NewInt(0), RewardDebt: big.NewInt(0)}
	}
	if user.Weight == nil {
		user.Weight = big.NewInt(0)
	}
	if user.RewardDebt == nil {
		user.RewardDebt = big.NewInt(0)
	}
	return user
}

// AddPool registers a new pool. The ratio bounds are supplied as
// integer numerator/denominator pairs and fixed to 1e18 precision. When
// withUpdate is set every existing pool is brought up to date first so
// the emission split changes only from the current height onwards.
func (e *ChefEngine) AddPool(allocPoint uint64, creatorAsset, joinerAsset string, minNum, minDen, maxNum, maxDen *big.Int, withUpdate bool, expiration int64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	normalizedCreator, err := promise.NormalizeAsset(creatorAsset)
	if err != nil {
		return 0, err
	}
	normalizedJoiner, err := promise.NormalizeAsset(joinerAsset)
	if err != nil {
		return 0, err
	}
	minRatio, err := promise.ComputeRatio(minNum, minDen)
	if err != nil {
		return 0, err
	}
	maxRatio, err := promise.ComputeRatio(maxNum, maxDen)
	if err != nil {
		return 0, err
	}
	if minRatio.Cmp(maxRatio) > 0 {
		return 0, ErrInvalidRatioBounds
	}
	if expiration <= e.now() {
		return 0, ErrPoolExpired
	}
	if withUpdate {
		if err := e.MassUpdatePools(); err != nil {
			return 0, err
		}
	}
	lastReward := e.height()
	if lastReward < e.startBlock {
		lastReward = e.startBlock
	}
	pool := &Pool{
		CreatorAsset:      normalizedCreator,
		JoinerAsset:       normalizedJoiner,
		AllocPoint:        allocPoint,
		LastRewardBlock:   lastReward,
		AccRewardPerShare: big.NewInt(0),
		MinRatio:          minRatio,
		MaxRatio:          maxRatio,
		Expiration:        expiration,
		TotalWeight:       big.NewInt(0),
	}
	total, err := e.state.TotalAllocPoint()
	if err != nil {
		return 0, err
	}
	if err := e.state.SetTotalAllocPoint(total + allocPoint); err != nil {
		return 0, err
	}
	pid, err := e.state.PoolAppend(pool)
	if err != nil {
		return 0, err
	}
	e.emit(NewPoolAddedEvent(pid, pool))
	return pid, nil
}

// UpdatePool advances the pool accumulator to the current height. When
// the pool holds no weight the division is skipped and only the last
// reward height moves forward.
func (e *ChefEngine) UpdatePool(pid uint64) (*Pool, error) {
	pool, err := e.loadPool(pid)
	if err != nil {
		return nil, err
	}
	height := e.height()
	if height <= pool.LastRewardBlock {
		return pool, nil
	}
	reward, err := e.poolReward(pool, height)
	if err != nil {
		return nil, err
	}
	if reward.Sign() > 0 {
		share := new(big.Int).Mul(reward, RewardScale)
		share.Quo(share, pool.TotalWeight)
		pool.AccRewardPerShare = new(big.Int).Add(pool.AccRewardPerShare, share)
	}
	pool.LastRewardBlock = height
	if err := e.state.PoolPut(pid, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// poolReward returns the pool's share of the emission between its last
// reward height and the supplied height, zero when the pool is empty.
func (e *ChefEngine) poolReward(pool *Pool, height uint64) (*big.Int, error) {
	if pool.TotalWeight == nil || pool.TotalWeight.Sign() == 0 {
		return big.NewInt(0), nil
	}
	totalAlloc, err := e.state.TotalAllocPoint()
	if err != nil {
		return nil, err
	}
	if totalAlloc == 0 || pool.AllocPoint == 0 {
		return big.NewInt(0), nil
	}
	from := pool.LastRewardBlock
	if from < e.startBlock {
		from = e.startBlock
	}
	to := height
	if e.endBlock > 0 && to > e.endBlock {
		to = e.endBlock
	}
	if to <= from {
		return big.NewInt(0), nil
	}
	reward := new(big.Int).Mul(e.rewardPerBlock, new(big.Int).SetUint64(to-from))
	reward.Mul(reward, new(big.Int).SetUint64(pool.AllocPoint))
	reward.Quo(reward, new(big.Int).SetUint64(totalAlloc))
	return reward, nil
}

// MassUpdatePools advances every pool accumulator. O(pools), called
// opportunistically before emission weights change.
func (e *ChefEngine) MassUpdatePools() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	count, err := e.state.PoolCount()
	if err != nil {
		return err
	}
	for pid := uint64(0); pid < count; pid++ {
		if _, err := e.UpdatePool(pid); err != nil {
			return err
		}
	}
	return nil
}

// PendingReward reports the reward the account could claim right now,
// including emission accrued since the last pool update.
func (e *ChefEngine) PendingReward(pid uint64, addr [20]byte) (*big.Int, error) {
	pool, err := e.loadPool(pid)
	if err != nil {
		return nil, err
	}
	user := e.loadUser(pid, addr)
	if user.Weight.Sign() == 0 {
		return big.NewInt(0), nil
	}
	acc := cloneBigInt(pool.AccRewardPerShare)
	height := e.height()
	if height > pool.LastRewardBlock {
		reward, err := e.poolReward(pool, height)
		if err != nil {
			return nil, err
		}
		if reward.Sign() > 0 {
			share := new(big.Int).Mul(reward, RewardScale)
			share.Quo(share, pool.TotalWeight)
			acc.Add(acc, share)
		}
	}
	pending := new(big.Int).Mul(user.Weight, acc)
	pending.Quo(pending, RewardScale)
	pending.Sub(pending, user.RewardDebt)
	if pending.Sign() < 0 {
		pending = big.NewInt(0)
	}
	return pending, nil
}

// harvest settles the account's pending reward against the current
// accumulator, paying out from the holder before any weight change.
func (e *ChefEngine) harvest(pool *Pool, user *UserInfo, addr [20]byte) (*big.Int, error) {
	if user.Weight.Sign() == 0 {
		return big.NewInt(0), nil
	}
	pending := new(big.Int).Mul(user.Weight, pool.AccRewardPerShare)
	pending.Quo(pending, RewardScale)
	pending.Sub(pending, user.RewardDebt)
	if pending.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if e.holder == ([20]byte{}) {
		return nil, errNilHolder
	}
	if err := e.transferReward(e.holder, addr, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// settleHarvest pays the account's pending reward and persists the
// rebased debt in the same step. A failure later in the caller then
// finds the debt already snapshotted and cannot replay the payout.
func (e *ChefEngine) settleHarvest(pid uint64, pool *Pool, user *UserInfo, addr [20]byte) (*big.Int, error) {
	paid, err := e.harvest(pool, user, addr)
	if err != nil {
		return nil, err
	}
	if paid.Sign() > 0 {
		rebaseDebt(pool, user)
		if err := e.state.FarmUserPut(pid, addr, user); err != nil {
			return nil, err
		}
	}
	return paid, nil
}

func (e *ChefEngine) transferReward(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	if fromAcc == nil {
		fromAcc = types.NewAccount()
	}
	if toAcc == nil {
		toAcc = types.NewAccount()
	}
	balance := fromAcc.Balance(e.rewardAsset)
	if balance.Cmp(amount) < 0 {
		return promise.ErrInsufficientBalance
	}
	fromAcc.SetBalance(e.rewardAsset, new(big.Int).Sub(balance, amount))
	toAcc.SetBalance(e.rewardAsset, new(big.Int).Add(toAcc.Balance(e.rewardAsset), amount))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// rebaseDebt snapshots the accumulator for the user's current weight.
func rebaseDebt(pool *Pool, user *UserInfo) {
	debt := new(big.Int).Mul(user.Weight, pool.AccRewardPerShare)
	user.RewardDebt = debt.Quo(debt, RewardScale)
}

// CreatePromise opens a promise inside the pool. The amount ratio must
// lie within the pool's bounds; the caller's pending reward is settled
// before the weight changes.
func (e *ChefEngine) CreatePromise(pid uint64, creator [20]byte, creatorAmount, joinerAmount *big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.ledger == nil {
		return 0, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	pool, err := e.loadPool(pid)
	if err != nil {
		return 0, err
	}
	if e.now() >= pool.Expiration {
		return 0, ErrPoolExpired
	}
	if creatorAmount == nil || creatorAmount.Sign() <= 0 || joinerAmount == nil || joinerAmount.Sign() <= 0 {
		return 0, promise.ErrInvalidAmount
	}
	ratio, err := promise.ComputeRatio(joinerAmount, creatorAmount)
	if err != nil {
		return 0, err
	}
	if !promise.WithinBounds(ratio, pool.MinRatio, pool.MaxRatio) {
		return 0, ErrRatioOutOfBounds
	}
	pool, err = e.UpdatePool(pid)
	if err != nil {
		return 0, err
	}
	user := e.loadUser(pid, creator)
	paid, err := e.settleHarvest(pid, pool, user, creator)
	if err != nil {
		return 0, err
	}
	created, err := e.ledger.Create(creator, creatorAmount, pool.CreatorAsset, joinerAmount, pool.JoinerAsset, pool.Expiration)
	if err != nil {
		return 0, err
	}
	user.Weight = new(big.Int).Add(user.Weight, creatorAmount)
	pool.TotalWeight = new(big.Int).Add(pool.TotalWeight, creatorAmount)
	rebaseDebt(pool, user)
	if err := e.state.PoolPut(pid, pool); err != nil {
		return 0, err
	}
	if err := e.state.FarmUserPut(pid, creator, user); err != nil {
		return 0, err
	}
	stake := &Stake{Pool: pid, Owner: creator, Amount: cloneBigInt(creatorAmount)}
	if err := e.state.StakePut(created.ID, stake); err != nil {
		return 0, err
	}
	evt := NewPositionCreatedEvent(pid, created.ID, creator, creatorAmount, paid)
	evt.Attributes["poolWeight"] = pool.TotalWeight.String()
	e.emit(evt)
	return created.ID, nil
}

// PayPromise forwards a full-debt payment for whichever side the payer
// is on, a convenience mirroring the ledger's partial Pay.
func (e *ChefEngine) PayPromise(promiseID uint64, payer [20]byte) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	p, err := e.ledger.Get(promiseID)
	if err != nil {
		return err
	}
	var debt *big.Int
	switch payer {
	case p.Creator:
		debt = p.CreatorDebt
	case p.Joiner:
		debt = p.JoinerDebt
	default:
		return promise.ErrUnauthorized
	}
	if debt == nil || debt.Sign() == 0 {
		return promise.ErrNoPendingAmount
	}
	return e.ledger.Pay(promiseID, payer, debt)
}

// ClaimReward settles the caller's pending reward without changing the
// staked weight.
func (e *ChefEngine) ClaimReward(pid uint64, promiseID uint64, caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	stake, ok := e.state.StakeGet(promiseID)
	if !ok || stake.Pool != pid {
		return nil, ErrStakeNotFound
	}
	if stake.Owner != caller {
		return nil, ErrUnauthorized
	}
	pool, err := e.UpdatePool(pid)
	if err != nil {
		return nil, err
	}
	user := e.loadUser(pid, caller)
	paid, err := e.settleHarvest(pid, pool, user, caller)
	if err != nil {
		return nil, err
	}
	e.emit(NewRewardClaimedEvent(pid, promiseID, caller, paid))
	return paid, nil
}

// ExecutePromise settles the underlying promise and removes its weight
// from the pool. A position already executed directly on the ledger is
// still reconciled here so the farm view stays consistent.
func (e *ChefEngine) ExecutePromise(pid uint64, promiseID uint64, creatorIndex, joinerIndex uint64) error {
	leave := func() error { return e.ledger.Execute(promiseID, creatorIndex, joinerIndex) }
	return e.leavePool(pid, promiseID, leave, promise.ErrAlreadyExecuted, NewPositionExecutedEvent)
}

// ClosePendingPromiseAmount settles the unmatched portion of the
// underlying promise and removes the position's weight from the pool.
func (e *ChefEngine) ClosePendingPromiseAmount(pid uint64, promiseID uint64) error {
	leave := func() error { return e.ledger.ClosePending(promiseID) }
	return e.leavePool(pid, promiseID, leave, promise.ErrAlreadyClosed, NewPositionClosedEvent)
}

// leavePool runs the harvest-before-mutate sequence around a ledger
// call that takes the position out of the pool. When the ledger call
// reports the transition already happened out-of-band, the stake is
// still unwound so weight accounting catches up.
func (e *ChefEngine) leavePool(pid, promiseID uint64, ledgerCall func() error, tolerated error, eventFn func(uint64, uint64, [20]byte, *big.Int) *types.Event) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	stake, ok := e.state.StakeGet(promiseID)
	if !ok || stake.Pool != pid {
		return ErrStakeNotFound
	}
	pool, err := e.UpdatePool(pid)
	if err != nil {
		return err
	}
	user := e.loadUser(pid, stake.Owner)
	paid, err := e.settleHarvest(pid, pool, user, stake.Owner)
	if err != nil {
		return err
	}
	if err := ledgerCall(); err != nil && !errors.Is(err, tolerated) {
		return err
	}
	user.Weight = new(big.Int).Sub(user.Weight, stake.Amount)
	if user.Weight.Sign() < 0 {
		user.Weight = big.NewInt(0)
	}
	pool.TotalWeight = new(big.Int).Sub(pool.TotalWeight, stake.Amount)
	if pool.TotalWeight.Sign() < 0 {
		pool.TotalWeight = big.NewInt(0)
	}
	rebaseDebt(pool, user)
	if err := e.state.PoolPut(pid, pool); err != nil {
		return err
	}
	if err := e.state.FarmUserPut(pid, stake.Owner, user); err != nil {
		return err
	}
	if err := e.state.StakeRemove(promiseID); err != nil {
		return err
	}
	evt := eventFn(pid, promiseID, stake.Owner, paid)
	evt.Attributes["poolWeight"] = pool.TotalWeight.String()
	e.emit(evt)
	return nil
}

// PoolInfo returns a copy of the pool record.
func (e *ChefEngine) PoolInfo(pid uint64) (*Pool, error) {
	pool, err := e.loadPool(pid)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// UserInfoOf returns a copy of the per-(pool, account) record. Accounts
// that never staked get a zeroed record.
func (e *ChefEngine) UserInfoOf(pid uint64, addr [20]byte) (*UserInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.PoolGet(pid); !ok {
		return nil, ErrPoolNotFound
	}
	return e.loadUser(pid, addr).Clone(), nil
}

// RewardAsset returns the configured reward asset symbol.
func (e *ChefEngine) RewardAsset() string {
	if e == nil {
		return ""
	}
	return e.rewardAsset
}
