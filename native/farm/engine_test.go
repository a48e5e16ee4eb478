package farm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"promchain/core/types"
	"promchain/native/promise"
)

// farmMockState backs both the farm engine and the promise engine so
// account balances stay consistent across the two.
type farmMockState struct {
	pools      []*Pool
	totalAlloc uint64
	users      map[string]*UserInfo
	stakes     map[uint64]*Stake

	promises      map[uint64]*promise.Promise
	counter       uint64
	accounts      map[[20]byte]*types.Account
	accountLists  map[[20]byte][]uint64
	joinable      []uint64
	buckets       map[string][]uint64
	pending       map[uint64]bool
	vaultBalances map[uint64]map[string]*big.Int
	vaultAddrs    map[string][20]byte
}

func newFarmMockState() *farmMockState {
	return &farmMockState{
		users:         make(map[string]*UserInfo),
		stakes:        make(map[uint64]*Stake),
		promises:      make(map[uint64]*promise.Promise),
		accounts:      make(map[[20]byte]*types.Account),
		accountLists:  make(map[[20]byte][]uint64),
		buckets:       make(map[string][]uint64),
		pending:       make(map[uint64]bool),
		vaultBalances: make(map[uint64]map[string]*big.Int),
		vaultAddrs: map[string][20]byte{
			"AAA": newTestAddress(0xAA),
			"BBB": newTestAddress(0xBB),
		},
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func userKey(pid uint64, addr [20]byte) string {
	return fmt.Sprintf("%d/%x", pid, addr)
}

func (m *farmMockState) PoolCount() (uint64, error) { return uint64(len(m.pools)), nil }

func (m *farmMockState) PoolGet(pid uint64) (*Pool, bool) {
	if pid >= uint64(len(m.pools)) {
		return nil, false
	}
	return m.pools[pid].Clone(), true
}

func (m *farmMockState) PoolPut(pid uint64, pool *Pool) error {
	if pid >= uint64(len(m.pools)) {
		return fmt.Errorf("unknown pool %d", pid)
	}
	sanitized, err := SanitizePool(pool)
	if err != nil {
		return err
	}
	m.pools[pid] = sanitized.Clone()
	return nil
}

func (m *farmMockState) PoolAppend(pool *Pool) (uint64, error) {
	sanitized, err := SanitizePool(pool)
	if err != nil {
		return 0, err
	}
	m.pools = append(m.pools, sanitized.Clone())
	return uint64(len(m.pools) - 1), nil
}

func (m *farmMockState) TotalAllocPoint() (uint64, error) { return m.totalAlloc, nil }

func (m *farmMockState) SetTotalAllocPoint(total uint64) error {
	m.totalAlloc = total
	return nil
}

func (m *farmMockState) FarmUserGet(pid uint64, addr [20]byte) (*UserInfo, bool) {
	user, ok := m.users[userKey(pid, addr)]
	if !ok {
		return nil, false
	}
	return user.Clone(), true
}

func (m *farmMockState) FarmUserPut(pid uint64, addr [20]byte, user *UserInfo) error {
	m.users[userKey(pid, addr)] = user.Clone()
	return nil
}

func (m *farmMockState) StakeGet(promiseID uint64) (*Stake, bool) {
	stake, ok := m.stakes[promiseID]
	if !ok {
		return nil, false
	}
	return stake.Clone(), true
}

func (m *farmMockState) StakePut(promiseID uint64, stake *Stake) error {
	m.stakes[promiseID] = stake.Clone()
	return nil
}

func (m *farmMockState) StakeRemove(promiseID uint64) error {
	delete(m.stakes, promiseID)
	return nil
}

func (m *farmMockState) PromisePut(p *promise.Promise) error {
	sanitized, err := promise.SanitizePromise(p)
	if err != nil {
		return err
	}
	m.promises[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *farmMockState) PromiseGet(id uint64) (*promise.Promise, bool) {
	p, ok := m.promises[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *farmMockState) PromiseNextID() (uint64, error) {
	m.counter++
	return m.counter, nil
}

func (m *farmMockState) PromiseCredit(id uint64, asset string, amt *big.Int) error {
	balances, ok := m.vaultBalances[id]
	if !ok {
		balances = make(map[string]*big.Int)
		m.vaultBalances[id] = balances
	}
	current := balances[asset]
	if current == nil {
		current = big.NewInt(0)
	}
	balances[asset] = new(big.Int).Add(current, amt)
	return nil
}

func (m *farmMockState) PromiseDebit(id uint64, asset string, amt *big.Int) error {
	balances := m.vaultBalances[id]
	current := balances[asset]
	if current == nil || current.Cmp(amt) < 0 {
		return fmt.Errorf("vault underflow for promise %d", id)
	}
	balances[asset] = new(big.Int).Sub(current, amt)
	return nil
}

func (m *farmMockState) PromiseBalance(id uint64, asset string) (*big.Int, error) {
	balances := m.vaultBalances[id]
	current := balances[asset]
	if current == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(current), nil
}

func (m *farmMockState) AccountPromises(addr [20]byte) ([]uint64, error) {
	return append([]uint64(nil), m.accountLists[addr]...), nil
}

func (m *farmMockState) SetAccountPromises(addr [20]byte, ids []uint64) error {
	m.accountLists[addr] = append([]uint64(nil), ids...)
	return nil
}

func (m *farmMockState) JoinablePromises() ([]uint64, error) {
	return append([]uint64(nil), m.joinable...), nil
}

func (m *farmMockState) SetJoinablePromises(ids []uint64) error {
	m.joinable = append([]uint64(nil), ids...)
	return nil
}

func bucketMapKey(creatorAsset, joinerAsset string, bucket int64) string {
	return fmt.Sprintf("%s/%s/%d", creatorAsset, joinerAsset, bucket)
}

func (m *farmMockState) JoinableBucket(creatorAsset, joinerAsset string, bucket int64) ([]uint64, error) {
	return append([]uint64(nil), m.buckets[bucketMapKey(creatorAsset, joinerAsset, bucket)]...), nil
}

func (m *farmMockState) SetJoinableBucket(creatorAsset, joinerAsset string, bucket int64, ids []uint64) error {
	m.buckets[bucketMapKey(creatorAsset, joinerAsset, bucket)] = append([]uint64(nil), ids...)
	return nil
}

func (m *farmMockState) PendingAdd(id uint64) error {
	m.pending[id] = true
	return nil
}

func (m *farmMockState) PendingHas(id uint64) (bool, error) { return m.pending[id], nil }

func (m *farmMockState) PendingRemove(id uint64) error {
	delete(m.pending, id)
	return nil
}

func (m *farmMockState) VaultAddress(asset string) ([20]byte, error) {
	addr, ok := m.vaultAddrs[asset]
	if !ok {
		return [20]byte{}, fmt.Errorf("unknown asset %s", asset)
	}
	return addr, nil
}

func (m *farmMockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return types.NewAccount(), nil
	}
	return acc.Clone(), nil
}

func (m *farmMockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *farmMockState) fund(addr [20]byte, asset string, amount int64) {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = types.NewAccount()
		m.accounts[addr] = acc
	}
	acc.SetBalance(asset, big.NewInt(amount))
}

func (m *farmMockState) balance(addr [20]byte, asset string) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return acc.Balance(asset)
}

const testNow int64 = 1_000_000

var (
	creatorAddr  = newTestAddress(0x01)
	joinerAddr   = newTestAddress(0x02)
	treasuryAddr = newTestAddress(0xFE)
	holderAddr   = newTestAddress(0xFD)
)

type testHarness struct {
	chef   *ChefEngine
	ledger *promise.Engine
	state  *farmMockState
	height uint64
	now    int64
}

func (h *testHarness) setHeight(height uint64) { h.height = height }
func (h *testHarness) setNow(now int64)        { h.now = now }

func newTestHarness(t *testing.T, rewardPerBlock int64, startBlock, endBlock uint64) *testHarness {
	t.Helper()
	state := newFarmMockState()
	h := &testHarness{state: state, now: testNow}

	ledger := promise.NewEngine()
	ledger.SetState(state)
	ledger.SetFeeTreasury(treasuryAddr)
	ledger.SetNowFunc(func() int64 { return h.now })

	chef, err := NewChefEngine(ledger, "PROM", big.NewInt(rewardPerBlock), startBlock, endBlock)
	if err != nil {
		t.Fatalf("new chef engine: %v", err)
	}
	chef.SetState(state)
	chef.SetRewardHolder(holderAddr)
	chef.SetHeightFunc(func() uint64 { return h.height })
	chef.SetNowFunc(func() int64 { return h.now })

	state.fund(creatorAddr, "AAA", 1_000_000)
	state.fund(joinerAddr, "BBB", 1_000_000)
	state.fund(holderAddr, "PROM", 1_000_000)

	h.chef = chef
	h.ledger = ledger
	return h
}

func addTestPool(t *testing.T, h *testHarness) uint64 {
	t.Helper()
	pid, err := h.chef.AddPool(100, "AAA", "BBB",
		big.NewInt(1), big.NewInt(4), big.NewInt(1), big.NewInt(1),
		false, testNow+BucketSecondsForTest)
	if err != nil {
		t.Fatalf("add pool: %v", err)
	}
	return pid
}

const BucketSecondsForTest = 86_400

func TestNewChefEngineValidation(t *testing.T) {
	ledger := promise.NewEngine()
	if _, err := NewChefEngine(ledger, "PROM", big.NewInt(-1), 0, 0); !errors.Is(err, ErrInvalidReward) {
		t.Fatalf("expected ErrInvalidReward for negative emission, got %v", err)
	}
	if _, err := NewChefEngine(ledger, "PROM", big.NewInt(1), 10, 5); !errors.Is(err, ErrInvalidReward) {
		t.Fatalf("expected ErrInvalidReward for inverted window, got %v", err)
	}
	if _, err := NewChefEngine(ledger, " ", big.NewInt(1), 0, 0); err == nil {
		t.Fatalf("expected error for empty reward asset")
	}
	// Zero and nil emissions are valid and leave the accumulator idle.
	if _, err := NewChefEngine(ledger, "PROM", big.NewInt(0), 0, 0); err != nil {
		t.Fatalf("zero emission must be accepted, got %v", err)
	}
	if _, err := NewChefEngine(ledger, "PROM", nil, 0, 0); err != nil {
		t.Fatalf("nil emission must be accepted, got %v", err)
	}
}

func TestZeroEmissionAccruesNothing(t *testing.T) {
	h := newTestHarness(t, 0, 0, 0)
	pid := addTestPool(t, h)
	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}

	h.setHeight(100)
	pending, err := h.chef.PendingReward(pid, creatorAddr)
	if err != nil {
		t.Fatalf("pending reward: %v", err)
	}
	if pending.Sign() != 0 {
		t.Fatalf("idle emission must accrue nothing, got %s", pending)
	}
	paid, err := h.chef.ClaimReward(pid, promiseID, creatorAddr)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Sign() != 0 {
		t.Fatalf("expected zero claim, got %s", paid)
	}
}

func TestAddPoolRegistersBoundsAndAlloc(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)

	pool, err := h.chef.PoolInfo(pid)
	if err != nil {
		t.Fatalf("pool info: %v", err)
	}
	quarter := new(big.Int).Quo(promise.RatioScale, big.NewInt(4))
	if pool.MinRatio.Cmp(quarter) != 0 {
		t.Fatalf("expected min ratio %s, got %s", quarter, pool.MinRatio)
	}
	if pool.MaxRatio.Cmp(promise.RatioScale) != 0 {
		t.Fatalf("expected max ratio %s, got %s", promise.RatioScale, pool.MaxRatio)
	}
	if total, _ := h.state.TotalAllocPoint(); total != 100 {
		t.Fatalf("expected total alloc 100, got %d", total)
	}

	if _, err := h.chef.AddPool(1, "AAA", "BBB", big.NewInt(2), big.NewInt(1), big.NewInt(1), big.NewInt(1), false, testNow+10); !errors.Is(err, ErrInvalidRatioBounds) {
		t.Fatalf("expected ErrInvalidRatioBounds, got %v", err)
	}
	if _, err := h.chef.AddPool(1, "AAA", "BBB", big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), false, testNow); !errors.Is(err, ErrPoolExpired) {
		t.Fatalf("expected ErrPoolExpired, got %v", err)
	}
}

func TestAddPoolStartsAtStartBlock(t *testing.T) {
	h := newTestHarness(t, 100, 50, 0)
	pid := addTestPool(t, h)
	pool, _ := h.chef.PoolInfo(pid)
	if pool.LastRewardBlock != 50 {
		t.Fatalf("expected last reward block 50, got %d", pool.LastRewardBlock)
	}
}

func TestCreatePromiseChecksRatioBounds(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)

	// 2.0 joiner per creator exceeds the max ratio of 1.0.
	if _, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(200_000)); !errors.Is(err, ErrRatioOutOfBounds) {
		t.Fatalf("expected ErrRatioOutOfBounds, got %v", err)
	}
	// 0.1 falls below the min ratio of 0.25.
	if _, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(10_000)); !errors.Is(err, ErrRatioOutOfBounds) {
		t.Fatalf("expected ErrRatioOutOfBounds, got %v", err)
	}

	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	created, err := h.ledger.Get(promiseID)
	if err != nil {
		t.Fatalf("get promise: %v", err)
	}
	if created.CreatorAsset != "AAA" || created.JoinerAsset != "BBB" {
		t.Fatalf("promise must inherit pool assets, got %s/%s", created.CreatorAsset, created.JoinerAsset)
	}
	if created.Expiration != testNow+BucketSecondsForTest {
		t.Fatalf("promise must inherit pool expiration, got %d", created.Expiration)
	}

	pool, _ := h.chef.PoolInfo(pid)
	if pool.TotalWeight.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected pool weight 100000, got %s", pool.TotalWeight)
	}
	user, err := h.chef.UserInfoOf(pid, creatorAddr)
	if err != nil {
		t.Fatalf("user info: %v", err)
	}
	if user.Weight.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected user weight 100000, got %s", user.Weight)
	}
	stake, ok := h.state.StakeGet(promiseID)
	if !ok || stake.Amount.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected stake of 100000, got %v %v", stake, ok)
	}
}

func TestCreatePromiseRejectsExpiredPool(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	h.setNow(testNow + BucketSecondsForTest)
	if _, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000)); !errors.Is(err, ErrPoolExpired) {
		t.Fatalf("expected ErrPoolExpired, got %v", err)
	}
}

func TestPendingRewardAccruesPerBlock(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	if _, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000)); err != nil {
		t.Fatalf("create promise: %v", err)
	}

	h.setHeight(10)
	pending, err := h.chef.PendingReward(pid, creatorAddr)
	if err != nil {
		t.Fatalf("pending reward: %v", err)
	}
	if pending.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected pending 1000 after 10 blocks, got %s", pending)
	}

	// Updating the pool must not change the entitlement.
	if _, err := h.chef.UpdatePool(pid); err != nil {
		t.Fatalf("update pool: %v", err)
	}
	if _, err := h.chef.UpdatePool(pid); err != nil {
		t.Fatalf("second update: %v", err)
	}
	pending, _ = h.chef.PendingReward(pid, creatorAddr)
	if pending.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected pending unchanged at 1000, got %s", pending)
	}

	// Strangers have no entitlement.
	stranger, _ := h.chef.PendingReward(pid, joinerAddr)
	if stranger.Sign() != 0 {
		t.Fatalf("expected zero pending for non-staker, got %s", stranger)
	}
}

func TestPendingRewardClampsAtEndBlock(t *testing.T) {
	h := newTestHarness(t, 100, 0, 5)
	pid := addTestPool(t, h)
	if _, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000)); err != nil {
		t.Fatalf("create promise: %v", err)
	}
	h.setHeight(10)
	pending, err := h.chef.PendingReward(pid, creatorAddr)
	if err != nil {
		t.Fatalf("pending reward: %v", err)
	}
	if pending.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected pending clamped to 500, got %s", pending)
	}
}

func TestUpdatePoolAdvancesHeightAtZeroWeight(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)

	h.setHeight(10)
	pool, err := h.chef.UpdatePool(pid)
	if err != nil {
		t.Fatalf("update pool: %v", err)
	}
	if pool.LastRewardBlock != 10 {
		t.Fatalf("expected last reward block 10, got %d", pool.LastRewardBlock)
	}
	if pool.AccRewardPerShare.Sign() != 0 {
		t.Fatalf("expected untouched accumulator, got %s", pool.AccRewardPerShare)
	}

	// Emission before the first stake never accrues to anyone.
	if _, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000)); err != nil {
		t.Fatalf("create promise: %v", err)
	}
	h.setHeight(15)
	pending, _ := h.chef.PendingReward(pid, creatorAddr)
	if pending.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected pending 500 for 5 staked blocks, got %s", pending)
	}
}

func TestClaimRewardPaysFromHolder(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}

	h.setHeight(10)
	paid, err := h.chef.ClaimReward(pid, promiseID, creatorAddr)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected claim 1000, got %s", paid)
	}
	if got := h.state.balance(creatorAddr, "PROM"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected creator PROM 1000, got %s", got)
	}
	if got := h.state.balance(holderAddr, "PROM"); got.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("expected holder PROM 999000, got %s", got)
	}

	// Claiming again at the same height yields nothing.
	paid, err = h.chef.ClaimReward(pid, promiseID, creatorAddr)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if paid.Sign() != 0 {
		t.Fatalf("expected zero on repeat claim, got %s", paid)
	}

	if _, err := h.chef.ClaimReward(pid, promiseID, joinerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}
	if _, err := h.chef.ClaimReward(pid, 999, creatorAddr); !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("expected ErrStakeNotFound, got %v", err)
	}
}

func settleTestPromise(t *testing.T, h *testHarness, promiseID uint64) {
	t.Helper()
	pos, ok, err := h.ledger.IndexOfJoinable(promiseID)
	if err != nil || !ok {
		t.Fatalf("joinable index: ok=%v err=%v", ok, err)
	}
	if err := h.ledger.Join(promiseID, joinerAddr, pos); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.chef.PayPromise(promiseID, creatorAddr); err != nil {
		t.Fatalf("creator pay: %v", err)
	}
	if err := h.chef.PayPromise(promiseID, joinerAddr); err != nil {
		t.Fatalf("joiner pay: %v", err)
	}
}

func TestExecutePromiseUnwindsStake(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	settleTestPromise(t, h, promiseID)

	h.setHeight(10)
	creatorPos, ok, err := h.ledger.IndexOfAccount(creatorAddr, promiseID)
	if err != nil || !ok {
		t.Fatalf("creator index: ok=%v err=%v", ok, err)
	}
	joinerPos, ok, err := h.ledger.IndexOfAccount(joinerAddr, promiseID)
	if err != nil || !ok {
		t.Fatalf("joiner index: ok=%v err=%v", ok, err)
	}
	if err := h.chef.ExecutePromise(pid, promiseID, creatorPos, joinerPos); err != nil {
		t.Fatalf("execute promise: %v", err)
	}

	executed, _ := h.ledger.Get(promiseID)
	if !executed.Executed {
		t.Fatalf("expected underlying promise executed")
	}
	pool, _ := h.chef.PoolInfo(pid)
	if pool.TotalWeight.Sign() != 0 {
		t.Fatalf("expected pool weight 0, got %s", pool.TotalWeight)
	}
	user, _ := h.chef.UserInfoOf(pid, creatorAddr)
	if user.Weight.Sign() != 0 {
		t.Fatalf("expected user weight 0, got %s", user.Weight)
	}
	if _, ok := h.state.StakeGet(promiseID); ok {
		t.Fatalf("expected stake removed")
	}
	// The final harvest pays out the accrued emission.
	if got := h.state.balance(creatorAddr, "PROM"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected harvested 1000 PROM, got %s", got)
	}

	if err := h.chef.ExecutePromise(pid, promiseID, 0, 0); !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("expected ErrStakeNotFound on repeat, got %v", err)
	}
}

func TestExecutePromiseHarvestSettlesOnceOnLedgerFailure(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	settleTestPromise(t, h, promiseID)
	h.setHeight(10)

	// A wrong account position makes the underlying settlement fail
	// after the pending reward has been paid out.
	if err := h.chef.ExecutePromise(pid, promiseID, 99, 99); !errors.Is(err, promise.ErrStaleIndex) {
		t.Fatalf("expected ErrStaleIndex, got %v", err)
	}
	if got := h.state.balance(creatorAddr, "PROM"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected harvested 1000 PROM, got %s", got)
	}

	// Retrying with the same wrong position must not pay again.
	if err := h.chef.ExecutePromise(pid, promiseID, 99, 99); !errors.Is(err, promise.ErrStaleIndex) {
		t.Fatalf("expected ErrStaleIndex on retry, got %v", err)
	}
	if got := h.state.balance(creatorAddr, "PROM"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected harvest paid exactly once, got %s", got)
	}
	if got := h.state.balance(holderAddr, "PROM"); got.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("expected holder drained once, got %s", got)
	}

	// The corrected call settles without a further payout.
	creatorPos, _, _ := h.ledger.IndexOfAccount(creatorAddr, promiseID)
	joinerPos, _, _ := h.ledger.IndexOfAccount(joinerAddr, promiseID)
	if err := h.chef.ExecutePromise(pid, promiseID, creatorPos, joinerPos); err != nil {
		t.Fatalf("execute promise: %v", err)
	}
	if got := h.state.balance(creatorAddr, "PROM"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected no extra payout on settle, got %s", got)
	}
}

func TestCreatePromiseHarvestSettlesOnceOnLedgerFailure(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	if _, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000)); err != nil {
		t.Fatalf("create promise: %v", err)
	}
	h.setHeight(10)

	// The second open fails at the funds pull, after the pending
	// reward has already been settled.
	huge := big.NewInt(4_000_000)
	if _, err := h.chef.CreatePromise(pid, creatorAddr, huge, big.NewInt(2_000_000)); !errors.Is(err, promise.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := h.state.balance(creatorAddr, "PROM"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected harvested 1000 PROM, got %s", got)
	}

	if _, err := h.chef.CreatePromise(pid, creatorAddr, huge, big.NewInt(2_000_000)); !errors.Is(err, promise.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance on retry, got %v", err)
	}
	if got := h.state.balance(creatorAddr, "PROM"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected harvest paid exactly once, got %s", got)
	}
	if got := h.state.balance(holderAddr, "PROM"); got.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("expected holder drained once, got %s", got)
	}
}

func TestExecutePromiseReconcilesOutOfBandExecution(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	settleTestPromise(t, h, promiseID)

	// Settle directly on the ledger, bypassing the farm.
	creatorPos, _, _ := h.ledger.IndexOfAccount(creatorAddr, promiseID)
	joinerPos, _, _ := h.ledger.IndexOfAccount(joinerAddr, promiseID)
	if err := h.ledger.Execute(promiseID, creatorPos, joinerPos); err != nil {
		t.Fatalf("direct execute: %v", err)
	}

	// The farm still unwinds the stale stake.
	if err := h.chef.ExecutePromise(pid, promiseID, 0, 0); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	pool, _ := h.chef.PoolInfo(pid)
	if pool.TotalWeight.Sign() != 0 {
		t.Fatalf("expected pool weight 0 after reconcile, got %s", pool.TotalWeight)
	}
	if _, ok := h.state.StakeGet(promiseID); ok {
		t.Fatalf("expected stake removed after reconcile")
	}
}

func TestClosePendingPromiseAmountUnwindsStake(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	pos, ok, err := h.ledger.IndexOfJoinable(promiseID)
	if err != nil || !ok {
		t.Fatalf("joinable index: ok=%v err=%v", ok, err)
	}
	if err := h.ledger.Join(promiseID, joinerAddr, pos); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Creator settles in full, joiner defaults.
	if err := h.chef.PayPromise(promiseID, creatorAddr); err != nil {
		t.Fatalf("creator pay: %v", err)
	}

	h.setNow(testNow + BucketSecondsForTest)
	if err := h.chef.ClosePendingPromiseAmount(pid, promiseID); err != nil {
		t.Fatalf("close pending: %v", err)
	}
	closed, _ := h.ledger.Get(promiseID)
	if !closed.PendingClosed {
		t.Fatalf("expected pending closed on the ledger")
	}
	pool, _ := h.chef.PoolInfo(pid)
	if pool.TotalWeight.Sign() != 0 {
		t.Fatalf("expected pool weight 0, got %s", pool.TotalWeight)
	}
	if _, ok := h.state.StakeGet(promiseID); ok {
		t.Fatalf("expected stake removed")
	}
}

func TestPayPromiseValidation(t *testing.T) {
	h := newTestHarness(t, 100, 0, 0)
	pid := addTestPool(t, h)
	promiseID, err := h.chef.CreatePromise(pid, creatorAddr, big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	if err := h.chef.PayPromise(promiseID, newTestAddress(0x09)); !errors.Is(err, promise.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.chef.PayPromise(promiseID, creatorAddr); err != nil {
		t.Fatalf("creator pay: %v", err)
	}
	if err := h.chef.PayPromise(promiseID, creatorAddr); !errors.Is(err, promise.ErrNoPendingAmount) {
		t.Fatalf("expected ErrNoPendingAmount, got %v", err)
	}
}
