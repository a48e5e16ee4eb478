package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"promchain/native/farm"
	"promchain/storage"
)

var (
	farmPoolCountPrefix  = []byte("farm:poolcount")
	farmPoolPrefix       = []byte("farm:pool:")
	farmTotalAllocPrefix = []byte("farm:totalalloc")
	farmUserPrefix       = []byte("farm:user:")
	farmStakePrefix      = []byte("farm:stake:")
)

func farmPoolKey(pid uint64) []byte {
	return ethcrypto.Keccak256(farmPoolPrefix, idBytes(pid))
}

func farmUserKey(pid uint64, addr [20]byte) []byte {
	return ethcrypto.Keccak256(farmUserPrefix, idBytes(pid), addr[:])
}

func farmStakeKey(promiseID uint64) []byte {
	return ethcrypto.Keccak256(farmStakePrefix, idBytes(promiseID))
}

type storedPool struct {
	CreatorAsset      string
	JoinerAsset       string
	AllocPoint        uint64
	LastRewardBlock   uint64
	AccRewardPerShare *big.Int
	MinRatio          *big.Int
	MaxRatio          *big.Int
	Expiration        *big.Int
	TotalWeight       *big.Int
}

func newStoredPool(pool *farm.Pool) *storedPool {
	return &storedPool{
		CreatorAsset:      pool.CreatorAsset,
		JoinerAsset:       pool.JoinerAsset,
		AllocPoint:        pool.AllocPoint,
		LastRewardBlock:   pool.LastRewardBlock,
		AccRewardPerShare: new(big.Int).Set(pool.AccRewardPerShare),
		MinRatio:          new(big.Int).Set(pool.MinRatio),
		MaxRatio:          new(big.Int).Set(pool.MaxRatio),
		Expiration:        big.NewInt(pool.Expiration),
		TotalWeight:       new(big.Int).Set(pool.TotalWeight),
	}
}

func (s *storedPool) toPool() (*farm.Pool, error) {
	if s.Expiration == nil || !s.Expiration.IsInt64() {
		return nil, fmt.Errorf("state: pool expiration out of range")
	}
	pool := &farm.Pool{
		CreatorAsset:      s.CreatorAsset,
		JoinerAsset:       s.JoinerAsset,
		AllocPoint:        s.AllocPoint,
		LastRewardBlock:   s.LastRewardBlock,
		AccRewardPerShare: s.AccRewardPerShare,
		MinRatio:          s.MinRatio,
		MaxRatio:          s.MaxRatio,
		Expiration:        s.Expiration.Int64(),
		TotalWeight:       s.TotalWeight,
	}
	return farm.SanitizePool(pool)
}

// PoolCount returns the number of registered farming pools.
func (m *Manager) PoolCount() (uint64, error) {
	var count uint64
	if _, err := m.getRLP(ethcrypto.Keccak256(farmPoolCountPrefix), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// PoolGet loads a pool by identifier.
func (m *Manager) PoolGet(pid uint64) (*farm.Pool, bool) {
	stored := new(storedPool)
	ok, err := m.getRLP(farmPoolKey(pid), stored)
	if err != nil || !ok {
		return nil, false
	}
	pool, err := stored.toPool()
	if err != nil {
		return nil, false
	}
	return pool, true
}

// PoolPut validates and persists a pool record.
func (m *Manager) PoolPut(pid uint64, pool *farm.Pool) error {
	sanitized, err := farm.SanitizePool(pool)
	if err != nil {
		return err
	}
	return m.putRLP(farmPoolKey(pid), newStoredPool(sanitized))
}

// PoolAppend registers a new pool and returns its identifier.
func (m *Manager) PoolAppend(pool *farm.Pool) (uint64, error) {
	count, err := m.PoolCount()
	if err != nil {
		return 0, err
	}
	if err := m.PoolPut(count, pool); err != nil {
		return 0, err
	}
	if err := m.putRLP(ethcrypto.Keccak256(farmPoolCountPrefix), count+1); err != nil {
		return 0, err
	}
	return count, nil
}

// TotalAllocPoint returns the sum of allocation points across pools.
func (m *Manager) TotalAllocPoint() (uint64, error) {
	var total uint64
	if _, err := m.getRLP(ethcrypto.Keccak256(farmTotalAllocPrefix), &total); err != nil {
		return 0, err
	}
	return total, nil
}

// SetTotalAllocPoint persists the allocation point total.
func (m *Manager) SetTotalAllocPoint(total uint64) error {
	return m.putRLP(ethcrypto.Keccak256(farmTotalAllocPrefix), total)
}

type storedUser struct {
	Weight     *big.Int
	RewardDebt *big.Int
}

// FarmUserGet loads a participant's position in a pool.
func (m *Manager) FarmUserGet(pid uint64, addr [20]byte) (*farm.UserInfo, bool) {
	stored := new(storedUser)
	ok, err := m.getRLP(farmUserKey(pid, addr), stored)
	if err != nil || !ok {
		return nil, false
	}
	if stored.Weight == nil || stored.RewardDebt == nil {
		return nil, false
	}
	return &farm.UserInfo{Weight: stored.Weight, RewardDebt: stored.RewardDebt}, true
}

// FarmUserPut persists a participant's position in a pool.
func (m *Manager) FarmUserPut(pid uint64, addr [20]byte, user *farm.UserInfo) error {
	if user == nil || user.Weight == nil || user.RewardDebt == nil {
		return fmt.Errorf("state: incomplete farm user record")
	}
	if user.Weight.Sign() < 0 || user.RewardDebt.Sign() < 0 {
		return fmt.Errorf("state: negative farm user fields")
	}
	stored := &storedUser{
		Weight:     new(big.Int).Set(user.Weight),
		RewardDebt: new(big.Int).Set(user.RewardDebt),
	}
	return m.putRLP(farmUserKey(pid, addr), stored)
}

type storedStake struct {
	Pool   uint64
	Owner  [20]byte
	Amount *big.Int
}

// StakeGet loads the stake record tied to a promise.
func (m *Manager) StakeGet(promiseID uint64) (*farm.Stake, bool) {
	stored := new(storedStake)
	ok, err := m.getRLP(farmStakeKey(promiseID), stored)
	if err != nil || !ok {
		return nil, false
	}
	if stored.Amount == nil {
		return nil, false
	}
	return &farm.Stake{Pool: stored.Pool, Owner: stored.Owner, Amount: stored.Amount}, true
}

// StakePut persists the stake record tied to a promise.
func (m *Manager) StakePut(promiseID uint64, stake *farm.Stake) error {
	if stake == nil || stake.Amount == nil {
		return fmt.Errorf("state: incomplete stake record")
	}
	if stake.Amount.Sign() < 0 {
		return fmt.Errorf("state: negative stake amount")
	}
	stored := &storedStake{Pool: stake.Pool, Owner: stake.Owner, Amount: new(big.Int).Set(stake.Amount)}
	return m.putRLP(farmStakeKey(promiseID), stored)
}

// StakeRemove deletes the stake record tied to a promise.
func (m *Manager) StakeRemove(promiseID uint64) error {
	err := m.db.Delete(farmStakeKey(promiseID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	return err
}
