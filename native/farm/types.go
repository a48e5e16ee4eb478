package farm

import (
	"fmt"
	"math/big"

	"promchain/native/promise"
)

// Pool groups promise positions sharing an asset pair and ratio policy.
// AccRewardPerShare is the lazily advanced accumulator: cumulative
// reward per unit of weight since pool inception, scaled by 1e12.
type Pool struct {
	CreatorAsset      string
	JoinerAsset       string
	AllocPoint        uint64
	LastRewardBlock   uint64
	AccRewardPerShare *big.Int
	MinRatio          *big.Int
	MaxRatio          *big.Int
	Expiration        int64
	TotalWeight       *big.Int
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AccRewardPerShare = cloneBigInt(p.AccRewardPerShare)
	clone.MinRatio = cloneBigInt(p.MinRatio)
	clone.MaxRatio = cloneBigInt(p.MaxRatio)
	clone.TotalWeight = cloneBigInt(p.TotalWeight)
	return &clone
}

// SanitizePool validates and normalises the supplied pool definition,
// returning a cloned instance with canonical asset casing and non-nil
// big.Int fields.
func SanitizePool(p *Pool) (*Pool, error) {
	if p == nil {
		return nil, fmt.Errorf("farm: nil pool")
	}
	clone := p.Clone()
	creatorAsset, err := promise.NormalizeAsset(clone.CreatorAsset)
	if err != nil {
		return nil, err
	}
	clone.CreatorAsset = creatorAsset
	joinerAsset, err := promise.NormalizeAsset(clone.JoinerAsset)
	if err != nil {
		return nil, err
	}
	clone.JoinerAsset = joinerAsset
	if clone.MinRatio.Sign() < 0 || clone.MaxRatio.Sign() < 0 {
		return nil, ErrInvalidRatioBounds
	}
	if clone.MinRatio.Cmp(clone.MaxRatio) > 0 {
		return nil, ErrInvalidRatioBounds
	}
	if clone.AccRewardPerShare.Sign() < 0 || clone.TotalWeight.Sign() < 0 {
		return nil, fmt.Errorf("farm: negative pool accounting field")
	}
	return clone, nil
}

// UserInfo is the per-(pool, account) farming record. Weight sums the
// creator amounts of the account's live positions in the pool;
// RewardDebt is the reward-per-share baseline captured at the last
// interaction, scaled by 1e12.
type UserInfo struct {
	Weight     *big.Int
	RewardDebt *big.Int
}

// Clone returns a deep copy of the user record.
func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	return &UserInfo{Weight: cloneBigInt(u.Weight), RewardDebt: cloneBigInt(u.RewardDebt)}
}

// Stake records the exact weight a promise contributed to its pool so
// the same amount leaves the pool when the position does, regardless of
// later amount scaling on the ledger side.
type Stake struct {
	Pool   uint64
	Owner  [20]byte
	Amount *big.Int
}

// Clone returns a deep copy of the stake record.
func (s *Stake) Clone() *Stake {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Amount = cloneBigInt(s.Amount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
