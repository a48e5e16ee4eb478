package promise

import (
	"fmt"
	"math/big"
	"strings"
)

// Promise captures a single bilateral escrow position. The creator opens
// the position pledging CreatorAmount of CreatorAsset; the joiner matches
// it with JoinerAmount of JoinerAsset. Debts track the committed portion
// not yet transferred into the vault.
type Promise struct {
	ID              uint64
	Creator         [20]byte
	Joiner          [20]byte
	CreatorAsset    string
	JoinerAsset     string
	CreatorAmount   *big.Int
	JoinerAmount    *big.Int
	CreatorDebt     *big.Int
	JoinerDebt      *big.Int
	CreatorPaidFull bool
	JoinerPaidFull  bool
	Expiration      int64
	CreatedAt       int64
	Executed        bool
	Cancelled       bool
	PendingClosed   bool
}

// Joined reports whether a counterparty has matched the position.
func (p *Promise) Joined() bool {
	return p != nil && p.Joiner != ([20]byte{})
}

// Terminal reports whether the position reached a final state.
func (p *Promise) Terminal() bool {
	return p != nil && (p.Executed || p.Cancelled)
}

// CreatorPaid returns the amount the creator has actually moved into the
// vault so far.
func (p *Promise) CreatorPaid() *big.Int {
	if p == nil || p.CreatorAmount == nil {
		return big.NewInt(0)
	}
	debt := p.CreatorDebt
	if debt == nil {
		debt = big.NewInt(0)
	}
	return new(big.Int).Sub(p.CreatorAmount, debt)
}

// JoinerPaid returns the amount the joiner has actually moved into the
// vault so far.
func (p *Promise) JoinerPaid() *big.Int {
	if p == nil || p.JoinerAmount == nil {
		return big.NewInt(0)
	}
	debt := p.JoinerDebt
	if debt == nil {
		debt = big.NewInt(0)
	}
	return new(big.Int).Sub(p.JoinerAmount, debt)
}

// Clone returns a deep copy of the promise so callers can safely mutate
// the copy without affecting the stored instance.
func (p *Promise) Clone() *Promise {
	if p == nil {
		return nil
	}
	clone := *p
	clone.CreatorAmount = cloneBigInt(p.CreatorAmount)
	clone.JoinerAmount = cloneBigInt(p.JoinerAmount)
	clone.CreatorDebt = cloneBigInt(p.CreatorDebt)
	clone.JoinerDebt = cloneBigInt(p.JoinerDebt)
	return &clone
}

// NormalizeAsset canonicalises an asset symbol to its trimmed uppercase
// form and rejects empty symbols.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("promise: empty asset symbol")
	}
	return trimmed, nil
}

// SanitizePromise validates and normalises the supplied promise,
// returning a cloned instance with canonical asset casing and non-nil
// amount fields. The function does not mutate the original value.
func SanitizePromise(p *Promise) (*Promise, error) {
	if p == nil {
		return nil, fmt.Errorf("promise: nil promise")
	}
	clone := p.Clone()
	creatorAsset, err := NormalizeAsset(clone.CreatorAsset)
	if err != nil {
		return nil, err
	}
	clone.CreatorAsset = creatorAsset
	joinerAsset, err := NormalizeAsset(clone.JoinerAsset)
	if err != nil {
		return nil, err
	}
	clone.JoinerAsset = joinerAsset
	if clone.CreatorAmount.Sign() < 0 || clone.JoinerAmount.Sign() < 0 {
		return nil, fmt.Errorf("promise: amounts must be non-negative")
	}
	if clone.CreatorDebt.Sign() < 0 || clone.JoinerDebt.Sign() < 0 {
		return nil, fmt.Errorf("promise: debts must be non-negative")
	}
	if clone.CreatorDebt.Cmp(clone.CreatorAmount) > 0 {
		return nil, fmt.Errorf("promise: creator debt exceeds commitment")
	}
	if clone.JoinerDebt.Cmp(clone.JoinerAmount) > 0 {
		return nil, fmt.Errorf("promise: joiner debt exceeds commitment")
	}
	if clone.Executed && clone.Cancelled {
		return nil, fmt.Errorf("promise: executed and cancelled are mutually exclusive")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
