package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"promchain/native/promise"
	"promchain/storage"
)

var (
	promiseCounterPrefix = []byte("promise:counter")
	promiseRecordPrefix  = []byte("promise:record:")
	promiseAccountPrefix = []byte("promise:account:")
	promiseJoinablePref  = []byte("promise:joinable")
	promisePendingPrefix = []byte("promise:pending:")
	promiseVaultBalPref  = []byte("promise:vault:")
	promiseBucketPrefix  = []byte("promise:bucket:")
)

func idBytes(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func promiseRecordKey(id uint64) []byte {
	return ethcrypto.Keccak256(promiseRecordPrefix, idBytes(id))
}

func promiseAccountKey(addr [20]byte) []byte {
	return ethcrypto.Keccak256(promiseAccountPrefix, addr[:])
}

func promisePendingKey(id uint64) []byte {
	return ethcrypto.Keccak256(promisePendingPrefix, idBytes(id))
}

func promiseVaultBalKey(id uint64, asset string) []byte {
	return ethcrypto.Keccak256(promiseVaultBalPref, idBytes(id), []byte(asset))
}

func promiseBucketKey(creatorAsset, joinerAsset string, bucket int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(bucket))
	return ethcrypto.Keccak256(promiseBucketPrefix, []byte(creatorAsset), []byte{0}, []byte(joinerAsset), []byte{0}, buf)
}

// storedPromise mirrors promise.Promise with RLP-friendly field types:
// signed timestamps are widened to big integers.
type storedPromise struct {
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
	Expiration      *big.Int
	CreatedAt       *big.Int
	Executed        bool
	Cancelled       bool
	PendingClosed   bool
}

func newStoredPromise(p *promise.Promise) *storedPromise {
	return &storedPromise{
		ID:              p.ID,
		Creator:         p.Creator,
		Joiner:          p.Joiner,
		CreatorAsset:    p.CreatorAsset,
		JoinerAsset:     p.JoinerAsset,
		CreatorAmount:   new(big.Int).Set(p.CreatorAmount),
		JoinerAmount:    new(big.Int).Set(p.JoinerAmount),
		CreatorDebt:     new(big.Int).Set(p.CreatorDebt),
		JoinerDebt:      new(big.Int).Set(p.JoinerDebt),
		CreatorPaidFull: p.CreatorPaidFull,
		JoinerPaidFull:  p.JoinerPaidFull,
		Expiration:      big.NewInt(p.Expiration),
		CreatedAt:       big.NewInt(p.CreatedAt),
		Executed:        p.Executed,
		Cancelled:       p.Cancelled,
		PendingClosed:   p.PendingClosed,
	}
}

func (s *storedPromise) toPromise() (*promise.Promise, error) {
	if s.Expiration == nil || !s.Expiration.IsInt64() {
		return nil, fmt.Errorf("state: promise %d expiration out of range", s.ID)
	}
	if s.CreatedAt == nil || !s.CreatedAt.IsInt64() {
		return nil, fmt.Errorf("state: promise %d creation time out of range", s.ID)
	}
	p := &promise.Promise{
		ID:              s.ID,
		Creator:         s.Creator,
		Joiner:          s.Joiner,
		CreatorAsset:    s.CreatorAsset,
		JoinerAsset:     s.JoinerAsset,
		CreatorAmount:   s.CreatorAmount,
		JoinerAmount:    s.JoinerAmount,
		CreatorDebt:     s.CreatorDebt,
		JoinerDebt:      s.JoinerDebt,
		CreatorPaidFull: s.CreatorPaidFull,
		JoinerPaidFull:  s.JoinerPaidFull,
		Expiration:      s.Expiration.Int64(),
		CreatedAt:       s.CreatedAt.Int64(),
		Executed:        s.Executed,
		Cancelled:       s.Cancelled,
		PendingClosed:   s.PendingClosed,
	}
	return promise.SanitizePromise(p)
}

// PromisePut validates and persists a promise record.
func (m *Manager) PromisePut(p *promise.Promise) error {
	sanitized, err := promise.SanitizePromise(p)
	if err != nil {
		return err
	}
	return m.putRLP(promiseRecordKey(sanitized.ID), newStoredPromise(sanitized))
}

// PromiseGet loads a promise record by identifier.
func (m *Manager) PromiseGet(id uint64) (*promise.Promise, bool) {
	stored := new(storedPromise)
	ok, err := m.getRLP(promiseRecordKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	p, err := stored.toPromise()
	if err != nil {
		return nil, false
	}
	return p, true
}

// PromiseNextID allocates the next promise identifier, starting at one.
func (m *Manager) PromiseNextID() (uint64, error) {
	key := ethcrypto.Keccak256(promiseCounterPrefix)
	var counter uint64
	if _, err := m.getRLP(key, &counter); err != nil {
		return 0, err
	}
	counter++
	if err := m.putRLP(key, counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// PromiseBalance returns the per-promise vault balance for the asset.
func (m *Manager) PromiseBalance(id uint64, asset string) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.getRLP(promiseVaultBalKey(id, asset), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// PromiseCredit increases the per-promise vault balance for the asset.
func (m *Manager) PromiseCredit(id uint64, asset string, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: invalid credit amount")
	}
	balance, err := m.PromiseBalance(id, asset)
	if err != nil {
		return err
	}
	return m.putRLP(promiseVaultBalKey(id, asset), new(big.Int).Add(balance, amt))
}

// PromiseDebit decreases the per-promise vault balance for the asset.
func (m *Manager) PromiseDebit(id uint64, asset string, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: invalid debit amount")
	}
	balance, err := m.PromiseBalance(id, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return fmt.Errorf("state: vault balance for promise %d below debit", id)
	}
	remaining := new(big.Int).Sub(balance, amt)
	key := promiseVaultBalKey(id, asset)
	if remaining.Sign() == 0 {
		err := m.db.Delete(key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return m.putRLP(key, remaining)
}

func (m *Manager) loadIDList(key []byte) ([]uint64, error) {
	var ids []uint64
	if _, err := m.getRLP(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) writeIDList(key []byte, ids []uint64) error {
	if len(ids) == 0 {
		err := m.db.Delete(key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return m.putRLP(key, ids)
}

// AccountPromises returns the identifiers of open promises the address
// participates in.
func (m *Manager) AccountPromises(addr [20]byte) ([]uint64, error) {
	return m.loadIDList(promiseAccountKey(addr))
}

// SetAccountPromises replaces an address's open-promise list.
func (m *Manager) SetAccountPromises(addr [20]byte, ids []uint64) error {
	return m.writeIDList(promiseAccountKey(addr), ids)
}

// JoinablePromises returns the identifiers of promises open to a joiner.
func (m *Manager) JoinablePromises() ([]uint64, error) {
	return m.loadIDList(ethcrypto.Keccak256(promiseJoinablePref))
}

// SetJoinablePromises replaces the joinable list.
func (m *Manager) SetJoinablePromises(ids []uint64) error {
	return m.writeIDList(ethcrypto.Keccak256(promiseJoinablePref), ids)
}

// JoinableBucket returns the joinable identifiers for an asset pair
// filed under a bucket start timestamp.
func (m *Manager) JoinableBucket(creatorAsset, joinerAsset string, bucket int64) ([]uint64, error) {
	return m.loadIDList(promiseBucketKey(creatorAsset, joinerAsset, bucket))
}

// SetJoinableBucket replaces a time-index bucket for an asset pair.
func (m *Manager) SetJoinableBucket(creatorAsset, joinerAsset string, bucket int64, ids []uint64) error {
	return m.writeIDList(promiseBucketKey(creatorAsset, joinerAsset, bucket), ids)
}

// PendingAdd marks a promise as carrying an unreleased pending amount.
func (m *Manager) PendingAdd(id uint64) error {
	return m.db.Put(promisePendingKey(id), []byte{1})
}

// PendingHas reports whether a promise still carries a pending amount.
func (m *Manager) PendingHas(id uint64) (bool, error) {
	_, err := m.db.Get(promisePendingKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PendingRemove clears the pending marker for a promise.
func (m *Manager) PendingRemove(id uint64) error {
	err := m.db.Delete(promisePendingKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	return err
}
