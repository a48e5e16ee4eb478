package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"promchain/core/types"
	"promchain/storage"
)

// Manager persists ledger and farming records in a key-value store.
// Keys are keccak hashes of typed prefixes, values are RLP encoded. It
// implements the state interfaces consumed by the promise and farm
// engines.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("account:")
	vaultPrefix   = []byte("promise:vault-address:")
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

// putRLP stores the RLP encoding of value under key.
func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// getRLP decodes the value stored under key into out, reporting whether
// a value existed.
func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

type balanceEntry struct {
	Asset  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []balanceEntry
}

func newStoredAccount(acc *types.Account) *storedAccount {
	if acc == nil {
		return &storedAccount{}
	}
	stored := &storedAccount{Nonce: acc.Nonce}
	assets := make([]string, 0, len(acc.Balances))
	for asset := range acc.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		amount := acc.Balances[asset]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		stored.Balances = append(stored.Balances, balanceEntry{Asset: asset, Amount: new(big.Int).Set(amount)})
	}
	return stored
}

func (s *storedAccount) toAccount() (*types.Account, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil account record")
	}
	acc := types.NewAccount()
	acc.Nonce = s.Nonce
	for _, entry := range s.Balances {
		if entry.Amount == nil {
			continue
		}
		if entry.Amount.Sign() < 0 {
			return nil, fmt.Errorf("state: negative balance for %s", entry.Asset)
		}
		acc.SetBalance(entry.Asset, entry.Amount)
	}
	return acc, nil
}

// GetAccount loads the account stored for the address. Unknown
// addresses yield an empty account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.getRLP(accountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	return stored.toAccount()
}

// PutAccount persists the account for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.putRLP(accountKey(addr), newStoredAccount(account))
}

// VaultAddress derives the deterministic module vault address holding
// escrowed deposits of the asset.
func (m *Manager) VaultAddress(asset string) ([20]byte, error) {
	if asset == "" {
		return [20]byte{}, fmt.Errorf("state: empty asset symbol")
	}
	buf := make([]byte, len(vaultPrefix)+len(asset))
	copy(buf, vaultPrefix)
	copy(buf[len(vaultPrefix):], asset)
	digest := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}
