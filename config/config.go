package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`
	FeeTreasury    string `toml:"FeeTreasury"`
	FeeBps         uint32 `toml:"FeeBps"`
	RewardAsset    string `toml:"RewardAsset"`
	RewardPerBlock string `toml:"RewardPerBlock"`
	StartBlock     uint64 `toml:"StartBlock"`
	EndBlock       uint64 `toml:"EndBlock"`
	RewardHolder   string `toml:"RewardHolder"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./prom-data"
	}
	if strings.TrimSpace(cfg.RewardAsset) == "" {
		cfg.RewardAsset = "PROM"
	}
	if strings.TrimSpace(cfg.RewardPerBlock) == "" {
		cfg.RewardPerBlock = "0"
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FeeBps > 10_000 {
		return fmt.Errorf("FeeBps must not exceed 10000")
	}
	treasury, err := c.FeeTreasuryAddress()
	if err != nil {
		return err
	}
	if treasury == ([20]byte{}) {
		return fmt.Errorf("FeeTreasury must be a non-zero address")
	}
	holder, err := c.RewardHolderAddress()
	if err != nil {
		return err
	}
	emission, err := c.RewardPerBlockAmount()
	if err != nil {
		return err
	}
	if emission.Sign() > 0 && holder == ([20]byte{}) {
		return fmt.Errorf("RewardHolder must be a non-zero address when RewardPerBlock is positive")
	}
	if c.EndBlock != 0 && c.EndBlock < c.StartBlock {
		return fmt.Errorf("EndBlock precedes StartBlock")
	}
	return nil
}

// FeeTreasuryAddress decodes the configured fee treasury address.
func (c *Config) FeeTreasuryAddress() ([20]byte, error) {
	return parseAddress(c.FeeTreasury, "FeeTreasury")
}

// RewardHolderAddress decodes the account funding farming rewards.
func (c *Config) RewardHolderAddress() ([20]byte, error) {
	return parseAddress(c.RewardHolder, "RewardHolder")
}

// RewardPerBlockAmount parses the per-block reward emission.
func (c *Config) RewardPerBlockAmount() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.RewardPerBlock)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("RewardPerBlock must be a non-negative integer")
	}
	return amount, nil
}

func parseAddress(value, field string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return addr, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("%s is not valid hex: %w", field, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("%s must be a 20 byte address", field)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// createDefault creates and saves a default configuration file. The
// treasury and holder accounts are minted fresh so the generated file
// passes validation and the node can boot without manual edits.
func createDefault(path string) (*Config, error) {
	treasury, err := randomAddress()
	if err != nil {
		return nil, err
	}
	holder, err := randomAddress()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		ListenAddress:  ":8080",
		DataDir:        "./prom-data",
		Environment:    "local",
		FeeTreasury:    treasury,
		FeeBps:         50,
		RewardAsset:    "PROM",
		RewardPerBlock: "0",
		StartBlock:     0,
		EndBlock:       0,
		RewardHolder:   holder,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func randomAddress() (string, error) {
	var addr [20]byte
	if _, err := rand.Read(addr[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(addr[:]), nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
