package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"poolgov/crypto"
	"poolgov/native/votes"
)

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	LogFile        string `toml:"LogFile"`

	DomainName    string `toml:"DomainName"`
	DomainVersion string `toml:"DomainVersion"`

	PoolAddress      string `toml:"PoolAddress"`
	CollectorAddress string `toml:"CollectorAddress"`
	TokenAddress     string `toml:"TokenAddress"`
	NFTAddress       string `toml:"NFTAddress"`

	ThresholdPct   uint64 `toml:"ThresholdPct"`
	ExpirationSecs uint64 `toml:"ExpirationSecs"`
	ActivationTime uint64 `toml:"ActivationTime"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8646"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.DomainName) == "" {
		c.DomainName = "poolgov"
	}
	if strings.TrimSpace(c.DomainVersion) == "" {
		c.DomainVersion = "1"
	}
	if c.ThresholdPct == 0 {
		c.ThresholdPct = votes.DefaultThresholdPct
	}
	if c.ExpirationSecs == 0 {
		c.ExpirationSecs = votes.DefaultExpirationSecs
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.ThresholdPct > 100 {
		return fmt.Errorf("config: ThresholdPct must be within 1..100 (got %d)", c.ThresholdPct)
	}
	for name, value := range map[string]string{
		"PoolAddress":      c.PoolAddress,
		"CollectorAddress": c.CollectorAddress,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: %s is required", name)
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	for name, value := range map[string]string{
		"TokenAddress": c.TokenAddress,
		"NFTAddress":   c.NFTAddress,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// EngineConfig translates the file values into the engine's construction
// configuration.
func (c *Config) EngineConfig() (votes.Config, error) {
	pool, err := crypto.DecodeAddress(c.PoolAddress)
	if err != nil {
		return votes.Config{}, fmt.Errorf("config: PoolAddress: %w", err)
	}
	collector, err := crypto.DecodeAddress(c.CollectorAddress)
	if err != nil {
		return votes.Config{}, fmt.Errorf("config: CollectorAddress: %w", err)
	}
	cfg := votes.Config{
		DomainName:     c.DomainName,
		DomainVersion:  c.DomainVersion,
		Pool:           pool,
		Collector:      collector,
		ThresholdPct:   c.ThresholdPct,
		ExpirationSecs: c.ExpirationSecs,
		ActivationTime: c.ActivationTime,
	}
	if strings.TrimSpace(c.TokenAddress) != "" {
		if cfg.Token, err = crypto.DecodeAddress(c.TokenAddress); err != nil {
			return votes.Config{}, fmt.Errorf("config: TokenAddress: %w", err)
		}
	}
	if strings.TrimSpace(c.NFTAddress) != "" {
		if cfg.NFT, err = crypto.DecodeAddress(c.NFTAddress); err != nil {
			return votes.Config{}, fmt.Errorf("config: NFTAddress: %w", err)
		}
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	pool, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	collector, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		PoolAddress:      pool.PubKey().Address().String(),
		CollectorAddress: collector.PubKey().Address().String(),
	}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
