package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/alert"
	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tyler-smith/go-bip39"
)

const EnvPrefix = "XSWAP"

// ChainConfig describes one supported ledger.
type ChainConfig struct {
	Kind chain.Kind `json:"kind" mapstructure:"kind"`
	RPC  string     `json:"rpc" mapstructure:"rpc"`

	ChainID   uint64 `json:"chainId,omitempty" mapstructure:"chainId"`
	Factory   string `json:"factory,omitempty" mapstructure:"factory"`
	Resolver  string `json:"resolver,omitempty" mapstructure:"resolver"`
	FromBlock uint64 `json:"fromBlock,omitempty" mapstructure:"fromBlock"`

	Module     string `json:"module,omitempty" mapstructure:"module"`
	Ledger     string `json:"ledger,omitempty" mapstructure:"ledger"`
	CoinType   string `json:"coinType,omitempty" mapstructure:"coinType"`
	InitLedger bool   `json:"initLedger,omitempty" mapstructure:"initLedger"`

	// RequiresAuthorization puts the resolver behind the ledger allowlist.
	RequiresAuthorization bool `json:"requiresAuthorization,omitempty" mapstructure:"requiresAuthorization"`

	HashFunc string `json:"hashFunc,omitempty" mapstructure:"hashFunc"`
	Min      string `json:"min,omitempty" mapstructure:"min"`
	Max      string `json:"max,omitempty" mapstructure:"max"`
}

// Limits parses the configured amount bounds. Empty bounds are nil.
func (cc ChainConfig) Limits() (min, max *big.Int, err error) {
	parse := func(s string) (*big.Int, error) {
		if s == "" {
			return nil, nil
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		return v, nil
	}
	if min, err = parse(cc.Min); err != nil {
		return nil, nil, err
	}
	if max, err = parse(cc.Max); err != nil {
		return nil, nil, err
	}
	return min, max, nil
}

type Config struct {
	Mnemonic string `json:"mnemonic" mapstructure:"mnemonic"`
	Account  uint32 `json:"account" mapstructure:"account"`

	Chains map[string]ChainConfig `json:"chains" mapstructure:"chains"`

	DB     string       `json:"db,omitempty" mapstructure:"db"`
	Redis  string       `json:"redis,omitempty" mapstructure:"redis"`
	Sentry string       `json:"sentry,omitempty" mapstructure:"sentry"`
	Alerts alert.Config `json:"alerts" mapstructure:"alerts"`

	RPCServer   string `json:"rpcServer" mapstructure:"rpcServer"`
	RpcUserName string `json:"rpcUserName" mapstructure:"rpcUserName"`
	RpcPassword string `json:"rpcPassword" mapstructure:"rpcPassword"`
	NoTLS       bool   `json:"noTLS,omitempty" mapstructure:"noTLS"`
	JWTSecret   string `json:"jwtSecret,omitempty" mapstructure:"jwtSecret"`
	SiweDomain  string `json:"siweDomain,omitempty" mapstructure:"siweDomain"`

	PoolSize      int64         `json:"poolSize,omitempty" mapstructure:"poolSize"`
	Confirmations uint64        `json:"confirmations,omitempty" mapstructure:"confirmations"`
	PollInterval  time.Duration `json:"pollInterval,omitempty" mapstructure:"pollInterval"`
	DepositBps    uint64        `json:"depositBps,omitempty" mapstructure:"depositBps"`
	DepositFixed  string        `json:"depositFixed,omitempty" mapstructure:"depositFixed"`
}

var envKeys = []string{
	"mnemonic", "account", "db", "redis", "sentry",
	"rpcServer", "rpcUserName", "rpcPassword", "noTLS", "jwtSecret", "siweDomain",
	"poolSize", "confirmations", "pollInterval", "depositBps", "depositFixed",
	"alerts.slackWebhook", "alerts.discordWebhook",
}

// LoadConfig reads the config file at path, then applies a .env file and
// XSWAP_ prefixed environment variables on top. A mnemonic is generated and
// written back to the file when none is configured.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetDefault("rpcServer", "localhost:8080")
	v.SetDefault("poolSize", 64)
	v.SetDefault("confirmations", 1)
	v.SetDefault("pollInterval", "15s")
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Mnemonic == "" {
		mnemonic, err := NewMnemonic()
		if err != nil {
			return cfg, err
		}
		cfg.Mnemonic = mnemonic
		if err := UpdateConfig(path, func(file *Config) { file.Mnemonic = mnemonic }); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// UpdateConfig applies update to the config file only, leaving values that
// come from the environment out of it.
func UpdateConfig(path string, update func(*Config)) error {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	update(&cfg)

	data, err = json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func NewMnemonic() (string, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}
	color.Green("Generating new mnemonic:\n[ %v ]", mnemonic)
	return mnemonic, nil
}
