// Package config holds the syndicate configuration tree. Values are loaded
// from YAML with environment overrides applied in cmd; every tunable the
// core consumes is threaded through constructors from here — no globals.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Credit   CreditConfig   `yaml:"credit"`
	Risk     RiskConfig     `yaml:"risk"`
	Treasury TreasuryConfig `yaml:"treasury"`
	Clearing ClearingConfig `yaml:"clearing"`
	Commerce CommerceConfig `yaml:"commerce"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Events   EventsConfig   `yaml:"events"`
	Persist  PersistConfig  `yaml:"persist"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type CreditConfig struct {
	DefaultLimit float64 `yaml:"default_limit"`
	MinLimit     float64 `yaml:"min_limit"`
	MaxLimit     float64 `yaml:"max_limit"`
	Alpha        float64 `yaml:"alpha"` // multiplier in L' = L(1 + alpha*efficiency)
}

type RiskConfig struct {
	SuspiciousValueThreshold float64 `yaml:"suspicious_value_threshold"`
	HistorySize              int     `yaml:"history_size"`
}

type TreasuryConfig struct {
	AllocationPercent float64 `yaml:"allocation_percent"`
	YieldToken        string  `yaml:"yield_token"`
}

type ClearingConfig struct {
	MaxGasLimit uint64 `yaml:"max_gas_limit"`
	ChainID     uint64 `yaml:"chain_id"`
}

type CommerceConfig struct {
	MicropaymentThreshold float64       `yaml:"micropayment_threshold"`
	BatchTimeout          time.Duration `yaml:"batch_timeout"`
	ConsensusThreshold    float64       `yaml:"consensus_threshold"`
	BillingCycle          time.Duration `yaml:"billing_cycle"`
}

type ProtocolConfig struct {
	Deadline     time.Duration `yaml:"deadline"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

type EventsConfig struct {
	RedisAddr    string `yaml:"redis_addr"` // empty disables the Redis mirror
	RedisChannel string `yaml:"redis_channel"`
}

type PersistConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"` // empty uses the in-memory no-op persister
}

// Default returns the configuration with all spec defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Credit: CreditConfig{
			DefaultLimit: 100.0,
			MinLimit:     10.0,
			MaxLimit:     10_000.0,
			Alpha:        0.05,
		},
		Risk: RiskConfig{
			SuspiciousValueThreshold: 1000.0,
			HistorySize:              100,
		},
		Treasury: TreasuryConfig{
			AllocationPercent: 0.80,
			YieldToken:        "USDC",
		},
		Clearing: ClearingConfig{
			MaxGasLimit: 500_000,
			ChainID:     5042002,
		},
		Commerce: CommerceConfig{
			MicropaymentThreshold: 1.0,
			BatchTimeout:          5 * time.Minute,
			ConsensusThreshold:    0.66,
			BillingCycle:          24 * time.Hour,
		},
		Protocol: ProtocolConfig{
			Deadline:     30 * time.Second,
			StageTimeout: 10 * time.Second,
		},
		Events:  EventsConfig{RedisChannel: "syndicate.events"},
		Persist: PersistConfig{},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
