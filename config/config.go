package config

import (
	"errors"
	"fmt"
	"go-storefront/payment/chain"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Config struct {
	Log         Log
	HTTP        HTTPServer
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	WebHost     string `env:"WEB_HOST" envDefault:"localhost:8080"`

	Wallet   Wallet   `envPrefix:"WALLET_"`
	Chain    Chain
	Payment  Payment
	SMTP     SMTP     `envPrefix:"SMTP_"`
	Paystack Paystack `envPrefix:"PAYSTACK_"`
	SeerBit  SeerBit  `envPrefix:"SEERBIT_"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

// Wallet holds the master derivation secret. Every payment address is a pure
// function of this value; if it leaks, every derived key leaks with it, and if
// it is lost, funds still sitting on derived addresses can no longer be swept.
type Wallet struct {
	MasterSecret    string `env:"MASTER_SECRET"`
	TreasuryAddress string `env:"TREASURY_ADDRESS"`
}

type Chain struct {
	ActiveNetwork  string `env:"ACTIVE_NETWORK" envDefault:"base"`
	RPCURL         string `env:"RPC_URL"`
	AlchemyAPIKey  string `env:"ALCHEMY_API_KEY"`
	LookbackBlocks uint64 `env:"TX_LOOKBACK_BLOCKS" envDefault:"2000"`
}

type Payment struct {
	RequiredConfirmations int             `env:"REQUIRED_CONFIRMATIONS" envDefault:"3"`
	Window                time.Duration   `env:"PAYMENT_WINDOW" envDefault:"30m"`
	VerifyInterval        time.Duration   `env:"VERIFY_INTERVAL" envDefault:"30s"`
	SweepInterval         time.Duration   `env:"SWEEP_INTERVAL" envDefault:"3m"`
	Concurrency           int             `env:"SCHEDULER_CONCURRENCY" envDefault:"4"`
	ReferralBonus         decimal.Decimal `env:"REFERRAL_BONUS" envDefault:"500"`
	DeliveryFee           decimal.Decimal `env:"DELIVERY_FEE" envDefault:"0"`
}

type SMTP struct {
	Server   string `env:"SERVER"`
	Port     string `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Pass     string `env:"PASS"`
	FromAddr string `env:"FROM_ADDR"`
	FromName string `env:"FROM_NAME" envDefault:"Storefront"`
}

type Paystack struct {
	SecretKey string `env:"SECRET_KEY"`
}

type SeerBit struct {
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would silently lose funds.
func (c *Config) Validate() error {
	var errs []error
	if c.Wallet.MasterSecret == "" {
		errs = append(errs, errors.New("WALLET_MASTER_SECRET is required"))
	}
	if c.Wallet.TreasuryAddress == "" {
		errs = append(errs, errors.New("WALLET_TREASURY_ADDRESS is required"))
	} else if !common.IsHexAddress(c.Wallet.TreasuryAddress) {
		errs = append(errs, fmt.Errorf("WALLET_TREASURY_ADDRESS %q is not a valid address", c.Wallet.TreasuryAddress))
	}
	if _, err := chain.LookupNetwork(c.Chain.ActiveNetwork); err != nil {
		errs = append(errs, fmt.Errorf("ACTIVE_NETWORK: %w", err))
	}
	if c.Payment.RequiredConfirmations < 0 {
		errs = append(errs, errors.New("REQUIRED_CONFIRMATIONS must not be negative"))
	}
	if c.Payment.VerifyInterval <= 0 || c.Payment.SweepInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	return errors.Join(errs...)
}

// Treasury returns the sweep destination. Call Validate first.
func (c *Config) Treasury() common.Address {
	return common.HexToAddress(c.Wallet.TreasuryAddress)
}
