/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is the process-wide configuration, loaded from the environment.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Webhook  WebhookConfig
	Clearing ClearingConfig
	Chain    ChainConfig
	Transfer TransferConfig
	Custody  CustodyConfig
	Ledger   LedgerConfig
}

// DatabaseConfig holds SQLite coordination store settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CleanupInterval time.Duration
}

// WebhookConfig holds inbound notification authentication settings
type WebhookConfig struct {
	SignatureKey    string // shared HMAC secret; empty means refuse all traffic
	NotificationURL string // the literal URL registered with the processor
	MaxBodyBytes    int64
}

// ClearingConfig holds orchestrator policy knobs
type ClearingConfig struct {
	ProfilesFile      string
	LockTtl           time.Duration
	LockRetries       int
	LockRetryInterval time.Duration
	ProcessedTtl      time.Duration
	MinPayment        decimal.Decimal
	MaxPayment        decimal.Decimal
}

// ChainConfig holds custodial signer, oracle, and venue settings
type ChainConfig struct {
	SignerURL        string
	SignerAPIKey     string
	OracleURL        string
	CustodialAddress string
	AssetsFile       string
	GasAssetSymbol   string
	DepositAsset     string
	LoyaltyToken     string
	LendingPool      string
	PerpRouter       string
	PerpMarket       string
	Vault            string
	RequestTimeout   time.Duration
	ConfirmWait      time.Duration
}

// TransferConfig selects and tunes the custodial transfer backend
type TransferConfig struct {
	Backend string // "chain" or "prime"
}

// CustodyConfig holds Coinbase Prime settings for the prime transfer backend
type CustodyConfig struct {
	PortfolioId string
}

// LedgerConfig holds Formance audit ledger settings; an empty StackURL
// disables the mirror entirely.
type LedgerConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// AssetConfig describes one transferable asset on the chain.
type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
	Native   bool   `yaml:"native"`
}
