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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	readTimeout, err := getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	writeTimeout, err := getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvDuration("CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	// Lock TTL is minutes, not seconds: it must exceed the worst-case total
	// processing latency including every external call, or a slow-but-alive
	// holder loses its lock to a second concurrent invocation.
	lockTtl, err := getEnvDuration("CLEARING_LOCK_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	lockRetryInterval, err := getEnvDuration("CLEARING_LOCK_RETRY_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}

	processedTtl, err := getEnvDuration("CLEARING_PROCESSED_TTL", 48*time.Hour)
	if err != nil {
		return nil, err
	}
	if processedTtl < 24*time.Hour {
		return nil, fmt.Errorf("CLEARING_PROCESSED_TTL must be at least 24h, got %v", processedTtl)
	}

	requestTimeout, err := getEnvDuration("CHAIN_REQUEST_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}

	confirmWait, err := getEnvDuration("CHAIN_CONFIRM_WAIT", 8*time.Second)
	if err != nil {
		return nil, err
	}

	minPayment, err := getEnvDecimal("CLEARING_MIN_PAYMENT", "0.01")
	if err != nil {
		return nil, err
	}

	maxPayment, err := getEnvDecimal("CLEARING_MAX_PAYMENT", "10000")
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "clearing.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			CleanupInterval: cleanupInterval,
		},
		Webhook: models.WebhookConfig{
			SignatureKey:    getEnvString("WEBHOOK_SIGNATURE_KEY", ""),
			NotificationURL: getEnvString("WEBHOOK_NOTIFICATION_URL", ""),
			MaxBodyBytes:    int64(getEnvInt("WEBHOOK_MAX_BODY_BYTES", 10*1024)),
		},
		Clearing: models.ClearingConfig{
			ProfilesFile:      getEnvString("PROFILES_FILE", "profiles.yaml"),
			LockTtl:           lockTtl,
			LockRetries:       getEnvInt("CLEARING_LOCK_RETRIES", 3),
			LockRetryInterval: lockRetryInterval,
			ProcessedTtl:      processedTtl,
			MinPayment:        minPayment,
			MaxPayment:        maxPayment,
		},
		Chain: models.ChainConfig{
			SignerURL:        getEnvString("SIGNER_URL", ""),
			SignerAPIKey:     getEnvString("SIGNER_API_KEY", ""),
			OracleURL:        getEnvString("ORACLE_URL", ""),
			CustodialAddress: getEnvString("CUSTODIAL_ADDRESS", ""),
			AssetsFile:       getEnvString("ASSETS_FILE", "assets.yaml"),
			GasAssetSymbol:   getEnvString("GAS_ASSET_SYMBOL", "AVAX"),
			DepositAsset:     getEnvString("DEPOSIT_ASSET", "USDC"),
			LoyaltyToken:     getEnvString("LOYALTY_TOKEN", "ERGC"),
			LendingPool:      getEnvString("LENDING_POOL_ADDRESS", ""),
			PerpRouter:       getEnvString("PERP_ROUTER_ADDRESS", ""),
			PerpMarket:       getEnvString("PERP_MARKET", "AVAX-USD"),
			Vault:            getEnvString("VAULT_ADDRESS", ""),
			RequestTimeout:   requestTimeout,
			ConfirmWait:      confirmWait,
		},
		Transfer: models.TransferConfig{
			Backend: getEnvString("TRANSFER_BACKEND", "chain"),
		},
		Custody: models.CustodyConfig{
			PortfolioId: getEnvString("PRIME_PORTFOLIO_ID", ""),
		},
		Ledger: models.LedgerConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "tiltvault-clearing"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
	}
	return d, nil
}
