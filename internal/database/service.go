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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.CoordinationStore.
var _ store.CoordinationStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite coordination store", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Coordination store initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

// Ping verifies the store is reachable. Callers treat an error as "cannot
// verify idempotency" and block the operation.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) initSchema() error {
	schema := `
	-- Advisory processing locks, one per logical payment
	CREATE TABLE IF NOT EXISTS processing_locks (
		logical_payment_id TEXT PRIMARY KEY,
		holder_token TEXT NOT NULL,
		acquired_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_locks_expires ON processing_locks(expires_at);

	-- Terminal processed markers; redeliveries short-circuit against these
	CREATE TABLE IF NOT EXISTS processed_payments (
		logical_payment_id TEXT PRIMARY KEY,
		record_json TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processed_expires ON processed_payments(expires_at);

	-- Durable payment records (append-only audit trail, never deleted)
	CREATE TABLE IF NOT EXISTS payment_records (
		logical_payment_id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		status TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		risk_profile TEXT NOT NULL,
		amount_charged TEXT NOT NULL,
		deposit_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		results_json TEXT NOT NULL,
		transfers_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		executed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_records_external ON payment_records(external_id);
	CREATE INDEX IF NOT EXISTS idx_records_created ON payment_records(created_at);

	-- One-shot transfer guards, one per (logical payment, transfer kind)
	CREATE TABLE IF NOT EXISTS transfer_guards (
		logical_payment_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		sent INTEGER NOT NULL DEFAULT 1,
		tx_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (logical_payment_id, kind)
	);

	-- Processor payment id -> logical payment id associations
	CREATE TABLE IF NOT EXISTS note_mappings (
		external_id TEXT PRIMARY KEY,
		logical_payment_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
