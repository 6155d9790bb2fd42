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
	"encoding/json"
	"fmt"
	"time"

	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/store"

	"go.uber.org/zap"
)

// AcquireLock attempts an atomic compare-and-set on the processing lock.
func (s *Service) AcquireLock(ctx context.Context, params store.AcquireLockParams) (bool, error) {
	if params.LogicalPaymentId == "" || params.HolderToken == "" {
		return false, fmt.Errorf("logical payment id and holder token are required")
	}
	if params.Ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %v", params.Ttl)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, queryAcquireLock,
		params.LogicalPaymentId, params.HolderToken, now, now.Add(params.Ttl))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		zap.L().Debug("Lock held by another invocation",
			zap.String("logical_payment_id", params.LogicalPaymentId))
		return false, nil
	}

	return true, nil
}

// ReleaseLock removes the lock when owned by holderToken. Releasing a lock
// that no longer exists, or is owned by someone else, is not an error: a
// crashed holder's lock may already have been stolen.
func (s *Service) ReleaseLock(ctx context.Context, logicalPaymentId, holderToken string) error {
	result, err := s.db.ExecContext(ctx, queryReleaseLock, logicalPaymentId, holderToken)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		zap.L().Debug("Release found no owned lock",
			zap.String("logical_payment_id", logicalPaymentId))
	}
	return nil
}

// GetProcessed returns the cached terminal record for a logical payment, if
// one was recorded and has not expired.
func (s *Service) GetProcessed(ctx context.Context, logicalPaymentId string) (*models.PaymentRecord, bool, error) {
	var recordJson string
	err := s.db.QueryRowContext(ctx, queryGetProcessed, logicalPaymentId, time.Now().UTC()).Scan(&recordJson)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read processed marker: %w", err)
	}

	var record models.PaymentRecord
	if err := json.Unmarshal([]byte(recordJson), &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached record: %w", err)
	}
	return &record, true, nil
}

// MarkProcessed stores the terminal result so redeliveries short-circuit.
// Callers must only invoke this after all side effects have completed.
func (s *Service) MarkProcessed(ctx context.Context, record *models.PaymentRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("processed ttl must be positive, got %v", ttl)
	}

	recordJson, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryMarkProcessed,
		record.LogicalPaymentId, string(recordJson), time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// ClaimTransferGuard atomically claims a (logical payment, kind) pair.
// claimed=false means another invocation got there first; the existing guard
// is returned so the caller can report the prior transfer.
func (s *Service) ClaimTransferGuard(ctx context.Context, logicalPaymentId string, kind models.TransferKind) (bool, *models.TransferGuard, error) {
	result, err := s.db.ExecContext(ctx, queryClaimGuard, logicalPaymentId, string(kind), time.Now().UTC())
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim transfer guard: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return true, nil, nil
	}

	guard, err := s.getTransferGuard(ctx, logicalPaymentId, kind)
	if err != nil {
		return false, nil, err
	}
	return false, guard, nil
}

func (s *Service) getTransferGuard(ctx context.Context, logicalPaymentId string, kind models.TransferKind) (*models.TransferGuard, error) {
	var guard models.TransferGuard
	var kindStr string
	err := s.db.QueryRowContext(ctx, queryGetGuard, logicalPaymentId, string(kind)).
		Scan(&guard.LogicalPaymentId, &kindStr, &guard.Sent, &guard.TxRef, &guard.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer guard: %w", err)
	}
	guard.Kind = models.TransferKind(kindStr)
	return &guard, nil
}

// SetTransferTxRef records the submitted transaction reference on a guard.
func (s *Service) SetTransferTxRef(ctx context.Context, logicalPaymentId string, kind models.TransferKind, txRef string) error {
	_, err := s.db.ExecContext(ctx, querySetGuardTxRef, txRef, logicalPaymentId, string(kind))
	if err != nil {
		return fmt.Errorf("failed to set transfer tx ref: %w", err)
	}
	return nil
}

// ReleaseTransferGuard removes a claim whose submission failed outright.
func (s *Service) ReleaseTransferGuard(ctx context.Context, logicalPaymentId string, kind models.TransferKind) error {
	_, err := s.db.ExecContext(ctx, queryReleaseGuard, logicalPaymentId, string(kind))
	if err != nil {
		return fmt.Errorf("failed to release transfer guard: %w", err)
	}
	return nil
}

// StoreNoteMapping records the processor payment id -> logical payment id
// association. First write wins; repeats are ignored.
func (s *Service) StoreNoteMapping(ctx context.Context, externalId, logicalPaymentId string) error {
	_, err := s.db.ExecContext(ctx, queryStoreNoteMapping, externalId, logicalPaymentId, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store note mapping: %w", err)
	}
	return nil
}

func (s *Service) LookupNoteMapping(ctx context.Context, externalId string) (string, error) {
	var logicalPaymentId string
	err := s.db.QueryRowContext(ctx, queryLookupNoteMapping, externalId).Scan(&logicalPaymentId)
	if err == sql.ErrNoRows {
		return "", store.ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up note mapping: %w", err)
	}
	return logicalPaymentId, nil
}

// PurgeExpired removes expired locks and processed markers. Payment records
// are retained as the permanent audit trail.
func (s *Service) PurgeExpired(ctx context.Context) error {
	now := time.Now().UTC()

	lockResult, err := s.db.ExecContext(ctx, queryPurgeExpiredLocks, now)
	if err != nil {
		return fmt.Errorf("failed to purge expired locks: %w", err)
	}
	processedResult, err := s.db.ExecContext(ctx, queryPurgeExpiredProcessed, now)
	if err != nil {
		return fmt.Errorf("failed to purge expired processed markers: %w", err)
	}

	locks, _ := lockResult.RowsAffected()
	processed, _ := processedResult.RowsAffected()
	if locks > 0 || processed > 0 {
		zap.L().Info("Purged expired coordination rows",
			zap.Int64("locks", locks),
			zap.Int64("processed_markers", processed))
	}
	return nil
}
