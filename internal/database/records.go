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

	"github.com/shopspring/decimal"
)

// PutRecord upserts a payment record. The orchestrator is the single writer;
// the upsert only refreshes the mutable outcome columns.
func (s *Service) PutRecord(ctx context.Context, record *models.PaymentRecord) error {
	if record.LogicalPaymentId == "" {
		return fmt.Errorf("record requires a logical payment id")
	}

	resultsJson, err := json.Marshal(record.StrategyResults)
	if err != nil {
		return fmt.Errorf("failed to encode strategy results: %w", err)
	}
	transfersJson, err := json.Marshal(record.Transfers)
	if err != nil {
		return fmt.Errorf("failed to encode transfers: %w", err)
	}

	var executedAt interface{}
	if !record.ExecutedAt.IsZero() {
		executedAt = record.ExecutedAt
	}

	_, err = s.db.ExecContext(ctx, queryPutRecord,
		record.LogicalPaymentId, record.ExternalId, string(record.Status),
		record.WalletAddress, record.RiskProfile,
		record.AmountCharged.String(), record.DepositAmount.String(), record.Currency,
		string(resultsJson), string(transfersJson),
		record.CreatedAt, executedAt)
	if err != nil {
		return fmt.Errorf("failed to store payment record: %w", err)
	}
	return nil
}

func (s *Service) GetRecord(ctx context.Context, logicalPaymentId string) (*models.PaymentRecord, error) {
	row := s.db.QueryRowContext(ctx, queryGetRecord, logicalPaymentId)
	record, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, store.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payment record: %w", err)
	}
	return record, nil
}

func (s *Service) ListRecords(ctx context.Context, limit int) ([]models.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, queryListRecords, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment records: %w", err)
	}
	defer rows.Close()

	var records []models.PaymentRecord
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func scanRecord(scan func(dest ...interface{}) error) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	var status, amountCharged, depositAmount, resultsJson, transfersJson string
	var executedAt sql.NullTime

	err := scan(&record.LogicalPaymentId, &record.ExternalId, &status,
		&record.WalletAddress, &record.RiskProfile,
		&amountCharged, &depositAmount, &record.Currency,
		&resultsJson, &transfersJson,
		&record.CreatedAt, &executedAt)
	if err != nil {
		return nil, err
	}

	record.Status = models.PaymentStatus(status)
	if record.AmountCharged, err = decimal.NewFromString(amountCharged); err != nil {
		return nil, fmt.Errorf("failed to parse amount_charged '%s': %w", amountCharged, err)
	}
	if record.DepositAmount, err = decimal.NewFromString(depositAmount); err != nil {
		return nil, fmt.Errorf("failed to parse deposit_amount '%s': %w", depositAmount, err)
	}
	if err := json.Unmarshal([]byte(resultsJson), &record.StrategyResults); err != nil {
		return nil, fmt.Errorf("failed to decode strategy results: %w", err)
	}
	if err := json.Unmarshal([]byte(transfersJson), &record.Transfers); err != nil {
		return nil, fmt.Errorf("failed to decode transfers: %w", err)
	}
	if executedAt.Valid {
		record.ExecutedAt = executedAt.Time
	} else {
		record.ExecutedAt = time.Time{}
	}
	return &record, nil
}
