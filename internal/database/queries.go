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

const (
	// Lock queries. The upsert only fires when the existing lock has expired,
	// which makes acquisition and expired-lock stealing one atomic statement.
	queryAcquireLock = `
		INSERT INTO processing_locks (logical_payment_id, holder_token, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(logical_payment_id) DO UPDATE SET
			holder_token = excluded.holder_token,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE processing_locks.expires_at <= excluded.acquired_at`

	queryReleaseLock = `
		DELETE FROM processing_locks
		WHERE logical_payment_id = ? AND holder_token = ?`

	// Processed marker queries
	queryMarkProcessed = `
		INSERT INTO processed_payments (logical_payment_id, record_json, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(logical_payment_id) DO UPDATE SET
			record_json = excluded.record_json,
			expires_at = excluded.expires_at`

	queryGetProcessed = `
		SELECT record_json
		FROM processed_payments
		WHERE logical_payment_id = ? AND expires_at > ?`

	// Record queries
	queryPutRecord = `
		INSERT INTO payment_records (
			logical_payment_id, external_id, status, wallet_address, risk_profile,
			amount_charged, deposit_amount, currency, results_json, transfers_json,
			created_at, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(logical_payment_id) DO UPDATE SET
			status = excluded.status,
			results_json = excluded.results_json,
			transfers_json = excluded.transfers_json,
			executed_at = excluded.executed_at`

	queryGetRecord = `
		SELECT logical_payment_id, external_id, status, wallet_address, risk_profile,
		       amount_charged, deposit_amount, currency, results_json, transfers_json,
		       created_at, executed_at
		FROM payment_records
		WHERE logical_payment_id = ?`

	queryListRecords = `
		SELECT logical_payment_id, external_id, status, wallet_address, risk_profile,
		       amount_charged, deposit_amount, currency, results_json, transfers_json,
		       created_at, executed_at
		FROM payment_records
		ORDER BY created_at DESC
		LIMIT ?`

	// Transfer guard queries
	queryClaimGuard = `
		INSERT INTO transfer_guards (logical_payment_id, kind, sent, tx_ref, created_at)
		VALUES (?, ?, 1, '', ?)
		ON CONFLICT(logical_payment_id, kind) DO NOTHING`

	queryGetGuard = `
		SELECT logical_payment_id, kind, sent, tx_ref, created_at
		FROM transfer_guards
		WHERE logical_payment_id = ? AND kind = ?`

	querySetGuardTxRef = `
		UPDATE transfer_guards SET tx_ref = ?
		WHERE logical_payment_id = ? AND kind = ?`

	queryReleaseGuard = `
		DELETE FROM transfer_guards
		WHERE logical_payment_id = ? AND kind = ?`

	// Note mapping queries
	queryStoreNoteMapping = `
		INSERT OR IGNORE INTO note_mappings (external_id, logical_payment_id, created_at)
		VALUES (?, ?, ?)`

	queryLookupNoteMapping = `
		SELECT logical_payment_id FROM note_mappings WHERE external_id = ?`

	// Cleanup queries. Payment records are never deleted.
	queryPurgeExpiredLocks = `
		DELETE FROM processing_locks WHERE expires_at <= ?`

	queryPurgeExpiredProcessed = `
		DELETE FROM processed_payments WHERE expires_at <= ?`
)
