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

// StrategyKind identifies one of the yield strategies a cleared payment
// can be allocated to.
type StrategyKind string

const (
	StrategyLendingSupply     StrategyKind = "lending_supply"
	StrategyLeveragedPosition StrategyKind = "leveraged_position"
	StrategyVaultDeposit      StrategyKind = "vault_deposit"
)

// StrategyKinds lists all strategies in their execution order.
var StrategyKinds = []StrategyKind{
	StrategyLendingSupply,
	StrategyLeveragedPosition,
	StrategyVaultDeposit,
}

// TransferKind identifies a one-shot transfer guarded per logical payment.
type TransferKind string

const (
	TransferGasAsset     TransferKind = "gas_asset"
	TransferLoyaltyToken TransferKind = "loyalty_token"
)

// FallbackTransferKind returns the guard kind used when a failed strategy
// is substituted by a direct transfer of the allocated amount.
func FallbackTransferKind(strategy StrategyKind) TransferKind {
	return TransferKind("fallback_" + string(strategy))
}

// PaymentStatus is the terminal status of a PaymentRecord.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentActive  PaymentStatus = "active"
	PaymentFailed  PaymentStatus = "failed"
)

// StrategyResult records the outcome of a single strategy execution.
type StrategyResult struct {
	Success bool            `json:"success"`
	Amount  decimal.Decimal `json:"amount"`
	TxRef   string          `json:"tx_ref,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// TransferResult records the outcome of a guarded one-shot transfer.
type TransferResult struct {
	Success bool            `json:"success"`
	Skipped bool            `json:"skipped,omitempty"` // another invocation already claimed the guard
	Amount  decimal.Decimal `json:"amount"`
	TxRef   string          `json:"tx_ref,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AllocationPlan is the validated per-strategy split of a deposit amount.
// It is derived per delivery and never persisted on its own.
type AllocationPlan struct {
	DepositAmount decimal.Decimal
	PerStrategy   map[StrategyKind]decimal.Decimal
	// GasFeeUnits is the flat gas-asset fee (in gas-asset units) the charged
	// total included; it doubles as the stipend forwarded to the wallet.
	GasFeeUnits decimal.Decimal
}

// PaymentRecord is the durable, append-only outcome of a logical payment.
// Only the lock holder may mutate it.
type PaymentRecord struct {
	LogicalPaymentId string                          `json:"logical_payment_id"`
	ExternalId       string                          `json:"external_id"`
	Status           PaymentStatus                   `json:"status"`
	WalletAddress    string                          `json:"wallet_address"`
	RiskProfile      string                          `json:"risk_profile"`
	AmountCharged    decimal.Decimal                 `json:"amount_charged"`
	DepositAmount    decimal.Decimal                 `json:"deposit_amount"`
	Currency         string                          `json:"currency"`
	StrategyResults  map[StrategyKind]StrategyResult `json:"strategy_results"`
	Transfers        map[TransferKind]TransferResult `json:"transfers"`
	CreatedAt        time.Time                       `json:"created_at"`
	ExecutedAt       time.Time                       `json:"executed_at"`
}

// HasUsableEffect reports whether at least one strategy produced an on-chain
// effect (including a fallback substitution). A record without one must not
// be marked processed, so a later redelivery can retry.
func (r *PaymentRecord) HasUsableEffect() bool {
	for _, res := range r.StrategyResults {
		if res.Success {
			return true
		}
	}
	return false
}

// ProcessingLock is the advisory mutual-exclusion row for a logical payment.
type ProcessingLock struct {
	LogicalPaymentId string
	HolderToken      string
	AcquiredAt       time.Time
	ExpiresAt        time.Time
}

// TransferGuard is the check-then-set row preventing a double transfer for
// one (logical payment, transfer kind) pair.
type TransferGuard struct {
	LogicalPaymentId string
	Kind             TransferKind
	Sent             bool
	TxRef            string
	CreatedAt        time.Time
}
