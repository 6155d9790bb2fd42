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

// Package transfer performs guarded asset transfers to user wallets. Each
// (logical payment, transfer kind) pair is claimed in the coordination store
// before the asset moves, so a redelivered webhook can never double-send.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tiltvault-clearing-go/internal/chain"
	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/notes"
	"tiltvault-clearing-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sender moves an asset amount to a destination address and returns a
// transaction reference.
type Sender interface {
	SendAsset(ctx context.Context, assetSymbol, toAddress string, amount decimal.Decimal, reference string) (string, error)
}

// Coordinator wraps a Sender with per-payment one-shot guards.
type Coordinator struct {
	store            store.CoordinationStore
	sender           Sender
	custodialAddress string
}

func NewCoordinator(st store.CoordinationStore, sender Sender, custodialAddress string) *Coordinator {
	return &Coordinator{
		store:            st,
		sender:           sender,
		custodialAddress: custodialAddress,
	}
}

// EnsureTransferred sends amount of assetSymbol to toAddress exactly once
// per (logicalPaymentId, kind). The returned result is always recordable:
// a prior claim yields Skipped, an invalid destination or send failure
// yields Success=false with the reason in Error.
func (c *Coordinator) EnsureTransferred(ctx context.Context, logicalPaymentId string, kind models.TransferKind, assetSymbol, toAddress string, amount decimal.Decimal) models.TransferResult {
	if !amount.IsPositive() {
		return models.TransferResult{Skipped: true}
	}

	if err := c.validateDestination(toAddress); err != nil {
		zap.L().Warn("Transfer destination rejected",
			zap.String("logical_payment_id", logicalPaymentId),
			zap.String("kind", string(kind)),
			zap.String("to", toAddress),
			zap.Error(err))
		return models.TransferResult{Success: false, Amount: amount, Error: err.Error()}
	}

	claimed, existing, err := c.store.ClaimTransferGuard(ctx, logicalPaymentId, kind)
	if err != nil {
		return models.TransferResult{Success: false, Amount: amount, Error: fmt.Sprintf("guard claim failed: %v", err)}
	}
	if !claimed {
		txRef := ""
		if existing != nil {
			txRef = existing.TxRef
		}
		zap.L().Info("Transfer already claimed, skipping",
			zap.String("logical_payment_id", logicalPaymentId),
			zap.String("kind", string(kind)),
			zap.String("tx_ref", txRef))
		return models.TransferResult{Success: true, Skipped: true, Amount: amount, TxRef: txRef}
	}

	reference := logicalPaymentId + "-" + string(kind)
	txRef, err := c.sender.SendAsset(ctx, assetSymbol, toAddress, amount, reference)
	if err != nil {
		// Only a submission that provably never reached the network may
		// release the guard for a later redelivery. A timeout or transport
		// failure may have broadcast the transaction, so the claim stays
		// and the redelivery skips rather than double-sends.
		if submissionAmbiguous(err) {
			zap.L().Warn("Send failed with unknown submission state, keeping transfer claim",
				zap.String("logical_payment_id", logicalPaymentId),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return models.TransferResult{Success: false, Amount: amount, Error: err.Error()}
		}
		if releaseErr := c.store.ReleaseTransferGuard(ctx, logicalPaymentId, kind); releaseErr != nil {
			zap.L().Error("Failed to release transfer guard",
				zap.String("logical_payment_id", logicalPaymentId),
				zap.String("kind", string(kind)),
				zap.Error(releaseErr))
		}
		return models.TransferResult{Success: false, Amount: amount, Error: err.Error()}
	}

	if err := c.store.SetTransferTxRef(ctx, logicalPaymentId, kind, txRef); err != nil {
		zap.L().Error("Failed to record transfer tx ref",
			zap.String("logical_payment_id", logicalPaymentId),
			zap.String("kind", string(kind)),
			zap.String("tx_ref", txRef),
			zap.Error(err))
	}

	zap.L().Info("Transfer sent",
		zap.String("logical_payment_id", logicalPaymentId),
		zap.String("kind", string(kind)),
		zap.String("asset", assetSymbol),
		zap.String("amount", amount.String()),
		zap.String("tx_ref", txRef))

	return models.TransferResult{Success: true, Amount: amount, TxRef: txRef}
}

// submissionAmbiguous reports whether a failed send may still have reached
// the network. Only a permanent venue rejection proves the transaction was
// never submitted; everything else is treated as possibly landed.
func submissionAmbiguous(err error) bool {
	return !errors.Is(err, chain.ErrPermanent)
}

func (c *Coordinator) validateDestination(toAddress string) error {
	if !notes.IsWalletAddress(toAddress) {
		return fmt.Errorf("destination %q is not a valid wallet address", toAddress)
	}
	if strings.EqualFold(toAddress, c.custodialAddress) {
		return fmt.Errorf("refusing transfer to the custodial address itself")
	}
	return nil
}
