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

package strategy

import (
	"context"
	"fmt"

	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	vaultMinAmount = decimal.RequireFromString("0.01")

	// Shares received must be at least 99% of the previewed amount.
	slippageTolerance = decimal.RequireFromString("0.99")
)

// VaultExecutor deposits the allocated slice into the vault and verifies
// the minted shares against the pre-deposit quote.
type VaultExecutor struct {
	vault Vault
}

func NewVaultExecutor(vault Vault) *VaultExecutor {
	return &VaultExecutor{vault: vault}
}

func (e *VaultExecutor) Kind() models.StrategyKind {
	return models.StrategyVaultDeposit
}

func (e *VaultExecutor) MinAmount() decimal.Decimal {
	return vaultMinAmount
}

func (e *VaultExecutor) Execute(ctx context.Context, amount decimal.Decimal, walletAddress string) (models.StrategyResult, error) {
	if amount.LessThan(e.MinAmount()) {
		return models.StrategyResult{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, e.MinAmount())
	}

	expectedShares, err := e.vault.PreviewDeposit(ctx, amount)
	if err != nil {
		if IsTransient(err) {
			return models.StrategyResult{}, err
		}
		return models.StrategyResult{Success: false, Amount: amount, Error: err.Error()}, nil
	}

	txRef, actualShares, err := e.vault.Deposit(ctx, amount, walletAddress)
	if err != nil {
		if IsTransient(err) {
			return models.StrategyResult{}, err
		}
		zap.L().Warn("Vault deposit rejected",
			zap.String("wallet", walletAddress),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return models.StrategyResult{Success: false, Amount: amount, Error: err.Error()}, nil
	}

	// Some signers do not report simulated return data. Without an observed
	// share count the slippage check cannot run, so the quote stands.
	if actualShares.IsPositive() && expectedShares.IsPositive() {
		floor := expectedShares.Mul(slippageTolerance)
		if actualShares.LessThan(floor) {
			zap.L().Warn("Vault deposit below slippage tolerance",
				zap.String("wallet", walletAddress),
				zap.String("expected_shares", expectedShares.String()),
				zap.String("actual_shares", actualShares.String()),
				zap.String("tx_ref", txRef))
			return models.StrategyResult{
				Success: false,
				Amount:  amount,
				TxRef:   txRef,
				Error:   fmt.Sprintf("%v: got %s shares, expected at least %s", ErrSlippage, actualShares, floor),
			}, nil
		}
	}

	return models.StrategyResult{Success: true, Amount: amount, TxRef: txRef}, nil
}
