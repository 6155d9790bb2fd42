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

var lendingMinAmount = decimal.RequireFromString("0.01")

// LendingExecutor supplies the allocated slice into a lending pool on
// behalf of the user's wallet.
type LendingExecutor struct {
	pool LendingPool
}

func NewLendingExecutor(pool LendingPool) *LendingExecutor {
	return &LendingExecutor{pool: pool}
}

func (e *LendingExecutor) Kind() models.StrategyKind {
	return models.StrategyLendingSupply
}

func (e *LendingExecutor) MinAmount() decimal.Decimal {
	return lendingMinAmount
}

func (e *LendingExecutor) Execute(ctx context.Context, amount decimal.Decimal, walletAddress string) (models.StrategyResult, error) {
	if amount.LessThan(e.MinAmount()) {
		return models.StrategyResult{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, e.MinAmount())
	}

	txRef, err := e.pool.Supply(ctx, amount, walletAddress)
	if err != nil {
		if IsTransient(err) {
			return models.StrategyResult{}, err
		}
		zap.L().Warn("Lending supply rejected",
			zap.String("wallet", walletAddress),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return models.StrategyResult{Success: false, Amount: amount, Error: err.Error()}, nil
	}

	return models.StrategyResult{Success: true, Amount: amount, TxRef: txRef}, nil
}
