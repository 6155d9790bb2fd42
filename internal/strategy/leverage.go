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

const defaultLeverage = 2

// Perp venues enforce a higher floor than lending, positions below it get
// liquidated by fees alone.
var leverageMinAmount = decimal.RequireFromString("1.00")

// LeverageExecutor opens a long position using the allocated slice as
// collateral.
type LeverageExecutor struct {
	venue    PerpVenue
	leverage int64
}

func NewLeverageExecutor(venue PerpVenue) *LeverageExecutor {
	return &LeverageExecutor{venue: venue, leverage: defaultLeverage}
}

func (e *LeverageExecutor) Kind() models.StrategyKind {
	return models.StrategyLeveragedPosition
}

func (e *LeverageExecutor) MinAmount() decimal.Decimal {
	return leverageMinAmount
}

func (e *LeverageExecutor) Execute(ctx context.Context, amount decimal.Decimal, walletAddress string) (models.StrategyResult, error) {
	if amount.LessThan(e.MinAmount()) {
		return models.StrategyResult{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, e.MinAmount())
	}

	txRef, err := e.venue.OpenLong(ctx, amount, e.leverage, walletAddress)
	if err != nil {
		if IsTransient(err) {
			return models.StrategyResult{}, err
		}
		zap.L().Warn("Leveraged position rejected",
			zap.String("wallet", walletAddress),
			zap.String("collateral", amount.String()),
			zap.Error(err))
		return models.StrategyResult{Success: false, Amount: amount, Error: err.Error()}, nil
	}

	return models.StrategyResult{Success: true, Amount: amount, TxRef: txRef}, nil
}
