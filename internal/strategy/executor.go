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

// Package strategy executes per-strategy fund placements. Each executor wraps
// one venue and translates venue outcomes into StrategyResult values the
// orchestrator can persist and act on.
package strategy

import (
	"context"

	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
)

// LendingPool supplies assets into a lending market.
type LendingPool interface {
	Supply(ctx context.Context, amount decimal.Decimal, onBehalfOf string) (string, error)
}

// PerpVenue opens leveraged positions.
type PerpVenue interface {
	OpenLong(ctx context.Context, collateral decimal.Decimal, leverage int64, onBehalfOf string) (string, error)
}

// Vault previews and performs share-issuing deposits.
type Vault interface {
	PreviewDeposit(ctx context.Context, assets decimal.Decimal) (decimal.Decimal, error)
	Deposit(ctx context.Context, assets decimal.Decimal, receiver string) (string, decimal.Decimal, error)
}

// Executor places one slice of a cleared payment into a yield venue.
//
// Execute returns (result, nil) for outcomes the orchestrator should record
// as final, including venue-level failures captured in result.Error. A
// non-nil error is reserved for conditions the caller may retry or fall
// back on, classified via IsTransient.
type Executor interface {
	Kind() models.StrategyKind
	MinAmount() decimal.Decimal
	Execute(ctx context.Context, amount decimal.Decimal, walletAddress string) (models.StrategyResult, error)
}
