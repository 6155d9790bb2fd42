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

package allocation

import (
	"context"
	"errors"
	"fmt"

	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnknownProfile = errors.New("unknown risk profile")
	ErrPlanRejected   = errors.New("allocation plan rejected")
)

var (
	// percentFee is the processor-side percentage fee included in every
	// charged total.
	percentFee = decimal.NewFromFloat(0.05)

	// plausibilityRatio bounds how much larger than the charged total a
	// recorded deposit amount may be before it is discarded as corrupt.
	plausibilityRatio = decimal.NewFromFloat(1.5)

	// Flat gas-asset fees in gas-asset units, keyed by the profile's primary
	// strategy. The charged total includes this fee, and the same amount is
	// forwarded to the wallet as the gas stipend. Vault-only venues are
	// funded by custodial gas directly.
	flatGasFeeUnits = map[models.StrategyKind]decimal.Decimal{
		models.StrategyLendingSupply:     decimal.NewFromFloat(0.005),
		models.StrategyLeveragedPosition: decimal.NewFromFloat(0.008),
		models.StrategyVaultDeposit:      decimal.Zero,
	}
)

// sharePrecision fixes intermediate rounding for per-strategy shares.
const sharePrecision = 6

// PriceSource supplies a cached USD price for an asset.
type PriceSource interface {
	CurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Planner computes validated per-strategy splits of a cleared amount.
type Planner struct {
	profiles map[string]Profile
	oracle   PriceSource
	gasAsset string
}

func NewPlanner(profiles map[string]Profile, oracle PriceSource, gasAsset string) *Planner {
	return &Planner{profiles: profiles, oracle: oracle, gasAsset: gasAsset}
}

// Profile looks up a preset by name.
func (p *Planner) Profile(name string) (Profile, error) {
	profile, ok := p.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return profile, nil
}

// GasFeeUnits returns the flat gas-asset fee for a profile, halved when the
// payer is discount-eligible. Zero for vault-only profiles.
func GasFeeUnits(profile Profile, discountEligible bool) decimal.Decimal {
	if profile.VaultOnly() {
		return decimal.Zero
	}
	fee := flatGasFeeUnits[profile.Primary()]
	if discountEligible {
		fee = fee.Div(decimal.NewFromInt(2))
	}
	return fee
}

// Plan reconciles the recorded deposit amount against the charged total and
// splits the result across the profile's strategies.
//
// The charged total always includes the percentage fee plus the flat
// gas-asset fee, so a valid deposit amount is strictly less than it. A
// recorded amount outside (0, plausibilityRatio x charged] is discarded and
// recomputed by inverting the fee formula; a recomputed amount that still
// reaches the charged total rejects the plan outright -- fail the payment,
// do not guess.
func (p *Planner) Plan(ctx context.Context, chargedTotal decimal.Decimal, profileName string, recordedDeposit decimal.Decimal, discountEligible bool) (models.AllocationPlan, error) {
	if !chargedTotal.IsPositive() {
		return models.AllocationPlan{}, fmt.Errorf("%w: charged total %s is not positive", ErrPlanRejected, chargedTotal)
	}

	profile, err := p.Profile(profileName)
	if err != nil {
		return models.AllocationPlan{}, err
	}

	gasFee := GasFeeUnits(profile, discountEligible)

	deposit := decimal.Zero
	if recordedDeposit.IsPositive() && recordedDeposit.LessThanOrEqual(chargedTotal.Mul(plausibilityRatio)) {
		deposit = recordedDeposit
	}

	if !deposit.IsPositive() || deposit.GreaterThanOrEqual(chargedTotal) {
		if deposit.IsPositive() {
			zap.L().Warn("Recorded deposit amount is corrupt, recomputing from charged total",
				zap.String("recorded", recordedDeposit.String()),
				zap.String("charged_total", chargedTotal.String()))
		}
		deposit, err = p.invertFeeFormula(ctx, chargedTotal, gasFee)
		if err != nil {
			return models.AllocationPlan{}, err
		}
	}

	if !deposit.IsPositive() || deposit.GreaterThanOrEqual(chargedTotal) {
		return models.AllocationPlan{}, fmt.Errorf("%w: deposit %s not below charged total %s even after recomputation",
			ErrPlanRejected, deposit, chargedTotal)
	}

	perStrategy, err := splitDeposit(deposit, profile)
	if err != nil {
		return models.AllocationPlan{}, err
	}

	return models.AllocationPlan{
		DepositAmount: deposit,
		PerStrategy:   perStrategy,
		GasFeeUnits:   gasFee,
	}, nil
}

// invertFeeFormula solves
//
//	charged = deposit*(1+percentFee) + gasFeeUnits*gasPriceUSD
//
// for deposit.
func (p *Planner) invertFeeFormula(ctx context.Context, chargedTotal, gasFeeUnits decimal.Decimal) (decimal.Decimal, error) {
	gasCost := decimal.Zero
	if gasFeeUnits.IsPositive() {
		price, err := p.oracle.CurrentPrice(ctx, p.gasAsset)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to price gas asset for fee inversion: %w", err)
		}
		gasCost = gasFeeUnits.Mul(price)
	}

	deposit := chargedTotal.Sub(gasCost).
		Div(decimal.NewFromInt(1).Add(percentFee)).
		Round(sharePrecision)
	return deposit, nil
}

// splitDeposit divides the deposit per the profile's percentages. The last
// active strategy absorbs rounding, so shares always sum exactly to the
// deposit amount.
func splitDeposit(deposit decimal.Decimal, profile Profile) (map[models.StrategyKind]decimal.Decimal, error) {
	active := profile.Active()
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: profile %q has no active strategies", ErrPlanRejected, profile.Name)
	}

	perStrategy := make(map[models.StrategyKind]decimal.Decimal, len(active))
	remaining := deposit
	hundred := decimal.NewFromInt(100)

	for i, kind := range active {
		var share decimal.Decimal
		if i == len(active)-1 {
			share = remaining
		} else {
			share = deposit.Mul(decimal.NewFromInt(int64(profile.Percent(kind)))).
				Div(hundred).
				Round(sharePrecision)
		}
		if !share.IsPositive() {
			return nil, fmt.Errorf("%w: share for %s is %s", ErrPlanRejected, kind, share)
		}
		perStrategy[kind] = share
		remaining = remaining.Sub(share)
	}

	return perStrategy, nil
}
