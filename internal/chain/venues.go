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

package chain

import (
	"context"
	"fmt"
	"math/big"

	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LendingPoolClient submits supply calls to the lending pool contract.
type LendingPoolClient struct {
	svc   *Service
	pool  string
	asset models.AssetConfig
}

func NewLendingPoolClient(svc *Service, poolAddress, assetSymbol string) (*LendingPoolClient, error) {
	if poolAddress == "" {
		return nil, fmt.Errorf("lending pool address cannot be empty")
	}
	asset, err := svc.Asset(assetSymbol)
	if err != nil {
		return nil, err
	}
	return &LendingPoolClient{svc: svc, pool: poolAddress, asset: asset}, nil
}

// Supply deposits amount into the pool on behalf of the given address.
func (c *LendingPoolClient) Supply(ctx context.Context, amount decimal.Decimal, onBehalfOf string) (string, error) {
	data := encodeCall(selectorSupply,
		padAddress(c.asset.Address),
		padUint(toBaseUnits(amount, c.asset.Decimals)),
		padAddress(onBehalfOf),
		padUint(big.NewInt(0)), // referral code
	)

	result, err := c.svc.SignAndSend(ctx, models.ChainTx{To: c.pool, Data: data})
	if err != nil {
		return "", fmt.Errorf("lending supply failed: %w", err)
	}

	zap.L().Info("Lending supply submitted",
		zap.String("amount", amount.String()),
		zap.String("on_behalf_of", onBehalfOf),
		zap.String("tx_hash", result.TxHash))

	c.svc.AwaitConfirmation(ctx, result.TxHash)
	return result.TxHash, nil
}

// PerpVenueClient opens leveraged positions on the perp router contract.
type PerpVenueClient struct {
	svc        *Service
	router     string
	market     string
	collateral models.AssetConfig
}

func NewPerpVenueClient(svc *Service, routerAddress, market, collateralSymbol string) (*PerpVenueClient, error) {
	if routerAddress == "" {
		return nil, fmt.Errorf("perp router address cannot be empty")
	}
	collateral, err := svc.Asset(collateralSymbol)
	if err != nil {
		return nil, err
	}
	return &PerpVenueClient{svc: svc, router: routerAddress, market: market, collateral: collateral}, nil
}

// OpenLong opens a long position with the given collateral and leverage,
// attributed to the user's address.
func (c *PerpVenueClient) OpenLong(ctx context.Context, collateral decimal.Decimal, leverage int64, onBehalfOf string) (string, error) {
	sizeUnits := toBaseUnits(collateral.Mul(decimal.NewFromInt(leverage)), c.collateral.Decimals)
	data := encodeCall(selectorIncreaseLong,
		padAddress(onBehalfOf),
		padUint(toBaseUnits(collateral, c.collateral.Decimals)),
		padUint(sizeUnits),
		padBool(true),
	)

	result, err := c.svc.SignAndSend(ctx, models.ChainTx{To: c.router, Data: data})
	if err != nil {
		return "", fmt.Errorf("open long on %s failed: %w", c.market, err)
	}

	zap.L().Info("Leveraged position submitted",
		zap.String("market", c.market),
		zap.String("collateral", collateral.String()),
		zap.Int64("leverage", leverage),
		zap.String("tx_hash", result.TxHash))

	c.svc.AwaitConfirmation(ctx, result.TxHash)
	return result.TxHash, nil
}

// VaultClient deposits into the ERC-4626 style vault contract.
type VaultClient struct {
	svc   *Service
	vault string
	asset models.AssetConfig
}

func NewVaultClient(svc *Service, vaultAddress, assetSymbol string) (*VaultClient, error) {
	if vaultAddress == "" {
		return nil, fmt.Errorf("vault address cannot be empty")
	}
	asset, err := svc.Asset(assetSymbol)
	if err != nil {
		return nil, err
	}
	return &VaultClient{svc: svc, vault: vaultAddress, asset: asset}, nil
}

// PreviewDeposit asks the vault how many shares a deposit would mint.
func (c *VaultClient) PreviewDeposit(ctx context.Context, assets decimal.Decimal) (decimal.Decimal, error) {
	data := encodeCall(selectorPreviewDeposit, padUint(toBaseUnits(assets, c.asset.Decimals)))
	returnData, err := c.svc.Call(ctx, c.vault, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("preview deposit failed: %w", err)
	}
	shares, err := parseUintReturn(returnData)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: unparseable previewDeposit result: %v", ErrTransient, err)
	}
	return fromBaseUnits(shares, c.asset.Decimals), nil
}

// Deposit moves assets into the vault for the receiver and returns the
// submitted tx plus the shares minted, when the signer's simulation reports
// them. A zero shares value means the mint amount was not observable.
func (c *VaultClient) Deposit(ctx context.Context, assets decimal.Decimal, receiver string) (string, decimal.Decimal, error) {
	data := encodeCall(selectorDeposit,
		padUint(toBaseUnits(assets, c.asset.Decimals)),
		padAddress(receiver),
	)

	result, err := c.svc.SignAndSend(ctx, models.ChainTx{To: c.vault, Data: data})
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("vault deposit failed: %w", err)
	}

	shares := decimal.Zero
	if result.ReturnData != "" {
		if parsed, perr := parseUintReturn(result.ReturnData); perr == nil {
			shares = fromBaseUnits(parsed, c.asset.Decimals)
		}
	}

	zap.L().Info("Vault deposit submitted",
		zap.String("assets", assets.String()),
		zap.String("receiver", receiver),
		zap.String("shares", shares.String()),
		zap.String("tx_hash", result.TxHash))

	c.svc.AwaitConfirmation(ctx, result.TxHash)
	return result.TxHash, shares, nil
}
