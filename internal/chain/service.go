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

// Package chain wraps the custodial signer service, the price oracle, and
// the venue contracts. The signer owns key material, nonces, and gas
// pricing; this package only builds requests and classifies failures.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Failure classification sentinels. Transient failures are safe to retry or
// substitute with a fallback transfer; permanent ones are not.
var (
	ErrTransient = errors.New("transient chain failure")
	ErrPermanent = errors.New("permanent chain failure")
)

type Service struct {
	httpClient       http.Client
	signerURL        string
	apiKey           string
	custodialAddress string
	confirmWait      time.Duration
	assets           map[string]models.AssetConfig
}

func NewService(cfg models.ChainConfig, assets []models.AssetConfig) (*Service, error) {
	if cfg.SignerURL == "" {
		return nil, fmt.Errorf("signer URL cannot be empty")
	}
	if cfg.CustodialAddress == "" {
		return nil, fmt.Errorf("custodial address cannot be empty")
	}

	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	assetMap := make(map[string]models.AssetConfig, len(assets))
	for _, asset := range assets {
		assetMap[asset.Symbol] = asset
	}

	return &Service{
		httpClient:       httpClient,
		signerURL:        strings.TrimRight(cfg.SignerURL, "/"),
		apiKey:           cfg.SignerAPIKey,
		custodialAddress: cfg.CustodialAddress,
		confirmWait:      cfg.ConfirmWait,
		assets:           assetMap,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// CustodialAddress returns the custody hot wallet address all transactions
// originate from.
func (s *Service) CustodialAddress() string {
	return s.custodialAddress
}

// Asset resolves a configured asset by symbol.
func (s *Service) Asset(symbol string) (models.AssetConfig, error) {
	asset, ok := s.assets[symbol]
	if !ok {
		return models.AssetConfig{}, fmt.Errorf("%w: asset %q not configured", ErrPermanent, symbol)
	}
	return asset, nil
}

type signRequest struct {
	From string `json:"from"`
	models.ChainTx
}

type signerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SignAndSend submits a transaction through the custodial signer and returns
// once the signer has broadcast it. It does not wait for confirmation.
func (s *Service) SignAndSend(ctx context.Context, tx models.ChainTx) (*models.SubmitResult, error) {
	var result models.SubmitResult
	err := s.post(ctx, "/v1/transactions", signRequest{From: s.custodialAddress, ChainTx: tx}, &result)
	if err != nil {
		return nil, err
	}
	if result.TxHash == "" {
		return nil, fmt.Errorf("%w: signer returned no transaction hash", ErrTransient)
	}

	zap.L().Info("Transaction submitted",
		zap.String("tx_hash", result.TxHash),
		zap.String("to", tx.To))
	return &result, nil
}

// Call performs a read-only contract call through the signer service.
func (s *Service) Call(ctx context.Context, to, data string) (string, error) {
	var result struct {
		ReturnData string `json:"return_data"`
	}
	err := s.post(ctx, "/v1/call", models.ChainTx{To: to, Data: data}, &result)
	if err != nil {
		return "", err
	}
	return result.ReturnData, nil
}

// GetReceipt looks up the confirmation state of a submitted transaction.
func (s *Service) GetReceipt(ctx context.Context, txHash string) (*models.TxReceipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.signerURL+"/v1/transactions/"+txHash, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build receipt request: %w", err)
	}
	s.auth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, readSignerError(resp.Body))
	}

	var receipt models.TxReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("%w: invalid receipt response: %v", ErrTransient, err)
	}
	return &receipt, nil
}

// AwaitConfirmation polls for a receipt with a short bounded wait. It only
// logs the outcome: submission success, not confirmation, is what the
// orchestrator reports upward, because waiting for blocks risks exceeding
// the caller's own processing deadline.
func (s *Service) AwaitConfirmation(ctx context.Context, txHash string) {
	if s.confirmWait <= 0 {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmWait)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			zap.L().Info("Confirmation not observed within bounded wait",
				zap.String("tx_hash", txHash),
				zap.Duration("waited", s.confirmWait))
			return
		case <-ticker.C:
			receipt, err := s.GetReceipt(waitCtx, txHash)
			if err != nil {
				continue
			}
			switch receipt.Status {
			case "confirmed":
				zap.L().Info("Transaction confirmed",
					zap.String("tx_hash", txHash),
					zap.Uint64("block", receipt.BlockNumber))
				return
			case "failed":
				zap.L().Warn("Transaction reverted after submission",
					zap.String("tx_hash", txHash))
				return
			}
		}
	}
}

// SendAsset moves an asset from the custody wallet to a destination address.
// Native assets are plain value transfers; tokens go through transfer().
func (s *Service) SendAsset(ctx context.Context, assetSymbol, toAddress string, amount decimal.Decimal, reference string) (string, error) {
	asset, err := s.Asset(assetSymbol)
	if err != nil {
		return "", err
	}

	var tx models.ChainTx
	if asset.Native {
		tx = models.ChainTx{
			To:       toAddress,
			ValueWei: toBaseUnits(amount, asset.Decimals).String(),
		}
	} else {
		tx = models.ChainTx{
			To:   asset.Address,
			Data: encodeCall(selectorTransfer, padAddress(toAddress), padUint(toBaseUnits(amount, asset.Decimals))),
		}
	}

	result, err := s.SignAndSend(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to send %s %s to %s: %w", amount, assetSymbol, toAddress, err)
	}

	zap.L().Info("Asset transfer submitted",
		zap.String("asset", assetSymbol),
		zap.String("amount", amount.String()),
		zap.String("to", toAddress),
		zap.String("reference", reference),
		zap.String("tx_hash", result.TxHash))

	s.AwaitConfirmation(ctx, result.TxHash)
	return result.TxHash, nil
}

func (s *Service) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.signerURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.auth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, readSignerError(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid signer response: %v", ErrTransient, err)
	}
	return nil
}

func (s *Service) auth(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

func readSignerError(body io.Reader) string {
	var se signerError
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&se); err != nil {
		return ""
	}
	if se.Code != "" {
		return se.Code + ": " + se.Message
	}
	return se.Message
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: signer request timed out: %v", ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: signer request deadline exceeded: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: signer unreachable: %v", ErrTransient, err)
}

// classifyStatus maps signer HTTP responses onto the retry taxonomy:
// throttling and server-side failures are transient, everything else
// (bad parameters, insufficient funds, reverts) is permanent.
func classifyStatus(status int, detail string) error {
	if detail == "" {
		detail = http.StatusText(status)
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: signer returned %d (%s)", ErrTransient, status, detail)
	}
	return fmt.Errorf("%w: signer returned %d (%s)", ErrPermanent, status, detail)
}
