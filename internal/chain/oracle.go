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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// oracleCacheTtl bounds price staleness; the contract is "USD price, cached
// at most 60 seconds".
const oracleCacheTtl = 60 * time.Second

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Oracle fetches USD prices with a small in-process cache.
type Oracle struct {
	httpClient http.Client
	baseURL    string

	mu    sync.Mutex
	cache map[string]cachedPrice
}

func NewOracle(oracleURL string, requestTimeout time.Duration) (*Oracle, error) {
	if oracleURL == "" {
		return nil, fmt.Errorf("oracle URL cannot be empty")
	}

	httpClient, err := createCustomHttpClient(requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &Oracle{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(oracleURL, "/"),
		cache:      make(map[string]cachedPrice),
	}, nil
}

// CurrentPrice returns the USD price for an asset, serving from cache when
// the cached value is fresh enough.
func (o *Oracle) CurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	o.mu.Lock()
	cached, ok := o.cache[asset]
	o.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < oracleCacheTtl {
		return cached.price, nil
	}

	price, err := o.fetchPrice(ctx, asset)
	if err != nil {
		// Serve a stale price over failing when one exists; planning with a
		// slightly old price beats rejecting the payment.
		if ok {
			zap.L().Warn("Oracle fetch failed, serving stale price",
				zap.String("asset", asset),
				zap.Duration("age", time.Since(cached.fetchedAt)),
				zap.Error(err))
			return cached.price, nil
		}
		return decimal.Zero, err
	}

	o.mu.Lock()
	o.cache[asset] = cachedPrice{price: price, fetchedAt: time.Now()}
	o.mu.Unlock()
	return price, nil
}

func (o *Oracle) fetchPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	reqURL := o.baseURL + "/v1/price?asset=" + url.QueryEscape(asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build oracle request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, classifyStatus(resp.StatusCode, "oracle error")
	}

	var quote struct {
		Asset    string `json:"asset"`
		PriceUSD string `json:"price_usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid oracle response: %v", ErrTransient, err)
	}

	price, err := decimal.NewFromString(quote.PriceUSD)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: oracle returned unusable price %q for %s", ErrPermanent, quote.PriceUSD, asset)
	}
	return price, nil
}
