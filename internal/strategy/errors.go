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
	"errors"
	"net"

	"tiltvault-clearing-go/internal/chain"
)

var (
	// ErrBelowMinimum indicates the allocated slice is smaller than the
	// venue's minimum viable amount.
	ErrBelowMinimum = errors.New("amount below strategy minimum")

	// ErrSlippage indicates the venue accepted the deposit but returned
	// materially less value than quoted.
	ErrSlippage = errors.New("received value below slippage tolerance")
)

// IsTransient reports whether an execution error is worth a fallback
// attempt rather than a hard failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, chain.ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
