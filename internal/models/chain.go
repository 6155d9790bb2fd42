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

package models

// ChainTx is a transaction request passed to the custodial signer service.
// The signer owns nonce management, gas pricing, and key material.
type ChainTx struct {
	To       string `json:"to"`
	ValueWei string `json:"value_wei,omitempty"`
	Data     string `json:"data,omitempty"`
	GasLimit uint64 `json:"gas_limit,omitempty"`
}

// SubmitResult is the signer's response to a sign-and-send request.
// ReturnData carries the simulated call result when the signer provides one.
type SubmitResult struct {
	TxHash     string `json:"tx_hash"`
	ReturnData string `json:"return_data,omitempty"`
}

// TxReceipt is a best-effort confirmation lookup result.
type TxReceipt struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"` // "confirmed", "failed", or "pending"
	BlockNumber uint64 `json:"block_number,omitempty"`
}
