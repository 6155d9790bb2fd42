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
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// 4-byte method selectors for the venue contracts.
const (
	selectorTransfer       = "a9059cbb" // transfer(address,uint256)
	selectorSupply         = "617ba037" // supply(address,uint256,address,uint16)
	selectorDeposit        = "6e553f65" // deposit(uint256,address)
	selectorPreviewDeposit = "ef8b30f7" // previewDeposit(uint256)
	selectorIncreaseLong   = "5b88e8c6" // increasePosition(address,uint256,uint256,bool)
)

// encodeCall assembles calldata from a selector and pre-padded word args.
func encodeCall(selector string, words ...string) string {
	var b strings.Builder
	b.WriteString("0x")
	b.WriteString(selector)
	for _, w := range words {
		b.WriteString(w)
	}
	return b.String()
}

// padAddress left-pads a 0x address to a 32-byte word.
func padAddress(address string) string {
	hexPart := strings.ToLower(strings.TrimPrefix(address, "0x"))
	return fmt.Sprintf("%064s", hexPart)
}

// padUint encodes an unsigned integer as a 32-byte word.
func padUint(value *big.Int) string {
	return fmt.Sprintf("%064s", value.Text(16))
}

// padBool encodes a boolean as a 32-byte word.
func padBool(v bool) string {
	if v {
		return fmt.Sprintf("%064d", 1)
	}
	return fmt.Sprintf("%064d", 0)
}

// toBaseUnits converts a human amount to the asset's integer base units.
func toBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}

// fromBaseUnits converts integer base units back to a human amount.
func fromBaseUnits(value *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(value, -decimals)
}

// parseUintReturn decodes a single uint256 return word.
func parseUintReturn(returnData string) (*big.Int, error) {
	hexPart := strings.TrimPrefix(strings.TrimSpace(returnData), "0x")
	if hexPart == "" {
		return nil, fmt.Errorf("empty return data")
	}
	if len(hexPart) > 64 {
		hexPart = hexPart[:64]
	}
	value, ok := new(big.Int).SetString(hexPart, 16)
	if !ok {
		return nil, fmt.Errorf("invalid uint256 return data %q", returnData)
	}
	return value, nil
}
