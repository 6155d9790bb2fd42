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

// Package notes parses the freeform note field the payment frontend embeds
// in each charge: space-delimited key:value pairs, e.g.
//
//	payment:pmt_123 wallet:0xabc... risk:conservative email:a@b.co deposit:6.00 ergc:5
//
// Missing or malformed fields are treated as absent, never as an error.
package notes

import (
	"regexp"
	"strconv"
	"strings"

	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
)

const maxValueLength = 50

var (
	walletAddressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	emailRe         = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// Parse decodes a freeform note into its structured fields. Unknown keys are
// ignored; tokens without a colon are ignored; repeated keys keep the first
// occurrence.
func Parse(note string) models.PaymentNote {
	var parsed models.PaymentNote

	for _, token := range strings.Fields(note) {
		idx := strings.IndexByte(token, ':')
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(token[:idx])
		value := sanitizeValue(token[idx+1:])
		if value == "" {
			continue
		}

		switch key {
		case "payment":
			if parsed.LogicalPaymentId == "" {
				parsed.LogicalPaymentId = value
			}
		case "wallet":
			if parsed.WalletAddress == "" && IsWalletAddress(value) {
				parsed.WalletAddress = value
			}
		case "risk":
			if parsed.RiskProfile == "" {
				parsed.RiskProfile = strings.ToLower(value)
			}
		case "email":
			if parsed.Email == "" && IsEmail(value) {
				parsed.Email = value
			}
		case "deposit":
			if parsed.DepositAmount.IsZero() {
				if amount, err := decimal.NewFromString(value); err == nil && amount.IsPositive() {
					parsed.DepositAmount = amount
				}
			}
		case "ergc":
			if parsed.LoyaltyPurchaseQty == 0 {
				if qty, err := strconv.ParseInt(value, 10, 64); err == nil && qty > 0 {
					parsed.LoyaltyPurchaseQty = qty
				}
			}
		case "debit_ergc":
			if parsed.DebitLoyaltyQty == 0 {
				if qty, err := strconv.ParseInt(value, 10, 64); err == nil && qty > 0 {
					parsed.DebitLoyaltyQty = qty
				}
			}
		}
	}

	return parsed
}

// sanitizeValue mirrors the frontend's note composition rules: no colons,
// no control characters, bounded length.
func sanitizeValue(value string) string {
	value = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\n', '\r', '\t':
			return -1
		}
		return r
	}, value)
	if len(value) > maxValueLength {
		value = value[:maxValueLength]
	}
	return value
}

// IsWalletAddress reports whether s is a 0x-prefixed 40-hex-digit address.
func IsWalletAddress(s string) bool {
	return walletAddressRe.MatchString(s)
}

// IsEmail applies a bounded sanity check, not full RFC validation.
func IsEmail(s string) bool {
	return len(s) <= 254 && emailRe.MatchString(s)
}
