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

import "github.com/shopspring/decimal"

// WebhookEnvelope is the processor's notification wrapper.
type WebhookEnvelope struct {
	Id   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Payment WebhookPayment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// WebhookPayment is the payment object inside a notification.
type WebhookPayment struct {
	Id          string      `json:"id"`
	Status      string      `json:"status"`
	AmountMoney AmountMoney `json:"amount_money"`
	Note        string      `json:"note"`
}

// AmountMoney carries an amount in minor units (cents for USD).
type AmountMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// PaymentEvent is a flattened inbound notification. Immutable; the same
// logical payment may arrive multiple times.
type PaymentEvent struct {
	ExternalId       string
	EventType        string
	Status           string
	AmountMinorUnits int64
	Currency         string
	Note             string
}

// ChargedTotal converts the minor-unit amount to currency units.
func (e PaymentEvent) ChargedTotal() decimal.Decimal {
	return decimal.New(e.AmountMinorUnits, -2)
}

// PaymentNote is the structured form of the freeform note field.
// Missing or malformed fields are left at their zero value, never an error.
type PaymentNote struct {
	LogicalPaymentId   string          // payment:<id>
	WalletAddress      string          // wallet:0x...
	RiskProfile        string          // risk:<profile>
	Email              string          // email:<addr>
	DepositAmount      decimal.Decimal // deposit:<amount>, zero when absent
	LoyaltyPurchaseQty int64           // ergc:<qty>
	DebitLoyaltyQty    int64           // debit_ergc:<qty>
}
