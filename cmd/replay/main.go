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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tiltvault-clearing-go/internal/common"
	"tiltvault-clearing-go/internal/config"
	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/orchestrator"

	"go.uber.org/zap"
)

// Operator tool: re-runs a payment event through the clearing pipeline
// without a processor signature. The idempotency layer still applies, so
// replaying an already-cleared payment is a harmless no-op.
func main() {
	externalId := flag.String("external-id", "", "Processor payment id (required)")
	amountCents := flag.Int64("amount", 0, "Charged total in minor units (required)")
	currency := flag.String("currency", "USD", "Charged currency")
	note := flag.String("note", "", "Payment note with wallet:/risk:/... keys (required)")
	status := flag.String("status", "COMPLETED", "Processor payment status")
	flag.Parse()

	if *externalId == "" || *amountCents <= 0 || *note == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	event := models.PaymentEvent{
		ExternalId:       *externalId,
		EventType:        "payment.replayed",
		Status:           *status,
		AmountMinorUnits: *amountCents,
		Currency:         *currency,
		Note:             *note,
	}

	zap.L().Info("Replaying payment event",
		zap.String("external_id", event.ExternalId),
		zap.Int64("amount_minor_units", event.AmountMinorUnits))

	outcome, record, err := services.Orchestrator.Process(ctx, event)
	if err != nil {
		zap.L().Fatal("Replay failed", zap.Error(err))
	}

	fmt.Println("Outcome:", outcome)
	if record != nil {
		fmt.Println("Logical payment id:", record.LogicalPaymentId)
		fmt.Println("Record status:", record.Status)
		for kind, result := range record.StrategyResults {
			suffix := ""
			if result.Error != "" {
				suffix = " (" + result.Error + ")"
			}
			fmt.Printf("  %-20s success=%v amount=%s tx=%s%s\n",
				kind, result.Success, result.Amount, result.TxRef, suffix)
		}
	}

	if outcome == orchestrator.OutcomeRejected || outcome == orchestrator.OutcomeMalformed {
		os.Exit(1)
	}
}
