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

	"tiltvault-clearing-go/internal/common"
	"tiltvault-clearing-go/internal/config"
	"tiltvault-clearing-go/internal/models"

	"go.uber.org/zap"
)

type recordStats struct {
	total  int
	active int
	failed int
}

func formatTxRef(txRef string) string {
	if txRef == "" {
		return "none"
	}
	if len(txRef) > 12 {
		return txRef[:12] + "..."
	}
	return txRef
}

func printRecordHeader(record models.PaymentRecord) {
	fmt.Printf("\n┌─ Payment: %s (status: %s)\n", record.LogicalPaymentId, record.Status)
	fmt.Printf("│  External ID: %s\n", record.ExternalId)
	fmt.Printf("│  Wallet: %s  Profile: %s\n", record.WalletAddress, record.RiskProfile)
	fmt.Printf("│  Charged: %s %s  Deposit: %s\n",
		record.AmountCharged.StringFixed(2), record.Currency, record.DepositAmount.String())
	common.PrintBoxSeparator(78)
}

func printRecord(record models.PaymentRecord) {
	printRecordHeader(record)

	lines := make([]string, 0, len(record.StrategyResults)+len(record.Transfers))
	for _, kind := range models.StrategyKinds {
		result, ok := record.StrategyResults[kind]
		if !ok {
			continue
		}
		status := "ok"
		if !result.Success {
			status = "FAILED"
		} else if result.Error != "" {
			status = result.Error
		}
		lines = append(lines, fmt.Sprintf("%-20s %12s  %-14s tx: %s",
			kind, result.Amount.String(), status, formatTxRef(result.TxRef)))
	}
	for kind, result := range record.Transfers {
		status := "ok"
		switch {
		case result.Skipped:
			status = "skipped"
		case !result.Success:
			status = "FAILED"
		}
		lines = append(lines, fmt.Sprintf("%-20s %12s  %-14s tx: %s",
			kind, result.Amount.String(), status, formatTxRef(result.TxRef)))
	}

	for i, line := range lines {
		fmt.Printf("%s %s\n", common.BoxPrefix(i == len(lines)-1), line)
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	limitFlag := flag.Int("limit", 50, "Maximum number of records to show")
	idFlag := flag.String("id", "", "Show a single record by logical payment id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	common.PrintHeader("PAYMENT RECORDS", common.DefaultWidth)

	if *idFlag != "" {
		record, err := dbService.GetRecord(ctx, *idFlag)
		if err != nil {
			logger.Fatal("Failed to load record",
				zap.String("logical_payment_id", *idFlag),
				zap.Error(err))
		}
		printRecord(*record)
		return
	}

	records, err := dbService.ListRecords(ctx, *limitFlag)
	if err != nil {
		logger.Fatal("Failed to list records", zap.Error(err))
	}

	var stats recordStats
	for _, record := range records {
		printRecord(record)
		stats.total++
		switch record.Status {
		case models.PaymentActive:
			stats.active++
		case models.PaymentFailed:
			stats.failed++
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d records (%d active, %d failed)",
		stats.total, stats.active, stats.failed)
	common.PrintFooter(summary, common.DefaultWidth)
}
