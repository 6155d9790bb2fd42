package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"tiltvault-clearing-go/internal/allocation"
	"tiltvault-clearing-go/internal/chain"
	"tiltvault-clearing-go/internal/common"
	"tiltvault-clearing-go/internal/config"
	"tiltvault-clearing-go/internal/models"

	"go.uber.org/zap"
)

// Preflight tool: initializes the coordination store schema, validates the
// profile and asset files, and checks connectivity to the oracle.
func main() {
	checkOracle := flag.Bool("oracle", true, "Probe the price oracle for the configured gas asset")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize coordination store", zap.Error(err))
	}
	defer dbService.Close()
	fmt.Println("✓ Coordination store schema ready at", cfg.Database.Path)

	profiles, err := allocation.LoadProfiles(cfg.Clearing.ProfilesFile)
	if err != nil {
		zap.L().Fatal("Profiles file invalid", zap.Error(err))
	}
	printProfiles(profiles)

	assets, err := common.LoadAssetConfig(cfg.Chain.AssetsFile)
	if err != nil {
		zap.L().Fatal("Assets file invalid", zap.Error(err))
	}
	printAssets(assets, cfg)

	if cfg.Webhook.SignatureKey == "" {
		fmt.Println("✗ WEBHOOK_SIGNATURE_KEY is not set; all deliveries will be refused")
	} else {
		fmt.Println("✓ Webhook signature key configured")
	}

	if *checkOracle {
		probeOracle(ctx, cfg)
	}
}

func printProfiles(profiles map[string]allocation.Profile) {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("✓ %d risk profiles loaded:\n", len(names))
	for _, name := range names {
		profile := profiles[name]
		fmt.Printf("  %-14s", name)
		for _, kind := range profile.Active() {
			fmt.Printf(" %s=%d%%", kind, profile.Percent(kind))
		}
		fmt.Println()
	}
}

func printAssets(assets []models.AssetConfig, cfg *models.Config) {
	fmt.Printf("✓ %d assets loaded:\n", len(assets))
	for _, asset := range assets {
		role := ""
		switch asset.Symbol {
		case cfg.Chain.GasAssetSymbol:
			role = " (gas asset)"
		case cfg.Chain.DepositAsset:
			role = " (deposit asset)"
		case cfg.Chain.LoyaltyToken:
			role = " (loyalty token)"
		}
		if asset.Native {
			fmt.Printf("  %-6s native, %d decimals%s\n", asset.Symbol, asset.Decimals, role)
		} else {
			fmt.Printf("  %-6s %s, %d decimals%s\n", asset.Symbol, asset.Address, asset.Decimals, role)
		}
	}
}

func probeOracle(ctx context.Context, cfg *models.Config) {
	oracle, err := chain.NewOracle(cfg.Chain.OracleURL, cfg.Chain.RequestTimeout)
	if err != nil {
		fmt.Println("✗ Oracle client:", err)
		return
	}
	price, err := oracle.CurrentPrice(ctx, cfg.Chain.GasAssetSymbol)
	if err != nil {
		fmt.Println("✗ Oracle probe failed:", err)
		return
	}
	fmt.Printf("✓ Oracle reports %s at $%s\n", cfg.Chain.GasAssetSymbol, price)
}
