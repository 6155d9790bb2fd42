package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"tiltvault-clearing-go/internal/allocation"
	"tiltvault-clearing-go/internal/chain"
	"tiltvault-clearing-go/internal/custody"
	"tiltvault-clearing-go/internal/database"
	"tiltvault-clearing-go/internal/ledger"
	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/orchestrator"
	"tiltvault-clearing-go/internal/signature"
	"tiltvault-clearing-go/internal/strategy"
	"tiltvault-clearing-go/internal/transfer"
	"tiltvault-clearing-go/internal/webhook"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService    *database.Service
	ChainService *chain.Service
	Oracle       *chain.Oracle
	Orchestrator *orchestrator.Orchestrator
	Handler      *webhook.Handler
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	assets, err := LoadAssetConfig(cfg.Chain.AssetsFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	chainService, err := chain.NewService(cfg.Chain, assets)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	oracle, err := chain.NewOracle(cfg.Chain.OracleURL, cfg.Chain.RequestTimeout)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	profiles, err := allocation.LoadProfiles(cfg.Clearing.ProfilesFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}
	planner := allocation.NewPlanner(profiles, oracle, cfg.Chain.GasAssetSymbol)

	sender, err := buildSender(cfg, chainService)
	if err != nil {
		dbService.Close()
		return nil, err
	}
	transfers := transfer.NewCoordinator(dbService, sender, cfg.Chain.CustodialAddress)

	executors, err := buildExecutors(cfg, chainService)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	ledgerService, err := ledger.NewService(ctx, cfg.Ledger)
	if err != nil {
		zap.L().Warn("Ledger mirror unavailable, continuing without it", zap.Error(err))
		ledgerService = nil
	}

	verifier := signature.NewVerifier(cfg.Webhook.SignatureKey, cfg.Webhook.NotificationURL)

	orch, err := orchestrator.New(orchestrator.Params{
		Verifier:     verifier,
		Store:        dbService,
		Planner:      planner,
		Executors:    executors,
		Transfers:    transfers,
		Ledger:       ledgerService,
		Clearing:     cfg.Clearing,
		GasAsset:     cfg.Chain.GasAssetSymbol,
		DepositAsset: cfg.Chain.DepositAsset,
		LoyaltyToken: cfg.Chain.LoyaltyToken,
	})
	if err != nil {
		dbService.Close()
		return nil, err
	}

	return &Services{
		DbService:    dbService,
		ChainService: chainService,
		Oracle:       oracle,
		Orchestrator: orch,
		Handler:      webhook.NewHandler(orch, dbService, cfg.Webhook),
	}, nil
}

// InitializeDatabaseOnly initializes just the coordination store without the
// chain stack. Useful for read-only operations like listing records.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func buildSender(cfg *models.Config, chainService *chain.Service) (transfer.Sender, error) {
	switch cfg.Transfer.Backend {
	case "", "chain":
		return chainService, nil
	case "prime":
		zap.L().Info("Using Coinbase Prime transfer backend",
			zap.String("portfolio_id", cfg.Custody.PortfolioId))
		return custody.NewService(cfg.Custody)
	default:
		return nil, fmt.Errorf("unknown transfer backend %q", cfg.Transfer.Backend)
	}
}

func buildExecutors(cfg *models.Config, chainService *chain.Service) ([]strategy.Executor, error) {
	lendingPool, err := chain.NewLendingPoolClient(chainService, cfg.Chain.LendingPool, cfg.Chain.DepositAsset)
	if err != nil {
		return nil, err
	}
	perpVenue, err := chain.NewPerpVenueClient(chainService, cfg.Chain.PerpRouter, cfg.Chain.PerpMarket, cfg.Chain.DepositAsset)
	if err != nil {
		return nil, err
	}
	vault, err := chain.NewVaultClient(chainService, cfg.Chain.Vault, cfg.Chain.DepositAsset)
	if err != nil {
		return nil, err
	}

	return []strategy.Executor{
		strategy.NewLendingExecutor(lendingPool),
		strategy.NewLeverageExecutor(perpVenue),
		strategy.NewVaultExecutor(vault),
	}, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
