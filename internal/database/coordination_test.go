package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestStore(t *testing.T) (*Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}
	return service, cleanup
}

func testRecord(logicalId string) *models.PaymentRecord {
	return &models.PaymentRecord{
		LogicalPaymentId: logicalId,
		ExternalId:       "sq-" + logicalId,
		Status:           models.PaymentActive,
		WalletAddress:    "0x1111111111111111111111111111111111111111",
		RiskProfile:      "conservative",
		AmountCharged:    decimal.RequireFromString("7.83"),
		DepositAmount:    decimal.RequireFromString("6.00"),
		Currency:         "USD",
		StrategyResults: map[models.StrategyKind]models.StrategyResult{
			models.StrategyLendingSupply: {Success: true, Amount: decimal.RequireFromString("6.00"), TxRef: "0xaaa"},
		},
		Transfers: map[models.TransferKind]models.TransferResult{
			models.TransferGasAsset: {Success: true, Amount: decimal.RequireFromString("0.005"), TxRef: "0xbbb"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestAcquireLockExclusive(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	acquired, err := service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-1", HolderToken: "holder-a", Ttl: time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected first acquisition to succeed")
	}

	acquired, err = service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-1", HolderToken: "holder-b", Ttl: time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if acquired {
		t.Error("Expected second acquisition on a live lock to fail")
	}
}

func TestAcquireLockStealsExpired(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	acquired, err := service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-2", HolderToken: "holder-a", Ttl: time.Millisecond,
	})
	if err != nil || !acquired {
		t.Fatalf("Expected initial acquisition, got acquired=%v err=%v", acquired, err)
	}

	time.Sleep(5 * time.Millisecond)

	acquired, err = service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-2", HolderToken: "holder-b", Ttl: time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Error("Expected expired lock to be stolen")
	}
}

func TestReleaseLockRequiresHolder(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-3", HolderToken: "holder-a", Ttl: time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	// A non-holder release is a no-op; the lock stays live.
	if err := service.ReleaseLock(ctx, "pmt-3", "holder-b"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	acquired, err := service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-3", HolderToken: "holder-c", Ttl: time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if acquired {
		t.Error("Expected lock to survive a non-holder release")
	}

	// The holder's release frees it.
	if err := service.ReleaseLock(ctx, "pmt-3", "holder-a"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	acquired, err = service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-3", HolderToken: "holder-c", Ttl: time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Error("Expected lock to be free after holder release")
	}
}

func TestProcessedMarkerRoundtrip(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, found, err := service.GetProcessed(ctx, "pmt-4")
	if err != nil {
		t.Fatalf("GetProcessed failed: %v", err)
	}
	if found {
		t.Fatal("Expected no marker before MarkProcessed")
	}

	record := testRecord("pmt-4")
	if err := service.MarkProcessed(ctx, record, time.Hour); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	cached, found, err := service.GetProcessed(ctx, "pmt-4")
	if err != nil {
		t.Fatalf("GetProcessed failed: %v", err)
	}
	if !found {
		t.Fatal("Expected marker after MarkProcessed")
	}
	if cached.LogicalPaymentId != "pmt-4" || cached.Status != models.PaymentActive {
		t.Errorf("Cached record mismatch: %+v", cached)
	}
	if !cached.DepositAmount.Equal(record.DepositAmount) {
		t.Errorf("Expected deposit %s, got %s", record.DepositAmount, cached.DepositAmount)
	}
	if res := cached.StrategyResults[models.StrategyLendingSupply]; !res.Success || res.TxRef != "0xaaa" {
		t.Errorf("Strategy result mismatch: %+v", res)
	}
}

func TestProcessedMarkerExpires(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.MarkProcessed(ctx, testRecord("pmt-5"), time.Millisecond); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, found, err := service.GetProcessed(ctx, "pmt-5")
	if err != nil {
		t.Fatalf("GetProcessed failed: %v", err)
	}
	if found {
		t.Error("Expected expired marker to be invisible")
	}
}

func TestTransferGuardOneShot(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	claimed, existing, err := service.ClaimTransferGuard(ctx, "pmt-6", models.TransferGasAsset)
	if err != nil {
		t.Fatalf("ClaimTransferGuard failed: %v", err)
	}
	if !claimed || existing != nil {
		t.Fatalf("Expected fresh claim, got claimed=%v existing=%+v", claimed, existing)
	}

	if err := service.SetTransferTxRef(ctx, "pmt-6", models.TransferGasAsset, "0xccc"); err != nil {
		t.Fatalf("SetTransferTxRef failed: %v", err)
	}

	claimed, existing, err = service.ClaimTransferGuard(ctx, "pmt-6", models.TransferGasAsset)
	if err != nil {
		t.Fatalf("ClaimTransferGuard failed: %v", err)
	}
	if claimed {
		t.Error("Expected second claim to be refused")
	}
	if existing == nil || existing.TxRef != "0xccc" {
		t.Errorf("Expected existing guard with tx ref, got %+v", existing)
	}

	// A different kind for the same payment is an independent guard.
	claimed, _, err = service.ClaimTransferGuard(ctx, "pmt-6", models.TransferLoyaltyToken)
	if err != nil {
		t.Fatalf("ClaimTransferGuard failed: %v", err)
	}
	if !claimed {
		t.Error("Expected independent claim for a different transfer kind")
	}
}

func TestTransferGuardRelease(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if claimed, _, _ := service.ClaimTransferGuard(ctx, "pmt-7", models.TransferGasAsset); !claimed {
		t.Fatal("Expected fresh claim")
	}
	if err := service.ReleaseTransferGuard(ctx, "pmt-7", models.TransferGasAsset); err != nil {
		t.Fatalf("ReleaseTransferGuard failed: %v", err)
	}
	if claimed, _, _ := service.ClaimTransferGuard(ctx, "pmt-7", models.TransferGasAsset); !claimed {
		t.Error("Expected claim to succeed after release")
	}
}

func TestNoteMappingFirstWriteWins(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := service.LookupNoteMapping(ctx, "sq-1"); err != store.ErrMappingNotFound {
		t.Fatalf("Expected ErrMappingNotFound, got %v", err)
	}

	if err := service.StoreNoteMapping(ctx, "sq-1", "pmt-8"); err != nil {
		t.Fatalf("StoreNoteMapping failed: %v", err)
	}
	// A repeat with a different logical id is ignored.
	if err := service.StoreNoteMapping(ctx, "sq-1", "pmt-other"); err != nil {
		t.Fatalf("StoreNoteMapping failed: %v", err)
	}

	logicalId, err := service.LookupNoteMapping(ctx, "sq-1")
	if err != nil {
		t.Fatalf("LookupNoteMapping failed: %v", err)
	}
	if logicalId != "pmt-8" {
		t.Errorf("Expected first mapping to win, got %q", logicalId)
	}
}

func TestPurgeExpired(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := service.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: "pmt-9", HolderToken: "holder-a", Ttl: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := service.MarkProcessed(ctx, testRecord("pmt-9"), time.Millisecond); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := service.PurgeExpired(ctx); err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}

	var count int
	if err := service.db.QueryRow("SELECT COUNT(*) FROM processing_locks").Scan(&count); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected expired locks purged, %d remain", count)
	}
	if err := service.db.QueryRow("SELECT COUNT(*) FROM processed_payments").Scan(&count); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected expired markers purged, %d remain", count)
	}
}
