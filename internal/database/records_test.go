package database

import (
	"context"
	"testing"
	"time"

	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestRecordRoundtrip(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	record := testRecord("pmt-r1")
	record.ExecutedAt = time.Now().UTC()
	if err := service.PutRecord(ctx, record); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	stored, err := service.GetRecord(ctx, "pmt-r1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if stored.ExternalId != record.ExternalId || stored.Status != record.Status {
		t.Errorf("Record mismatch: %+v", stored)
	}
	if !stored.AmountCharged.Equal(record.AmountCharged) {
		t.Errorf("Expected charged %s, got %s", record.AmountCharged, stored.AmountCharged)
	}
	if res := stored.StrategyResults[models.StrategyLendingSupply]; !res.Success || !res.Amount.Equal(decimal.RequireFromString("6.00")) {
		t.Errorf("Strategy result mismatch: %+v", res)
	}
	if tr := stored.Transfers[models.TransferGasAsset]; tr.TxRef != "0xbbb" {
		t.Errorf("Transfer mismatch: %+v", tr)
	}
	if stored.ExecutedAt.IsZero() {
		t.Error("Expected executed_at to survive the roundtrip")
	}
}

func TestRecordUpsertRefreshesOutcome(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	record := testRecord("pmt-r2")
	record.Status = models.PaymentPending
	if err := service.PutRecord(ctx, record); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	record.Status = models.PaymentActive
	record.ExecutedAt = time.Now().UTC()
	if err := service.PutRecord(ctx, record); err != nil {
		t.Fatalf("PutRecord upsert failed: %v", err)
	}

	stored, err := service.GetRecord(ctx, "pmt-r2")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if stored.Status != models.PaymentActive {
		t.Errorf("Expected refreshed status, got %s", stored.Status)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := service.GetRecord(context.Background(), "pmt-missing"); err != store.ErrRecordNotFound {
		t.Fatalf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestListRecordsNewestFirst(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	older := testRecord("pmt-r3")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := testRecord("pmt-r4")
	for _, record := range []*models.PaymentRecord{older, newer} {
		if err := service.PutRecord(ctx, record); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}

	records, err := service.ListRecords(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].LogicalPaymentId != "pmt-r4" {
		t.Errorf("Expected newest first, got %s", records[0].LogicalPaymentId)
	}

	records, err = service.ListRecords(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected limit respected, got %d", len(records))
	}
}
