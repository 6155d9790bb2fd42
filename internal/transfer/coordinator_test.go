package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tiltvault-clearing-go/internal/chain"
	"tiltvault-clearing-go/internal/database"
	"tiltvault-clearing-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	testWallet    = "0x1111111111111111111111111111111111111111"
	testCustodial = "0x2222222222222222222222222222222222222222"
)

type fakeSender struct {
	calls   int
	txRef   string
	err     error
	lastRef string
}

func (f *fakeSender) SendAsset(ctx context.Context, assetSymbol, toAddress string, amount decimal.Decimal, reference string) (string, error) {
	f.calls++
	f.lastRef = reference
	if f.err != nil {
		return "", f.err
	}
	return f.txRef, nil
}

func setupCoordinator(t *testing.T, sender *fakeSender) (*Coordinator, func()) {
	dbService, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	coordinator := NewCoordinator(dbService, sender, testCustodial)
	return coordinator, dbService.Close
}

func TestEnsureTransferredSendsOnce(t *testing.T) {
	sender := &fakeSender{txRef: "0xabc"}
	coordinator, cleanup := setupCoordinator(t, sender)
	defer cleanup()
	ctx := context.Background()
	amount := decimal.RequireFromString("0.005")

	result := coordinator.EnsureTransferred(ctx, "pmt-1", models.TransferGasAsset, "AVAX", testWallet, amount)
	if !result.Success || result.Skipped {
		t.Fatalf("Expected successful send, got %+v", result)
	}
	if result.TxRef != "0xabc" {
		t.Errorf("Expected tx ref 0xabc, got %q", result.TxRef)
	}
	if sender.lastRef != "pmt-1-gas_asset" {
		t.Errorf("Expected deterministic reference, got %q", sender.lastRef)
	}

	// The redelivery path: same payment and kind must not send again.
	result = coordinator.EnsureTransferred(ctx, "pmt-1", models.TransferGasAsset, "AVAX", testWallet, amount)
	if !result.Success || !result.Skipped {
		t.Fatalf("Expected skipped result on second call, got %+v", result)
	}
	if result.TxRef != "0xabc" {
		t.Errorf("Expected prior tx ref on skip, got %q", result.TxRef)
	}
	if sender.calls != 1 {
		t.Errorf("Expected exactly one send, got %d", sender.calls)
	}
}

func TestEnsureTransferredKindsAreIndependent(t *testing.T) {
	sender := &fakeSender{txRef: "0xabc"}
	coordinator, cleanup := setupCoordinator(t, sender)
	defer cleanup()
	ctx := context.Background()

	coordinator.EnsureTransferred(ctx, "pmt-2", models.TransferGasAsset, "AVAX", testWallet, decimal.RequireFromString("0.005"))
	result := coordinator.EnsureTransferred(ctx, "pmt-2", models.TransferLoyaltyToken, "ERGC", testWallet, decimal.NewFromInt(3))
	if !result.Success || result.Skipped {
		t.Fatalf("Expected independent send for second kind, got %+v", result)
	}
	if sender.calls != 2 {
		t.Errorf("Expected two sends, got %d", sender.calls)
	}
}

func TestEnsureTransferredZeroAmountSkipped(t *testing.T) {
	sender := &fakeSender{txRef: "0xabc"}
	coordinator, cleanup := setupCoordinator(t, sender)
	defer cleanup()

	result := coordinator.EnsureTransferred(context.Background(), "pmt-3", models.TransferGasAsset, "AVAX", testWallet, decimal.Zero)
	if !result.Skipped {
		t.Fatalf("Expected zero amount to be skipped, got %+v", result)
	}
	if sender.calls != 0 {
		t.Errorf("Expected no sends, got %d", sender.calls)
	}
}

func TestEnsureTransferredRejectsBadDestination(t *testing.T) {
	sender := &fakeSender{txRef: "0xabc"}
	coordinator, cleanup := setupCoordinator(t, sender)
	defer cleanup()
	ctx := context.Background()
	amount := decimal.NewFromInt(1)

	result := coordinator.EnsureTransferred(ctx, "pmt-4", models.TransferGasAsset, "AVAX", "not-an-address", amount)
	if result.Success || result.Error == "" {
		t.Fatalf("Expected failure for invalid address, got %+v", result)
	}

	// The custodial address is never a valid destination, case-insensitively.
	result = coordinator.EnsureTransferred(ctx, "pmt-4", models.TransferGasAsset, "AVAX",
		"0x2222222222222222222222222222222222222222", amount)
	if result.Success {
		t.Fatalf("Expected self-transfer refusal, got %+v", result)
	}
	if sender.calls != 0 {
		t.Errorf("Expected no sends, got %d", sender.calls)
	}
}

func TestEnsureTransferredReleasesGuardOnPermanentRejection(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("%w: signer returned 400 (bad destination)", chain.ErrPermanent)}
	coordinator, cleanup := setupCoordinator(t, sender)
	defer cleanup()
	ctx := context.Background()
	amount := decimal.RequireFromString("0.005")

	result := coordinator.EnsureTransferred(ctx, "pmt-5", models.TransferGasAsset, "AVAX", testWallet, amount)
	if result.Success {
		t.Fatalf("Expected failure, got %+v", result)
	}

	// A permanent rejection never reached the network, so the guard was
	// released and a redelivery retries the send.
	sender.err = nil
	sender.txRef = "0xdef"
	result = coordinator.EnsureTransferred(ctx, "pmt-5", models.TransferGasAsset, "AVAX", testWallet, amount)
	if !result.Success || result.Skipped {
		t.Fatalf("Expected retry to send, got %+v", result)
	}
	if result.TxRef != "0xdef" {
		t.Errorf("Expected tx ref 0xdef, got %q", result.TxRef)
	}
	if sender.calls != 2 {
		t.Errorf("Expected two send attempts, got %d", sender.calls)
	}
}

func TestEnsureTransferredKeepsGuardOnAmbiguousFailure(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("%w: signer request timed out", chain.ErrTransient)}
	coordinator, cleanup := setupCoordinator(t, sender)
	defer cleanup()
	ctx := context.Background()
	amount := decimal.RequireFromString("0.005")

	result := coordinator.EnsureTransferred(ctx, "pmt-6", models.TransferGasAsset, "AVAX", testWallet, amount)
	if result.Success {
		t.Fatalf("Expected failure, got %+v", result)
	}

	// A timeout may have broadcast the transaction. The claim survives, so
	// the redelivery must skip instead of sending a second time.
	sender.err = nil
	sender.txRef = "0xsecond"
	result = coordinator.EnsureTransferred(ctx, "pmt-6", models.TransferGasAsset, "AVAX", testWallet, amount)
	if !result.Success || !result.Skipped {
		t.Fatalf("Expected skipped result after ambiguous failure, got %+v", result)
	}
	if sender.calls != 1 {
		t.Errorf("Expected exactly one send attempt, got %d", sender.calls)
	}
}
