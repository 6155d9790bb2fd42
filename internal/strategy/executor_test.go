package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tiltvault-clearing-go/internal/chain"

	"github.com/shopspring/decimal"
)

const testWallet = "0x1111111111111111111111111111111111111111"

type fakePool struct {
	calls int
	txRef string
	err   error
}

func (f *fakePool) Supply(ctx context.Context, amount decimal.Decimal, onBehalfOf string) (string, error) {
	f.calls++
	return f.txRef, f.err
}

type fakeVenue struct {
	txRef        string
	err          error
	lastLeverage int64
}

func (f *fakeVenue) OpenLong(ctx context.Context, collateral decimal.Decimal, leverage int64, onBehalfOf string) (string, error) {
	f.lastLeverage = leverage
	return f.txRef, f.err
}

type fakeVault struct {
	previewShares decimal.Decimal
	previewErr    error
	depositShares decimal.Decimal
	depositErr    error
	txRef         string
}

func (f *fakeVault) PreviewDeposit(ctx context.Context, assets decimal.Decimal) (decimal.Decimal, error) {
	return f.previewShares, f.previewErr
}

func (f *fakeVault) Deposit(ctx context.Context, assets decimal.Decimal, receiver string) (string, decimal.Decimal, error) {
	return f.txRef, f.depositShares, f.depositErr
}

func TestLendingExecuteSuccess(t *testing.T) {
	pool := &fakePool{txRef: "0xaaa"}
	executor := NewLendingExecutor(pool)

	result, err := executor.Execute(context.Background(), decimal.RequireFromString("6.00"), testWallet)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success || result.TxRef != "0xaaa" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if !result.Amount.Equal(decimal.RequireFromString("6.00")) {
		t.Errorf("Expected amount recorded, got %s", result.Amount)
	}
}

func TestLendingExecuteBelowMinimum(t *testing.T) {
	pool := &fakePool{txRef: "0xaaa"}
	executor := NewLendingExecutor(pool)

	_, err := executor.Execute(context.Background(), decimal.RequireFromString("0.005"), testWallet)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("Expected ErrBelowMinimum, got %v", err)
	}
	if pool.calls != 0 {
		t.Errorf("Expected no pool call below minimum, got %d", pool.calls)
	}
}

func TestLendingExecuteTransientPassthrough(t *testing.T) {
	pool := &fakePool{err: fmt.Errorf("supply: %w", chain.ErrTransient)}
	executor := NewLendingExecutor(pool)

	_, err := executor.Execute(context.Background(), decimal.NewFromInt(5), testWallet)
	if !errors.Is(err, chain.ErrTransient) {
		t.Fatalf("Expected transient error passthrough, got %v", err)
	}
}

func TestLendingExecutePermanentFailure(t *testing.T) {
	pool := &fakePool{err: errors.New("execution reverted: supply cap reached")}
	executor := NewLendingExecutor(pool)

	result, err := executor.Execute(context.Background(), decimal.NewFromInt(5), testWallet)
	if err != nil {
		t.Fatalf("Expected recordable result for permanent failure, got error: %v", err)
	}
	if result.Success {
		t.Error("Expected failed result")
	}
	if !strings.Contains(result.Error, "supply cap") {
		t.Errorf("Expected venue error in result, got %q", result.Error)
	}
}

func TestLeverageExecuteUsesDefaultLeverage(t *testing.T) {
	venue := &fakeVenue{txRef: "0xbbb"}
	executor := NewLeverageExecutor(venue)

	result, err := executor.Execute(context.Background(), decimal.NewFromInt(5), testWallet)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success || result.TxRef != "0xbbb" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if venue.lastLeverage != defaultLeverage {
		t.Errorf("Expected leverage %d, got %d", defaultLeverage, venue.lastLeverage)
	}
}

func TestLeverageExecuteBelowMinimum(t *testing.T) {
	executor := NewLeverageExecutor(&fakeVenue{txRef: "0xbbb"})

	_, err := executor.Execute(context.Background(), decimal.RequireFromString("0.50"), testWallet)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("Expected ErrBelowMinimum, got %v", err)
	}
}

func TestVaultExecuteSuccess(t *testing.T) {
	vault := &fakeVault{
		previewShares: decimal.NewFromInt(100),
		depositShares: decimal.NewFromInt(100),
		txRef:         "0xccc",
	}
	executor := NewVaultExecutor(vault)

	result, err := executor.Execute(context.Background(), decimal.NewFromInt(10), testWallet)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success || result.TxRef != "0xccc" {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestVaultExecuteSlippage(t *testing.T) {
	vault := &fakeVault{
		previewShares: decimal.NewFromInt(100),
		depositShares: decimal.NewFromInt(98),
		txRef:         "0xccc",
	}
	executor := NewVaultExecutor(vault)

	result, err := executor.Execute(context.Background(), decimal.NewFromInt(10), testWallet)
	if err != nil {
		t.Fatalf("Expected recordable result, got error: %v", err)
	}
	if result.Success {
		t.Error("Expected slippage failure")
	}
	// The deposit landed on chain even though it failed the check, so the
	// tx ref must survive into the record.
	if result.TxRef != "0xccc" {
		t.Errorf("Expected tx ref on slippage failure, got %q", result.TxRef)
	}
	if !strings.Contains(result.Error, "slippage") {
		t.Errorf("Expected slippage reason, got %q", result.Error)
	}
}

func TestVaultExecuteWithinTolerance(t *testing.T) {
	vault := &fakeVault{
		previewShares: decimal.NewFromInt(100),
		depositShares: decimal.NewFromInt(99),
		txRef:         "0xccc",
	}
	executor := NewVaultExecutor(vault)

	result, err := executor.Execute(context.Background(), decimal.NewFromInt(10), testWallet)
	if err != nil || !result.Success {
		t.Fatalf("Expected 99%% of quote to pass, got result=%+v err=%v", result, err)
	}
}

func TestVaultExecuteUnreportedSharesSkipCheck(t *testing.T) {
	vault := &fakeVault{
		previewShares: decimal.NewFromInt(100),
		depositShares: decimal.Zero,
		txRef:         "0xccc",
	}
	executor := NewVaultExecutor(vault)

	result, err := executor.Execute(context.Background(), decimal.NewFromInt(10), testWallet)
	if err != nil || !result.Success {
		t.Fatalf("Expected success when shares are unreported, got result=%+v err=%v", result, err)
	}
}

func TestVaultExecuteTransientPreview(t *testing.T) {
	vault := &fakeVault{previewErr: fmt.Errorf("quote: %w", chain.ErrTransient)}
	executor := NewVaultExecutor(vault)

	_, err := executor.Execute(context.Background(), decimal.NewFromInt(10), testWallet)
	if !errors.Is(err, chain.ErrTransient) {
		t.Fatalf("Expected transient error passthrough, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped chain transient", fmt.Errorf("x: %w", chain.ErrTransient), true},
		{"deadline", context.DeadlineExceeded, true},
		{"revert", errors.New("execution reverted"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
