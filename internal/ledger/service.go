// Package ledger mirrors clearing outcomes into a Formance Stack ledger for
// audit and reconciliation. The mirror is best effort: the coordination
// store stays the source of truth, and a ledger outage never blocks or
// fails a clearing.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"tiltvault-clearing-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// assetPrecision maps canonical asset symbols to their decimal precision.
var assetPrecision = map[string]int{
	"USD":  2,
	"USDC": 6,
	"USDT": 6,
	"AVAX": 18,
	"ETH":  18,
	"ERGC": 18,
}

const numscriptStrategyPlacement = `vars {
  asset $asset
  number $amount
  account $wallet
  string $strategy
  string $logical_payment_id
  string $tx_ref
}

send [$asset $amount] (
  source = @custody:treasury allowing unbounded overdraft
  destination = @users:$wallet:strategy:$strategy
)

set_tx_meta("event_type", "strategy_placement")
set_tx_meta("strategy", $strategy)
set_tx_meta("logical_payment_id", $logical_payment_id)
set_tx_meta("tx_ref", $tx_ref)
`

const numscriptWalletTransfer = `vars {
  asset $asset
  number $amount
  account $wallet
  string $transfer_kind
  string $logical_payment_id
  string $tx_ref
}

send [$asset $amount] (
  source = @custody:treasury allowing unbounded overdraft
  destination = @users:$wallet:holdings
)

set_tx_meta("event_type", "wallet_transfer")
set_tx_meta("transfer_kind", $transfer_kind)
set_tx_meta("logical_payment_id", $logical_payment_id)
set_tx_meta("tx_ref", $tx_ref)
`

// Service mirrors clearing postings into a Formance ledger.
type Service struct {
	client *v3.Formance
	ledger string
}

// NewService connects to the stack and creates the ledger if it does not
// already exist. A nil *Service is a valid disabled mirror.
func NewService(ctx context.Context, cfg models.LedgerConfig) (*Service, error) {
	if cfg.StackURL == "" {
		return nil, nil
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("ledger config requires client id and secret when a stack url is set")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "tiltvault-clearing"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Ledger mirror initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "tiltvault-clearing",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// RecordClearing posts one ledger transaction per usable effect in the
// record. References embed the logical payment id so a redelivered clearing
// collapses into conflicts, which are treated as already recorded.
func (s *Service) RecordClearing(ctx context.Context, record *models.PaymentRecord, depositAsset, gasAsset, loyaltyAsset string) {
	if s == nil {
		return
	}

	for _, kind := range models.StrategyKinds {
		result, ok := record.StrategyResults[kind]
		if !ok || !result.Success || !result.Amount.IsPositive() {
			continue
		}
		s.postStrategy(ctx, record, kind, depositAsset, result.Amount, result.TxRef)
	}

	for kind, result := range record.Transfers {
		if !result.Success || result.Skipped || !result.Amount.IsPositive() {
			continue
		}
		asset := gasAsset
		if kind == models.TransferLoyaltyToken {
			asset = loyaltyAsset
		}
		s.postTransfer(ctx, record, kind, asset, result.Amount, result.TxRef)
	}
}

func (s *Service) postStrategy(ctx context.Context, record *models.PaymentRecord, kind models.StrategyKind, asset string, amount decimal.Decimal, txRef string) {
	reference := record.LogicalPaymentId + "-" + string(kind)
	postTx := shared.V2PostTransaction{
		Reference: v3.Pointer(reference),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptStrategyPlacement,
			Vars: map[string]string{
				"asset":              formanceAsset(asset),
				"amount":             toMinorUnits(amount, asset),
				"wallet":             record.WalletAddress,
				"strategy":           string(kind),
				"logical_payment_id": record.LogicalPaymentId,
				"tx_ref":             txRef,
			},
		},
	}

	s.post(ctx, postTx, reference)
}

func (s *Service) postTransfer(ctx context.Context, record *models.PaymentRecord, kind models.TransferKind, asset string, amount decimal.Decimal, txRef string) {
	reference := record.LogicalPaymentId + "-" + string(kind)
	postTx := shared.V2PostTransaction{
		Reference: v3.Pointer(reference),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptWalletTransfer,
			Vars: map[string]string{
				"asset":              formanceAsset(asset),
				"amount":             toMinorUnits(amount, asset),
				"wallet":             record.WalletAddress,
				"transfer_kind":      string(kind),
				"logical_payment_id": record.LogicalPaymentId,
				"tx_ref":             txRef,
			},
		},
	}

	s.post(ctx, postTx, reference)
}

func (s *Service) post(ctx context.Context, postTx shared.V2PostTransaction, reference string) {
	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return // already mirrored
		}
		zap.L().Warn("Ledger mirror posting failed",
			zap.String("reference", reference),
			zap.Error(err))
		return
	}

	zap.L().Info("Clearing mirrored to ledger", zap.String("reference", reference))
}

// formanceAsset returns the Formance UMN notation, e.g. "USDC/6".
func formanceAsset(symbol string) string {
	if p, ok := assetPrecision[symbol]; ok {
		return fmt.Sprintf("%s/%d", symbol, p)
	}
	return fmt.Sprintf("%s/6", symbol)
}

func precisionFor(symbol string) int {
	if p, ok := assetPrecision[symbol]; ok {
		return p
	}
	return 6
}

func toMinorUnits(amount decimal.Decimal, symbol string) string {
	return amount.Shift(int32(precisionFor(symbol))).BigInt().String()
}

func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}
