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

// Package orchestrator drives one webhook delivery through verification,
// idempotency, allocation, transfers, and strategy execution.
//
// Three rules hold for every delivery. No side effect runs before the lock
// is held. The processed marker is written only after a usable on-chain
// effect exists. A coordination store failure fails the delivery closed so
// the processor retries later.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tiltvault-clearing-go/internal/allocation"
	"tiltvault-clearing-go/internal/idempotency"
	"tiltvault-clearing-go/internal/ledger"
	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/notes"
	"tiltvault-clearing-go/internal/signature"
	"tiltvault-clearing-go/internal/store"
	"tiltvault-clearing-go/internal/strategy"
	"tiltvault-clearing-go/internal/transfer"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome classifies how a delivery was disposed of.
type Outcome string

const (
	// OutcomeAccepted means the payment was cleared in this invocation.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeAlreadyProcessed means a prior invocation cleared it.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeInFlight means another invocation holds the lock right now.
	OutcomeInFlight Outcome = "in_flight"
	// OutcomeIgnored means the event is authentic but not actionable.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the signature did not verify.
	OutcomeRejected Outcome = "rejected"
	// OutcomeMalformed means the body could not be decoded.
	OutcomeMalformed Outcome = "malformed"
	// OutcomeInvalid means validation or planning failed; manual
	// correction is needed before a retry can succeed.
	OutcomeInvalid Outcome = "invalid"
)

// ErrVerifierNotConfigured is returned when no webhook signature key is set.
// Deliveries are refused rather than waved through.
var ErrVerifierNotConfigured = errors.New("webhook signature key not configured")

// clearableStatuses are the processor payment statuses that represent
// settled funds.
var clearableStatuses = map[string]bool{
	"COMPLETED": true,
	"APPROVED":  true,
}

// Orchestrator owns the clearing pipeline for inbound payment events.
type Orchestrator struct {
	verifier  *signature.Verifier
	idem      *idempotency.Coordinator
	store     store.CoordinationStore
	planner   *allocation.Planner
	executors map[models.StrategyKind]strategy.Executor
	transfers *transfer.Coordinator
	ledger    *ledger.Service

	clearing     models.ClearingConfig
	gasAsset     string
	depositAsset string
	loyaltyToken string
}

type Params struct {
	Verifier     *signature.Verifier
	Store        store.CoordinationStore
	Planner      *allocation.Planner
	Executors    []strategy.Executor
	Transfers    *transfer.Coordinator
	Ledger       *ledger.Service
	Clearing     models.ClearingConfig
	GasAsset     string
	DepositAsset string
	LoyaltyToken string
}

func New(params Params) (*Orchestrator, error) {
	if params.Verifier == nil || params.Store == nil || params.Planner == nil || params.Transfers == nil {
		return nil, fmt.Errorf("orchestrator requires verifier, store, planner and transfer coordinator")
	}

	executors := make(map[models.StrategyKind]strategy.Executor, len(params.Executors))
	for _, exec := range params.Executors {
		executors[exec.Kind()] = exec
	}

	return &Orchestrator{
		verifier:     params.Verifier,
		idem:         idempotency.NewCoordinator(params.Store),
		store:        params.Store,
		planner:      params.Planner,
		executors:    executors,
		transfers:    params.Transfers,
		ledger:       params.Ledger,
		clearing:     params.Clearing,
		gasAsset:     params.GasAsset,
		depositAsset: params.DepositAsset,
		loyaltyToken: params.LoyaltyToken,
	}, nil
}

// HandleDelivery runs the full pipeline for one raw webhook delivery.
//
// The returned error is reserved for infrastructure faults the caller
// should surface as a retryable server error; every business disposition,
// including rejection, arrives as an Outcome.
func (o *Orchestrator) HandleDelivery(ctx context.Context, rawBody []byte, receivedSignature string, candidateURLs []string) (Outcome, *models.PaymentRecord, error) {
	if !o.verifier.Configured() {
		return OutcomeRejected, nil, ErrVerifierNotConfigured
	}
	if !o.verifier.Verify(rawBody, receivedSignature, candidateURLs) {
		zap.L().Warn("Webhook signature rejected",
			zap.Int("body_bytes", len(rawBody)))
		return OutcomeRejected, nil, nil
	}

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		zap.L().Warn("Webhook body rejected as malformed", zap.Error(err))
		return OutcomeMalformed, nil, nil
	}

	payment := envelope.Data.Object.Payment
	event := models.PaymentEvent{
		ExternalId:       payment.Id,
		EventType:        envelope.Type,
		Status:           payment.Status,
		AmountMinorUnits: payment.AmountMoney.Amount,
		Currency:         payment.AmountMoney.Currency,
		Note:             payment.Note,
	}

	return o.Process(ctx, event)
}

// Process clears one flattened payment event. Exposed separately so an
// operator replay can re-run a stored event without a signature.
func (o *Orchestrator) Process(ctx context.Context, event models.PaymentEvent) (Outcome, *models.PaymentRecord, error) {
	if event.ExternalId == "" {
		zap.L().Warn("Payment event missing id", zap.String("event_type", event.EventType))
		return OutcomeMalformed, nil, nil
	}
	if !clearableStatuses[event.Status] {
		zap.L().Info("Ignoring non-clearable payment event",
			zap.String("external_id", event.ExternalId),
			zap.String("status", event.Status))
		return OutcomeIgnored, nil, nil
	}

	note := notes.Parse(event.Note)
	logicalId := note.LogicalPaymentId
	if logicalId == "" {
		logicalId = event.ExternalId
	}

	if err := o.store.StoreNoteMapping(ctx, event.ExternalId, logicalId); err != nil {
		return OutcomeInFlight, nil, fmt.Errorf("failed to store payment mapping: %w", err)
	}

	// Cheap pre-lock check. The authoritative one runs under the lock.
	if record, done, err := o.idem.AlreadyProcessed(ctx, logicalId); err != nil {
		return OutcomeInFlight, nil, fmt.Errorf("processed lookup failed: %w", err)
	} else if done {
		zap.L().Info("Payment already processed, short-circuiting",
			zap.String("logical_payment_id", logicalId))
		return OutcomeAlreadyProcessed, record, nil
	}

	holderToken, acquired, err := o.acquireWithRetry(ctx, logicalId)
	if err != nil {
		return OutcomeInFlight, nil, err
	}
	if !acquired {
		zap.L().Info("Payment is being processed elsewhere",
			zap.String("logical_payment_id", logicalId))
		return OutcomeInFlight, nil, nil
	}
	defer o.idem.ReleaseLock(context.WithoutCancel(ctx), logicalId, holderToken)

	if record, done, err := o.idem.AlreadyProcessed(ctx, logicalId); err != nil {
		return OutcomeInFlight, nil, fmt.Errorf("processed lookup failed: %w", err)
	} else if done {
		return OutcomeAlreadyProcessed, record, nil
	}

	return o.clear(ctx, event, note, logicalId)
}

func (o *Orchestrator) acquireWithRetry(ctx context.Context, logicalId string) (string, bool, error) {
	attempts := o.clearing.LockRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		token, acquired, err := o.idem.TryAcquireLock(ctx, logicalId, o.clearing.LockTtl)
		if err != nil {
			return "", false, fmt.Errorf("lock acquisition failed: %w", err)
		}
		if acquired {
			return token, true, nil
		}
		if i+1 < attempts {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(o.clearing.LockRetryInterval):
			}
		}
	}
	return "", false, nil
}

// clear runs validation, planning, transfers, and strategies under the lock.
func (o *Orchestrator) clear(ctx context.Context, event models.PaymentEvent, note models.PaymentNote, logicalId string) (Outcome, *models.PaymentRecord, error) {
	record := &models.PaymentRecord{
		LogicalPaymentId: logicalId,
		ExternalId:       event.ExternalId,
		Status:           models.PaymentPending,
		WalletAddress:    note.WalletAddress,
		RiskProfile:      note.RiskProfile,
		AmountCharged:    event.ChargedTotal(),
		Currency:         event.Currency,
		StrategyResults:  make(map[models.StrategyKind]models.StrategyResult),
		Transfers:        make(map[models.TransferKind]models.TransferResult),
		CreatedAt:        time.Now().UTC(),
	}

	if reason := o.validate(event, note); reason != "" {
		zap.L().Warn("Payment failed validation",
			zap.String("logical_payment_id", logicalId),
			zap.String("reason", reason))
		record.Status = models.PaymentFailed
		o.persist(ctx, record)
		return OutcomeInvalid, record, nil
	}

	profile, err := o.planner.Profile(note.RiskProfile)
	if err != nil {
		record.Status = models.PaymentFailed
		o.persist(ctx, record)
		return OutcomeInvalid, record, nil
	}

	// Spending debited loyalty tokens entitles the payer to the reduced
	// flat gas fee.
	discountEligible := note.DebitLoyaltyQty > 0

	plan, err := o.planner.Plan(ctx, event.ChargedTotal(), note.RiskProfile, note.DepositAmount, discountEligible)
	if err != nil {
		if errors.Is(err, allocation.ErrPlanRejected) || errors.Is(err, allocation.ErrUnknownProfile) {
			zap.L().Warn("Allocation plan rejected",
				zap.String("logical_payment_id", logicalId),
				zap.Error(err))
			record.Status = models.PaymentFailed
			o.persist(ctx, record)
			return OutcomeInvalid, record, nil
		}
		return OutcomeInFlight, record, fmt.Errorf("allocation planning failed: %w", err)
	}
	record.DepositAmount = plan.DepositAmount

	// Secondary transfers are best effort and never block strategy
	// execution. The gas stipend equals the flat fee the payer was charged;
	// vault-only profiles carry no stipend at all.
	if plan.GasFeeUnits.IsPositive() {
		record.Transfers[models.TransferGasAsset] = o.transfers.EnsureTransferred(
			ctx, logicalId, models.TransferGasAsset, o.gasAsset, note.WalletAddress, plan.GasFeeUnits)
	}
	if note.LoyaltyPurchaseQty > 0 {
		record.Transfers[models.TransferLoyaltyToken] = o.transfers.EnsureTransferred(
			ctx, logicalId, models.TransferLoyaltyToken, o.loyaltyToken, note.WalletAddress,
			decimal.NewFromInt(note.LoyaltyPurchaseQty))
	}

	for _, kind := range profile.Active() {
		amount := plan.PerStrategy[kind]
		record.StrategyResults[kind] = o.executeStrategy(ctx, logicalId, kind, amount, note.WalletAddress)
	}

	record.ExecutedAt = time.Now().UTC()
	if record.HasUsableEffect() {
		record.Status = models.PaymentActive
	} else {
		record.Status = models.PaymentFailed
	}

	o.persist(ctx, record)

	if record.Status == models.PaymentActive {
		if err := o.idem.RecordSuccess(ctx, record, o.clearing.ProcessedTtl); err != nil {
			// The record is durable; the worst case is a redundant
			// redelivery that short-circuits on the record itself.
			zap.L().Error("Failed to write processed marker",
				zap.String("logical_payment_id", logicalId),
				zap.Error(err))
		}
		o.ledger.RecordClearing(ctx, record, o.depositAsset, o.gasAsset, o.loyaltyToken)
	} else {
		zap.L().Warn("All strategies failed, withholding processed marker",
			zap.String("logical_payment_id", logicalId))
	}

	zap.L().Info("Payment cleared",
		zap.String("logical_payment_id", logicalId),
		zap.String("status", string(record.Status)),
		zap.String("deposit_amount", plan.DepositAmount.String()),
		zap.String("risk_profile", note.RiskProfile))

	return OutcomeAccepted, record, nil
}

func (o *Orchestrator) validate(event models.PaymentEvent, note models.PaymentNote) string {
	charged := event.ChargedTotal()
	if charged.LessThan(o.clearing.MinPayment) {
		return fmt.Sprintf("charged total %s below minimum %s", charged, o.clearing.MinPayment)
	}
	if charged.GreaterThan(o.clearing.MaxPayment) {
		return fmt.Sprintf("charged total %s above maximum %s", charged, o.clearing.MaxPayment)
	}
	if !notes.IsWalletAddress(note.WalletAddress) {
		return fmt.Sprintf("wallet address %q is invalid", note.WalletAddress)
	}
	if note.RiskProfile == "" {
		return "note carries no risk profile"
	}
	if note.Email != "" && !notes.IsEmail(note.Email) {
		return fmt.Sprintf("email %q is invalid", note.Email)
	}
	return ""
}

// executeStrategy runs one executor and substitutes a direct wallet transfer
// when the venue fails transiently. The substitution is recorded as a
// success so the payer's funds are never stranded in custody, with the
// fallback noted on the result.
func (o *Orchestrator) executeStrategy(ctx context.Context, logicalId string, kind models.StrategyKind, amount decimal.Decimal, walletAddress string) models.StrategyResult {
	executor, ok := o.executors[kind]
	if !ok {
		return models.StrategyResult{Success: false, Amount: amount, Error: fmt.Sprintf("no executor for strategy %s", kind)}
	}
	if !amount.IsPositive() {
		return models.StrategyResult{Success: false, Amount: amount, Error: "no allocation"}
	}

	result, err := executor.Execute(ctx, amount, walletAddress)
	if err == nil {
		return result
	}

	if !strategy.IsTransient(err) {
		zap.L().Warn("Strategy failed permanently",
			zap.String("logical_payment_id", logicalId),
			zap.String("strategy", string(kind)),
			zap.Error(err))
		return models.StrategyResult{Success: false, Amount: amount, Error: err.Error()}
	}

	zap.L().Warn("Strategy failed transiently, attempting fallback transfer",
		zap.String("logical_payment_id", logicalId),
		zap.String("strategy", string(kind)),
		zap.Error(err))

	fallback := o.transfers.EnsureTransferred(
		ctx, logicalId, models.FallbackTransferKind(kind), o.depositAsset, walletAddress, amount)
	if !fallback.Success {
		return models.StrategyResult{
			Success: false,
			Amount:  amount,
			Error:   fmt.Sprintf("%v; fallback transfer failed: %s", err, fallback.Error),
		}
	}

	return models.StrategyResult{
		Success: true,
		Amount:  amount,
		TxRef:   fallback.TxRef,
		Error:   "fallback used",
	}
}

func (o *Orchestrator) persist(ctx context.Context, record *models.PaymentRecord) {
	if err := o.store.PutRecord(ctx, record); err != nil {
		zap.L().Error("Failed to persist payment record",
			zap.String("logical_payment_id", record.LogicalPaymentId),
			zap.Error(err))
	}
}
