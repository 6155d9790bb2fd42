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

// Package idempotency guarantees at-most-one concurrent execution and
// at-most-one recorded success per logical payment across stateless handler
// instances.
//
// The single most important invariant of the subsystem: the lock is acquired
// before any external side effect, and the processed marker is written only
// after all side effects for the payment have completed. Marking processed
// on lock acquisition would swallow retries of partially-failed payments.
// Store errors always propagate -- an unreachable store blocks the operation
// rather than risking duplicate fund movement.
package idempotency

import (
	"context"
	"time"

	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Coordinator struct {
	store store.CoordinationStore
}

func NewCoordinator(st store.CoordinationStore) *Coordinator {
	return &Coordinator{store: st}
}

// TryAcquireLock attempts to become the sole processor of a logical payment.
// On success it returns the holder token needed to release the lock.
func (c *Coordinator) TryAcquireLock(ctx context.Context, logicalPaymentId string, ttl time.Duration) (string, bool, error) {
	holderToken := uuid.New().String()

	acquired, err := c.store.AcquireLock(ctx, store.AcquireLockParams{
		LogicalPaymentId: logicalPaymentId,
		HolderToken:      holderToken,
		Ttl:              ttl,
	})
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}

	zap.L().Debug("Processing lock acquired",
		zap.String("logical_payment_id", logicalPaymentId),
		zap.String("holder_token", holderToken),
		zap.Duration("ttl", ttl))
	return holderToken, true, nil
}

// ReleaseLock gives up the lock. Idempotent; invoked from cleanup paths
// regardless of outcome, so failures are logged rather than returned.
func (c *Coordinator) ReleaseLock(ctx context.Context, logicalPaymentId, holderToken string) {
	if err := c.store.ReleaseLock(ctx, logicalPaymentId, holderToken); err != nil {
		zap.L().Error("Failed to release processing lock",
			zap.String("logical_payment_id", logicalPaymentId),
			zap.Error(err))
	}
}

// AlreadyProcessed returns the cached terminal record for a logical payment
// when one exists, so redeliveries short-circuit without side effects.
func (c *Coordinator) AlreadyProcessed(ctx context.Context, logicalPaymentId string) (*models.PaymentRecord, bool, error) {
	return c.store.GetProcessed(ctx, logicalPaymentId)
}

// RecordSuccess stores the terminal result with a long expiry. Only called
// once every side effect for the payment has completed.
func (c *Coordinator) RecordSuccess(ctx context.Context, record *models.PaymentRecord, ttl time.Duration) error {
	return c.store.MarkProcessed(ctx, record, ttl)
}
