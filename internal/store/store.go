package store

import (
	"context"
	"errors"
	"time"

	"tiltvault-clearing-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrRecordNotFound  = errors.New("payment record not found")
	ErrMappingNotFound = errors.New("no logical payment mapped for external id")
	ErrNotLockHolder   = errors.New("lock not held by this holder")
)

// AcquireLockParams contains the parameters for a lock acquisition attempt.
type AcquireLockParams struct {
	LogicalPaymentId string
	HolderToken      string
	Ttl              time.Duration
}

// CoordinationStore is the key-value coordination contract every backend must
// satisfy. All mutual exclusion in the system flows through it: handler
// instances share no in-process state, so an unreachable store means the
// caller must fail closed.
type CoordinationStore interface {
	// --- Processing locks ---
	// AcquireLock is an atomic compare-and-set: it succeeds when no live lock
	// exists for the logical payment, stealing expired locks in the same
	// statement. Returns false without error when another holder is live.
	AcquireLock(ctx context.Context, params AcquireLockParams) (bool, error)
	// ReleaseLock deletes the lock only if holderToken owns it. Idempotent.
	ReleaseLock(ctx context.Context, logicalPaymentId, holderToken string) error

	// --- Processed markers ---
	GetProcessed(ctx context.Context, logicalPaymentId string) (*models.PaymentRecord, bool, error)
	MarkProcessed(ctx context.Context, record *models.PaymentRecord, ttl time.Duration) error

	// --- Payment records ---
	PutRecord(ctx context.Context, record *models.PaymentRecord) error
	GetRecord(ctx context.Context, logicalPaymentId string) (*models.PaymentRecord, error)
	ListRecords(ctx context.Context, limit int) ([]models.PaymentRecord, error)

	// --- Transfer guards ---
	// ClaimTransferGuard atomically claims the (logicalPaymentId, kind) pair.
	// The first claimer wins; later callers receive claimed=false plus the
	// existing guard, even if the first transfer has not confirmed yet.
	ClaimTransferGuard(ctx context.Context, logicalPaymentId string, kind models.TransferKind) (bool, *models.TransferGuard, error)
	SetTransferTxRef(ctx context.Context, logicalPaymentId string, kind models.TransferKind, txRef string) error
	// ReleaseTransferGuard removes a claim whose submission failed outright,
	// so a later redelivery may retry the transfer.
	ReleaseTransferGuard(ctx context.Context, logicalPaymentId string, kind models.TransferKind) error

	// --- Note mappings ---
	StoreNoteMapping(ctx context.Context, externalId, logicalPaymentId string) error
	LookupNoteMapping(ctx context.Context, externalId string) (string, error)

	// --- Lifecycle ---
	PurgeExpired(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
