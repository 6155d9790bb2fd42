package custody

import (
	"testing"

	"github.com/google/uuid"
)

func TestWithdrawalIdempotencyKeyDeterministic(t *testing.T) {
	first := withdrawalIdempotencyKey("pmt-1-gas_asset")
	second := withdrawalIdempotencyKey("pmt-1-gas_asset")
	if first != second {
		t.Errorf("Expected the same key for the same reference, got %q and %q", first, second)
	}

	other := withdrawalIdempotencyKey("pmt-1-loyalty_token")
	if other == first {
		t.Error("Expected distinct keys for distinct references")
	}
}

func TestWithdrawalIdempotencyKeyShape(t *testing.T) {
	for _, reference := range []string{"", "pmt-1-gas_asset"} {
		key := withdrawalIdempotencyKey(reference)
		if _, err := uuid.Parse(key); err != nil {
			t.Errorf("Expected UUID-shaped key for reference %q, got %q: %v", reference, key, err)
		}
	}
}

func TestWithdrawalIdempotencyKeyRandomWithoutReference(t *testing.T) {
	if withdrawalIdempotencyKey("") == withdrawalIdempotencyKey("") {
		t.Error("Expected fresh keys when no reference is given")
	}
}
