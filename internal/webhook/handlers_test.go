package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tiltvault-clearing-go/internal/allocation"
	"tiltvault-clearing-go/internal/database"
	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/orchestrator"
	"tiltvault-clearing-go/internal/signature"
	"tiltvault-clearing-go/internal/strategy"
	"tiltvault-clearing-go/internal/transfer"

	"github.com/shopspring/decimal"
)

const (
	testKey    = "test-webhook-key"
	testURL    = "https://pay.tiltvault.com/payment-events"
	testWallet = "0x1111111111111111111111111111111111111111"
)

type stubOracle struct{}

func (stubOracle) CurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.NewFromInt(30), nil
}

type stubExecutor struct{}

func (stubExecutor) Kind() models.StrategyKind  { return models.StrategyLendingSupply }
func (stubExecutor) MinAmount() decimal.Decimal { return decimal.RequireFromString("0.01") }
func (stubExecutor) Execute(ctx context.Context, amount decimal.Decimal, walletAddress string) (models.StrategyResult, error) {
	return models.StrategyResult{Success: true, Amount: amount, TxRef: "0xlend"}, nil
}

type stubSender struct{}

func (stubSender) SendAsset(ctx context.Context, assetSymbol, toAddress string, amount decimal.Decimal, reference string) (string, error) {
	return "0xsend", nil
}

func setupHandler(t *testing.T, signatureKey string) (*Handler, *database.Service) {
	dbService, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(dbService.Close)

	profiles := map[string]allocation.Profile{
		"conservative": {Name: "conservative", Allocations: map[string]int{"lending_supply": 100}},
	}
	planner := allocation.NewPlanner(profiles, stubOracle{}, "AVAX")

	orch, err := orchestrator.New(orchestrator.Params{
		Verifier:  signature.NewVerifier(signatureKey, testURL),
		Store:     dbService,
		Planner:   planner,
		Executors: []strategy.Executor{stubExecutor{}},
		Transfers: transfer.NewCoordinator(dbService, stubSender{}, "0x2222222222222222222222222222222222222222"),
		Clearing: models.ClearingConfig{
			LockTtl:      time.Minute,
			LockRetries:  1,
			ProcessedTtl: time.Hour,
			MinPayment:   decimal.RequireFromString("1.00"),
			MaxPayment:   decimal.RequireFromString("10000.00"),
		},
		GasAsset:     "AVAX",
		DepositAsset: "USDC",
		LoyaltyToken: "ERGC",
	})
	if err != nil {
		t.Fatalf("Failed to build orchestrator: %v", err)
	}

	cfg := models.WebhookConfig{
		SignatureKey:    signatureKey,
		NotificationURL: testURL,
		MaxBodyBytes:    1 << 20,
	}
	return NewHandler(orch, dbService, cfg), dbService
}

func signBody(key, url string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func deliveryBody(externalId string) []byte {
	note := "payment:pmt-" + externalId + " wallet:" + testWallet + " risk:conservative deposit:6.00"
	return []byte(fmt.Sprintf(`{"id":"evt-1","type":"payment.updated","data":{"object":{"payment":{"id":%q,"status":"COMPLETED","amount_money":{"amount":783,"currency":"USD"},"note":%q}}}}`,
		externalId, note))
}

func postDelivery(handler *Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payment-events", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set("x-square-hmacsha256-signature", sig)
	}
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "pay.tiltvault.com")
	rec := httptest.NewRecorder()
	handler.PaymentEvents(rec, req)
	return rec
}

func TestPaymentEventsAcceptsSignedDelivery(t *testing.T) {
	handler, _ := setupHandler(t, testKey)
	body := deliveryBody("sq-1")

	rec := postDelivery(handler, body, signBody(testKey, testURL, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp eventResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != string(orchestrator.OutcomeAccepted) {
		t.Errorf("Expected accepted, got %q", resp.Status)
	}
	if resp.LogicalPaymentId != "pmt-sq-1" {
		t.Errorf("Expected logical id in response, got %q", resp.LogicalPaymentId)
	}
	if resp.PaymentStatus != string(models.PaymentActive) {
		t.Errorf("Expected active payment, got %q", resp.PaymentStatus)
	}
}

func TestPaymentEventsVerifiesViaProxyHeaders(t *testing.T) {
	handler, _ := setupHandler(t, testKey)
	body := deliveryBody("sq-2")

	// Sign against the externally visible URL only; the configured URL in
	// the verifier still matches via its own candidate, but here we sign
	// for a URL the handler must reconstruct from the proxy headers.
	req := httptest.NewRequest(http.MethodPost, "/payment-events", bytes.NewReader(body))
	req.Header.Set("x-square-hmacsha256-signature", signBody(testKey, "https://edge.tiltvault.com/payment-events", body))
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "edge.tiltvault.com")
	rec := httptest.NewRecorder()
	handler.PaymentEvents(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 via proxy-derived URL, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPaymentEventsRejectsBadSignature(t *testing.T) {
	handler, _ := setupHandler(t, testKey)
	body := deliveryBody("sq-3")

	rec := postDelivery(handler, body, signBody("wrong-key", testURL, body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}

	rec = postDelivery(handler, body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for missing signature, got %d", rec.Code)
	}
}

func TestPaymentEventsRejectsMalformedBody(t *testing.T) {
	handler, _ := setupHandler(t, testKey)
	body := []byte(`{"type": "payment.updated",`)

	rec := postDelivery(handler, body, signBody(testKey, testURL, body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestPaymentEventsMethodNotAllowed(t *testing.T) {
	handler, _ := setupHandler(t, testKey)

	req := httptest.NewRequest(http.MethodGet, "/payment-events", nil)
	rec := httptest.NewRecorder()
	handler.PaymentEvents(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("Expected Allow: POST, got %q", allow)
	}
}

func TestPaymentEventsUnconfiguredKeyIsServerError(t *testing.T) {
	handler, _ := setupHandler(t, "")
	body := deliveryBody("sq-4")

	rec := postDelivery(handler, body, signBody(testKey, testURL, body))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 when no key is configured, got %d", rec.Code)
	}
}

func TestPaymentEventsAcknowledgesInvalidPayment(t *testing.T) {
	handler, _ := setupHandler(t, testKey)
	note := "payment:pmt-bad risk:conservative deposit:6.00"
	body := []byte(fmt.Sprintf(`{"id":"evt-1","type":"payment.updated","data":{"object":{"payment":{"id":"sq-5","status":"COMPLETED","amount_money":{"amount":783,"currency":"USD"},"note":%q}}}}`, note))

	rec := postDelivery(handler, body, signBody(testKey, testURL, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 acknowledgment for invalid payment, got %d", rec.Code)
	}

	var resp eventResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != string(orchestrator.OutcomeInvalid) {
		t.Errorf("Expected invalid outcome, got %q", resp.Status)
	}
	if resp.PaymentStatus != string(models.PaymentFailed) {
		t.Errorf("Expected failed payment status, got %q", resp.PaymentStatus)
	}
}

func TestHealthOk(t *testing.T) {
	handler, _ := setupHandler(t, testKey)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "ok" || !resp.WebhookKeyConfigured || !resp.StoreOk {
		t.Errorf("Unexpected health response: %+v", resp)
	}
}

func TestHealthDegradedWithoutKey(t *testing.T) {
	handler, _ := setupHandler(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "degraded" || resp.WebhookKeyConfigured {
		t.Errorf("Unexpected health response: %+v", resp)
	}
}

func TestHealthDegradedWhenStoreDown(t *testing.T) {
	handler, dbService := setupHandler(t, testKey)
	dbService.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.StoreOk {
		t.Error("Expected store_ok false after close")
	}
}
