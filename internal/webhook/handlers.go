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

package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tiltvault-clearing-go/internal/models"
	"tiltvault-clearing-go/internal/orchestrator"
	"tiltvault-clearing-go/internal/store"

	"go.uber.org/zap"
)

// signatureHeader is the processor's HMAC header on every delivery.
const signatureHeader = "x-square-hmacsha256-signature"

type Handler struct {
	orch  *orchestrator.Orchestrator
	store store.CoordinationStore
	cfg   models.WebhookConfig
}

func NewHandler(orch *orchestrator.Orchestrator, st store.CoordinationStore, cfg models.WebhookConfig) *Handler {
	return &Handler{orch: orch, store: st, cfg: cfg}
}

type eventResponse struct {
	Status           string `json:"status"`
	LogicalPaymentId string `json:"logical_payment_id,omitempty"`
	PaymentStatus    string `json:"payment_status,omitempty"`
}

type healthResponse struct {
	Status               string `json:"status"`
	WebhookKeyConfigured bool   `json:"webhook_key_configured"`
	StoreOk              bool   `json:"store_ok"`
}

// PaymentEvents receives processor notifications. Every response that is
// not a 5xx acknowledges the delivery; the processor redelivers on 5xx and
// on timeout, which the idempotency layer absorbs.
func (h *Handler) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body unreadable", http.StatusBadRequest)
		return
	}

	// The one registered URL plus whatever the proxy says it served. The
	// verifier tries each against the received signature.
	candidateURLs := requestURLCandidates(r)

	outcome, record, err := h.orch.HandleDelivery(r.Context(), rawBody, r.Header.Get(signatureHeader), candidateURLs)
	if err != nil {
		if errors.Is(err, orchestrator.ErrVerifierNotConfigured) {
			zap.L().Error("Rejecting delivery: no signature key configured")
			http.Error(w, "webhook verification unavailable", http.StatusInternalServerError)
			return
		}
		zap.L().Error("Delivery failed on infrastructure", zap.Error(err))
		http.Error(w, "temporarily unable to process", http.StatusInternalServerError)
		return
	}

	switch outcome {
	case orchestrator.OutcomeRejected:
		http.Error(w, "signature verification failed", http.StatusUnauthorized)
	case orchestrator.OutcomeMalformed:
		http.Error(w, "malformed notification body", http.StatusBadRequest)
	case orchestrator.OutcomeInvalid:
		// Acknowledged so the processor stops redelivering; the record
		// holds the failure for operator review.
		writeEvent(w, outcome, record)
	default:
		writeEvent(w, outcome, record)
	}
}

func writeEvent(w http.ResponseWriter, outcome orchestrator.Outcome, record *models.PaymentRecord) {
	resp := eventResponse{Status: string(outcome)}
	if record != nil {
		resp.LogicalPaymentId = record.LogicalPaymentId
		resp.PaymentStatus = string(record.Status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zap.L().Warn("Failed to write event response", zap.Error(err))
	}
}

// Health reports whether the service can usefully accept deliveries.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:               "ok",
		WebhookKeyConfigured: h.cfg.SignatureKey != "",
		StoreOk:              true,
	}
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.StoreOk = false
	}
	if !resp.WebhookKeyConfigured {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zap.L().Warn("Failed to write health response", zap.Error(err))
	}
}

// requestURLCandidates reconstructs the externally visible URL of this
// request from proxy headers, for signature verification.
func requestURLCandidates(r *http.Request) []string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	if host == "" {
		return nil
	}

	return []string{scheme + "://" + host + r.URL.Path}
}
