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

// Package webhook exposes the HTTP surface: the processor notification
// endpoint and a health probe.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"tiltvault-clearing-go/internal/models"

	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
}

func NewServer(cfg models.ServerConfig, handler *Handler) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/payment-events", handler.PaymentEvents)
	mux.HandleFunc("/health", handler.Health)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

func (s *Server) Start() error {
	zap.L().Info("Webhook server starting", zap.String("addr", s.httpServer.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	zap.L().Info("Webhook server shutting down")
	return s.httpServer.Shutdown(ctx)
}
