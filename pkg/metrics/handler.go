// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"

	"github.com/absmach/wsserial/pkg/handler"
)

// Handler records session lifecycle events as metrics.
type Handler struct {
	metrics *Metrics
}

var _ handler.Handler = (*Handler)(nil)

// NewHandler creates a lifecycle handler backed by m.
func NewHandler(m *Metrics) *Handler {
	return &Handler{metrics: m}
}

// OnConnect implements handler.Handler with metrics.
func (h *Handler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveSessions.WithLabelValues(hctx.Endpoint).Inc()
	return nil
}

// OnReject implements handler.Handler with metrics.
func (h *Handler) OnReject(ctx context.Context, hctx *handler.Context, reason error) error {
	endpoint := hctx.Endpoint
	if hctx.Device == "" {
		// Unknown names come from clients; keep label cardinality bounded.
		endpoint = ""
	}
	h.metrics.ObserveRejection(endpoint, reason)
	return nil
}

// OnDisconnect implements handler.Handler with metrics.
func (h *Handler) OnDisconnect(ctx context.Context, hctx *handler.Context, cause error) error {
	h.metrics.ActiveSessions.WithLabelValues(hctx.Endpoint).Dec()
	h.metrics.ObserveSession(hctx.Endpoint, hctx.Started, cause)
	return nil
}
