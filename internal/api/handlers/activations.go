// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/licensor/internal/activation"
)

type ActivationsHandler struct {
	engine *activation.Engine
}

func NewActivationsHandler(engine *activation.Engine) *ActivationsHandler {
	return &ActivationsHandler{engine: engine}
}

type ActivateRequest struct {
	ProductID  string            `json:"productId"`
	ProductKey string            `json:"productKey"`
	ClientID   string            `json:"clientId"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type AllocateSlotRequest struct {
	ActivateRequest
	SessionID string `json:"sessionId"`
}

// Activate binds a client device to a license
func (h *ActivationsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.Activate(r.Context(), req.ProductID, req.ProductKey, req.ClientID, req.Metadata)
	if err != nil {
		RespondOutcomeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == activation.OutcomeActivated {
		status = http.StatusCreated
	}
	RespondJSON(w, status, result)
}

func (h *ActivationsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.engine.Heartbeat)
}

func (h *ActivationsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.engine.Deactivate)
}

func (h *ActivationsHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.engine.Suspend)
}

func (h *ActivationsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.RevokeActivation(r.Context(), chi.URLParam(r, "signature"), req.Reason)
	if err != nil {
		RespondOutcomeError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// AllocateSlot claims a concurrent user slot on a volumetric license
func (h *ActivationsHandler) AllocateSlot(w http.ResponseWriter, r *http.Request) {
	var req AllocateSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.AllocateSlot(r.Context(), req.ProductID, req.ProductKey, req.ClientID, req.SessionID, req.Metadata)
	if err != nil {
		RespondOutcomeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == activation.OutcomeSlotAllocated {
		status = http.StatusCreated
	}
	RespondJSON(w, status, result)
}

func (h *ActivationsHandler) SlotHeartbeat(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.engine.SlotHeartbeat)
}

func (h *ActivationsHandler) ReleaseSlot(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.engine.ReleaseSlot)
}

func (h *ActivationsHandler) respond(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, signature string) (*activation.Result, error)) {
	result, err := fn(r.Context(), chi.URLParam(r, "signature"))
	if err != nil {
		RespondOutcomeError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
