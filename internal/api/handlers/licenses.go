// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/activation"
	"github.com/autobrr/licensor/internal/generation"
	"github.com/autobrr/licensor/internal/models"
)

// IssuerHeader names the operator issuing a license. The configured issuer
// is used when it is absent.
const IssuerHeader = "X-Issued-By"

type LicensesHandler struct {
	factory  *generation.Factory
	licenses *models.LicenseStore
	engine   *activation.Engine
	issuer   string
}

func NewLicensesHandler(factory *generation.Factory, licenses *models.LicenseStore, engine *activation.Engine, issuer string) *LicensesHandler {
	return &LicensesHandler{
		factory:  factory,
		licenses: licenses,
		engine:   engine,
		issuer:   issuer,
	}
}

// GenerateLicenseRequest accepts any spelling of the license model
type GenerateLicenseRequest struct {
	generation.Request
	Model string `json:"model"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type VerifyLicenseKeyRequest struct {
	LicenseKey string `json:"licenseKey"`
}

// GenerateLicense issues and signs a new license
func (h *LicensesHandler) GenerateLicense(w http.ResponseWriter, r *http.Request) {
	var body GenerateLicenseRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req := body.Request
	if body.Model != "" {
		model, err := models.ParseLicenseModel(body.Model)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Model = model
	}

	issuedBy := strings.TrimSpace(r.Header.Get(IssuerHeader))
	if issuedBy == "" {
		issuedBy = h.issuer
	}

	license, err := h.factory.Generate(r.Context(), &req, issuedBy)
	if err != nil {
		RespondServiceError(w, err, "Failed to generate license")
		return
	}

	RespondJSON(w, http.StatusCreated, license)
}

// ListLicenses returns licenses, optionally filtered by ?productId=
func (h *LicensesHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.licenses.List(r.Context(), r.URL.Query().Get("productId"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list licenses")
		RespondError(w, http.StatusInternalServerError, "Failed to list licenses")
		return
	}

	if licenses == nil {
		licenses = []*models.ProductLicense{}
	}

	RespondJSON(w, http.StatusOK, licenses)
}

func (h *LicensesHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	license, err := h.licenses.Get(r.Context(), chi.URLParam(r, "licenseID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to get license")
		return
	}

	RespondJSON(w, http.StatusOK, license)
}

// GetLicenseStatus reports the license with its activations and usage
func (h *LicensesHandler) GetLicenseStatus(w http.ResponseWriter, r *http.Request) {
	usage, err := h.engine.Status(r.Context(), chi.URLParam(r, "licenseID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to get license status")
		return
	}

	RespondJSON(w, http.StatusOK, usage)
}

// VerifyLicense checks a stored license against its signature
func (h *LicensesHandler) VerifyLicense(w http.ResponseWriter, r *http.Request) {
	license, err := h.licenses.Get(r.Context(), chi.URLParam(r, "licenseID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to get license")
		return
	}

	if err := h.factory.Verify(r.Context(), license); err != nil {
		RespondServiceError(w, err, "Failed to verify license")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"keyId":  license.KeyID,
		"status": license.Status,
	})
}

// VerifyLicenseKey checks a bare license artifact
func (h *LicensesHandler) VerifyLicenseKey(w http.ResponseWriter, r *http.Request) {
	var req VerifyLicenseKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.LicenseKey) == "" {
		RespondError(w, http.StatusBadRequest, "licenseKey is required")
		return
	}

	fields, err := h.factory.VerifyLicenseKey(r.Context(), strings.TrimSpace(req.LicenseKey))
	if err != nil {
		RespondServiceError(w, err, "Failed to verify license key")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"fields": fields,
	})
}

func (h *LicensesHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.RevokeLicense(r.Context(), chi.URLParam(r, "licenseID"), req.Reason)
	if err != nil {
		RespondServiceError(w, err, "Failed to revoke license")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func (h *LicensesHandler) SuspendLicense(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.SuspendLicense(r.Context(), chi.URLParam(r, "licenseID"), req.Reason)
	if err != nil {
		RespondServiceError(w, err, "Failed to suspend license")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func (h *LicensesHandler) ResumeLicense(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ResumeLicense(r.Context(), chi.URLParam(r, "licenseID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to resume license")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}
