// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/activation"
	"github.com/autobrr/licensor/internal/generation"
	"github.com/autobrr/licensor/internal/models"
	"github.com/autobrr/licensor/internal/signer"
)

const maxBodyBytes = 1 << 20

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

// RespondOutcomeError reports a failed activation call with its outcome tag
func RespondOutcomeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Activation request failed")
		RespondJSON(w, status, map[string]string{
			"error":   "Internal server error",
			"outcome": string(activation.OutcomeError),
		})
		return
	}

	RespondJSON(w, status, map[string]string{
		"error":   err.Error(),
		"outcome": string(activation.Classify(err)),
	})
}

// RespondServiceError maps a domain error onto a status code. Unknown errors
// are logged and reported without detail.
func RespondServiceError(w http.ResponseWriter, err error, msg string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		RespondError(w, status, msg)
		return
	}
	RespondError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, generation.ErrValidation),
		errors.Is(err, generation.ErrUnsupportedLicenseModel),
		errors.Is(err, activation.ErrInvalidRequest),
		errors.Is(err, signer.ErrMalformedArtifact):
		return http.StatusBadRequest

	case errors.Is(err, models.ErrLicenseNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrConsumerNotFound),
		errors.Is(err, models.ErrTierNotFound),
		errors.Is(err, models.ErrKeyPairNotFound),
		errors.Is(err, models.ErrNoActiveKeyPairFound),
		errors.Is(err, activation.ErrActivationNotFound):
		return http.StatusNotFound

	case errors.Is(err, activation.ErrActivationLimitExceeded),
		errors.Is(err, activation.ErrInvalidTransition),
		errors.Is(err, activation.ErrActivationRevoked):
		return http.StatusConflict

	case errors.Is(err, activation.ErrLicenseNotActive),
		errors.Is(err, activation.ErrProductKeyMismatch),
		errors.Is(err, activation.ErrActivationNotRequired),
		errors.Is(err, activation.ErrSlotsNotSupported),
		errors.Is(err, signer.ErrSignatureVerificationFailed),
		errors.Is(err, signer.ErrUntrustedPublicKey):
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}

// decodeBody reads a JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
