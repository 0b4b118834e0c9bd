package activation

import (
	"errors"

	"github.com/autobrr/licensor/internal/models"
)

var (
	ErrInvalidRequest          = errors.New("invalid activation request")
	ErrActivationLimitExceeded = errors.New("activation limit exceeded")
	ErrActivationNotFound      = errors.New("activation not found")
	ErrInvalidTransition       = errors.New("invalid activation state transition")
	ErrLicenseNotActive        = errors.New("license is not active")
	ErrProductKeyMismatch      = errors.New("product key does not belong to product")
	ErrActivationNotRequired   = errors.New("license model does not use online activation")
	ErrSlotsNotSupported       = errors.New("license model has no concurrent user slots")
	ErrActivationRevoked       = errors.New("activation has been revoked")
)

// Outcome discriminates the result of an engine operation
type Outcome string

const (
	OutcomeActivated     Outcome = "activated"
	OutcomeReactivated   Outcome = "reactivated"
	OutcomeAlreadyActive Outcome = "already_active"
	OutcomeHeartbeat     Outcome = "heartbeat"
	OutcomeDeactivated   Outcome = "deactivated"
	OutcomeSuspended     Outcome = "suspended"
	OutcomeResumed       Outcome = "resumed"
	OutcomeRevoked       Outcome = "revoked"
	OutcomeSlotAllocated Outcome = "slot_allocated"
	OutcomeSlotReleased  Outcome = "slot_released"

	OutcomeLimitExceeded   Outcome = "limit_exceeded"
	OutcomeLicenseInactive Outcome = "license_inactive"
	OutcomeInvalidKey      Outcome = "invalid_key"
	OutcomeRejected        Outcome = "rejected"
	OutcomeError           Outcome = "error"
)

// Classify maps an engine error onto the failure outcome reported to clients
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrActivationLimitExceeded):
		return OutcomeLimitExceeded
	case errors.Is(err, ErrLicenseNotActive):
		return OutcomeLicenseInactive
	case errors.Is(err, ErrProductKeyMismatch), errors.Is(err, models.ErrLicenseNotFound):
		return OutcomeInvalidKey
	case errors.Is(err, ErrActivationRevoked):
		return OutcomeRevoked
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrActivationNotRequired),
		errors.Is(err, ErrSlotsNotSupported),
		errors.Is(err, ErrActivationNotFound):
		return OutcomeRejected
	}
	return OutcomeError
}
