package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/models"
)

// UsageCount is the capacity picture for one activation kind
type UsageCount struct {
	Used     int `json:"used"`
	Capacity int `json:"capacity"`
}

// Usage summarizes the activations held against a license
type Usage struct {
	License     *models.ProductLicense      `json:"license"`
	Activations []*models.ProductActivation `json:"activations"`
	Devices     UsageCount                  `json:"devices"`
	Slots       UsageCount                  `json:"slots"`
}

// RevokeLicense revokes a license and every activation it still holds.
// The license row is revoked first so no new claim can slip in.
func (e *Engine) RevokeLicense(ctx context.Context, licenseID, reason string) (*Result, error) {
	return e.cascade(ctx, licenseID, models.LicenseStatusRevoked, reason, OutcomeRevoked,
		func(act *models.ProductActivation, now time.Time) bool {
			if act.Status == models.ActivationStatusRevoked {
				return false
			}
			revoke(act, now, reason)
			return true
		})
}

// SuspendLicense pauses a license. Its active activations are suspended and
// stop counting against capacity.
func (e *Engine) SuspendLicense(ctx context.Context, licenseID, reason string) (*Result, error) {
	return e.cascade(ctx, licenseID, models.LicenseStatusSuspended, reason, OutcomeSuspended,
		func(act *models.ProductActivation, _ time.Time) bool {
			if act.Status != models.ActivationStatusActive {
				return false
			}
			act.Status = models.ActivationStatusSuspended
			return true
		})
}

// ResumeLicense reinstates a suspended license. Suspended activations become
// inactive; clients activate again to reclaim capacity.
func (e *Engine) ResumeLicense(ctx context.Context, licenseID string) (*Result, error) {
	return e.cascade(ctx, licenseID, models.LicenseStatusActive, "", OutcomeResumed,
		func(act *models.ProductActivation, now time.Time) bool {
			if act.Status != models.ActivationStatusSuspended {
				return false
			}
			act.Status = models.ActivationStatusInactive
			act.ActivationEnd = &now
			return true
		})
}

// cascade moves a license to status and applies fn to each of its
// activations, all under the license lock. Repeating a cascade on a license
// that already has the target status only sweeps up stragglers.
func (e *Engine) cascade(ctx context.Context, licenseID string, status models.LicenseStatus, reason string, outcome Outcome, fn func(*models.ProductActivation, time.Time) bool) (*Result, error) {
	unlock := e.locks.Lock(licenseID)
	defer unlock()

	license, err := e.licenses.Get(ctx, licenseID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()

	if license.Status != status {
		if !license.Status.CanTransitionTo(status) {
			return nil, fmt.Errorf("%w: license %s -> %s", ErrInvalidTransition, license.Status, status)
		}

		var reasonPtr *string
		if reason != "" {
			reasonPtr = &reason
		}
		if err := e.licenses.UpdateStatus(ctx, licenseID, status, now, reasonPtr); err != nil {
			return nil, fmt.Errorf("failed to update license status: %w", err)
		}

		license.Status = status
		license.UpdatedAt = now
		license.SuspensionReason = nil
		switch status {
		case models.LicenseStatusRevoked:
			license.RevokedAt = &now
			license.RevocationReason = reasonPtr
		case models.LicenseStatusSuspended:
			license.SuspensionReason = reasonPtr
		}
	}

	activations, err := e.activations.ListByLicense(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}

	affected := 0
	for _, act := range activations {
		if !fn(act, now) {
			continue
		}
		act.UpdatedAt = now
		if err := e.activations.Update(ctx, act); err != nil {
			return nil, fmt.Errorf("failed to update activation %s: %w", act.ID, err)
		}
		affected++
	}

	log.Info().
		Str("licenseID", licenseID).
		Str("status", string(status)).
		Int("activations", affected).
		Msg("License status changed")

	return &Result{
		Outcome:  outcome,
		License:  license,
		Affected: affected,
	}, nil
}

// ExpireLicenses closes every license whose validity window has ended and
// expires the activations that were still running on it. A failing license
// does not stop the pass; failures are returned together.
func (e *Engine) ExpireLicenses(ctx context.Context) (int, error) {
	now := e.now().UTC()

	candidates, err := e.licenses.ListExpirable(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable licenses: %w", err)
	}

	var (
		expired int
		errs    *multierror.Error
	)
	for _, candidate := range candidates {
		ok, err := e.expireLicense(ctx, candidate.ID, now)
		if ok {
			expired++
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("license %s: %w", candidate.ID, err))
		}
	}

	return expired, errs.ErrorOrNil()
}

func (e *Engine) expireLicense(ctx context.Context, licenseID string, now time.Time) (bool, error) {
	unlock := e.locks.Lock(licenseID)
	defer unlock()

	license, err := e.licenses.Get(ctx, licenseID)
	if err != nil {
		return false, err
	}
	if now.Before(license.ValidTo) || !license.Status.CanTransitionTo(models.LicenseStatusExpired) {
		return false, nil
	}

	if err := e.licenses.UpdateStatus(ctx, licenseID, models.LicenseStatusExpired, now, nil); err != nil {
		return false, fmt.Errorf("failed to expire license %s: %w", licenseID, err)
	}

	activations, err := e.activations.ListByLicense(ctx, licenseID)
	if err != nil {
		return true, fmt.Errorf("failed to list activations: %w", err)
	}

	for _, act := range activations {
		if act.Status != models.ActivationStatusActive {
			continue
		}
		act.Status = models.ActivationStatusExpired
		act.ActivationEnd = &now
		act.UpdatedAt = now
		if err := e.activations.Update(ctx, act); err != nil {
			return true, fmt.Errorf("failed to expire activation %s: %w", act.ID, err)
		}
	}

	log.Info().Str("licenseID", licenseID).Msg("License expired")
	return true, nil
}

// Status reports a license together with its activations and usage
func (e *Engine) Status(ctx context.Context, licenseID string) (*Usage, error) {
	license, err := e.licenses.Get(ctx, licenseID)
	if err != nil {
		return nil, err
	}

	activations, err := e.activations.ListByLicense(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}

	usage := &Usage{
		License:     license,
		Activations: activations,
		Devices:     UsageCount{Capacity: license.ActivationCap(models.ActivationKindDevice)},
		Slots:       UsageCount{Capacity: license.ActivationCap(models.ActivationKindSlot)},
	}
	if usage.Activations == nil {
		usage.Activations = []*models.ProductActivation{}
	}

	for _, act := range activations {
		if act.Status != models.ActivationStatusActive {
			continue
		}
		if act.Kind == models.ActivationKindSlot {
			usage.Slots.Used++
		} else {
			usage.Devices.Used++
		}
	}

	return usage, nil
}
