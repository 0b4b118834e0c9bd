package activation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/licensor/internal/models"
)

const sweepConcurrency = 4

// SweepResult reports what one stale sweep changed
type SweepResult struct {
	Kind     models.ActivationKind `json:"kind"`
	Scanned  int                   `json:"scanned"`
	Expired  int                   `json:"expired"`
	Licenses int                   `json:"licenses"`
}

// SweepStale expires active activations of kind whose last heartbeat is
// older than staleness. Each license is swept under its own lock and
// rechecked there, so a heartbeat that lands mid-sweep wins.
func (e *Engine) SweepStale(ctx context.Context, kind models.ActivationKind, staleness time.Duration) (*SweepResult, error) {
	if staleness <= 0 {
		return nil, fmt.Errorf("%w: staleness must be positive", ErrInvalidRequest)
	}

	cutoff := e.now().UTC().Add(-staleness)

	stale, err := e.activations.ListStale(ctx, kind, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale activations: %w", err)
	}

	byLicense := make(map[string][]string)
	var order []string
	for _, act := range stale {
		if _, ok := byLicense[act.LicenseID]; !ok {
			order = append(order, act.LicenseID)
		}
		byLicense[act.LicenseID] = append(byLicense[act.LicenseID], act.ID)
	}

	result := &SweepResult{Kind: kind, Scanned: len(stale), Licenses: len(order)}

	var (
		mu   sync.Mutex
		errs *multierror.Error
		g    errgroup.Group
	)
	g.SetLimit(sweepConcurrency)

	for _, licenseID := range order {
		ids := byLicense[licenseID]
		g.Go(func() error {
			expired, err := e.sweepLicense(ctx, licenseID, ids, cutoff)

			mu.Lock()
			defer mu.Unlock()
			result.Expired += expired
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("license %s: %w", licenseID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if result.Expired > 0 {
		log.Info().
			Str("kind", string(kind)).
			Int("expired", result.Expired).
			Int("licenses", result.Licenses).
			Dur("staleness", staleness).
			Msg("Expired stale activations")
	}

	return result, errs.ErrorOrNil()
}

func (e *Engine) sweepLicense(ctx context.Context, licenseID string, ids []string, cutoff time.Time) (int, error) {
	unlock := e.locks.Lock(licenseID)
	defer unlock()

	now := e.now().UTC()
	expired := 0

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		act, err := e.activations.Get(ctx, id)
		if err != nil {
			return expired, err
		}

		if act.Status != models.ActivationStatusActive {
			continue
		}
		if act.LastHeartbeat != nil && !act.LastHeartbeat.Before(cutoff) {
			continue
		}

		act.Status = models.ActivationStatusExpired
		act.ActivationEnd = &now
		act.UpdatedAt = now
		if err := e.activations.Update(ctx, act); err != nil {
			return expired, err
		}
		expired++
	}

	return expired, nil
}
