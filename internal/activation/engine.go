// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package activation binds issued licenses to client devices and user
// sessions. Every capacity check and the transition it guards run under a
// lock scoped to one license, so unrelated licenses never contend.
package activation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-secure-stdlib/base62"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/generation"
	"github.com/autobrr/licensor/internal/keylock"
	"github.com/autobrr/licensor/internal/models"
)

const signatureLength = 40

type LicenseStore interface {
	Get(ctx context.Context, id string) (*models.ProductLicense, error)
	GetByProductKey(ctx context.Context, productKey string) (*models.ProductLicense, error)
	ListExpirable(ctx context.Context, now time.Time) ([]*models.ProductLicense, error)
	UpdateStatus(ctx context.Context, id string, status models.LicenseStatus, at time.Time, reason *string) error
}

type ActivationStore interface {
	Create(ctx context.Context, activation *models.ProductActivation) error
	Get(ctx context.Context, id string) (*models.ProductActivation, error)
	GetBySignature(ctx context.Context, signature string) (*models.ProductActivation, error)
	ListByLicense(ctx context.Context, licenseID string) ([]*models.ProductActivation, error)
	FindForClient(ctx context.Context, licenseID string, kind models.ActivationKind, clientID, sessionID string) (*models.ProductActivation, error)
	FindUnclaimed(ctx context.Context, licenseID string, kind models.ActivationKind) (*models.ProductActivation, error)
	Update(ctx context.Context, activation *models.ProductActivation) error
	CountActive(ctx context.Context, licenseID string, kind models.ActivationKind) (int, error)
	ListStale(ctx context.Context, kind models.ActivationKind, before time.Time) ([]*models.ProductActivation, error)
}

// Recorder observes activation and slot attempts
type Recorder interface {
	ActivationAttempt(outcome Outcome)
}

type Options struct {
	Recorder Recorder

	// Rand and Now default to crypto/rand and time.Now
	Rand io.Reader
	Now  func() time.Time
}

// Result describes a successful operation
type Result struct {
	Outcome    Outcome                   `json:"outcome"`
	License    *models.ProductLicense    `json:"license,omitempty"`
	Activation *models.ProductActivation `json:"activation,omitempty"`
	Used       int                       `json:"used"`
	Capacity   int                       `json:"capacity"`
	Affected   int                       `json:"affected,omitempty"`
}

type Engine struct {
	licenses    LicenseStore
	activations ActivationStore
	locks       *keylock.Table
	recorder    Recorder
	random      io.Reader
	now         func() time.Time
}

func NewEngine(licenses LicenseStore, activations ActivationStore, opts Options) *Engine {
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		licenses:    licenses,
		activations: activations,
		locks:       keylock.New(),
		recorder:    opts.Recorder,
		random:      opts.Rand,
		now:         opts.Now,
	}
}

// Activate binds clientID to the license behind productKey. A client that
// is already active gets its existing activation back.
func (e *Engine) Activate(ctx context.Context, productID, productKey, clientID string, metadata map[string]string) (*Result, error) {
	result, err := e.activate(ctx, productID, productKey, clientID, metadata)
	e.record(OutcomeOf(result), err)
	return result, err
}

func (e *Engine) activate(ctx context.Context, productID, productKey, clientID string, metadata map[string]string) (*Result, error) {
	license, err := e.resolveLicense(ctx, productID, productKey, clientID)
	if err != nil {
		return nil, err
	}

	if !license.Model.RequiresActivation() {
		return nil, ErrActivationNotRequired
	}

	return e.claim(ctx, license.ID, models.ActivationKindDevice, clientID, "", metadata)
}

func (e *Engine) resolveLicense(ctx context.Context, productID, productKey, clientID string) (*models.ProductLicense, error) {
	if strings.TrimSpace(productKey) == "" {
		return nil, fmt.Errorf("%w: product key is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidRequest)
	}

	license, err := e.licenses.GetByProductKey(ctx, generation.NormalizeProductKey(productKey))
	if err != nil {
		return nil, err
	}

	if productID != "" && license.ProductID != productID {
		return nil, ErrProductKeyMismatch
	}

	return license, nil
}

// claim is the one capacity checking primitive behind device activation and
// slot allocation. Nothing is written when the cap is reached.
func (e *Engine) claim(ctx context.Context, licenseID string, kind models.ActivationKind, clientID, sessionID string, metadata map[string]string) (*Result, error) {
	unlock := e.locks.Lock(licenseID)
	defer unlock()

	now := e.now().UTC()

	// Reload under the lock so a concurrent revoke or suspend is observed
	license, err := e.licenses.Get(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if !license.IsValidAt(now) {
		return nil, ErrLicenseNotActive
	}

	capacity := license.ActivationCap(kind)
	used, err := e.activations.CountActive(ctx, licenseID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to count active activations: %w", err)
	}

	target, isNew, err := e.findClaimTarget(ctx, licenseID, kind, clientID, sessionID)
	if err != nil {
		return nil, err
	}

	if target.Status == models.ActivationStatusActive {
		target.LastHeartbeat = &now
		target.UpdatedAt = now
		if err := e.activations.Update(ctx, target); err != nil {
			return nil, fmt.Errorf("failed to refresh activation: %w", err)
		}
		return &Result{
			Outcome:    OutcomeAlreadyActive,
			License:    license,
			Activation: target,
			Used:       used,
			Capacity:   capacity,
		}, nil
	}

	if used >= capacity {
		log.Debug().
			Str("licenseID", licenseID).
			Str("kind", string(kind)).
			Int("used", used).
			Int("capacity", capacity).
			Msg("Activation rejected at capacity")
		return nil, ErrActivationLimitExceeded
	}

	previous := target.Status
	next := target.Clone()
	if err := transition(next, models.ActivationStatusActive); err != nil {
		return nil, err
	}

	if next.ActivationSignature == "" {
		signature, err := base62.RandomWithReader(signatureLength, e.random)
		if err != nil {
			return nil, fmt.Errorf("failed to generate activation signature: %w", err)
		}
		next.ActivationSignature = signature
	}

	next.ClientID = clientID
	next.SessionID = sessionID
	next.ProductKey = license.ProductKey
	next.ActivationStart = &now
	next.ActivationEnd = nil
	next.LastHeartbeat = &now
	next.UpdatedAt = now
	next.Metadata = mergeMetadata(next.Metadata, metadata)

	if isNew {
		next.CreatedAt = now
		err = e.activations.Create(ctx, next)
	} else {
		err = e.activations.Update(ctx, next)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store activation: %w", err)
	}

	outcome := OutcomeActivated
	switch {
	case kind == models.ActivationKindSlot:
		outcome = OutcomeSlotAllocated
	case previous == models.ActivationStatusInactive:
		outcome = OutcomeReactivated
	}

	log.Info().
		Str("licenseID", licenseID).
		Str("activationID", next.ID).
		Str("kind", string(kind)).
		Str("clientID", clientID).
		Str("signature", generation.MaskKey(next.ActivationSignature)).
		Int("used", used+1).
		Int("capacity", capacity).
		Msg("Activation granted")

	return &Result{
		Outcome:    outcome,
		License:    license,
		Activation: next,
		Used:       used + 1,
		Capacity:   capacity,
	}, nil
}

// findClaimTarget picks the record a claim acts on: the client's latest
// activation, an unclaimed shell, or a new pending activation. New records
// are not persisted here.
func (e *Engine) findClaimTarget(ctx context.Context, licenseID string, kind models.ActivationKind, clientID, sessionID string) (*models.ProductActivation, bool, error) {
	existing, err := e.activations.FindForClient(ctx, licenseID, kind, clientID, sessionID)
	switch {
	case err == nil:
		switch existing.Status {
		case models.ActivationStatusRevoked:
			return nil, false, ErrActivationRevoked
		case models.ActivationStatusSuspended:
			return nil, false, fmt.Errorf("%w: activation is suspended", ErrInvalidTransition)
		case models.ActivationStatusExpired:
			// Expired is one-way, the client starts a fresh activation
		default:
			return existing, false, nil
		}
	case !errors.Is(err, models.ErrActivationNotFound):
		return nil, false, fmt.Errorf("failed to look up activation: %w", err)
	}

	shell, err := e.activations.FindUnclaimed(ctx, licenseID, kind)
	if err == nil {
		return shell, false, nil
	}
	if !errors.Is(err, models.ErrActivationNotFound) {
		return nil, false, fmt.Errorf("failed to look up pending activation: %w", err)
	}

	id, err := uuid.NewRandomFromReader(e.random)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate activation id: %w", err)
	}

	return &models.ProductActivation{
		ID:        id.String(),
		LicenseID: licenseID,
		Kind:      kind,
		Status:    models.ActivationStatusPending,
	}, true, nil
}

// Heartbeat refreshes the last heartbeat of an active activation
func (e *Engine) Heartbeat(ctx context.Context, signature string) (*Result, error) {
	return e.withActivation(ctx, signature, func(license *models.ProductLicense, act *models.ProductActivation, now time.Time) (Outcome, bool, error) {
		if act.Status != models.ActivationStatusActive {
			if act.Status == models.ActivationStatusRevoked {
				return "", false, ErrActivationRevoked
			}
			return "", false, fmt.Errorf("%w: heartbeat requires an active activation, got %s", ErrInvalidTransition, act.Status)
		}
		if !license.IsValidAt(now) {
			return "", false, ErrLicenseNotActive
		}

		act.LastHeartbeat = &now
		return OutcomeHeartbeat, true, nil
	})
}

// Deactivate moves an active or suspended activation to inactive and frees
// its unit of capacity.
func (e *Engine) Deactivate(ctx context.Context, signature string) (*Result, error) {
	return e.release(ctx, signature, models.ActivationKindDevice, OutcomeDeactivated)
}

func (e *Engine) release(ctx context.Context, signature string, kind models.ActivationKind, outcome Outcome) (*Result, error) {
	return e.withActivation(ctx, signature, func(_ *models.ProductLicense, act *models.ProductActivation, now time.Time) (Outcome, bool, error) {
		if act.Kind != kind {
			return "", false, fmt.Errorf("%w: activation is a %s, not a %s", ErrInvalidRequest, act.Kind, kind)
		}
		if err := transition(act, models.ActivationStatusInactive); err != nil {
			return "", false, err
		}
		act.ActivationEnd = &now
		return outcome, true, nil
	})
}

// Suspend pauses an active activation. Suspended activations hold no
// capacity and can only be deactivated or revoked.
func (e *Engine) Suspend(ctx context.Context, signature string) (*Result, error) {
	return e.withActivation(ctx, signature, func(_ *models.ProductLicense, act *models.ProductActivation, _ time.Time) (Outcome, bool, error) {
		if err := transition(act, models.ActivationStatusSuspended); err != nil {
			return "", false, err
		}
		return OutcomeSuspended, true, nil
	})
}

// RevokeActivation permanently revokes one activation. Revoking an already
// revoked activation changes nothing.
func (e *Engine) RevokeActivation(ctx context.Context, signature, reason string) (*Result, error) {
	return e.withActivation(ctx, signature, func(_ *models.ProductLicense, act *models.ProductActivation, now time.Time) (Outcome, bool, error) {
		if act.Status == models.ActivationStatusRevoked {
			return OutcomeRevoked, false, nil
		}
		revoke(act, now, reason)
		return OutcomeRevoked, true, nil
	})
}

// mutation edits act in place and reports whether it needs to be stored
type mutation func(license *models.ProductLicense, act *models.ProductActivation, now time.Time) (Outcome, bool, error)

// withActivation runs fn on a fresh copy of the activation under the license
// lock and persists the copy only when fn succeeds.
func (e *Engine) withActivation(ctx context.Context, signature string, fn mutation) (*Result, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: activation signature is required", ErrInvalidRequest)
	}

	found, err := e.activations.GetBySignature(ctx, signature)
	if err != nil {
		if errors.Is(err, models.ErrActivationNotFound) {
			return nil, ErrActivationNotFound
		}
		return nil, err
	}

	unlock := e.locks.Lock(found.LicenseID)
	defer unlock()

	current, err := e.activations.Get(ctx, found.ID)
	if err != nil {
		return nil, err
	}

	license, err := e.licenses.Get(ctx, current.LicenseID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	next := current.Clone()

	outcome, changed, err := fn(license, next, now)
	if err != nil {
		return nil, err
	}

	if changed {
		next.UpdatedAt = now
		if err := e.activations.Update(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to store activation: %w", err)
		}
	}

	if next.Status != current.Status {
		log.Info().
			Str("licenseID", next.LicenseID).
			Str("activationID", next.ID).
			Str("from", string(current.Status)).
			Str("to", string(next.Status)).
			Msg("Activation transitioned")
	}

	used, err := e.activations.CountActive(ctx, next.LicenseID, next.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to count active activations: %w", err)
	}

	return &Result{
		Outcome:    outcome,
		License:    license,
		Activation: next,
		Used:       used,
		Capacity:   license.ActivationCap(next.Kind),
	}, nil
}

// transition applies the activation state table
func transition(act *models.ProductActivation, next models.ActivationStatus) error {
	if act.Status == models.ActivationStatusRevoked {
		return ErrActivationRevoked
	}
	if !act.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, act.Status, next)
	}
	act.Status = next
	return nil
}

func revoke(act *models.ProductActivation, now time.Time, reason string) {
	act.Status = models.ActivationStatusRevoked
	if act.ActivationEnd == nil {
		act.ActivationEnd = &now
	}
	if reason != "" {
		act.Metadata = mergeMetadata(act.Metadata, map[string]string{"revocationReason": reason})
	}
}

func (e *Engine) record(outcome Outcome, err error) {
	if e.recorder == nil {
		return
	}
	if err != nil {
		outcome = Classify(err)
	}
	e.recorder.ActivationAttempt(outcome)
}

// OutcomeOf returns the outcome of a possibly nil result
func OutcomeOf(r *Result) Outcome {
	if r == nil {
		return ""
	}
	return r.Outcome
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
