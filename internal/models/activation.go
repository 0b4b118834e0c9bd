// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"time"
)

// ActivationStatus is a state of the activation state machine
type ActivationStatus string

const (
	ActivationStatusPending   ActivationStatus = "pending"
	ActivationStatusActive    ActivationStatus = "active"
	ActivationStatusInactive  ActivationStatus = "inactive"
	ActivationStatusSuspended ActivationStatus = "suspended"
	ActivationStatusExpired   ActivationStatus = "expired"
	ActivationStatusRevoked   ActivationStatus = "revoked"
)

// Inactive is the only state that can return to Active.
var activationTransitions = map[ActivationStatus][]ActivationStatus{
	ActivationStatusPending:   {ActivationStatusActive, ActivationStatusRevoked},
	ActivationStatusActive:    {ActivationStatusInactive, ActivationStatusSuspended, ActivationStatusExpired, ActivationStatusRevoked},
	ActivationStatusInactive:  {ActivationStatusActive, ActivationStatusRevoked},
	ActivationStatusSuspended: {ActivationStatusInactive, ActivationStatusRevoked},
	ActivationStatusExpired:   {ActivationStatusRevoked},
	ActivationStatusRevoked:   {},
}

// CanTransitionTo reports whether the activation table allows s -> next
func (s ActivationStatus) CanTransitionTo(next ActivationStatus) bool {
	for _, allowed := range activationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActivationKind separates device bindings from volumetric user slots
type ActivationKind string

const (
	ActivationKindDevice ActivationKind = "device"
	ActivationKindSlot   ActivationKind = "slot"
)

// ProductActivation binds a license to one client device or user session
type ProductActivation struct {
	ID                  string            `json:"id"`
	LicenseID           string            `json:"licenseId"`
	Kind                ActivationKind    `json:"kind"`
	ProductKey          string            `json:"productKey,omitempty"`
	ClientID            string            `json:"clientId,omitempty"`
	SessionID           string            `json:"sessionId,omitempty"`
	ActivationSignature string            `json:"activationSignature,omitempty"`
	Status              ActivationStatus  `json:"status"`
	ActivationStart     *time.Time        `json:"activationStart,omitempty"`
	ActivationEnd       *time.Time        `json:"activationEnd,omitempty"`
	LastHeartbeat       *time.Time        `json:"lastHeartbeat,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// IsClaimed returns true once a client has been bound to the activation
func (a *ProductActivation) IsClaimed() bool {
	return a.ClientID != ""
}

// Clone returns a copy safe to mutate while a transition is attempted
func (a *ProductActivation) Clone() *ProductActivation {
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// StatusCount is one row of an activation status breakdown
type StatusCount struct {
	Kind   ActivationKind
	Status ActivationStatus
	Count  int
}
