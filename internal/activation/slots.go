package activation

import (
	"context"
	"fmt"
	"strings"

	"github.com/autobrr/licensor/internal/models"
)

// AllocateSlot claims one concurrent user slot on a volumetric license.
// Slots are counted separately from device activations.
func (e *Engine) AllocateSlot(ctx context.Context, productID, productKey, clientID, sessionID string, metadata map[string]string) (*Result, error) {
	result, err := e.allocateSlot(ctx, productID, productKey, clientID, sessionID, metadata)
	e.record(OutcomeOf(result), err)
	return result, err
}

func (e *Engine) allocateSlot(ctx context.Context, productID, productKey, clientID, sessionID string, metadata map[string]string) (*Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	license, err := e.resolveLicense(ctx, productID, productKey, clientID)
	if err != nil {
		return nil, err
	}

	if license.Model != models.LicenseModelVolumetric {
		return nil, ErrSlotsNotSupported
	}

	return e.claim(ctx, license.ID, models.ActivationKindSlot, clientID, sessionID, metadata)
}

// ReleaseSlot returns a slot to the pool
func (e *Engine) ReleaseSlot(ctx context.Context, signature string) (*Result, error) {
	return e.release(ctx, signature, models.ActivationKindSlot, OutcomeSlotReleased)
}

// SlotHeartbeat keeps a slot alive. It shares the device heartbeat path.
func (e *Engine) SlotHeartbeat(ctx context.Context, signature string) (*Result, error) {
	return e.Heartbeat(ctx, signature)
}
