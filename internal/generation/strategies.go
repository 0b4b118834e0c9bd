package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/autobrr/licensor/internal/models"
)

const productKeyAttempts = 5

// fileBasedStrategy issues self-contained licenses verified offline. Caps
// are dropped because there is no activation server to enforce them.
type fileBasedStrategy struct {
	baseStrategy
}

func (s *fileBasedStrategy) Customize(ctx context.Context, iss *issuance) error {
	iss.license.ProductKey = ""
	iss.license.MaxActivations = 0
	iss.license.MaxConcurrentUsers = 0
	return nil
}

// onlineKeyStrategy issues a product key bound to a device activation cap
type onlineKeyStrategy struct {
	baseStrategy
}

func (s *onlineKeyStrategy) Validate(ctx context.Context, iss *issuance) error {
	if err := s.baseStrategy.Validate(ctx, iss); err != nil {
		return err
	}
	if iss.req.MaxActivations < 1 {
		return newValidationError("maxActivations", "must be at least 1 for %s licenses", s.model)
	}
	return nil
}

func (s *onlineKeyStrategy) Customize(ctx context.Context, iss *issuance) error {
	key, err := s.uniqueProductKey(ctx)
	if err != nil {
		return err
	}
	iss.license.ProductKey = key
	iss.license.MaxConcurrentUsers = 0
	return nil
}

func (s *onlineKeyStrategy) PostProcess(ctx context.Context, iss *issuance) error {
	return s.createActivationShell(ctx, iss, models.ActivationKindDevice)
}

// volumetricStrategy adds a concurrent user capacity on top of the device
// cap. Users hold slots that are allocated and released per session.
type volumetricStrategy struct {
	baseStrategy
}

func (s *volumetricStrategy) Validate(ctx context.Context, iss *issuance) error {
	if err := s.baseStrategy.Validate(ctx, iss); err != nil {
		return err
	}
	if iss.req.MaxActivations < 1 {
		return newValidationError("maxActivations", "must be at least 1 for %s licenses", s.model)
	}
	if iss.req.MaxConcurrentUsers < 1 {
		return newValidationError("maxConcurrentUsers", "must be at least 1 for %s licenses", s.model)
	}
	return nil
}

func (s *volumetricStrategy) Customize(ctx context.Context, iss *issuance) error {
	key, err := s.uniqueProductKey(ctx)
	if err != nil {
		return err
	}
	iss.license.ProductKey = key
	return nil
}

func (s *volumetricStrategy) PostProcess(ctx context.Context, iss *issuance) error {
	return s.createActivationShell(ctx, iss, models.ActivationKindDevice)
}

// uniqueProductKey draws keys until one is unused
func (s *baseStrategy) uniqueProductKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < productKeyAttempts; attempt++ {
		key, err := NewProductKey(s.random)
		if err != nil {
			return "", err
		}

		_, err = s.licenses.GetByProductKey(ctx, key)
		if errors.Is(err, models.ErrLicenseNotFound) {
			return key, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check product key: %w", err)
		}
	}

	return "", fmt.Errorf("failed to draw an unused product key after %d attempts", productKeyAttempts)
}
