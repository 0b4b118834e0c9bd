package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/models"
	"github.com/autobrr/licensor/internal/signer"
)

// issuance carries one request through the pipeline
type issuance struct {
	req      Request
	issuedBy string

	product  *models.Product
	consumer *models.Consumer
	tier     *models.Tier

	keyPair *models.KeyPair
	license *models.ProductLicense
}

// Strategy is one license model's rendition of the generation pipeline.
// The set is closed: only this package can implement it.
type Strategy interface {
	Model() models.LicenseModel
	CanHandle(req *Request) bool

	Validate(ctx context.Context, iss *issuance) error
	ObtainKey(ctx context.Context, iss *issuance) error
	BuildBasePayload(ctx context.Context, iss *issuance) error
	Customize(ctx context.Context, iss *issuance) error
	Sign(ctx context.Context, iss *issuance) error
	Materialize(ctx context.Context, iss *issuance) error
	PostProcess(ctx context.Context, iss *issuance) error
}

// baseStrategy implements every step; variants embed it and override the
// steps that differ.
type baseStrategy struct {
	*deps
	model models.LicenseModel
}

func (s *baseStrategy) Model() models.LicenseModel {
	return s.model
}

func (s *baseStrategy) CanHandle(req *Request) bool {
	return req != nil && req.Model == s.model
}

func (s *baseStrategy) Validate(ctx context.Context, iss *issuance) error {
	req := &iss.req

	if req.Model != s.model {
		return fmt.Errorf("%w: %s strategy cannot issue %s", ErrStrategyMismatch, s.model, req.Model)
	}

	if err := validateStruct(req); err != nil {
		return err
	}

	if strings.TrimSpace(iss.issuedBy) == "" {
		return newValidationError("issuedBy", "is required")
	}

	product, err := s.directory.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			return newValidationError("productId", "unknown product %q", req.ProductID)
		}
		return fmt.Errorf("failed to load product: %w", err)
	}
	iss.product = product

	consumer, err := s.directory.GetConsumer(ctx, req.ConsumerID)
	if err != nil {
		if errors.Is(err, models.ErrConsumerNotFound) {
			return newValidationError("consumerId", "unknown consumer %q", req.ConsumerID)
		}
		return fmt.Errorf("failed to load consumer: %w", err)
	}
	iss.consumer = consumer

	if req.TierID != "" {
		tier, err := s.directory.GetTier(ctx, req.TierID)
		if err != nil {
			if errors.Is(err, models.ErrTierNotFound) {
				return newValidationError("tierId", "unknown tier %q", req.TierID)
			}
			return fmt.Errorf("failed to load tier: %w", err)
		}
		if tier.ProductID != req.ProductID {
			return newValidationError("tierId", "tier %q belongs to another product", req.TierID)
		}
		iss.tier = tier
		applyTierDefaults(req, tier)
	}

	now := s.now().UTC()
	if req.ValidFrom.IsZero() {
		req.ValidFrom = now
	}
	if req.ValidTo.IsZero() {
		req.ValidTo = req.ValidFrom.Add(s.defaultValidity)
	}

	// Signed timestamps carry second precision
	req.ValidFrom = req.ValidFrom.UTC().Truncate(timeResolution)
	req.ValidTo = req.ValidTo.UTC().Truncate(timeResolution)

	if !req.ValidFrom.Before(req.ValidTo) {
		return newValidationError("validTo", "must be after validFrom")
	}

	if err := validateVersions(req.MinVersion, req.MaxVersion); err != nil {
		return err
	}

	req.Features = normalizeFeatures(req.Features)

	return nil
}

func applyTierDefaults(req *Request, tier *models.Tier) {
	if len(req.Features) == 0 {
		req.Features = append([]string(nil), tier.Features...)
	}
	if req.MaxActivations == 0 {
		req.MaxActivations = tier.MaxActivations
	}
	if req.MaxConcurrentUsers == 0 {
		req.MaxConcurrentUsers = tier.MaxConcurrentUsers
	}
}

func (s *baseStrategy) ObtainKey(ctx context.Context, iss *issuance) error {
	kp, err := s.vault.GetOrCreateKeyPair(ctx, iss.req.ProductID)
	if err != nil {
		return fmt.Errorf("failed to obtain signing key: %w", err)
	}
	iss.keyPair = kp
	return nil
}

func (s *baseStrategy) BuildBasePayload(ctx context.Context, iss *issuance) error {
	req := &iss.req

	id, err := uuid.NewRandomFromReader(s.random)
	if err != nil {
		return fmt.Errorf("failed to generate license id: %w", err)
	}

	now := s.now().UTC().Truncate(timeResolution)

	license := &models.ProductLicense{
		ID:                 id.String(),
		ProductID:          req.ProductID,
		ConsumerID:         req.ConsumerID,
		Model:              s.model,
		ValidFrom:          req.ValidFrom,
		ValidTo:            req.ValidTo,
		MinVersion:         req.MinVersion,
		MaxVersion:         req.MaxVersion,
		Features:           req.Features,
		MaxActivations:     req.MaxActivations,
		MaxConcurrentUsers: req.MaxConcurrentUsers,
		PublicKey:          iss.keyPair.PublicKey,
		KeyID:              iss.keyPair.KeyID,
		Status:             models.LicenseStatusActive,
		IssuedBy:           iss.issuedBy,
		IssuedAt:           now,
		Metadata:           make(map[string]string, len(req.Metadata)+4),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if req.TierID != "" {
		tierID := req.TierID
		license.TierID = &tierID
	}

	for k, v := range req.Metadata {
		license.Metadata[k] = v
	}

	// Contact fields are signed so offline clients can display them
	license.Metadata["product.name"] = iss.product.Name
	license.Metadata["consumer.name"] = iss.consumer.Name
	if iss.consumer.Email != "" {
		license.Metadata["consumer.email"] = iss.consumer.Email
	}
	if iss.consumer.Company != "" {
		license.Metadata["consumer.company"] = iss.consumer.Company
	}
	if iss.tier != nil {
		license.Metadata["tier.name"] = iss.tier.Name
	}

	iss.license = license
	return nil
}

// Customize is a no-op in the base pipeline
func (s *baseStrategy) Customize(ctx context.Context, iss *issuance) error {
	return nil
}

func (s *baseStrategy) Sign(ctx context.Context, iss *issuance) error {
	license := iss.license

	payload, err := signer.Canonicalize(license.SignedFields())
	if err != nil {
		return fmt.Errorf("failed to build canonical payload: %w", err)
	}

	signature, err := signer.Sign(payload, iss.keyPair.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to sign license: %w", err)
	}

	artifact := &signer.Artifact{
		Payload:   payload,
		Signature: signature,
		PublicKey: iss.keyPair.PublicKey,
	}

	license.Signature = base64.StdEncoding.EncodeToString(signature)
	license.LicenseKey = artifact.Encode()

	return nil
}

func (s *baseStrategy) Materialize(ctx context.Context, iss *issuance) error {
	if err := s.licenses.Save(ctx, iss.license); err != nil {
		return fmt.Errorf("failed to store license: %w", err)
	}
	return nil
}

// PostProcess is a no-op in the base pipeline
func (s *baseStrategy) PostProcess(ctx context.Context, iss *issuance) error {
	return nil
}

// createActivationShell pre-creates an unclaimed pending activation that the
// first activating client takes over.
func (s *baseStrategy) createActivationShell(ctx context.Context, iss *issuance, kind models.ActivationKind) error {
	id, err := uuid.NewRandomFromReader(s.random)
	if err != nil {
		return fmt.Errorf("failed to generate activation id: %w", err)
	}

	now := s.now().UTC()
	shell := &models.ProductActivation{
		ID:         id.String(),
		LicenseID:  iss.license.ID,
		Kind:       kind,
		ProductKey: iss.license.ProductKey,
		Status:     models.ActivationStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.activations.Create(ctx, shell); err != nil {
		return fmt.Errorf("failed to create activation shell: %w", err)
	}

	log.Debug().
		Str("licenseID", iss.license.ID).
		Str("activationID", shell.ID).
		Msg("Created pending activation")

	return nil
}
