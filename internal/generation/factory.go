// Package generation issues signed licenses. A Factory resolves the strategy
// for a license model and drives it through the shared pipeline.
package generation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/models"
	"github.com/autobrr/licensor/internal/signer"
)

const (
	defaultValidity = 365 * 24 * time.Hour
	timeResolution  = time.Second
)

type KeyVault interface {
	GetOrCreateKeyPair(ctx context.Context, productID string) (*models.KeyPair, error)
	GetKeyPair(ctx context.Context, keyID string) (*models.KeyPair, error)
}

type LicenseStore interface {
	Save(ctx context.Context, license *models.ProductLicense) error
	GetByProductKey(ctx context.Context, productKey string) (*models.ProductLicense, error)
}

type ActivationStore interface {
	Create(ctx context.Context, activation *models.ProductActivation) error
}

// Directory supplies the product, consumer and tier records a request names
type Directory interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetConsumer(ctx context.Context, id string) (*models.Consumer, error)
	GetTier(ctx context.Context, id string) (*models.Tier, error)
}

// Recorder observes successful issuance
type Recorder interface {
	LicenseGenerated(model models.LicenseModel)
}

type Options struct {
	DefaultValidity time.Duration
	Recorder        Recorder

	// Rand and Now default to crypto/rand and time.Now
	Rand io.Reader
	Now  func() time.Time
}

// deps are shared by every strategy
type deps struct {
	vault           KeyVault
	licenses        LicenseStore
	activations     ActivationStore
	directory       Directory
	defaultValidity time.Duration
	random          io.Reader
	now             func() time.Time
}

type Factory struct {
	deps       *deps
	strategies map[models.LicenseModel]Strategy
	recorder   Recorder
}

func NewFactory(vault KeyVault, licenses LicenseStore, activations ActivationStore, directory Directory, opts Options) *Factory {
	if opts.DefaultValidity <= 0 {
		opts.DefaultValidity = defaultValidity
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	d := &deps{
		vault:           vault,
		licenses:        licenses,
		activations:     activations,
		directory:       directory,
		defaultValidity: opts.DefaultValidity,
		random:          opts.Rand,
		now:             opts.Now,
	}

	return &Factory{
		deps: d,
		strategies: map[models.LicenseModel]Strategy{
			models.LicenseModelFileBased:  &fileBasedStrategy{baseStrategy{deps: d, model: models.LicenseModelFileBased}},
			models.LicenseModelOnlineKey:  &onlineKeyStrategy{baseStrategy{deps: d, model: models.LicenseModelOnlineKey}},
			models.LicenseModelVolumetric: &volumetricStrategy{baseStrategy{deps: d, model: models.LicenseModelVolumetric}},
		},
		recorder: opts.Recorder,
	}
}

// Strategy returns the strategy registered for model
func (f *Factory) Strategy(model models.LicenseModel) (Strategy, error) {
	strategy, ok := f.strategies[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLicenseModel, model)
	}
	return strategy, nil
}

// Generate validates, signs and stores a new license. Nothing is persisted
// unless every step up to signing succeeded.
func (f *Factory) Generate(ctx context.Context, req *Request, issuedBy string) (*models.ProductLicense, error) {
	if req == nil {
		return nil, newValidationError("request", "is required")
	}

	strategy, err := f.Strategy(req.Model)
	if err != nil {
		return nil, err
	}

	if !strategy.CanHandle(req) {
		return nil, fmt.Errorf("%w: %s strategy cannot issue %s", ErrStrategyMismatch, strategy.Model(), req.Model)
	}

	iss := &issuance{req: *req, issuedBy: issuedBy}

	steps := []struct {
		name string
		run  func(context.Context, *issuance) error
	}{
		{"validate", strategy.Validate},
		{"obtain key", strategy.ObtainKey},
		{"build payload", strategy.BuildBasePayload},
		{"customize", strategy.Customize},
		{"sign", strategy.Sign},
		{"materialize", strategy.Materialize},
	}

	for _, step := range steps {
		if err := step.run(ctx, iss); err != nil {
			log.Debug().Err(err).Str("step", step.name).Str("model", req.Model.String()).Msg("License generation aborted")
			return nil, err
		}
	}

	license := iss.license

	// The license is complete and valid at this point. A missing shell only
	// means the first activation creates its own pending record.
	if err := strategy.PostProcess(ctx, iss); err != nil {
		log.Warn().Err(err).Str("licenseID", license.ID).Msg("License post-processing failed")
	}

	if f.recorder != nil {
		f.recorder.LicenseGenerated(license.Model)
	}

	event := log.Info().
		Str("licenseID", license.ID).
		Str("productID", license.ProductID).
		Str("consumerID", license.ConsumerID).
		Str("model", license.Model.String()).
		Str("issuedBy", issuedBy)
	if license.ProductKey != "" {
		event = event.Str("productKey", MaskKey(license.ProductKey))
	}
	event.Msg("Issued license")

	return license, nil
}

// Verify re-derives the canonical payload from the license's own fields and
// checks it against the signature, the embedded artifact and the key pair
// the license names.
func (f *Factory) Verify(ctx context.Context, license *models.ProductLicense) error {
	kp, err := f.deps.vault.GetKeyPair(ctx, license.KeyID)
	if err != nil {
		if errors.Is(err, models.ErrKeyPairNotFound) {
			return fmt.Errorf("%w: unknown signing key %s", signer.ErrSignatureVerificationFailed, license.KeyID)
		}
		return err
	}

	if kp.ProductID != license.ProductID || !signer.SamePublicKey(kp.PublicKey, license.PublicKey) {
		return fmt.Errorf("%w: public key does not belong to %s", signer.ErrSignatureVerificationFailed, license.ProductID)
	}

	payload, err := signer.Canonicalize(license.SignedFields())
	if err != nil {
		return fmt.Errorf("failed to build canonical payload: %w", err)
	}

	signature, err := base64.StdEncoding.DecodeString(license.Signature)
	if err != nil || !signer.Verify(payload, signature, kp.PublicKey) {
		return signer.ErrSignatureVerificationFailed
	}

	artifact, err := signer.VerifyArtifact(license.LicenseKey, kp.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", signer.ErrSignatureVerificationFailed, err)
	}
	if string(artifact.Payload) != string(payload) {
		return fmt.Errorf("%w: license key does not match license fields", signer.ErrSignatureVerificationFailed)
	}

	return nil
}

// VerifyLicenseKey checks a license artifact against the vault's record of
// the signing key it claims and returns the signed fields.
func (f *Factory) VerifyLicenseKey(ctx context.Context, licenseKey string) (map[string]any, error) {
	artifact, err := signer.DecodeArtifact(licenseKey)
	if err != nil {
		return nil, err
	}

	fields, err := artifact.Fields()
	if err != nil {
		return nil, err
	}

	keyID, _ := fields["keyId"].(string)
	if keyID == "" {
		return nil, fmt.Errorf("%w: payload names no signing key", signer.ErrSignatureVerificationFailed)
	}

	kp, err := f.deps.vault.GetKeyPair(ctx, keyID)
	if err != nil {
		if errors.Is(err, models.ErrKeyPairNotFound) {
			return nil, fmt.Errorf("%w: unknown signing key %s", signer.ErrSignatureVerificationFailed, keyID)
		}
		return nil, err
	}

	if _, err := signer.VerifyArtifact(licenseKey, kp.PublicKey); err != nil {
		return nil, err
	}

	if productID, _ := fields["productId"].(string); productID != kp.ProductID {
		return nil, fmt.Errorf("%w: signing key belongs to another product", signer.ErrSignatureVerificationFailed)
	}

	return fields, nil
}

// MaskKey hides all but the first characters of a secret for logging
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
