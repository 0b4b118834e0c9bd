// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package keyvault owns the signing key pairs of every product.
package keyvault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/keylock"
	"github.com/autobrr/licensor/internal/models"
	"github.com/autobrr/licensor/internal/signer"
)

var ErrKeyGenerationFailed = errors.New("key generation failed")

const defaultCacheTTL = 10 * time.Minute

// Store is the persistence the vault needs for key pairs
type Store interface {
	GetActive(ctx context.Context, productID string) (*models.KeyPair, error)
	GetByKeyID(ctx context.Context, keyID string) (*models.KeyPair, error)
	ListByProduct(ctx context.Context, productID string) ([]*models.KeyPair, error)
	InsertActive(ctx context.Context, kp *models.KeyPair) error
	Rotate(ctx context.Context, productID string, next *models.KeyPair) error
	Deactivate(ctx context.Context, productID string, at time.Time) error
}

type Config struct {
	Algorithm string
	KeySize   int
	CacheTTL  time.Duration

	// Rand and Now default to crypto/rand and time.Now
	Rand io.Reader
	Now  func() time.Time
}

type Vault struct {
	store     Store
	sealer    *sealer
	locks     *keylock.Table
	cache     *ristretto.Cache
	algorithm string
	keySize   int
	ttl       time.Duration
	random    io.Reader
	now       func() time.Time
}

func New(store Store, encryptionKey []byte, cfg Config) (*Vault, error) {
	algorithm, err := signer.NormalizeAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if algorithm == signer.AlgorithmRSA && cfg.KeySize == 0 {
		cfg.KeySize = signer.DefaultRSABits
	}

	s, err := newSealer(encryptionKey, cfg.Rand)
	if err != nil {
		return nil, fmt.Errorf("failed to create key sealer: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 14,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Vault{
		store:     store,
		sealer:    s,
		locks:     keylock.New(),
		cache:     cache,
		algorithm: algorithm,
		keySize:   cfg.KeySize,
		ttl:       cfg.CacheTTL,
		random:    cfg.Rand,
		now:       cfg.Now,
	}, nil
}

func (v *Vault) Close() {
	v.cache.Close()
}

func activeCacheKey(productID string) string {
	return "active:" + productID
}

func keyIDCacheKey(keyID string) string {
	return "key:" + keyID
}

// GetActivePrivateKey returns the PEM private key of the product's active
// pair, or models.ErrKeyPairNotFound when the product has none.
func (v *Vault) GetActivePrivateKey(ctx context.Context, productID string) (string, error) {
	kp, err := v.getActive(ctx, productID)
	if err != nil {
		return "", err
	}
	return kp.PrivateKey, nil
}

// GetActiveKeyPair looks up the active pair without generating one
func (v *Vault) GetActiveKeyPair(ctx context.Context, productID string) (*models.KeyPair, error) {
	return v.getActive(ctx, productID)
}

// GetOrCreateKeyPair returns the active pair of a product, generating one on
// first use. Concurrent first calls for a product all observe the same pair.
func (v *Vault) GetOrCreateKeyPair(ctx context.Context, productID string) (*models.KeyPair, error) {
	kp, err := v.getActive(ctx, productID)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, models.ErrKeyPairNotFound) {
		return nil, err
	}

	unlock := v.locks.Lock(productID)
	defer unlock()

	// Another caller may have created it while we waited
	if kp, err := v.loadActive(ctx, productID); err == nil {
		return kp, nil
	} else if !errors.Is(err, models.ErrKeyPairNotFound) {
		return nil, err
	}

	next, err := v.newKeyPair(productID)
	if err != nil {
		return nil, err
	}

	if err := v.store.InsertActive(ctx, next.sealed); err != nil {
		if errors.Is(err, models.ErrActiveKeyPairExists) {
			// Lost the race to another process sharing the database
			return v.loadActive(ctx, productID)
		}
		return nil, fmt.Errorf("failed to store key pair: %w", err)
	}

	v.remember(next.plain)

	log.Info().
		Str("productID", productID).
		Str("keyID", next.plain.KeyID).
		Str("algorithm", next.plain.Algorithm).
		Msg("Generated signing key pair")

	return clone(next.plain), nil
}

// RotateKeys replaces the active pair of a product. The previous pair is
// archived in the same transaction and stays available for verification.
func (v *Vault) RotateKeys(ctx context.Context, productID string) (*models.KeyPair, error) {
	unlock := v.locks.Lock(productID)
	defer unlock()

	previous, err := v.store.GetActive(ctx, productID)
	if err != nil && !errors.Is(err, models.ErrKeyPairNotFound) {
		return nil, fmt.Errorf("failed to load active key pair: %w", err)
	}

	next, err := v.newKeyPair(productID)
	if err != nil {
		return nil, err
	}

	if err := v.store.Rotate(ctx, productID, next.sealed); err != nil {
		return nil, err
	}

	v.cache.Del(activeCacheKey(productID))
	if previous != nil {
		v.cache.Del(keyIDCacheKey(previous.KeyID))
	}
	v.remember(next.plain)

	event := log.Info().Str("productID", productID).Str("keyID", next.plain.KeyID)
	if previous != nil {
		event = event.Str("previousKeyID", previous.KeyID)
	}
	event.Msg("Rotated signing key pair")

	return clone(next.plain), nil
}

// Deactivate archives the active pair without a replacement. The next
// GetOrCreateKeyPair generates a fresh pair.
func (v *Vault) Deactivate(ctx context.Context, productID string) error {
	unlock := v.locks.Lock(productID)
	defer unlock()

	previous, err := v.store.GetActive(ctx, productID)
	if err != nil {
		if errors.Is(err, models.ErrKeyPairNotFound) {
			return models.ErrNoActiveKeyPairFound
		}
		return err
	}

	if err := v.store.Deactivate(ctx, productID, v.now().UTC()); err != nil {
		return err
	}

	v.cache.Del(activeCacheKey(productID))
	v.cache.Del(keyIDCacheKey(previous.KeyID))
	v.cache.Wait()

	log.Info().Str("productID", productID).Str("keyID", previous.KeyID).Msg("Deactivated signing key pair")
	return nil
}

// GetKeyPair looks up any pair, active or archived, by key id. The private
// key is never included.
func (v *Vault) GetKeyPair(ctx context.Context, keyID string) (*models.KeyPair, error) {
	if cached, ok := v.cache.Get(keyIDCacheKey(keyID)); ok {
		if kp, ok := cached.(*models.KeyPair); ok {
			return publicOnly(kp), nil
		}
	}

	kp, err := v.store.GetByKeyID(ctx, keyID)
	if err != nil {
		return nil, err
	}

	kp = publicOnly(kp)
	if !kp.IsActive {
		// Archived pairs never change again
		v.cache.SetWithTTL(keyIDCacheKey(keyID), kp, 1, v.ttl)
	}

	return kp, nil
}

// PublicKeys lists every pair of a product, newest first, without private keys
func (v *Vault) PublicKeys(ctx context.Context, productID string) ([]*models.KeyPair, error) {
	pairs, err := v.store.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.KeyPair, 0, len(pairs))
	for _, kp := range pairs {
		out = append(out, publicOnly(kp))
	}
	return out, nil
}

func (v *Vault) getActive(ctx context.Context, productID string) (*models.KeyPair, error) {
	if cached, ok := v.cache.Get(activeCacheKey(productID)); ok {
		if kp, ok := cached.(*models.KeyPair); ok {
			return clone(kp), nil
		}
	}

	// Cache fills happen under the product lock so a fill can never race a rotation
	unlock := v.locks.Lock(productID)
	defer unlock()

	return v.loadActive(ctx, productID)
}

// loadActive reads the active pair from the store. Callers hold the product lock.
func (v *Vault) loadActive(ctx context.Context, productID string) (*models.KeyPair, error) {
	kp, err := v.store.GetActive(ctx, productID)
	if err != nil {
		return nil, err
	}

	privateKey, err := v.sealer.open(kp.KeyID, kp.PrivateKey)
	if err != nil {
		return nil, err
	}
	kp.PrivateKey = privateKey

	v.remember(kp)
	return clone(kp), nil
}

func (v *Vault) remember(kp *models.KeyPair) {
	v.cache.SetWithTTL(activeCacheKey(kp.ProductID), clone(kp), 1, v.ttl)
	v.cache.Wait()
}

type generatedPair struct {
	plain  *models.KeyPair
	sealed *models.KeyPair
}

// newKeyPair generates and seals a pair. Either both forms are returned or neither.
func (v *Vault) newKeyPair(productID string) (*generatedPair, error) {
	material, err := signer.GenerateKeyPair(v.random, v.algorithm, v.keySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}

	id, err := uuid.NewRandomFromReader(v.random)
	if err != nil {
		return nil, fmt.Errorf("%w: key id: %v", ErrKeyGenerationFailed, err)
	}

	plain := &models.KeyPair{
		KeyID:      id.String(),
		ProductID:  productID,
		Algorithm:  material.Algorithm,
		KeySize:    material.Bits,
		PublicKey:  material.PublicKeyPEM,
		PrivateKey: material.PrivateKeyPEM,
		IsActive:   true,
		CreatedAt:  v.now().UTC(),
	}

	sealedKey, err := v.sealer.seal(plain.KeyID, plain.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}

	sealed := clone(plain)
	sealed.PrivateKey = sealedKey

	return &generatedPair{plain: plain, sealed: sealed}, nil
}

func clone(kp *models.KeyPair) *models.KeyPair {
	c := *kp
	return &c
}

func publicOnly(kp *models.KeyPair) *models.KeyPair {
	c := clone(kp)
	c.PrivateKey = ""
	return c
}
