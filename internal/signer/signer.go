// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package signer produces and checks signatures over canonical license
// payloads. Everything here is a pure function of its inputs.
package signer

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Sign signs payload with the PEM encoded private key. RSA keys use
// PKCS#1 v1.5 over SHA-256, which is deterministic for a given key.
func Sign(payload []byte, privateKeyPEM string) ([]byte, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		digest := sha256.Sum256(payload)
		sig, err := rsa.SignPKCS1v15(nil, k, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("failed to sign payload: %w", err)
		}
		return sig, nil
	case ed25519.PrivateKey:
		return ed25519.Sign(k, payload), nil
	}

	return nil, fmt.Errorf("%w: unsupported private key type %T", ErrInvalidKeyMaterial, key)
}

// Verify reports whether signature is valid for payload under the PEM
// encoded public key. Malformed input of any kind yields false.
func Verify(payload, signature []byte, publicKeyPEM string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if len(signature) == 0 {
		return false
	}

	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}

	switch k := key.(type) {
	case *rsa.PublicKey:
		digest := sha256.Sum256(payload)
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], signature) == nil
	case ed25519.PublicKey:
		return ed25519.Verify(k, payload, signature)
	}

	return false
}
