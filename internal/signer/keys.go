// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package signer

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	AlgorithmRSA     = "rsa-pkcs1v15-sha256"
	AlgorithmEd25519 = "ed25519"

	DefaultRSABits = 2048
	MinRSABits     = 2048
)

var (
	ErrInvalidKeyMaterial   = errors.New("invalid key material")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
)

// KeyMaterial is a freshly generated pair encoded as PEM
type KeyMaterial struct {
	Algorithm     string
	Bits          int
	PublicKeyPEM  string
	PrivateKeyPEM string
}

// NormalizeAlgorithm maps config spellings onto the algorithm tags stored with key pairs
func NormalizeAlgorithm(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rsa", "rsa-sha256", AlgorithmRSA:
		return AlgorithmRSA, nil
	case AlgorithmEd25519:
		return AlgorithmEd25519, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// GenerateKeyPair creates a new signing pair from random. Nothing is returned
// unless both halves were generated and encoded.
func GenerateKeyPair(random io.Reader, algorithm string, bits int) (*KeyMaterial, error) {
	algorithm, err := NormalizeAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	var (
		private crypto.Signer
		public  crypto.PublicKey
	)

	switch algorithm {
	case AlgorithmRSA:
		if bits == 0 {
			bits = DefaultRSABits
		}
		if bits < MinRSABits {
			return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinRSABits)
		}
		key, err := rsa.GenerateKey(random, bits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate rsa key: %w", err)
		}
		private, public = key, &key.PublicKey
	case AlgorithmEd25519:
		pub, priv, err := ed25519.GenerateKey(random)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		private, public, bits = priv, pub, 256
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return &KeyMaterial{
		Algorithm:     algorithm,
		Bits:          bits,
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})),
	}, nil
}

// ParsePrivateKey accepts PKCS#8 and PKCS#1 PEM blocks
func ParsePrivateKey(privateKeyPEM string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKeyMaterial)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		}
		return nil, fmt.Errorf("%w: unsupported private key type %T", ErrInvalidKeyMaterial, key)
	}

	return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKeyMaterial, block.Type)
}

func ParsePublicKey(publicKeyPEM string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKeyMaterial)
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
		return key, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
		switch k := key.(type) {
		case *rsa.PublicKey:
			return k, nil
		case ed25519.PublicKey:
			return k, nil
		}
		return nil, fmt.Errorf("%w: unsupported public key type %T", ErrInvalidKeyMaterial, key)
	}

	return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKeyMaterial, block.Type)
}

// SamePublicKey reports whether two PEM encodings hold the same key
func SamePublicKey(a, b string) bool {
	keyA, err := ParsePublicKey(a)
	if err != nil {
		return false
	}
	keyB, err := ParsePublicKey(b)
	if err != nil {
		return false
	}

	type equaler interface {
		Equal(x crypto.PublicKey) bool
	}
	eq, ok := keyA.(equaler)
	return ok && eq.Equal(keyB)
}
