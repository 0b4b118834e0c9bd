// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package signer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedArtifact(t *testing.T, key *KeyMaterial) *Artifact {
	t.Helper()

	payload, err := Canonicalize(sampleFields())
	require.NoError(t, err)
	sig, err := Sign(payload, key.PrivateKeyPEM)
	require.NoError(t, err)

	return &Artifact{Payload: payload, Signature: sig, PublicKey: key.PublicKeyPEM}
}

func TestArtifactEncodeDecode(t *testing.T) {
	key := testRSAKey(t)
	artifact := signedArtifact(t, key)

	blob := artifact.Encode()
	assert.True(t, strings.HasPrefix(blob, "LIC1."))
	assert.NotContains(t, blob, "\n")

	decoded, err := DecodeArtifact(blob)
	require.NoError(t, err)
	assert.Equal(t, artifact.Payload, decoded.Payload)
	assert.Equal(t, artifact.Signature, decoded.Signature)
	assert.Equal(t, artifact.PublicKey, decoded.PublicKey)

	fields, err := decoded.Fields()
	require.NoError(t, err)
	assert.Equal(t, "lic-1", fields["id"])
}

func TestVerifyArtifact(t *testing.T) {
	key := testRSAKey(t)
	other := testEd25519Key(t)
	blob := signedArtifact(t, key).Encode()

	t.Run("valid", func(t *testing.T) {
		artifact, err := VerifyArtifact(blob)
		require.NoError(t, err)
		assert.NotEmpty(t, artifact.Payload)
	})

	t.Run("pinned_key", func(t *testing.T) {
		_, err := VerifyArtifact(blob, other.PublicKeyPEM, key.PublicKeyPEM)
		assert.NoError(t, err)
	})

	t.Run("untrusted_key", func(t *testing.T) {
		_, err := VerifyArtifact(blob, other.PublicKeyPEM)
		assert.ErrorIs(t, err, ErrUntrustedPublicKey)
	})

	t.Run("tampered_payload", func(t *testing.T) {
		artifact, err := DecodeArtifact(blob)
		require.NoError(t, err)
		artifact.Payload = []byte(strings.Replace(string(artifact.Payload), `"maxActivations":3`, `"maxActivations":300`, 1))

		_, err = VerifyArtifact(artifact.Encode())
		assert.ErrorIs(t, err, ErrSignatureVerificationFailed)
	})

	t.Run("resigned_with_foreign_key", func(t *testing.T) {
		forged := signedArtifact(t, other).Encode()

		_, err := VerifyArtifact(forged)
		require.NoError(t, err, "self consistent artifact verifies without pinning")

		_, err = VerifyArtifact(forged, key.PublicKeyPEM)
		assert.ErrorIs(t, err, ErrUntrustedPublicKey)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, bad := range []string{"", "LIC1", "LIC2.a.b.c", "LIC1.!!.b.c", "LIC1.a.b"} {
			_, err := VerifyArtifact(bad)
			assert.ErrorIs(t, err, ErrMalformedArtifact, bad)
		}
	})
}
