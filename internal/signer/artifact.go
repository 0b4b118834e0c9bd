// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package signer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const artifactVersion = "LIC1"

var (
	ErrMalformedArtifact           = errors.New("malformed license artifact")
	ErrSignatureVerificationFailed = errors.New("license signature verification failed")
	ErrUntrustedPublicKey          = errors.New("license signed by an untrusted key")
)

var b64 = base64.RawURLEncoding

// Artifact is the offline transportable license: canonical payload, detached
// signature and the signer's public key.
type Artifact struct {
	Payload   []byte
	Signature []byte
	PublicKey string
}

// Encode returns LIC1.<payload>.<signature>.<public key>, each part base64url
func (a *Artifact) Encode() string {
	return strings.Join([]string{
		artifactVersion,
		b64.EncodeToString(a.Payload),
		b64.EncodeToString(a.Signature),
		b64.EncodeToString([]byte(a.PublicKey)),
	}, ".")
}

// Fields decodes the signed payload back into its attribute map
func (a *Artifact) Fields() (map[string]any, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(a.Payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedArtifact)
	}
	return fields, nil
}

func DecodeArtifact(blob string) (*Artifact, error) {
	parts := strings.Split(strings.TrimSpace(blob), ".")
	if len(parts) != 4 || parts[0] != artifactVersion {
		return nil, ErrMalformedArtifact
	}

	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedArtifact, err)
	}

	signature, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedArtifact, err)
	}

	publicKey, err := b64.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrMalformedArtifact, err)
	}

	return &Artifact{Payload: payload, Signature: signature, PublicKey: string(publicKey)}, nil
}

// VerifyArtifact decodes blob and checks its signature against the embedded
// public key. When trusted keys are given the embedded key must be one of them.
func VerifyArtifact(blob string, trusted ...string) (*Artifact, error) {
	artifact, err := DecodeArtifact(blob)
	if err != nil {
		return nil, err
	}

	if len(trusted) > 0 {
		pinned := false
		for _, key := range trusted {
			if SamePublicKey(artifact.PublicKey, key) {
				pinned = true
				break
			}
		}
		if !pinned {
			return nil, ErrUntrustedPublicKey
		}
	}

	if !Verify(artifact.Payload, artifact.Signature, artifact.PublicKey) {
		return nil, ErrSignatureVerificationFailed
	}

	return artifact, nil
}
