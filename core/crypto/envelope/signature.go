// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

// Signature is a detached Ed25519 signature over a payload of kind T.
type Signature[T any] struct {
	raw
}

// SignatureFromBytes wraps b, which must be exactly one signature long.
func SignatureFromBytes[T any](b []byte) (*Signature[T], error) {
	if err := checkExactLength("signature", b, constants.Ed25519SignatureLen); err != nil {
		return nil, err
	}
	return &Signature[T]{raw{append([]byte(nil), b...)}}, nil
}

// Sign signs payload with the secret part of kp.
func Sign[T any](kp *keys.SigningKeyPair, payload []byte) *Signature[T] {
	return &Signature[T]{raw{kp.Sign(payload)}}
}

// Verify checks the signature against payload under pk.
func (s *Signature[T]) Verify(pk *keys.SigningPublicKey, payload []byte) error {
	if !pk.Verify(s.b, payload) {
		return ErrBadSignature
	}
	return nil
}

// IsZero reports whether every byte of the signature is zero.
func (s *Signature[T]) IsZero() bool {
	for _, v := range s.b {
		if v != 0 {
			return false
		}
	}
	return true
}

// VerifySignature is the free function form of Signature.Verify.
func VerifySignature[T any](pk *keys.SigningPublicKey, payload []byte, sig *Signature[T]) error {
	return sig.Verify(pk, payload)
}
