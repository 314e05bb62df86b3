// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package envelope implements the byte level encryption and signature
// constructions that every CoverDrop message is built from.
//
// Every envelope is a thin wrapper around an opaque byte slice. The type
// parameter T is a marker naming the kind of payload the envelope carries.
// It has no runtime representation and only exists so that, for example, a
// signature over a key certificate cannot be handed to code verifying a
// dead drop.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("envelope: bad signature")

	// ErrDecryptionFailed is returned when authenticated decryption fails.
	ErrDecryptionFailed = errors.New("envelope: decryption failed")

	// ErrNoMatchingKey is returned when none of the wrapped key slots of a
	// MultiAnonymousBox opens under the recipient's key pair.
	ErrNoMatchingKey = errors.New("envelope: no matching key")

	// ErrInvalidLength is returned when an envelope is too short to be
	// well formed.
	ErrInvalidLength = errors.New("envelope: invalid length")
)

func checkMinLength(kind string, b []byte, min int) error {
	if len(b) < min {
		return fmt.Errorf("%w: %s of %d bytes, need at least %d", ErrInvalidLength, kind, len(b), min)
	}
	return nil
}

func checkExactLength(kind string, b []byte, want int) error {
	if len(b) != want {
		return fmt.Errorf("%w: %s of %d bytes, need %d", ErrInvalidLength, kind, len(b), want)
	}
	return nil
}

type raw struct {
	b []byte
}

// Bytes returns a copy of the envelope bytes.
func (r raw) Bytes() []byte {
	return bytes.Clone(r.b)
}

// Len returns the size of the envelope in bytes.
func (r raw) Len() int {
	return len(r.b)
}
