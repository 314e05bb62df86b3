// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package keys provides the signing and encryption key types used
// throughout CoverDrop. Keys are immutable value objects and compare
// byte-wise.
package keys

import (
	"bytes"
	stded25519 "crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/sign/ed25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/katzenpost/coverdrop/core/constants"
)

var (
	// ErrInvalidKeyLength is returned when key material has the wrong size.
	ErrInvalidKeyLength = errors.New("keys: invalid key length")
)

// SigningPublicKey is an Ed25519 public key.
type SigningPublicKey struct {
	key ed25519.PublicKey
}

// NewSigningPublicKey returns the SigningPublicKey encoded by b.
func NewSigningPublicKey(b []byte) (*SigningPublicKey, error) {
	if len(b) != constants.Ed25519PublicKeyLen {
		return nil, ErrInvalidKeyLength
	}
	k := new(SigningPublicKey)
	if err := k.key.FromBytes(b); err != nil {
		return nil, err
	}
	return k, nil
}

// SigningPublicKeyFromHex decodes a hex encoded SigningPublicKey.
func SigningPublicKeyFromHex(s string) (*SigningPublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keys: bad hex signing key: %w", err)
	}
	return NewSigningPublicKey(b)
}

// Bytes returns a copy of the raw public key.
func (k *SigningPublicKey) Bytes() []byte {
	return bytes.Clone(k.key.Bytes())
}

// Hex returns the hex encoding of the public key.
func (k *SigningPublicKey) Hex() string {
	return hex.EncodeToString(k.key.Bytes())
}

// Equal reports whether both keys hold the same bytes.
func (k *SigningPublicKey) Equal(other *SigningPublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return bytes.Equal(k.key.Bytes(), other.key.Bytes())
}

// Verify reports whether sig is a valid signature of msg.
func (k *SigningPublicKey) Verify(sig, msg []byte) bool {
	if len(sig) != constants.Ed25519SignatureLen {
		return false
	}
	return k.key.Verify(sig, msg)
}

// SigningKeyPair is an Ed25519 key pair whose secret part is a 32 byte seed.
type SigningKeyPair struct {
	Public *SigningPublicKey

	secret *ed25519.PrivateKey
}

// NewSigningKeyPair samples a fresh key pair from r.
func NewSigningKeyPair(r io.Reader) (*SigningKeyPair, error) {
	sk, pk, err := ed25519.NewKeypair(r)
	if err != nil {
		return nil, err
	}
	return &SigningKeyPair{
		Public: &SigningPublicKey{key: *pk},
		secret: sk,
	}, nil
}

// SigningKeyPairFromSeed expands a 32 byte seed into a key pair.
func SigningKeyPairFromSeed(seed []byte) (*SigningKeyPair, error) {
	if len(seed) != constants.Ed25519SeedLen {
		return nil, ErrInvalidKeyLength
	}
	sk := new(ed25519.PrivateKey)
	if err := sk.FromBytes(stded25519.NewKeyFromSeed(seed)); err != nil {
		return nil, err
	}
	return &SigningKeyPair{
		Public: &SigningPublicKey{key: *sk.PublicKey()},
		secret: sk,
	}, nil
}

// Seed returns a copy of the 32 byte secret seed.
func (kp *SigningKeyPair) Seed() []byte {
	return bytes.Clone(kp.secret.Bytes()[:constants.Ed25519SeedLen])
}

// Sign signs msg.
func (kp *SigningKeyPair) Sign(msg []byte) []byte {
	return kp.secret.SignMessage(msg)
}

// EncryptionPublicKey is an X25519 public key.
type EncryptionPublicKey struct {
	key [constants.X25519PublicKeyLen]byte
}

// NewEncryptionPublicKey returns the EncryptionPublicKey encoded by b.
func NewEncryptionPublicKey(b []byte) (*EncryptionPublicKey, error) {
	if len(b) != constants.X25519PublicKeyLen {
		return nil, ErrInvalidKeyLength
	}
	k := new(EncryptionPublicKey)
	copy(k.key[:], b)
	return k, nil
}

// EncryptionPublicKeyFromHex decodes a hex encoded EncryptionPublicKey.
func EncryptionPublicKeyFromHex(s string) (*EncryptionPublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keys: bad hex encryption key: %w", err)
	}
	return NewEncryptionPublicKey(b)
}

// Bytes returns a copy of the raw public key.
func (k *EncryptionPublicKey) Bytes() []byte {
	return bytes.Clone(k.key[:])
}

// Array returns the key in the form nacl/box expects.
func (k *EncryptionPublicKey) Array() *[constants.X25519PublicKeyLen]byte {
	a := k.key
	return &a
}

// Hex returns the hex encoding of the public key.
func (k *EncryptionPublicKey) Hex() string {
	return hex.EncodeToString(k.key[:])
}

// Equal reports whether both keys hold the same bytes.
func (k *EncryptionPublicKey) Equal(other *EncryptionPublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.key == other.key
}

// EncryptionKeyPair is an X25519 key pair.
type EncryptionKeyPair struct {
	Public *EncryptionPublicKey

	secret [constants.X25519SecretKeyLen]byte
}

// NewEncryptionKeyPair samples a fresh key pair from r.
func NewEncryptionKeyPair(r io.Reader) (*EncryptionKeyPair, error) {
	pk, sk, err := box.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &EncryptionKeyPair{
		Public: &EncryptionPublicKey{key: *pk},
		secret: *sk,
	}, nil
}

// EncryptionKeyPairFromBytes rebuilds a key pair from its raw parts.
func EncryptionKeyPairFromBytes(public, secret []byte) (*EncryptionKeyPair, error) {
	pk, err := NewEncryptionPublicKey(public)
	if err != nil {
		return nil, err
	}
	if len(secret) != constants.X25519SecretKeyLen {
		return nil, ErrInvalidKeyLength
	}
	kp := &EncryptionKeyPair{Public: pk}
	copy(kp.secret[:], secret)
	return kp, nil
}

// SecretBytes returns a copy of the raw secret key.
func (kp *EncryptionKeyPair) SecretBytes() []byte {
	return bytes.Clone(kp.secret[:])
}

// SecretArray returns the secret key in the form nacl/box expects.
func (kp *EncryptionKeyPair) SecretArray() *[constants.X25519SecretKeyLen]byte {
	a := kp.secret
	return &a
}
