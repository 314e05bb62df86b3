// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

// ErrNoRecipients is returned when a MultiAnonymousBox has nobody to
// wrap its content key for.
var ErrNoRecipients = errors.New("envelope: no recipients")

// AnonymousBox is a sealed box: ephemeral public key || tag || ciphertext.
// It carries no information about the sender.
type AnonymousBox[T any] struct {
	raw
}

// AnonymousBoxFromBytes wraps b after checking it can hold the overhead.
func AnonymousBoxFromBytes[T any](b []byte) (*AnonymousBox[T], error) {
	if err := checkMinLength("anonymous box", b, constants.AnonymousBoxOverhead); err != nil {
		return nil, err
	}
	return &AnonymousBox[T]{raw{append([]byte(nil), b...)}}, nil
}

// EncryptAnonymousBox seals payload to recipient.
func EncryptAnonymousBox[T any](rng io.Reader, recipient *keys.EncryptionPublicKey, payload []byte) (*AnonymousBox[T], error) {
	out, err := box.SealAnonymous(nil, payload, recipient.Array(), rng)
	if err != nil {
		return nil, err
	}
	return &AnonymousBox[T]{raw{out}}, nil
}

// Decrypt opens the box with the recipient's key pair.
func (b *AnonymousBox[T]) Decrypt(recipient *keys.EncryptionKeyPair) ([]byte, error) {
	if err := checkMinLength("anonymous box", b.b, constants.AnonymousBoxOverhead); err != nil {
		return nil, err
	}
	pt, ok := box.OpenAnonymous(nil, b.b, recipient.Public.Array(), recipient.SecretArray())
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// MultiAnonymousBox encrypts a payload once under a fresh content key and
// wraps that key in a sealed box per recipient. The layout is every
// wrapped key, each WrappedKeyLen wide, followed by the secretbox
// ciphertext.
type MultiAnonymousBox[T any] struct {
	raw
}

// MultiAnonymousBoxFromBytes wraps b after checking it can hold
// numRecipients wrapped keys and an authentication tag.
func MultiAnonymousBoxFromBytes[T any](b []byte, numRecipients int) (*MultiAnonymousBox[T], error) {
	if numRecipients <= 0 {
		return nil, fmt.Errorf("%w: multi anonymous box needs at least one recipient, got %d", ErrInvalidLength, numRecipients)
	}
	if err := checkMinLength("multi anonymous box", b, multiAnonymousBoxMinLen(numRecipients)); err != nil {
		return nil, err
	}
	return &MultiAnonymousBox[T]{raw{append([]byte(nil), b...)}}, nil
}

func multiAnonymousBoxMinLen(numRecipients int) int {
	return numRecipients*constants.WrappedKeyLen + constants.Poly1305AuthTagLen
}

// EncryptMultiAnonymousBox encrypts payload so that any of recipients can
// open it.
func EncryptMultiAnonymousBox[T any](rng io.Reader, recipients []*keys.EncryptionPublicKey, payload []byte) (*MultiAnonymousBox[T], error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	var contentKey [constants.MultiAnonymousBoxSecretKeyLen]byte
	if _, err := io.ReadFull(rng, contentKey[:]); err != nil {
		return nil, err
	}

	out := make([]byte, 0, multiAnonymousBoxMinLen(len(recipients))+len(payload))
	for _, pk := range recipients {
		wrapped, err := box.SealAnonymous(nil, contentKey[:], pk.Array(), rng)
		if err != nil {
			return nil, err
		}
		if len(wrapped) != constants.WrappedKeyLen {
			panic("BUG: envelope: wrapped key has unexpected length")
		}
		out = append(out, wrapped...)
	}

	// Fresh content key per message, nonce fixed at zero.
	var nonce [24]byte
	out = secretbox.Seal(out, payload, &nonce, &contentKey)
	return &MultiAnonymousBox[T]{raw{out}}, nil
}

// Decrypt tries each wrapped key slot in turn. A recipient cannot know
// which slot is theirs so the scan is linear and ErrNoMatchingKey is only
// returned once every slot has been tried.
func (b *MultiAnonymousBox[T]) Decrypt(recipient *keys.EncryptionKeyPair, numRecipients int) ([]byte, error) {
	if numRecipients <= 0 {
		return nil, fmt.Errorf("%w: multi anonymous box needs at least one recipient, got %d", ErrInvalidLength, numRecipients)
	}
	if err := checkMinLength("multi anonymous box", b.b, multiAnonymousBoxMinLen(numRecipients)); err != nil {
		return nil, err
	}

	body := b.b[numRecipients*constants.WrappedKeyLen:]
	for i := 0; i < numRecipients; i++ {
		slot := b.b[i*constants.WrappedKeyLen : (i+1)*constants.WrappedKeyLen]
		key, ok := box.OpenAnonymous(nil, slot, recipient.Public.Array(), recipient.SecretArray())
		if !ok {
			continue
		}
		if len(key) != constants.MultiAnonymousBoxSecretKeyLen {
			return nil, fmt.Errorf("%w: wrapped key of %d bytes", ErrDecryptionFailed, len(key))
		}
		var contentKey [constants.MultiAnonymousBoxSecretKeyLen]byte
		copy(contentKey[:], key)
		var nonce [24]byte
		pt, ok := secretbox.Open(nil, body, &nonce, &contentKey)
		if !ok {
			return nil, ErrDecryptionFailed
		}
		return pt, nil
	}
	return nil, ErrNoMatchingKey
}
