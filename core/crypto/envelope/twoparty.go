// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

// TwoPartyBox is a sender authenticated box laid out as
// ciphertext || nonce, where the ciphertext carries its Poly1305 tag.
type TwoPartyBox[T any] struct {
	raw
}

// TwoPartyBoxFromBytes wraps b after checking it can hold a tag and nonce.
func TwoPartyBoxFromBytes[T any](b []byte) (*TwoPartyBox[T], error) {
	if err := checkMinLength("two party box", b, constants.TwoPartyBoxOverhead); err != nil {
		return nil, err
	}
	return &TwoPartyBox[T]{raw{append([]byte(nil), b...)}}, nil
}

// EncryptTwoPartyBox encrypts payload from sender to recipient using a
// fresh nonce drawn from rng.
func EncryptTwoPartyBox[T any](rng io.Reader, recipient *keys.EncryptionPublicKey, sender *keys.EncryptionKeyPair, payload []byte) (*TwoPartyBox[T], error) {
	var nonce [constants.TwoPartyBoxNonceLen]byte
	if _, err := io.ReadFull(rng, nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+constants.TwoPartyBoxOverhead)
	out = box.Seal(out, payload, &nonce, recipient.Array(), sender.SecretArray())
	out = append(out, nonce[:]...)
	return &TwoPartyBox[T]{raw{out}}, nil
}

// Decrypt opens the box sent by sender to recipient. It never returns
// partial plaintext.
func (b *TwoPartyBox[T]) Decrypt(sender *keys.EncryptionPublicKey, recipient *keys.EncryptionKeyPair) ([]byte, error) {
	if err := checkMinLength("two party box", b.b, constants.TwoPartyBoxOverhead); err != nil {
		return nil, err
	}
	split := len(b.b) - constants.TwoPartyBoxNonceLen
	var nonce [constants.TwoPartyBoxNonceLen]byte
	copy(nonce[:], b.b[split:])
	pt, ok := box.Open(nil, b.b[:split], &nonce, sender.Array(), recipient.SecretArray())
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}
