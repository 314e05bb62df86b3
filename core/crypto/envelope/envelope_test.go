// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

type testPayload struct{}

func newEncryptionKeyPair(t *testing.T) *keys.EncryptionKeyPair {
	kp, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	return kp
}

func randomPayload(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Reader.Read(b)
	require.NoError(t, err)
	return b
}

func flipBit(b []byte, i int) {
	b[i/8] ^= 1 << (i % 8)
}

func TestSignatureRoundTrip(t *testing.T) {
	t.Parallel()

	kp, err := keys.NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)
	msg := randomPayload(t, 100)

	sig := Sign[testPayload](kp, msg)
	require.Equal(t, constants.Ed25519SignatureLen, sig.Len())
	require.NoError(t, sig.Verify(kp.Public, msg))
	require.NoError(t, VerifySignature(kp.Public, msg, sig))

	other, err := keys.NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)
	require.ErrorIs(t, sig.Verify(other.Public, msg), ErrBadSignature)
}

func TestSignatureTamper(t *testing.T) {
	t.Parallel()

	kp, err := keys.NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)
	msg := randomPayload(t, 32)
	sig := Sign[testPayload](kp, msg)

	for i := 0; i < sig.Len()*8; i++ {
		b := sig.Bytes()
		flipBit(b, i)
		tampered, err := SignatureFromBytes[testPayload](b)
		require.NoError(t, err)
		require.ErrorIs(t, tampered.Verify(kp.Public, msg), ErrBadSignature)
	}

	msg[0] ^= 0x01
	require.ErrorIs(t, sig.Verify(kp.Public, msg), ErrBadSignature)
}

func TestSignatureFromBytesLength(t *testing.T) {
	t.Parallel()

	_, err := SignatureFromBytes[testPayload](make([]byte, constants.Ed25519SignatureLen-1))
	require.ErrorIs(t, err, ErrInvalidLength)

	sig, err := SignatureFromBytes[testPayload](make([]byte, constants.Ed25519SignatureLen))
	require.NoError(t, err)
	require.True(t, sig.IsZero())
}

func TestSigningKeyPairFromSeed(t *testing.T) {
	t.Parallel()

	kp, err := keys.NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)
	restored, err := keys.SigningKeyPairFromSeed(kp.Seed())
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(restored.Public))

	msg := []byte("seed")
	require.NoError(t, Sign[testPayload](restored, msg).Verify(kp.Public, msg))
}

func TestTwoPartyBoxRoundTrip(t *testing.T) {
	t.Parallel()

	sender := newEncryptionKeyPair(t)
	recipient := newEncryptionKeyPair(t)
	msg := randomPayload(t, constants.JournalistToUserMessageLen)

	b, err := EncryptTwoPartyBox[testPayload](rand.Reader, recipient.Public, sender, msg)
	require.NoError(t, err)
	require.Equal(t, constants.JournalistToUserEncryptedMessageLen, b.Len())

	pt, err := b.Decrypt(sender.Public, recipient)
	require.NoError(t, err)
	require.Equal(t, msg, pt)

	// The recipient's own key cannot impersonate a different sender.
	stranger := newEncryptionKeyPair(t)
	_, err = b.Decrypt(stranger.Public, recipient)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTwoPartyBoxTamper(t *testing.T) {
	t.Parallel()

	sender := newEncryptionKeyPair(t)
	recipient := newEncryptionKeyPair(t)
	b, err := EncryptTwoPartyBox[testPayload](rand.Reader, recipient.Public, sender, randomPayload(t, 64))
	require.NoError(t, err)

	for i := 0; i < b.Len()*8; i++ {
		raw := b.Bytes()
		flipBit(raw, i)
		tampered, err := TwoPartyBoxFromBytes[testPayload](raw)
		require.NoError(t, err)
		pt, err := tampered.Decrypt(sender.Public, recipient)
		require.ErrorIs(t, err, ErrDecryptionFailed)
		require.Nil(t, pt)
	}
}

func TestTwoPartyBoxTooShort(t *testing.T) {
	t.Parallel()

	_, err := TwoPartyBoxFromBytes[testPayload](make([]byte, constants.TwoPartyBoxOverhead-1))
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestAnonymousBoxRoundTrip(t *testing.T) {
	t.Parallel()

	recipient := newEncryptionKeyPair(t)
	msg := randomPayload(t, constants.UserToJournalistMessageLen)

	b, err := EncryptAnonymousBox[testPayload](rand.Reader, recipient.Public, msg)
	require.NoError(t, err)
	require.Equal(t, constants.UserToJournalistEncryptedMessageLen, b.Len())

	pt, err := b.Decrypt(recipient)
	require.NoError(t, err)
	require.Equal(t, msg, pt)

	_, err = b.Decrypt(newEncryptionKeyPair(t))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAnonymousBoxTamper(t *testing.T) {
	t.Parallel()

	recipient := newEncryptionKeyPair(t)
	b, err := EncryptAnonymousBox[testPayload](rand.Reader, recipient.Public, randomPayload(t, 40))
	require.NoError(t, err)

	for i := 0; i < b.Len()*8; i++ {
		raw := b.Bytes()
		flipBit(raw, i)
		tampered, err := AnonymousBoxFromBytes[testPayload](raw)
		require.NoError(t, err)
		_, err = tampered.Decrypt(recipient)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	}

	_, err = AnonymousBoxFromBytes[testPayload](make([]byte, constants.AnonymousBoxOverhead-1))
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestMultiAnonymousBoxRoundTrip(t *testing.T) {
	t.Parallel()

	msg := randomPayload(t, constants.UserToCoverNodeMessageLen)
	for n := 1; n <= 4; n++ {
		recipients := make([]*keys.EncryptionKeyPair, n)
		pks := make([]*keys.EncryptionPublicKey, n)
		for i := range recipients {
			recipients[i] = newEncryptionKeyPair(t)
			pks[i] = recipients[i].Public
		}

		b, err := EncryptMultiAnonymousBox[testPayload](rand.Reader, pks, msg)
		require.NoError(t, err)
		require.Equal(t, n*constants.WrappedKeyLen+len(msg)+constants.Poly1305AuthTagLen, b.Len())

		for _, r := range recipients {
			pt, err := b.Decrypt(r, n)
			require.NoError(t, err)
			require.Equal(t, msg, pt)
		}

		_, err = b.Decrypt(newEncryptionKeyPair(t), n)
		require.ErrorIs(t, err, ErrNoMatchingKey)
	}
}

func TestMultiAnonymousBoxWireSize(t *testing.T) {
	t.Parallel()

	pks := []*keys.EncryptionPublicKey{newEncryptionKeyPair(t).Public, newEncryptionKeyPair(t).Public}
	b, err := EncryptMultiAnonymousBox[testPayload](rand.Reader, pks, make([]byte, constants.UserToCoverNodeMessageLen))
	require.NoError(t, err)
	require.Equal(t, constants.UserToCoverNodeEncryptedMessageLen, b.Len())
}

func TestMultiAnonymousBoxTamper(t *testing.T) {
	t.Parallel()

	recipient := newEncryptionKeyPair(t)
	b, err := EncryptMultiAnonymousBox[testPayload](rand.Reader, []*keys.EncryptionPublicKey{recipient.Public}, randomPayload(t, 50))
	require.NoError(t, err)

	for i := 0; i < b.Len()*8; i++ {
		raw := b.Bytes()
		flipBit(raw, i)
		tampered, err := MultiAnonymousBoxFromBytes[testPayload](raw, 1)
		require.NoError(t, err)
		pt, err := tampered.Decrypt(recipient, 1)
		require.Error(t, err)
		require.Nil(t, pt)
	}
}

func TestMultiAnonymousBoxErrors(t *testing.T) {
	t.Parallel()

	_, err := EncryptMultiAnonymousBox[testPayload](rand.Reader, nil, []byte("x"))
	require.ErrorIs(t, err, ErrNoRecipients)

	_, err = MultiAnonymousBoxFromBytes[testPayload](make([]byte, 2*constants.WrappedKeyLen), 2)
	require.ErrorIs(t, err, ErrInvalidLength)

	recipient := newEncryptionKeyPair(t)
	b, err := EncryptMultiAnonymousBox[testPayload](rand.Reader, []*keys.EncryptionPublicKey{recipient.Public}, []byte("x"))
	require.NoError(t, err)
	for _, n := range []int{0, -1} {
		_, err = MultiAnonymousBoxFromBytes[testPayload](b.Bytes(), n)
		require.ErrorIs(t, err, ErrInvalidLength)
		pt, err := b.Decrypt(recipient, n)
		require.ErrorIs(t, err, ErrInvalidLength)
		require.Nil(t, pt)
	}
}
