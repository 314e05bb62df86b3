// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package keys

import (
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
)

func TestSigningKeyPair(t *testing.T) {
	t.Parallel()

	kp, err := NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)

	msg := []byte("dead drop")
	sig := kp.Sign(msg)
	require.True(t, kp.Public.Verify(sig, msg))
	require.False(t, kp.Public.Verify(sig[:10], msg))
	sig[0] ^= 0x01
	require.False(t, kp.Public.Verify(sig, msg))

	restored, err := SigningKeyPairFromSeed(kp.Seed())
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(restored.Public))
	require.True(t, restored.Public.Verify(restored.Sign(msg), msg))

	pk, err := SigningPublicKeyFromHex(kp.Public.Hex())
	require.NoError(t, err)
	require.True(t, pk.Equal(kp.Public))
	require.Equal(t, kp.Public.Bytes(), pk.Bytes())

	_, err = SigningKeyPairFromSeed(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidKeyLength)
	_, err = SigningPublicKeyFromHex("abcd")
	require.ErrorIs(t, err, ErrInvalidKeyLength)
	_, err = SigningPublicKeyFromHex("zz")
	require.Error(t, err)
}

func TestEncryptionKeyPair(t *testing.T) {
	t.Parallel()

	kp, err := NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)

	restored, err := EncryptionKeyPairFromBytes(kp.Public.Bytes(), kp.SecretBytes())
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(restored.Public))
	require.Equal(t, kp.SecretArray(), restored.SecretArray())

	pk, err := EncryptionPublicKeyFromHex(kp.Public.Hex())
	require.NoError(t, err)
	require.True(t, pk.Equal(kp.Public))

	other, err := NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	require.False(t, other.Public.Equal(kp.Public))

	_, err = EncryptionKeyPairFromBytes(kp.Public.Bytes(), make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidKeyLength)
	_, err = NewEncryptionPublicKey(make([]byte, 33))
	require.ErrorIs(t, err, ErrInvalidKeyLength)
}
