// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package cert provides the canonical byte encodings that CoverDrop signs
// in order to certify keys and dead drops.
package cert

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/katzenpost/coverdrop/core/crypto/envelope"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

// KeyCertificate marks signatures over a (key, not valid after) pair.
type KeyCertificate struct{}

// DeadDropCertificate marks the legacy signatures over raw dead drop data.
type DeadDropCertificate struct{}

// DeadDropSignature marks signatures over hashed dead drop data and its
// creation time.
type DeadDropSignature struct{}

func appendEpochSeconds(b []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(t.Unix()))
}

// KeyCertificateData encodes key || notValidAfter, the latter as big
// endian signed 64 bit unix seconds.
func KeyCertificateData(key []byte, notValidAfter time.Time) []byte {
	out := make([]byte, 0, len(key)+8)
	out = append(out, key...)
	return appendEpochSeconds(out, notValidAfter)
}

// DeadDropCertificateData is the legacy dead drop encoding: the data as is.
func DeadDropCertificateData(data []byte) []byte {
	return append([]byte(nil), data...)
}

// DeadDropSignatureData encodes SHA256(data || createdAt), the latter as
// big endian signed 64 bit unix seconds.
func DeadDropSignatureData(data []byte, createdAt time.Time) []byte {
	h := sha256.New()
	h.Write(data)
	h.Write(appendEpochSeconds(nil, createdAt))
	return h.Sum(nil)
}

// SignKey certifies key under parent until notValidAfter.
func SignKey(parent *keys.SigningKeyPair, key []byte, notValidAfter time.Time) *envelope.Signature[KeyCertificate] {
	return envelope.Sign[KeyCertificate](parent, KeyCertificateData(key, notValidAfter))
}

// VerifyKey checks a key certificate under parent.
func VerifyKey(parent *keys.SigningPublicKey, key []byte, notValidAfter time.Time, sig *envelope.Signature[KeyCertificate]) error {
	return sig.Verify(parent, KeyCertificateData(key, notValidAfter))
}

// SignDeadDrop signs data and its creation time.
func SignDeadDrop(signer *keys.SigningKeyPair, data []byte, createdAt time.Time) *envelope.Signature[DeadDropSignature] {
	return envelope.Sign[DeadDropSignature](signer, DeadDropSignatureData(data, createdAt))
}

// VerifyDeadDrop checks a dead drop signature.
func VerifyDeadDrop(pk *keys.SigningPublicKey, data []byte, createdAt time.Time, sig *envelope.Signature[DeadDropSignature]) error {
	return sig.Verify(pk, DeadDropSignatureData(data, createdAt))
}

// CertifyDeadDrop produces the legacy certificate over the raw data.
func CertifyDeadDrop(signer *keys.SigningKeyPair, data []byte) *envelope.Signature[DeadDropCertificate] {
	return envelope.Sign[DeadDropCertificate](signer, DeadDropCertificateData(data))
}

// VerifyDeadDropCertificate checks a legacy dead drop certificate.
func VerifyDeadDropCertificate(pk *keys.SigningPublicKey, data []byte, sig *envelope.Signature[DeadDropCertificate]) error {
	return sig.Verify(pk, DeadDropCertificateData(data))
}
