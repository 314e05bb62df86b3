// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package pki verifies the key hierarchy published by the CoverDrop
// backend.
//
// A hierarchy is rooted at an organization key that must be in the local
// trust set. The organization key certifies provisioning keys, which
// certify identity keys, which in turn certify short lived messaging keys.
// Verification walks that tree and produces a Verified tree of the same
// shape with every key that failed removed. Only a failing organization or
// provisioning key fails the whole hierarchy.
//
// All functions are pure in their inputs, including the current time.
package pki

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/katzenpost/coverdrop/core/crypto/cert"
	"github.com/katzenpost/coverdrop/core/crypto/envelope"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

var (
	// ErrKeyVerificationFailed is returned when a key is not certified by
	// its parent or is otherwise malformed.
	ErrKeyVerificationFailed = errors.New("pki: key verification failed")

	// ErrKeyExpired is returned when a key is past its not valid after
	// time. It wraps ErrKeyVerificationFailed.
	ErrKeyExpired = fmt.Errorf("%w: key expired", ErrKeyVerificationFailed)
)

func decodeCertificate(s string) (*envelope.Signature[cert.KeyCertificate], error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return envelope.SignatureFromBytes[cert.KeyCertificate](b)
}

func checkCertificate(kind string, parent *keys.SigningPublicKey, key []byte, certificate string, notValidAfter, now time.Time) error {
	if now.After(notValidAfter) {
		return fmt.Errorf("%w: %s key expired on %s", ErrKeyExpired, kind, notValidAfter.UTC().Format(time.RFC3339))
	}
	sig, err := decodeCertificate(certificate)
	if err != nil {
		return fmt.Errorf("%w: %s key has malformed certificate: %v", ErrKeyVerificationFailed, kind, err)
	}
	if err := cert.VerifyKey(parent, key, notValidAfter, sig); err != nil {
		return fmt.Errorf("%w: %s key: %v", ErrKeyVerificationFailed, kind, err)
	}
	return nil
}

// VerifySigningKeyWithExpiry verifies that candidate has not expired and
// that its certificate verifies under parent.
func VerifySigningKeyWithExpiry(candidate *PublishedSignedSigningKey, parent *keys.SigningPublicKey, now time.Time) (*VerifiedSignedSigningKey, error) {
	pk, err := keys.SigningPublicKeyFromHex(candidate.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyVerificationFailed, err)
	}
	if err := checkCertificate("signing", parent, pk.Bytes(), candidate.Certificate, candidate.NotValidAfter, now); err != nil {
		return nil, err
	}
	return &VerifiedSignedSigningKey{PK: pk}, nil
}

// TryVerifySigningKeyWithExpiry is VerifySigningKeyWithExpiry with every
// failure mapped to nil.
func TryVerifySigningKeyWithExpiry(candidate *PublishedSignedSigningKey, parent *keys.SigningPublicKey, now time.Time) *VerifiedSignedSigningKey {
	k, err := VerifySigningKeyWithExpiry(candidate, parent, now)
	if err != nil {
		return nil
	}
	return k
}

// VerifyEncryptionKeyWithExpiry verifies that candidate has not expired
// and that its certificate verifies under parent.
func VerifyEncryptionKeyWithExpiry(candidate *PublishedSignedEncryptionKey, parent *keys.SigningPublicKey, now time.Time) (*VerifiedSignedEncryptionKey, error) {
	pk, err := keys.EncryptionPublicKeyFromHex(candidate.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyVerificationFailed, err)
	}
	if err := checkCertificate("encryption", parent, pk.Bytes(), candidate.Certificate, candidate.NotValidAfter, now); err != nil {
		return nil, err
	}
	return &VerifiedSignedEncryptionKey{PK: pk, NotValidAfter: candidate.NotValidAfter}, nil
}

// TryVerifyEncryptionKeyWithExpiry is VerifyEncryptionKeyWithExpiry with
// every failure mapped to nil.
func TryVerifyEncryptionKeyWithExpiry(candidate *PublishedSignedEncryptionKey, parent *keys.SigningPublicKey, now time.Time) *VerifiedSignedEncryptionKey {
	k, err := VerifyEncryptionKeyWithExpiry(candidate, parent, now)
	if err != nil {
		return nil
	}
	return k
}

// VerifyTrustedRootKey accepts orgPk only if its key equals one of
// trusted and it certifies itself.
func VerifyTrustedRootKey(orgPk *PublishedSignedSigningKey, trusted []*keys.SigningPublicKey, now time.Time) (*TrustedRootSigningKey, error) {
	candidate, err := keys.SigningPublicKeyFromHex(orgPk.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: organization key: %v", ErrKeyVerificationFailed, err)
	}
	for _, pk := range trusted {
		if !pk.Equal(candidate) {
			continue
		}
		if TryVerifySigningKeyWithExpiry(orgPk, pk, now) != nil {
			return &TrustedRootSigningKey{PK: pk}, nil
		}
	}
	return nil, fmt.Errorf("%w: failed to verify root key", ErrKeyVerificationFailed)
}

func verifyKeyFamily(family *PublishedKeyFamily, provisioning *VerifiedSignedSigningKey, now time.Time) *VerifiedKeyFamily {
	idPk := TryVerifySigningKeyWithExpiry(&family.IDPk, provisioning.PK, now)
	if idPk == nil {
		return nil
	}
	out := &VerifiedKeyFamily{
		IDPk:   idPk,
		MsgPks: make([]*VerifiedSignedEncryptionKey, 0, len(family.MsgPks)),
	}
	for i := range family.MsgPks {
		if msgPk := TryVerifyEncryptionKeyWithExpiry(&family.MsgPks[i], idPk.PK, now); msgPk != nil {
			out.MsgPks = append(out.MsgPks, msgPk)
		}
	}
	return out
}

// VerifyKeyFamilies verifies every identity key under provisioning and
// every messaging key under its identity key, dropping whatever fails.
func VerifyKeyFamilies(families []PublishedKeyFamily, provisioning *VerifiedSignedSigningKey, now time.Time) []*VerifiedKeyFamily {
	out := make([]*VerifiedKeyFamily, 0, len(families))
	for i := range families {
		if family := verifyKeyFamily(&families[i], provisioning, now); family != nil {
			out = append(out, family)
		}
	}
	return out
}

func verifyCoverNodeKeyHierarchy(h *PublishedCoverNodeKeyHierarchy, orgPk *TrustedRootSigningKey, now time.Time) (*VerifiedCoverNodeKeyHierarchy, error) {
	provisioning, err := VerifySigningKeyWithExpiry(&h.ProvisioningPk, orgPk.PK, now)
	if err != nil {
		return nil, fmt.Errorf("covernode provisioning: %w", err)
	}
	out := &VerifiedCoverNodeKeyHierarchy{
		ProvisioningPk: provisioning,
		CoverNodes:     make(map[string][]*VerifiedKeyFamily, len(h.CoverNodes)),
	}
	for id, families := range h.CoverNodes {
		out.CoverNodes[id] = VerifyKeyFamilies(families, provisioning, now)
	}
	return out, nil
}

func verifyJournalistsKeyHierarchy(h *PublishedJournalistsKeyHierarchy, orgPk *TrustedRootSigningKey, now time.Time) (*VerifiedJournalistsKeyHierarchy, error) {
	provisioning, err := VerifySigningKeyWithExpiry(&h.ProvisioningPk, orgPk.PK, now)
	if err != nil {
		return nil, fmt.Errorf("journalist provisioning: %w", err)
	}
	out := &VerifiedJournalistsKeyHierarchy{
		ProvisioningPk: provisioning,
		Journalists:    make(map[string][]*VerifiedKeyFamily, len(h.Journalists)),
	}
	for id, families := range h.Journalists {
		out.Journalists[id] = VerifyKeyFamilies(families, provisioning, now)
	}
	return out, nil
}

// VerifyKeyHierarchy verifies a single hierarchy. It fails if the
// organization key or any provisioning key fails and prunes everything
// below that.
func VerifyKeyHierarchy(h *PublishedKeyHierarchy, trusted []*keys.SigningPublicKey, now time.Time) (*VerifiedKeyHierarchy, error) {
	orgPk, err := VerifyTrustedRootKey(&h.OrgPk, trusted, now)
	if err != nil {
		return nil, err
	}

	out := &VerifiedKeyHierarchy{
		OrgPk:       orgPk,
		Journalists: make([]*VerifiedJournalistsKeyHierarchy, 0, len(h.Journalists)),
		CoverNodes:  make([]*VerifiedCoverNodeKeyHierarchy, 0, len(h.CoverNodes)),
	}
	for i := range h.CoverNodes {
		v, err := verifyCoverNodeKeyHierarchy(&h.CoverNodes[i], orgPk, now)
		if err != nil {
			return nil, err
		}
		out.CoverNodes = append(out.CoverNodes, v)
	}
	for i := range h.Journalists {
		v, err := verifyJournalistsKeyHierarchy(&h.Journalists[i], orgPk, now)
		if err != nil {
			return nil, err
		}
		out.Journalists = append(out.Journalists, v)
	}
	return out, nil
}

// VerifyKeysAndProfiles verifies every hierarchy in p.
func VerifyKeysAndProfiles(p *PublishedKeysAndProfiles, trusted []*keys.SigningPublicKey, now time.Time) (*VerifiedKeys, error) {
	out := &VerifiedKeys{Keys: make([]*VerifiedKeyHierarchy, 0, len(p.Keys))}
	for i := range p.Keys {
		v, err := VerifyKeyHierarchy(&p.Keys[i], trusted, now)
		if err != nil {
			return nil, err
		}
		out.Keys = append(out.Keys, v)
	}
	return out, nil
}
