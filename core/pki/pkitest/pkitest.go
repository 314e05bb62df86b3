// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package pkitest generates self consistent published key hierarchies
// together with their secret keys, for tests and local test setups.
package pkitest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/cert"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
	"github.com/katzenpost/coverdrop/core/pki"
)

// Hierarchy is a generated hierarchy. Every CoverNode and journalist has
// one key family with one messaging key.
type Hierarchy struct {
	Org                    *keys.SigningKeyPair
	CoverNodeProvisioning  *keys.SigningKeyPair
	JournalistProvisioning *keys.SigningKeyPair

	CoverNodeIDs   map[string]*keys.SigningKeyPair
	CoverNodeMsgs  map[string]*keys.EncryptionKeyPair
	JournalistIDs  map[string]*keys.SigningKeyPair
	JournalistMsgs map[string]*keys.EncryptionKeyPair

	Published *pki.PublishedKeysAndProfiles
}

// TrustedOrgKeys returns the trust set matching the hierarchy.
func (h *Hierarchy) TrustedOrgKeys() []*keys.SigningPublicKey {
	return []*keys.SigningPublicKey{h.Org.Public}
}

// Expiry returns the not valid after time derived from now.
func Expiry(now time.Time, d time.Duration) time.Time {
	return now.Add(d).UTC().Truncate(time.Second)
}

// SignedSigningKey certifies kp under parent.
func SignedSigningKey(parent, kp *keys.SigningKeyPair, notValidAfter time.Time) pki.PublishedSignedSigningKey {
	return pki.PublishedSignedSigningKey{
		Key:           kp.Public.Hex(),
		Certificate:   hex.EncodeToString(cert.SignKey(parent, kp.Public.Bytes(), notValidAfter).Bytes()),
		NotValidAfter: notValidAfter,
	}
}

// SignedEncryptionKey certifies kp under parent.
func SignedEncryptionKey(parent *keys.SigningKeyPair, kp *keys.EncryptionKeyPair, notValidAfter time.Time) pki.PublishedSignedEncryptionKey {
	return pki.PublishedSignedEncryptionKey{
		Key:           kp.Public.Hex(),
		Certificate:   hex.EncodeToString(cert.SignKey(parent, kp.Public.Bytes(), notValidAfter).Bytes()),
		NotValidAfter: notValidAfter,
	}
}

func newFamily(rng io.Reader, parent *keys.SigningKeyPair, now time.Time, idValidity, msgValidity time.Duration) (*keys.SigningKeyPair, *keys.EncryptionKeyPair, pki.PublishedKeyFamily, error) {
	id, err := keys.NewSigningKeyPair(rng)
	if err != nil {
		return nil, nil, pki.PublishedKeyFamily{}, err
	}
	msg, err := keys.NewEncryptionKeyPair(rng)
	if err != nil {
		return nil, nil, pki.PublishedKeyFamily{}, err
	}
	family := pki.PublishedKeyFamily{
		IDPk:   SignedSigningKey(parent, id, Expiry(now, idValidity)),
		MsgPks: []pki.PublishedSignedEncryptionKey{SignedEncryptionKey(id, msg, Expiry(now, msgValidity))},
	}
	return id, msg, family, nil
}

// Generate builds a hierarchy valid at now.
func Generate(rng io.Reader, now time.Time, coverNodes, journalists []string) (*Hierarchy, error) {
	h := &Hierarchy{
		CoverNodeIDs:   make(map[string]*keys.SigningKeyPair),
		CoverNodeMsgs:  make(map[string]*keys.EncryptionKeyPair),
		JournalistIDs:  make(map[string]*keys.SigningKeyPair),
		JournalistMsgs: make(map[string]*keys.EncryptionKeyPair),
	}

	var err error
	if h.Org, err = keys.NewSigningKeyPair(rng); err != nil {
		return nil, err
	}
	if h.CoverNodeProvisioning, err = keys.NewSigningKeyPair(rng); err != nil {
		return nil, err
	}
	if h.JournalistProvisioning, err = keys.NewSigningKeyPair(rng); err != nil {
		return nil, err
	}

	cnh := pki.PublishedCoverNodeKeyHierarchy{
		ProvisioningPk: SignedSigningKey(h.Org, h.CoverNodeProvisioning, Expiry(now, constants.ProvisioningKeyValidDuration)),
		CoverNodes:     make(map[string][]pki.PublishedKeyFamily),
	}
	for _, name := range coverNodes {
		id, msg, family, err := newFamily(rng, h.CoverNodeProvisioning, now, constants.CoverNodeIDKeyValidDuration, constants.CoverNodeMessagingKeyValidDuration)
		if err != nil {
			return nil, err
		}
		h.CoverNodeIDs[name] = id
		h.CoverNodeMsgs[name] = msg
		cnh.CoverNodes[name] = []pki.PublishedKeyFamily{family}
	}

	jh := pki.PublishedJournalistsKeyHierarchy{
		ProvisioningPk: SignedSigningKey(h.Org, h.JournalistProvisioning, Expiry(now, constants.ProvisioningKeyValidDuration)),
		Journalists:    make(map[string][]pki.PublishedKeyFamily),
	}
	profiles := make([]pki.PublishedJournalistProfile, 0, len(journalists))
	for _, name := range journalists {
		id, msg, family, err := newFamily(rng, h.JournalistProvisioning, now, constants.JournalistIDKeyValidDuration, constants.JournalistMessagingKeyValidDuration)
		if err != nil {
			return nil, err
		}
		h.JournalistIDs[name] = id
		h.JournalistMsgs[name] = msg
		jh.Journalists[name] = []pki.PublishedKeyFamily{family}
		tag := sha256.Sum256([]byte(name))
		profiles = append(profiles, pki.PublishedJournalistProfile{
			ID:          name,
			DisplayName: name,
			SortName:    name,
			Tag:         hex.EncodeToString(tag[:constants.RecipientTagLen]),
			Status:      pki.JournalistVisible,
		})
	}

	h.Published = &pki.PublishedKeysAndProfiles{
		JournalistProfiles: profiles,
		Keys: []pki.PublishedKeyHierarchy{{
			OrgPk:       SignedSigningKey(h.Org, h.Org, Expiry(now, constants.OrganizationKeyValidDuration)),
			CoverNodes:  []pki.PublishedCoverNodeKeyHierarchy{cnh},
			Journalists: []pki.PublishedJournalistsKeyHierarchy{jh},
		}},
	}
	return h, nil
}
