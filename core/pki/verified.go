// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package pki

import (
	"errors"
	"time"

	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

// ErrNoValidKey is returned when no unexpired messaging key exists for a
// journalist.
var ErrNoValidKey = errors.New("pki: no valid messaging key")

// TrustedRootSigningKey is an organization key that matched the local
// trust set and certified itself.
type TrustedRootSigningKey struct {
	PK *keys.SigningPublicKey
}

// VerifiedSignedSigningKey is a signing key whose certificate verified.
type VerifiedSignedSigningKey struct {
	PK *keys.SigningPublicKey
}

// VerifiedSignedEncryptionKey is an encryption key whose certificate
// verified.
type VerifiedSignedEncryptionKey struct {
	PK            *keys.EncryptionPublicKey
	NotValidAfter time.Time
}

// VerifiedKeyFamily is a verified identity key and the messaging keys
// that verified under it.
type VerifiedKeyFamily struct {
	IDPk   *VerifiedSignedSigningKey
	MsgPks []*VerifiedSignedEncryptionKey
}

// VerifiedCoverNodeKeyHierarchy mirrors PublishedCoverNodeKeyHierarchy.
type VerifiedCoverNodeKeyHierarchy struct {
	ProvisioningPk *VerifiedSignedSigningKey
	CoverNodes     map[string][]*VerifiedKeyFamily
}

// VerifiedJournalistsKeyHierarchy mirrors PublishedJournalistsKeyHierarchy.
type VerifiedJournalistsKeyHierarchy struct {
	ProvisioningPk *VerifiedSignedSigningKey
	Journalists    map[string][]*VerifiedKeyFamily
}

// VerifiedKeyHierarchy mirrors PublishedKeyHierarchy.
type VerifiedKeyHierarchy struct {
	OrgPk       *TrustedRootSigningKey
	Journalists []*VerifiedJournalistsKeyHierarchy
	CoverNodes  []*VerifiedCoverNodeKeyHierarchy
}

// VerifiedKeys holds every hierarchy that verified.
type VerifiedKeys struct {
	Keys []*VerifiedKeyHierarchy
}

// JournalistHierarchies flattens the journalist hierarchies of every key
// hierarchy.
func (v *VerifiedKeys) JournalistHierarchies() []*VerifiedJournalistsKeyHierarchy {
	var out []*VerifiedJournalistsKeyHierarchy
	for _, h := range v.Keys {
		out = append(out, h.Journalists...)
	}
	return out
}

// CoverNodeHierarchies flattens the CoverNode hierarchies of every key
// hierarchy.
func (v *VerifiedKeys) CoverNodeHierarchies() []*VerifiedCoverNodeKeyHierarchy {
	var out []*VerifiedCoverNodeKeyHierarchy
	for _, h := range v.Keys {
		out = append(out, h.CoverNodes...)
	}
	return out
}

// AllJournalistToMessagingKeys maps every journalist to all of its
// verified messaging keys.
func AllJournalistToMessagingKeys(hierarchies []*VerifiedJournalistsKeyHierarchy) map[string][]*VerifiedSignedEncryptionKey {
	m := make(map[string][]*VerifiedSignedEncryptionKey)
	for _, h := range hierarchies {
		for id, families := range h.Journalists {
			for _, family := range families {
				m[id] = append(m[id], family.MsgPks...)
			}
		}
	}
	return m
}

// AllCoverNodeToMessagingKeys maps every CoverNode to all of its verified
// messaging keys.
func AllCoverNodeToMessagingKeys(hierarchies []*VerifiedCoverNodeKeyHierarchy) map[string][]*VerifiedSignedEncryptionKey {
	m := make(map[string][]*VerifiedSignedEncryptionKey)
	for _, h := range hierarchies {
		for id, families := range h.CoverNodes {
			for _, family := range families {
				m[id] = append(m[id], family.MsgPks...)
			}
		}
	}
	return m
}

// AllCoverNodeSigningKeys returns the identity key of every CoverNode key
// family. These are the keys dead drops are signed with.
func AllCoverNodeSigningKeys(hierarchies []*VerifiedCoverNodeKeyHierarchy) []*VerifiedSignedSigningKey {
	var out []*VerifiedSignedSigningKey
	for _, h := range hierarchies {
		for _, families := range h.CoverNodes {
			for _, family := range families {
				out = append(out, family.IDPk)
			}
		}
	}
	return out
}

func mostRecent(candidates []*VerifiedSignedEncryptionKey, now time.Time) *VerifiedSignedEncryptionKey {
	var best *VerifiedSignedEncryptionKey
	for _, k := range candidates {
		if k.NotValidAfter.Before(now) {
			continue
		}
		if best == nil || k.NotValidAfter.After(best.NotValidAfter) {
			best = k
		}
	}
	return best
}

// MostRecentMessagingKeyForJournalist returns the unexpired messaging key
// of the journalist with the latest expiry.
func (v *VerifiedKeys) MostRecentMessagingKeyForJournalist(id string, now time.Time) (*VerifiedSignedEncryptionKey, error) {
	k := mostRecent(AllJournalistToMessagingKeys(v.JournalistHierarchies())[id], now)
	if k == nil {
		return nil, ErrNoValidKey
	}
	return k, nil
}

// MostRecentMessagingKeyForEachCoverNode returns, per CoverNode, the
// unexpired messaging key with the latest expiry. CoverNodes without such
// a key are omitted.
func (v *VerifiedKeys) MostRecentMessagingKeyForEachCoverNode(now time.Time) map[string]*VerifiedSignedEncryptionKey {
	out := make(map[string]*VerifiedSignedEncryptionKey)
	for id, candidates := range AllCoverNodeToMessagingKeys(v.CoverNodeHierarchies()) {
		if k := mostRecent(candidates, now); k != nil {
			out[id] = k
		}
	}
	return out
}

// AllCoverNodeSigningKeys returns the identity keys of every CoverNode.
func (v *VerifiedKeys) AllCoverNodeSigningKeys() []*VerifiedSignedSigningKey {
	return AllCoverNodeSigningKeys(v.CoverNodeHierarchies())
}
