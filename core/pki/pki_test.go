// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package pki_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/coverdrop/core/crypto/keys"
	"github.com/katzenpost/coverdrop/core/pki"
	"github.com/katzenpost/coverdrop/core/pki/pkitest"
)

var testNow = time.Date(2024, time.April, 1, 12, 0, 0, 0, time.UTC)

func generate(t *testing.T) *pkitest.Hierarchy {
	h, err := pkitest.Generate(rand.Reader, testNow, []string{"covernode_001", "covernode_002"}, []string{"alice", "bob"})
	require.NoError(t, err)
	return h
}

func flipHex(t *testing.T, s string) string {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	b[len(b)/2] ^= 0x01
	return hex.EncodeToString(b)
}

func TestVerifyFullHierarchy(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	h := generate(t)
	v, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.NoError(t, err)
	require.Len(t, v.Keys, 1)
	assert.True(h.Org.Public.Equal(v.Keys[0].OrgPk.PK))

	journalistKeys := pki.AllJournalistToMessagingKeys(v.JournalistHierarchies())
	assert.Len(journalistKeys, 2)
	for name, kp := range h.JournalistMsgs {
		require.Len(t, journalistKeys[name], 1)
		assert.True(kp.Public.Equal(journalistKeys[name][0].PK))
	}

	coverNodeKeys := pki.AllCoverNodeToMessagingKeys(v.CoverNodeHierarchies())
	assert.Len(coverNodeKeys, 2)
	for name, kp := range h.CoverNodeMsgs {
		require.Len(t, coverNodeKeys[name], 1)
		assert.True(kp.Public.Equal(coverNodeKeys[name][0].PK))
	}

	assert.Len(v.AllCoverNodeSigningKeys(), 2)
}

func TestVerifyAfterJSONRoundTrip(t *testing.T) {
	t.Parallel()

	h := generate(t)
	b, err := h.Published.Marshal()
	require.NoError(t, err)

	// Unknown fields must not break parsing.
	b = append([]byte(`{"unexpected":{"nested":[1,2,3]},`), b[1:]...)
	p, err := pki.ParsePublishedKeysAndProfiles(b)
	require.NoError(t, err)
	require.Len(t, p.JournalistProfiles, 2)

	v, err := pki.VerifyKeysAndProfiles(p, h.TrustedOrgKeys(), testNow)
	require.NoError(t, err)
	require.Len(t, pki.AllJournalistToMessagingKeys(v.JournalistHierarchies()), 2)
}

func TestUntrustedRootFails(t *testing.T) {
	t.Parallel()

	h := generate(t)
	other, err := keys.NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)

	_, err = pki.VerifyKeysAndProfiles(h.Published, []*keys.SigningPublicKey{other.Public}, testNow)
	require.ErrorIs(t, err, pki.ErrKeyVerificationFailed)

	h.Published.Keys[0].OrgPk.Certificate = flipHex(t, h.Published.Keys[0].OrgPk.Certificate)
	_, err = pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.ErrorIs(t, err, pki.ErrKeyVerificationFailed)
}

func TestBadProvisioningKeyFailsHierarchy(t *testing.T) {
	t.Parallel()

	h := generate(t)
	p := &h.Published.Keys[0].Journalists[0].ProvisioningPk
	p.Certificate = flipHex(t, p.Certificate)

	_, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.ErrorIs(t, err, pki.ErrKeyVerificationFailed)
}

func TestBadIdentityKeyPrunesOnlyItsSubtree(t *testing.T) {
	t.Parallel()

	h := generate(t)
	family := &h.Published.Keys[0].Journalists[0].Journalists["alice"][0]
	family.IDPk.Certificate = flipHex(t, family.IDPk.Certificate)

	coverNodeFamily := &h.Published.Keys[0].CoverNodes[0].CoverNodes["covernode_001"][0]
	coverNodeFamily.IDPk.Certificate = flipHex(t, coverNodeFamily.IDPk.Certificate)

	v, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.NoError(t, err)

	journalistKeys := pki.AllJournalistToMessagingKeys(v.JournalistHierarchies())
	require.NotContains(t, journalistKeys, "alice")
	require.Len(t, journalistKeys["bob"], 1)

	coverNodeKeys := v.MostRecentMessagingKeyForEachCoverNode(testNow)
	require.NotContains(t, coverNodeKeys, "covernode_001")
	require.Contains(t, coverNodeKeys, "covernode_002")
	require.Len(t, v.AllCoverNodeSigningKeys(), 1)
}

func TestExpiredLeafIsPrunedWithoutAffectingSibling(t *testing.T) {
	t.Parallel()

	h := generate(t)
	expired, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	family := &h.Published.Keys[0].Journalists[0].Journalists["alice"][0]
	family.MsgPks = append(family.MsgPks, pkitest.SignedEncryptionKey(h.JournalistIDs["alice"], expired, testNow.Add(-time.Hour)))

	v, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.NoError(t, err)

	aliceKeys := pki.AllJournalistToMessagingKeys(v.JournalistHierarchies())["alice"]
	require.Len(t, aliceKeys, 1)
	require.True(t, h.JournalistMsgs["alice"].Public.Equal(aliceKeys[0].PK))
}

func TestBadMessagingKeyIsPruned(t *testing.T) {
	t.Parallel()

	h := generate(t)
	family := &h.Published.Keys[0].Journalists[0].Journalists["bob"][0]
	family.MsgPks[0].Certificate = flipHex(t, family.MsgPks[0].Certificate)

	v, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.NoError(t, err)

	// The identity key survives with no messaging keys.
	families := v.JournalistHierarchies()[0].Journalists["bob"]
	require.Len(t, families, 1)
	require.Empty(t, families[0].MsgPks)

	_, err = v.MostRecentMessagingKeyForJournalist("bob", testNow)
	require.ErrorIs(t, err, pki.ErrNoValidKey)
}

func TestVerifyKeyErrorKinds(t *testing.T) {
	t.Parallel()

	parent, err := keys.NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)
	child, err := keys.NewSigningKeyPair(rand.Reader)
	require.NoError(t, err)

	published := pkitest.SignedSigningKey(parent, child, testNow.Add(time.Hour).Truncate(time.Second))

	verified, err := pki.VerifySigningKeyWithExpiry(&published, parent.Public, testNow)
	require.NoError(t, err)
	require.True(t, child.Public.Equal(verified.PK))

	_, err = pki.VerifySigningKeyWithExpiry(&published, parent.Public, testNow.Add(2*time.Hour))
	require.ErrorIs(t, err, pki.ErrKeyExpired)
	require.ErrorIs(t, err, pki.ErrKeyVerificationFailed)
	require.Nil(t, pki.TryVerifySigningKeyWithExpiry(&published, parent.Public, testNow.Add(2*time.Hour)))

	_, err = pki.VerifySigningKeyWithExpiry(&published, child.Public, testNow)
	require.ErrorIs(t, err, pki.ErrKeyVerificationFailed)
	require.NotErrorIs(t, err, pki.ErrKeyExpired)

	// Expiry is inclusive of the not valid after instant itself.
	_, err = pki.VerifySigningKeyWithExpiry(&published, parent.Public, published.NotValidAfter)
	require.NoError(t, err)

	encryption, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	publishedEnc := pkitest.SignedEncryptionKey(parent, encryption, testNow.Add(time.Hour).Truncate(time.Second))
	verifiedEnc, err := pki.VerifyEncryptionKeyWithExpiry(&publishedEnc, parent.Public, testNow)
	require.NoError(t, err)
	require.Equal(t, publishedEnc.NotValidAfter, verifiedEnc.NotValidAfter)

	publishedEnc.Key = "zz"
	require.Nil(t, pki.TryVerifyEncryptionKeyWithExpiry(&publishedEnc, parent.Public, testNow))
}

func TestMostRecentMessagingKey(t *testing.T) {
	t.Parallel()

	h := generate(t)
	newer, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	family := &h.Published.Keys[0].Journalists[0].Journalists["alice"][0]
	family.MsgPks = append(family.MsgPks, pkitest.SignedEncryptionKey(h.JournalistIDs["alice"], newer, pkitest.Expiry(testNow, 20*24*time.Hour)))

	v, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.NoError(t, err)

	k, err := v.MostRecentMessagingKeyForJournalist("alice", testNow)
	require.NoError(t, err)
	require.True(t, newer.Public.Equal(k.PK))

	_, err = v.MostRecentMessagingKeyForJournalist("mallory", testNow)
	require.ErrorIs(t, err, pki.ErrNoValidKey)

	require.Len(t, v.MostRecentMessagingKeyForEachCoverNode(testNow), 2)
}

func TestMostRecentMessagingKeyAtExpiry(t *testing.T) {
	t.Parallel()

	h := generate(t)
	kp, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	expiry := pkitest.Expiry(testNow, 20*24*time.Hour)
	family := &h.Published.Keys[0].Journalists[0].Journalists["alice"][0]
	family.MsgPks = []pki.PublishedSignedEncryptionKey{pkitest.SignedEncryptionKey(h.JournalistIDs["alice"], kp, expiry)}

	// A key is still valid at the instant it expires.
	v, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), expiry)
	require.NoError(t, err)
	k, err := v.MostRecentMessagingKeyForJournalist("alice", expiry)
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(k.PK))

	_, err = v.MostRecentMessagingKeyForJournalist("alice", expiry.Add(time.Second))
	require.ErrorIs(t, err, pki.ErrNoValidKey)
}
