// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/envelope"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
	"github.com/katzenpost/coverdrop/core/pki"
	"github.com/katzenpost/coverdrop/core/pki/pkitest"
)

var testNow = time.Date(2024, time.April, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, coverNodes ...string) (*pkitest.Hierarchy, *pki.VerifiedKeys) {
	h, err := pkitest.Generate(rand.Reader, testNow, coverNodes, []string{"alice"})
	require.NoError(t, err)
	v, err := pki.VerifyKeysAndProfiles(h.Published, h.TrustedOrgKeys(), testNow)
	require.NoError(t, err)
	return h, v
}

func TestRecipientTag(t *testing.T) {
	t.Parallel()

	tag := RecipientTagFromJournalistID("alice")
	require.False(t, tag.IsCover())
	require.True(t, CoverTag.IsCover())
	require.Equal(t, tag, RecipientTagFromJournalistID("alice"))
	require.NotEqual(t, tag, RecipientTagFromJournalistID("bob"))

	decoded, err := RecipientTagFromHex(tag.String())
	require.NoError(t, err)
	require.Equal(t, tag, decoded)

	_, err = RecipientTagFromHex("abcdef")
	require.Error(t, err)
}

func TestSelectCoverNodeKeysCycles(t *testing.T) {
	t.Parallel()

	_, v := setup(t, "covernode_001")
	selected, err := SelectCoverNodeKeys(v.MostRecentMessagingKeyForEachCoverNode(testNow))
	require.NoError(t, err)
	require.Len(t, selected, constants.CoverNodeWrappingKeyCount)
	require.True(t, selected[0].Equal(selected[1]))

	_, v = setup(t, "covernode_003", "covernode_001", "covernode_002")
	keys := v.MostRecentMessagingKeyForEachCoverNode(testNow)
	selected, err = SelectCoverNodeKeys(keys)
	require.NoError(t, err)
	require.Len(t, selected, constants.CoverNodeWrappingKeyCount)
	require.True(t, keys["covernode_001"].PK.Equal(selected[0]))
	require.True(t, keys["covernode_002"].PK.Equal(selected[1]))

	_, err = SelectCoverNodeKeys(nil)
	require.ErrorIs(t, err, ErrNoCoverNodeKeys)
}

func TestCoverAndRealMessagesHaveTheSameSize(t *testing.T) {
	t.Parallel()

	h, v := setup(t, "covernode_001", "covernode_002")
	p := New(rand.Reader)
	coverNodeKeys := v.MostRecentMessagingKeyForEachCoverNode(testNow)

	cover, err := p.CreateCoverMessageToCoverNode(coverNodeKeys)
	require.NoError(t, err)
	require.Len(t, cover, constants.UserToCoverNodeEncryptedMessageLen)

	user, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	journalistKey, err := v.MostRecentMessagingKeyForJournalist("alice", testNow)
	require.NoError(t, err)
	msg, err := NewPaddedCompressedString(rand.Reader, "hello")
	require.NoError(t, err)

	wire, err := p.EncryptUserToJournalistMessageViaCoverNode(coverNodeKeys, journalistKey, user.Public, msg, RecipientTagFromJournalistID("alice"))
	require.NoError(t, err)
	require.Len(t, wire, constants.UserToCoverNodeEncryptedMessageLen)

	tag, _, err := OpenAsCoverNode(h.CoverNodeMsgs["covernode_002"], cover)
	require.NoError(t, err)
	require.True(t, tag.IsCover())
}

func TestUserToJournalistRoundTrip(t *testing.T) {
	t.Parallel()

	h, v := setup(t, "covernode_001", "covernode_002")
	p := New(rand.Reader)
	coverNodeKeys := v.MostRecentMessagingKeyForEachCoverNode(testNow)

	user, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	journalistKey, err := v.MostRecentMessagingKeyForJournalist("alice", testNow)
	require.NoError(t, err)
	msg, err := NewPaddedCompressedString(rand.Reader, "a tip about something")
	require.NoError(t, err)

	wire, err := p.EncryptUserToJournalistMessageViaCoverNode(coverNodeKeys, journalistKey, user.Public, msg, RecipientTagFromJournalistID("alice"))
	require.NoError(t, err)

	for _, coverNode := range []string{"covernode_001", "covernode_002"} {
		tag, inner, err := OpenAsCoverNode(h.CoverNodeMsgs[coverNode], wire)
		require.NoError(t, err)
		require.Equal(t, RecipientTagFromJournalistID("alice"), tag)
		require.Equal(t, constants.UserToJournalistEncryptedMessageLen, inner.Len())

		replyKey, padded, err := OpenAsJournalist(h.JournalistMsgs["alice"], inner)
		require.NoError(t, err)
		require.True(t, user.Public.Equal(replyKey))
		require.Equal(t, msg.Bytes(), padded.Bytes())

		text, err := padded.String()
		require.NoError(t, err)
		require.Equal(t, "a tip about something", text)

		_, _, err = OpenAsJournalist(user, inner)
		require.ErrorIs(t, err, envelope.ErrDecryptionFailed)
	}

	stranger, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	_, _, err = OpenAsCoverNode(stranger, wire)
	require.ErrorIs(t, err, envelope.ErrNoMatchingKey)
}

func TestRealMessageRejectsCoverTag(t *testing.T) {
	t.Parallel()

	_, v := setup(t, "covernode_001")
	p := New(rand.Reader)
	user, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	journalistKey, err := v.MostRecentMessagingKeyForJournalist("alice", testNow)
	require.NoError(t, err)
	msg, err := NewPaddedCompressedString(rand.Reader, "x")
	require.NoError(t, err)

	_, err = p.EncryptUserToJournalistMessageViaCoverNode(v.MostRecentMessagingKeyForEachCoverNode(testNow), journalistKey, user.Public, msg, CoverTag)
	require.Error(t, err)
}

func TestJournalistToUserMessage(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	p := New(rand.Reader)
	journalist, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)
	user, err := keys.NewEncryptionKeyPair(rand.Reader)
	require.NoError(t, err)

	payload, err := HandoverPayload("bob")
	require.NoError(t, err)
	b, err := p.EncryptJournalistToUserMessage(journalist, user.Public, constants.FlagJ2UMessageTypeHandover, payload)
	require.NoError(t, err)
	assert.Equal(constants.JournalistToUserEncryptedMessageLen, b.Len())

	pt, err := b.Decrypt(journalist.Public, user)
	require.NoError(t, err)
	assert.Equal(byte(constants.FlagJ2UMessageTypeHandover), pt[0])
	assert.Equal("bob", string(pt[1:4]))

	_, err = HandoverPayload(strings.Repeat("j", constants.MaxJournalistIdentityLen))
	assert.Error(err)
}

func TestPaddedCompressedString(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "a", "this is a small message", "this is a longer message with a few extra words"} {
		p, err := NewPaddedCompressedString(rand.Reader, text)
		require.NoError(t, err)
		require.Len(t, p.Bytes(), constants.MessagePaddingLen)

		restored, err := PaddedCompressedStringFromBytes(p.Bytes())
		require.NoError(t, err)
		got, err := restored.String()
		require.NoError(t, err)
		require.Equal(t, text, got)

		fill, err := p.FillLevel()
		require.NoError(t, err)
		require.Greater(t, fill, 0.0)
		require.Less(t, fill, 1.0)
	}
}

func TestPaddedCompressedStringTooLong(t *testing.T) {
	t.Parallel()

	text := make([]byte, 2*constants.MessagePaddingLen)
	_, err := rand.Reader.Read(text)
	require.NoError(t, err)

	_, err = NewPaddedCompressedString(rand.Reader, string(text))
	require.ErrorIs(t, err, ErrCompressedStringTooLong)
}

func TestPaddedCompressedStringRatio(t *testing.T) {
	t.Parallel()

	p, err := NewPaddedCompressedString(rand.Reader, strings.Repeat("a", 10000))
	require.NoError(t, err)
	_, err = p.String()
	require.ErrorIs(t, err, ErrDecompressionRatioTooHigh)

	require.NoError(t, checkDecompressionRatio(100*40-1, 40))
	require.ErrorIs(t, checkDecompressionRatio(100*40, 40), ErrDecompressionRatioTooHigh)
	require.ErrorIs(t, checkDecompressionRatio(101*40, 40), ErrDecompressionRatioTooHigh)
}

func TestPaddedCompressedStringIsRandomlyPadded(t *testing.T) {
	t.Parallel()

	p, err := NewPaddedCompressedString(rand.Reader, "")
	require.NoError(t, err)

	zeros := 0
	for _, b := range p.Bytes()[100:] {
		if b == 0 {
			zeros++
		}
	}
	require.Less(t, zeros, 10)

	_, err = PaddedCompressedStringFromBytes(make([]byte, 10))
	require.ErrorIs(t, err, ErrInvalidPaddedCompressedString)

	empty, err := PaddedCompressedStringFromBytes(make([]byte, constants.MessagePaddingLen))
	require.NoError(t, err)
	_, err = empty.String()
	require.ErrorIs(t, err, ErrInvalidPaddedCompressedString)
}
