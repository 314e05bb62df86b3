// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package protocol builds the layered messages a user sends to a
// journalist through the CoverNode, and the cover messages that are
// indistinguishable from them.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/envelope"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
	"github.com/katzenpost/coverdrop/core/pki"
)

// UserToJournalistMessage marks the inner envelope read by a journalist.
type UserToJournalistMessage struct{}

// UserToCoverNodeMessage marks the outer envelope read by the CoverNode.
type UserToCoverNodeMessage struct{}

// JournalistToUserMessage marks the envelopes carried in dead drops.
type JournalistToUserMessage struct{}

// ErrNoCoverNodeKeys is returned when no CoverNode messaging key is
// available to wrap a message for.
var ErrNoCoverNodeKeys = errors.New("protocol: no covernode keys")

// Protocol constructs user to journalist messages. It owns the entropy
// source every construction draws from.
type Protocol struct {
	rand io.Reader
}

// New returns a Protocol drawing randomness from r.
func New(r io.Reader) *Protocol {
	return &Protocol{rand: r}
}

// Rand returns the entropy source.
func (p *Protocol) Rand() io.Reader {
	return p.rand
}

func mustLen(what string, b []byte, want int) {
	if len(b) != want {
		panic(fmt.Sprintf("BUG: protocol: %s is %d bytes, expected %d", what, len(b), want))
	}
}

// SelectCoverNodeKeys picks exactly CoverNodeWrappingKeyCount keys,
// ordered by CoverNode identifier. When fewer CoverNodes are available the
// selection cycles through them so the output width never changes.
func SelectCoverNodeKeys(coverNodeKeys map[string]*pki.VerifiedSignedEncryptionKey) ([]*keys.EncryptionPublicKey, error) {
	if len(coverNodeKeys) == 0 {
		return nil, ErrNoCoverNodeKeys
	}
	ids := make([]string, 0, len(coverNodeKeys))
	for id := range coverNodeKeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*keys.EncryptionPublicKey, constants.CoverNodeWrappingKeyCount)
	for i := range out {
		out[i] = coverNodeKeys[ids[i%len(ids)]].PK
	}
	return out, nil
}

func (p *Protocol) wrapForCoverNodes(coverNodeKeys map[string]*pki.VerifiedSignedEncryptionKey, payload []byte) ([]byte, error) {
	mustLen("covernode payload", payload, constants.UserToCoverNodeMessageLen)
	recipients, err := SelectCoverNodeKeys(coverNodeKeys)
	if err != nil {
		return nil, err
	}
	outer, err := envelope.EncryptMultiAnonymousBox[UserToCoverNodeMessage](p.rand, recipients, payload)
	if err != nil {
		return nil, err
	}
	out := outer.Bytes()
	mustLen("covernode message", out, constants.UserToCoverNodeEncryptedMessageLen)
	return out, nil
}

// CreateCoverMessageToCoverNode builds a cover message: the cover tag
// followed by random filler the size of a real inner envelope, wrapped for
// the CoverNodes.
func (p *Protocol) CreateCoverMessageToCoverNode(coverNodeKeys map[string]*pki.VerifiedSignedEncryptionKey) ([]byte, error) {
	payload := make([]byte, constants.UserToCoverNodeMessageLen)
	copy(payload, CoverTag[:])
	if _, err := io.ReadFull(p.rand, payload[constants.RecipientTagLen:]); err != nil {
		return nil, err
	}
	return p.wrapForCoverNodes(coverNodeKeys, payload)
}

// EncryptUserToJournalistMessageViaCoverNode builds a real message. The
// inner payload userPk || reserved || message is sealed to the journalist,
// then prefixed with the journalist's tag and wrapped for the CoverNodes.
func (p *Protocol) EncryptUserToJournalistMessageViaCoverNode(
	coverNodeKeys map[string]*pki.VerifiedSignedEncryptionKey,
	journalistKey *pki.VerifiedSignedEncryptionKey,
	userPk *keys.EncryptionPublicKey,
	message *PaddedCompressedString,
	tag RecipientTag,
) ([]byte, error) {
	if tag.IsCover() {
		return nil, fmt.Errorf("protocol: refusing to send a real message with the cover tag")
	}
	padded := message.Bytes()
	mustLen("padded message", padded, constants.MessagePaddingLen)

	inner := make([]byte, 0, constants.UserToJournalistMessageLen)
	inner = append(inner, userPk.Bytes()...)
	inner = append(inner, 0x00)
	inner = append(inner, padded...)
	mustLen("journalist payload", inner, constants.UserToJournalistMessageLen)

	sealed, err := envelope.EncryptAnonymousBox[UserToJournalistMessage](p.rand, journalistKey.PK, inner)
	if err != nil {
		return nil, err
	}
	sealedBytes := sealed.Bytes()
	mustLen("journalist message", sealedBytes, constants.UserToJournalistEncryptedMessageLen)

	outer := make([]byte, 0, constants.UserToCoverNodeMessageLen)
	outer = append(outer, tag[:]...)
	outer = append(outer, sealedBytes...)
	return p.wrapForCoverNodes(coverNodeKeys, outer)
}
