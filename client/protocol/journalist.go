// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package protocol

import (
	"fmt"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/envelope"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

// The functions below are the counterparts run by the CoverNode and the
// journalist. Clients use them in local test mode.

// OpenAsCoverNode unwraps an outbound message with a CoverNode messaging
// key, returning the recipient tag and the sealed inner envelope.
func OpenAsCoverNode(coverNode *keys.EncryptionKeyPair, msg []byte) (RecipientTag, *envelope.AnonymousBox[UserToJournalistMessage], error) {
	var tag RecipientTag
	outer, err := envelope.MultiAnonymousBoxFromBytes[UserToCoverNodeMessage](msg, constants.CoverNodeWrappingKeyCount)
	if err != nil {
		return tag, nil, err
	}
	payload, err := outer.Decrypt(coverNode, constants.CoverNodeWrappingKeyCount)
	if err != nil {
		return tag, nil, err
	}
	if len(payload) != constants.UserToCoverNodeMessageLen {
		return tag, nil, fmt.Errorf("%w: covernode payload of %d bytes", envelope.ErrInvalidLength, len(payload))
	}
	copy(tag[:], payload)
	inner, err := envelope.AnonymousBoxFromBytes[UserToJournalistMessage](payload[constants.RecipientTagLen:])
	if err != nil {
		return tag, nil, err
	}
	return tag, inner, nil
}

// OpenAsJournalist decrypts the inner envelope, returning the user's
// reply key and the padded message.
func OpenAsJournalist(journalist *keys.EncryptionKeyPair, inner *envelope.AnonymousBox[UserToJournalistMessage]) (*keys.EncryptionPublicKey, *PaddedCompressedString, error) {
	payload, err := inner.Decrypt(journalist)
	if err != nil {
		return nil, nil, err
	}
	if len(payload) != constants.UserToJournalistMessageLen {
		return nil, nil, fmt.Errorf("%w: journalist payload of %d bytes", envelope.ErrInvalidLength, len(payload))
	}
	userPk, err := keys.NewEncryptionPublicKey(payload[:constants.X25519PublicKeyLen])
	if err != nil {
		return nil, nil, err
	}
	msg, err := PaddedCompressedStringFromBytes(payload[constants.X25519PublicKeyLen+constants.UserToJournalistMessageReservedByte:])
	if err != nil {
		return nil, nil, err
	}
	return userPk, msg, nil
}

// EncryptJournalistToUserMessage builds one dead drop entry: flag ||
// payload, boxed from the journalist's messaging key to the user. payload
// must be MessagePaddingLen bytes.
func (p *Protocol) EncryptJournalistToUserMessage(journalist *keys.EncryptionKeyPair, user *keys.EncryptionPublicKey, flag byte, payload []byte) (*envelope.TwoPartyBox[JournalistToUserMessage], error) {
	mustLen("journalist to user payload", payload, constants.MessagePaddingLen)
	msg := make([]byte, 0, constants.JournalistToUserMessageLen)
	msg = append(msg, flag)
	msg = append(msg, payload...)
	b, err := envelope.EncryptTwoPartyBox[JournalistToUserMessage](p.rand, user, journalist, msg)
	if err != nil {
		return nil, err
	}
	if b.Len() != constants.JournalistToUserEncryptedMessageLen {
		panic("BUG: protocol: journalist to user message has unexpected length")
	}
	return b, nil
}

// HandoverPayload encodes a handover to another journalist: the target
// identity followed by zero padding.
func HandoverPayload(journalistID string) ([]byte, error) {
	if len(journalistID) == 0 || len(journalistID) >= constants.MaxJournalistIdentityLen {
		return nil, fmt.Errorf("protocol: invalid handover identity length %d", len(journalistID))
	}
	out := make([]byte, constants.MessagePaddingLen)
	copy(out, journalistID)
	return out, nil
}
