// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package constants contains the protocol constants shared by every
// component that builds, parses or stores CoverDrop messages.
package constants

import "time"

const (
	// MessagePaddingLen is the fixed length of a padded plaintext message.
	MessagePaddingLen = 512

	// CoverNodeWrappingKeyCount is the number of CoverNode messaging keys
	// an outbound message is wrapped for.
	CoverNodeWrappingKeyCount = 2

	// RecipientTagLen is the length of the journalist recipient tag.
	RecipientTagLen = 4

	X25519PublicKeyLen  = 32
	X25519SecretKeyLen  = 32
	Ed25519PublicKeyLen = 32
	Ed25519SeedLen      = 32
	Ed25519SignatureLen = 64
	Poly1305AuthTagLen  = 16
	TwoPartyBoxNonceLen = 24

	// MultiAnonymousBoxSecretKeyLen is the length of the symmetric content
	// key that a MultiAnonymousBox wraps for each recipient.
	MultiAnonymousBoxSecretKeyLen = 32

	// AnonymousBoxOverhead is the ephemeral public key plus the
	// authentication tag prepended by a sealed box.
	AnonymousBoxOverhead = X25519PublicKeyLen + Poly1305AuthTagLen

	// TwoPartyBoxOverhead is the authentication tag plus the appended nonce.
	TwoPartyBoxOverhead = Poly1305AuthTagLen + TwoPartyBoxNonceLen

	// WrappedKeyLen is the width of one recipient slot in a MultiAnonymousBox.
	WrappedKeyLen = MultiAnonymousBoxSecretKeyLen + AnonymousBoxOverhead

	// UserToJournalistMessageReservedByte is the width of the reserved
	// field following the user's public key.
	UserToJournalistMessageReservedByte = 1

	UserToJournalistMessageLen          = X25519PublicKeyLen + UserToJournalistMessageReservedByte + MessagePaddingLen
	UserToJournalistEncryptedMessageLen = AnonymousBoxOverhead + UserToJournalistMessageLen
	UserToCoverNodeMessageLen           = RecipientTagLen + UserToJournalistEncryptedMessageLen
	UserToCoverNodeEncryptedMessageLen  = CoverNodeWrappingKeyCount*WrappedKeyLen + UserToCoverNodeMessageLen + Poly1305AuthTagLen

	JournalistToUserMessageLen          = 1 + MessagePaddingLen
	JournalistToUserEncryptedMessageLen = Poly1305AuthTagLen + JournalistToUserMessageLen + TwoPartyBoxNonceLen

	// FlagJ2UMessageTypeMessage marks a journalist to user text message.
	FlagJ2UMessageTypeMessage = 0x00

	// FlagJ2UMessageTypeHandover marks a journalist to user handover.
	FlagJ2UMessageTypeHandover = 0x01

	// MaxJournalistIdentityLen bounds the identity carried by a handover.
	MaxJournalistIdentityLen = 128

	// MaxDecompressionRatio bounds how far a padded compressed string may
	// expand when inflated.
	MaxDecompressionRatio = 100
)

const (
	// PrivateSendingQueueN is the number of slots in the sending queue.
	PrivateSendingQueueN = 8

	// PrivateSendingQueueItemSize is the size of each queued item.
	PrivateSendingQueueItemSize = UserToCoverNodeEncryptedMessageLen

	PrivateSendingQueueSecretLen = 16
	PrivateSendingQueueHintLen   = 16
)

const (
	// DeadDropCacheTTL is how far behind the newest dead drop the local
	// cache keeps older ones.
	DeadDropCacheTTL = 14 * 24 * time.Hour

	DefaultDownloadRate = time.Hour
	StatusDownloadRate  = 5 * time.Minute

	OrganizationKeyValidDuration        = 52 * 7 * 24 * time.Hour
	ProvisioningKeyValidDuration        = 52 * 7 * 24 * time.Hour
	JournalistIDKeyValidDuration        = 8 * 7 * 24 * time.Hour
	JournalistMessagingKeyValidDuration = 2 * 7 * 24 * time.Hour
	CoverNodeIDKeyValidDuration         = 4 * 7 * 24 * time.Hour
	CoverNodeMessagingKeyValidDuration  = 2 * 7 * 24 * time.Hour
)
