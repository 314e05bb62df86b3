// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package mailbox

import (
	"fmt"
	"time"

	"github.com/katzenpost/coverdrop/client/queue"
)

// StoredMessageType is the direction and kind of a stored message.
type StoredMessageType uint8

const (
	// Sent is a message the user wrote.
	Sent StoredMessageType = 0x00

	// ReceivedMessage is a text message from a journalist.
	ReceivedMessage StoredMessageType = 0x01

	// ReceivedHandover tells the user the conversation moved to another
	// journalist.
	ReceivedHandover StoredMessageType = 0x02

	// ReceivedUnknown is a message of a type this client does not know.
	ReceivedUnknown StoredMessageType = 0x7F
)

// StoredMessageTypeFromFlag maps a serialized flag to its type.
func StoredMessageTypeFromFlag(flag uint8) (StoredMessageType, error) {
	switch t := StoredMessageType(flag); t {
	case Sent, ReceivedMessage, ReceivedHandover, ReceivedUnknown:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: bad message type flag 0x%02x", ErrCorrupt, flag)
	}
}

func (t StoredMessageType) String() string {
	switch t {
	case Sent:
		return "SENT"
	case ReceivedMessage:
		return "RECEIVED_MESSAGE"
	case ReceivedHandover:
		return "RECEIVED_HANDOVER"
	case ReceivedUnknown:
		return "RECEIVED_UNKNOWN"
	default:
		return fmt.Sprintf("StoredMessageType(0x%02x)", uint8(t))
	}
}

// StoredMessage is a single message of a thread. Received messages carry
// a zero hint.
type StoredMessage struct {
	Timestamp time.Time
	Payload   string
	Type      StoredMessageType
	Hint      queue.Hint
}

// MessageKey identifies a message. Timestamps are compared at second
// precision so that a message survives a round trip through storage with
// the same identity.
type MessageKey struct {
	EpochSecond int64
	Payload     string
	Type        StoredMessageType
	Hint        queue.Hint
}

// Key returns the identity of m.
func (m *StoredMessage) Key() MessageKey {
	return MessageKey{
		EpochSecond: m.Timestamp.Unix(),
		Payload:     m.Payload,
		Type:        m.Type,
		Hint:        m.Hint,
	}
}

// Equal reports whether m and other have the same identity.
func (m *StoredMessage) Equal(other *StoredMessage) bool {
	return m.Key() == other.Key()
}

// Local creates a message sent by the user. hint is the queue hint of the
// enqueued ciphertext.
func Local(timestamp time.Time, message string, hint queue.Hint) StoredMessage {
	return StoredMessage{Timestamp: timestamp, Payload: message, Type: Sent, Hint: hint}
}

// Remote creates a received text message.
func Remote(timestamp time.Time, message string) StoredMessage {
	return StoredMessage{Timestamp: timestamp, Payload: message, Type: ReceivedMessage}
}

// RemoteHandover creates a received handover to the journalist remoteID.
func RemoteHandover(timestamp time.Time, remoteID string) StoredMessage {
	return StoredMessage{Timestamp: timestamp, Payload: remoteID, Type: ReceivedHandover}
}

// RemoteUnknown creates a placeholder for a received message of an
// unknown type.
func RemoteUnknown(timestamp time.Time) StoredMessage {
	return StoredMessage{Timestamp: timestamp, Type: ReceivedUnknown}
}
