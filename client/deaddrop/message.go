// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package deaddrop

import (
	"bytes"
	"fmt"
	"time"

	"github.com/katzenpost/coverdrop/client/mailbox"
	"github.com/katzenpost/coverdrop/client/protocol"
	"github.com/katzenpost/coverdrop/core/constants"
)

// MessageKind is the kind of a decrypted dead drop message.
type MessageKind int

const (
	// Text is a text message from a journalist.
	Text MessageKind = iota

	// Handover moves the conversation to another journalist.
	Handover

	// Unknown is a message type this client does not understand yet.
	Unknown
)

// DecryptedMessage is a journalist to user message that decrypted under
// the user's key.
type DecryptedMessage struct {
	Kind      MessageKind
	RemoteID  string
	Timestamp time.Time

	// Text holds the message for Text and the target journalist for
	// Handover.
	Text string
}

// ParseDecryptedMessage decodes flag || payload. Unknown flags decode to
// an Unknown message.
func ParseDecryptedMessage(b []byte, remoteID string, timestamp time.Time) (*DecryptedMessage, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidArgument)
	}
	m := &DecryptedMessage{RemoteID: remoteID, Timestamp: timestamp}
	payload := b[1:]

	switch b[0] {
	case constants.FlagJ2UMessageTypeMessage:
		s, err := protocol.PaddedCompressedStringFromBytes(payload)
		if err != nil {
			return nil, err
		}
		text, err := s.String()
		if err != nil {
			return nil, err
		}
		m.Kind, m.Text = Text, text
	case constants.FlagJ2UMessageTypeHandover:
		end := bytes.IndexByte(payload, 0x00)
		if end < 0 || end >= constants.MaxJournalistIdentityLen {
			return nil, fmt.Errorf("%w: failed parsing journalist identity (end=%d)", ErrInvalidArgument, end)
		}
		m.Kind, m.Text = Handover, string(payload[:end])
	default:
		m.Kind = Unknown
	}
	return m, nil
}

// Stored converts m into the message appended to its thread.
func (m *DecryptedMessage) Stored() mailbox.StoredMessage {
	switch m.Kind {
	case Text:
		return mailbox.Remote(m.Timestamp, m.Text)
	case Handover:
		return mailbox.RemoteHandover(m.Timestamp, m.Text)
	default:
		return mailbox.RemoteUnknown(m.Timestamp)
	}
}
