// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/katzenpost/coverdrop/core/constants"
)

// RecipientTag prefixes the payload a CoverNode decrypts and names the
// journalist the inner message is for.
type RecipientTag [constants.RecipientTagLen]byte

// CoverTag is the recipient tag of cover messages.
var CoverTag = RecipientTag{}

// RecipientTagFromJournalistID derives the tag of a journalist from the
// truncated SHA-256 of its identifier.
func RecipientTagFromJournalistID(id string) RecipientTag {
	sum := sha256.Sum256([]byte(id))
	var tag RecipientTag
	copy(tag[:], sum[:constants.RecipientTagLen])
	if tag == CoverTag {
		panic("BUG: protocol: journalist recipient tag collides with cover tag")
	}
	return tag
}

// RecipientTagFromHex decodes a published hex tag.
func RecipientTagFromHex(s string) (RecipientTag, error) {
	var tag RecipientTag
	b, err := hex.DecodeString(s)
	if err != nil {
		return tag, fmt.Errorf("protocol: bad recipient tag: %w", err)
	}
	if len(b) != constants.RecipientTagLen {
		return tag, fmt.Errorf("protocol: recipient tag of %d bytes", len(b))
	}
	copy(tag[:], b)
	return tag, nil
}

// IsCover reports whether t is the cover tag.
func (t RecipientTag) IsCover() bool {
	return t == CoverTag
}

func (t RecipientTag) String() string {
	return hex.EncodeToString(t[:])
}
