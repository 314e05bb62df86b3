// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package pki

import (
	"encoding/json"
	"fmt"
	"time"
)

// PublishedSignedSigningKey is a hex encoded signing key and the hex
// encoded certificate binding it to its expiry.
type PublishedSignedSigningKey struct {
	Key           string    `json:"key"`
	Certificate   string    `json:"certificate"`
	NotValidAfter time.Time `json:"not_valid_after"`
}

// PublishedSignedEncryptionKey is the encryption key analog of
// PublishedSignedSigningKey.
type PublishedSignedEncryptionKey struct {
	Key           string    `json:"key"`
	Certificate   string    `json:"certificate"`
	NotValidAfter time.Time `json:"not_valid_after"`
}

// PublishedKeyFamily is an identity key and the messaging keys it certifies.
type PublishedKeyFamily struct {
	IDPk   PublishedSignedSigningKey      `json:"id_pk"`
	MsgPks []PublishedSignedEncryptionKey `json:"msg_pks"`
}

// PublishedCoverNodeKeyHierarchy is a CoverNode provisioning key and the
// key families of every CoverNode it provisions.
type PublishedCoverNodeKeyHierarchy struct {
	ProvisioningPk PublishedSignedSigningKey       `json:"provisioning_pk"`
	CoverNodes     map[string][]PublishedKeyFamily `json:"covernodes"`
}

// PublishedJournalistsKeyHierarchy is a journalist provisioning key and
// the key families of every journalist it provisions.
type PublishedJournalistsKeyHierarchy struct {
	ProvisioningPk PublishedSignedSigningKey       `json:"provisioning_pk"`
	Journalists    map[string][]PublishedKeyFamily `json:"journalists"`
}

// PublishedKeyHierarchy is rooted at a self signed organization key.
type PublishedKeyHierarchy struct {
	OrgPk       PublishedSignedSigningKey          `json:"org_pk"`
	CoverNodes  []PublishedCoverNodeKeyHierarchy   `json:"covernodes"`
	Journalists []PublishedJournalistsKeyHierarchy `json:"journalists"`
}

// JournalistVisibility controls where a journalist profile is shown.
type JournalistVisibility string

const (
	JournalistVisible            JournalistVisibility = "VISIBLE"
	JournalistHiddenFromUI       JournalistVisibility = "HIDDEN_FROM_UI"
	JournalistHiddenFromResponse JournalistVisibility = "HIDDEN_FROM_RESPONSE"
)

// PublishedJournalistProfile describes a journalist or desk.
type PublishedJournalistProfile struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"display_name"`
	SortName    string               `json:"sort_name"`
	Description string               `json:"description"`
	IsDesk      bool                 `json:"is_desk"`
	Tag         string               `json:"tag"`
	Status      JournalistVisibility `json:"status"`
}

// PublishedKeysAndProfiles is the document served by the public keys
// endpoint.
type PublishedKeysAndProfiles struct {
	JournalistProfiles  []PublishedJournalistProfile `json:"journalist_profiles"`
	DefaultJournalistID *string                      `json:"default_journalist_id"`
	Keys                []PublishedKeyHierarchy      `json:"keys"`
}

// ParsePublishedKeysAndProfiles decodes the JSON document b. Unknown
// fields are ignored.
func ParsePublishedKeysAndProfiles(b []byte) (*PublishedKeysAndProfiles, error) {
	p := new(PublishedKeysAndProfiles)
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("pki: failed to parse published keys: %w", err)
	}
	return p, nil
}

// Marshal encodes p as JSON.
func (p *PublishedKeysAndProfiles) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Profile returns the profile of the given journalist if published.
func (p *PublishedKeysAndProfiles) Profile(id string) (*PublishedJournalistProfile, bool) {
	for i := range p.JournalistProfiles {
		if p.JournalistProfiles[i].ID == id {
			return &p.JournalistProfiles[i], true
		}
	}
	return nil, false
}
