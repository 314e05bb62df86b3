// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package deaddrop

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/katzenpost/coverdrop/core/crypto/cert"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

// PublishedDeadDrop is a dead drop as served by the API. Data is base64,
// Cert and Signature are hex.
type PublishedDeadDrop struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Data      string    `json:"data"`
	Cert      string    `json:"cert"`
	Signature *string   `json:"signature,omitempty"`
}

// PublishedDeadDropList is the dead drop listing served by the API.
type PublishedDeadDropList struct {
	DeadDrops []PublishedDeadDrop `json:"dead_drops"`
}

// ParsePublishedDeadDropList parses the JSON listing. Unknown fields are
// ignored.
func ParsePublishedDeadDropList(b []byte) (*PublishedDeadDropList, error) {
	l := new(PublishedDeadDropList)
	if err := json.Unmarshal(b, l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return l, nil
}

// Marshal encodes the listing as JSON.
func (l *PublishedDeadDropList) Marshal() ([]byte, error) {
	return json.Marshal(l)
}

// IDs returns the id of every dead drop in order.
func (l *PublishedDeadDropList) IDs() []int64 {
	ids := make([]int64, 0, len(l.DeadDrops))
	for _, d := range l.DeadDrops {
		ids = append(ids, d.ID)
	}
	return ids
}

// MaxID returns the largest dead drop id, or 0 for an empty list.
func (l *PublishedDeadDropList) MaxID() int64 {
	var max int64
	for _, d := range l.DeadDrops {
		if d.ID > max {
			max = d.ID
		}
	}
	return max
}

// Publish builds a signed dead drop from journalist to user messages the
// way the CoverNode does. Both the certificate and the signature are
// set. Clients use it in local test mode.
func Publish(signer *keys.SigningKeyPair, id int64, createdAt time.Time, messages [][]byte) PublishedDeadDrop {
	createdAt = createdAt.UTC().Truncate(time.Second)
	var data []byte
	for _, m := range messages {
		data = append(data, m...)
	}
	sig := hex.EncodeToString(cert.SignDeadDrop(signer, data, createdAt).Bytes())
	return PublishedDeadDrop{
		ID:        id,
		CreatedAt: createdAt,
		Data:      base64.StdEncoding.EncodeToString(data),
		Cert:      hex.EncodeToString(cert.CertifyDeadDrop(signer, data).Bytes()),
		Signature: &sig,
	}
}
