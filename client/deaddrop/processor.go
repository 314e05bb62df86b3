// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package deaddrop

import (
	"errors"
	"sort"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/coverdrop/client/instrument"
	"github.com/katzenpost/coverdrop/client/mailbox"
	"github.com/katzenpost/coverdrop/client/protocol"
	"github.com/katzenpost/coverdrop/core/crypto/envelope"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
	"github.com/katzenpost/coverdrop/core/pki"
)

// Processor decrypts verified dead drops and merges them into the stored
// threads.
type Processor struct {
	log *logging.Logger
}

// NewProcessor returns a Processor.
func NewProcessor(log *logging.Logger) *Processor {
	return &Processor{log: log}
}

// DecryptAndMerge decrypts every message of deadDrops that is addressed to
// user by a journalist the user already has a thread with, and merges the
// result into existing. existing is not modified.
func (p *Processor) DecryptAndMerge(existing mailbox.Threads, deadDrops []*VerifiedDeadDrop, hierarchies []*pki.VerifiedJournalistsKeyHierarchy, user *keys.EncryptionKeyPair) (mailbox.Threads, error) {
	known := make(map[string]struct{}, len(existing))
	for _, id := range existing.RecipientIDs() {
		known[id] = struct{}{}
	}
	messages, err := p.DecryptIncomingDeadDrops(deadDrops, hierarchies, known, user)
	if err != nil {
		return nil, err
	}
	instrument.DeadDropBatchProcessed()
	return MergeExistingThreadsWithNewMessages(existing, messages), nil
}

type journalistKeys struct {
	id   string
	keys []*pki.VerifiedSignedEncryptionKey
}

func knownJournalistKeys(hierarchies []*pki.VerifiedJournalistsKeyHierarchy, known map[string]struct{}) []journalistKeys {
	all := pki.AllJournalistToMessagingKeys(hierarchies)
	out := make([]journalistKeys, 0, len(known))
	for id, ks := range all {
		if _, ok := known[id]; ok {
			out = append(out, journalistKeys{id: id, keys: ks})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// DecryptIncomingDeadDrops tries every message of every dead drop against
// every messaging key of the known journalists. Messages that decrypt
// under none of them are skipped.
func (p *Processor) DecryptIncomingDeadDrops(deadDrops []*VerifiedDeadDrop, hierarchies []*pki.VerifiedJournalistsKeyHierarchy, known map[string]struct{}, user *keys.EncryptionKeyPair) ([]*DecryptedMessage, error) {
	candidates := knownJournalistKeys(hierarchies, known)

	var out []*DecryptedMessage
	for _, d := range deadDrops {
		for _, box := range d.Messages {
			m, ok, err := tryDecryptForJournalists(candidates, user, box, d.CreatedAt)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, m)
			}
		}
	}
	p.log.Debugf("Processed %d dead drops", len(deadDrops))
	return out, nil
}

func tryDecryptForJournalists(candidates []journalistKeys, user *keys.EncryptionKeyPair, box *envelope.TwoPartyBox[protocol.JournalistToUserMessage], timestamp time.Time) (*DecryptedMessage, bool, error) {
	for _, c := range candidates {
		for _, k := range c.keys {
			m, ok, err := TryDecrypt(c.id, k, user, box, timestamp)
			if err != nil || ok {
				return m, ok, err
			}
		}
	}
	return nil, false, nil
}

// TryDecrypt makes one decryption attempt of box as sent by remoteID's
// messaging key. It returns ok == false when the box does not open under
// that key, and an error only when it opens to a malformed message.
func TryDecrypt(remoteID string, remote *pki.VerifiedSignedEncryptionKey, user *keys.EncryptionKeyPair, box *envelope.TwoPartyBox[protocol.JournalistToUserMessage], timestamp time.Time) (*DecryptedMessage, bool, error) {
	pt, err := box.Decrypt(remote.PK, user)
	switch {
	case errors.Is(err, envelope.ErrDecryptionFailed):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	m, err := ParseDecryptedMessage(pt, remoteID, timestamp)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// MergeExistingThreadsWithNewMessages appends every message of
// newMessages to the thread of its journalist, skipping messages already
// present. Existing threads keep their order; threads for journalists
// without one are appended sorted by id.
func MergeExistingThreadsWithNewMessages(existing mailbox.Threads, newMessages []*DecryptedMessage) mailbox.Threads {
	index := make(map[string]int, len(existing))
	seen := make([]map[mailbox.MessageKey]struct{}, 0, len(existing))
	out := make(mailbox.Threads, 0, len(existing))
	for _, t := range existing {
		set := make(map[mailbox.MessageKey]struct{}, len(t.Messages))
		for i := range t.Messages {
			set[t.Messages[i].Key()] = struct{}{}
		}
		index[t.RecipientID] = len(out)
		seen = append(seen, set)
		out = append(out, mailbox.Thread{
			RecipientID: t.RecipientID,
			Messages:    append([]mailbox.StoredMessage(nil), t.Messages...),
		})
	}

	var created []string
	for _, m := range newMessages {
		stored := m.Stored()
		i, ok := index[m.RemoteID]
		if !ok {
			i = len(out)
			index[m.RemoteID] = i
			seen = append(seen, make(map[mailbox.MessageKey]struct{}))
			out = append(out, mailbox.Thread{RecipientID: m.RemoteID})
			created = append(created, m.RemoteID)
		}
		key := stored.Key()
		if _, dup := seen[i][key]; dup {
			continue
		}
		seen[i][key] = struct{}{}
		out[i].Messages = append(out[i].Messages, stored)
	}

	if len(created) > 1 {
		tail := out[len(existing):]
		sort.Slice(tail, func(a, b int) bool { return tail[a].RecipientID < tail[b].RecipientID })
	}
	return out
}
