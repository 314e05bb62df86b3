// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package mailbox

import (
	"time"
)

// Thread is the conversation with one journalist, in append order.
type Thread struct {
	RecipientID string
	Messages    []StoredMessage
}

// Threads is every conversation of a mailbox.
type Threads []Thread

// CopyWithNewMessage returns a copy of t with m appended.
func (t Thread) CopyWithNewMessage(m StoredMessage) Thread {
	messages := make([]StoredMessage, 0, len(t.Messages)+1)
	messages = append(messages, t.Messages...)
	messages = append(messages, m)
	return Thread{RecipientID: t.RecipientID, Messages: messages}
}

// MostRecentUpdate returns the newest timestamp of the thread, or the zero
// time for an empty thread.
func (t Thread) MostRecentUpdate() time.Time {
	var newest time.Time
	for i := range t.Messages {
		if ts := t.Messages[i].Timestamp; ts.After(newest) {
			newest = ts
		}
	}
	return newest
}

// CopyAndRemoveOlderMessages returns a copy of t keeping only messages at
// or after cutoff.
func (t Thread) CopyAndRemoveOlderMessages(cutoff time.Time) Thread {
	messages := make([]StoredMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		if !m.Timestamp.Before(cutoff) {
			messages = append(messages, m)
		}
	}
	return Thread{RecipientID: t.RecipientID, Messages: messages}
}

// Find returns the thread with the given recipient.
func (ts Threads) Find(recipientID string) (Thread, bool) {
	for _, t := range ts {
		if t.RecipientID == recipientID {
			return t, true
		}
	}
	return Thread{}, false
}

// RecipientIDs returns the recipient of every thread.
func (ts Threads) RecipientIDs() []string {
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		ids = append(ids, t.RecipientID)
	}
	return ids
}

// TotalMessageCount returns the number of messages over all threads.
func (ts Threads) TotalMessageCount() int {
	n := 0
	for _, t := range ts {
		n += len(t.Messages)
	}
	return n
}

// CopyWithoutOldestMessage returns a copy with exactly one message fewer,
// the oldest one. A thread left empty is dropped. It panics if there are
// no messages.
func (ts Threads) CopyWithoutOldestMessage() Threads {
	total := ts.TotalMessageCount()
	if total == 0 {
		panic("BUG: mailbox: no message to remove")
	}

	oldestThread, oldestIndex := -1, -1
	for i, t := range ts {
		for j := range t.Messages {
			if oldestThread == -1 || t.Messages[j].Timestamp.Before(ts[oldestThread].Messages[oldestIndex].Timestamp) {
				oldestThread, oldestIndex = i, j
			}
		}
	}

	out := make(Threads, 0, len(ts))
	for i, t := range ts {
		if i != oldestThread {
			out = append(out, t)
			continue
		}
		messages := make([]StoredMessage, 0, len(t.Messages)-1)
		messages = append(messages, t.Messages[:oldestIndex]...)
		messages = append(messages, t.Messages[oldestIndex+1:]...)
		if len(messages) > 0 {
			out = append(out, Thread{RecipientID: t.RecipientID, Messages: messages})
		}
	}

	if out.TotalMessageCount() != total-1 {
		panic("BUG: mailbox: removing the oldest message changed more than one message")
	}
	return out
}

// CopyAndRemoveOlderMessages applies Thread.CopyAndRemoveOlderMessages to
// every thread, dropping threads left empty.
func (ts Threads) CopyAndRemoveOlderMessages(cutoff time.Time) Threads {
	out := make(Threads, 0, len(ts))
	for _, t := range ts {
		trimmed := t.CopyAndRemoveOlderMessages(cutoff)
		if len(trimmed.Messages) > 0 {
			out = append(out, trimmed)
		}
	}
	return out
}
