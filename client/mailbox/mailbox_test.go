// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package mailbox

import (
	"fmt"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/coverdrop/client/queue"
)

var epoch = time.Date(2023, time.April, 1, 12, 0, 0, 0, time.UTC)

func at(hours int) time.Time {
	return epoch.Add(time.Duration(hours) * time.Hour)
}

func testThreads() Threads {
	return Threads{
		{RecipientID: "alice", Messages: []StoredMessage{
			Local(at(1), "hello alice", queue.Hint{1}),
			Remote(at(3), "hi user"),
		}},
		{RecipientID: "bob", Messages: []StoredMessage{
			Local(at(0), "hello bob", queue.Hint{2}),
		}},
	}
}

func TestStoredMessageIdentity(t *testing.T) {
	t.Parallel()

	a := Remote(epoch.Add(100*time.Millisecond), "x")
	b := Remote(epoch.Add(900*time.Millisecond), "x")
	require.True(t, a.Equal(&b))

	c := Remote(epoch.Add(time.Second), "x")
	require.False(t, a.Equal(&c))

	d := RemoteHandover(a.Timestamp, "x")
	require.False(t, a.Equal(&d))

	e := Local(a.Timestamp, "x", queue.Hint{9})
	f := Local(a.Timestamp, "x", queue.Hint{8})
	require.False(t, e.Equal(&f))
}

func TestStoredMessageTypeFromFlag(t *testing.T) {
	t.Parallel()

	for _, typ := range []StoredMessageType{Sent, ReceivedMessage, ReceivedHandover, ReceivedUnknown} {
		got, err := StoredMessageTypeFromFlag(uint8(typ))
		require.NoError(t, err)
		require.Equal(t, typ, got)
	}
	_, err := StoredMessageTypeFromFlag(0x03)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCopyWithoutOldestMessage(t *testing.T) {
	t.Parallel()

	threads := testThreads()
	out := threads.CopyWithoutOldestMessage()
	require.Equal(t, threads.TotalMessageCount()-1, out.TotalMessageCount())
	require.Len(t, out, 1, "bob's thread is emptied and dropped")
	require.Equal(t, "alice", out[0].RecipientID)

	// The original is untouched.
	require.Equal(t, 3, threads.TotalMessageCount())

	out = out.CopyWithoutOldestMessage()
	require.Equal(t, 1, out.TotalMessageCount())
	require.Equal(t, "hi user", out[0].Messages[0].Payload)

	require.Panics(t, func() { Threads{}.CopyWithoutOldestMessage() })
}

func TestThreadHelpers(t *testing.T) {
	t.Parallel()

	thread := testThreads()[0]
	require.Equal(t, at(3), thread.MostRecentUpdate())

	grown := thread.CopyWithNewMessage(Remote(at(5), "later"))
	require.Len(t, grown.Messages, 3)
	require.Len(t, thread.Messages, 2)
	require.Equal(t, at(5), grown.MostRecentUpdate())

	trimmed := grown.CopyAndRemoveOlderMessages(at(3))
	require.Len(t, trimmed.Messages, 2, "cutoff is inclusive")

	all := testThreads().CopyAndRemoveOlderMessages(at(2))
	require.Len(t, all, 1)
	require.Equal(t, 1, all.TotalMessageCount())

	_, ok := testThreads().Find("bob")
	require.True(t, ok)
	_, ok = testThreads().Find("carol")
	require.False(t, ok)
	require.Equal(t, []string{"alice", "bob"}, testThreads().RecipientIDs())
}

func TestMailboxRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := New(rand.Reader)
	require.NoError(t, err)
	m.Threads = testThreads()
	m.Threads[0].Messages = append(m.Threads[0].Messages, RemoteUnknown(at(4)), RemoteHandover(at(5), "carol"))

	const size = 4096
	b, written, err := m.MarshalPadded(size)
	require.NoError(t, err)
	require.Len(t, b, size)
	require.Equal(t, m.Threads.TotalMessageCount(), written.TotalMessageCount())

	restored, err := Unmarshal(b)
	require.NoError(t, err)
	require.True(t, m.KeyPair.Public.Equal(restored.KeyPair.Public))
	require.Equal(t, m.KeyPair.SecretBytes(), restored.KeyPair.SecretBytes())
	require.Equal(t, m.QueueSecret, restored.QueueSecret)
	require.Len(t, restored.Threads, len(m.Threads))
	for i := range m.Threads {
		require.Equal(t, m.Threads[i].RecipientID, restored.Threads[i].RecipientID)
		require.Len(t, restored.Threads[i].Messages, len(m.Threads[i].Messages))
		for j := range m.Threads[i].Messages {
			require.True(t, m.Threads[i].Messages[j].Equal(&restored.Threads[i].Messages[j]))
		}
	}
}

func TestMailboxTruncatesOldest(t *testing.T) {
	t.Parallel()

	m, err := New(rand.Reader)
	require.NoError(t, err)

	// Random payloads do not compress.
	var messages []StoredMessage
	for i := 0; i < 64; i++ {
		payload := make([]byte, 64)
		_, err := rand.Reader.Read(payload)
		require.NoError(t, err)
		messages = append(messages, Remote(at(i), fmt.Sprintf("%x", payload)))
	}
	m.Threads = Threads{{RecipientID: "alice", Messages: messages}}

	const size = 2048
	b, written, err := m.MarshalPadded(size)
	require.NoError(t, err)
	require.Len(t, b, size)
	require.Less(t, written.TotalMessageCount(), len(messages))
	require.Equal(t, 64, m.Threads.TotalMessageCount(), "receiver is not modified")

	restored, err := Unmarshal(b)
	require.NoError(t, err)
	kept := restored.Threads[0].Messages
	require.Equal(t, written.TotalMessageCount(), len(kept))
	require.True(t, kept[len(kept)-1].Equal(&messages[len(messages)-1]), "newest message survives")
}

func TestMailboxTooSmall(t *testing.T) {
	t.Parallel()

	m, err := New(rand.Reader)
	require.NoError(t, err)
	_, _, err = m.MarshalPadded(16)
	require.ErrorIs(t, err, ErrTooSmall)
}

func TestUnmarshalCorrupt(t *testing.T) {
	t.Parallel()

	m, err := New(rand.Reader)
	require.NoError(t, err)
	b, _, err := m.MarshalPadded(1024)
	require.NoError(t, err)

	_, err = Unmarshal(b[:3])
	require.ErrorIs(t, err, ErrCorrupt)

	bad := append([]byte(nil), b...)
	bad[0] = 0x01
	_, err = Unmarshal(bad)
	require.ErrorIs(t, err, ErrCorrupt)

	bad = append([]byte(nil), b...)
	bad[1] = 0xff
	_, err = Unmarshal(bad)
	require.ErrorIs(t, err, ErrCorrupt)

	bad = append([]byte(nil), b...)
	bad[headerLen] ^= 0xff
	_, err = Unmarshal(bad)
	require.ErrorIs(t, err, ErrCorrupt)
}
