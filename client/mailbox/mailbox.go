// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package mailbox holds the private state of a user: their reply key pair,
// the private sending queue secret and the stored conversations.
//
// A serialized mailbox always has the same length. It is laid out as a
// version byte, a big endian uint32 length, the gzip compressed CBOR
// encoding of the mailbox and zero padding. Whenever the threads do not fit
// the oldest messages are dropped one at a time until they do.
package mailbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/katzenpost/coverdrop/client/queue"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

const (
	serializationVersion = 0x02
	headerLen            = 1 + 4

	// maxInflatedLen bounds the size of a decompressed mailbox.
	maxInflatedLen = 64 << 20
)

var (
	// ErrCorrupt is returned when a serialized mailbox is malformed.
	ErrCorrupt = errors.New("mailbox: corrupt serialized mailbox")

	// ErrTooSmall is returned when not even a mailbox without any
	// messages fits the requested size.
	ErrTooSmall = errors.New("mailbox: padded size too small")

	ccbor cbor.EncMode
	dcbor cbor.DecMode
)

// Mailbox is the private state of a user.
type Mailbox struct {
	KeyPair     *keys.EncryptionKeyPair
	QueueSecret queue.Secret
	Threads     Threads
}

// New creates an empty mailbox with a fresh key pair and queue secret.
func New(rng io.Reader) (*Mailbox, error) {
	kp, err := keys.NewEncryptionKeyPair(rng)
	if err != nil {
		return nil, err
	}
	secret, err := queue.NewSecret(rng)
	if err != nil {
		return nil, err
	}
	return &Mailbox{KeyPair: kp, QueueSecret: secret}, nil
}

type wireMessage struct {
	Timestamp int64  `cbor:"1,keyasint"`
	Payload   string `cbor:"2,keyasint"`
	Type      uint8  `cbor:"3,keyasint"`
	Hint      []byte `cbor:"4,keyasint"`
}

type wireThread struct {
	RecipientID string        `cbor:"1,keyasint"`
	Messages    []wireMessage `cbor:"2,keyasint"`
}

type wireMailbox struct {
	PublicKey   []byte       `cbor:"1,keyasint"`
	SecretKey   []byte       `cbor:"2,keyasint"`
	QueueSecret []byte       `cbor:"3,keyasint"`
	Threads     []wireThread `cbor:"4,keyasint"`
}

func (m *Mailbox) toWire(threads Threads) *wireMailbox {
	w := &wireMailbox{
		PublicKey:   m.KeyPair.Public.Bytes(),
		SecretKey:   m.KeyPair.SecretBytes(),
		QueueSecret: append([]byte(nil), m.QueueSecret[:]...),
		Threads:     make([]wireThread, 0, len(threads)),
	}
	for _, t := range threads {
		wt := wireThread{RecipientID: t.RecipientID, Messages: make([]wireMessage, 0, len(t.Messages))}
		for _, msg := range t.Messages {
			wt.Messages = append(wt.Messages, wireMessage{
				Timestamp: msg.Timestamp.UnixMilli(),
				Payload:   msg.Payload,
				Type:      uint8(msg.Type),
				Hint:      append([]byte(nil), msg.Hint[:]...),
			})
		}
		w.Threads = append(w.Threads, wt)
	}
	return w
}

func fromWire(w *wireMailbox) (*Mailbox, error) {
	kp, err := keys.EncryptionKeyPairFromBytes(w.PublicKey, w.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	m := &Mailbox{KeyPair: kp}
	if len(w.QueueSecret) != len(m.QueueSecret) {
		return nil, fmt.Errorf("%w: queue secret of %d bytes", ErrCorrupt, len(w.QueueSecret))
	}
	copy(m.QueueSecret[:], w.QueueSecret)

	for _, wt := range w.Threads {
		t := Thread{RecipientID: wt.RecipientID, Messages: make([]StoredMessage, 0, len(wt.Messages))}
		for _, wm := range wt.Messages {
			typ, err := StoredMessageTypeFromFlag(wm.Type)
			if err != nil {
				return nil, err
			}
			msg := StoredMessage{
				Timestamp: time.UnixMilli(wm.Timestamp).UTC(),
				Payload:   wm.Payload,
				Type:      typ,
			}
			if len(wm.Hint) != len(msg.Hint) {
				return nil, fmt.Errorf("%w: hint of %d bytes", ErrCorrupt, len(wm.Hint))
			}
			copy(msg.Hint[:], wm.Hint)
			t.Messages = append(t.Messages, msg)
		}
		m.Threads = append(m.Threads, t)
	}
	return m, nil
}

func (m *Mailbox) compress(threads Threads) ([]byte, error) {
	raw, err := ccbor.Marshal(m.toWire(threads))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalPadded serializes the mailbox into exactly paddedSize bytes,
// dropping the oldest messages while it does not fit. The receiver is not
// modified; the threads that were actually written are returned.
func (m *Mailbox) MarshalPadded(paddedSize int) ([]byte, Threads, error) {
	threads := m.Threads
	for {
		compressed, err := m.compress(threads)
		if err != nil {
			return nil, nil, err
		}
		if headerLen+len(compressed) <= paddedSize {
			out := make([]byte, paddedSize)
			out[0] = serializationVersion
			binary.BigEndian.PutUint32(out[1:headerLen], uint32(len(compressed)))
			copy(out[headerLen:], compressed)
			return out, threads, nil
		}
		if threads.TotalMessageCount() == 0 {
			return nil, nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, paddedSize)
		}
		threads = threads.CopyWithoutOldestMessage()
	}
}

// Unmarshal parses a padded mailbox.
func Unmarshal(b []byte) (*Mailbox, error) {
	if len(b) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(b))
	}
	if b[0] != serializationVersion {
		return nil, fmt.Errorf("%w: unsupported version 0x%02x", ErrCorrupt, b[0])
	}
	n := binary.BigEndian.Uint32(b[1:headerLen])
	if uint64(n) > uint64(len(b)-headerLen) {
		return nil, fmt.Errorf("%w: length %d exceeds buffer", ErrCorrupt, n)
	}

	r, err := gzip.NewReader(bytes.NewReader(b[headerLen : headerLen+int(n)]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()
	raw, err := io.ReadAll(io.LimitReader(r, maxInflatedLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var w wireMailbox
	if err := dcbor.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return fromWire(&w)
}

func init() {
	var err error
	ccbor, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dcbor, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}
