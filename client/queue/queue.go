// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package queue implements the private sending queue.
//
// The queue always holds exactly N items of the same size. Real messages
// are kept at the front in FIFO order and cover items fill the remaining
// slots. Each slot carries a hint: the truncated HMAC of the item under the
// mailbox secret for real messages, random bytes for cover items. Without
// the secret a snapshot of the queue does not reveal how many real
// messages it holds.
package queue

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/katzenpost/coverdrop/core/constants"
)

const headerLen = 8

var (
	// ErrQueueFull is returned by Enqueue when every slot holds a real
	// message.
	ErrQueueFull = errors.New("queue: the queue is full")

	// ErrInvalidItemSize is returned when an item does not have the queue's
	// item size.
	ErrInvalidItemSize = errors.New("queue: invalid item size")

	// ErrCorrupt is returned when a serialized queue is malformed.
	ErrCorrupt = errors.New("queue: corrupt serialized queue")
)

// Secret is the per mailbox key under which real item hints are computed.
type Secret [constants.PrivateSendingQueueSecretLen]byte

// NewSecret samples a fresh Secret from r.
func NewSecret(r io.Reader) (Secret, error) {
	var s Secret
	_, err := io.ReadFull(r, s[:])
	return s, err
}

// Hint is the tag stored alongside every item.
type Hint [constants.PrivateSendingQueueHintLen]byte

func hintFor(secret Secret, item []byte) Hint {
	m := hmac.New(sha256.New, secret[:])
	m.Write(item)
	var h Hint
	copy(h[:], m.Sum(nil))
	return h
}

// CoverItemFunc produces a fresh cover item of the queue's item size.
type CoverItemFunc func() ([]byte, error)

// PrivateSendingQueue is a fixed size FIFO of real and cover items.
type PrivateSendingQueue struct {
	sync.RWMutex

	n        int
	itemSize int
	items    [][]byte
	hints    []Hint
	rand     io.Reader
}

func newQueue(n, itemSize int, rng io.Reader) *PrivateSendingQueue {
	return &PrivateSendingQueue{
		n:        n,
		itemSize: itemSize,
		items:    make([][]byte, 0, n),
		hints:    make([]Hint, 0, n),
		rand:     rng,
	}
}

// New returns a queue of n cover items of itemSize bytes. Hints and any
// randomness the queue itself needs are drawn from rng.
func New(n, itemSize int, rng io.Reader, createCoverItem CoverItemFunc) (*PrivateSendingQueue, error) {
	if n <= 0 || itemSize <= 0 {
		return nil, fmt.Errorf("queue: invalid dimensions n=%d itemSize=%d", n, itemSize)
	}
	q := newQueue(n, itemSize, rng)
	for i := 0; i < n; i++ {
		if err := q.appendCover(createCoverItem); err != nil {
			return nil, err
		}
	}
	q.assertInvariants()
	return q, nil
}

// NewDefault returns a queue with the protocol's slot count and item size.
func NewDefault(rng io.Reader, createCoverItem CoverItemFunc) (*PrivateSendingQueue, error) {
	return New(constants.PrivateSendingQueueN, constants.PrivateSendingQueueItemSize, rng, createCoverItem)
}

// Size returns the number of slots.
func (q *PrivateSendingQueue) Size() int {
	return q.n
}

// ItemSize returns the size of every item.
func (q *PrivateSendingQueue) ItemSize() int {
	return q.itemSize
}

func (q *PrivateSendingQueue) coverItem(createCoverItem CoverItemFunc) ([]byte, Hint, error) {
	var hint Hint
	item, err := createCoverItem()
	if err != nil {
		return nil, hint, err
	}
	if len(item) != q.itemSize {
		panic(fmt.Sprintf("BUG: queue: cover item of %d bytes, expected %d", len(item), q.itemSize))
	}
	if _, err := io.ReadFull(q.rand, hint[:]); err != nil {
		return nil, hint, err
	}
	return item, hint, nil
}

func (q *PrivateSendingQueue) appendCover(createCoverItem CoverItemFunc) error {
	item, hint, err := q.coverItem(createCoverItem)
	if err != nil {
		return err
	}
	q.items = append(q.items, item)
	q.hints = append(q.hints, hint)
	return nil
}

func (q *PrivateSendingQueue) assertInvariants() {
	if len(q.items) != q.n || len(q.hints) != q.n {
		panic("BUG: queue: slot count invariant violated")
	}
	for _, item := range q.items {
		if len(item) != q.itemSize {
			panic("BUG: queue: item size invariant violated")
		}
	}
}

func (q *PrivateSendingQueue) realMessageCount(secret Secret) int {
	count := 0
	for i, item := range q.items {
		h := hintFor(secret, item)
		if !hmac.Equal(h[:], q.hints[i][:]) {
			break
		}
		count++
	}
	return count
}

// RealMessageCount counts the prefix of slots whose hint matches the
// item's HMAC under secret. It is only meaningful if the same secret was
// used for every Enqueue.
func (q *PrivateSendingQueue) RealMessageCount(secret Secret) int {
	q.RLock()
	defer q.RUnlock()
	return q.realMessageCount(secret)
}

// Enqueue stores item directly behind the real messages already queued
// under secret and returns its hint. Real messages enqueued under a
// different secret are not recognised and may be overwritten.
func (q *PrivateSendingQueue) Enqueue(secret Secret, item []byte) (Hint, error) {
	q.Lock()
	defer q.Unlock()

	var hint Hint
	if len(item) != q.itemSize {
		return hint, fmt.Errorf("%w: %d bytes, expected %d", ErrInvalidItemSize, len(item), q.itemSize)
	}
	k := q.realMessageCount(secret)
	if k == q.n {
		return hint, ErrQueueFull
	}
	hint = hintFor(secret, item)
	q.items[k] = bytes.Clone(item)
	q.hints[k] = hint
	q.assertInvariants()
	return hint, nil
}

// Dequeue removes the front item and appends a fresh cover item at the
// back.
func (q *PrivateSendingQueue) Dequeue(createCoverItem CoverItemFunc) ([]byte, error) {
	q.Lock()
	defer q.Unlock()
	return q.dequeue(createCoverItem)
}

func (q *PrivateSendingQueue) dequeue(createCoverItem CoverItemFunc) ([]byte, error) {
	cover, hint, err := q.coverItem(createCoverItem)
	if err != nil {
		return nil, err
	}
	front := q.items[0]
	q.items = append(q.items[1:], cover)
	q.hints = append(q.hints[1:], hint)
	q.assertInvariants()
	return front, nil
}

// Peek returns a copy of the front item.
func (q *PrivateSendingQueue) Peek() []byte {
	q.RLock()
	defer q.RUnlock()
	return bytes.Clone(q.items[0])
}

// Clear dequeues every real message, leaving only cover items.
func (q *PrivateSendingQueue) Clear(secret Secret, createCoverItem CoverItemFunc) error {
	q.Lock()
	defer q.Unlock()
	for k := q.realMessageCount(secret); k > 0; k-- {
		if _, err := q.dequeue(createCoverItem); err != nil {
			return err
		}
	}
	return nil
}

// AllHints returns the hints of every slot in queue order.
func (q *PrivateSendingQueue) AllHints() []Hint {
	q.RLock()
	defer q.RUnlock()
	return append([]Hint(nil), q.hints...)
}

// MarshalBinary serializes the queue as int32 n, int32 itemSize, every
// item, then every hint.
func (q *PrivateSendingQueue) MarshalBinary() ([]byte, error) {
	q.RLock()
	defer q.RUnlock()

	out := make([]byte, 0, headerLen+q.n*(q.itemSize+constants.PrivateSendingQueueHintLen))
	out = binary.BigEndian.AppendUint32(out, uint32(q.n))
	out = binary.BigEndian.AppendUint32(out, uint32(q.itemSize))
	for _, item := range q.items {
		out = append(out, item...)
	}
	for _, hint := range q.hints {
		out = append(out, hint[:]...)
	}
	return out, nil
}

// Unmarshal parses a queue serialized by MarshalBinary. Any length
// mismatch is treated as corruption.
func Unmarshal(b []byte, rng io.Reader) (*PrivateSendingQueue, error) {
	if len(b) < headerLen {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	n := int(int32(binary.BigEndian.Uint32(b[0:4])))
	itemSize := int(int32(binary.BigEndian.Uint32(b[4:8])))
	if n <= 0 || itemSize <= 0 {
		return nil, fmt.Errorf("%w: n=%d itemSize=%d", ErrCorrupt, n, itemSize)
	}
	body := b[headerLen:]
	if int64(len(body)) != int64(n)*int64(itemSize+constants.PrivateSendingQueueHintLen) {
		return nil, fmt.Errorf("%w: %d body bytes for n=%d itemSize=%d", ErrCorrupt, len(body), n, itemSize)
	}

	q := newQueue(n, itemSize, rng)
	for i := 0; i < n; i++ {
		q.items = append(q.items, bytes.Clone(body[i*itemSize:(i+1)*itemSize]))
	}
	hints := body[n*itemSize:]
	for i := 0; i < n; i++ {
		var h Hint
		copy(h[:], hints[i*constants.PrivateSendingQueueHintLen:])
		q.hints = append(q.hints, h)
	}
	q.assertInvariants()
	return q, nil
}

// UnmarshalDefault is Unmarshal restricted to the protocol's dimensions.
func UnmarshalDefault(b []byte, rng io.Reader) (*PrivateSendingQueue, error) {
	q, err := Unmarshal(b, rng)
	if err != nil {
		return nil, err
	}
	if q.n != constants.PrivateSendingQueueN || q.itemSize != constants.PrivateSendingQueueItemSize {
		return nil, fmt.Errorf("%w: unexpected dimensions n=%d itemSize=%d", ErrCorrupt, q.n, q.itemSize)
	}
	return q, nil
}
