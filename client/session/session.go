// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package session owns the unlocked state of a CoverDrop user.
//
// All of the user's private state, the mailbox and the private sending
// queue, lives behind a single reader/writer lock. Every mutation is
// persisted through the storage envelope before the write lock is
// released so that memory and disk never diverge.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/coverdrop/client/config"
	"github.com/katzenpost/coverdrop/client/deaddrop"
	"github.com/katzenpost/coverdrop/client/instrument"
	"github.com/katzenpost/coverdrop/client/mailbox"
	"github.com/katzenpost/coverdrop/client/protocol"
	"github.com/katzenpost/coverdrop/client/queue"
	"github.com/katzenpost/coverdrop/client/storage"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
	"github.com/katzenpost/coverdrop/core/pki"
)

// MailboxPaddedLen is the fixed plaintext size of a stored mailbox.
const MailboxPaddedLen = 128 * 1024

var (
	// ErrNoPublishedKeys is returned when a session is opened before any
	// published keys were stored.
	ErrNoPublishedKeys = errors.New("session: no published keys")

	// ErrNothingToSend is returned by DequeueForSending when decoy traffic
	// is disabled and no real message is queued.
	ErrNothingToSend = errors.New("session: nothing to send")
)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session is an unlocked user session.
type Session struct {
	sync.RWMutex

	cfg   *config.Config
	log   *logging.Logger
	store *storage.Store
	env   storage.Envelope
	now   func() time.Time

	proto     *protocol.Protocol
	parser    *deaddrop.Parser
	processor *deaddrop.Processor

	keys    *pki.VerifiedKeys
	mailbox *mailbox.Mailbox
	queue   *queue.PrivateSendingQueue
}

// Open unlocks the state held by store with env, creating a fresh mailbox
// and queue on first use. The published keys must already be stored.
func Open(cfg *config.Config, store *storage.Store, env storage.Envelope, rng io.Reader, log *logging.Logger, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:       cfg,
		log:       log,
		store:     store,
		env:       env,
		now:       time.Now,
		proto:     protocol.New(rng),
		parser:    deaddrop.NewParser(deaddrop.Drop, log),
		processor: deaddrop.NewProcessor(log),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Lock()
	defer s.Unlock()

	raw, err := store.Public(storage.PublishedKeys)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoPublishedKeys
	}
	if err != nil {
		return nil, err
	}
	if s.keys, err = s.verifyKeys(raw); err != nil {
		return nil, err
	}

	b, err := store.Private(env, storage.Mailbox)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if s.mailbox, err = mailbox.New(rng); err != nil {
			return nil, err
		}
		if s.queue, err = queue.NewDefault(rng, s.createCoverMessage); err != nil {
			return nil, err
		}
		if err := s.persist(); err != nil {
			return nil, err
		}
		log.Notice("Created a new mailbox")
		return s, nil
	case err != nil:
		return nil, err
	}

	if s.mailbox, err = mailbox.Unmarshal(b); err != nil {
		return nil, err
	}
	if b, err = store.Private(env, storage.Queue); err != nil {
		return nil, fmt.Errorf("session: loading queue: %w", err)
	}
	if s.queue, err = queue.UnmarshalDefault(b, rng); err != nil {
		return nil, err
	}
	log.Notice("Unlocked the mailbox")
	return s, nil
}

// Close locks the session. The storage envelope is wiped when it
// supports it.
func (s *Session) Close() error {
	s.Lock()
	defer s.Unlock()
	err := s.persist()
	if r, ok := s.env.(interface{ Reset() }); ok {
		r.Reset()
	}
	s.mailbox = nil
	s.queue = nil
	return err
}

func (s *Session) verifyKeys(raw []byte) (*pki.VerifiedKeys, error) {
	return VerifyPublishedKeys(raw, s.cfg.TrustedOrganizationKeys(), s.now())
}

// VerifyPublishedKeys parses and verifies a published keys document
// against the trusted organization keys.
func VerifyPublishedKeys(raw []byte, trusted []*keys.SigningPublicKey, now time.Time) (*pki.VerifiedKeys, error) {
	published, err := pki.ParsePublishedKeysAndProfiles(raw)
	if err != nil {
		return nil, err
	}
	v, err := pki.VerifyKeysAndProfiles(published, trusted, now)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, pki.ErrKeyExpired) {
			reason = "expired"
		}
		instrument.KeyRejected(reason)
		return nil, err
	}
	return v, nil
}

// ImportPublishedKeys verifies raw and stores it. It is how a fresh
// database gets the keys that Open requires.
func ImportPublishedKeys(store *storage.Store, raw []byte, trusted []*keys.SigningPublicKey, now time.Time) (*pki.VerifiedKeys, error) {
	v, err := VerifyPublishedKeys(raw, trusted, now)
	if err != nil {
		return nil, err
	}
	if err := store.PutPublic(storage.PublishedKeys, raw, now); err != nil {
		return nil, err
	}
	return v, nil
}

// persist writes the mailbox and the queue. The caller holds the write
// lock.
func (s *Session) persist() error {
	b, written, err := s.mailbox.MarshalPadded(MailboxPaddedLen)
	if err != nil {
		return err
	}
	if n := s.mailbox.Threads.TotalMessageCount() - written.TotalMessageCount(); n > 0 {
		s.log.Warningf("Dropped %d old messages to fit the mailbox", n)
		s.mailbox.Threads = written
	}
	if err := s.store.PutPrivate(s.env, storage.Mailbox, b); err != nil {
		return err
	}
	q, err := s.queue.MarshalBinary()
	if err != nil {
		return err
	}
	return s.store.PutPrivate(s.env, storage.Queue, q)
}

func (s *Session) coverNodeKeys() map[string]*pki.VerifiedSignedEncryptionKey {
	return s.keys.MostRecentMessagingKeyForEachCoverNode(s.now())
}

func (s *Session) createCoverMessage() ([]byte, error) {
	return s.proto.CreateCoverMessageToCoverNode(s.coverNodeKeys())
}

// UpdatePublishedKeys verifies and stores a newly downloaded published
// keys document. The previous keys stay in use when verification fails.
func (s *Session) UpdatePublishedKeys(raw []byte) error {
	s.Lock()
	defer s.Unlock()

	v, err := ImportPublishedKeys(s.store, raw, s.cfg.TrustedOrganizationKeys(), s.now())
	if err != nil {
		return err
	}
	s.keys = v
	return nil
}

// SendMessage encrypts text for journalistID, enqueues it and records it
// in the journalist's thread.
func (s *Session) SendMessage(journalistID, text string) (queue.Hint, error) {
	s.Lock()
	defer s.Unlock()

	var hint queue.Hint
	now := s.now()
	journalistKey, err := s.keys.MostRecentMessagingKeyForJournalist(journalistID, now)
	if err != nil {
		return hint, fmt.Errorf("session: journalist %v: %w", journalistID, err)
	}
	padded, err := protocol.NewPaddedCompressedString(s.proto.Rand(), text)
	if err != nil {
		return hint, err
	}
	msg, err := s.proto.EncryptUserToJournalistMessageViaCoverNode(
		s.coverNodeKeys(),
		journalistKey,
		s.mailbox.KeyPair.Public,
		padded,
		protocol.RecipientTagFromJournalistID(journalistID),
	)
	if err != nil {
		return hint, err
	}
	if hint, err = s.queue.Enqueue(s.mailbox.QueueSecret, msg); err != nil {
		return hint, err
	}
	instrument.QueueOperation("enqueue")

	stored := mailbox.Local(now, text, hint)
	appended := false
	for i, t := range s.mailbox.Threads {
		if t.RecipientID == journalistID {
			s.mailbox.Threads[i] = t.CopyWithNewMessage(stored)
			appended = true
			break
		}
	}
	if !appended {
		s.mailbox.Threads = append(s.mailbox.Threads, mailbox.Thread{
			RecipientID: journalistID,
			Messages:    []mailbox.StoredMessage{stored},
		})
	}
	return hint, s.persist()
}

// DequeueForSending pops the front of the queue, refilling it with a
// cover message.
func (s *Session) DequeueForSending() ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	if s.cfg.Debug.DisableDecoyTraffic && s.queue.RealMessageCount(s.mailbox.QueueSecret) == 0 {
		return nil, ErrNothingToSend
	}
	msg, err := s.queue.Dequeue(s.createCoverMessage)
	if err != nil {
		return nil, err
	}
	instrument.QueueOperation("dequeue")
	return msg, s.persist()
}

// PendingHints returns the hint of every queue slot. A sent message whose
// hint is among them has not left the device yet.
func (s *Session) PendingHints() []queue.Hint {
	s.RLock()
	defer s.RUnlock()
	return s.queue.AllHints()
}

// IsPending reports whether the sent message m is still queued.
func (s *Session) IsPending(m *mailbox.StoredMessage) bool {
	if m.Type != mailbox.Sent {
		return false
	}
	for _, h := range s.PendingHints() {
		if h == m.Hint {
			return true
		}
	}
	return false
}

// RealMessageCount returns the number of queued real messages.
func (s *Session) RealMessageCount() int {
	s.RLock()
	defer s.RUnlock()
	return s.queue.RealMessageCount(s.mailbox.QueueSecret)
}

// ClearQueue removes every queued real message.
func (s *Session) ClearQueue() error {
	s.Lock()
	defer s.Unlock()
	if err := s.queue.Clear(s.mailbox.QueueSecret, s.createCoverMessage); err != nil {
		return err
	}
	instrument.QueueOperation("clear")
	return s.persist()
}

// UpdateDeadDrops merges a newly downloaded dead drop listing into the
// cache and processes the result.
func (s *Session) UpdateDeadDrops(raw []byte) error {
	fresh, err := deaddrop.ParsePublishedDeadDropList(raw)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	existing, err := s.cachedDeadDrops()
	if err != nil {
		return err
	}
	merged := deaddrop.MergeAndTrim(existing, fresh, s.cfg.Cache.DeadDropCacheTTL)
	b, err := merged.Marshal()
	if err != nil {
		return err
	}
	if err := s.store.PutPublic(storage.DeadDrops, b, s.now()); err != nil {
		return err
	}
	return s.processDeadDrops(merged)
}

// LargestDeadDropID returns the newest cached dead drop id, which is what
// the next download asks for dead drops after.
func (s *Session) LargestDeadDropID() (int64, error) {
	s.RLock()
	defer s.RUnlock()
	l, err := s.cachedDeadDrops()
	if err != nil {
		return 0, err
	}
	return l.MaxID(), nil
}

func (s *Session) cachedDeadDrops() (*deaddrop.PublishedDeadDropList, error) {
	b, err := s.store.Public(storage.DeadDrops)
	if errors.Is(err, storage.ErrNotFound) {
		return &deaddrop.PublishedDeadDropList{}, nil
	}
	if err != nil {
		return nil, err
	}
	return deaddrop.ParsePublishedDeadDropList(b)
}

// ProcessDeadDrops decrypts the cached dead drops into the threads.
func (s *Session) ProcessDeadDrops() error {
	s.Lock()
	defer s.Unlock()
	l, err := s.cachedDeadDrops()
	if err != nil {
		return err
	}
	return s.processDeadDrops(l)
}

func (s *Session) processDeadDrops(l *deaddrop.PublishedDeadDropList) error {
	verified, err := s.parser.VerifyAndParseDeadDropsList(l, s.keys.CoverNodeHierarchies())
	if err != nil {
		return err
	}
	threads, err := s.processor.DecryptAndMerge(s.mailbox.Threads, verified, s.keys.JournalistHierarchies(), s.mailbox.KeyPair)
	if err != nil {
		return err
	}
	s.mailbox.Threads = threads
	return s.persist()
}

// Threads returns a copy of the conversations.
func (s *Session) Threads() mailbox.Threads {
	s.RLock()
	defer s.RUnlock()
	out := make(mailbox.Threads, 0, len(s.mailbox.Threads))
	for _, t := range s.mailbox.Threads {
		out = append(out, mailbox.Thread{
			RecipientID: t.RecipientID,
			Messages:    append([]mailbox.StoredMessage(nil), t.Messages...),
		})
	}
	return out
}

// DueDownloads returns the public cache entries that should be downloaded
// again. The status is rate limited by its own knob, published keys and
// dead drops by the default one.
func (s *Session) DueDownloads(force bool) ([]string, error) {
	now := s.now()
	due := make([]string, 0, 3)
	for _, e := range []struct {
		key string
		min time.Duration
	}{
		{storage.StatusEvent, s.cfg.Cache.MinimumDurationBetweenStatusUpdateDownloads},
		{storage.PublishedKeys, s.cfg.Cache.MinimumDurationBetweenDefaultDownloads},
		{storage.DeadDrops, s.cfg.Cache.MinimumDurationBetweenDefaultDownloads},
	} {
		last, err := s.store.LastUpdate(e.key)
		if err != nil {
			return nil, err
		}
		if deaddrop.ShouldRefresh(now, last, s.store.HasPublic(e.key), e.min, force) {
			due = append(due, e.key)
		}
	}
	return due, nil
}
