// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package storage persists the client state in a bbolt database.
//
// Public data such as the published keys and the dead drop cache is stored
// as is. Private data is only ever written as fixed size blobs sealed by an
// Envelope, so that the database does not reveal whether a user has any
// conversations.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"
)

const (
	metadataBucket = "metadata"
	publicBucket   = "public"
	privateBucket  = "private"

	versionKey = "version"
	saltKey    = "salt"

	saltLen = 16

	// PublishedKeys holds the published keys and profiles JSON.
	PublishedKeys = "published_keys"

	// DeadDrops holds the dead drop cache JSON.
	DeadDrops = "dead_drops"

	// StatusEvent holds the published system status JSON.
	StatusEvent = "status_event"

	// Mailbox is the private slot holding the mailbox.
	Mailbox = "mailbox"

	// Queue is the private slot holding the private sending queue.
	Queue = "queue"

	lastUpdateSuffix = ".last_update"
)

// ErrNotFound is returned when a key holds nothing.
var ErrNotFound = errors.New("storage: not found")

// Store is the client state database.
type Store struct {
	db  *bolt.DB
	log *logging.Logger

	salt []byte
}

// Open opens or creates the database at path. rng provides the salt of a
// new database.
func Open(path string, rng io.Reader, log *logging.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: log}

	if err = db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exists, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(publicBucket)); err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(privateBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Well it looks like we loaded as opposed to created.
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("storage: incompatible version: %d", uint(b[0]))
			}
			salt := bkt.Get([]byte(saltKey))
			if len(salt) != saltLen {
				return errors.New("storage: corrupt salt")
			}
			s.salt = append([]byte(nil), salt...)
			return nil
		}

		s.salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rng, s.salt); err != nil {
			return err
		}
		if err := bkt.Put([]byte(saltKey), s.salt); err != nil {
			return err
		}
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		db.Close()
		return nil, err
	}

	log.Debugf("Opened state database %v", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		s.log.Warningf("Failed to sync state database: %v", err)
	}
	return s.db.Close()
}

// Salt returns the per database passphrase salt.
func (s *Store) Salt() []byte {
	return append([]byte(nil), s.salt...)
}

func (s *Store) put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), value)
	})
}

func (s *Store) get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// PutPublic stores a public value and its download time.
func (s *Store) PutPublic(key string, value []byte, downloadedAt time.Time) error {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(downloadedAt.UnixMilli()))
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(publicBucket))
		if err := bkt.Put([]byte(key), value); err != nil {
			return err
		}
		return bkt.Put([]byte(key+lastUpdateSuffix), ts[:])
	})
}

// Public returns a public value.
func (s *Store) Public(key string) ([]byte, error) {
	return s.get(publicBucket, key)
}

// HasPublic reports whether key holds a public value.
func (s *Store) HasPublic(key string) bool {
	_, err := s.Public(key)
	return err == nil
}

// LastUpdate returns the download time of a public value, or nil if it
// was never downloaded.
func (s *Store) LastUpdate(key string) (*time.Time, error) {
	b, err := s.get(publicBucket, key+lastUpdateSuffix)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case len(b) != 8:
		return nil, fmt.Errorf("storage: corrupt timestamp for %v", key)
	}
	t := time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC()
	return &t, nil
}

// PutPrivate seals plaintext with env and stores it in slot name.
func (s *Store) PutPrivate(env Envelope, name string, plaintext []byte) error {
	blob, err := env.Seal(name, plaintext)
	if err != nil {
		return err
	}
	return s.put(privateBucket, name, blob)
}

// Private loads and opens slot name with env.
func (s *Store) Private(env Envelope, name string) ([]byte, error) {
	blob, err := s.get(privateBucket, name)
	if err != nil {
		return nil, err
	}
	return env.Open(name, blob)
}
