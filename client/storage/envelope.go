// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/chacha20poly1305"
	"golang.org/x/crypto/argon2"
	"golang.org/x/text/secure/precis"
)

var (
	// ErrDecryptionFailed is returned when a blob does not open, which
	// usually means the passphrase is wrong.
	ErrDecryptionFailed = errors.New("storage: wrong passphrase or corrupted blob")

	// ErrEmptyPassphrase is returned for a passphrase that normalizes to
	// nothing.
	ErrEmptyPassphrase = errors.New("storage: empty passphrase")
)

// Envelope encrypts and decrypts padded blobs under a session key. name
// binds a blob to the slot it is stored in.
type Envelope interface {
	Seal(name string, plaintext []byte) ([]byte, error)
	Open(name string, ciphertext []byte) ([]byte, error)
}

// KDFParams are the Argon2id parameters.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// PassphraseEnvelope is an Envelope keyed by Argon2id over a PRECIS
// normalized passphrase. Blobs are laid out as nonce || ciphertext.
type PassphraseEnvelope struct {
	aead *chacha20poly1305.ChaCha20Poly1305
	rng  io.Reader
}

// NewPassphraseEnvelope derives the session key for passphrase and salt.
func NewPassphraseEnvelope(passphrase string, salt []byte, params KDFParams, rng io.Reader) (*PassphraseEnvelope, error) {
	normalized, err := precis.OpaqueString.String(passphrase)
	if err != nil {
		if passphrase == "" {
			return nil, ErrEmptyPassphrase
		}
		return nil, fmt.Errorf("storage: invalid passphrase: %v", err)
	}
	key := argon2.IDKey([]byte(normalized), salt, params.Time, params.MemoryKiB, params.Threads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.New(key)
	for i := range key {
		key[i] = 0
	}
	if err != nil {
		return nil, err
	}
	return &PassphraseEnvelope{aead: aead, rng: rng}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (e *PassphraseEnvelope) Seal(name string, plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSize]byte
	if _, err := io.ReadFull(e.rng, nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, nonce[:]...)
	return e.aead.Seal(out, nonce[:], plaintext, []byte(name)), nil
}

// Open decrypts a blob produced by Seal for the same name.
func (e *PassphraseEnvelope) Open(name string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrDecryptionFailed
	}
	nonce, ct := ciphertext[:chacha20poly1305.NonceSize], ciphertext[chacha20poly1305.NonceSize:]
	pt, err := e.aead.Open(nil, nonce, ct, []byte(name))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// Reset wipes the session key.
func (e *PassphraseEnvelope) Reset() {
	e.aead.Reset()
}
