// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package deaddrop verifies, decrypts and merges the dead drops published
// by the CoverNodes, and maintains the local dead drop cache.
package deaddrop

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/coverdrop/client/instrument"
	"github.com/katzenpost/coverdrop/client/protocol"
	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/cert"
	"github.com/katzenpost/coverdrop/core/crypto/envelope"
	"github.com/katzenpost/coverdrop/core/pki"
)

var (
	// ErrVerificationFailed is returned by a Throw parser when a dead drop
	// verifies under none of the CoverNode signing keys.
	ErrVerificationFailed = errors.New("deaddrop: failed to verify dead drop")

	// ErrInvalidArgument is returned for structurally malformed input.
	ErrInvalidArgument = errors.New("deaddrop: invalid argument")
)

// VerificationFailureBehaviour selects what the parser does with a dead
// drop that does not verify.
type VerificationFailureBehaviour int

const (
	// Throw fails the whole list with ErrVerificationFailed.
	Throw VerificationFailureBehaviour = iota

	// Drop skips the dead drop and carries on. Dead drops signed with keys
	// that are no longer published end up here.
	Drop
)

func (b VerificationFailureBehaviour) String() string {
	switch b {
	case Throw:
		return "throw"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("VerificationFailureBehaviour(%d)", int(b))
	}
}

// VerifiedDeadDrop is a dead drop whose signature verified, split into
// its journalist to user messages.
type VerifiedDeadDrop struct {
	ID        int64
	CreatedAt time.Time
	Messages  []*envelope.TwoPartyBox[protocol.JournalistToUserMessage]
}

// Parser verifies published dead drops.
type Parser struct {
	behaviour VerificationFailureBehaviour
	log       *logging.Logger
}

// NewParser returns a parser with the given failure behaviour.
func NewParser(behaviour VerificationFailureBehaviour, log *logging.Logger) *Parser {
	return &Parser{
		behaviour: behaviour,
		log:       log,
	}
}

// VerifyAndParseDeadDropsList verifies every dead drop of candidate against
// the signing keys of every CoverNode of hierarchies.
func (p *Parser) VerifyAndParseDeadDropsList(candidate *PublishedDeadDropList, hierarchies []*pki.VerifiedCoverNodeKeyHierarchy) ([]*VerifiedDeadDrop, error) {
	out := make([]*VerifiedDeadDrop, 0, len(candidate.DeadDrops))
	for i := range candidate.DeadDrops {
		d, err := p.VerifyAndParseDeadDrop(&candidate.DeadDrops[i], hierarchies)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// VerifyAndParseDeadDrop verifies one dead drop. A Drop parser returns
// nil and no error for a dead drop that does not verify.
func (p *Parser) VerifyAndParseDeadDrop(candidate *PublishedDeadDrop, hierarchies []*pki.VerifiedCoverNodeKeyHierarchy) (*VerifiedDeadDrop, error) {
	data, err := base64.StdEncoding.DecodeString(candidate.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: dead drop %d data: %v", ErrInvalidArgument, candidate.ID, err)
	}

	for _, signingKey := range pki.AllCoverNodeSigningKeys(hierarchies) {
		if err := verifySignatureOrCert(signingKey, candidate, data); err != nil {
			continue
		}
		messages, err := ParseDeadDropData(data)
		if err != nil {
			return nil, fmt.Errorf("dead drop %d: %w", candidate.ID, err)
		}
		instrument.DeadDropVerified()
		return &VerifiedDeadDrop{
			ID:        candidate.ID,
			CreatedAt: candidate.CreatedAt,
			Messages:  messages,
		}, nil
	}

	switch p.behaviour {
	case Drop:
		p.log.Debugf("Dropping dead drop %d: no signing key verified it", candidate.ID)
		instrument.DeadDropDropped()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: dead drop %d", ErrVerificationFailed, candidate.ID)
	}
}

// signatureIsMeaningful reports whether the optional signature field is
// present and not all zero.
func signatureIsMeaningful(sig *envelope.Signature[cert.DeadDropSignature]) bool {
	return sig != nil && !sig.IsZero()
}

func verifySignatureOrCert(signingKey *pki.VerifiedSignedSigningKey, candidate *PublishedDeadDrop, data []byte) error {
	var sig *envelope.Signature[cert.DeadDropSignature]
	if candidate.Signature != nil {
		b, err := hex.DecodeString(*candidate.Signature)
		if err != nil {
			return err
		}
		// An empty field carries no signature.
		if len(b) > 0 {
			if sig, err = envelope.SignatureFromBytes[cert.DeadDropSignature](b); err != nil {
				return err
			}
		}
	}
	if signatureIsMeaningful(sig) {
		return cert.VerifyDeadDrop(signingKey.PK, data, candidate.CreatedAt, sig)
	}

	// Legacy path: verify the certificate over the raw data. Remove once
	// every CoverNode publishes the signature field and dead drops signed
	// only with a certificate have aged out of the API.
	b, err := hex.DecodeString(candidate.Cert)
	if err != nil {
		return err
	}
	certificate, err := envelope.SignatureFromBytes[cert.DeadDropCertificate](b)
	if err != nil {
		return err
	}
	if err := cert.VerifyDeadDropCertificate(signingKey.PK, data, certificate); err != nil {
		return err
	}
	instrument.DeadDropLegacyCertificate()
	return nil
}

// ParseDeadDropData splits data into journalist to user messages.
func ParseDeadDropData(data []byte) ([]*envelope.TwoPartyBox[protocol.JournalistToUserMessage], error) {
	const n = constants.JournalistToUserEncryptedMessageLen
	if len(data)%n != 0 {
		return nil, fmt.Errorf("%w: dead drop data of %d bytes is not a multiple of %d", ErrInvalidArgument, len(data), n)
	}
	out := make([]*envelope.TwoPartyBox[protocol.JournalistToUserMessage], 0, len(data)/n)
	for off := 0; off < len(data); off += n {
		b, err := envelope.TwoPartyBoxFromBytes[protocol.JournalistToUserMessage](data[off : off+n])
		if err != nil {
			panic("BUG: deaddrop: chunk shorter than a two party box: " + err.Error())
		}
		out = append(out, b)
	}
	return out, nil
}
