// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"

	"github.com/katzenpost/coverdrop/core/constants"
)

const paddedHeaderLen = 2

var (
	// ErrCompressedStringTooLong is returned when text does not fit in the
	// padded buffer once compressed.
	ErrCompressedStringTooLong = errors.New("protocol: compressed string too long")

	// ErrDecompressionRatioTooHigh is returned for payloads that inflate
	// far more than natural text does.
	ErrDecompressionRatioTooHigh = errors.New("protocol: decompression ratio too high")

	// ErrInvalidPaddedCompressedString is returned for malformed buffers.
	ErrInvalidPaddedCompressedString = errors.New("protocol: invalid padded compressed string")
)

// PaddedCompressedString is UTF-8 text, gzip compressed, prefixed with the
// big endian compressed length and padded with random bytes to
// MessagePaddingLen.
type PaddedCompressedString struct {
	b []byte
}

// NewPaddedCompressedString compresses text and pads it with bytes from rng.
func NewPaddedCompressedString(rng io.Reader, text string) (*PaddedCompressedString, error) {
	buf := bytes.NewBuffer(make([]byte, paddedHeaderLen, constants.MessagePaddingLen))
	w := gzip.NewWriter(buf)
	if _, err := io.WriteString(w, text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	compressedLen := len(out) - paddedHeaderLen
	if len(out) > constants.MessagePaddingLen {
		return nil, fmt.Errorf("%w: fill ratio %.2f", ErrCompressedStringTooLong, float64(len(out))/float64(constants.MessagePaddingLen))
	}
	binary.BigEndian.PutUint16(out[:paddedHeaderLen], uint16(compressedLen))

	padding := make([]byte, constants.MessagePaddingLen-len(out))
	if _, err := io.ReadFull(rng, padding); err != nil {
		return nil, err
	}
	return &PaddedCompressedString{b: append(out, padding...)}, nil
}

// PaddedCompressedStringFromBytes wraps an existing buffer without
// inspecting its contents.
func PaddedCompressedStringFromBytes(b []byte) (*PaddedCompressedString, error) {
	if len(b) != constants.MessagePaddingLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPaddedCompressedString, len(b))
	}
	return &PaddedCompressedString{b: bytes.Clone(b)}, nil
}

// Bytes returns a copy of the padded buffer.
func (p *PaddedCompressedString) Bytes() []byte {
	return bytes.Clone(p.b)
}

func (p *PaddedCompressedString) compressedLen() (int, error) {
	n := int(binary.BigEndian.Uint16(p.b[:paddedHeaderLen]))
	if n == 0 || n > len(p.b)-paddedHeaderLen {
		return 0, fmt.Errorf("%w: compressed length %d", ErrInvalidPaddedCompressedString, n)
	}
	return n, nil
}

// checkDecompressionRatio rejects text that inflated MaxDecompressionRatio
// times or more, in whole multiples of the compressed length.
func checkDecompressionRatio(textLen, compressedLen int) error {
	if textLen/compressedLen >= constants.MaxDecompressionRatio {
		return ErrDecompressionRatioTooHigh
	}
	return nil
}

// String decompresses the text.
func (p *PaddedCompressedString) String() (string, error) {
	n, err := p.compressedLen()
	if err != nil {
		return "", err
	}
	r, err := gzip.NewReader(bytes.NewReader(p.b[paddedHeaderLen : paddedHeaderLen+n]))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPaddedCompressedString, err)
	}
	defer r.Close()

	limit := int64(n) * (constants.MaxDecompressionRatio + 1)
	text, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPaddedCompressedString, err)
	}
	if err := checkDecompressionRatio(len(text), n); err != nil {
		return "", err
	}
	if !utf8.Valid(text) {
		return "", fmt.Errorf("%w: not UTF-8", ErrInvalidPaddedCompressedString)
	}
	return string(text), nil
}

// FillLevel is the share of the available space used by compressed text.
func (p *PaddedCompressedString) FillLevel() (float64, error) {
	n, err := p.compressedLen()
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(len(p.b)-paddedHeaderLen), nil
}
