// Package id provides utilities for generating URL-safe identifiers.
//
// Record identifiers are UUIDv4 bytes encoded as base32 (RFC 4648) with no
// padding: 26 lowercase characters, safe for URLs, file paths and git refs.
// Session identifiers are human-sortable: ms-YYYYMMDD-HHMMSS-xxxx.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionSuffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random 26-character identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// NewSessionID returns a session identifier derived from now and four
// random base36 characters.
func NewSessionID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	limit := big.NewInt(int64(len(sessionSuffixAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate session suffix: %w", err)
		}
		suffix[i] = sessionSuffixAlphabet[n.Int64()]
	}
	return fmt.Sprintf("ms-%s-%s", now.Format("20060102-150405"), suffix), nil
}

// SessionIDGenerator adapts NewSessionID to the func() (string, error) shape
// services take, reading the time from clock.
func SessionIDGenerator(clock func() time.Time) func() (string, error) {
	if clock == nil {
		clock = time.Now
	}
	return func() (string, error) {
		return NewSessionID(clock())
	}
}
