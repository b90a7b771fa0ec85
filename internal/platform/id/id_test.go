package id

import (
	"encoding/base32"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNewIDFormat(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if strings.Contains(id, "=") {
		t.Fatal("expected no padding")
	}
	if len(id) != 26 {
		t.Fatalf("expected 26-character id, got %d", len(id))
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("unexpected character %q in id", r)
		}
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(id))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if version := decoded[6] >> 4; version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}
}

var sessionIDPattern = regexp.MustCompile(`^ms-20261014-093005-[0-9a-z]{4}$`)

func TestNewSessionIDFormat(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 5, 0, time.UTC)
	first, err := NewSessionID(now)
	if err != nil {
		t.Fatalf("new session id: %v", err)
	}
	if !sessionIDPattern.MatchString(first) {
		t.Fatalf("unexpected session id %q", first)
	}

	gen := SessionIDGenerator(func() time.Time { return now })
	second, err := gen()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if !sessionIDPattern.MatchString(second) {
		t.Fatalf("unexpected generated session id %q", second)
	}
}
