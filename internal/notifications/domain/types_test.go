package domain

import (
	"testing"
	"time"
)

func TestTTLTable(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	tests := map[Type]time.Duration{
		TypeRTInvite:      time.Hour,
		TypeDuelChallenge: day,
		TypePartyInvite:   2 * day,
		TypeTradeOffer:    3 * day,
		TypeFriendRequest: 7 * day,
		TypeGuildInvite:   7 * day,
		TypeMail:          30 * day,
		Type("postcard"):  0,
	}
	for typ, want := range tests {
		if got := typ.TTL(); got != want {
			t.Fatalf("%s: expected ttl %s, got %s", typ, want, got)
		}
	}
}

func TestPriority(t *testing.T) {
	t.Parallel()

	tests := map[Type]Priority{
		TypeRTInvite:      PriorityHigh,
		TypeDuelChallenge: PriorityHigh,
		TypeTradeOffer:    PriorityMedium,
		TypeGuildInvite:   PriorityMedium,
		TypePartyInvite:   PriorityMedium,
		TypeMail:          PriorityLow,
		TypeFriendRequest: PriorityLow,
		Type("postcard"):  PriorityLow,
	}
	for typ, want := range tests {
		if got := typ.Priority(); got != want {
			t.Fatalf("%s: expected %s, got %s", typ, want, got)
		}
	}
	if got := Type("postcard").Icon(); got != "📨" {
		t.Fatalf("expected default icon, got %q", got)
	}
}

func TestParseSendableTypeRejectsInvite(t *testing.T) {
	t.Parallel()

	if _, err := ParseSendableType("rt-invite"); err == nil {
		t.Fatal("expected rt-invite to be rejected")
	}
	if _, err := ParseSendableType("postcard"); err == nil {
		t.Fatal("expected unknown type to be rejected")
	}
	got, err := ParseSendableType(" mail ")
	if err != nil {
		t.Fatalf("parse mail: %v", err)
	}
	if got != TypeMail {
		t.Fatalf("expected mail, got %s", got)
	}
}

func TestExpiryAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		deadline time.Time
		want     string
	}{
		{name: "past", deadline: now.Add(-time.Second), want: "EXPIRED"},
		{name: "exactly now", deadline: now, want: "EXPIRED"},
		{name: "one minute", deadline: now.Add(90 * time.Second), want: "in 1 minute"},
		{name: "under a minute", deadline: now.Add(30 * time.Second), want: "in 0 minutes"},
		{name: "minutes", deadline: now.Add(59 * time.Minute), want: "in 59 minutes"},
		{name: "one hour", deadline: now.Add(time.Hour), want: "in 1 hour"},
		{name: "hours", deadline: now.Add(23*time.Hour + 59*time.Minute), want: "in 23 hours"},
		{name: "one day", deadline: now.Add(47 * time.Hour), want: "in 1 day"},
		{name: "days", deadline: now.Add(30 * 24 * time.Hour), want: "in 30 days"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExpiryAt(tc.deadline, now).String(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParseMarkStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []string{"read", "claimed", "deleted", "expired"} {
		if _, err := ParseMarkStatus(status); err != nil {
			t.Fatalf("%s: %v", status, err)
		}
	}
	for _, status := range []string{"pending", "", "archived"} {
		if _, err := ParseMarkStatus(status); err == nil {
			t.Fatalf("expected %q to be rejected", status)
		}
	}
}
