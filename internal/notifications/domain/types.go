// Package domain defines inbox notification types and the Dispatcher that
// reads and writes them.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Type names an inbox notification kind.
type Type string

const (
	TypeRTInvite      Type = "rt-invite"
	TypeDuelChallenge Type = "duel-challenge"
	TypePartyInvite   Type = "party-invite"
	TypeTradeOffer    Type = "trade-offer"
	TypeFriendRequest Type = "friend-request"
	TypeGuildInvite   Type = "guild-invite"
	TypeMail          Type = "mail"
)

var ttls = map[Type]time.Duration{
	TypeRTInvite:      time.Hour,
	TypeDuelChallenge: 24 * time.Hour,
	TypePartyInvite:   48 * time.Hour,
	TypeTradeOffer:    72 * time.Hour,
	TypeFriendRequest: 7 * 24 * time.Hour,
	TypeGuildInvite:   7 * 24 * time.Hour,
	TypeMail:          30 * 24 * time.Hour,
}

// SendableTypes are the types Send accepts. Invitations to a session go
// through SendInvite instead.
func SendableTypes() []Type {
	return []Type{TypeFriendRequest, TypePartyInvite, TypeTradeOffer, TypeMail, TypeGuildInvite, TypeDuelChallenge}
}

// ParseSendableType validates a type name for Send.
func ParseSendableType(value string) (Type, error) {
	t := Type(strings.TrimSpace(value))
	for _, allowed := range SendableTypes() {
		if t == allowed {
			return t, nil
		}
	}
	names := make([]string, 0, len(SendableTypes()))
	for _, allowed := range SendableTypes() {
		names = append(names, string(allowed))
	}
	return "", fmt.Errorf("invalid notification type %q, supported types: %s", value, strings.Join(names, ", "))
}

// TTL returns how long a notification of type t stays actionable. Unknown
// types get zero.
func (t Type) TTL() time.Duration {
	return ttls[t]
}

// Priority orders inbox sections.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists priorities in display order.
func Priorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// Priority returns the inbox section for t.
func (t Type) Priority() Priority {
	switch t {
	case TypeRTInvite, TypeDuelChallenge:
		return PriorityHigh
	case TypeTradeOffer, TypeGuildInvite, TypePartyInvite:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Icon returns the glyph shown next to a notification of type t.
func (t Type) Icon() string {
	switch t {
	case TypeRTInvite:
		return "🔴"
	case TypeDuelChallenge:
		return "⚔️"
	case TypeTradeOffer:
		return "💰"
	case TypeGuildInvite:
		return "🏛️"
	case TypePartyInvite:
		return "👥"
	case TypeMail:
		return "📧"
	case TypeFriendRequest:
		return "🤝"
	default:
		return "📨"
	}
}

// Notification statuses.
const (
	StatusPending   = "pending"
	StatusUnread    = "unread"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusClaimed   = "claimed"
	StatusExpired   = "expired"
	StatusDeleted   = "deleted"
)

// Actionable reports whether a notification with status still shows up in
// the inbox.
func Actionable(status string) bool {
	switch status {
	case StatusPending, StatusUnread, StatusDelivered:
		return true
	default:
		return false
	}
}

// ParseMarkStatus validates a status a recipient may set.
func ParseMarkStatus(value string) (string, error) {
	switch status := strings.TrimSpace(value); status {
	case StatusRead, StatusClaimed, StatusDeleted, StatusExpired:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status %q, expected one of read, claimed, deleted, expired", value)
	}
}

// Expiry units.
const (
	UnitMinute = "minute"
	UnitHour   = "hour"
	UnitDay    = "day"
)

// Expiry is the time left before a notification expires, floored to the
// largest whole unit.
type Expiry struct {
	Expired bool   `json:"expired"`
	Amount  int    `json:"amount,omitempty"`
	Unit    string `json:"unit,omitempty"`
}

// ExpiryAt computes the expiry of a deadline seen at now.
func ExpiryAt(deadline, now time.Time) Expiry {
	diff := deadline.Sub(now)
	if diff <= 0 {
		return Expiry{Expired: true}
	}
	minutes := int(diff / time.Minute)
	if minutes < 60 {
		return Expiry{Amount: minutes, Unit: UnitMinute}
	}
	hours := minutes / 60
	if hours < 24 {
		return Expiry{Amount: hours, Unit: UnitHour}
	}
	return Expiry{Amount: hours / 24, Unit: UnitDay}
}

// String renders the expiry in English.
func (e Expiry) String() string {
	if e.Expired {
		return "EXPIRED"
	}
	unit := e.Unit
	if e.Amount != 1 {
		unit += "s"
	}
	return fmt.Sprintf("in %d %s", e.Amount, unit)
}
