package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matt-davison/agent-quest/internal/platform/id"
)

// SessionType is derived from participant transports.
type SessionType string

const (
	SessionTypeLocal  SessionType = "local"
	SessionTypeRemote SessionType = "remote"
	SessionTypeHybrid SessionType = "hybrid"
)

// SessionStatus describes the lifecycle state of a session.
type SessionStatus string

const (
	// SessionStatusActive indicates the session is ongoing.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusEnded indicates the session has ended.
	SessionStatusEnded SessionStatus = "ended"
)

// Transport says where a participant runs.
type Transport string

const (
	TransportLocal  Transport = "local"
	TransportRemote Transport = "remote"
)

// Role is a participant's seat kind.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// ParseRole accepts "player", "spectator" or blank (player).
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case "", RolePlayer:
		return RolePlayer, nil
	case RoleSpectator:
		return RoleSpectator, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
}

// Remote seat statuses.
const (
	SeatInvited = "invited"
	SeatJoined  = "joined"
)

// Limits on local seats.
const (
	MinLocalCharacters = 1
	MaxLocalCharacters = 4
)

// UnknownLocation stands in for a participant with no location.
const UnknownLocation = "unknown"

// TurnModeGroup is the only turn mode the coordinator runs.
const TurnModeGroup = "group"

var (
	// ErrEmptyWorld indicates a missing world.
	ErrEmptyWorld = errors.New("world is required")
	// ErrEmptyHost indicates a missing host identity.
	ErrEmptyHost = errors.New("host identity is required")
	// ErrLocalCharacterCount indicates fewer than 1 or more than 4 locals.
	ErrLocalCharacterCount = errors.New("between 1 and 4 local characters are required")
	// ErrInvalidRole indicates an unknown role.
	ErrInvalidRole = errors.New("role must be player or spectator")
	// ErrParticipantNotFound indicates an unknown participant id.
	ErrParticipantNotFound = errors.New("participant not in session")
	// ErrGroupNotFound indicates an unknown group label.
	ErrGroupNotFound = errors.New("group does not exist")
	// ErrNoGroups indicates a turn operation on a session with no groups.
	ErrNoGroups = errors.New("session has no groups")
	// ErrDuplicateParticipant indicates two seats with the same id.
	ErrDuplicateParticipant = errors.New("participant already in session")
)

// Snapshot is the character summary copied into a local seat.
type Snapshot struct {
	Character string
	Name      string
	Class     string
	Level     int
	HP        int
	MaxHP     int
	WP        int
	MaxWP     int
	Gold      int
	Location  string
}

// Participant is one seat in the session.
type Participant struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Character string    `json:"character"`
	Transport Transport `json:"transport"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	Class     string    `json:"class"`
	Level     int       `json:"level"`
	HP        int       `json:"hp"`
	MaxHP     int       `json:"max_hp"`
	WP        int       `json:"wp"`
	MaxWP     int       `json:"max_wp"`
	Gold      int       `json:"gold"`
	Location  string    `json:"location"`
	Group     string    `json:"group"`
	Status    string    `json:"status,omitempty"`
}

// IsRemotePlayer reports whether the participant is a remote player, the
// only kind of seat that can block a group's readiness.
func (p Participant) IsRemotePlayer() bool {
	return p.Transport == TransportRemote && p.Role != RoleSpectator
}

// Group is one location-derived partition.
type Group struct {
	Location string   `json:"location"`
	Members  []string `json:"members"`
}

// PendingActions buffers one group's turn.
type PendingActions struct {
	Local          []json.RawMessage `json:"local"`
	RemoteAwaiting []string          `json:"remote_awaiting"`
}

// TurnState is the round and turn cursor.
type TurnState struct {
	Round          int            `json:"round"`
	Mode           string         `json:"mode"`
	CurrentGroup   string         `json:"current_group"`
	PendingActions PendingActions `json:"pending_actions"`
}

// Host names the identity that created the session.
type Host struct {
	Identity string `json:"identity"`
}

// RemoteSettings describe the remote transport of the session.
type RemoteSettings struct {
	Enabled         bool   `json:"enabled"`
	OutboxPath      string `json:"outbox_path,omitempty"`
	StatePath       string `json:"state_path,omitempty"`
	MaxIdlePolls    int    `json:"max_idle_polls"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

// Session is the local mirror of one multiplayer session.
type Session struct {
	SessionID    string           `json:"session_id"`
	World        string           `json:"world"`
	SessionType  SessionType      `json:"session_type"`
	Host         Host             `json:"host"`
	Created      time.Time        `json:"created"`
	LastActivity time.Time        `json:"last_activity"`
	Status       SessionStatus    `json:"status"`
	Participants []Participant    `json:"participants"`
	Groups       map[string]Group `json:"groups"`
	Turn         TurnState        `json:"turn"`
	Remote       RemoteSettings   `json:"remote"`
}

// CreateSessionInput describes a new session.
type CreateSessionInput struct {
	World        string
	Host         string
	Locals       []Snapshot
	RemoteGuests []string
	Remote       RemoteSettings
}

// CreateSession builds a session with one local seat per snapshot and one
// invited placeholder per remote guest, groups computed and the first group
// holding the turn.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.SessionIDGenerator(now)
	}
	input.World = strings.TrimSpace(input.World)
	if input.World == "" {
		return Session{}, ErrEmptyWorld
	}
	input.Host = strings.TrimSpace(input.Host)
	if input.Host == "" {
		return Session{}, ErrEmptyHost
	}
	if len(input.Locals) < MinLocalCharacters || len(input.Locals) > MaxLocalCharacters {
		return Session{}, ErrLocalCharacterCount
	}

	participants := make([]Participant, 0, len(input.Locals)+len(input.RemoteGuests))
	seen := make(map[string]struct{})
	for _, snap := range input.Locals {
		p := LocalParticipant(input.Host, snap)
		if _, dup := seen[p.ID]; dup {
			return Session{}, fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.ID)
		}
		seen[p.ID] = struct{}{}
		participants = append(participants, p)
	}
	for _, guest := range input.RemoteGuests {
		guest = strings.TrimSpace(guest)
		if guest == "" {
			continue
		}
		if _, dup := seen[guest]; dup {
			return Session{}, fmt.Errorf("%w: %s", ErrDuplicateParticipant, guest)
		}
		seen[guest] = struct{}{}
		participants = append(participants, RemotePlaceholder(guest, participants[0].Location))
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	session := Session{
		SessionID:    sessionID,
		World:        input.World,
		Host:         Host{Identity: input.Host},
		Created:      createdAt,
		LastActivity: createdAt,
		Status:       SessionStatusActive,
		Participants: participants,
		Turn:         TurnState{Round: 1, Mode: TurnModeGroup},
		Remote:       input.Remote,
	}
	session.RecalculateGroups()
	session.Turn.CurrentGroup = session.firstGroup()
	session.resetPending()
	session.Refresh()
	return session, nil
}

// LocalParticipant builds a local seat from a character snapshot.
func LocalParticipant(identity string, snap Snapshot) Participant {
	p := Participant{
		ID:        snap.Character,
		Identity:  identity,
		Character: snap.Character,
		Transport: TransportLocal,
		Role:      RolePlayer,
		Name:      snap.Name,
		Class:     snap.Class,
		Level:     snap.Level,
		HP:        snap.HP,
		MaxHP:     snap.MaxHP,
		WP:        snap.WP,
		MaxWP:     snap.MaxWP,
		Gold:      snap.Gold,
		Location:  snap.Location,
	}
	if p.Name == "" {
		p.Name = snap.Character
	}
	if p.Class == "" {
		p.Class = "Unknown"
	}
	if p.Level == 0 {
		p.Level = 1
	}
	if p.Location == "" {
		p.Location = UnknownLocation
	}
	return p
}

// RemotePlaceholder builds an invited remote seat with zeroed stats.
func RemotePlaceholder(identity, location string) Participant {
	if location == "" {
		location = UnknownLocation
	}
	return Participant{
		ID:        identity,
		Identity:  identity,
		Transport: TransportRemote,
		Role:      RolePlayer,
		Name:      identity,
		Location:  location,
		Status:    SeatInvited,
	}
}

// DeriveSessionType is hybrid when both transports are present, remote when
// any participant is remote, else local.
func DeriveSessionType(participants []Participant) SessionType {
	var hasLocal, hasRemote bool
	for _, p := range participants {
		switch p.Transport {
		case TransportRemote:
			hasRemote = true
		default:
			hasLocal = true
		}
	}
	switch {
	case hasLocal && hasRemote:
		return SessionTypeHybrid
	case hasRemote:
		return SessionTypeRemote
	default:
		return SessionTypeLocal
	}
}

// Refresh re-derives the session type and fills nil collections so the
// mirror always serializes lists as [] and maps as {}.
func (s *Session) Refresh() {
	s.SessionType = DeriveSessionType(s.Participants)
	if s.Participants == nil {
		s.Participants = []Participant{}
	}
	if s.Groups == nil {
		s.Groups = map[string]Group{}
	}
	if s.Turn.PendingActions.Local == nil {
		s.Turn.PendingActions.Local = []json.RawMessage{}
	}
	if s.Turn.PendingActions.RemoteAwaiting == nil {
		s.Turn.PendingActions.RemoteAwaiting = []string{}
	}
	for label, group := range s.Groups {
		if group.Members == nil {
			group.Members = []string{}
			s.Groups[label] = group
		}
	}
}

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now.UTC()
}

// participantIndex returns the index of the participant with id, or -1.
func (s *Session) participantIndex(participantID string) int {
	for i, p := range s.Participants {
		if p.ID == participantID {
			return i
		}
	}
	return -1
}

// Find returns the participant with id.
func (s *Session) Find(participantID string) (Participant, bool) {
	if i := s.participantIndex(participantID); i >= 0 {
		return s.Participants[i], true
	}
	return Participant{}, false
}

// AddParticipant appends a seat, or replaces the seat with the same id.
func (s *Session) AddParticipant(p Participant) {
	if i := s.participantIndex(p.ID); i >= 0 {
		p.Group = s.Participants[i].Group
		s.Participants[i] = p
	} else {
		s.Participants = append(s.Participants, p)
	}
	s.Refresh()
}

// RemoveParticipant drops a seat and recomputes groups. If the current
// group disappears the turn moves to the first remaining group.
func (s *Session) RemoveParticipant(participantID string) error {
	i := s.participantIndex(participantID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
	s.RecalculateGroups()
	s.Refresh()
	return nil
}
