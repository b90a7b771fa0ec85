// Package service runs session lifecycle operations against the local mirror
// and, for sessions with remote seats, the shared mailbox.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/matt-davison/agent-quest/internal/characters"
	"github.com/matt-davison/agent-quest/internal/mailbox"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
	"github.com/matt-davison/agent-quest/internal/platform/id"
	"github.com/matt-davison/agent-quest/internal/session/domain"
	"github.com/matt-davison/agent-quest/internal/session/marker"
)

// CharacterResolver loads the summary of a character owned by identity.
type CharacterResolver interface {
	Resolve(ctx context.Context, world, identity, character string) (domain.Snapshot, error)
}

// Remote is the subset of the mailbox client the manager writes through.
type Remote interface {
	EnsureRef(ctx context.Context, ref, baseRef string) error
	ReadFile(ctx context.Context, ref, path string) ([]byte, bool)
	WriteFile(ctx context.Context, ref, path string, content []byte, message string) mailbox.Outcome
	Update(ctx context.Context, ref, path string, mutate mailbox.Mutator, message string) (mailbox.Outcome, error)
}

// CursorStore forgets per-session sequence cursors.
type CursorStore interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// Options configure a Manager. Remote, Characters and Cursors may be nil;
// operations needing them then fail or skip that step.
type Options struct {
	Remote      Remote
	Characters  CharacterResolver
	Cursors     CursorStore
	Logger      *log.Logger
	Clock       func() time.Time
	IDGenerator func() (string, error)
}

// Manager owns the local session mirror.
type Manager struct {
	dir         marker.Dir
	remote      Remote
	characters  CharacterResolver
	cursors     CursorStore
	logger      *log.Logger
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewManager creates a Manager over the state directory.
func NewManager(dir marker.Dir, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = id.SessionIDGenerator(opts.Clock)
	}
	return &Manager{
		dir:         dir,
		remote:      opts.Remote,
		characters:  opts.Characters,
		cursors:     opts.Cursors,
		logger:      opts.Logger,
		clock:       opts.Clock,
		idGenerator: opts.IDGenerator,
	}
}

// CreateInput describes a new session.
type CreateInput struct {
	World        string
	Host         string
	Characters   []string
	RemoteGuests []string
}

// Create starts a session hosted by this process.
func (m *Manager) Create(ctx context.Context, in CreateInput) (domain.Session, error) {
	if len(in.Characters) < domain.MinLocalCharacters {
		return domain.Session{}, apperrors.New(apperrors.CodeInvalidArgument, "at least one character required")
	}
	if len(in.Characters) > domain.MaxLocalCharacters {
		return domain.Session{}, apperrors.New(apperrors.CodeInvalidArgument, "maximum 4 local characters")
	}
	if err := m.ensureIdle(""); err != nil {
		return domain.Session{}, err
	}
	if m.characters == nil {
		return domain.Session{}, errors.New("character resolver is not configured")
	}

	locals := make([]domain.Snapshot, 0, len(in.Characters))
	for _, character := range in.Characters {
		snap, err := m.characters.Resolve(ctx, in.World, in.Host, character)
		if err != nil {
			if errors.Is(err, characters.ErrNotFound) {
				return domain.Session{}, apperrors.Wrap(apperrors.CodeInvalidArgument,
					fmt.Sprintf("character %q not found for player %s in world %s", character, in.Host, in.World), err)
			}
			return domain.Session{}, fmt.Errorf("resolve character %s: %w", character, err)
		}
		snap.Character = character
		locals = append(locals, snap)
	}

	var guests []string
	for _, guest := range in.RemoteGuests {
		if guest = strings.TrimSpace(guest); guest != "" {
			guests = append(guests, guest)
		}
	}

	session, err := domain.CreateSession(domain.CreateSessionInput{
		World:        in.World,
		Host:         in.Host,
		Locals:       locals,
		RemoteGuests: guests,
	}, m.clock, m.idGenerator)
	if err != nil {
		return domain.Session{}, domainError(err)
	}
	session.Remote = m.remoteSettings(session.SessionID, len(guests) > 0)

	if len(guests) > 0 {
		if err := m.provision(ctx, session, in.Characters[0], guests); err != nil {
			return domain.Session{}, err
		}
	}
	if err := m.dir.Save(session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (m *Manager) remoteSettings(sessionID string, enabled bool) domain.RemoteSettings {
	settings := domain.RemoteSettings{
		Enabled:         enabled,
		MaxIdlePolls:    mailbox.DefaultMaxIdlePolls,
		PollIntervalSec: mailbox.DefaultPollIntervalSec,
	}
	if enabled {
		settings.OutboxPath = m.dir.OutboxPath(sessionID)
		settings.StatePath = m.dir.StatePath(sessionID)
	}
	return settings
}

// provision creates the manifest, host outbox and state refs and their
// initial files. Any failure aborts create.
func (m *Manager) provision(ctx context.Context, session domain.Session, hostCharacter string, guests []string) error {
	if m.remote == nil {
		return apperrors.New(apperrors.CodeRemoteUnavailable, "remote guests need a configured object store")
	}
	sid := session.SessionID
	host := session.Host.Identity
	refs := []string{mailbox.ManifestRef(sid), mailbox.OutboxRef(sid, host), mailbox.StateRef(sid)}
	for _, ref := range refs {
		if err := m.remote.EnsureRef(ctx, ref, ""); err != nil {
			return err
		}
	}

	manifest := mailbox.Manifest{
		SessionID:    sid,
		World:        session.World,
		Created:      session.Created,
		Status:       mailbox.ManifestStatusActive,
		Host:         mailbox.Seat{Identity: host, Character: hostCharacter},
		Settings:     mailbox.DefaultSettings(),
		LastActivity: session.Created,
	}
	for _, guest := range guests {
		manifest.Guests = append(manifest.Guests, mailbox.Guest{
			Identity: guest,
			Status:   mailbox.SeatStatusInvited,
			Role:     string(domain.RolePlayer),
		})
	}
	files := []struct {
		ref, path, message string
		record             any
	}{
		{refs[0], mailbox.ManifestFile, "Session: create " + sid, manifest},
		{refs[1], mailbox.OutboxFile, "Session: init outbox for " + host, mailbox.Outbox{Player: host, Character: hostCharacter, Messages: []mailbox.Message{}}},
		{refs[2], mailbox.StateFile, "Session: init state for " + sid, mailbox.TurnRecord{Timestamp: session.Created, PendingDeltas: map[string]any{}}},
	}
	for _, f := range files {
		content, err := mailbox.Marshal(f.record)
		if err != nil {
			return err
		}
		if outcome := m.remote.WriteFile(ctx, f.ref, f.path, content, f.message); outcome == mailbox.OutcomeUnavailable {
			return apperrors.New(apperrors.CodeRemoteUnavailable, fmt.Sprintf("write %s@%s", f.path, f.ref))
		}
	}
	return nil
}

// JoinInput describes a join.
type JoinInput struct {
	SessionID string
	Identity  string
	Character string
	Role      domain.Role
}

// JoinResult confirms a join.
type JoinResult struct {
	SessionID string      `json:"session_id"`
	Player    string      `json:"player"`
	Character string      `json:"character"`
	Role      domain.Role `json:"role"`
	Status    string      `json:"status"`
}

// Join attaches identity to an existing remote session.
func (m *Manager) Join(ctx context.Context, in JoinInput) (JoinResult, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.Identity = strings.TrimSpace(in.Identity)
	if in.SessionID == "" || in.Identity == "" {
		return JoinResult{}, apperrors.New(apperrors.CodeInvalidArgument, "session id and identity are required")
	}
	if strings.TrimSpace(in.Character) == "" {
		in.Character = "Unknown"
	}
	role, err := domain.ParseRole(string(in.Role))
	if err != nil {
		return JoinResult{}, domainError(err)
	}
	if err := m.ensureIdle(in.SessionID); err != nil {
		return JoinResult{}, err
	}
	if m.remote == nil {
		return JoinResult{}, apperrors.New(apperrors.CodeRemoteUnavailable, "join needs a configured object store")
	}

	if role == domain.RolePlayer {
		ref := mailbox.OutboxRef(in.SessionID, in.Identity)
		if err := m.remote.EnsureRef(ctx, ref, ""); err != nil {
			return JoinResult{}, err
		}
		// A re-join keeps the messages already posted.
		if _, err := m.remote.Update(ctx, ref, mailbox.OutboxFile, func(_ []byte, exists bool) ([]byte, error) {
			if exists {
				return nil, mailbox.ErrSkipWrite
			}
			return mailbox.Marshal(mailbox.Outbox{Player: in.Identity, Character: in.Character, Messages: []mailbox.Message{}})
		}, "Session: init outbox for "+in.Identity); err != nil {
			return JoinResult{}, err
		}
	}

	now := m.clock().UTC()
	var manifest mailbox.Manifest
	var haveManifest bool
	message := fmt.Sprintf("Session: %s joined", in.Identity)
	if role == domain.RoleSpectator {
		message += " as spectator"
	}
	if _, err := m.remote.Update(ctx, mailbox.ManifestRef(in.SessionID), mailbox.ManifestFile, func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, mailbox.ErrSkipWrite
		}
		var next mailbox.Manifest
		if err := mailbox.Unmarshal(current, &next); err != nil {
			return nil, err
		}
		next.UpsertGuest(mailbox.Guest{
			Identity:  in.Identity,
			Character: in.Character,
			Status:    mailbox.SeatStatusJoined,
			Role:      string(role),
		})
		next.LastActivity = now
		manifest, haveManifest = next, true
		return mailbox.Marshal(next)
	}, message); err != nil {
		m.logger.Printf("session: join %s: manifest unreadable: %v", in.SessionID, err)
	}

	seat := domain.Participant{
		ID:        in.Identity,
		Identity:  in.Identity,
		Character: in.Character,
		Transport: domain.TransportRemote,
		Role:      role,
		Name:      in.Character,
		Location:  domain.UnknownLocation,
		Status:    domain.SeatJoined,
	}

	session, err := m.dir.Load()
	switch {
	case err == nil && session.SessionID == in.SessionID:
		existing, seated := session.Find(seat.ID)
		if seated {
			seat.Location = existing.Location
		}
		session.AddParticipant(seat)
		if !seated {
			session.RecalculateGroups()
		}
		if role == domain.RoleSpectator {
			session.MarkRemoteSubmitted(seat.ID)
		}
		session.Touch(now)
	case err == nil || errors.Is(err, marker.ErrNoSession):
		session = m.joinerMirror(in.SessionID, manifest, haveManifest, seat, now)
	default:
		return JoinResult{}, err
	}
	if err := m.dir.Save(session); err != nil {
		return JoinResult{}, err
	}
	return JoinResult{
		SessionID: in.SessionID,
		Player:    in.Identity,
		Character: in.Character,
		Role:      role,
		Status:    mailbox.SeatStatusJoined,
	}, nil
}

// joinerMirror seeds a mirror for a process joining someone else's session.
// The host and other guests appear as remote seats.
func (m *Manager) joinerMirror(sessionID string, manifest mailbox.Manifest, haveManifest bool, self domain.Participant, now time.Time) domain.Session {
	session := domain.Session{
		SessionID:    sessionID,
		Host:         domain.Host{Identity: "unknown"},
		Created:      now,
		LastActivity: now,
		Status:       domain.SessionStatusActive,
		Turn:         domain.TurnState{Round: 1, Mode: domain.TurnModeGroup},
		Remote:       m.remoteSettings(sessionID, true),
	}
	if haveManifest {
		session.World = manifest.World
		if manifest.Host.Identity != "" {
			session.Host.Identity = manifest.Host.Identity
			session.Participants = append(session.Participants, remoteSeat(manifest.Host.Identity, manifest.Host.Character, domain.RolePlayer, domain.SeatJoined))
		}
		if !manifest.Created.IsZero() {
			session.Created = manifest.Created.UTC()
		}
		if manifest.Settings.MaxIdlePolls > 0 {
			session.Remote.MaxIdlePolls = manifest.Settings.MaxIdlePolls
		}
		if manifest.Settings.PollIntervalSec > 0 {
			session.Remote.PollIntervalSec = manifest.Settings.PollIntervalSec
		}
		for _, guest := range manifest.Guests {
			if guest.Identity == self.ID || guest.Identity == manifest.Host.Identity {
				continue
			}
			role, err := domain.ParseRole(guest.Role)
			if err != nil {
				role = domain.RolePlayer
			}
			session.Participants = append(session.Participants, remoteSeat(guest.Identity, guest.Character, role, guest.Status))
		}
	}
	session.Participants = append(session.Participants, self)
	session.RecalculateGroups()
	if order := session.GroupOrder(); len(order) > 0 {
		session.Turn.CurrentGroup = order[0]
	}
	// The host coordinates turns; a joiner's mirror awaits nobody.
	session.Turn.PendingActions = domain.PendingActions{}
	session.Refresh()
	return session
}

func remoteSeat(identity, character string, role domain.Role, status string) domain.Participant {
	name := character
	if name == "" {
		name = identity
	}
	return domain.Participant{
		ID:        identity,
		Identity:  identity,
		Character: character,
		Transport: domain.TransportRemote,
		Role:      role,
		Name:      name,
		Location:  domain.UnknownLocation,
		Status:    status,
	}
}

// EndResult reports the state a session ended in.
type EndResult struct {
	SessionID    string         `json:"session_id"`
	Status       string         `json:"status"`
	FinalState   domain.Session `json:"final_state"`
	RemovedFiles []string       `json:"removed_files,omitempty"`
}

// End marks the remote manifest ended and clears every local trace of the
// session. Remote failures never prevent the local cleanup.
func (m *Manager) End(ctx context.Context) (EndResult, error) {
	session, err := m.load()
	if err != nil {
		return EndResult{}, err
	}
	sid := session.SessionID
	now := m.clock().UTC()

	if session.Remote.Enabled && m.remote != nil {
		outcome, err := m.remote.Update(ctx, mailbox.ManifestRef(sid), mailbox.ManifestFile, func(current []byte, exists bool) ([]byte, error) {
			if !exists {
				return nil, mailbox.ErrSkipWrite
			}
			var manifest mailbox.Manifest
			if err := mailbox.Unmarshal(current, &manifest); err != nil {
				return nil, err
			}
			manifest.Status = mailbox.ManifestStatusEnded
			manifest.LastActivity = now
			return mailbox.Marshal(manifest)
		}, "Session ended")
		if err != nil || outcome != mailbox.OutcomeWritten {
			m.logger.Printf("session: end %s: manifest not updated (%s): %v", sid, outcome, err)
		}
	}

	if err := m.dir.Remove(); err != nil {
		return EndResult{}, err
	}
	removed, err := m.dir.RemoveScratch(sid)
	if err != nil {
		m.logger.Printf("session: end %s: scratch cleanup: %v", sid, err)
	}
	if m.cursors != nil {
		if err := m.cursors.DeleteSession(ctx, sid); err != nil {
			m.logger.Printf("session: end %s: cursor cleanup: %v", sid, err)
		}
	}
	session.Status = domain.SessionStatusEnded
	return EndResult{
		SessionID:    sid,
		Status:       string(domain.SessionStatusEnded),
		FinalState:   session,
		RemovedFiles: removed,
	}, nil
}

// Status returns the mirror as stored.
func (m *Manager) Status(context.Context) (domain.Session, error) {
	return m.load()
}

// ActiveSessionID returns the id of the mirrored session.
func (m *Manager) ActiveSessionID(context.Context) (string, error) {
	session, err := m.load()
	if err != nil {
		return "", err
	}
	return session.SessionID, nil
}

// Clear drops the mirror without touching the remote or cursors.
func (m *Manager) Clear(context.Context) error {
	return m.dir.Remove()
}

func (m *Manager) ensureIdle(joining string) error {
	if m.dir.Dreaming() {
		return apperrors.New(apperrors.CodeDreamActive, "cannot start a session while a dream session is active")
	}
	if !m.dir.Exists() {
		return nil
	}
	if joining != "" {
		if session, err := m.dir.Load(); err == nil && session.SessionID == joining {
			return nil
		}
	}
	return apperrors.New(apperrors.CodeSessionAlreadyActive, "a multiplayer session is already active")
}

func (m *Manager) load() (domain.Session, error) {
	session, err := m.dir.Load()
	if errors.Is(err, marker.ErrNoSession) {
		return domain.Session{}, apperrors.Wrap(apperrors.CodeNoActiveSession, "no active session", err)
	}
	return session, err
}

// mutate applies fn to the mirror, stamps activity and saves.
func (m *Manager) mutate(fn func(*domain.Session) error) (domain.Session, error) {
	session, err := m.load()
	if err != nil {
		return domain.Session{}, err
	}
	if err := fn(&session); err != nil {
		return domain.Session{}, domainError(err)
	}
	session.Touch(m.clock())
	session.Refresh()
	if err := m.dir.Save(session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func domainError(err error) error {
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrEmptyWorld),
		errors.Is(err, domain.ErrEmptyHost),
		errors.Is(err, domain.ErrLocalCharacterCount),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrDuplicateParticipant):
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	case errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrNoGroups):
		return apperrors.Wrap(apperrors.CodeNotFound, err.Error(), err)
	default:
		return err
	}
}
