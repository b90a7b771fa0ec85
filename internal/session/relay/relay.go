// Package relay moves outbox messages and turn state between the processes
// of a remote session through the shared mailbox.
package relay

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/matt-davison/agent-quest/internal/mailbox"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
	"github.com/matt-davison/agent-quest/internal/session/domain"
	"github.com/matt-davison/agent-quest/internal/session/marker"
)

// DefaultSessionTimeout is how long a manifest may go without activity
// before its session counts as abandoned.
const DefaultSessionTimeout = 10 * time.Minute

// DefaultMessageType is used when a posted message names no type.
const DefaultMessageType = "action"

// Remote is the mailbox surface the relay uses.
type Remote interface {
	ReadFile(ctx context.Context, ref, path string) ([]byte, bool)
	WriteFile(ctx context.Context, ref, path string, content []byte, message string) mailbox.Outcome
	Update(ctx context.Context, ref, path string, mutate mailbox.Mutator, message string) (mailbox.Outcome, error)
	FetchRefs(ctx context.Context, pattern string) []string
	DeleteRefs(ctx context.Context, prefix string) ([]string, error)
}

// Cursors remembers the last sequence number delivered per sender.
type Cursors interface {
	LastSeen(ctx context.Context, sessionID, participantID string) (uint64, error)
	Advance(ctx context.Context, sessionID, participantID string, seq uint64) error
}

// Sessions is the local mirror the relay reports deliveries to.
type Sessions interface {
	Status(ctx context.Context) (domain.Session, error)
	MarkRemoteSubmitted(ctx context.Context, sessionID string, participantIDs []string) (bool, error)
}

// Options configure a Relay.
type Options struct {
	Remote         Remote
	Cursors        Cursors
	Sessions       Sessions
	Dir            marker.Dir
	Clock          func() time.Time
	SessionTimeout time.Duration
	Logger         *log.Logger
}

// Relay implements the message side of the remote transport.
type Relay struct {
	remote   Remote
	cursors  Cursors
	sessions Sessions
	dir      marker.Dir
	clock    func() time.Time
	timeout  time.Duration
	logger   *log.Logger
}

// New builds a Relay.
func New(opts Options) *Relay {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Relay{
		remote:   opts.Remote,
		cursors:  opts.Cursors,
		sessions: opts.Sessions,
		dir:      opts.Dir,
		clock:    opts.Clock,
		timeout:  opts.SessionTimeout,
		logger:   opts.Logger,
	}
}

// PlayerMessages are the new messages from one sender.
type PlayerMessages struct {
	Player    string            `json:"player"`
	Character string            `json:"character"`
	Messages  []mailbox.Message `json:"messages"`
}

// CheckMessages returns every message other participants posted since the
// last check and advances the cursors past them. An absent or abandoned
// session yields nothing. Cursors move only after every outbox was read, so
// a cursor that cannot be read fails the check without consuming anything.
// A cursor that cannot be advanced is logged and its messages come back again
// on the next check.
func (r *Relay) CheckMessages(ctx context.Context, sessionID, me string) ([]PlayerMessages, error) {
	if err := requireIDs(sessionID, me); err != nil {
		return nil, err
	}
	discovered := r.remote.FetchRefs(ctx, mailbox.OutboxPattern(sessionID))

	manifest, ok := r.manifest(ctx, sessionID)
	if !ok || manifest.TimedOut(r.clock(), r.timeout) {
		return nil, nil
	}

	participants := manifest.Identities()
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		seen[p] = struct{}{}
	}
	for _, ref := range discovered {
		if owner, ok := mailbox.OutboxOwner(sessionID, ref); ok {
			if _, dup := seen[owner]; !dup {
				seen[owner] = struct{}{}
				participants = append(participants, owner)
			}
		}
	}

	var delivered []PlayerMessages
	for _, player := range participants {
		if player == me {
			continue
		}
		data, ok := r.remote.ReadFile(ctx, mailbox.OutboxRef(sessionID, player), mailbox.OutboxFile)
		if !ok {
			continue
		}
		var outbox mailbox.Outbox
		if err := mailbox.Unmarshal(data, &outbox); err != nil {
			r.logger.Printf("relay: outbox of %s in %s: %v", player, sessionID, err)
			continue
		}
		lastSeen, err := r.cursors.LastSeen(ctx, sessionID, player)
		if err != nil {
			return nil, fmt.Errorf("read cursor for %s: %w", player, err)
		}
		messages := outbox.After(lastSeen)
		if len(messages) == 0 {
			continue
		}
		character := outbox.Character
		if character == "" {
			character = player
		}
		delivered = append(delivered, PlayerMessages{Player: player, Character: character, Messages: messages})
	}

	senders := make([]string, 0, len(delivered))
	for _, batch := range delivered {
		last := mailbox.Outbox{Messages: batch.Messages}.MaxSeq()
		if err := r.cursors.Advance(ctx, sessionID, batch.Player, last); err != nil {
			r.logger.Printf("relay: advance cursor for %s in %s to %d: %v", batch.Player, sessionID, last, err)
		}
		senders = append(senders, batch.Player)
	}

	if len(senders) > 0 && r.sessions != nil {
		if _, err := r.sessions.MarkRemoteSubmitted(ctx, sessionID, senders); err != nil {
			r.logger.Printf("relay: drain awaited players in %s: %v", sessionID, err)
		}
	}
	return delivered, nil
}

func (r *Relay) manifest(ctx context.Context, sessionID string) (mailbox.Manifest, bool) {
	data, ok := r.remote.ReadFile(ctx, mailbox.ManifestRef(sessionID), mailbox.ManifestFile)
	if !ok {
		return mailbox.Manifest{}, false
	}
	var manifest mailbox.Manifest
	if err := mailbox.Unmarshal(data, &manifest); err != nil {
		r.logger.Printf("relay: manifest of %s: %v", sessionID, err)
		return mailbox.Manifest{}, false
	}
	return manifest, true
}

// PostInput is one message to append to the caller's outbox.
type PostInput struct {
	Type      string
	Narrative string
	To        string
}

// Posted is a message appended to an outbox, with the outcome of the write.
type Posted struct {
	mailbox.Message
	Outcome string `json:"outcome"`
}

// PostMessage appends a message to the caller's outbox with the next
// sequence number and mirrors the outbox to the scratch file. A lost race or
// an unreachable remote is reported in Outcome and leaves the scratch file
// alone.
func (r *Relay) PostMessage(ctx context.Context, sessionID, me string, in PostInput) (Posted, error) {
	if err := requireIDs(sessionID, me); err != nil {
		return Posted{}, err
	}
	if strings.TrimSpace(in.Type) == "" {
		in.Type = DefaultMessageType
	}
	var posted mailbox.Message
	var content []byte
	outcome, err := r.remote.Update(ctx, mailbox.OutboxRef(sessionID, me), mailbox.OutboxFile, func(current []byte, exists bool) ([]byte, error) {
		outbox := mailbox.Outbox{Player: me}
		if exists {
			if err := mailbox.Unmarshal(current, &outbox); err != nil {
				return nil, err
			}
		}
		posted = outbox.Append(mailbox.Message{
			Type:      in.Type,
			Narrative: in.Narrative,
			To:        in.To,
			Timestamp: r.clock().UTC(),
		})
		next, err := mailbox.Marshal(outbox)
		content = next
		return next, err
	}, fmt.Sprintf("Session: %s action", me))
	if err != nil {
		return Posted{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "outbox is not valid", err)
	}
	if outcome != mailbox.OutcomeWritten {
		r.logger.Printf("relay: post to outbox of %s in %s: %s", me, sessionID, outcome)
		return Posted{Message: mailbox.Message{Type: in.Type, Narrative: in.Narrative, To: in.To}, Outcome: outcome.String()}, nil
	}
	if err := r.dir.WriteFile(filepath.Base(r.dir.OutboxPath(sessionID)), content); err != nil {
		r.logger.Printf("relay: mirror outbox scratch file: %v", err)
	}
	return Posted{Message: posted, Outcome: outcome.String()}, nil
}

// PushResult reports a scratch file push.
type PushResult struct {
	Ref     string `json:"ref"`
	Path    string `json:"path"`
	Outcome string `json:"outcome"`
}

// PushOutbox validates the scratch outbox and replaces the caller's remote
// outbox with it.
func (r *Relay) PushOutbox(ctx context.Context, sessionID, me string) (PushResult, error) {
	if err := requireIDs(sessionID, me); err != nil {
		return PushResult{}, err
	}
	path := r.dir.OutboxPath(sessionID)
	data, err := r.readScratch(path)
	if err != nil {
		return PushResult{}, err
	}
	var outbox mailbox.Outbox
	if err := mailbox.UnmarshalStrict(data, &outbox); err != nil {
		return PushResult{}, apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("outbox file %s is not valid", path), err)
	}
	if err := outbox.Validate(); err != nil {
		return PushResult{}, apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("outbox file %s is not valid", path), err)
	}
	if outbox.Player != "" && outbox.Player != me {
		return PushResult{}, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("outbox file %s belongs to %s", path, outbox.Player))
	}
	ref := mailbox.OutboxRef(sessionID, me)
	return r.push(ctx, ref, mailbox.OutboxFile, path, data, fmt.Sprintf("Session: %s action", me))
}

// PushState validates the scratch turn state and replaces the shared one.
func (r *Relay) PushState(ctx context.Context, sessionID string) (PushResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return PushResult{}, apperrors.New(apperrors.CodeInvalidArgument, "session id is required")
	}
	path := r.dir.StatePath(sessionID)
	data, err := r.readScratch(path)
	if err != nil {
		return PushResult{}, err
	}
	var state mailbox.TurnRecord
	if err := mailbox.UnmarshalStrict(data, &state); err != nil {
		return PushResult{}, apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("state file %s is not valid", path), err)
	}
	if state.Encounter != nil && state.Encounter.CurrentTurn < 0 {
		return PushResult{}, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("state file %s has a negative current_turn", path))
	}
	return r.push(ctx, mailbox.StateRef(sessionID), mailbox.StateFile, path, data, "Session: state update")
}

func (r *Relay) readScratch(path string) ([]byte, error) {
	data, ok, err := r.dir.ReadFile(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "no file at "+path)
	}
	return data, nil
}

func (r *Relay) push(ctx context.Context, ref, file, path string, data []byte, message string) (PushResult, error) {
	outcome := r.remote.WriteFile(ctx, ref, file, data, message)
	if outcome != mailbox.OutcomeWritten {
		r.logger.Printf("relay: push %s@%s: %s", file, ref, outcome)
	}
	return PushResult{Ref: ref, Path: path, Outcome: outcome.String()}, nil
}

// TurnStatus answers whose turn it is under strict initiative.
type TurnStatus struct {
	IsMyTurn      bool     `json:"is_my_turn"`
	Reason        string   `json:"reason,omitempty"`
	CurrentPlayer string   `json:"current_player,omitempty"`
	TurnIndex     *int     `json:"turn_index,omitempty"`
	TurnOrder     []string `json:"turn_order,omitempty"`
}

// Reasons a turn check lets everyone act.
const (
	ReasonNoState     = "no_state"
	ReasonNoEncounter = "no_encounter"
	ReasonNoTurnOrder = "no_turn_order"
)

// CheckTurn reads the shared turn state. Without an active encounter and a
// turn order everyone may act.
func (r *Relay) CheckTurn(ctx context.Context, sessionID, me string) (TurnStatus, error) {
	if err := requireIDs(sessionID, me); err != nil {
		return TurnStatus{}, err
	}
	data, ok := r.remote.ReadFile(ctx, mailbox.StateRef(sessionID), mailbox.StateFile)
	if !ok {
		return TurnStatus{IsMyTurn: true, Reason: ReasonNoState}, nil
	}
	var state mailbox.TurnRecord
	if err := mailbox.Unmarshal(data, &state); err != nil {
		r.logger.Printf("relay: state of %s: %v", sessionID, err)
		return TurnStatus{IsMyTurn: true, Reason: ReasonNoState}, nil
	}
	if state.Encounter == nil || state.Encounter.Status != mailbox.EncounterStatusActive {
		return TurnStatus{IsMyTurn: true, Reason: ReasonNoEncounter}, nil
	}
	order := state.Encounter.TurnOrder
	if len(order) == 0 {
		return TurnStatus{IsMyTurn: true, Reason: ReasonNoTurnOrder}, nil
	}
	index := state.Encounter.CurrentTurn
	current := order[0]
	if index >= 0 && index < len(order) {
		current = order[index]
	}
	return TurnStatus{
		IsMyTurn:      current == me,
		CurrentPlayer: current,
		TurnIndex:     &index,
		TurnOrder:     order,
	}, nil
}

// Info is a session description from the shared manifest or, when that is
// unreachable, the local mirror.
type Info struct {
	Source   string            `json:"source"`
	Manifest *mailbox.Manifest `json:"manifest,omitempty"`
	Session  *domain.Session   `json:"session,omitempty"`
}

// SessionInfo describes a session.
func (r *Relay) SessionInfo(ctx context.Context, sessionID string) (Info, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Info{}, apperrors.New(apperrors.CodeInvalidArgument, "session id is required")
	}
	if manifest, ok := r.manifest(ctx, sessionID); ok {
		return Info{Source: "remote", Manifest: &manifest}, nil
	}
	if r.sessions != nil {
		if session, err := r.sessions.Status(ctx); err == nil && session.SessionID == sessionID {
			return Info{Source: "local", Session: &session}, nil
		}
	}
	return Info{}, apperrors.New(apperrors.CodeNotFound, "session not found")
}

// CleanupRefs deletes every ref the session owns.
func (r *Relay) CleanupRefs(ctx context.Context, sessionID string) ([]string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "session id is required")
	}
	return r.remote.DeleteRefs(ctx, mailbox.SessionPrefix(sessionID))
}

// OutboxPath is the scratch outbox file for a session.
func (r *Relay) OutboxPath(sessionID string) string {
	return r.dir.OutboxPath(sessionID)
}

// StatePath is the scratch turn-state file for a session.
func (r *Relay) StatePath(sessionID string) string {
	return r.dir.StatePath(sessionID)
}

func requireIDs(sessionID, me string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "session id is required")
	}
	if strings.TrimSpace(me) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "player identity is required")
	}
	return nil
}
