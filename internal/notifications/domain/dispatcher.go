package domain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/matt-davison/agent-quest/internal/mailbox"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
)

var (
	// ErrTargetRequired indicates the recipient identity is missing.
	ErrTargetRequired = errors.New("target identity is required")
	// ErrSenderRequired indicates the sender identity is missing.
	ErrSenderRequired = errors.New("sender identity is required")
	// ErrMessageRequired indicates a notification without text.
	ErrMessageRequired = errors.New("notification message is required")
	// ErrNotificationNotFound indicates no inbox entry carries the seq.
	ErrNotificationNotFound = errors.New("notification not found")
)

// reservedFields cannot be overridden through extra.
var reservedFields = []string{
	"seq", "timestamp", "type", "from", "from_character", "session_id",
	"message", "expires", "status", "extra",
}

// DefaultCharacter names a sender who gave no character.
const DefaultCharacter = "Unknown"

// Remote is the mailbox surface the dispatcher uses.
type Remote interface {
	EnsureRef(ctx context.Context, ref, baseRef string) error
	ReadFile(ctx context.Context, ref, path string) ([]byte, bool)
	Update(ctx context.Context, ref, path string, mutate mailbox.Mutator, message string) (mailbox.Outcome, error)
}

// Dispatcher reads and appends inbox notifications.
type Dispatcher struct {
	remote  Remote
	baseRef string
	clock   func() time.Time
}

// NewDispatcher builds a Dispatcher. baseRef is the ref new inboxes fork
// from.
func NewDispatcher(remote Remote, baseRef string, clock func() time.Time) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{remote: remote, baseRef: baseRef, clock: clock}
}

// SendInput describes one notification to deliver.
type SendInput struct {
	Type          string
	Target        string
	From          string
	FromCharacter string
	Message       string
	Extra         map[string]string
}

// Receipt reports a send. Sent is true only when the inbox write landed;
// Outcome names what happened otherwise (conflict or unavailable). Neither
// case is an error.
type Receipt struct {
	Sent      bool   `json:"sent"`
	Outcome   string `json:"outcome"`
	Type      Type   `json:"type"`
	To        string `json:"to"`
	From      string `json:"from"`
	SessionID string `json:"session_id,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
}

// Send appends a notification of one of the SendableTypes to the target's
// inbox.
func (d *Dispatcher) Send(ctx context.Context, in SendInput) (Receipt, error) {
	t, err := ParseSendableType(in.Type)
	if err != nil {
		return Receipt{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	if strings.TrimSpace(in.Message) == "" {
		return Receipt{}, apperrors.Wrap(apperrors.CodeInvalidArgument, ErrMessageRequired.Error(), ErrMessageRequired)
	}
	extra := map[string]string{}
	for key, value := range in.Extra {
		if slices.Contains(reservedFields, key) {
			return Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("extra field %q is reserved", key))
		}
		extra[key] = value
	}
	subject := extra["subject"]
	delete(extra, "subject")
	if len(extra) == 0 {
		extra = nil
	}

	n := mailbox.Notification{
		Type:          string(t),
		From:          in.From,
		FromCharacter: in.FromCharacter,
		Message:       in.Message,
		Subject:       subject,
		Extra:         extra,
	}
	return d.deliver(ctx, in.Target, n, fmt.Sprintf("%s from %s to %s", t, in.From, in.Target))
}

// SendInvite appends a realtime session invitation to the target's inbox.
func (d *Dispatcher) SendInvite(ctx context.Context, sessionID, target, from, fromCharacter string) (Receipt, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "session id is required")
	}
	if strings.TrimSpace(fromCharacter) == "" {
		fromCharacter = DefaultCharacter
	}
	n := mailbox.Notification{
		Type:          string(TypeRTInvite),
		From:          from,
		FromCharacter: fromCharacter,
		SessionID:     sessionID,
		Message:       fromCharacter + " invites you to a multiplayer session.",
	}
	return d.deliver(ctx, target, n, "Session invite from "+from)
}

func (d *Dispatcher) deliver(ctx context.Context, target string, n mailbox.Notification, commit string) (Receipt, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Receipt{}, apperrors.Wrap(apperrors.CodeInvalidArgument, ErrTargetRequired.Error(), ErrTargetRequired)
	}
	if strings.TrimSpace(n.From) == "" {
		return Receipt{}, apperrors.Wrap(apperrors.CodeInvalidArgument, ErrSenderRequired.Error(), ErrSenderRequired)
	}
	receipt := Receipt{
		Outcome:   mailbox.OutcomeUnavailable.String(),
		Type:      Type(n.Type),
		To:        target,
		From:      n.From,
		SessionID: n.SessionID,
	}
	ref := mailbox.InboxRef(target)
	if err := d.remote.EnsureRef(ctx, ref, d.baseRef); err != nil {
		return receipt, nil
	}

	now := d.clock().UTC()
	n.Timestamp = now
	n.Expires = now.Add(Type(n.Type).TTL())
	n.Status = StatusPending

	outcome, err := d.remote.Update(ctx, ref, mailbox.InboxFile, func(current []byte, exists bool) ([]byte, error) {
		inbox := mailbox.Inbox{Player: target}
		if exists {
			if err := mailbox.Unmarshal(current, &inbox); err != nil {
				return nil, err
			}
		}
		n.Seq = inbox.NextSeq()
		inbox.Notifications = append(inbox.Notifications, n)
		return mailbox.Marshal(inbox)
	}, commit)
	if err != nil {
		return Receipt{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "inbox of "+target+" is not valid", err)
	}
	receipt.Outcome = outcome.String()
	if outcome == mailbox.OutcomeWritten {
		receipt.Sent = true
		receipt.Seq = n.Seq
	}
	return receipt, nil
}

// Entry is one actionable inbox notification.
type Entry struct {
	mailbox.Notification
	Priority Priority `json:"priority"`
	Expiry   Expiry   `json:"expiry"`
}

// Deadline returns when n expires. Notifications missing an expires field
// fall back to their type's time to live.
func Deadline(n mailbox.Notification) time.Time {
	if !n.Expires.IsZero() {
		return n.Expires
	}
	return n.Timestamp.Add(Type(n.Type).TTL())
}

// Check returns the actionable notifications in identity's inbox in inbox
// order. An absent or unreachable inbox is empty.
func (d *Dispatcher) Check(ctx context.Context, identity string) ([]Entry, error) {
	inbox, _, err := d.read(ctx, identity)
	if err != nil {
		return nil, err
	}
	now := d.clock()
	entries := []Entry{}
	for _, n := range inbox.Notifications {
		if !Actionable(n.Status) {
			continue
		}
		entries = append(entries, Entry{
			Notification: n,
			Priority:     Type(n.Type).Priority(),
			Expiry:       ExpiryAt(Deadline(n), now),
		})
	}
	return entries, nil
}

// Counts summarises an inbox.
type Counts struct {
	Total  int `json:"total"`
	Urgent int `json:"urgent"`
}

// Count returns how many actionable notifications identity has and how
// many of them are high priority.
func (d *Dispatcher) Count(ctx context.Context, identity string) (Counts, error) {
	entries, err := d.Check(ctx, identity)
	if err != nil {
		return Counts{}, err
	}
	counts := Counts{Total: len(entries)}
	for _, e := range entries {
		if e.Priority == PriorityHigh {
			counts.Urgent++
		}
	}
	return counts, nil
}

// Marked is a notification after a status change, with the outcome of the
// inbox write.
type Marked struct {
	mailbox.Notification
	Outcome string `json:"outcome"`
}

// Mark sets the status of notification seq in identity's inbox. A lost race
// or an unreachable remote is reported in Outcome, not as an error.
func (d *Dispatcher) Mark(ctx context.Context, identity string, seq uint64, status string) (Marked, error) {
	status, err := ParseMarkStatus(status)
	if err != nil {
		return Marked{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Marked{}, apperrors.Wrap(apperrors.CodeInvalidArgument, ErrTargetRequired.Error(), ErrTargetRequired)
	}
	marked := mailbox.Notification{Seq: seq}
	outcome, err := d.remote.Update(ctx, mailbox.InboxRef(identity), mailbox.InboxFile, func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrNotificationNotFound
		}
		var inbox mailbox.Inbox
		if err := mailbox.Unmarshal(current, &inbox); err != nil {
			return nil, err
		}
		i := inbox.Find(seq)
		if i < 0 {
			return nil, ErrNotificationNotFound
		}
		marked = inbox.Notifications[i]
		if marked.Status == status {
			return nil, mailbox.ErrSkipWrite
		}
		inbox.Notifications[i].Status = status
		marked = inbox.Notifications[i]
		return mailbox.Marshal(inbox)
	}, fmt.Sprintf("Mark notification %d %s", seq, status))
	switch {
	case errors.Is(err, ErrNotificationNotFound):
		return Marked{}, apperrors.WithMetadata(apperrors.CodeNotFound, ErrNotificationNotFound.Error(), map[string]string{
			"identity": identity,
			"seq":      fmt.Sprint(seq),
		})
	case err != nil:
		return Marked{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "inbox of "+identity+" is not valid", err)
	}
	return Marked{Notification: marked, Outcome: outcome.String()}, nil
}

func (d *Dispatcher) read(ctx context.Context, identity string) (mailbox.Inbox, bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return mailbox.Inbox{}, false, apperrors.Wrap(apperrors.CodeInvalidArgument, ErrTargetRequired.Error(), ErrTargetRequired)
	}
	data, ok := d.remote.ReadFile(ctx, mailbox.InboxRef(identity), mailbox.InboxFile)
	if !ok {
		return mailbox.Inbox{Player: identity}, false, nil
	}
	var inbox mailbox.Inbox
	if err := mailbox.Unmarshal(data, &inbox); err != nil {
		return mailbox.Inbox{}, false, apperrors.Wrap(apperrors.CodeInvalidArgument, "inbox of "+identity+" is not valid", err)
	}
	return inbox, true, nil
}
