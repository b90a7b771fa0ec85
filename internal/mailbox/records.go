package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session manifest statuses.
const (
	ManifestStatusActive = "active"
	ManifestStatusEnded  = "ended"
)

// Remote seat statuses.
const (
	SeatStatusInvited = "invited"
	SeatStatusJoined  = "joined"
)

// Default manifest settings.
const (
	DefaultMaxIdlePolls    = 5
	DefaultPollIntervalSec = 3
	DefaultTurnMode        = "simultaneous"
)

// Manifest is session.yaml on the manifest ref.
type Manifest struct {
	SessionID    string    `yaml:"session_id" json:"session_id"`
	World        string    `yaml:"world,omitempty" json:"world,omitempty"`
	Created      time.Time `yaml:"created" json:"created"`
	Status       string    `yaml:"status" json:"status"`
	Host         Seat      `yaml:"host" json:"host"`
	Guests       []Guest   `yaml:"guests" json:"guests"`
	Settings     Settings  `yaml:"settings" json:"settings"`
	LastActivity time.Time `yaml:"last_activity" json:"last_activity"`
}

// Seat names the host.
type Seat struct {
	Identity  string `yaml:"identity" json:"identity"`
	Character string `yaml:"character" json:"character"`
}

// Guest is one invited or joined remote player.
type Guest struct {
	Identity  string `yaml:"identity" json:"identity"`
	Character string `yaml:"character" json:"character"`
	Status    string `yaml:"status" json:"status"`
	Role      string `yaml:"role" json:"role"`
}

// Settings are the polling parameters every participant follows.
type Settings struct {
	MaxIdlePolls    int    `yaml:"max_idle_polls" json:"max_idle_polls"`
	PollIntervalSec int    `yaml:"poll_interval_sec" json:"poll_interval_sec"`
	TurnMode        string `yaml:"turn_mode" json:"turn_mode"`
}

// DefaultSettings returns the settings a new session starts with.
func DefaultSettings() Settings {
	return Settings{
		MaxIdlePolls:    DefaultMaxIdlePolls,
		PollIntervalSec: DefaultPollIntervalSec,
		TurnMode:        DefaultTurnMode,
	}
}

// TimedOut reports whether the last heartbeat is older than timeout. A
// manifest without a heartbeat never times out.
func (m Manifest) TimedOut(now time.Time, timeout time.Duration) bool {
	if m.LastActivity.IsZero() || timeout <= 0 {
		return false
	}
	return now.Sub(m.LastActivity) > timeout
}

// Identities lists the host then every guest, without duplicates.
func (m Manifest) Identities() []string {
	seen := make(map[string]struct{}, len(m.Guests)+1)
	out := make([]string, 0, len(m.Guests)+1)
	add := func(identity string) {
		if identity == "" {
			return
		}
		if _, ok := seen[identity]; ok {
			return
		}
		seen[identity] = struct{}{}
		out = append(out, identity)
	}
	add(m.Host.Identity)
	for _, guest := range m.Guests {
		add(guest.Identity)
	}
	return out
}

// UpsertGuest replaces the guest with the same identity or appends it.
func (m *Manifest) UpsertGuest(guest Guest) {
	for i := range m.Guests {
		if m.Guests[i].Identity == guest.Identity {
			m.Guests[i] = guest
			return
		}
	}
	m.Guests = append(m.Guests, guest)
}

// Outbox is outbox.yaml on a participant's outbox ref.
type Outbox struct {
	Player    string    `yaml:"player" json:"player"`
	Character string    `yaml:"character" json:"character"`
	Messages  []Message `yaml:"messages" json:"messages"`
}

// Message is one entry in an outbox.
type Message struct {
	Seq       uint64    `yaml:"seq" json:"seq"`
	Type      string    `yaml:"type" json:"type"`
	Narrative string    `yaml:"narrative" json:"narrative"`
	To        string    `yaml:"to,omitempty" json:"to,omitempty"`
	Timestamp time.Time `yaml:"timestamp,omitempty" json:"timestamp,omitzero"`
}

// ErrOutboxOrder indicates sequence numbers that do not strictly increase.
var ErrOutboxOrder = errors.New("outbox sequence numbers must be strictly increasing from 1")

// MaxSeq returns the highest sequence number in the outbox.
func (o Outbox) MaxSeq() uint64 {
	var max uint64
	for _, msg := range o.Messages {
		if msg.Seq > max {
			max = msg.Seq
		}
	}
	return max
}

// After returns the messages with seq greater than seq, in ascending order.
func (o Outbox) After(seq uint64) []Message {
	var out []Message
	for _, msg := range o.Messages {
		if msg.Seq > seq {
			out = append(out, msg)
		}
	}
	slices.SortStableFunc(out, func(a, b Message) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Append assigns the next sequence number to msg and adds it.
func (o *Outbox) Append(msg Message) Message {
	msg.Seq = o.MaxSeq() + 1
	o.Messages = append(o.Messages, msg)
	return msg
}

// Validate checks that sequence numbers start at 1 or above and strictly
// increase.
func (o Outbox) Validate() error {
	var prev uint64
	for i, msg := range o.Messages {
		if msg.Seq == 0 || msg.Seq <= prev {
			return fmt.Errorf("message %d has seq %d: %w", i, msg.Seq, ErrOutboxOrder)
		}
		prev = msg.Seq
	}
	return nil
}

// Encounter statuses.
const (
	EncounterStatusActive = "active"
)

// TurnRecord is state.yaml on the state ref.
type TurnRecord struct {
	Version       int            `yaml:"version" json:"version"`
	Timestamp     time.Time      `yaml:"timestamp" json:"timestamp"`
	PendingDeltas map[string]any `yaml:"pending_deltas" json:"pending_deltas"`
	Encounter     *Encounter     `yaml:"encounter,omitempty" json:"encounter,omitempty"`
}

// Encounter is the optional strict-initiative block of the turn state.
type Encounter struct {
	Status      string   `yaml:"status" json:"status"`
	TurnOrder   []string `yaml:"turn_order,flow" json:"turn_order"`
	CurrentTurn int      `yaml:"current_turn" json:"current_turn"`
}

// Inbox is notifications.yaml on an inbox ref.
type Inbox struct {
	Player        string         `yaml:"player" json:"player"`
	Notifications []Notification `yaml:"notifications" json:"notifications"`
}

// Notification is one inbox entry. Type-specific fields land in Extra; a
// nested value is kept there as its flow-style YAML text.
type Notification struct {
	Seq           uint64            `yaml:"seq" json:"seq"`
	Timestamp     time.Time         `yaml:"timestamp" json:"timestamp"`
	Type          string            `yaml:"type" json:"type"`
	From          string            `yaml:"from" json:"from"`
	FromCharacter string            `yaml:"from_character" json:"from_character"`
	SessionID     string            `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	Message       string            `yaml:"message,omitempty" json:"message,omitempty"`
	Subject       string            `yaml:"subject,omitempty" json:"subject,omitempty"`
	Expires       time.Time         `yaml:"expires" json:"expires"`
	Status        string            `yaml:"status" json:"status"`
	Extra         map[string]string `yaml:",inline" json:"extra,omitempty"`
}

var notificationFields = map[string]struct{}{
	"seq": {}, "timestamp": {}, "type": {}, "from": {}, "from_character": {},
	"session_id": {}, "message": {}, "subject": {}, "expires": {}, "status": {},
}

// UnmarshalYAML decodes the declared fields as usual and flattens any nested
// type-specific field into Extra instead of failing the whole inbox.
func (n *Notification) UnmarshalYAML(value *yaml.Node) error {
	type plain Notification
	if value.Kind != yaml.MappingNode {
		return value.Decode((*plain)(n))
	}
	flat := *value
	flat.Content = make([]*yaml.Node, 0, len(value.Content))
	nested := map[string]string{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if val.Kind == yaml.AliasNode && val.Alias != nil {
			val = val.Alias
		}
		if _, declared := notificationFields[key.Value]; declared || val.Kind == yaml.ScalarNode {
			flat.Content = append(flat.Content, key, value.Content[i+1])
			continue
		}
		text, err := flowText(val)
		if err != nil {
			return fmt.Errorf("notification field %s: %w", key.Value, err)
		}
		nested[key.Value] = text
	}
	if err := flat.Decode((*plain)(n)); err != nil {
		return err
	}
	if len(nested) > 0 && n.Extra == nil {
		n.Extra = make(map[string]string, len(nested))
	}
	for k, v := range nested {
		n.Extra[k] = v
	}
	return nil
}

func flowText(node *yaml.Node) (string, error) {
	flow := *node
	flow.Style = yaml.FlowStyle
	data, err := yaml.Marshal(&flow)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// NextSeq returns max(seq)+1, or 1 for an empty inbox.
func (in Inbox) NextSeq() uint64 {
	var max uint64
	for _, n := range in.Notifications {
		if n.Seq > max {
			max = n.Seq
		}
	}
	return max + 1
}

// Find returns the index of the notification with seq, or -1.
func (in Inbox) Find(seq uint64) int {
	for i, n := range in.Notifications {
		if n.Seq == seq {
			return i
		}
	}
	return -1
}

// Marshal encodes a record as YAML with two-space indentation.
func Marshal(record any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a record, ignoring fields it does not know.
func Unmarshal(data []byte, record any) error {
	return decode(data, record, false)
}

// UnmarshalStrict decodes a record and rejects unknown fields.
func UnmarshalStrict(data []byte, record any) error {
	return decode(data, record, true)
}

func decode(data []byte, record any, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(record); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}
