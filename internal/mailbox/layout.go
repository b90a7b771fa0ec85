package mailbox

import "strings"

// File names stored on each ref.
const (
	ManifestFile = "session.yaml"
	OutboxFile   = "outbox.yaml"
	StateFile    = "state.yaml"
	InboxFile    = "notifications.yaml"
)

// SessionPrefix is the ref prefix shared by everything a session owns.
func SessionPrefix(sessionID string) string {
	return "session/" + sessionID + "/"
}

// ManifestRef holds the session manifest.
func ManifestRef(sessionID string) string {
	return SessionPrefix(sessionID) + "manifest"
}

// OutboxRef holds one participant's outbox.
func OutboxRef(sessionID, participant string) string {
	return SessionPrefix(sessionID) + "outbox/" + participant
}

// OutboxPattern matches every outbox ref of a session.
func OutboxPattern(sessionID string) string {
	return SessionPrefix(sessionID) + "outbox/*"
}

// StateRef holds the shared turn state.
func StateRef(sessionID string) string {
	return SessionPrefix(sessionID) + "state"
}

// InboxRef holds one identity's notifications, independent of sessions.
func InboxRef(identity string) string {
	return "inbox/" + identity
}

// OutboxOwner returns the participant an outbox ref belongs to.
func OutboxOwner(sessionID, ref string) (string, bool) {
	owner, ok := strings.CutPrefix(ref, SessionPrefix(sessionID)+"outbox/")
	if !ok || owner == "" || strings.Contains(owner, "/") {
		return "", false
	}
	return owner, true
}
