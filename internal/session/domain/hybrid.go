package domain

import "encoding/json"

// Readiness reports whether the current group can resolve its turn.
type Readiness struct {
	Ready          bool     `json:"ready"`
	LocalSubmitted bool     `json:"local_submitted"`
	RemoteAwaiting []string `json:"remote_awaiting"`
}

// Resolution is the snapshot returned when a group turn is resolved.
type Resolution struct {
	LocalActions []json.RawMessage `json:"local_actions"`
	Group        string            `json:"group"`
	Round        int               `json:"round"`
}

// SubmitLocalActions replaces the local buffer for the current round.
func (s *Session) SubmitLocalActions(actions []json.RawMessage) {
	buffer := make([]json.RawMessage, len(actions))
	copy(buffer, actions)
	s.Turn.PendingActions.Local = buffer
	s.Refresh()
}

// CheckGroupReady is ready iff local actions were submitted and no remote
// player is still awaited.
func CheckGroupReady(pending PendingActions) Readiness {
	awaiting := append([]string{}, pending.RemoteAwaiting...)
	local := len(pending.Local) > 0
	return Readiness{
		Ready:          local && len(awaiting) == 0,
		LocalSubmitted: local,
		RemoteAwaiting: awaiting,
	}
}

// CheckGroupReady evaluates the session's pending actions.
func (s *Session) CheckGroupReady() Readiness {
	return CheckGroupReady(s.Turn.PendingActions)
}

// ResolveGroupTurn snapshots the buffer then clears it. It does not rotate
// the turn.
func (s *Session) ResolveGroupTurn() Resolution {
	local := s.Turn.PendingActions.Local
	if local == nil {
		local = []json.RawMessage{}
	}
	resolution := Resolution{
		LocalActions: local,
		Group:        s.Turn.CurrentGroup,
		Round:        s.Turn.Round,
	}
	s.Turn.PendingActions = PendingActions{}
	s.Refresh()
	return resolution
}

// MarkRemoteSubmitted removes a participant from the awaited list. It
// reports whether the participant was awaited.
func (s *Session) MarkRemoteSubmitted(participantID string) bool {
	awaiting := s.Turn.PendingActions.RemoteAwaiting
	for i, id := range awaiting {
		if id == participantID {
			s.Turn.PendingActions.RemoteAwaiting = append(awaiting[:i:i], awaiting[i+1:]...)
			return true
		}
	}
	return false
}
