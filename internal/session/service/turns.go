package service

import (
	"context"
	"encoding/json"

	"github.com/matt-davison/agent-quest/internal/session/domain"
)

// NextTurn advances the turn to the next group.
func (m *Manager) NextTurn(context.Context) (domain.Session, error) {
	return m.mutate(func(s *domain.Session) error { return s.NextTurn() })
}

// Split moves a participant into toGroup or a fresh group.
func (m *Manager) Split(_ context.Context, participantID, toGroup string) (domain.Session, error) {
	return m.mutate(func(s *domain.Session) error { return s.Split(participantID, toGroup) })
}

// Merge folds group b into group a.
func (m *Manager) Merge(_ context.Context, a, b string) (domain.Session, error) {
	return m.mutate(func(s *domain.Session) error { return s.Merge(a, b) })
}

// UpdateLocation moves a participant and regroups.
func (m *Manager) UpdateLocation(_ context.Context, participantID, location string) (domain.Session, error) {
	return m.mutate(func(s *domain.Session) error { return s.UpdateLocation(participantID, location) })
}

// RecalculateGroups regroups everyone by location.
func (m *Manager) RecalculateGroups(context.Context) (domain.Session, error) {
	return m.mutate(func(s *domain.Session) error {
		s.RecalculateGroups()
		return nil
	})
}

// RemoveParticipant drops a seat.
func (m *Manager) RemoveParticipant(_ context.Context, participantID string) (domain.Session, error) {
	return m.mutate(func(s *domain.Session) error { return s.RemoveParticipant(participantID) })
}

// SubmitResult echoes the buffered actions.
type SubmitResult struct {
	Submitted bool              `json:"submitted"`
	Actions   []json.RawMessage `json:"actions"`
}

// SubmitLocalActions replaces the local action buffer.
func (m *Manager) SubmitLocalActions(_ context.Context, actions []json.RawMessage) (SubmitResult, error) {
	session, err := m.mutate(func(s *domain.Session) error {
		s.SubmitLocalActions(actions)
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Submitted: true, Actions: session.Turn.PendingActions.Local}, nil
}

// CheckGroupReady reports readiness without writing the mirror.
func (m *Manager) CheckGroupReady(context.Context) (domain.Readiness, error) {
	session, err := m.load()
	if err != nil {
		return domain.Readiness{}, err
	}
	return session.CheckGroupReady(), nil
}

// ResolveGroupTurn returns the buffered actions and clears the buffer.
func (m *Manager) ResolveGroupTurn(context.Context) (domain.Resolution, error) {
	var resolution domain.Resolution
	_, err := m.mutate(func(s *domain.Session) error {
		resolution = s.ResolveGroupTurn()
		return nil
	})
	return resolution, err
}

// MarkRemoteSubmitted drains senders from the awaited list of the mirrored
// session. It is a no-op when the mirror belongs to another session or no
// sender was awaited.
func (m *Manager) MarkRemoteSubmitted(_ context.Context, sessionID string, participantIDs []string) (bool, error) {
	session, err := m.dir.Load()
	if err != nil || session.SessionID != sessionID {
		return false, nil
	}
	changed := false
	for _, participantID := range participantIDs {
		if session.MarkRemoteSubmitted(participantID) {
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	session.Touch(m.clock())
	if err := m.dir.Save(session); err != nil {
		return false, err
	}
	return true, nil
}
