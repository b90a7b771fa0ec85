package domain

import (
	"fmt"
	"sort"
)

const groupLetters = "abcdefghijklmnopqrstuvwxyz"

// GroupLabel returns the label for the i-th group: a..z, then group-26,
// group-27 and so on.
func GroupLabel(i int) string {
	if i >= 0 && i < len(groupLetters) {
		return groupLetters[i : i+1]
	}
	return fmt.Sprintf("group-%d", i)
}

// CalculateGroups partitions participants by exact location, labelling
// locations in first-seen order, and overwrites each participant's group.
func CalculateGroups(participants []Participant) map[string]Group {
	groups := make(map[string]Group)
	labels := make(map[string]string)
	for i := range participants {
		location := participants[i].Location
		if location == "" {
			location = UnknownLocation
		}
		label, ok := labels[location]
		if !ok {
			label = GroupLabel(len(labels))
			labels[location] = label
		}
		group := groups[label]
		group.Location = location
		group.Members = append(group.Members, participants[i].ID)
		groups[label] = group
		participants[i].Group = label
	}
	return groups
}

// RecalculateGroups replaces the groups with a full recompute. The turn
// stays on its group while that label exists, else moves to the first group,
// and the awaited remote players follow the current group's membership.
func (s *Session) RecalculateGroups() {
	before := s.currentMembers()
	s.Groups = CalculateGroups(s.Participants)
	s.reconcilePending(before)
}

func (s *Session) currentMembers() map[string]struct{} {
	members := make(map[string]struct{})
	for _, member := range s.Groups[s.Turn.CurrentGroup].Members {
		members[member] = struct{}{}
	}
	return members
}

// reconcilePending keeps remote_awaiting equal to the remote players of the
// current group that have not submitted. A player who was already in the
// current group keeps its awaited state; one who arrived is awaited.
func (s *Session) reconcilePending(before map[string]struct{}) {
	if _, ok := s.Groups[s.Turn.CurrentGroup]; !ok {
		s.Turn.CurrentGroup = s.firstGroup()
	}
	awaited := make(map[string]struct{}, len(s.Turn.PendingActions.RemoteAwaiting))
	for _, id := range s.Turn.PendingActions.RemoteAwaiting {
		awaited[id] = struct{}{}
	}
	awaiting := []string{}
	for _, id := range s.RemoteAwaitingFor(s.Turn.CurrentGroup) {
		_, stayed := before[id]
		_, pending := awaited[id]
		if !stayed || pending {
			awaiting = append(awaiting, id)
		}
	}
	s.Turn.PendingActions.RemoteAwaiting = awaiting
}

// GroupOrder lists group labels in order of first appearance among
// participants.
func (s *Session) GroupOrder() []string {
	var order []string
	seen := make(map[string]struct{})
	for _, p := range s.Participants {
		if p.Group == "" {
			continue
		}
		if _, ok := seen[p.Group]; ok {
			continue
		}
		seen[p.Group] = struct{}{}
		order = append(order, p.Group)
	}
	return order
}

func (s *Session) firstGroup() string {
	if order := s.GroupOrder(); len(order) > 0 {
		return order[0]
	}
	labels := make([]string, 0, len(s.Groups))
	for label := range s.Groups {
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return ""
	}
	sort.Strings(labels)
	return labels[0]
}

func (s *Session) firstUnusedLabel() string {
	for i := 0; ; i++ {
		label := GroupLabel(i)
		if _, used := s.Groups[label]; !used {
			return label
		}
	}
}

// Split moves a participant out of its group into toGroup, or into the
// first unused label when toGroup is blank. Location is untouched.
func (s *Session) Split(participantID, toGroup string) error {
	i := s.participantIndex(participantID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	if s.Groups == nil {
		s.Groups = map[string]Group{}
	}
	if toGroup == "" {
		toGroup = s.firstUnusedLabel()
	}
	before := s.currentMembers()

	participant := &s.Participants[i]
	if old, ok := s.Groups[participant.Group]; ok {
		old.Members = without(old.Members, participantID)
		if len(old.Members) == 0 {
			delete(s.Groups, participant.Group)
		} else {
			s.Groups[participant.Group] = old
		}
	}

	target, ok := s.Groups[toGroup]
	if !ok {
		target = Group{Location: participant.Location}
	}
	target.Members = append(target.Members, participantID)
	s.Groups[toGroup] = target
	participant.Group = toGroup
	s.reconcilePending(before)
	s.Refresh()
	return nil
}

// Merge moves every member of b into a, relocating them to a's location,
// and deletes b.
func (s *Session) Merge(a, b string) error {
	groupA, ok := s.Groups[a]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, a)
	}
	groupB, ok := s.Groups[b]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, b)
	}
	if a == b {
		return nil
	}
	before := s.currentMembers()
	for _, member := range groupB.Members {
		groupA.Members = append(groupA.Members, member)
		if i := s.participantIndex(member); i >= 0 {
			s.Participants[i].Group = a
			s.Participants[i].Location = groupA.Location
		}
	}
	s.Groups[a] = groupA
	delete(s.Groups, b)
	if s.Turn.CurrentGroup == b {
		s.Turn.CurrentGroup = a
	}
	s.reconcilePending(before)
	s.Refresh()
	return nil
}

// UpdateLocation moves a participant and recomputes every group.
func (s *Session) UpdateLocation(participantID, location string) error {
	i := s.participantIndex(participantID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	s.Participants[i].Location = location
	s.RecalculateGroups()
	s.Refresh()
	return nil
}

func without(items []string, item string) []string {
	out := items[:0:0]
	for _, v := range items {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
