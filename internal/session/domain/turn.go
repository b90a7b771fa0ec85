package domain

// NextTurn hands the turn to the next group in order of first appearance.
// Wrapping to an earlier position starts a new round. Pending actions reset
// to the new group's remote players.
func (s *Session) NextTurn() error {
	order := s.GroupOrder()
	if len(order) == 0 {
		return ErrNoGroups
	}
	current := -1
	for i, label := range order {
		if label == s.Turn.CurrentGroup {
			current = i
			break
		}
	}
	next := (current + 1) % len(order)
	if next <= current {
		s.Turn.Round++
	}
	if s.Turn.Round < 1 {
		s.Turn.Round = 1
	}
	s.Turn.CurrentGroup = order[next]
	s.resetPending()
	s.Refresh()
	return nil
}

// RemoteAwaitingFor lists the remote players of a group in member order.
func (s *Session) RemoteAwaitingFor(label string) []string {
	awaiting := []string{}
	for _, member := range s.Groups[label].Members {
		if p, ok := s.Find(member); ok && p.IsRemotePlayer() {
			awaiting = append(awaiting, member)
		}
	}
	return awaiting
}

func (s *Session) resetPending() {
	s.Turn.PendingActions = PendingActions{
		Local:          nil,
		RemoteAwaiting: s.RemoteAwaitingFor(s.Turn.CurrentGroup),
	}
}
