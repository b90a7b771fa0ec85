package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestNextTurnWrapsAndCountsRounds(t *testing.T) {
	session := newSession(t, CreateSessionInput{Locals: []Snapshot{snap("aria", "x"), snap("brak", "y"), snap("cora", "z")}})
	session.Turn.CurrentGroup = "c"

	if err := session.NextTurn(); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if session.Turn.CurrentGroup != "a" || session.Turn.Round != 2 {
		t.Fatalf("expected a in round 2, got %s in round %d", session.Turn.CurrentGroup, session.Turn.Round)
	}
	if err := session.NextTurn(); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if session.Turn.CurrentGroup != "b" || session.Turn.Round != 2 {
		t.Fatalf("expected b in round 2, got %s in round %d", session.Turn.CurrentGroup, session.Turn.Round)
	}
}

func TestNextTurnFollowsParticipantOrderNotAlphabet(t *testing.T) {
	session := newSession(t, CreateSessionInput{Locals: []Snapshot{snap("aria", "x"), snap("brak", "y")}})
	if err := session.Split("aria", "z"); err != nil {
		t.Fatalf("split: %v", err)
	}
	// Order of appearance is now z (aria) then b (brak).
	session.Turn.CurrentGroup = "z"
	if err := session.NextTurn(); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if session.Turn.CurrentGroup != "b" || session.Turn.Round != 1 {
		t.Fatalf("expected b in round 1, got %s in round %d", session.Turn.CurrentGroup, session.Turn.Round)
	}
}

func TestNextTurnSingleGroupAlwaysWraps(t *testing.T) {
	session := newSession(t, CreateSessionInput{Locals: []Snapshot{snap("aria", "x")}})
	for round := 2; round <= 4; round++ {
		if err := session.NextTurn(); err != nil {
			t.Fatalf("next turn: %v", err)
		}
		if session.Turn.Round != round {
			t.Fatalf("expected round %d, got %d", round, session.Turn.Round)
		}
	}
}

func TestNextTurnWithoutGroups(t *testing.T) {
	session := Session{Turn: TurnState{Round: 1}}
	if err := session.NextTurn(); !errors.Is(err, ErrNoGroups) {
		t.Fatalf("expected ErrNoGroups, got %v", err)
	}
}

func TestNextTurnResetsPendingForNewGroup(t *testing.T) {
	session := newSession(t, CreateSessionInput{
		Locals:       []Snapshot{snap("aria", "x")},
		RemoteGuests: []string{"bob", "carol"},
	})
	if err := session.UpdateLocation("bob", "y"); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if err := session.UpdateLocation("carol", "y"); err != nil {
		t.Fatalf("update location: %v", err)
	}
	session.AddParticipant(Participant{ID: "dan", Transport: TransportRemote, Role: RoleSpectator, Location: "y"})
	session.RecalculateGroups()
	session.SubmitLocalActions([]json.RawMessage{json.RawMessage(`{"act":"wait"}`)})

	if err := session.NextTurn(); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if len(session.Turn.PendingActions.Local) != 0 {
		t.Fatalf("expected local buffer cleared, got %v", session.Turn.PendingActions.Local)
	}
	if got := session.Turn.PendingActions.RemoteAwaiting; !reflect.DeepEqual(got, []string{"bob", "carol"}) {
		t.Fatalf("expected remote players bob and carol awaited, got %v", got)
	}
}

func TestEndToEndLocationDrivenRotation(t *testing.T) {
	session := newSession(t, CreateSessionInput{Locals: []Snapshot{snap("aria", "X"), snap("brak", "X")}})

	if len(session.Groups) != 1 {
		t.Fatalf("expected one group, got %+v", session.Groups)
	}
	if got := session.Groups["a"].Members; !reflect.DeepEqual(got, []string{"aria", "brak"}) {
		t.Fatalf("expected both in a, got %v", got)
	}
	if session.Turn.CurrentGroup != "a" {
		t.Fatalf("expected a, got %s", session.Turn.CurrentGroup)
	}

	if err := session.UpdateLocation("brak", "Y"); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if a := session.Groups["a"]; a.Location != "X" || !reflect.DeepEqual(a.Members, []string{"aria"}) {
		t.Fatalf("expected a at X with aria, got %+v", a)
	}
	if b := session.Groups["b"]; b.Location != "Y" || !reflect.DeepEqual(b.Members, []string{"brak"}) {
		t.Fatalf("expected b at Y with brak, got %+v", b)
	}

	if err := session.NextTurn(); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if session.Turn.CurrentGroup != "b" || session.Turn.Round != 1 {
		t.Fatalf("expected b in round 1, got %s in round %d", session.Turn.CurrentGroup, session.Turn.Round)
	}

	if err := session.NextTurn(); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if session.Turn.CurrentGroup != "a" || session.Turn.Round != 2 {
		t.Fatalf("expected a in round 2, got %s in round %d", session.Turn.CurrentGroup, session.Turn.Round)
	}
}
