package service

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
)

func TestGroupOperationsStampActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	created, err := f.manager.Create(ctx, CreateInput{World: "alpha", Host: "alice", Characters: []string{"aria", "brak"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(time.Minute)
	session, err := f.manager.UpdateLocation(ctx, "brak", "docks")
	if err != nil {
		t.Fatalf("update location: %v", err)
	}
	if !session.LastActivity.After(created.LastActivity) {
		t.Fatalf("expected last activity bumped, got %v", session.LastActivity)
	}
	if len(session.Groups) != 2 {
		t.Fatalf("expected two groups, got %+v", session.Groups)
	}

	session, err = f.manager.NextTurn(ctx)
	if err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if session.Turn.CurrentGroup != "b" || session.Turn.Round != 1 {
		t.Fatalf("expected b in round 1, got %+v", session.Turn)
	}

	session, err = f.manager.Merge(ctx, "a", "b")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if session.Turn.CurrentGroup != "a" || len(session.Groups) != 1 {
		t.Fatalf("expected single group a holding the turn, got %+v", session)
	}

	session, err = f.manager.Split(ctx, "brak", "")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if _, ok := session.Groups["b"]; !ok {
		t.Fatalf("expected brak split into b, got %+v", session.Groups)
	}

	session, err = f.manager.RecalculateGroups(ctx)
	if err != nil {
		t.Fatalf("update groups: %v", err)
	}
	if len(session.Groups) != 1 {
		t.Fatalf("expected recompute to rejoin co-located seats, got %+v", session.Groups)
	}

	stored, err := f.manager.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(stored.Groups) != 1 || stored.Turn.CurrentGroup != "a" {
		t.Fatalf("expected mutations persisted, got %+v", stored)
	}
}

func TestGroupOperationErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.manager.NextTurn(ctx)
	requireCode(t, err, apperrors.CodeNoActiveSession)

	if _, err := f.manager.Create(ctx, CreateInput{World: "alpha", Host: "alice", Characters: []string{"aria"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.manager.Split(ctx, "ghost", "")
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = f.manager.Merge(ctx, "a", "z")
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = f.manager.UpdateLocation(ctx, "ghost", "docks")
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = f.manager.RemoveParticipant(ctx, "ghost")
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestRemoveParticipantRederivesType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.manager.Create(ctx, CreateInput{World: "alpha", Host: "alice", Characters: []string{"aria"}, RemoteGuests: []string{"bob"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	session, err := f.manager.RemoveParticipant(ctx, "bob")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if session.SessionType != "local" || len(session.Turn.PendingActions.RemoteAwaiting) != 0 {
		t.Fatalf("expected local session with nothing awaited, got %s %v", session.SessionType, session.Turn.PendingActions.RemoteAwaiting)
	}
}

func TestMarkRemoteSubmitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.manager.Create(ctx, CreateInput{World: "alpha", Host: "alice", Characters: []string{"aria"}, RemoteGuests: []string{"bob"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if changed, err := f.manager.MarkRemoteSubmitted(ctx, "ms-other", []string{"bob"}); err != nil || changed {
		t.Fatalf("expected other session ignored, got %v %v", changed, err)
	}
	if changed, err := f.manager.MarkRemoteSubmitted(ctx, testSessionID, []string{"bob"}); err != nil || !changed {
		t.Fatalf("expected bob drained, got %v %v", changed, err)
	}
	if changed, _ := f.manager.MarkRemoteSubmitted(ctx, testSessionID, []string{"bob"}); changed {
		t.Fatal("expected second drain to be a no-op")
	}
	ready, err := f.manager.CheckGroupReady(ctx)
	if err != nil {
		t.Fatalf("check ready: %v", err)
	}
	if len(ready.RemoteAwaiting) != 0 {
		t.Fatalf("expected nothing awaited, got %v", ready.RemoteAwaiting)
	}
}
