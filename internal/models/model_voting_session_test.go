package models

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

var allStates = []SessionState{
	SessionStatePending,
	SessionStateOpen,
	SessionStateClosed,
	SessionStatePublished,
	SessionStateFailed,
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]SessionState]bool{
		{SessionStatePending, SessionStateOpen}:     true,
		{SessionStateOpen, SessionStateClosed}:      true,
		{SessionStateClosed, SessionStatePublished}: true,
		{SessionStatePending, SessionStateFailed}:   true,
		{SessionStateOpen, SessionStateFailed}:      true,
		{SessionStateClosed, SessionStateFailed}:    true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			want := allowed[[2]SessionState{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLocalIDDeterministic(t *testing.T) {
	a := LocalID("g1", "c1", "m1")
	b := LocalID("g1", "c1", "m1")
	c := LocalID("g1", "c1", "m2")

	if a != b {
		t.Errorf("expected stable id, got %s and %s", a, b)
	}
	if a == c {
		t.Errorf("expected different origin to produce different id")
	}
}

func TestVotingSessionLifecycle(t *testing.T) {
	now := time.Now()
	s := NewVotingSession("g", "c", "m", "u", "Lunch", []string{"A", "B"}, now)

	if err := s.Validate(); err != nil {
		t.Fatalf("pending session should validate: %v", err)
	}

	// Open without remote id breaks the invariant.
	if err := s.Transition(SessionStateOpen, now); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.Validate(); !errors.Is(err, ErrInconsistent) {
		t.Errorf("expected ErrInconsistent, got %v", err)
	}

	s.RemoteVotingID = "remote-1"
	if err := s.Validate(); err != nil {
		t.Fatalf("open session should validate: %v", err)
	}

	if err := s.Transition(SessionStatePublished, now); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("expected skip to be rejected, got %v", err)
	}
	if err := s.Transition(SessionStateFailed, now); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Transition must not enter Failed, got %v", err)
	}

	if err := s.Fail("gone", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if s.RemoteVotingID != "" {
		t.Errorf("failed session kept remote id %q", s.RemoteVotingID)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("failed session should validate: %v", err)
	}
	if err := s.Fail("again", now); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("failed is terminal, got %v", err)
	}
}

func TestBallotsSeen(t *testing.T) {
	s := NewVotingSession("g", "c", "m", "u", "Lunch", []string{"A", "B"}, time.Now())
	s.AddBallot("u1", time.Now())
	s.AddBallot("u1", time.Now())

	if len(s.BallotsSeen) != 1 || !s.HasBallot("u1") {
		t.Errorf("unexpected ballots seen: %v", s.BallotsSeen)
	}

	c := s.Clone()
	c.AddBallot("u2", time.Now())
	if s.HasBallot("u2") {
		t.Error("clone shares ballots with original")
	}
}

func TestCreatorOnly(t *testing.T) {
	for _, k := range []CommandKind{CommandComplete, CommandPublish, CommandDelete} {
		if !k.CreatorOnly() {
			t.Errorf("%s should be creator only", k)
		}
	}
	for _, k := range []CommandKind{CommandStart, CommandVote} {
		if k.CreatorOnly() {
			t.Errorf("%s should be open to everyone", k)
		}
	}
}
