package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"ddbridge/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "data", "sessions.db")
	s, err := Open(context.Background(), DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openSession(t *testing.T, origin string) *models.VotingSession {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	v := models.NewVotingSession("g1", "c1", origin, "u1", "lunch", []string{"pizza", "sushi", "tacos"}, now)
	if err := v.Transition(models.SessionStateOpen, now); err != nil {
		t.Fatal(err)
	}
	v.RemoteVotingID = "remote-" + origin
	return v
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := openSession(t, "m1")
	v.AddBallot("u2", v.UpdatedAt)
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := s.Get(ctx, v.LocalID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.RemoteVotingID != v.RemoteVotingID || got.State != models.SessionStateOpen {
		t.Errorf("unexpected session: %+v", got)
	}
	if len(got.Options) != 3 || got.Options[1] != "sushi" {
		t.Errorf("options not preserved: %v", got.Options)
	}
	if !got.HasBallot("u2") {
		t.Error("ballots_seen not preserved")
	}
	if !got.CreatedAt.Equal(v.CreatedAt) {
		t.Errorf("created_at changed: %v != %v", got.CreatedAt, v.CreatedAt)
	}
}

func TestPutKeepsOptionsAndUpdatesAnnouncement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := openSession(t, "m1")
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	v.Options = []string{"soup", "salad"}
	v.AnnouncementMessageID = "msg-1"
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := s.Get(ctx, v.LocalID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Options) != 3 || got.Options[0] != "pizza" {
		t.Errorf("options changed after creation: %v", got.Options)
	}
	if got.AnnouncementMessageID != "msg-1" {
		t.Errorf("announcement id not stored: %q", got.AnnouncementMessageID)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRejectsInconsistentSession(t *testing.T) {
	s := newTestStore(t)
	v := openSession(t, "m1")
	v.RemoteVotingID = ""
	if err := s.Put(context.Background(), v); !errors.Is(err, models.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestFindActiveFollowsState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.FindActive(ctx, "g1", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty channel, got %v", err)
	}

	v := openSession(t, "m1")
	if err := s.Put(ctx, v); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindActive(ctx, "g1", "c1")
	if err != nil || got.LocalID != v.LocalID {
		t.Fatalf("expected active session %s, got %v %v", v.LocalID, got, err)
	}
	if _, err := s.FindActive(ctx, "g1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other channel should have no active session, got %v", err)
	}

	if err := v.Transition(models.SessionStateClosed, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, v); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindActive(ctx, "g1", "c1"); err != nil {
		t.Fatalf("closed session is still active: %v", err)
	}

	if err := v.Transition(models.SessionStatePublished, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, v); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindActive(ctx, "g1", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("published session must leave the index, got %v", err)
	}
}

func TestFailedSessionLeavesIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := openSession(t, "m1")
	if err := s.Put(ctx, v); err != nil {
		t.Fatal(err)
	}
	if err := v.Fail("remote voting not found", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, v); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindActive(ctx, "g1", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := s.Get(ctx, v.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.SessionStateFailed || got.FailureReason == "" || got.RemoteVotingID != "" {
		t.Errorf("unexpected failed session: %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	v := openSession(t, "m1")
	if err := s.Put(ctx, v); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, v.LocalID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, v.LocalID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session still present: %v", err)
	}
	if _, err := s.FindActive(ctx, "g1", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("index still present: %v", err)
	}
}

func TestDeletePublishedRefused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := openSession(t, "m1")
	for _, to := range []models.SessionState{models.SessionStateClosed, models.SessionStatePublished} {
		if err := v.Transition(to, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(ctx, v); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, v.LocalID); !errors.Is(err, ErrPublished) {
		t.Fatalf("expected ErrPublished, got %v", err)
	}
	if _, err := s.Get(ctx, v.LocalID); err != nil {
		t.Fatalf("published session removed: %v", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := openSession(t, "m1")
	b := openSession(t, "m2")
	b.ChannelID = "c2"
	b.LocalID = models.LocalID(b.GuildID, b.ChannelID, b.OriginMessageID)
	if err := b.Transition(models.SessionStateClosed, time.Now()); err != nil {
		t.Fatal(err)
	}
	for _, v := range []*models.VotingSession{a, b} {
		if err := s.Put(ctx, v); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["open"] != 1 || stats["closed"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestConcurrentPutsOnDistinctSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now()
			channel := string(rune('a' + i))
			v := models.NewVotingSession("g1", channel, "m", "u1", "x", []string{"a", "b"}, now)
			errs <- s.Put(ctx, v)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("put failed: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["pending"] != 10 {
		t.Errorf("expected 10 pending sessions, got %v", stats)
	}
}
