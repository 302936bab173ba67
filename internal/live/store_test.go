package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T) *Store {
	s := miniredis.RunT(t)
	store, err := NewStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store *Store, code, date string, online ...string) *LiveSession {
	t.Helper()
	now := time.Now().UTC()
	sess := &LiveSession{
		Code:           code,
		Date:           date,
		Status:         StatusWaiting,
		Lock:           VoteLock{State: LockIdle},
		ConnectedUsers: make(map[string]*Presence),
		Votes:          []Vote{},
		CreatedBy:      "facilitator@example.com",
		CreatedAt:      now,
		ExpiresAt:      now.Add(8 * time.Hour),
	}
	for _, identity := range online {
		sess.ConnectedUsers[identity] = &Presence{
			Identity:    identity,
			DisplayName: identity,
			Online:      true,
			ConnectedAt: now,
			LastSeenAt:  now,
		}
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func TestCreateAndGetSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	sess, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Code != "CD7XK2" {
		t.Errorf("expected code CD7XK2, got %s", sess.Code)
	}
	if sess.Status != StatusWaiting {
		t.Errorf("expected waiting status, got %s", sess.Status)
	}
	if !sess.ConnectedUsers["ana@example.com"].Online {
		t.Error("expected seeded user to be online")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSession(context.Background(), "NOPE99")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateSessionDuplicateDate(t *testing.T) {
	store := setupTestStore(t)

	seedSession(t, store, "CD7XK2", "2026-03-04")

	second := &LiveSession{
		Code:           "CDAAAA",
		Date:           "2026-03-04",
		Status:         StatusWaiting,
		Lock:           VoteLock{State: LockIdle},
		ConnectedUsers: make(map[string]*Presence),
	}
	err := store.CreateSession(context.Background(), second)
	if !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestFindByDate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")

	sess, err := store.FindByDate(ctx, "2026-03-04")
	if err != nil {
		t.Fatalf("FindByDate failed: %v", err)
	}
	if sess.Code != "CD7XK2" {
		t.Errorf("expected code CD7XK2, got %s", sess.Code)
	}

	_, err = store.FindByDate(ctx, "2026-03-05")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for unknown date, got %v", err)
	}
}

func TestUpdateSessionAppliesTransform(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")

	updated, err := store.UpdateSession(ctx, "CD7XK2", 1, func(sess *LiveSession) error {
		sess.Status = StatusVoting
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	if updated.Status != StatusVoting {
		t.Errorf("expected voting status on returned session, got %s", updated.Status)
	}

	reread, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if reread.Status != StatusVoting {
		t.Errorf("expected voting status persisted, got %s", reread.Status)
	}
}

func TestUpdateSessionTransformErrorAborts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")

	boom := errors.New("boom")
	_, err := store.UpdateSession(ctx, "CD7XK2", 3, func(sess *LiveSession) error {
		sess.Status = StatusClosed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transform error passthrough, got %v", err)
	}

	sess, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Status != StatusWaiting {
		t.Errorf("expected aborted transform to leave status waiting, got %s", sess.Status)
	}
}

func TestUpdateSessionMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.UpdateSession(context.Background(), "NOPE99", 1, func(sess *LiveSession) error {
		return nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubscribeDeliversCommittedSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	events, cancel, err := store.Subscribe(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	// A no-change transform must not publish.
	if _, err := store.UpdateSession(ctx, "CD7XK2", 1, func(sess *LiveSession) error {
		return errNoChange
	}); err != nil {
		t.Fatalf("no-change update failed: %v", err)
	}

	if _, err := store.UpdateSession(ctx, "CD7XK2", 1, func(sess *LiveSession) error {
		sess.Status = StatusVoting
		return nil
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	select {
	case sess := <-events:
		if sess.Status != StatusVoting {
			t.Errorf("expected first snapshot to be the voting update, got status %s", sess.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestSubscribeCancelIdempotent(t *testing.T) {
	store := setupTestStore(t)

	seedSession(t, store, "CD7XK2", "2026-03-04")

	_, cancel, err := store.Subscribe(context.Background(), "CD7XK2")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cancel()
	cancel()
}
