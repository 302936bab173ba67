package live

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectCreatesPresence(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")

	sess, err := tracker.Connect(ctx, "CD7XK2", "ana@example.com", "Ana")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	presence := sess.ConnectedUsers["ana@example.com"]
	if presence == nil {
		t.Fatal("expected presence record")
	}
	if !presence.Online || presence.DisplayName != "Ana" {
		t.Errorf("unexpected presence: %+v", presence)
	}
	if presence.DisconnectedAt != nil {
		t.Errorf("expected no disconnectedAt on a fresh connect, got %v", presence.DisconnectedAt)
	}
}

func TestConnectMissingSession(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)

	_, err := tracker.Connect(context.Background(), "NOPE99", "ana@example.com", "Ana")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConnectClosedSession(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")
	if _, err := store.UpdateSession(ctx, "CD7XK2", 1, func(sess *LiveSession) error {
		sess.Status = StatusClosed
		return nil
	}); err != nil {
		t.Fatalf("close session: %v", err)
	}

	_, err := tracker.Connect(ctx, "CD7XK2", "ana@example.com", "Ana")
	if !errors.Is(err, ErrSessionInactive) {
		t.Errorf("expected ErrSessionInactive, got %v", err)
	}
}

func TestReconnectRestoresOnline(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")

	if _, err := tracker.Connect(ctx, "CD7XK2", "ana@example.com", "Ana"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := tracker.Disconnect(ctx, "CD7XK2", "ana@example.com"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	sess, err := tracker.Connect(ctx, "CD7XK2", "ana@example.com", "")
	if err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	presence := sess.ConnectedUsers["ana@example.com"]
	if !presence.Online {
		t.Error("expected reconnected presence to be online")
	}
	if presence.DisconnectedAt != nil {
		t.Errorf("expected disconnectedAt cleared on reconnect, got %v", presence.DisconnectedAt)
	}
	if presence.DisplayName != "Ana" {
		t.Errorf("expected display name preserved across reconnect, got %q", presence.DisplayName)
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")
	if _, err := tracker.Connect(ctx, "CD7XK2", "ana@example.com", "Ana"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	before, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := tracker.Heartbeat(ctx, "CD7XK2", "ana@example.com"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	after, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !after.ConnectedUsers["ana@example.com"].LastSeenAt.After(before.ConnectedUsers["ana@example.com"].LastSeenAt) {
		t.Error("expected heartbeat to advance lastSeenAt")
	}
}

func TestHeartbeatUnknownIdentityIsNoOp(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")

	if err := tracker.Heartbeat(ctx, "CD7XK2", "ghost@example.com"); err != nil {
		t.Errorf("expected no error for unknown identity, got %v", err)
	}

	sess, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if _, ok := sess.ConnectedUsers["ghost@example.com"]; ok {
		t.Error("heartbeat must not create a presence record")
	}
}

func TestHeartbeatMissingSessionIsNoOp(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)

	if err := tracker.Heartbeat(context.Background(), "NOPE99", "ana@example.com"); err != nil {
		t.Errorf("expected no error for missing session, got %v", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04")
	if _, err := tracker.Connect(ctx, "CD7XK2", "ana@example.com", "Ana"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := tracker.Disconnect(ctx, "CD7XK2", "ana@example.com"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := tracker.Disconnect(ctx, "CD7XK2", "ana@example.com"); err != nil {
		t.Errorf("expected repeated disconnect to be a no-op, got %v", err)
	}
	if err := tracker.Disconnect(ctx, "NOPE99", "ana@example.com"); err != nil {
		t.Errorf("expected disconnect on missing session to be a no-op, got %v", err)
	}

	sess, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	presence := sess.ConnectedUsers["ana@example.com"]
	if presence.Online {
		t.Error("expected presence offline after disconnect")
	}
	if presence.DisconnectedAt == nil {
		t.Error("expected disconnectedAt set")
	}
}

func TestOnlineSetSorted(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "zoe@example.com", "ana@example.com", "bob@example.com")
	if err := tracker.Disconnect(ctx, "CD7XK2", "bob@example.com"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	online, err := tracker.OnlineSet(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("OnlineSet failed: %v", err)
	}
	if len(online) != 2 || online[0] != "ana@example.com" || online[1] != "zoe@example.com" {
		t.Errorf("unexpected online set: %v", online)
	}
}
