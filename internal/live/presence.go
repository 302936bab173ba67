package live

import (
	"context"
	"errors"
	"time"
)

// Tracker maintains the connected-reviewer set for a session. Connect is
// strict about session state; heartbeat and disconnect are deliberately
// forgiving because they fire from background timers and page unloads.
type Tracker struct {
	store *Store
}

func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store}
}

// Connect marks the reviewer online, creating the presence record on first
// contact. Fails with ErrSessionNotFound or ErrSessionInactive.
func (t *Tracker) Connect(ctx context.Context, code, identity, displayName string) (*LiveSession, error) {
	return t.store.UpdateSession(ctx, code, 1, func(sess *LiveSession) error {
		if sess.Status == StatusClosed {
			return ErrSessionInactive
		}
		now := time.Now().UTC()
		presence, ok := sess.ConnectedUsers[identity]
		if !ok {
			presence = &Presence{
				Identity:    identity,
				ConnectedAt: now,
			}
			sess.ConnectedUsers[identity] = presence
		}
		if displayName != "" {
			presence.DisplayName = displayName
		}
		presence.Online = true
		presence.LastSeenAt = now
		presence.DisconnectedAt = nil
		return nil
	})
}

// Heartbeat refreshes lastSeenAt and forces the reviewer online. It never
// fails on a missing session or identity: heartbeats outlive sessions and
// must not crash the timers that send them.
func (t *Tracker) Heartbeat(ctx context.Context, code, identity string) error {
	_, err := t.store.UpdateSession(ctx, code, 1, func(sess *LiveSession) error {
		if sess.Status == StatusClosed {
			return errNoChange
		}
		presence, ok := sess.ConnectedUsers[identity]
		if !ok {
			return errNoChange
		}
		presence.Online = true
		presence.LastSeenAt = time.Now().UTC()
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// Disconnect marks the reviewer offline. Idempotent: repeat calls and calls
// after the session is gone change nothing.
func (t *Tracker) Disconnect(ctx context.Context, code, identity string) error {
	_, err := t.store.UpdateSession(ctx, code, 1, func(sess *LiveSession) error {
		presence, ok := sess.ConnectedUsers[identity]
		if !ok || !presence.Online {
			return errNoChange
		}
		now := time.Now().UTC()
		presence.Online = false
		presence.LastSeenAt = now
		presence.DisconnectedAt = &now
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// OnlineSet returns the identities currently online, sorted. Pure read.
func (t *Tracker) OnlineSet(ctx context.Context, code string) ([]string, error) {
	sess, err := t.store.GetSession(ctx, code)
	if err != nil {
		return nil, err
	}
	return sess.OnlineIdentities(), nil
}
