package live

import (
	"context"
	"errors"
	"time"
)

// sessionTTL is advisory metadata for external cleanup jobs; the core never
// force-expires a session.
const sessionTTL = 8 * time.Hour

// Lifecycle creates, finds, and closes the day's session. Dates are
// calendar days in the facilitator group's timezone.
type Lifecycle struct {
	store *Store
	loc   *time.Location
}

func NewLifecycle(store *Store, loc *time.Location) *Lifecycle {
	if loc == nil {
		loc = time.UTC
	}
	return &Lifecycle{store: store, loc: loc}
}

// Today returns the current calendar date in the facilitator timezone.
func (m *Lifecycle) Today() string {
	return time.Now().In(m.loc).Format("2006-01-02")
}

// CreateSession allocates a unique code and writes a fresh waiting session.
// Fails with ErrSessionExists when the date already has one.
func (m *Lifecycle) CreateSession(ctx context.Context, date, facilitator string) (*LiveSession, error) {
	code, err := AllocateUniqueCode(ctx, date, m.store.CodeExists)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &LiveSession{
		Code:           code,
		Date:           date,
		Status:         StatusWaiting,
		Lock:           VoteLock{State: LockIdle},
		ConnectedUsers: make(map[string]*Presence),
		Votes:          []Vote{},
		CreatedBy:      facilitator,
		CreatedAt:      now,
		ExpiresAt:      now.Add(sessionTTL),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// FindTodaySession is a single lookup by date. ErrSessionNotFound when no
// session exists for today.
func (m *Lifecycle) FindTodaySession(ctx context.Context) (*LiveSession, error) {
	return m.store.FindByDate(ctx, m.Today())
}

// EnsureTodaySession finds today's session or creates it, tolerating the
// create race between two schedulers firing at once.
func (m *Lifecycle) EnsureTodaySession(ctx context.Context, facilitator string) (*LiveSession, error) {
	sess, err := m.FindTodaySession(ctx)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	sess, err = m.CreateSession(ctx, m.Today(), facilitator)
	if errors.Is(err, ErrSessionExists) {
		return m.FindTodaySession(ctx)
	}
	return sess, err
}

// CloseSession folds completed votes into the summary and marks the session
// closed. Forbidden while a vote is active: the facilitator must complete
// or cancel it first. Closing an already-closed session changes nothing.
func (m *Lifecycle) CloseSession(ctx context.Context, code, closedBy string) (*LiveSession, error) {
	return m.store.UpdateSession(ctx, code, 1, func(sess *LiveSession) error {
		if sess.Status == StatusClosed {
			return errNoChange
		}
		if sess.Lock.State == LockVoting {
			return ErrVoteInProgress
		}
		now := time.Now().UTC()
		sess.Summary = Summarize(sess, now, closedBy)
		sess.Status = StatusClosed
		return nil
	})
}
