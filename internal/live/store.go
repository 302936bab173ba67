package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps each live session as a single JSON document in Redis. The
// document is the unit of mutual exclusion: every mutation runs as a
// WATCH/MULTI transaction on the session key, so two concurrent writers
// cannot both commit against the same snapshot. Committed mutations publish
// the full session state on a per-session channel.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client, prefix: "live:"}, nil
}

// NewStoreWithClient creates a store from an existing Redis client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: "live:"}
}

func (s *Store) sessionKey(code string) string {
	return s.prefix + "session:" + code
}

func (s *Store) dateKey(date string) string {
	return s.prefix + "date:" + date
}

func (s *Store) channel(code string) string {
	return s.prefix + "updates:" + code
}

// CodeExists reports whether a session document exists for the code.
func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, s.sessionKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("probe session code: %w", err)
	}
	return n > 0, nil
}

// CreateSession writes a new session document and claims the date index.
// The date index is the arbiter against duplicate sessions for one day:
// losing the SETNX race returns ErrSessionExists.
func (s *Store) CreateSession(ctx context.Context, sess *LiveSession) error {
	claimed, err := s.client.SetNX(ctx, s.dateKey(sess.Date), sess.Code, 0).Result()
	if err != nil {
		return fmt.Errorf("claim session date: %w", err)
	}
	if !claimed {
		return ErrSessionExists
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.Code), payload, 0).Err(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// GetSession loads a session document by code.
func (s *Store) GetSession(ctx context.Context, code string) (*LiveSession, error) {
	payload, err := s.client.Get(ctx, s.sessionKey(code)).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession([]byte(payload))
}

// FindByDate resolves the date index and loads the day's session.
func (s *Store) FindByDate(ctx context.Context, date string) (*LiveSession, error) {
	code, err := s.client.Get(ctx, s.dateKey(date)).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session date: %w", err)
	}
	return s.GetSession(ctx, code)
}

// UpdateSession applies transform to the session document under a
// WATCH/MULTI transaction. A concurrent commit between the read and the
// write fails the EXEC; the operation is retried up to attempts times and
// the stale read is never written. Transform errors abort immediately and
// are returned as-is, so invariant violations are never retried. Returning
// errNoChange from transform skips the write and the publish.
func (s *Store) UpdateSession(ctx context.Context, code string, attempts int, transform func(*LiveSession) error) (*LiveSession, error) {
	if attempts < 1 {
		attempts = 1
	}
	key := s.sessionKey(code)

	var updated *LiveSession
	for attempt := 0; attempt < attempts; attempt++ {
		noChange := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Result()
			if err == redis.Nil {
				return ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}

			sess, err := decodeSession([]byte(payload))
			if err != nil {
				return err
			}
			if err := transform(sess); err != nil {
				if errors.Is(err, errNoChange) {
					noChange = true
					updated = sess
					return nil
				}
				return err
			}

			next, err := json.Marshal(sess)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			if err != nil {
				return err
			}
			updated = sess
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !noChange {
			s.publish(ctx, code, updated)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("session %s: %w", code, redis.TxFailedErr)
}

// publish pushes the committed snapshot to subscribers. Delivery is
// best-effort; a publish failure never unwinds a committed mutation.
func (s *Store) publish(ctx context.Context, code string, sess *LiveSession) {
	payload, err := json.Marshal(sess)
	if err != nil {
		log.Printf("live: marshal snapshot for %s: %v", code, err)
		return
	}
	if err := s.client.Publish(ctx, s.channel(code), payload).Err(); err != nil {
		log.Printf("live: publish snapshot for %s: %v", code, err)
	}
}

// Subscribe delivers a full session snapshot after every committed
// mutation. The returned cancel func is idempotent and releases the
// underlying subscription; the channel closes once the subscription ends.
func (s *Store) Subscribe(ctx context.Context, code string) (<-chan *LiveSession, func(), error) {
	sub := s.client.Subscribe(ctx, s.channel(code))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe to session %s: %w", code, err)
	}

	out := make(chan *LiveSession, 8)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			sess, err := decodeSession([]byte(msg.Payload))
			if err != nil {
				log.Printf("live: decode snapshot for %s: %v", code, err)
				continue
			}
			select {
			case out <- sess:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = sub.Close() })
	}
	return out, cancel, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeSession(payload []byte) (*LiveSession, error) {
	var sess LiveSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	sess.normalize()
	return &sess, nil
}
