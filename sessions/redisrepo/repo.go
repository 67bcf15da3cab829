package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/redis/go-redis/v9"
)

// maxUpdateAttempts bounds optimistic retries when concurrent writers touch the same session.
const maxUpdateAttempts = 64

var _ sessions.Repo = (*Repo)(nil)

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Repo stores sessions as JSON documents under "<prefix>session:<id>" with a
// sliding TTL. Update runs as a WATCH/MULTI transaction on the session key.
type Repo struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

func NewRepo(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Repo {
	return &Repo{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (r *Repo) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, errors.New("sessionID is required")
	}
	return r.load(ctx, r.client, sessionID)
}

func (r *Repo) Save(ctx context.Context, session *sessions.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session with an ID is required")
	}
	data, err := r.encode(session)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(session.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, sessionID string, fn func(*sessions.Session) error) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, errors.New("sessionID is required")
	}
	key := r.key(sessionID)

	var updated *sessions.Session
	txf := func(tx *redis.Tx) error {
		session, err := r.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		session.ID = sessionID
		data, err := r.encode(session)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err == nil {
			updated = session
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("session %s: too many concurrent updates", sessionID)
}

func (r *Repo) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *Repo) load(ctx context.Context, c getter, sessionID string) (*sessions.Session, error) {
	data, err := c.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, autherrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var session sessions.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (r *Repo) encode(session *sessions.Session) ([]byte, error) {
	stored := *session
	stored.UpdatedAt = r.now()
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func (r *Repo) key(sessionID string) string {
	return r.keyPrefix + "session:" + sessionID
}
