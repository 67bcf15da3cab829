package inmemory

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
	gocache "github.com/patrickmn/go-cache"
)

const lockShards = 64

var _ sessions.Repo = (*Repo)(nil)

// Repo is a process-local session store with sliding expiry. Writes to the
// same session serialise on one of a fixed set of lock shards.
type Repo struct {
	cache *gocache.Cache
	locks [lockShards]sync.Mutex
	now   func() time.Time
}

// NewRepo creates a repo whose sessions expire ttl after their last write.
func NewRepo(ttl time.Duration) *Repo {
	return &Repo{
		cache: gocache.New(ttl, time.Minute),
		now:   time.Now,
	}
}

func (r *Repo) Get(_ context.Context, sessionID string) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, errors.New("sessionID is required")
	}
	v, ok := r.cache.Get(sessionID)
	if !ok {
		return nil, autherrors.ErrSessionNotFound
	}
	return v.(*sessions.Session).Clone(), nil
}

func (r *Repo) Save(_ context.Context, session *sessions.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session with an ID is required")
	}
	mu := r.lock(session.ID)
	mu.Lock()
	defer mu.Unlock()

	r.store(session)
	return nil
}

func (r *Repo) Update(_ context.Context, sessionID string, fn func(*sessions.Session) error) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, errors.New("sessionID is required")
	}
	mu := r.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	v, ok := r.cache.Get(sessionID)
	if !ok {
		return nil, autherrors.ErrSessionNotFound
	}
	session := v.(*sessions.Session).Clone()
	if err := fn(session); err != nil {
		return nil, err
	}
	session.ID = sessionID
	r.store(session)
	return session.Clone(), nil
}

func (r *Repo) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	mu := r.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	r.cache.Delete(sessionID)
	return nil
}

// store must be called with the session's shard lock held.
func (r *Repo) store(session *sessions.Session) {
	stored := session.Clone()
	stored.UpdatedAt = r.now()
	r.cache.Set(stored.ID, stored, gocache.DefaultExpiration)
}

func (r *Repo) lock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &r.locks[h.Sum32()%lockShards]
}
