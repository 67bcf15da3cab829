// Package sessionstest holds the behaviour every sessions.Repo must share.
package sessionstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRepoContract exercises repo against the sessions.Repo contract.
func RunRepoContract(t *testing.T, newRepo func(t *testing.T) sessions.Repo) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "nope")
		require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		repo := newRepo(t)
		s := sessions.New("sid-1", time.Now())
		s.PendingFlow = &sessions.PendingFlow{Verifier: "v", CSRFToken: "c", ExpectedRedirectTarget: "/x"}
		require.NoError(t, repo.Save(ctx, s))

		got, err := repo.Get(ctx, "sid-1")
		require.NoError(t, err)
		require.Equal(t, "sid-1", got.ID)
		require.NotNil(t, got.PendingFlow)
		require.Equal(t, "v", got.PendingFlow.Verifier)
		require.Equal(t, "/x", got.PendingFlow.ExpectedRedirectTarget)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		repo := newRepo(t)
		s := sessions.New("sid-1", time.Now())
		s.PendingFlow = &sessions.PendingFlow{Verifier: "v"}
		require.NoError(t, repo.Save(ctx, s))
		s.PendingFlow.Verifier = "changed after save"

		got, err := repo.Get(ctx, "sid-1")
		require.NoError(t, err)
		got.PendingFlow.Verifier = "changed after get"

		again, err := repo.Get(ctx, "sid-1")
		require.NoError(t, err)
		require.Equal(t, "v", again.PendingFlow.Verifier)
	})

	t.Run("update applies", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, sessions.New("sid-1", time.Now())))

		updated, err := repo.Update(ctx, "sid-1", func(s *sessions.Session) error {
			return s.Authenticate(&sessions.Identity{AccountID: "acc"}, &sessions.Tokens{AccessToken: "at"})
		})
		require.NoError(t, err)
		require.True(t, updated.IsAuthenticated())

		got, err := repo.Get(ctx, "sid-1")
		require.NoError(t, err)
		require.True(t, got.IsAuthenticated())
		require.Equal(t, "at", got.Tokens.AccessToken)
	})

	t.Run("update error writes nothing", func(t *testing.T) {
		repo := newRepo(t)
		s := sessions.New("sid-1", time.Now())
		s.PendingFlow = &sessions.PendingFlow{Verifier: "v"}
		require.NoError(t, repo.Save(ctx, s))

		boom := errors.New("boom")
		_, err := repo.Update(ctx, "sid-1", func(s *sessions.Session) error {
			s.PendingFlow = nil
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := repo.Get(ctx, "sid-1")
		require.NoError(t, err)
		require.NotNil(t, got.PendingFlow)
	})

	t.Run("update missing", func(t *testing.T) {
		repo := newRepo(t)
		called := false
		_, err := repo.Update(ctx, "nope", func(*sessions.Session) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
		require.False(t, called)
	})

	t.Run("pending flow taken once", func(t *testing.T) {
		repo := newRepo(t)
		s := sessions.New("sid-1", time.Now())
		s.PendingFlow = &sessions.PendingFlow{Verifier: "v"}
		require.NoError(t, repo.Save(ctx, s))

		var mu sync.Mutex
		taken := 0
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got := false
				_, err := repo.Update(ctx, "sid-1", func(s *sessions.Session) error {
					// fn may run more than once when a backend retries.
					got = s.TakePendingFlow() != nil
					return nil
				})
				assert.NoError(t, err)
				if got {
					mu.Lock()
					taken++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, taken)
	})

	t.Run("concurrent updates are not lost", func(t *testing.T) {
		repo := newRepo(t)
		s := sessions.New("sid-1", time.Now())
		s.Identity = &sessions.Identity{AccountID: "acc"}
		require.NoError(t, repo.Save(ctx, s))

		const writers = 10
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Update(ctx, "sid-1", func(s *sessions.Session) error {
					s.Identity.Roles = append(s.Identity.Roles, fmt.Sprintf("r%d", i))
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.Get(ctx, "sid-1")
		require.NoError(t, err)
		require.Len(t, got.Identity.Roles, writers)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, sessions.New("sid-1", time.Now())))
		require.NoError(t, repo.Delete(ctx, "sid-1"))
		require.NoError(t, repo.Delete(ctx, "sid-1"))
		require.NoError(t, repo.Delete(ctx, ""))

		_, err := repo.Get(ctx, "sid-1")
		require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
	})

	t.Run("sessions are independent", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, sessions.New("a", time.Now())))
		require.NoError(t, repo.Save(ctx, sessions.New("b", time.Now())))
		require.NoError(t, repo.Delete(ctx, "a"))

		_, err := repo.Get(ctx, "b")
		require.NoError(t, err)
	})
}
