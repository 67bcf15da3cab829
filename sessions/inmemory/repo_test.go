package inmemory_test

import (
	"context"
	"testing"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/jrsteele09/go-auth-gate/sessions/inmemory"
	"github.com/jrsteele09/go-auth-gate/sessions/sessionstest"
	"github.com/stretchr/testify/require"
)

func TestRepoContract(t *testing.T) {
	sessionstest.RunRepoContract(t, func(*testing.T) sessions.Repo {
		return inmemory.NewRepo(time.Hour)
	})
}

func TestSessionsExpire(t *testing.T) {
	repo := inmemory.NewRepo(20 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sessions.New("sid", time.Now())))

	require.Eventually(t, func() bool {
		_, err := repo.Get(ctx, "sid")
		return autherrors.Is(err, autherrors.ErrSessionNotFound)
	}, time.Second, 10*time.Millisecond)
}
