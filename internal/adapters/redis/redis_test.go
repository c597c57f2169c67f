package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/biosim/internal/adapters/redis"
	"github.com/san-kum/biosim/internal/progress"
)

func setup(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLatestProgress(t *testing.T) {
	mr, client := setup(t)
	bus := redis.New(client, "decay")
	ctx := context.Background()

	_, err := bus.Latest(ctx)
	assert.ErrorIs(t, err, redis.ErrNoProgress)

	bus.Report(progress.Update{Run: 1, Time: 5, Fraction: 0.5, Status: progress.Title(0.5)})

	u, err := bus.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Run)
	assert.Equal(t, 0.5, u.Fraction)
	assert.Equal(t, "Progress (50%)", u.Status)
	assert.True(t, mr.Exists(redis.DefaultPrefix+"latest:decay"))
}

func TestPrefix(t *testing.T) {
	mr, client := setup(t)
	bus := redis.New(client, "decay", redis.WithPrefix("test:"))
	bus.Report(progress.Update{Run: 1})

	assert.True(t, mr.Exists("test:latest:decay"))
	assert.False(t, mr.Exists(redis.DefaultPrefix+"latest:decay"))
}

func TestSubscribe(t *testing.T) {
	_, client := setup(t)
	bus := redis.New(client, "decay")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	bus.Report(progress.Update{Run: 2, Time: 1, Done: true})

	select {
	case u := <-updates:
		assert.Equal(t, 2, u.Run)
		assert.True(t, u.Done)
	case <-ctx.Done():
		t.Fatal("no update received")
	}
}

func TestRemoteCancel(t *testing.T) {
	_, client := setup(t)
	watcher := redis.New(client, "decay")
	requester := redis.New(client, "decay")
	ctx := context.Background()

	token := progress.NewToken()
	stop, err := watcher.WatchCancel(ctx, token)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, requester.RequestCancel(ctx))
	assert.Eventually(t, token.Canceled, 5*time.Second, 10*time.Millisecond)
}

func TestCancelForOtherNameIsIgnored(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()

	token := progress.NewToken()
	stop, err := redis.New(client, "decay").WatchCancel(ctx, token)
	require.NoError(t, err)

	require.NoError(t, redis.New(client, "other").RequestCancel(ctx))
	time.Sleep(50 * time.Millisecond)
	stop()
	assert.False(t, token.Canceled())
}
