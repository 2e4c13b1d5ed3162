package stats_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/stats"
)

func TestStore_Record(t *testing.T) {
	stores := map[string]func(t *testing.T) stats.Store{
		"memory": func(*testing.T) stats.Store { return stats.NewMemoryStore() },
		"file": func(t *testing.T) stats.Store {
			s, err := stats.NewFileStore(filepath.Join(t.TempDir(), "users.json"))
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) stats.Store { return stats.NewRedisStore(makeRedis(t), "quiz") },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, err := s.Get(ctx, "42")
			require.True(t, errors.HasCode(err, errors.CodeNotFound))

			got, err := s.Record(ctx, "42", "alice", true)
			require.NoError(t, err)
			assert.Equal(t, domain.UserStat{UserID: "42", DisplayName: "alice", Correct: 1, Total: 1}, got)

			got, err = s.Record(ctx, "42", "", false)
			require.NoError(t, err)
			assert.Equal(t, domain.UserStat{UserID: "42", DisplayName: "alice", Correct: 1, Total: 2}, got)

			_, err = s.Record(ctx, "7", "bob", false)
			require.NoError(t, err)

			got, err = s.Get(ctx, "42")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Total)
			assert.Equal(t, 1, got.Correct)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestStore_ConcurrentRecordsAreNotLost(t *testing.T) {
	stores := map[string]stats.Store{
		"memory": stats.NewMemoryStore(),
		"redis":  stats.NewRedisStore(makeRedis(t), "quiz"),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Record(ctx, "u1", "u1", i%2 == 0)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 50, got.Total)
			assert.Equal(t, 25, got.Correct)
		})
	}
}

func TestFileStore_Reload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.json")

	s, err := stats.NewFileStore(path)
	require.NoError(t, err)
	_, err = s.Record(ctx, "42", "alice", true)
	require.NoError(t, err)

	reopened, err := stats.NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.UserStat{UserID: "42", DisplayName: "alice", Correct: 1, Total: 1}, got)
}

func makeRedis(t *testing.T) redis.UniversalClient {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return rc
}
