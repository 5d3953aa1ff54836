package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/risebridge/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "risebridge.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

// REDIS_ADDR points the suite at a live server; the redis case is skipped otherwise.
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	store := NewRedis(redis.NewClient(&redis.Options{Addr: addr}))
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInstallationStores(t *testing.T) {
	stores := map[string]func(t *testing.T) InstallationStore{
		"memory": func(*testing.T) InstallationStore { return NewMemory() },
		"sqlite": func(t *testing.T) InstallationStore { return newSQLiteStore(t) },
		"redis":  func(t *testing.T) InstallationStore { return newRedisStore(t) },
	}

	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing returns nil", func(t *testing.T) {
				store := factory(t)
				inst, err := store.Get(context.Background(), "missing-"+name)
				require.NoError(t, err)
				assert.Nil(t, inst)
			})

			t.Run("put overwrites by instance id", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()
				now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				id := "inst-overwrite-" + name

				require.NoError(t, store.Put(ctx, &models.Installation{
					InstanceID: id, AccessToken: "T1", TokenType: "Bearer",
					ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
				}))
				require.NoError(t, store.Put(ctx, &models.Installation{
					InstanceID: id, AccessToken: "T2", TokenType: "Bearer",
					ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now, UpdatedAt: now.Add(time.Hour),
				}))

				inst, err := store.Get(ctx, id)
				require.NoError(t, err)
				require.NotNil(t, inst)
				assert.Equal(t, "T2", inst.AccessToken)
				assert.True(t, inst.ExpiresAt.Equal(now.Add(2*time.Hour)))
				assert.True(t, inst.CreatedAt.Equal(now))

				list, err := store.List(ctx)
				require.NoError(t, err)
				count := 0
				for _, l := range list {
					if l.InstanceID == id {
						count++
					}
				}
				assert.Equal(t, 1, count)
				require.NoError(t, store.Delete(ctx, id))
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				store := factory(t)
				ctx := context.Background()
				id := "inst-delete-" + name
				require.NoError(t, store.Put(ctx, &models.Installation{InstanceID: id, AccessToken: "T1"}))

				require.NoError(t, store.Delete(ctx, id))
				require.NoError(t, store.Delete(ctx, id))

				inst, err := store.Get(ctx, id)
				require.NoError(t, err)
				assert.Nil(t, inst)
			})
		})
	}
}
