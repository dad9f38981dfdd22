package matchmaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisRepo(t *testing.T, entryTTL time.Duration) (*miniredis.Miniredis, Repo) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisRepo(rdb, entryTTL)
}

// 所有 key 共享 {mm} hash tag，Lua 脚本只通过 KEYS 访问它们
func TestRedisRepo_KeysShareHashTag(t *testing.T) {
	ctx := context.Background()
	mr, repo := newMiniRedisRepo(t, 0)
	seed(t, repo, entry("a", "la", at(1)), entry("b", "lb", at(2)))

	assert.True(t, mr.Exists("{mm}:queue"))
	assert.True(t, mr.Exists("{mm}:entry:a"))
	assert.True(t, mr.Exists("{mm}:lobby:la"))
	for _, k := range mr.Keys() {
		assert.Contains(t, k, "{mm}:")
	}

	require.NoError(t, repo.Claim(ctx, "a", "b"))
	assert.False(t, mr.Exists("{mm}:lobby:la"))
	assert.Equal(t, "1", mr.HGet("{mm}:entry:a", "processed"))

	require.NoError(t, repo.Release(ctx, "a", "b", "gone"))
	got, err := mr.Get("{mm}:lobby:la")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	assert.Equal(t, []string{"a", "b"}, pendingIDs(t, repo))
}

func TestRedisRepo_EntryTTL(t *testing.T) {
	ctx := context.Background()
	mr, repo := newMiniRedisRepo(t, time.Minute)
	seed(t, repo, entry("a", "la", at(1)))

	mr.FastForward(2 * time.Minute)
	assert.Empty(t, pendingIDs(t, repo))
	assert.False(t, mr.Exists("{mm}:queue"), "expired ids are pruned from the queue")

	// 过期后同一大厅可以重新排队
	assert.NoError(t, repo.Enqueue(ctx, entry("a2", "la", at(3))))
}
