package matchmaker

import (
	ws "StakeArena/internal/websocket"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"StakeArena/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// MockHub 记录 BroadcastToPlayers 的调用
type MockHub struct {
	mu    sync.Mutex
	calls []hubCall
}

type hubCall struct {
	addrs []string
	msg   ws.OutgoingMessage
}

func NewMockHub() *MockHub { return &MockHub{} }

func (m *MockHub) BroadcastToPlayers(addrs []string, msg ws.OutgoingMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, hubCall{addrs: append([]string(nil), addrs...), msg: msg})
}

func (m *MockHub) Calls() []hubCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hubCall(nil), m.calls...)
}

// GetMsg 地址收到的最后一条消息
func (m *MockHub) GetMsg(addr string) (ws.OutgoingMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		for _, a := range m.calls[i].addrs {
			if strings.EqualFold(a, addr) {
				return m.calls[i].msg, true
			}
		}
	}
	return ws.OutgoingMessage{}, false
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// at 返回 t0 之后第 n 秒
func at(n int) time.Time { return t0.Add(time.Duration(n) * time.Second) }

type entryOpt func(*QueueEntry)

func withKey(gameType string, size int, platform, mode string) entryOpt {
	return func(e *QueueEntry) {
		e.GameType, e.TeamSize, e.Platform, e.Mode = gameType, size, platform, mode
	}
}

func entry(id, lobby string, created time.Time, opts ...entryOpt) *QueueEntry {
	e := &QueueEntry{
		ID:      id,
		LobbyID: lobby,
		OwnerID: "owner-" + lobby,
		Members: []Member{
			{ID: "owner-" + lobby, Name: "Owner " + lobby},
			{ID: "mate-" + lobby, Name: "Mate " + lobby},
		},
		CreatedAt: created,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func seed(t *testing.T, repo Repo, entries ...*QueueEntry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, repo.Enqueue(context.Background(), e))
	}
}

func pendingIDs(t *testing.T, repo Repo) []string {
	t.Helper()
	list, err := repo.Pending(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.ID
	}
	return ids
}

type repoFactory func(t *testing.T) Repo

// backends 内存与 miniredis 总是测试；Postgres / Mongo 需设置
// STAKEARENA_TEST_PG_DSN / STAKEARENA_TEST_MONGO_URI
func backends() map[string]repoFactory {
	b := map[string]repoFactory{
		"memory": func(t *testing.T) Repo { return NewMemoryRepo() },
		"redis": func(t *testing.T) Repo {
			mr, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(mr.Close)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisRepo(rdb, 0)
		},
	}
	if dsn := os.Getenv("STAKEARENA_TEST_PG_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Repo {
			ctx := context.Background()
			db, err := storage.NewPostgres(ctx, dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			require.NoError(t, Migrate(ctx, db))
			_, err = db.ExecContext(ctx, `TRUNCATE mm_queue_entries, mm_matches, mm_notifications`)
			require.NoError(t, err)
			return NewPostgresRepo(db)
		}
	}
	if uri := os.Getenv("STAKEARENA_TEST_MONGO_URI"); uri != "" {
		b["mongo"] = func(t *testing.T) Repo {
			ctx := context.Background()
			db, err := storage.NewMongo(ctx, uri, "stakearena_test")
			require.NoError(t, err)
			require.NoError(t, db.Drop(ctx))
			t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })
			require.NoError(t, EnsureMongoIndexes(ctx, db))
			return NewMongoRepo(db)
		}
	}
	return b
}

// eachBackend 对每个存储实现运行同一组用例
func eachBackend(t *testing.T, fn func(t *testing.T, newRepo repoFactory)) {
	for name, f := range backends() {
		f := f
		t.Run(name, func(t *testing.T) { fn(t, f) })
	}
}
