package matchmaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepo_PendingIsFIFO(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		repo := newRepo(t)
		// 同一时刻按 id 排
		seed(t, repo,
			entry("e3", "l3", at(3)),
			entry("e1", "l1", at(1)),
			entry("e2b", "l2b", at(2)),
			entry("e2a", "l2a", at(2)),
		)
		assert.Equal(t, []string{"e1", "e2a", "e2b", "e3"}, pendingIDs(t, repo))

		got, err := repo.Pending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "l1", got[0].LobbyID)
		assert.Len(t, got[0].Members, 2)
		assert.True(t, got[0].CreatedAt.Equal(at(1)))
		assert.False(t, got[0].Processed)
	})
}

func TestRepo_EmptyQueue(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		repo := newRepo(t)
		list, err := repo.Pending(context.Background())
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestRepo_EnqueueRejectsDuplicateLobby(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		ctx := context.Background()
		repo := newRepo(t)
		seed(t, repo, entry("e1", "lobby", at(1)))

		err := repo.Enqueue(ctx, entry("e2", "lobby", at(2)))
		assert.ErrorIs(t, err, ErrAlreadyQueued)

		// 配对后同一大厅可以再次排队
		require.NoError(t, repo.Claim(ctx, "e1"))
		assert.NoError(t, repo.Enqueue(ctx, entry("e3", "lobby", at(3))))
		assert.Equal(t, []string{"e3"}, pendingIDs(t, repo))
	})
}

func TestRepo_ClaimIsAllOrNothing(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		ctx := context.Background()
		repo := newRepo(t)
		seed(t, repo,
			entry("a", "la", at(1)),
			entry("b", "lb", at(2)),
			entry("c", "lc", at(3)),
		)

		require.NoError(t, repo.Claim(ctx, "a", "b"))
		assert.Equal(t, []string{"c"}, pendingIDs(t, repo))

		// b 已被占用，c 不能被部分修改
		assert.ErrorIs(t, repo.Claim(ctx, "b", "c"), ErrAlreadyClaimed)
		assert.Equal(t, []string{"c"}, pendingIDs(t, repo))

		assert.ErrorIs(t, repo.Claim(ctx, "c", "missing"), ErrAlreadyClaimed)
		assert.Equal(t, []string{"c"}, pendingIDs(t, repo))

		_, err := repo.PendingByLobby(ctx, "la")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepo_ReleaseRestoresEntries(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		ctx := context.Background()
		repo := newRepo(t)
		seed(t, repo, entry("a", "la", at(1)), entry("b", "lb", at(2)))

		require.NoError(t, repo.Claim(ctx, "a", "b"))
		require.NoError(t, repo.Release(ctx, "a", "b"))
		assert.Equal(t, []string{"a", "b"}, pendingIDs(t, repo))

		e, err := repo.PendingByLobby(ctx, "la")
		require.NoError(t, err)
		assert.Equal(t, "a", e.ID)
		assert.False(t, e.Processed)
		assert.Nil(t, e.ProcessedAt)

		// 大厅索引也恢复了
		assert.ErrorIs(t, repo.Enqueue(ctx, entry("a2", "la", at(3))), ErrAlreadyQueued)
	})
}

func TestRepo_DeleteAndCancel(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		ctx := context.Background()
		repo := newRepo(t)
		seed(t, repo, entry("a", "la", at(1)), entry("b", "lb", at(2)), entry("c", "lc", at(3)))

		require.NoError(t, repo.Claim(ctx, "a", "b"))
		require.NoError(t, repo.Delete(ctx, "a", "b"))
		assert.Equal(t, []string{"c"}, pendingIDs(t, repo))

		require.NoError(t, repo.Cancel(ctx, "lc"))
		assert.Empty(t, pendingIDs(t, repo))
		assert.ErrorIs(t, repo.Cancel(ctx, "lc"), ErrNotFound)

		_, err := repo.PendingByLobby(ctx, "lc")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepo_CancelIgnoresClaimedLobby(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		ctx := context.Background()
		repo := newRepo(t)
		seed(t, repo, entry("a", "la", at(1)), entry("b", "lb", at(2)))
		require.NoError(t, repo.Claim(ctx, "a", "b"))

		assert.ErrorIs(t, repo.Cancel(ctx, "la"), ErrNotFound)
	})
}

func TestRepo_Matches(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		ctx := context.Background()
		repo := newRepo(t)
		a, b := entry("a", "la", at(1)), entry("b", "lb", at(2))
		m := buildMatch("m-1", KeyOf(a), a, b, at(5))
		require.NoError(t, repo.SaveMatch(ctx, m))

		got, err := repo.GetMatch(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, "la", got.LobbyA)
		assert.Equal(t, "lb", got.LobbyB)
		assert.Len(t, got.Players, 4)
		assert.Equal(t, "lb", got.Players[3].LobbyID)
		assert.Equal(t, MatchPending, got.Status)
		assert.True(t, got.CreatedAt.Equal(at(5)))

		_, err = repo.GetMatch(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepo_Notifications(t *testing.T) {
	eachBackend(t, func(t *testing.T, newRepo repoFactory) {
		ctx := context.Background()
		repo := newRepo(t)
		for i, id := range []string{"n1", "n2", "n3"} {
			require.NoError(t, repo.SaveNotification(ctx, &Notification{
				ID: id, RecipientID: "alice", Type: NotificationMatchFound,
				MatchID: "m-" + id, Title: "Match found", Message: "hi", CreatedAt: at(i),
			}))
		}
		require.NoError(t, repo.SaveNotification(ctx, &Notification{
			ID: "other", RecipientID: "bob", Type: NotificationMatchFound, Title: "t", Message: "m", CreatedAt: at(9),
		}))

		list, err := repo.Notifications(ctx, "alice", 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "n3", list[0].ID)
		assert.Equal(t, "n2", list[1].ID)

		// 不能标记别人的通知
		assert.ErrorIs(t, repo.MarkRead(ctx, "alice", "other"), ErrNotFound)
		assert.ErrorIs(t, repo.MarkRead(ctx, "alice", "missing"), ErrNotFound)

		require.NoError(t, repo.MarkRead(ctx, "alice", "n1"))
		list, err = repo.Notifications(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.True(t, list[2].Read)
		assert.False(t, list[0].Read)

		list, err = repo.Notifications(ctx, "nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}
