package matchmaker

import "context"

// Repo 队列、对局、通知三个存储的抽象
type Repo interface {
	// Enqueue 写入新的队列条目；同一大厅已有未处理条目时返回 ErrAlreadyQueued
	Enqueue(ctx context.Context, e *QueueEntry) error
	// Pending 返回全部未处理条目，CreatedAt 升序（同一时刻按 ID）
	Pending(ctx context.Context) ([]*QueueEntry, error)
	// PendingByLobby 返回大厅当前未处理的条目，没有则 ErrNotFound
	PendingByLobby(ctx context.Context, lobbyID string) (*QueueEntry, error)
	// Claim 原子地把所有 ids 置为已处理；只要有一个已被处理或不存在，就什么都不改并返回 ErrAlreadyClaimed
	Claim(ctx context.Context, ids ...string) error
	// Release 撤销 Claim（对局写入失败时使用）
	Release(ctx context.Context, ids ...string) error
	// Delete 删除条目（consumeMode=delete）
	Delete(ctx context.Context, ids ...string) error
	// Cancel 删除大厅的未处理条目，没有则 ErrNotFound
	Cancel(ctx context.Context, lobbyID string) error

	SaveMatch(ctx context.Context, m *Match) error
	GetMatch(ctx context.Context, id string) (*Match, error)

	SaveNotification(ctx context.Context, n *Notification) error
	// Notifications 返回成员最新的 limit 条通知，新的在前
	Notifications(ctx context.Context, memberID string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, memberID, id string) error
}
