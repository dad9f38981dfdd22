package matchmaker

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memRepo struct {
	mu      sync.Mutex
	entries map[string]*QueueEntry     // id -> entry
	lobbies map[string]string          // lobbyID -> 未处理条目 id
	matches map[string]*Match          // id -> match
	inbox   map[string][]*Notification // memberID -> 通知，按写入顺序
}

// NewMemoryRepo 单进程内存实现，忽略 TTL，仅供测试和本地调试
func NewMemoryRepo() Repo {
	return &memRepo{
		entries: make(map[string]*QueueEntry),
		lobbies: make(map[string]string),
		matches: make(map[string]*Match),
		inbox:   make(map[string][]*Notification),
	}
}

func cloneEntry(e *QueueEntry) *QueueEntry {
	c := *e
	c.Members = append([]Member(nil), e.Members...)
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

func (m *memRepo) Enqueue(ctx context.Context, e *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lobbies[e.LobbyID]; ok {
		return ErrAlreadyQueued
	}
	m.entries[e.ID] = cloneEntry(e)
	m.lobbies[e.LobbyID] = e.ID
	return nil
}

func (m *memRepo) Pending(ctx context.Context) ([]*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*QueueEntry, 0, len(m.lobbies))
	for _, e := range m.entries {
		if !e.Processed {
			out = append(out, cloneEntry(e))
		}
	}
	sortFIFO(out)
	return out, nil
}

func (m *memRepo) PendingByLobby(ctx context.Context, lobbyID string) (*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(m.entries[id]), nil
}

func (m *memRepo) Claim(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok || e.Processed {
			return ErrAlreadyClaimed
		}
	}
	now := time.Now().UTC()
	for _, id := range ids {
		e := m.entries[id]
		e.Processed = true
		e.ProcessedAt = &now
		delete(m.lobbies, e.LobbyID)
	}
	return nil
}

func (m *memRepo) Release(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok || !e.Processed {
			continue
		}
		e.Processed = false
		e.ProcessedAt = nil
		if _, taken := m.lobbies[e.LobbyID]; !taken {
			m.lobbies[e.LobbyID] = id
		}
	}
	return nil
}

func (m *memRepo) Delete(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		if m.lobbies[e.LobbyID] == id {
			delete(m.lobbies, e.LobbyID)
		}
		delete(m.entries, id)
	}
	return nil
}

func (m *memRepo) Cancel(ctx context.Context, lobbyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.lobbies[lobbyID]
	if !ok {
		return ErrNotFound
	}
	delete(m.lobbies, lobbyID)
	delete(m.entries, id)
	return nil
}

func (m *memRepo) SaveMatch(ctx context.Context, match *Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *match
	c.Players = append([]MatchPlayer(nil), match.Players...)
	m.matches[match.ID] = &c
	return nil
}

func (m *memRepo) GetMatch(ctx context.Context, id string) (*Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *match
	c.Players = append([]MatchPlayer(nil), match.Players...)
	return &c, nil
}

func (m *memRepo) SaveNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.inbox[n.RecipientID] = append(m.inbox[n.RecipientID], &c)
	return nil
}

func (m *memRepo) Notifications(ctx context.Context, memberID string, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.inbox[memberID]
	out := make([]*Notification, 0, len(list))
	for _, n := range list {
		c := *n
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) MarkRead(ctx context.Context, memberID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.inbox[memberID] {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return ErrNotFound
}
