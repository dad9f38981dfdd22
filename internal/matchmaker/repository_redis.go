package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRepo struct {
	rdb      *redis.Client
	entryTTL time.Duration
}

// NewRedisRepo entryTTL 为 0 时条目不过期。过期只在 Redis 后端生效，其他后端的条目一直排队到被配对或取消
func NewRedisRepo(rdb *redis.Client, entryTTL time.Duration) Repo {
	return &redisRepo{rdb: rdb, entryTTL: entryTTL}
}

// key 约定（统一 {mm} hash tag，脚本和 MULTI 涉及的 key 在 Cluster 中落在同一个 slot）：
//
//	zset: {mm}:queue                 -> 未处理条目 id，score = CreatedAt 毫秒
//	hash: {mm}:entry:<id>            -> data(JSON) / lobby / score / processed("0"|"1") / processedAt
//	kv  : {mm}:lobby:<lobbyId>       -> 大厅当前未处理条目 id（入队去重 + 取消定位）
//	kv  : {mm}:match:<id>            -> Match JSON
//	kv  : {mm}:notify:<id>           -> Notification JSON
//	zset: {mm}:inbox:<memberId>      -> 通知 id，score = CreatedAt 毫秒
const queueKey = "{mm}:queue"

func entryKey(id string) string      { return fmt.Sprintf("{mm}:entry:%s", id) }
func lobbyKey(lobbyID string) string { return fmt.Sprintf("{mm}:lobby:%s", lobbyID) }
func matchKey(id string) string      { return fmt.Sprintf("{mm}:match:%s", id) }
func notifyKey(id string) string     { return fmt.Sprintf("{mm}:notify:%s", id) }
func inboxKey(memberID string) string {
	return fmt.Sprintf("{mm}:inbox:%s", memberID)
}

func (r *redisRepo) Enqueue(ctx context.Context, e *QueueEntry) error {
	ok, err := r.rdb.SetNX(ctx, lobbyKey(e.LobbyID), e.ID, r.entryTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyQueued
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	score := e.CreatedAt.UnixMilli()
	p := r.rdb.TxPipeline()
	p.HSet(ctx, entryKey(e.ID),
		"data", data,
		"lobby", e.LobbyID,
		"score", score,
		"processed", "0",
	)
	if r.entryTTL > 0 {
		p.Expire(ctx, entryKey(e.ID), r.entryTTL)
	}
	p.ZAdd(ctx, queueKey, redis.Z{Score: float64(score), Member: e.ID})
	if _, err := p.Exec(ctx); err != nil {
		_ = r.rdb.Del(ctx, lobbyKey(e.LobbyID)).Err()
		return err
	}
	return nil
}

func (r *redisRepo) loadEntries(ctx context.Context, ids []string) ([]*QueueEntry, []string, error) {
	p := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = p.HGetAll(ctx, entryKey(id))
	}
	if _, err := p.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}

	out := make([]*QueueEntry, 0, len(ids))
	var missing []string
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			missing = append(missing, ids[i])
			continue
		}
		var e QueueEntry
		if err := json.Unmarshal([]byte(fields["data"]), &e); err != nil {
			return nil, nil, fmt.Errorf("decode entry %s: %w", ids[i], err)
		}
		e.Processed = fields["processed"] == "1"
		if ms, err := strconv.ParseInt(fields["processedAt"], 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			e.ProcessedAt = &t
		}
		out = append(out, &e)
	}
	return out, missing, nil
}

func (r *redisRepo) Pending(ctx context.Context) ([]*QueueEntry, error) {
	ids, err := r.rdb.ZRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*QueueEntry{}, nil
	}
	entries, missing, err := r.loadEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	// 条目 TTL 到期后 hash 已消失，顺手清理 zset
	if len(missing) > 0 {
		members := make([]interface{}, len(missing))
		for i, id := range missing {
			members[i] = id
		}
		_ = r.rdb.ZRem(ctx, queueKey, members...).Err()
	}

	out := entries[:0]
	for _, e := range entries {
		if !e.Processed {
			out = append(out, e)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (r *redisRepo) PendingByLobby(ctx context.Context, lobbyID string) (*QueueEntry, error) {
	id, err := r.rdb.Get(ctx, lobbyKey(lobbyID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entries, _, err := r.loadEntries(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || entries[0].Processed {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// lobbiesOf 读取各条目所属大厅；lobby 字段写入后不再修改，脚本外读取是安全的。
// 条目不存在时对应位置为空串
func (r *redisRepo) lobbiesOf(ctx context.Context, ids []string) ([]string, error) {
	p := r.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = p.HGet(ctx, entryKey(id), "lobby")
	}
	if _, err := p.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

// KEYS = queue key, n 个 entry hash key, n 个 lobby key；ARGV[1] = processedAt, ARGV[2..] = ids
// 先检查全部条目，再统一修改，整个脚本在 Redis 中原子执行
var claimScript = redis.NewScript(`
local n = (#KEYS - 1) / 2
for i = 1, n do
    if redis.call("HGET", KEYS[1 + i], "processed") ~= "0" then
        return 0
    end
end
for i = 1, n do
    local id = ARGV[i + 1]
    redis.call("HSET", KEYS[1 + i], "processed", "1", "processedAt", ARGV[1])
    redis.call("ZREM", KEYS[1], id)
    local lk = KEYS[1 + n + i]
    if redis.call("GET", lk) == id then
        redis.call("DEL", lk)
    end
end
return 1
`)

func (r *redisRepo) Claim(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	lobbies, err := r.lobbiesOf(ctx, ids)
	if err != nil {
		return err
	}
	keys := make([]string, 0, 2*len(ids)+1)
	keys = append(keys, queueKey)
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, time.Now().UTC().UnixMilli())
	for i, id := range ids {
		if lobbies[i] == "" {
			return ErrAlreadyClaimed
		}
		keys = append(keys, entryKey(id))
		args = append(args, id)
	}
	for _, l := range lobbies {
		keys = append(keys, lobbyKey(l))
	}
	ok, err := claimScript.Run(ctx, r.rdb, keys, args...).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// KEYS = queue key, n 个 entry hash key, n 个 lobby key；ARGV[1] = lobby ttl ms, ARGV[2..] = ids
var releaseScript = redis.NewScript(`
local n = (#KEYS - 1) / 2
for i = 1, n do
    local key = KEYS[1 + i]
    local id = ARGV[i + 1]
    if redis.call("HGET", key, "processed") == "1" then
        redis.call("HSET", key, "processed", "0")
        redis.call("HDEL", key, "processedAt")
        redis.call("ZADD", KEYS[1], redis.call("HGET", key, "score"), id)
        local lk = KEYS[1 + n + i]
        if tonumber(ARGV[1]) > 0 then
            redis.call("SET", lk, id, "NX", "PX", ARGV[1])
        else
            redis.call("SET", lk, id, "NX")
        end
    end
end
return 1
`)

func (r *redisRepo) Release(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	lobbies, err := r.lobbiesOf(ctx, ids)
	if err != nil {
		return err
	}
	// 已不存在的条目（被删除或过期）没有可归还的
	var live, liveLobbies []string
	for i, id := range ids {
		if lobbies[i] != "" {
			live = append(live, id)
			liveLobbies = append(liveLobbies, lobbies[i])
		}
	}
	if len(live) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(live)+1)
	keys = append(keys, queueKey)
	args := make([]interface{}, 0, len(live)+1)
	args = append(args, r.entryTTL.Milliseconds())
	for _, id := range live {
		keys = append(keys, entryKey(id))
		args = append(args, id)
	}
	for _, l := range liveLobbies {
		keys = append(keys, lobbyKey(l))
	}
	return releaseScript.Run(ctx, r.rdb, keys, args...).Err()
}

func (r *redisRepo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	p := r.rdb.TxPipeline()
	for _, id := range ids {
		p.Del(ctx, entryKey(id))
		p.ZRem(ctx, queueKey, id)
	}
	_, err := p.Exec(ctx)
	return err
}

// KEYS[1] = lobby key, KEYS[2] = queue key, KEYS[3] = entry key, ARGV[1] = entry id
// 只删除仍未处理、且大厅仍指向该条目的情况；否则返回 0
var cancelScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
    return 0
end
if redis.call("HGET", KEYS[3], "processed") == "1" then
    return 0
end
redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[3])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

func (r *redisRepo) Cancel(ctx context.Context, lobbyID string) error {
	id, err := r.rdb.Get(ctx, lobbyKey(lobbyID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	n, err := cancelScript.Run(ctx, r.rdb, []string{lobbyKey(lobbyID), queueKey, entryKey(id)}, id).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisRepo) SaveMatch(ctx context.Context, m *Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, matchKey(m.ID), data, 0).Err()
}

func (r *redisRepo) GetMatch(ctx context.Context, id string) (*Match, error) {
	data, err := r.rdb.Get(ctx, matchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m Match
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *redisRepo) SaveNotification(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	p := r.rdb.TxPipeline()
	p.Set(ctx, notifyKey(n.ID), data, 0)
	p.ZAdd(ctx, inboxKey(n.RecipientID), redis.Z{Score: float64(n.CreatedAt.UnixMilli()), Member: n.ID})
	_, err = p.Exec(ctx)
	return err
}

func (r *redisRepo) Notifications(ctx context.Context, memberID string, limit int) ([]*Notification, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, inboxKey(memberID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Notification, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = notifyKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, nil
}

func (r *redisRepo) MarkRead(ctx context.Context, memberID, id string) error {
	data, err := r.rdb.Get(ctx, notifyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n.RecipientID != memberID {
		return ErrNotFound
	}
	if n.Read {
		return nil
	}
	n.Read = true
	data, err = json.Marshal(&n)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, notifyKey(id), data, redis.KeepTTL).Err()
}
