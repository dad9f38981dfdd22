package matchmaker

import (
	"StakeArena/internal/utils"
	"StakeArena/internal/websocket"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type ConsumeMode string

const (
	ConsumeMark   ConsumeMode = "mark"   // 条目置 processed=true 保留
	ConsumeDelete ConsumeMode = "delete" // 成局后删除条目
)

type HubBroadcaster interface {
	BroadcastToPlayers(addrs []string, msg websocket.OutgoingMessage)
}

// runTimeout 一次队列处理的上限；运行不随调用方取消
const runTimeout = 2 * time.Minute

type Options struct {
	ConsumeMode ConsumeMode
	Now         func() time.Time
	NewID       func() string
}

type Service struct {
	repo Repo
	hub  HubBroadcaster
	opts Options
	runs singleflight.Group
}

// NewService hub 可以为 nil（不推送实时消息，只落库通知）
func NewService(repo Repo, opts Options, hub HubBroadcaster) *Service {
	if opts.ConsumeMode == "" {
		opts.ConsumeMode = ConsumeMark
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{repo: repo, hub: hub, opts: opts}
}

// 各存储的时间精度不同（Mongo 只有毫秒），统一截断，保证各后端排序一致
func (s *Service) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Millisecond)
}

// ProcessQueue 读取全部未处理条目，按兼容组 FIFO 两两配对并生成对局。
// 同一进程内重叠的调用共享同一次运行，第一个调用方断开不会中断其他人的运行。
// 出错时仍返回已提交的对局。
func (s *Service) ProcessQueue(ctx context.Context) (*RunResult, error) {
	v, err, shared := s.runs.Do("process", func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
		defer cancel()
		return s.processQueue(runCtx)
	})
	if shared {
		utils.Log.Debug("joined in-flight queue run")
	}
	res, _ := v.(*RunResult)
	if res == nil {
		res = &RunResult{MatchesCreated: []MatchSummary{}}
	}
	return res, err
}

func (s *Service) processQueue(ctx context.Context) (res *RunResult, err error) {
	start := time.Now()
	res = &RunResult{MatchesCreated: []MatchSummary{}}
	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = KindOf(err).String()
		}
		runsTotal.WithLabelValues(outcome).Inc()
	}()

	entries, err := s.repo.Pending(ctx)
	if err != nil {
		utils.Log.Error("load pending queue entries", "err", err)
		return res, &Error{Kind: KindStoreUnavailable, Op: "matchmaker.pending", Err: err}
	}
	queueDepth.Set(float64(len(entries)))
	if len(entries) == 0 {
		return res, nil
	}

	keys, groups := groupEntries(entries)
	consumed := make(map[string]struct{}, len(entries))

	for _, key := range keys {
		group := groups[key]
		// next 弹出组内最老的、本轮还没用过的条目
		next := func() *QueueEntry {
			for len(group) > 0 {
				e := group[0]
				group = group[1:]
				if _, dup := consumed[e.ID]; dup {
					utils.Log.Warn("skip entry already consumed in this run", "entry", e.ID, "lobby", e.LobbyID)
					continue
				}
				return e
			}
			return nil
		}

		for {
			a := next()
			if a == nil {
				break
			}
			b := next()
			if b == nil {
				// 奇数个，最后一个留到下次
				break
			}

			match, err := s.pair(ctx, key, a, b)
			if errors.Is(err, ErrAlreadyClaimed) {
				claimConflicts.Inc()
				utils.Log.Warn("pair skipped, entry claimed by another run",
					"group", key.String(), "lobbyA", a.LobbyID, "lobbyB", b.LobbyID)
				// 只丢了一方时，另一方放回组首，和下一个条目配对
				aFree, bFree := s.stillPending(ctx, a), s.stillPending(ctx, b)
				switch {
				case aFree && !bFree:
					consumed[b.ID] = struct{}{}
					group = append([]*QueueEntry{a}, group...)
				case bFree && !aFree:
					consumed[a.ID] = struct{}{}
					group = append([]*QueueEntry{b}, group...)
				default:
					consumed[a.ID] = struct{}{}
					consumed[b.ID] = struct{}{}
				}
				continue
			}
			consumed[a.ID] = struct{}{}
			consumed[b.ID] = struct{}{}
			if err != nil {
				utils.Log.Error("pairing failed, aborting run",
					"group", key.String(), "lobbyA", a.LobbyID, "lobbyB", b.LobbyID,
					"committed", len(res.MatchesCreated), "err", err)
				return res, &Error{Kind: KindPartialPairing, Op: "matchmaker.pair", Err: err}
			}

			matchesCreated.Inc()
			entriesProcessed.Add(2)
			res.MatchesCreated = append(res.MatchesCreated, match.Summary())
			res.ProcessedCount += 2
			s.notify(ctx, match)
		}
	}

	utils.Log.Info("queue processed",
		"pending", len(entries),
		"matches", len(res.MatchesCreated),
		"processed", res.ProcessedCount,
		"took", time.Since(start))
	return res, nil
}

// stillPending 条目是否仍未被处理（占用冲突后判断是哪一方被抢走）
func (s *Service) stillPending(ctx context.Context, e *QueueEntry) bool {
	cur, err := s.repo.PendingByLobby(ctx, e.LobbyID)
	return err == nil && cur.ID == e.ID
}

// pair 先原子占用两个条目，再写对局；写入失败则归还占用。
// 占用成功后不再响应取消，否则两个条目会停在 processed 却没有对局
func (s *Service) pair(ctx context.Context, key GroupKey, a, b *QueueEntry) (*Match, error) {
	if err := s.repo.Claim(ctx, a.ID, b.ID); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	match := buildMatch(s.opts.NewID(), key, a, b, s.now())
	if err := s.repo.SaveMatch(ctx, match); err != nil {
		if rerr := s.repo.Release(ctx, a.ID, b.ID); rerr != nil {
			utils.Log.Error("release claim after failed match insert", "entries", []string{a.ID, b.ID}, "err", rerr)
		}
		return nil, fmt.Errorf("save match: %w", err)
	}

	if s.opts.ConsumeMode == ConsumeDelete {
		if err := s.repo.Delete(ctx, a.ID, b.ID); err != nil {
			// 条目已是 processed，不会再被配对，留着也无害
			utils.Log.Warn("delete consumed entries", "match", match.ID, "err", err)
		}
	}
	return match, nil
}

func buildMatch(id string, key GroupKey, a, b *QueueEntry, now time.Time) *Match {
	players := make([]MatchPlayer, 0, len(a.Members)+len(b.Members))
	for _, m := range a.Members {
		players = append(players, MatchPlayer{Member: m, LobbyID: a.LobbyID})
	}
	for _, m := range b.Members {
		players = append(players, MatchPlayer{Member: m, LobbyID: b.LobbyID})
	}
	return &Match{
		ID:        id,
		LobbyA:    a.LobbyID,
		LobbyB:    b.LobbyID,
		Players:   players,
		GameType:  key.GameType,
		TeamSize:  key.TeamSize,
		Platform:  key.Platform,
		Mode:      key.Mode,
		Status:    MatchPending,
		CreatedAt: now,
	}
}

// notify 给两个大厅的每个成员落一条通知并推送 match_found；失败只记日志，对局已提交
func (s *Service) notify(ctx context.Context, match *Match) {
	recipients := make([]string, 0, len(match.Players))
	seen := make(map[string]struct{}, len(match.Players))
	for _, p := range match.Players {
		id := NormalizeMemberID(p.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}

	now := s.now()
	for _, id := range recipients {
		n := &Notification{
			ID:          s.opts.NewID(),
			RecipientID: id,
			Type:        NotificationMatchFound,
			MatchID:     match.ID,
			Title:       "Match found",
			Message:     fmt.Sprintf("Your lobby has been matched for %s (%s).", match.GameType, match.Mode),
			CreatedAt:   now,
		}
		if err := s.repo.SaveNotification(ctx, n); err != nil {
			utils.Log.Error("save notification", "match", match.ID, "recipient", id, "err", err)
		}
	}

	if s.hub != nil {
		s.hub.BroadcastToPlayers(recipients, websocket.OutgoingMessage{
			Event: NotificationMatchFound,
			Data:  match.Summary(),
		})
	}
}

// NormalizeMemberID 钱包地址统一成 EIP-55 校验和格式，与登录签发的 JWT sub 一致；其他 id 只去空白
func NormalizeMemberID(id string) string {
	id = strings.TrimSpace(id)
	if common.IsHexAddress(id) {
		return common.HexToAddress(id).Hex()
	}
	return id
}

// Enqueue 房主把大厅放入匹配队列
func (s *Service) Enqueue(ctx context.Context, ownerID string, req EnqueueRequest) (*QueueEntry, error) {
	req.LobbyID = strings.TrimSpace(req.LobbyID)
	if req.LobbyID == "" {
		return nil, ErrInvalidLobby
	}
	if len(req.Members) == 0 {
		return nil, ErrEmptyLobby
	}
	if req.TeamSize < 0 {
		return nil, ErrInvalidTeamSize
	}
	if req.TeamSize > 0 && len(req.Members) > req.TeamSize {
		return nil, ErrLobbyTooLarge
	}
	ownerID = NormalizeMemberID(ownerID)
	isMember := ownerID == ""
	members := make([]Member, len(req.Members))
	for i, m := range req.Members {
		m.ID = NormalizeMemberID(m.ID)
		if m.ID == "" {
			return nil, ErrInvalidMember
		}
		if strings.EqualFold(m.ID, ownerID) {
			isMember = true
		}
		members[i] = m
	}
	if !isMember {
		return nil, ErrNotLobbyOwner
	}

	e := &QueueEntry{
		ID:        s.opts.NewID(),
		LobbyID:   req.LobbyID,
		OwnerID:   ownerID,
		Members:   members,
		GameType:  req.GameType,
		TeamSize:  req.TeamSize,
		Platform:  req.Platform,
		Mode:      req.Mode,
		CreatedAt: s.now(),
	}
	if err := s.repo.Enqueue(ctx, e); err != nil {
		return nil, err
	}
	utils.Log.Info("lobby queued", "lobby", e.LobbyID, "group", KeyOf(e).String(), "members", len(e.Members))
	return e, nil
}

// Cancel 只有房主能取消；已被配对的大厅返回 ErrNotFound
func (s *Service) Cancel(ctx context.Context, ownerID, lobbyID string) error {
	e, err := s.repo.PendingByLobby(ctx, lobbyID)
	if err != nil {
		return err
	}
	if ownerID != "" && !strings.EqualFold(e.OwnerID, NormalizeMemberID(ownerID)) {
		return ErrNotLobbyOwner
	}
	if err := s.repo.Cancel(ctx, lobbyID); err != nil {
		return err
	}
	utils.Log.Info("lobby left queue", "lobby", lobbyID)
	return nil
}

func (s *Service) QueueStatus(ctx context.Context, lobbyID string) (*QueueEntry, error) {
	return s.repo.PendingByLobby(ctx, lobbyID)
}

func (s *Service) Match(ctx context.Context, id string) (*Match, error) {
	return s.repo.GetMatch(ctx, id)
}

func (s *Service) Notifications(ctx context.Context, memberID string, limit int) ([]*Notification, error) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	return s.repo.Notifications(ctx, NormalizeMemberID(memberID), limit)
}

func (s *Service) MarkRead(ctx context.Context, memberID, id string) error {
	return s.repo.MarkRead(ctx, NormalizeMemberID(memberID), id)
}
