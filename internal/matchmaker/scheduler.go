package matchmaker

import (
	"StakeArena/internal/utils"
	"context"
	"time"
)

type queueProcessor interface {
	ProcessQueue(ctx context.Context) (*RunResult, error)
}

// Scheduler 定时触发队列处理，与 /matchmaking/process 共用同一个 Service
type Scheduler struct {
	proc     queueProcessor
	interval time.Duration
}

func NewScheduler(proc queueProcessor, interval time.Duration) *Scheduler {
	return &Scheduler{proc: proc, interval: interval}
}

// Run 启动后立即跑一次，然后按 interval 执行，ctx 取消时返回
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	utils.Log.Info("matchmaking scheduler started", "interval", s.interval)

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			utils.Log.Info("matchmaking scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.proc.ProcessQueue(ctx)
	if err == nil {
		return
	}
	committed := 0
	if res != nil {
		committed = len(res.MatchesCreated)
	}
	utils.Log.Error("scheduled queue run failed", "kind", KindOf(err), "committed", committed, "err", err)
}
