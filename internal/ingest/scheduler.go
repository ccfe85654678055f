package ingest

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pogomap/internal/config"
	"pogomap/internal/logger"
	"pogomap/internal/store"
)

// Scheduler：无扫描写入时仍按 CLEANUP_CRON 执行保留期清理
// 约束：表达式支持秒字段与 @every 描述符；与轮次末尾的清理可并发
type Scheduler struct {
	cron       *cron.Cron
	store      *store.Store
	purgeHours int
	baseCtx    context.Context
}

func NewScheduler(ctx context.Context, st *store.Store, cfg config.Cleanup) (*Scheduler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Scheduler{cron: cron.New(cron.WithSeconds()), store: st, purgeHours: cfg.PurgeHours, baseCtx: ctx}
	if _, err := s.cron.AddFunc(cfg.Cron, s.run); err != nil {
		return nil, &config.Error{Key: "CLEANUP_CRON", Value: cfg.Cron}
	}
	return s, nil
}

func (s *Scheduler) run() {
	c, err := s.store.Clean(s.baseCtx, time.Now(), s.purgeHours)
	if err != nil {
		logger.L().Error("cleanup_error", "err", err)
		return
	}
	logger.L().Info("cleanup_tick", "scanned", c.Scanned, "pokemon", c.Pokemon)
}

func (s *Scheduler) Start() {
	logger.L().Info("cleanup_scheduler_started")
	s.cron.Start()
}

// Stop：等待正在执行的清理结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.L().Info("cleanup_scheduler_stopped")
}
