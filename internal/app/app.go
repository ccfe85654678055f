// 包 app：进程装配。按配置打开存储、校验 schema、构建通知出口与采集/查询组件
package app

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"pogomap/internal/config"
	"pogomap/internal/ingest"
	"pogomap/internal/logger"
	"pogomap/internal/migrate"
	"pogomap/internal/query"
	"pogomap/internal/store"
	"pogomap/internal/utils"
	"pogomap/internal/webhook"
)

type App struct {
	Config    config.Config
	Store     *store.Store
	Ingester  *ingest.Ingester
	Query     *query.Service
	Scheduler *ingest.Scheduler

	closers []func()
}

// Build：任一致命错误（配置、schema 不兼容、连接失败）直接返回，调用方终止进程
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	l := logger.L()
	a := &App{Config: cfg}
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, func() { _ = st.Close() })
	if err := st.Acquire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	l.Info("db_open_ok", "backend", st.Dialect().Name)

	res, err := migrate.Run(ctx, st.DB(), st.Dialect())
	if err != nil {
		a.Close()
		return nil, err
	}
	l.Info("schema_ready", "from", res.From, "to", res.To, "fresh", res.Fresh, "migrated", res.Migrated)

	sink := a.buildSink(ctx)
	parser := ingest.NewParser(cfg.Parse, cfg.Webhook.UpdatesOnly, sink)
	a.Ingester = ingest.NewIngester(parser, st, cfg.Parse, cfg.Cleanup)

	species, err := loadSpecies(cfg.Species)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Query = query.New(st, species, query.TransformFor(cfg.China))

	if cfg.Cleanup.Cron != "" {
		sched, err := ingest.NewScheduler(ctx, st, cfg.Cleanup)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Scheduler = sched
	}
	return a, nil
}

// buildSink：HTTP 回调与 Redis 频道可同时启用；均未配置时丢弃事件
func (a *App) buildSink(ctx context.Context) webhook.Sink {
	l := logger.L()
	var sinks webhook.Multi
	if len(a.Config.Webhook.URLs) > 0 {
		d := webhook.NewDispatcher(a.Config.Webhook, nil)
		sinks = append(sinks, d)
		a.closers = append([]func(){d.Close}, a.closers...)
		l.Info("webhook_enabled", "urls", len(a.Config.Webhook.URLs))
	}
	if rdb := utils.OpenRedis(a.Config.Redis); rdb != nil {
		if err := utils.PingRedis(ctx, rdb); err == nil {
			l.Info("redis_ping_ok")
		}
		p := webhook.NewRedisPublisher(rdb, a.Config.Redis.Channel, a.Config.Webhook)
		sinks = append(sinks, p)
		a.closers = append([]func(){p.Close, func() { _ = rdb.Close() }}, a.closers...)
	} else {
		l.Info("redis_disabled")
	}
	if len(sinks) == 0 {
		return webhook.Nop{}
	}
	return sinks
}

func loadSpecies(path string) (query.Species, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.L().Warn("species_missing", "path", path)
		return query.StaticSpecies{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return query.LoadSpecies(f)
}

// Close：先停出口与调度，最后关闭数据库
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Scheduler = nil
	}
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}
