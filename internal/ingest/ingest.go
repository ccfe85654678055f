package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"pogomap/internal/config"
	"pogomap/internal/logger"
	"pogomap/internal/metrics"
	"pogomap/internal/store"
)

// Counts：本轮各类实体的写入行数，失败时为已提交部分
type Counts struct {
	Pokemon   int
	Pokestops int
	Gyms      int
	Scanned   int
}

// Ingester：单轮采集入口，可被多个扫描协程并发调用
// 约束：不跨实体类型开启事务，各类别独立提交；同一快照重复写入结果不变
type Ingester struct {
	parser     *Parser
	store      *store.Store
	kinds      config.Parse
	purgeHours int
	now        func() time.Time
}

func NewIngester(p *Parser, st *store.Store, kinds config.Parse, cleanup config.Cleanup) *Ingester {
	return &Ingester{parser: p, store: st, kinds: kinds, purgeHours: cleanup.PurgeHours, now: time.Now}
}

// Ingest：解析 → 确认连接 → 按类别 UPSERT → 扫描记录 → 清理
func (in *Ingester) Ingest(ctx context.Context, snap *Snapshot, origin orb.Point) (Counts, error) {
	start := time.Now()
	l := logger.L().With("cycle", uuid.NewString())
	var c Counts

	parsed, err := in.parser.Parse(snap, origin)
	if err != nil {
		metrics.ParseErrorsTotal.Inc()
		in.finish("parse_error", start)
		l.Error("ingest_parse_error", "err", err)
		return c, err
	}
	if err := in.store.Acquire(ctx); err != nil {
		in.finish("store_error", start)
		return c, fmt.Errorf("acquire storage: %w", err)
	}

	fail := func(kind string, err error) (Counts, error) {
		in.finish("store_error", start)
		l.Error("ingest_store_error", "kind", kind, "err", err,
			"pokemon", c.Pokemon, "pokestops", c.Pokestops, "gyms", c.Gyms)
		return c, err
	}
	if in.kinds.Pokemon && len(parsed.Pokemon) > 0 {
		if c.Pokemon, err = in.store.UpsertPokemon(ctx, parsed.Pokemon); err != nil {
			return fail("pokemon", err)
		}
	}
	if in.kinds.Pokestops && len(parsed.Pokestops) > 0 {
		if c.Pokestops, err = in.store.UpsertPokestops(ctx, parsed.Pokestops); err != nil {
			return fail("pokestop", err)
		}
	}
	if in.kinds.Gyms && len(parsed.Gyms) > 0 {
		if c.Gyms, err = in.store.UpsertGyms(ctx, parsed.Gyms); err != nil {
			return fail("gym", err)
		}
	}
	if c.Scanned, err = in.store.UpsertScanned(ctx, parsed.Scanned); err != nil {
		return fail("scannedlocation", err)
	}
	if _, err := in.store.Clean(ctx, in.now(), in.purgeHours); err != nil {
		return fail("cleanup", err)
	}

	in.finish("ok", start)
	l.Info("ingest_upserted", "pokemon", c.Pokemon, "pokestops", c.Pokestops, "gyms", c.Gyms,
		"duration_ms", time.Since(start).Milliseconds())
	return c, nil
}

func (in *Ingester) finish(status string, start time.Time) {
	metrics.CyclesTotal.WithLabelValues(status).Inc()
	metrics.CycleDurationMs.Observe(float64(time.Since(start).Milliseconds()))
}

// IsMalformed：错误是否来自快照本身，调用方据此决定跳过而非重试
func IsMalformed(err error) bool { return errors.Is(err, ErrMalformedSnapshot) }
