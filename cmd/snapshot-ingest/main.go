// 快照导入工具：把单个快照文件作为一轮采集写入存储，并输出近一小时的物种统计
// 用法：snapshot-ingest <snapshot.json> <lat> <lng>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"pogomap/internal/app"
	"pogomap/internal/config"
	"pogomap/internal/ingest"
	"pogomap/internal/logger"
	"pogomap/internal/migrate"
)

func main() {
	cfg, err := config.Load()
	l := logger.Setup(cfg.Log)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	if len(os.Args) != 4 {
		l.Error("usage", "want", "snapshot-ingest <snapshot.json> <lat> <lng>")
		os.Exit(2)
	}
	lat, err1 := strconv.ParseFloat(os.Args[2], 64)
	lng, err2 := strconv.ParseFloat(os.Args[3], 64)
	if err := errors.Join(err1, err2); err != nil {
		l.Error("bad_origin", "err", err)
		os.Exit(2)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		l.Error("open_error", "err", err)
		os.Exit(1)
	}
	snap, err := ingest.DecodeSnapshot(f)
	_ = f.Close()
	if err != nil {
		l.Error("decode_error", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		var inc *migrate.IncompatibleError
		if errors.As(err, &inc) {
			l.Error("schema_incompatible", "stored", inc.Stored, "supported", inc.Supported)
		} else {
			l.Error("startup_error", "err", err)
		}
		os.Exit(1)
	}
	defer a.Close()

	c, err := a.Ingester.Ingest(ctx, snap, orb.Point{lng, lat})
	if err != nil {
		l.Error("ingest_error", "err", err, "pokemon", c.Pokemon, "pokestops", c.Pokestops, "gyms", c.Gyms)
		a.Close()
		os.Exit(1)
	}
	sum, err := a.Query.Seen(ctx, time.Hour)
	if err != nil {
		l.Error("seen_error", "err", err)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)
}
